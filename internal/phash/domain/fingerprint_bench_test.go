package domain

import (
	"strings"
	"testing"
)

func BenchmarkDistance(b *testing.B) {
	a := Fingerprint(strings.Repeat("0123456789abcdef", 4))
	c := Fingerprint(strings.Repeat("fedcba9876543210", 4))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Distance(a, c)
	}
}

func BenchmarkDistance_MixedCase(b *testing.B) {
	a := Fingerprint(strings.Repeat("0123456789ABCDEF", 4))
	c := Fingerprint(strings.Repeat("0123456789abcdef", 4))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Distance(a, c)
	}
}
