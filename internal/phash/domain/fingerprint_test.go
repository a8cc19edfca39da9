package domain

import (
	"strings"
	"testing"
)

func TestDistance_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		a, b Fingerprint
		want int
	}{
		{"identical", "aaaa", "aaaa", 0},
		{"one low bit", "aaab", "aaaa", 1},
		{"nibble f vs 0", "f000", "0000", 4},
		{"upper and lower case", "ABCD", "abcd", 0},
		{"empty", "", "", 0},
		{"length mismatch", "aaaa", "aaa", InfiniteDistance},
		{"non hex symbol", "aaag", "aaaa", InfiniteDistance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance(%q,%q)=%d want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDistance_IdentityAndSymmetry(t *testing.T) {
	fps := []Fingerprint{
		"0000000000000000",
		"ffffffffffffffff",
		"0123456789abcdef",
		"deadbeefcafef00d",
		Fingerprint(strings.Repeat("a5", 32)),
	}
	for _, a := range fps {
		if d := Distance(a, a); d != 0 {
			t.Errorf("Distance(%q,%q)=%d want 0", a, a, d)
		}
		for _, b := range fps {
			if Distance(a, b) != Distance(b, a) {
				t.Errorf("Distance not symmetric for %q,%q", a, b)
			}
		}
	}
}

func TestMatches_Threshold(t *testing.T) {
	base := Fingerprint(strings.Repeat("0", 64))
	// 11 bits differ: still a match
	near := Fingerprint("ff70" + strings.Repeat("0", 60))
	// 16 bits differ: unrelated
	far := Fingerprint("ffff" + strings.Repeat("0", 60))

	if d := Distance(base, near); d != 11 {
		t.Fatalf("near distance=%d want 11", d)
	}
	if !Matches(base, near, DefaultMatchThreshold) {
		t.Errorf("expected near fingerprint to match")
	}
	if Matches(base, far, DefaultMatchThreshold) {
		t.Errorf("expected far fingerprint not to match")
	}
	if Matches(base, base[:63], DefaultMatchThreshold) {
		t.Errorf("length mismatch must never match")
	}
}

func TestFingerprint_ValidAndNormalize(t *testing.T) {
	if got := NormalizeFingerprint("  ABcd \n"); got != "abcd" {
		t.Errorf("NormalizeFingerprint=%q want abcd", got)
	}
	if !Fingerprint("0a9F").Valid() {
		t.Errorf("expected valid")
	}
	if Fingerprint("").Valid() || Fingerprint("xyz").Valid() {
		t.Errorf("expected invalid")
	}
}
