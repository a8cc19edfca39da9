package blocklist_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist/bloom"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist/lru"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore"
)

// randomFingerprints returns n distinct 64-digit fingerprints.
func randomFingerprints(rng *rand.Rand, n int) []domain.Fingerprint {
	out := make([]domain.Fingerprint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Fingerprint(fmt.Sprintf("%016x%016x%016x%016x",
			rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64())))
	}
	return out
}

func buildRepo(b *testing.B, cacheSize int, entries []domain.Fingerprint) *blocklist.Repository {
	b.Helper()
	ctx := context.Background()
	items := make([]domain.BlockedItem, 0, len(entries))
	for _, fp := range entries {
		items = append(items, domain.NewLegacyBlockedItem(fp))
	}
	data, err := domain.EncodeBlocklist(items)
	if err != nil {
		b.Fatal(err)
	}
	store := kvstore.NewMemory()
	if err := store.Set(ctx, map[string][]byte{kvstore.KeyBlockedHashes: data}); err != nil {
		b.Fatal(err)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		b.Fatal(err)
	}
	repo, err := blocklist.New(blocklist.Options{Store: store, Cache: cache, Index: bloom.NewFactory(0.001)})
	if err != nil {
		b.Fatal(err)
	}
	if err := repo.Load(ctx); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(repo.Close)
	return repo
}

func BenchmarkIsBlocked_Miss(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	for _, size := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("blocklist=%d", size), func(b *testing.B) {
			repo := buildRepo(b, 0, randomFingerprints(rng, size))
			probes := randomFingerprints(rng, 256)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = repo.IsBlocked(probes[i%len(probes)])
			}
		})
	}
}

func BenchmarkIsBlocked_ExactHit(b *testing.B) {
	rng := rand.New(rand.NewSource(2))
	entries := randomFingerprints(rng, 1000)
	repo := buildRepo(b, 0, entries)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = repo.IsBlocked(entries[i%len(entries)])
	}
}

func BenchmarkIsBlocked_Cached(b *testing.B) {
	rng := rand.New(rand.NewSource(3))
	repo := buildRepo(b, 1000, randomFingerprints(rng, 1000))
	probes := randomFingerprints(rng, 64)
	for _, p := range probes {
		_ = repo.IsBlocked(p)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = repo.IsBlocked(probes[i%len(probes)])
	}
}
