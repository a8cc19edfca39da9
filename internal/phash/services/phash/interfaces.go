package phash

import (
	"context"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist"
)

// FingerprintCache resolves URLs to fingerprints, computing on a miss.
type FingerprintCache interface {
	Lookup(sourceURL string) (domain.Fingerprint, bool)
	GetOrCompute(ctx context.Context, sourceURL string) (domain.Fingerprint, error)
	Len() int
}

// Matcher decides block membership and owns blocklist mutations.
type Matcher interface {
	IsBlocked(fp domain.Fingerprint) bool
	Add(ctx context.Context, fp domain.Fingerprint, sourceURL string) (bool, error)
	Remove(ctx context.Context, fp domain.Fingerprint) (int, error)
	MuteUser(ctx context.Context, username string) (bool, error)
	IsUserMuted(username string) bool
	MuteOnBlock() bool
	Stats() blocklist.Stats
}

// ResourceMonitor exposes the compute resource lifecycle state.
type ResourceMonitor interface {
	State() domain.ResourceState
}
