package blocklist

import "github.com/user1303836/x-gif-blocker/internal/phash/domain"

// DecisionCache memoizes IsBlocked outcomes per fingerprint. It is bounded
// and is emptied wholesale rather than trimmed when it fills up.
type DecisionCache interface {
	Get(fp domain.Fingerprint) (blocked bool, ok bool)
	Put(fp domain.Fingerprint, blocked bool)
	Len() int
	Purge()
	Stats() CacheStats
}

// ExactIndex answers "is this exact fingerprint possibly present". It
// fronts the exact-hit path of IsBlocked and the duplicate check of Import.
// False positives are allowed, false negatives are not.
type ExactIndex interface {
	Add(fp domain.Fingerprint)
	MightContain(fp domain.Fingerprint) bool
}

// IndexFactory builds a fresh ExactIndex sized for capacity entries.
type IndexFactory interface {
	New(capacity uint) ExactIndex
}
