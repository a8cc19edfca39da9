package bloom

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist"
)

const (
	// DefaultFPRate is the target false-positive rate of a fresh index.
	DefaultFPRate = 0.001
	minCapacity   = 1024
)

// index wraps a bits-and-blooms filter keyed by exact fingerprint.
type index struct {
	mu sync.RWMutex
	bf *bitsbloom.BloomFilter
}

func (i *index) Add(fp domain.Fingerprint) {
	i.mu.Lock()
	i.bf.AddString(string(fp))
	i.mu.Unlock()
}

func (i *index) MightContain(fp domain.Fingerprint) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bf.TestString(string(fp))
}

// factory sizes filters from the expected entry count. Capacity is doubled
// to leave headroom for entries added before the next rebuild.
type factory struct {
	fpRate float64
}

// NewFactory returns an IndexFactory targeting fpRate (DefaultFPRate if <= 0).
func NewFactory(fpRate float64) blocklist.IndexFactory {
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFPRate
	}
	return factory{fpRate: fpRate}
}

func (f factory) New(capacity uint) blocklist.ExactIndex {
	n := 2 * capacity
	if n < minCapacity {
		n = minCapacity
	}
	return &index{bf: bitsbloom.NewWithEstimates(n, f.fpRate)}
}

var _ blocklist.ExactIndex = (*index)(nil)
