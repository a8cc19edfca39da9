// Package blocklist owns the user's blocklist view and answers whether a
// fingerprint is blocked using approximate (Hamming distance) matching.
package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/clock"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/metrics"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore"
)

const reloadTimeout = 5 * time.Second

const (
	errStoreRequired   = "blocklist: store is required"
	errCacheRequired   = "blocklist: decision cache is required"
	errFactoryRequired = "blocklist: index factory is required"
	errInvalidFP       = "blocklist: invalid fingerprint %q"
	errImportDecode    = "blocklist: import: %w"
)

// Options configures a Repository.
type Options struct {
	Store     kvstore.Store
	Cache     DecisionCache
	Index     IndexFactory
	Clock     clock.Clock
	Logger    log.Logger
	Threshold int
}

// Repository is the block decision matcher plus the blocklist operations
// that mutate it. The persisted list is authoritative; the in-memory view
// is refreshed whenever the store reports a change to one of its keys.
type Repository struct {
	store     kvstore.Store
	cache     DecisionCache
	factory   IndexFactory
	clock     clock.Clock
	logger    log.Logger
	threshold int

	// writeMu serializes read-modify-write cycles against the store.
	writeMu sync.Mutex

	mu          sync.RWMutex
	items       []domain.BlockedItem
	index       ExactIndex // exact fingerprints of items
	users       []string
	muteOnBlock bool
	generation  uint64

	unsubscribe func()
}

// New builds a Repository. Call Load before serving decisions.
func New(opts Options) (*Repository, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf(errStoreRequired)
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf(errCacheRequired)
	}
	if opts.Index == nil {
		return nil, fmt.Errorf(errFactoryRequired)
	}
	if opts.Threshold <= 0 {
		opts.Threshold = domain.DefaultMatchThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	r := &Repository{
		store:     opts.Store,
		cache:     opts.Cache,
		factory:   opts.Index,
		clock:     opts.Clock,
		logger:    log.Named(opts.Logger, "blocklist"),
		threshold: opts.Threshold,
	}
	r.unsubscribe = r.store.Subscribe(r.onStoreChange)
	return r, nil
}

// Close stops listening for store changes.
func (r *Repository) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// Load reads the blocklist, muted users and settings from the store.
func (r *Repository) Load(ctx context.Context) error {
	return r.reload(ctx, []string{kvstore.KeyBlockedHashes, kvstore.KeyBlockedUsers, kvstore.KeyMuteOnBlock})
}

// IsBlocked reports whether fp is within the match threshold of any
// blocklist entry.
func (r *Repository) IsBlocked(fp domain.Fingerprint) bool {
	fp = domain.NormalizeFingerprint(string(fp))
	if blocked, ok := r.cache.Get(fp); ok {
		metrics.BlockDecisions.WithLabelValues(result(blocked)).Inc()
		return blocked
	}

	r.mu.RLock()
	items := r.items
	index := r.index
	gen := r.generation
	r.mu.RUnlock()

	// An exact entry is at distance zero; only a filter hit pays for the
	// exact check, and only a miss falls through to the Hamming scan.
	blocked := fp.Valid() && index != nil && index.MightContain(fp) && containsExact(items, fp)
	if !blocked {
		for _, it := range items {
			if domain.Matches(fp, it.Fingerprint, r.threshold) {
				blocked = true
				break
			}
		}
	}

	// Skip the cache write if the list changed while scanning, so a stale
	// decision is never cached after an invalidation.
	r.mu.RLock()
	if gen == r.generation {
		r.cache.Put(fp, blocked)
	}
	r.mu.RUnlock()

	metrics.BlockDecisions.WithLabelValues(result(blocked)).Inc()
	return blocked
}

// Add appends a blocklist entry unless an entry with the identical
// fingerprint already exists. Near duplicates are stored as new entries.
func (r *Repository) Add(ctx context.Context, fp domain.Fingerprint, sourceURL string) (bool, error) {
	fp = domain.NormalizeFingerprint(string(fp))
	if !fp.Valid() {
		return false, fmt.Errorf(errInvalidFP, fp)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	items, err := r.readItems(ctx)
	if err != nil {
		return false, err
	}
	if containsExact(items, fp) {
		return false, nil
	}
	items = append(items, domain.NewBlockedItem(fp, sourceURL, r.clock.Now()))
	if err := r.writeItems(ctx, items); err != nil {
		return false, err
	}
	r.logger.Info(map[string]any{"fingerprint": string(fp), "url": sourceURL}, "Fingerprint blocked")
	return true, nil
}

// Remove drops every entry whose fingerprint equals fp exactly.
func (r *Repository) Remove(ctx context.Context, fp domain.Fingerprint) (int, error) {
	fp = domain.NormalizeFingerprint(string(fp))

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	items, err := r.readItems(ctx)
	if err != nil {
		return 0, err
	}
	kept := slices.DeleteFunc(slices.Clone(items), func(it domain.BlockedItem) bool {
		return it.Fingerprint == fp
	})
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := r.writeItems(ctx, kept); err != nil {
		return 0, err
	}
	r.logger.Info(map[string]any{"fingerprint": string(fp), "removed": removed}, "Fingerprint unblocked")
	return removed, nil
}

// Import merges a JSON array of blocklist entries (legacy strings or
// objects). Entries whose fingerprint is already present, in the list or
// earlier in the same import, are skipped. It returns the number added.
func (r *Repository) Import(ctx context.Context, data []byte) (int, error) {
	incoming, err := domain.DecodeBlocklist(data)
	if err != nil {
		return 0, fmt.Errorf(errImportDecode, err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	items, err := r.readItems(ctx)
	if err != nil {
		return 0, err
	}
	// The filter screens out fingerprints that are certainly new so only
	// possible duplicates pay for the exact scan.
	idx := r.factory.New(uint(len(items) + len(incoming)))
	for _, it := range items {
		idx.Add(it.Fingerprint)
	}
	added := 0
	for _, it := range incoming {
		if !it.Fingerprint.Valid() {
			continue
		}
		if idx.MightContain(it.Fingerprint) && containsExact(items, it.Fingerprint) {
			continue
		}
		idx.Add(it.Fingerprint)
		items = append(items, it)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := r.writeItems(ctx, items); err != nil {
		return 0, err
	}
	r.logger.Info(map[string]any{"added": added, "total": len(items)}, "Blocklist imported")
	return added, nil
}

// Export returns the current blocklist in its persisted JSON shape.
func (r *Repository) Export() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.EncodeBlocklist(r.items)
}

// List returns a copy of the current blocklist, oldest first.
func (r *Repository) List() []domain.BlockedItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.items)
}

// Clear empties both the blocklist and the muted users.
func (r *Repository) Clear(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	empty, _ := domain.EncodeBlocklist(nil)
	if err := r.store.Set(ctx, map[string][]byte{
		kvstore.KeyBlockedHashes: empty,
		kvstore.KeyBlockedUsers:  []byte("[]"),
	}); err != nil {
		return err
	}
	r.logger.Info(nil, "Blocklist cleared")
	return nil
}

// MuteUser records username as muted. It returns false if already muted.
func (r *Repository) MuteUser(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	vals, err := r.store.Get(ctx, []string{kvstore.KeyBlockedUsers})
	if err != nil {
		return false, err
	}
	users := decodeUsers(vals[kvstore.KeyBlockedUsers])
	if slices.Contains(users, username) {
		return false, nil
	}
	users = append(users, username)
	data, err := json.Marshal(users)
	if err != nil {
		return false, err
	}
	if err := r.store.Set(ctx, map[string][]byte{kvstore.KeyBlockedUsers: data}); err != nil {
		return false, err
	}
	return true, nil
}

// IsUserMuted reports whether username is on the muted list.
func (r *Repository) IsUserMuted(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.users, strings.TrimSpace(username))
}

// MuteOnBlock reports the persisted "mute the author when blocking" setting.
func (r *Repository) MuteOnBlock() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.muteOnBlock
}

// SetMuteOnBlock persists the "mute the author when blocking" setting.
func (r *Repository) SetMuteOnBlock(ctx context.Context, on bool) error {
	data, _ := json.Marshal(on)
	return r.store.Set(ctx, map[string][]byte{kvstore.KeyMuteOnBlock: data})
}

// Stats returns a snapshot of the repository.
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	legacy := 0
	for _, it := range r.items {
		if it.IsLegacy() {
			legacy++
		}
	}
	return Stats{
		BlockedItems: len(r.items),
		LegacyItems:  legacy,
		MutedUsers:   len(r.users),
		MuteOnBlock:  r.muteOnBlock,
		Threshold:    r.threshold,
		Cache:        r.cache.Stats(),
	}
}

// onStoreChange refreshes the view when a key this repository owns changes,
// whether the write came from here or from another writer of the store.
func (r *Repository) onStoreChange(keys []string) {
	var mine []string
	for _, k := range keys {
		switch k {
		case kvstore.KeyBlockedHashes, kvstore.KeyBlockedUsers, kvstore.KeyMuteOnBlock:
			mine = append(mine, k)
		}
	}
	if len(mine) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := r.reload(ctx, mine); err != nil {
		r.logger.Warn(map[string]any{"error": err, "keys": mine}, "Blocklist reload failed")
	}
}

func (r *Repository) reload(ctx context.Context, keys []string) error {
	vals, err := r.store.Get(ctx, keys)
	if err != nil {
		return err
	}

	var (
		items     []domain.BlockedItem
		index     ExactIndex
		itemsSeen bool
	)
	if slices.Contains(keys, kvstore.KeyBlockedHashes) {
		itemsSeen = true
		items, err = domain.DecodeBlocklist(vals[kvstore.KeyBlockedHashes])
		if err != nil {
			return err
		}
		index = r.factory.New(uint(len(items)))
		for _, it := range items {
			index.Add(it.Fingerprint)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if itemsSeen {
		r.items = items
		r.index = index
		r.generation++
		r.cache.Purge()
		metrics.BlocklistSize.Set(float64(len(items)))
	}
	if slices.Contains(keys, kvstore.KeyBlockedUsers) {
		r.users = decodeUsers(vals[kvstore.KeyBlockedUsers])
	}
	if slices.Contains(keys, kvstore.KeyMuteOnBlock) {
		var on bool
		_ = json.Unmarshal(vals[kvstore.KeyMuteOnBlock], &on)
		r.muteOnBlock = on
	}
	return nil
}

func (r *Repository) readItems(ctx context.Context) ([]domain.BlockedItem, error) {
	vals, err := r.store.Get(ctx, []string{kvstore.KeyBlockedHashes})
	if err != nil {
		return nil, err
	}
	return domain.DecodeBlocklist(vals[kvstore.KeyBlockedHashes])
}

// writeItems persists items. The store's change notification drives the
// reload that swaps the view and purges the decision cache.
func (r *Repository) writeItems(ctx context.Context, items []domain.BlockedItem) error {
	data, err := domain.EncodeBlocklist(items)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, map[string][]byte{kvstore.KeyBlockedHashes: data})
}

// containsExact reports whether items holds fp verbatim.
func containsExact(items []domain.BlockedItem, fp domain.Fingerprint) bool {
	return slices.ContainsFunc(items, func(it domain.BlockedItem) bool { return it.Fingerprint == fp })
}

func decodeUsers(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

func result(blocked bool) string {
	if blocked {
		return "blocked"
	}
	return "allowed"
}
