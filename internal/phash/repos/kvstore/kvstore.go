// Package kvstore defines the persistent key-value contract the matching
// service is built on, plus an in-memory implementation.
package kvstore

import (
	"context"
	"sort"
	"sync"
)

// Well-known keys. The names match the layout already on disk for existing
// users, so they must not change.
const (
	KeyURLHashCache  = "urlHashCache"
	KeyBlockedHashes = "blockedHashes"
	KeyBlockedUsers  = "blockedUsers"
	KeyMuteOnBlock   = "muteOnBlock"
)

// ChangeFunc is invoked after a successful Set with the keys that changed.
type ChangeFunc func(keys []string)

// Store is an asynchronous key-value store. Get omits keys that are not
// present. There are no transactional guarantees across keys.
type Store interface {
	Get(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	// Subscribe registers fn for change notifications and returns a function
	// that removes it.
	Subscribe(fn ChangeFunc) (unsubscribe func())
	Close() error
}

// Notifier fans change notifications out to subscribers. Backends embed it.
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]ChangeFunc
}

func (n *Notifier) Subscribe(fn ChangeFunc) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]ChangeFunc)
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Notify calls every subscriber with the sorted keys of values.
func (n *Notifier) Notify(values map[string][]byte) {
	if len(values) == 0 {
		return
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	n.NotifyKeys(keys)
}

// NotifyKeys calls every subscriber with keys, sorted. Backends use it for
// changes reported by another writer, where only the key names are known.
func (n *Notifier) NotifyKeys(keys []string) {
	if len(keys) == 0 {
		return
	}
	keys = append([]string(nil), keys...)
	sort.Strings(keys)

	n.mu.RLock()
	subs := make([]ChangeFunc, 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(keys)
	}
}

// memoryStore keeps values in a map. Values are copied in and out.
type memoryStore struct {
	Notifier
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (m *memoryStore) Set(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	for k, v := range values {
		m.data[k] = append([]byte(nil), v...)
	}
	m.mu.Unlock()
	m.Notify(values)
	return nil
}

func (m *memoryStore) Close() error { return nil }
