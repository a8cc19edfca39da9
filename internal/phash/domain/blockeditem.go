package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BlockedItem is one blocklist entry.
//
// Two persisted shapes exist and both are read forever:
//   - legacy: a bare JSON string holding the fingerprint
//   - current: {"hash": "...", "url": "...", "timestamp": <epoch ms>}
//
// Legacy entries keep their shape when the list is written back.
type BlockedItem struct {
	Fingerprint Fingerprint
	SourceURL   string    // empty when unknown
	CreatedAt   time.Time // zero when unknown
	legacy      bool
}

// NewBlockedItem builds a current-shape entry.
func NewBlockedItem(fp Fingerprint, sourceURL string, createdAt time.Time) BlockedItem {
	return BlockedItem{Fingerprint: fp, SourceURL: sourceURL, CreatedAt: createdAt}
}

// NewLegacyBlockedItem builds an entry that serializes as a bare string.
func NewLegacyBlockedItem(fp Fingerprint) BlockedItem {
	return BlockedItem{Fingerprint: fp, legacy: true}
}

// IsLegacy reports whether the entry was read from (or will be written as)
// the bare-string form.
func (b BlockedItem) IsLegacy() bool { return b.legacy }

type blockedItemJSON struct {
	Hash      string  `json:"hash"`
	URL       *string `json:"url,omitempty"`
	Timestamp *int64  `json:"timestamp,omitempty"`
}

func (b BlockedItem) MarshalJSON() ([]byte, error) {
	if b.legacy {
		return json.Marshal(string(b.Fingerprint))
	}
	out := blockedItemJSON{Hash: string(b.Fingerprint)}
	if b.SourceURL != "" {
		u := b.SourceURL
		out.URL = &u
	}
	if !b.CreatedAt.IsZero() {
		ms := b.CreatedAt.UnixMilli()
		out.Timestamp = &ms
	}
	return json.Marshal(out)
}

func (b *BlockedItem) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = NewLegacyBlockedItem(NormalizeFingerprint(s))
		return nil
	}
	var in blockedItemJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("blocked item: %w", err)
	}
	item := BlockedItem{Fingerprint: NormalizeFingerprint(in.Hash)}
	if in.URL != nil {
		item.SourceURL = *in.URL
	}
	if in.Timestamp != nil && *in.Timestamp > 0 {
		item.CreatedAt = time.UnixMilli(*in.Timestamp)
	}
	*b = item
	return nil
}

// DecodeBlocklist parses a persisted blocklist. Entries with an empty
// fingerprint are dropped; an empty or null payload is an empty list.
func DecodeBlocklist(data []byte) ([]BlockedItem, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []BlockedItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode blocklist: %w", err)
	}
	items := raw[:0]
	for _, it := range raw {
		if it.Fingerprint == "" {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// EncodeBlocklist serializes a blocklist in its persisted shape.
func EncodeBlocklist(items []BlockedItem) ([]byte, error) {
	if items == nil {
		items = []BlockedItem{}
	}
	return json.Marshal(items)
}
