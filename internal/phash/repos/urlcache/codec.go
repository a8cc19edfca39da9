package urlcache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// entry is one url → fingerprint pair in insertion order.
type entry struct {
	url  string
	hash string
}

// encodeEntries writes entries as a JSON object whose member order is the
// insertion order, oldest first. encoding/json sorts map keys, so the object
// is assembled by hand.
func encodeEntries(entries []entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.url)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.hash)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeEntries reads a JSON object of url → fingerprint, preserving member
// order. Non-string values are skipped. A null or empty payload is empty.
func decodeEntries(data []byte) ([]entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode url cache: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode url cache: expected object, got %v", tok)
	}

	var out []entry
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode url cache: %w", err)
		}
		key, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode url cache: %w", err)
		}
		var hash string
		if err := json.Unmarshal(raw, &hash); err != nil || hash == "" {
			continue
		}
		out = append(out, entry{url: key, hash: hash})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode url cache: %w", err)
	}
	return out, nil
}
