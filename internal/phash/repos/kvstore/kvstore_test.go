package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	got, err := s.Get(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	got, err = s.Get(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	v := []byte("abc")
	require.NoError(t, s.Set(ctx, map[string][]byte{"k": v}))
	v[0] = 'z'

	got, _ := s.Get(ctx, []string{"k"})
	assert.Equal(t, "abc", string(got["k"]))
	got["k"][0] = 'y'

	again, _ := s.Get(ctx, []string{"k"})
	assert.Equal(t, "abc", string(again["k"]))
}

func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var seen [][]string
	unsub := s.Subscribe(func(keys []string) { seen = append(seen, keys) })

	require.NoError(t, s.Set(ctx, map[string][]byte{"b": nil, "a": nil}))
	require.Len(t, seen, 1)
	assert.Equal(t, []string{"a", "b"}, seen[0])

	unsub()
	require.NoError(t, s.Set(ctx, map[string][]byte{"c": nil}))
	assert.Len(t, seen, 1)
}

func TestNotifier_EmptyIsSilent(t *testing.T) {
	var n Notifier
	called := false
	n.Subscribe(func([]string) { called = true })
	n.Notify(nil)
	assert.False(t, called)
}

func TestNotifier_NotifyKeysSortsACopy(t *testing.T) {
	var n Notifier
	var seen []string
	n.Subscribe(func(keys []string) { seen = keys })

	keys := []string{"muteOnBlock", "blockedHashes"}
	n.NotifyKeys(keys)
	assert.Equal(t, []string{"blockedHashes", "muteOnBlock"}, seen)
	assert.Equal(t, []string{"muteOnBlock", "blockedHashes"}, keys, "caller slice untouched")

	seen = nil
	n.NotifyKeys(nil)
	assert.Nil(t, seen)
}
