package bolt

import (
	"context"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore"
)

var bucketKV = []byte("kv")

const lockTimeout = 1 * time.Second

// ErrLocked is returned by New when another process holds the database.
// A bolt file has a single writer; a running service keeps it open.
var ErrLocked = errors.New("database is locked by another process")

// boltStore implements kvstore.Store on a single bbolt bucket.
type boltStore struct {
	kvstore.Notifier
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures the bucket exists.
func New(path string) (kvstore.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: lockTimeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrStoreUnavailable, path, ErrLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStoreUnavailable, path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init buckets: %v", domain.ErrStoreUnavailable, err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Get(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		for _, k := range keys {
			// values are only valid for the life of the transaction
			if v := b.Get([]byte(k)); v != nil {
				out[k] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *boltStore) Set(ctx context.Context, values map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		for k, v := range values {
			if v == nil {
				v = []byte{}
			}
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	s.Notify(values)
	return nil
}

var _ kvstore.Store = (*boltStore)(nil)
