package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore"
)

const (
	defaultPrefix = "gifblock:"
	changesSuffix = "changes"

	connectTimeout = 2 * time.Second
	feedStopWait   = 2 * time.Second
)

// client is the subset of *redis.Client the store needs.
type client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	MSet(ctx context.Context, values ...interface{}) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Options configures the redis-backed store.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key and the change channel. Defaults to
	// "gifblock:".
	Prefix string
	Logger log.Logger
}

// changeEvent is published on the change channel after every Set.
type changeEvent struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// redisStore implements kvstore.Store with one redis string per key. Every
// Set is announced on <prefix>changes so stores in other processes sharing
// the same database notify their own subscribers.
type redisStore struct {
	kvstore.Notifier
	client client
	prefix string
	origin string
	logger log.Logger

	feed io.Closer
	done chan struct{}
}

// New connects to redis, verifies the connection with a ping and subscribes
// to the change channel before returning.
func New(opts Options) (kvstore.Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", domain.ErrStoreUnavailable, opts.Addr, err)
	}

	s := newWithClient(rdb, opts.Prefix, opts.Logger)
	ps := rdb.Subscribe(ctx, s.channel())
	// The first reply confirms the subscription, so no change published
	// after New returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis %s: subscribe: %v", domain.ErrStoreUnavailable, opts.Addr, err)
	}
	s.follow(ps.Channel(), ps)
	return s, nil
}

func newWithClient(c client, prefix string, logger log.Logger) *redisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &redisStore{
		client: c,
		prefix: prefix,
		origin: xid.New().String(),
		logger: log.Named(logger, "redis-store"),
	}
}

func (s *redisStore) channel() string { return s.prefix + changesSuffix }

// follow starts relaying change events from msgs. feed is closed by Close,
// which must also end msgs.
func (s *redisStore) follow(msgs <-chan *redis.Message, feed io.Closer) {
	s.feed = feed
	s.done = make(chan struct{})
	go s.watch(msgs)
}

func (s *redisStore) watch(msgs <-chan *redis.Message) {
	defer close(s.done)
	for msg := range msgs {
		var ev changeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Warn(map[string]any{"error": err, "channel": msg.Channel}, "Ignoring unreadable change event")
			continue
		}
		// Our own writes were already announced locally by Set.
		if ev.Origin == s.origin {
			continue
		}
		s.logger.Debug(map[string]any{"keys": ev.Keys, "origin": ev.Origin}, "External store change")
		s.NotifyKeys(ev.Keys)
	}
}

func (s *redisStore) Get(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	for i, v := range vals {
		if i >= len(keys) {
			break
		}
		switch tv := v.(type) {
		case string:
			out[keys[i]] = []byte(tv)
		case []byte:
			out[keys[i]] = append([]byte(nil), tv...)
		}
	}
	return out, nil
}

// Set writes values, notifies local subscribers and announces the changed
// keys to other processes. A failed announcement is logged; the write
// itself has succeeded by then.
func (s *redisStore) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	pairs := make([]interface{}, 0, 2*len(values))
	keys := make([]string, 0, len(values))
	for k, v := range values {
		pairs = append(pairs, s.prefix+k, v)
		keys = append(keys, k)
	}
	if err := s.client.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	s.Notify(values)

	payload, err := json.Marshal(changeEvent{Origin: s.origin, Keys: keys})
	if err == nil {
		err = s.client.Publish(ctx, s.channel(), payload).Err()
	}
	if err != nil {
		s.logger.Warn(map[string]any{"error": err, "keys": keys}, "Failed to announce store change")
	}
	return nil
}

func (s *redisStore) Close() error {
	if s.feed != nil {
		_ = s.feed.Close()
		select {
		case <-s.done:
		case <-time.After(feedStopWait):
			s.logger.Warn(nil, "Change feed did not stop")
		}
	}
	return s.client.Close()
}

var _ kvstore.Store = (*redisStore)(nil)
