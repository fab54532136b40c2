package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults for RedisStateStore.
const (
	DefaultRedisKeyPrefix = "evalubot:conversation:"
	DefaultStateTTL       = 24 * time.Hour
)

// RedisStateStore implements StateStore on Redis. Each state is one JSON
// value; Put uses WATCH/MULTI so concurrent writers across processes see
// ErrStateConflict instead of overwriting each other.
type RedisStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStateStore.
type RedisOption func(*RedisStateStore)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStateStore) { s.prefix = prefix }
}

// WithStateTTL sets how long an idle conversation is kept. Zero keeps it forever.
func WithStateTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStateStore) { s.ttl = ttl }
}

// NewRedisStateStore wraps an existing client.
func NewRedisStateStore(client *redis.Client, opts ...RedisOption) *RedisStateStore {
	s := &RedisStateStore{client: client, prefix: DefaultRedisKeyPrefix, ttl: DefaultStateTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStateStoreFromURL connects using a redis:// URL and pings the server.
func NewRedisStateStoreFromURL(ctx context.Context, url string, opts ...RedisOption) (*RedisStateStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("RedisStateStore connected", "addr", redisOpts.Addr, "db", redisOpts.DB)
	return NewRedisStateStore(client, opts...), nil
}

func (s *RedisStateStore) key(k string) string {
	return s.prefix + k
}

// Get retrieves the state for key.
func (s *RedisStateStore) Get(ctx context.Context, key string) (*ConversationState, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode conversation state: %w", err)
	}
	return &st, nil
}

// Put stores st when the stored version still matches.
func (s *RedisStateStore) Put(ctx context.Context, st *ConversationState) error {
	k := s.key(st.Key)
	next := st.Clone()
	next.Version = st.Version + 1
	next.UpdatedAt = time.Now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode conversation state: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored ConversationState
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("failed to decode conversation state: %w", err)
			}
			current = stored.Version
		}
		if current != st.Version {
			return ErrStateConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, s.ttl)
			return nil
		})
		return err
	}, k)

	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrStateConflict):
		slog.Warn("RedisStateStore.Put: version conflict", "key", st.Key, "version", st.Version)
		return ErrStateConflict
	case err != nil:
		return fmt.Errorf("failed to store conversation state: %w", err)
	}

	st.Version = next.Version
	st.CreatedAt = next.CreatedAt
	st.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete removes the state for key.
func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}

// Count scans the key namespace.
func (s *RedisStateStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count conversation states: %w", err)
	}
	return n, nil
}

// Close closes the underlying client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
