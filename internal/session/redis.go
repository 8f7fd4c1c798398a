package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "penthu:session"

// RedisStore keeps notifications in Redis so every instance behind the
// load balancer sees the same mailbox. Take uses GETDEL, which is atomic
// on the server.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id + ":notification"
}

func (s *RedisStore) Put(ctx context.Context, id string, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encode notification: %v", ErrStoreUnavailable, err)
	}
	if err := s.client.Set(ctx, s.key(id), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, id string) (Notification, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Notification{}, false, nil
	}
	if err != nil {
		return Notification{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		// GETDEL already removed the corrupt value, the next Take sees an empty slot
		return Notification{}, false, fmt.Errorf("%w: decode notification: %v", ErrStoreUnavailable, err)
	}
	return n, true, nil
}

// Ping reports whether Redis is reachable, used as a readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
