package meter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator suppresses repeat dispatch of meter events that share an
// identifier. FirstSeen reports whether the identifier has not been dispatched
// within the TTL, claiming it atomically.
type Deduplicator interface {
	FirstSeen(ctx context.Context, identifier string) (bool, error)
}

// InMemoryDeduplicator remembers identifiers in process memory.
type InMemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewInMemoryDeduplicator(ttl time.Duration) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

func (d *InMemoryDeduplicator) FirstSeen(ctx context.Context, identifier string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if expiry, ok := d.seen[identifier]; ok && now.Before(expiry) {
		return false, nil
	}

	// Opportunistic sweep keeps the map from growing unbounded.
	for id, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, id)
		}
	}

	d.seen[identifier] = now.Add(d.ttl)
	return true, nil
}

// RedisDeduplicator shares dispatched identifiers across metering instances
// via SETNX. On Redis errors it fails open: double billing of one event is
// preferable to dropping usage whenever Redis blips.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(redisURL string, ttl time.Duration) (*RedisDeduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisDeduplicator{client: client, ttl: ttl}, nil
}

// NewRedisDeduplicatorWithClient wraps an existing client. Used in tests.
func NewRedisDeduplicatorWithClient(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) FirstSeen(ctx context.Context, identifier string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "llmmeter:dedup:"+identifier, 1, d.ttl).Result()
	if err != nil {
		slog.Warn("dedup check failed, allowing dispatch", "identifier", identifier, "error", err)
		return true, err
	}
	return ok, nil
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
