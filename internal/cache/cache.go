package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
)

// DefaultTTL is how long generated suggestions are served from cache.
const DefaultTTL = time.Hour

// SuggestionCache stores generated suggestions by request fingerprint.
type SuggestionCache interface {
	// Get returns the suggestions stored under fp while they are fresh.
	// An expired entry is removed and reported as a miss.
	Get(ctx context.Context, fp string) ([]models.Suggestion, bool)
	// Put stores suggestions under fp, replacing any previous entry.
	Put(ctx context.Context, fp string, suggestions []models.Suggestion) error
}

// Entry is a cached generation result.
type Entry struct {
	Suggestions []models.Suggestion `json:"suggestions"`
	CreatedAt   time.Time           `json:"created_at"`
}

func (e Entry) fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) < ttl
}

type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]Entry
	ttl  time.Duration
	now  func() time.Time
}

// NewInMemoryCache creates a process-local cache. A nil clock uses time.Now.
func NewInMemoryCache(ttl time.Duration, now func() time.Time) *InMemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &InMemoryCache{
		data: make(map[string]Entry),
		ttl:  ttl,
		now:  now,
	}
}

func (m *InMemoryCache) Get(ctx context.Context, fp string) ([]models.Suggestion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[fp]
	if !exists {
		return nil, false
	}

	if !entry.fresh(m.now(), m.ttl) {
		delete(m.data, fp)
		return nil, false
	}

	return cloneSuggestions(entry.Suggestions), true
}

func (m *InMemoryCache) Put(ctx context.Context, fp string, suggestions []models.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[fp] = Entry{
		Suggestions: cloneSuggestions(suggestions),
		CreatedAt:   m.now(),
	}

	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *InMemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func cloneSuggestions(s []models.Suggestion) []models.Suggestion {
	if s == nil {
		return nil
	}
	out := make([]models.Suggestion, len(s))
	copy(out, s)
	return out
}

// RedisCache shares suggestions across instances. Entries carry their creation
// time so the freshness rule matches the in-memory cache; the Redis key TTL
// only reclaims space.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	log    *logger.Logger
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr string, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func NewRedisCache(client *redis.Client, ttl time.Duration, now func() time.Time, log *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		now:    now,
		log:    log.With("component", "suggestion_cache"),
	}
}

// Get treats Redis failures as misses so generation can proceed.
func (r *RedisCache) Get(ctx context.Context, fp string) ([]models.Suggestion, bool) {
	val, err := r.client.Get(ctx, fp).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.log.Warn("cache read failed", "error", err)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		r.log.Warn("discarding undecodable cache entry", "error", err)
		r.client.Del(ctx, fp)
		return nil, false
	}

	if !entry.fresh(r.now(), r.ttl) {
		if err := r.client.Del(ctx, fp).Err(); err != nil {
			r.log.Warn("failed to evict expired cache entry", "error", err)
		}
		return nil, false
	}

	return entry.Suggestions, true
}

func (r *RedisCache) Put(ctx context.Context, fp string, suggestions []models.Suggestion) error {
	data, err := json.Marshal(Entry{Suggestions: suggestions, CreatedAt: r.now()})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, fp, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
