package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftwise-api/internal/models"
)

// fakeClock is a settable clock safe for concurrent reads.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

var ideas = []models.Suggestion{
	{Name: "Tea sampler", Reason: "She loves trying new teas."},
	{Name: "Pottery class", Reason: "A hands-on experience."},
}

// backends runs the same behavioural checks against both implementations.
func backends(t *testing.T, clock *fakeClock) map[string]SuggestionCache {
	client, _ := setupTestRedis(t)
	return map[string]SuggestionCache{
		"memory": NewInMemoryCache(time.Hour, clock.Now),
		"redis":  NewRedisCache(client, time.Hour, clock.Now, nil),
	}
}

func TestSuggestionCache_RoundTrip(t *testing.T) {
	for name, c := range backends(t, newFakeClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok := c.Get(ctx, "gift-ideas:abc")
			assert.False(t, ok)

			require.NoError(t, c.Put(ctx, "gift-ideas:abc", ideas))

			got, ok := c.Get(ctx, "gift-ideas:abc")
			require.True(t, ok)
			assert.Equal(t, ideas, got)
		})
	}
}

func TestSuggestionCache_ExpiresFromPutTime(t *testing.T) {
	clock := newFakeClock()
	for name, c := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "gift-ideas:" + name

			require.NoError(t, c.Put(ctx, key, ideas))

			clock.Advance(59 * time.Minute)
			_, ok := c.Get(ctx, key)
			assert.True(t, ok, "fresh just before the TTL")

			// Overwriting restarts the TTL.
			require.NoError(t, c.Put(ctx, key, ideas[:1]))
			clock.Advance(59 * time.Minute)
			got, ok := c.Get(ctx, key)
			require.True(t, ok)
			assert.Len(t, got, 1)

			clock.Advance(time.Minute)
			_, ok = c.Get(ctx, key)
			assert.False(t, ok, "expired at exactly the TTL")
		})
	}
}

func TestInMemoryCache_EvictsExpiredOnLookup(t *testing.T) {
	clock := newFakeClock()
	c := NewInMemoryCache(time.Minute, clock.Now)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", ideas))
	require.NoError(t, c.Put(ctx, "b", ideas))
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 2, c.Len(), "no background eviction")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestInMemoryCache_ReturnsCopies(t *testing.T) {
	c := NewInMemoryCache(time.Hour, nil)
	ctx := context.Background()

	in := []models.Suggestion{{Name: "Book", Reason: "Reads a lot."}}
	require.NoError(t, c.Put(ctx, "k", in))
	in[0].Name = "changed"

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "Book", got[0].Name)

	got[0].Name = "changed again"
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, "Book", again[0].Name)
}

func TestInMemoryCache_Concurrent(t *testing.T) {
	c := NewInMemoryCache(time.Hour, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			for j := 0; j < 100; j++ {
				_ = c.Put(ctx, key, ideas)
				_, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Len())
}

func TestRedisCache_ExpiredEntryIsDeleted(t *testing.T) {
	client, mr := setupTestRedis(t)
	clock := newFakeClock()
	c := NewRedisCache(client, time.Hour, clock.Now, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "gift-ideas:x", ideas))
	assert.True(t, mr.Exists("gift-ideas:x"))
	assert.Equal(t, time.Hour, mr.TTL("gift-ideas:x"))

	clock.Advance(2 * time.Hour)
	_, ok := c.Get(ctx, "gift-ideas:x")
	assert.False(t, ok)
	assert.False(t, mr.Exists("gift-ideas:x"))
}

func TestRedisCache_FailuresAreMisses(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCache(client, time.Hour, nil, nil)
	ctx := context.Background()

	require.NoError(t, mr.Set("gift-ideas:bad", "not json"))
	_, ok := c.Get(ctx, "gift-ideas:bad")
	assert.False(t, ok)

	mr.Close()
	_, ok = c.Get(ctx, "gift-ideas:down")
	assert.False(t, ok)
	assert.Error(t, c.Put(ctx, "gift-ideas:down", ideas))
}

func TestFingerprint(t *testing.T) {
	base := models.SuggestionRequest{
		Recipient:     "Alice",
		Relationship:  "sister",
		Occasion:      "birthday",
		Preferences:   "tea, hiking",
		PastPurchases: []string{"mug", "scarf"},
	}

	fp := Fingerprint(base)
	assert.True(t, strings.HasPrefix(fp, KeyPrefix))
	assert.Len(t, fp, len(KeyPrefix)+64)
	assert.Equal(t, fp, Fingerprint(base), "deterministic")

	forced := base
	forced.ForceRefresh = true
	assert.Equal(t, fp, Fingerprint(forced), "force refresh is not part of the key")

	reordered := base
	reordered.PastPurchases = []string{"scarf", "mug"}
	assert.NotEqual(t, fp, Fingerprint(reordered), "past purchase order is significant")

	changed := base
	changed.OccasionNotes = "turning 30"
	assert.NotEqual(t, fp, Fingerprint(changed))

	noPast := base
	noPast.PastPurchases = nil
	emptyPast := base
	emptyPast.PastPurchases = []string{}
	assert.Equal(t, Fingerprint(noPast), Fingerprint(emptyPast))
}

func TestFingerprint_FieldsDoNotBleed(t *testing.T) {
	a := models.SuggestionRequest{Recipient: "ab", Relationship: "c"}
	b := models.SuggestionRequest{Recipient: "a", Relationship: "bc"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
