package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftwise-api/internal/cache"
	"giftwise-api/internal/events"
	"giftwise-api/internal/features"
	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
	"giftwise-api/internal/validation"
)

type fakeGenerator struct {
	calls atomic.Int32
	err   error
	delay time.Duration
	gate  chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req models.SuggestionRequest) ([]models.Suggestion, error) {
	n := g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return []models.Suggestion{{Name: "Idea", Reason: "call " + string(rune('0'+n))}}, nil
}

func setupService(t *testing.T, gen *fakeGenerator, opts Options) (*SuggestionService, *cache.InMemoryCache) {
	t.Helper()
	c := cache.NewInMemoryCache(time.Hour, nil)
	return NewSuggestionService(c, gen, logger.NewNop(), opts), c
}

var request = models.SuggestionRequest{Recipient: "Alice", Relationship: "sister", Occasion: "birthday"}

func TestSuggest_CachesResult(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := setupService(t, gen, Options{})
	ctx := context.Background()

	first, err := svc.Suggest(ctx, request)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Suggest(ctx, request)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Suggestions, second.Suggestions)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestSuggest_SanitizedRequestsShareEntry(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := setupService(t, gen, Options{})
	ctx := context.Background()

	_, err := svc.Suggest(ctx, request)
	require.NoError(t, err)

	padded := request
	padded.Recipient = "  Alice  "
	res, err := svc.Suggest(ctx, padded)
	require.NoError(t, err)
	assert.True(t, res.Cached)
}

func TestSuggest_ForceRefreshRegeneratesAndStores(t *testing.T) {
	gen := &fakeGenerator{}
	svc, c := setupService(t, gen, Options{})
	ctx := context.Background()

	first, err := svc.Suggest(ctx, request)
	require.NoError(t, err)

	forced := request
	forced.ForceRefresh = true
	refreshed, err := svc.Suggest(ctx, forced)
	require.NoError(t, err)
	assert.False(t, refreshed.Cached)
	assert.NotEqual(t, first.Suggestions, refreshed.Suggestions)

	cached, ok := c.Get(ctx, first.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, refreshed.Suggestions, cached, "forced result replaces the cached one")
}

func TestSuggest_CacheFlagDisabled(t *testing.T) {
	gen := &fakeGenerator{}
	flags := features.NewDefaultManager(true, true, false)
	svc, c := setupService(t, gen, Options{Flags: flags})
	ctx := context.Background()

	_, err := svc.Suggest(ctx, request)
	require.NoError(t, err)
	_, err = svc.Suggest(ctx, request)
	require.NoError(t, err)

	assert.Equal(t, int32(2), gen.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestSuggest_ValidationError(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := setupService(t, gen, Options{})

	_, err := svc.Suggest(context.Background(), models.SuggestionRequest{Occasion: "birthday"})
	var verr *validation.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestSuggest_GeneratorFailureIsNotCached(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream 500")}
	svc, c := setupService(t, gen, Options{})

	_, err := svc.Suggest(context.Background(), request)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 0, c.Len())
}

func TestSuggest_Timeout(t *testing.T) {
	gen := &fakeGenerator{delay: time.Second}
	svc, _ := setupService(t, gen, Options{Timeout: 20 * time.Millisecond})

	_, err := svc.Suggest(context.Background(), request)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSuggest_ConcurrentIdenticalRequestsShareGeneration(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	svc, _ := setupService(t, gen, Options{})

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Suggest(context.Background(), request)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	// Let the callers pile up behind the first generation.
	require.Eventually(t, func() bool { return gen.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gen.gate)
	wg.Wait()

	assert.Equal(t, int32(1), gen.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0].Suggestions, r.Suggestions)
	}
}

func TestSuggest_PublishesEvent(t *testing.T) {
	bus := events.NewManager(true)
	var got atomic.Value
	bus.Subscribe(events.EventSuggestionGenerated, func(ctx context.Context, e events.Event) error {
		got.Store(e.Data)
		return nil
	})

	svc, _ := setupService(t, &fakeGenerator{}, Options{Events: bus})
	res, err := svc.Suggest(context.Background(), request)
	require.NoError(t, err)
	bus.Wait()

	data, ok := got.Load().(events.SuggestionGeneratedData)
	require.True(t, ok)
	assert.Equal(t, res.Fingerprint, data.Fingerprint)
	assert.Equal(t, 1, data.Count)
}
