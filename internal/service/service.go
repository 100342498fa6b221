package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"giftwise-api/internal/cache"
	"giftwise-api/internal/events"
	"giftwise-api/internal/features"
	"giftwise-api/internal/generator"
	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
	"giftwise-api/internal/tracing"
	"giftwise-api/internal/validation"
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 30 * time.Second

// ErrGenerationFailed wraps any generator failure.
var ErrGenerationFailed = errors.New("failed to generate gift ideas")

// Options tunes a SuggestionService. Zero values take the defaults.
type Options struct {
	Timeout time.Duration
	Flags   *features.Manager
	Events  *events.Manager
}

// Result is the outcome of a suggestion lookup.
type Result struct {
	Suggestions []models.Suggestion
	Cached      bool
	Fingerprint string
}

// SuggestionService serves gift ideas, generating them on a cache miss.
type SuggestionService struct {
	cache  cache.SuggestionCache
	gen    generator.Generator
	log    *logger.Logger
	opts   Options
	flight singleflight.Group
}

// NewSuggestionService creates a new service instance.
func NewSuggestionService(c cache.SuggestionCache, gen generator.Generator, log *logger.Logger, opts Options) *SuggestionService {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &SuggestionService{
		cache: c,
		gen:   gen,
		log:   log.With("component", "suggestions"),
		opts:  opts,
	}
}

// Suggest validates req and returns ideas for it. A fresh cached result is
// returned unless req.ForceRefresh is set; a forced refresh still stores its
// result. Identical requests in flight share one generation.
func (s *SuggestionService) Suggest(ctx context.Context, req models.SuggestionRequest) (res Result, err error) {
	ctx, span := tracing.Start(ctx, "suggestions.Suggest")
	defer func() { tracing.Finish(span, err) }()

	req, err = validation.ValidateSuggestionRequest(req)
	if err != nil {
		return Result{}, err
	}

	res.Fingerprint = cache.Fingerprint(req)
	useCache := s.opts.Flags.IsEnabled(features.SuggestionCache)
	span.SetAttributes(
		attribute.Bool("force_refresh", req.ForceRefresh),
		attribute.Bool("cache_enabled", useCache),
	)

	if useCache && !req.ForceRefresh {
		if ideas, ok := s.cache.Get(ctx, res.Fingerprint); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			res.Suggestions = ideas
			res.Cached = true
			return res, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	v, err, shared := s.flight.Do(res.Fingerprint, func() (interface{}, error) {
		// Detached from the first caller so its cancellation does not fail the others.
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()

		start := time.Now()
		ideas, err := s.gen.Generate(genCtx, req)
		if err != nil {
			return nil, err
		}
		s.log.Info("generated gift ideas", "count", len(ideas), "duration", time.Since(start).String())

		if useCache {
			if err := s.cache.Put(genCtx, res.Fingerprint, ideas); err != nil {
				s.log.Warn("failed to cache gift ideas", "error", err)
			}
		}
		s.opts.Events.PublishSuggestionGenerated(ctx, res.Fingerprint, len(ideas), req.ForceRefresh)
		return ideas, nil
	})
	if err != nil {
		s.log.Error("gift idea generation failed", "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if shared {
		s.log.Debug("joined in-flight generation")
	}

	res.Suggestions = v.([]models.Suggestion)
	return res, nil
}
