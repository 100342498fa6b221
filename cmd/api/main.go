package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"giftwise-api/internal/cache"
	"giftwise-api/internal/config"
	"giftwise-api/internal/database"
	"giftwise-api/internal/distlock"
	"giftwise-api/internal/email"
	"giftwise-api/internal/events"
	"giftwise-api/internal/features"
	"giftwise-api/internal/generator"
	"giftwise-api/internal/handler"
	"giftwise-api/internal/logger"
	"giftwise-api/internal/middleware"
	"giftwise-api/internal/notify"
	"giftwise-api/internal/scheduler"
	"giftwise-api/internal/service"
	"giftwise-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to a JSON config file")
	runOnce := flag.Bool("run-once", false, "Run one notification pass for today and exit")
	seedFile := flag.String("seed", "", "JSON file of development rows to load before starting")
	enableTLS := flag.Bool("tls", false, "Enable HTTPS/TLS")
	certFile := flag.String("cert", "", "TLS certificate file path (required if -tls is set)")
	keyFile := flag.String("key", "", "TLS private key file path (required if -tls is set)")
	flag.Parse()

	if *enableTLS && (*certFile == "" || *keyFile == "") {
		fmt.Fprintln(os.Stderr, "-cert and -key are required with -tls")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level, cfg.Log.RedactPII)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	opts := runOptions{runOnce: *runOnce, seedFile: *seedFile, tls: *enableTLS, certFile: *certFile, keyFile: *keyFile}
	if err := run(cfg, log, opts); err != nil {
		log.Error("giftwise-api exited with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

type runOptions struct {
	runOnce  bool
	seedFile string
	tls      bool
	certFile string
	keyFile  string
}

func run(cfg *config.Config, log *logger.Logger, opts runOptions) error {
	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Initialize database
	dsn := cfg.Database.Path
	if cfg.Database.Driver == database.DriverPostgres {
		dsn = cfg.Database.URL
	}
	db, err := database.NewDB(cfg.Database.Driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	db.SetLogger(log)

	pingCtx, cancel := context.WithTimeout(ctx, config.Seconds(cfg.Notify.RepoTimeout))
	err = db.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}

	if opts.seedFile != "" {
		if err := seedDatabase(db, opts.seedFile, log); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Suggest.CacheBackend == "redis" || cfg.Lock.Backend == distlock.BackendRedis {
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	flags := features.NewDefaultManager(cfg.Notify.RemindersEnabled, cfg.Notify.NudgesEnabled, cfg.Suggest.CacheEnabled)
	log.Info("feature flags", "flags", flags.Snapshot())
	bus := events.NewManager(cfg.Notify.EventsEnabled)
	subscribeAuditLog(bus, log)
	defer bus.Shutdown()

	sender, err := email.NewSender(ctx, email.Config{
		Provider:     cfg.Email.Provider,
		From:         cfg.Email.From,
		Region:       cfg.Email.Region,
		AccessKey:    cfg.Email.AccessKey,
		SecretKey:    cfg.Email.SecretKey,
		ResendAPIKey: cfg.Email.ResendAPIKey,
		ResendURL:    cfg.Email.ResendURL,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize email sender: %w", err)
	}

	dispatcher := notify.NewDispatcher(db, sender, log, notify.Options{
		Concurrency: cfg.Notify.Concurrency,
		SendTimeout: config.Seconds(cfg.Notify.SendTimeout),
		RepoTimeout: config.Seconds(cfg.Notify.RepoTimeout),
		AppURL:      cfg.Notify.AppURL,
		Flags:       flags,
		Events:      bus,
	})

	runLock, err := distlock.New(cfg.Lock.Backend, redisClient, db.Conn(), cfg.Lock.Key, config.Seconds(cfg.Lock.TTL))
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	trigger, err := scheduler.New(dispatcher, log, scheduler.Options{
		Schedule: cfg.Notify.Schedule,
		Location: loc,
		Lock:     runLock,
	})
	if err != nil {
		return err
	}

	if opts.runOnce {
		summary, err := trigger.RunNow(ctx)
		if err != nil {
			return err
		}
		bus.Wait()
		log.Info("notification pass complete", "reminders_sent", summary.RemindersSent, "nudges_sent", summary.NudgesSent, "failures", summary.Failures)
		return nil
	}

	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize suggestion generator: %w", err)
	}

	var suggestionCache cache.SuggestionCache
	ttl := config.Seconds(cfg.Suggest.CacheTTL)
	if cfg.Suggest.CacheBackend == "redis" {
		suggestionCache = cache.NewRedisCache(redisClient, ttl, nil, log)
	} else {
		suggestionCache = cache.NewInMemoryCache(ttl, nil)
	}

	suggestions := service.NewSuggestionService(suggestionCache, gen, log, service.Options{
		Timeout: config.Seconds(cfg.Suggest.Timeout),
		Flags:   flags,
		Events:  bus,
	})

	// Initialize handlers
	h := handler.NewHandlerWithOptions(trigger, suggestions, log, handler.NewHandlerOptions{
		MaxBodySize:  cfg.Security.MaxRequestBodySize,
		TriggerToken: cfg.Security.TriggerToken,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.Rate, config.Seconds(cfg.RateLimit.Window))
		defer rateLimiter.Stop()
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/trigger-reminders", h.TriggerReminders)
		r.Group(func(r chi.Router) {
			if rateLimiter != nil {
				r.Use(middleware.RateLimitMiddleware(rateLimiter))
			}
			r.Post("/gift-ideas", h.GiftIdeas)
		})
	})

	if cfg.Notify.SchedulerEnabled {
		if err := trigger.Start(); err != nil {
			return err
		}
	}
	defer trigger.Stop()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if opts.tls {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server",
			"addr", addr,
			"database", cfg.Database.Driver,
			"email_provider", cfg.Email.Provider,
			"suggest_provider", cfg.Suggest.Provider,
			"cache_backend", cfg.Suggest.CacheBackend,
			"lock_backend", cfg.Lock.Backend,
			"tls", opts.tls,
		)
		var err error
		if opts.tls {
			err = server.ListenAndServeTLS(opts.certFile, opts.keyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigint:
		log.Info("shutting down server", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Cancel any pass first so a manual trigger request can answer before the server drains.
	trigger.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("error closing server", "error", err)
	}
	return nil
}

func seedDatabase(db *database.DB, path string, log *logger.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	data, err := database.LoadSeed(f)
	if err != nil {
		return err
	}
	if err := db.Seed(data); err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	log.Info("database seeded",
		"users", len(data.Users),
		"contacts", len(data.Contacts),
		"occasions", len(data.Occasions),
		"gifts", len(data.Gifts),
		"purchases", len(data.Purchases),
	)
	return nil
}

func newGenerator(ctx context.Context, cfg *config.Config) (generator.Generator, error) {
	switch cfg.Suggest.Provider {
	case "bedrock":
		return generator.NewBedrockGenerator(ctx, cfg.Suggest.BedrockRegion, cfg.Suggest.Model)
	default:
		return generator.NewOpenAIGenerator(cfg.Suggest.OpenAIAPIKey, cfg.Suggest.OpenAIBaseURL, cfg.Suggest.Model, nil)
	}
}

// subscribeAuditLog records every notification and generation as a structured log line.
func subscribeAuditLog(bus *events.Manager, log *logger.Logger) {
	audit := log.With("component", "audit")

	bus.OnError(func(e events.Event, err error) {
		audit.Warn("event handler failed", "event", string(e.Type), "error", err)
	})

	notification := func(ctx context.Context, e events.Event) error {
		d, ok := e.Data.(events.NotificationData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		kv := []interface{}{"event", string(e.Type), "run_id", d.RunID, "user_id", d.UserID, "occasion_id", d.OccasionID, "kind", d.Kind, "date", d.Date}
		if d.Err != nil {
			audit.Warn("notification", append(kv, "error", d.Err)...)
			return nil
		}
		audit.Info("notification", kv...)
		return nil
	}
	bus.Subscribe(events.EventReminderSent, notification)
	bus.Subscribe(events.EventNudgeSent, notification)
	bus.Subscribe(events.EventNotificationFailed, notification)

	bus.Subscribe(events.EventRunCompleted, func(ctx context.Context, e events.Event) error {
		d, ok := e.Data.(events.RunCompletedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		audit.Info("run completed", "run_id", d.Summary.RunID, "date", d.Summary.Date, "failures", d.Summary.Failures)
		return nil
	})

	bus.Subscribe(events.EventSuggestionGenerated, func(ctx context.Context, e events.Event) error {
		d, ok := e.Data.(events.SuggestionGeneratedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		audit.Info("suggestions generated", "fingerprint", d.Fingerprint, "count", d.Count, "forced", d.Forced)
		return nil
	})
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
