// Package notify decides which reminder and nudge emails are due and delivers them
// at most once per occasion, kind and day.
//
// The decision (ShouldSend) is a pure function of an occasion, the user's purchases
// and the day. The Dispatcher wraps it with the effects: loading data, sending email
// and persisting the sent-date markers.
//
// Two overlapping passes can both observe a marker as unset before either writes it,
// which sends a duplicate email. That is accepted; callers needing a stronger
// guarantee hold a run lock around Run (see package distlock).
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"giftwise-api/internal/email"
	"giftwise-api/internal/events"
	"giftwise-api/internal/features"
	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
	"giftwise-api/internal/tracing"
)

// ErrRepositoryUnavailable is returned when the pass cannot start because the
// user list could not be read.
var ErrRepositoryUnavailable = errors.New("notify: repository unavailable")

// Repository is the data access the dispatcher needs.
type Repository interface {
	GetAllUsers(ctx context.Context) ([]models.User, error)
	GetOccasions(ctx context.Context, userID string) ([]models.Occasion, error)
	GetPurchases(ctx context.Context, userID string) ([]models.Purchase, error)
	// UpdateOccasion writes the non-nil marker fields and reports whether a row changed.
	UpdateOccasion(ctx context.Context, id string, upd models.OccasionUpdate) (bool, error)
}

const (
	DefaultConcurrency = 4
	DefaultSendTimeout = 15 * time.Second
	DefaultRepoTimeout = 10 * time.Second
)

// Options tunes a Dispatcher. Zero values take the defaults.
type Options struct {
	Concurrency int
	SendTimeout time.Duration
	RepoTimeout time.Duration
	AppURL      string
	Flags       *features.Manager
	Events      *events.Manager
}

// Dispatcher runs notification passes.
type Dispatcher struct {
	repo   Repository
	sender email.Sender
	log    *logger.Logger
	opts   Options
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(repo Repository, sender email.Sender, log *logger.Logger, opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.RepoTimeout <= 0 {
		opts.RepoTimeout = DefaultRepoTimeout
	}
	if opts.AppURL == "" {
		opts.AppURL = DefaultAppURL
	}
	return &Dispatcher{
		repo:   repo,
		sender: sender,
		log:    log.With("component", "dispatcher"),
		opts:   opts,
	}
}

// tally collects counters from concurrent user workers.
type tally struct {
	usersScanned   atomic.Int64
	usersFailed    atomic.Int64
	evaluated      atomic.Int64
	skipped        atomic.Int64
	reminders      atomic.Int64
	nudges         atomic.Int64
	sendFailures   atomic.Int64
	markerFailures atomic.Int64
}

func (t *tally) summary(s *models.RunSummary) {
	s.UsersScanned = int(t.usersScanned.Load())
	s.UsersFailed = int(t.usersFailed.Load())
	s.OccasionsEvaluated = int(t.evaluated.Load())
	s.OccasionsSkipped = int(t.skipped.Load())
	s.RemindersSent = int(t.reminders.Load())
	s.NudgesSent = int(t.nudges.Load())
	s.SendFailures = int(t.sendFailures.Load())
	s.MarkerFailures = int(t.markerFailures.Load())
	s.Failures = s.UsersFailed + s.SendFailures
}

// Run performs one pass for today over every user with an email address.
//
// Only a failure to list users aborts the pass. Per-user read failures, send
// failures and marker write failures are logged, counted and skipped.
func (d *Dispatcher) Run(ctx context.Context, today civil.Date) (summary models.RunSummary, err error) {
	summary = models.RunSummary{
		RunID:     uuid.New().String(),
		Date:      today.String(),
		StartedAt: time.Now().UTC(),
	}
	log := d.log.With("run_id", summary.RunID, "date", summary.Date)

	ctx, span := tracing.Start(ctx, "notify.Run", attribute.String("run_id", summary.RunID), attribute.String("date", summary.Date))
	defer func() { tracing.Finish(span, err) }()

	usersCtx, cancel := context.WithTimeout(ctx, d.opts.RepoTimeout)
	users, err := d.repo.GetAllUsers(usersCtx)
	cancel()
	if err != nil {
		log.Error("failed to load users, aborting run", "error", err)
		summary.FinishedAt = time.Now().UTC()
		return summary, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}

	log.Info("notification run started", "users", len(users))

	var t tally
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, user := range users {
		if user.Email == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d.processUser(ctx, log, summary.RunID, user, today, &t)
			return nil
		})
	}
	_ = g.Wait()

	t.summary(&summary)
	summary.FinishedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.Int("reminders_sent", summary.RemindersSent),
		attribute.Int("nudges_sent", summary.NudgesSent),
		attribute.Int("failures", summary.Failures),
	)
	log.Info("notification run finished",
		"users_scanned", summary.UsersScanned,
		"reminders_sent", summary.RemindersSent,
		"nudges_sent", summary.NudgesSent,
		"send_failures", summary.SendFailures,
		"marker_failures", summary.MarkerFailures,
		"users_failed", summary.UsersFailed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String(),
	)
	d.opts.Events.PublishRunCompleted(ctx, summary)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("notification run interrupted: %w", err)
	}
	return summary, nil
}

func (d *Dispatcher) processUser(ctx context.Context, log *logger.Logger, runID string, user models.User, today civil.Date, t *tally) {
	log = log.With("user_id", user.ID)
	t.usersScanned.Add(1)

	readCtx, cancel := context.WithTimeout(ctx, d.opts.RepoTimeout)
	defer cancel()

	occasions, err := d.repo.GetOccasions(readCtx, user.ID)
	if err != nil {
		log.Error("failed to load occasions, skipping user", "error", err)
		t.usersFailed.Add(1)
		return
	}
	purchases, err := d.repo.GetPurchases(readCtx, user.ID)
	if err != nil {
		log.Error("failed to load purchases, skipping user", "error", err)
		t.usersFailed.Add(1)
		return
	}

	log.Debug("user loaded", "occasions", len(occasions), "purchases", len(purchases))

	for _, o := range occasions {
		if ctx.Err() != nil {
			return
		}
		if o.Date == nil {
			log.Info("skipping occasion without date", "occasion_id", o.ID)
			t.skipped.Add(1)
			continue
		}
		t.evaluated.Add(1)

		for _, kind := range Kinds {
			if !d.opts.Flags.IsEnabled(kind.flag()) {
				continue
			}
			if !ShouldSend(kind, o, purchases, today) {
				continue
			}
			d.deliver(ctx, log, runID, user, o, kind, today, t)
		}
	}
}

// deliver sends one notification and records its marker. The marker is written
// only after the sender accepted the message.
func (d *Dispatcher) deliver(ctx context.Context, log *logger.Logger, runID string, user models.User, o models.Occasion, kind Kind, today civil.Date, t *tally) {
	log = log.With("occasion_id", o.ID, "kind", string(kind))
	ev := events.NotificationData{
		RunID:      runID,
		UserID:     user.ID,
		OccasionID: o.ID,
		Kind:       string(kind),
		Date:       today.String(),
	}

	msg, err := BuildMessage(kind, user.Email, o, d.opts.AppURL)
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		err = d.sender.Send(sendCtx, msg)
		cancel()
	}
	if err != nil {
		log.Error("notification send failed", "to_email", user.Email, "error", err)
		t.sendFailures.Add(1)
		ev.Err = err
		d.opts.Events.PublishNotification(ctx, events.EventNotificationFailed, ev)
		return
	}

	if kind == KindNudge {
		t.nudges.Add(1)
	} else {
		t.reminders.Add(1)
	}
	d.opts.Events.PublishNotification(ctx, kind.sentEvent(), ev)

	// The email is out; write the marker even if the pass is being cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.RepoTimeout)
	defer cancel()

	updated, err := d.repo.UpdateOccasion(writeCtx, o.ID, kind.update(today))
	switch {
	case err != nil:
		log.Warn("marker update failed after send, next run may send a duplicate", "error", err)
		t.markerFailures.Add(1)
		ev.Err = err
		d.opts.Events.PublishNotification(ctx, events.EventNotificationFailed, ev)
	case !updated:
		log.Warn("no rows updated for sent-date marker")
		t.markerFailures.Add(1)
	default:
		log.Info("notification sent")
	}
}
