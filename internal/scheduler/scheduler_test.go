package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftwise-api/internal/distlock"
	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
)

type fakeRunner struct {
	mu    sync.Mutex
	days  []civil.Date
	err   error
	block chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, today civil.Date) (models.RunSummary, error) {
	r.mu.Lock()
	r.days = append(r.days, today)
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.RunSummary{}, ctx.Err()
		}
	}
	if r.err != nil {
		return models.RunSummary{}, r.err
	}
	return models.RunSummary{RunID: "run-1", Date: today.String(), RemindersSent: 2}, nil
}

func (r *fakeRunner) calls() []civil.Date {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]civil.Date(nil), r.days...)
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&fakeRunner{}, logger.NewNop(), Options{Schedule: "every day"})
	assert.Error(t, err)
}

func TestRunNow_UsesZonedToday(t *testing.T) {
	sgt := time.FixedZone("SGT", 8*60*60)

	runner := &fakeRunner{}
	trig, err := New(runner, logger.NewNop(), Options{
		Location: sgt,
		Now:      fixedClock("2025-05-31T17:30:00Z"),
	})
	require.NoError(t, err)

	summary, err := trig.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", summary.Date)
	assert.Equal(t, []civil.Date{{Year: 2025, Month: time.June, Day: 1}}, runner.calls())
}

func TestRunNow_PropagatesFatalError(t *testing.T) {
	boom := errors.New("repository unavailable")
	trig, err := New(&fakeRunner{err: boom}, logger.NewNop(), Options{})
	require.NoError(t, err)

	_, err = trig.RunNow(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunNow_LockHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	other := distlock.NewRedisLock(client, "notify-run", time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	runner := &fakeRunner{}
	trig, err := New(runner, logger.NewNop(), Options{Lock: distlock.NewRedisLock(client, "notify-run", time.Minute)})
	require.NoError(t, err)

	_, err = trig.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, runner.calls())

	require.NoError(t, other.Release(context.Background()))
	_, err = trig.RunNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, runner.calls(), 1)
	assert.False(t, mr.Exists("lock:notify-run"), "lock released after the pass")
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set("lock:notify-run", "someone-else"))

	runner := &fakeRunner{}
	trig, err := New(runner, logger.NewNop(), Options{Lock: distlock.NewRedisLock(client, "notify-run", time.Minute)})
	require.NoError(t, err)

	trig.tick()
	assert.Empty(t, runner.calls())
}

func TestStop_CancelsInFlightScheduledRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	trig, err := New(runner, logger.NewNop(), Options{Schedule: "0 0 1 1 *"})
	require.NoError(t, err)
	require.NoError(t, trig.Start())

	done := make(chan struct{})
	go func() {
		trig.tick()
		close(done)
	}()
	require.Eventually(t, func() bool { return len(runner.calls()) == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		trig.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	<-done
}

func TestStop_CancelsDetachedManualRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	trig, err := New(runner, logger.NewNop(), Options{})
	require.NoError(t, err)

	var runErr error
	done := make(chan struct{})
	go func() {
		_, runErr = trig.RunNow(context.WithoutCancel(context.Background()))
		close(done)
	}()
	require.Eventually(t, func() bool { return len(runner.calls()) == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		trig.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	<-done
	assert.ErrorIs(t, runErr, context.Canceled)
}

func TestRunNow_CallerContextStillCancels(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	trig, err := New(runner, logger.NewNop(), Options{})
	require.NoError(t, err)
	defer trig.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = trig.RunNow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStart_Idempotent(t *testing.T) {
	trig, err := New(&fakeRunner{}, logger.NewNop(), Options{})
	require.NoError(t, err)

	require.NoError(t, trig.Start())
	require.NoError(t, trig.Start())
	assert.Len(t, trig.cron.Entries(), 1)
	trig.Stop()
	trig.Stop()
}
