package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftwise-api/internal/models"
)

func TestManager_PublishDeliversToSubscribers(t *testing.T) {
	m := NewManager(true)

	var mu sync.Mutex
	var got []Event
	m.Subscribe(EventRunCompleted, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})

	m.PublishRunCompleted(context.Background(), models.RunSummary{RemindersSent: 2})
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, EventRunCompleted, got[0].Type)
	assert.Equal(t, 2, got[0].Data.(RunCompletedData).Summary.RemindersSent)
}

func TestManager_HandlerErrorReported(t *testing.T) {
	m := NewManager(true)

	errCh := make(chan error, 1)
	m.OnError(func(_ Event, err error) { errCh <- err })
	m.Subscribe(EventNotificationFailed, func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})

	m.PublishNotification(context.Background(), EventNotificationFailed, NotificationData{OccasionID: "o-1"})
	m.Wait()

	assert.EqualError(t, <-errCh, "boom")
}

func TestManager_DisabledDropsEvents(t *testing.T) {
	m := NewManager(false)
	called := false
	m.Subscribe(EventNudgeSent, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})

	m.PublishNotification(context.Background(), EventNudgeSent, NotificationData{})
	m.Wait()
	assert.False(t, called)

	var nilManager *Manager
	nilManager.Publish(context.Background(), EventNudgeSent, nil)
	nilManager.Wait()
}

func TestManager_ShutdownDropsSubscriptions(t *testing.T) {
	m := NewManager(true)
	calls := 0
	var mu sync.Mutex
	m.Subscribe(EventReminderSent, func(ctx context.Context, e Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	m.Shutdown()
	m.PublishNotification(context.Background(), EventReminderSent, NotificationData{})
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}
