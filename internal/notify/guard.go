package notify

import (
	"cloud.google.com/go/civil"

	"giftwise-api/internal/events"
	"giftwise-api/internal/features"
	"giftwise-api/internal/models"
	"giftwise-api/internal/window"
)

// Kind is the type of notification.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindNudge    Kind = "nudge"
)

// Kinds lists every kind in evaluation order.
var Kinds = []Kind{KindReminder, KindNudge}

func (k Kind) classification() window.Classification {
	if k == KindNudge {
		return window.Nudge
	}
	return window.Reminder
}

// marker returns the kind's last-sent date on o.
func (k Kind) marker(o models.Occasion) *civil.Date {
	if k == KindNudge {
		return o.NudgeSentDate
	}
	return o.ReminderSentDate
}

// update builds the partial update that records a send on day.
func (k Kind) update(day civil.Date) models.OccasionUpdate {
	if k == KindNudge {
		return models.OccasionUpdate{NudgeSentDate: &day}
	}
	return models.OccasionUpdate{ReminderSentDate: &day}
}

func (k Kind) flag() features.Flag {
	if k == KindNudge {
		return features.Nudges
	}
	return features.Reminders
}

func (k Kind) sentEvent() events.EventType {
	if k == KindNudge {
		return events.EventNudgeSent
	}
	return events.EventReminderSent
}

// ShouldSend reports whether a notification of the given kind is due for o on today.
//
// It is true only when the occasion classifies as kind today and the kind's marker is
// not already today. Nudges are additionally suppressed by any purchase that satisfies
// the occasion, regardless of when it was made.
func ShouldSend(kind Kind, o models.Occasion, purchases []models.Purchase, today civil.Date) bool {
	if !window.Classify(o, today).Has(kind.classification()) {
		return false
	}
	if last := kind.marker(o); last != nil && *last == today {
		return false
	}
	if kind == KindNudge && Satisfied(o, purchases) {
		return false
	}
	return true
}

// Satisfied reports whether any purchase fulfils the occasion.
func Satisfied(o models.Occasion, purchases []models.Purchase) bool {
	for _, p := range purchases {
		if p.Satisfies(o.ID) {
			return true
		}
	}
	return false
}
