// Package window decides, for a given calendar day, whether an occasion is due
// for an advance reminder or a post-occasion nudge.
//
// Nothing in this package reads the system clock; "today" is always an argument.
package window

import (
	"time"

	"cloud.google.com/go/civil"

	"giftwise-api/internal/models"
)

// NudgeOffset is the days_left value on which a nudge is due (the day after the occasion).
const NudgeOffset = -1

// Classification is a bit set of the notifications an occasion is due for.
type Classification uint8

const (
	Reminder Classification = 1 << iota
	Nudge

	None Classification = 0
)

// Has reports whether c contains every bit in k.
func (c Classification) Has(k Classification) bool {
	return k != None && c&k == k
}

func (c Classification) String() string {
	switch c {
	case None:
		return "none"
	case Reminder:
		return "reminder"
	case Nudge:
		return "nudge"
	case Reminder | Nudge:
		return "reminder+nudge"
	}
	return "unknown"
}

// DaysLeft returns the number of calendar days from today until date.
// Negative values mean the date has passed.
func DaysLeft(date, today civil.Date) int {
	return date.DaysSince(today)
}

// Classify returns the notifications the occasion is due for on today.
//
// Both checks are exact-day matches: a reminder is due only when days_left equals
// ReminderDaysBefore, a nudge only when days_left is -1. Occasions without a date
// classify as None.
func Classify(o models.Occasion, today civil.Date) Classification {
	if o.Date == nil {
		return None
	}

	left := DaysLeft(*o.Date, today)

	var c Classification
	if left == o.ReminderDaysBefore {
		c |= Reminder
	}
	if left == NudgeOffset {
		c |= Nudge
	}
	return c
}

// Today converts a clock reading into the calendar date observed in loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(now.In(loc))
}
