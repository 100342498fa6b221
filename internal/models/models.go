package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// DefaultReminderDaysBefore is used when an occasion has no reminder_days_before set.
const DefaultReminderDaysBefore = 14

// User is the delivery target for notifications.
type User struct {
	ID    string `json:"id"`    // uuid
	Email string `json:"email"` // empty means "do not notify"
}

// Occasion is a dated event tied to one contact and one user.
type Occasion struct {
	ID                 string      `json:"id"`
	ContactID          string      `json:"contact_id"`
	UserID             string      `json:"user_id"`
	ContactName        string      `json:"contact_name"` // joined from contacts.name
	OccasionType       string      `json:"occasion_type"`
	Date               *civil.Date `json:"date"` // nil occasions are never notified
	Notes              string      `json:"notes,omitempty"`
	ReminderDaysBefore int         `json:"reminder_days_before"`
	ReminderSentDate   *civil.Date `json:"reminder_sent_date"`
	NudgeSentDate      *civil.Date `json:"nudge_sent_date"`
}

// Purchase is a bought gift. OccasionID is the gift's occasion_id, if any.
type Purchase struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	GiftID       string      `json:"gift_id"`
	OccasionID   *string     `json:"occasion_id"`
	PurchaseDate *civil.Date `json:"purchase_date"`
}

// Satisfies reports whether the purchase fulfils the given occasion.
func (p Purchase) Satisfies(occasionID string) bool {
	return p.OccasionID != nil && *p.OccasionID == occasionID
}

// OccasionUpdate is a partial update of the delivery markers. Nil fields are left untouched.
type OccasionUpdate struct {
	ReminderSentDate *civil.Date
	NudgeSentDate    *civil.Date
}

// Suggestion is a single AI-generated gift idea.
type Suggestion struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SuggestionRequest is the request body for POST /api/gift-ideas.
type SuggestionRequest struct {
	Recipient     string   `json:"recipient"`
	Relationship  string   `json:"relationship"`
	ContactNotes  string   `json:"contactNotes"`
	Occasion      string   `json:"occasion"`
	OccasionNotes string   `json:"occasionNotes"`
	Preferences   string   `json:"preferences"`
	PastPurchases []string `json:"pastPurchases"`
	ForceRefresh  bool     `json:"forceRefresh,omitempty"` // not part of the fingerprint
}

// RunSummary describes the outcome of one notification pass.
type RunSummary struct {
	RunID              string    `json:"run_id"`
	Date               string    `json:"date"` // YYYY-MM-DD
	UsersScanned       int       `json:"users_scanned"`
	UsersFailed        int       `json:"users_failed"`
	OccasionsEvaluated int       `json:"occasions_evaluated"`
	OccasionsSkipped   int       `json:"occasions_skipped"` // no date
	RemindersSent      int       `json:"reminders_sent"`
	NudgesSent         int       `json:"nudges_sent"`
	SendFailures       int       `json:"send_failures"`
	MarkerFailures     int       `json:"marker_failures"`
	Failures           int       `json:"failures"` // users_failed + send_failures
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// TriggerResponse is the response payload of the manual trigger.
type TriggerResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Summary *RunSummary `json:"summary,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
