package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"giftwise-api/internal/models"
)

const (
	MaxFieldLength    = 2000
	MaxPastPurchases  = 100
	MaxPurchaseLength = 200
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateSuggestionRequest sanitizes every text field of req and checks its
// limits. The returned request is the sanitized form used for fingerprinting
// and generation.
func ValidateSuggestionRequest(req models.SuggestionRequest) (models.SuggestionRequest, error) {
	out := models.SuggestionRequest{ForceRefresh: req.ForceRefresh}

	fields := []struct {
		name string
		in   string
		dst  *string
	}{
		{"recipient", req.Recipient, &out.Recipient},
		{"relationship", req.Relationship, &out.Relationship},
		{"contactNotes", req.ContactNotes, &out.ContactNotes},
		{"occasion", req.Occasion, &out.Occasion},
		{"occasionNotes", req.OccasionNotes, &out.OccasionNotes},
		{"preferences", req.Preferences, &out.Preferences},
	}
	for _, f := range fields {
		v := SanitizeString(f.in)
		if utf8.RuneCountInString(v) > MaxFieldLength {
			return req, &ValidationError{
				Field:   f.name,
				Message: fmt.Sprintf("cannot exceed %d characters", MaxFieldLength),
			}
		}
		*f.dst = v
	}

	if out.Recipient == "" && out.Relationship == "" {
		return req, &ValidationError{
			Field:   "recipient",
			Message: "recipient or relationship is required",
		}
	}

	if len(req.PastPurchases) > MaxPastPurchases {
		return req, &ValidationError{
			Field:   "pastPurchases",
			Message: fmt.Sprintf("cannot contain more than %d items", MaxPastPurchases),
		}
	}

	out.PastPurchases = make([]string, 0, len(req.PastPurchases))
	for i, p := range req.PastPurchases {
		v := SanitizeString(p)
		if v == "" {
			continue
		}
		if utf8.RuneCountInString(v) > MaxPurchaseLength {
			return req, &ValidationError{
				Field:   fmt.Sprintf("pastPurchases[%d]", i),
				Message: fmt.Sprintf("cannot exceed %d characters", MaxPurchaseLength),
			}
		}
		out.PastPurchases = append(out.PastPurchases, v)
	}

	return out, nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}
