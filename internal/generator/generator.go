// Package generator produces gift ideas from a language model.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"giftwise-api/internal/models"
)

// IdeaCount is the number of ideas requested per generation.
const IdeaCount = 3

var (
	// ErrEmptyResponse is returned when the model produced no usable ideas.
	ErrEmptyResponse = errors.New("generator: empty response")
	// ErrNotConfigured is returned when a provider lacks credentials.
	ErrNotConfigured = errors.New("generator: provider not configured")
)

// Generator turns a suggestion request into gift ideas.
type Generator interface {
	Generate(ctx context.Context, req models.SuggestionRequest) ([]models.Suggestion, error)
}

const systemPrompt = `You are a helpful gift recommendation assistant. Given the recipient's relationship to the user, any notes about the recipient, the occasion (which may be "None"), any notes about the occasion, the recipient's preferences, and a list of their past purchases, suggest 3 realistic, thoughtful gift ideas. Avoid suggesting gifts similar to recent purchases. For each, provide a short name and a 1-2 sentence reason. Only suggest gifts that are likely to be available for purchase online.`

// SystemPrompt returns the instruction sent with every request.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders the request fields for the model.
func UserPrompt(req models.SuggestionRequest) string {
	past := "None"
	if len(req.PastPurchases) > 0 {
		past = strings.Join(req.PastPurchases, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recipient: %s\n", orNone(req.Recipient))
	fmt.Fprintf(&b, "Relationship: %s\n", orNone(req.Relationship))
	fmt.Fprintf(&b, "Recipient Notes: %s\n", orNone(req.ContactNotes))
	fmt.Fprintf(&b, "Occasion: %s\n", orNone(req.Occasion))
	fmt.Fprintf(&b, "Occasion Notes: %s\n", orNone(req.OccasionNotes))
	fmt.Fprintf(&b, "Preferences: %s\n", orNone(req.Preferences))
	fmt.Fprintf(&b, "Past Purchases: %s\n\n", past)
	b.WriteString(`Return as JSON: [{ "name": "...", "reason": "..." }]`)
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}

// ParseSuggestions decodes the model's reply. Markdown code fences and text
// around the JSON array are tolerated; an object wrapping the array under
// "ideas" or "suggestions" is accepted as well.
func ParseSuggestions(text string) ([]models.Suggestion, error) {
	text = strings.TrimSpace(stripFences(text))
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var ideas []models.Suggestion
	if err := json.Unmarshal([]byte(text), &ideas); err != nil {
		var wrapped struct {
			Ideas       []models.Suggestion `json:"ideas"`
			Suggestions []models.Suggestion `json:"suggestions"`
		}
		if werr := json.Unmarshal([]byte(text), &wrapped); werr == nil {
			ideas = append(wrapped.Ideas, wrapped.Suggestions...)
		} else if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
			if aerr := json.Unmarshal([]byte(text[start:end+1]), &ideas); aerr != nil {
				return nil, fmt.Errorf("failed to parse model output: %w", aerr)
			}
		} else {
			return nil, fmt.Errorf("failed to parse model output: %w", err)
		}
	}

	out := ideas[:0]
	for _, idea := range ideas {
		idea.Name = strings.TrimSpace(idea.Name)
		idea.Reason = strings.TrimSpace(idea.Reason)
		if idea.Name == "" {
			continue
		}
		out = append(out, idea)
	}
	if len(out) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}
