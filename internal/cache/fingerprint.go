package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"giftwise-api/internal/models"
)

// KeyPrefix namespaces suggestion entries in a shared store.
const KeyPrefix = "gift-ideas:"

// fingerprintFields fixes the field order of the canonical encoding.
type fingerprintFields struct {
	Recipient     string   `json:"recipient"`
	Relationship  string   `json:"relationship"`
	ContactNotes  string   `json:"contactNotes"`
	Occasion      string   `json:"occasion"`
	OccasionNotes string   `json:"occasionNotes"`
	Preferences   string   `json:"preferences"`
	PastPurchases []string `json:"pastPurchases"`
}

// Fingerprint derives the cache key of a suggestion request. Only the seven
// content fields take part; ForceRefresh does not. Past purchases keep their
// order, so a reordered list is a different key.
func Fingerprint(req models.SuggestionRequest) string {
	past := req.PastPurchases
	if past == nil {
		past = []string{}
	}

	// Marshalling a struct of strings cannot fail.
	data, _ := json.Marshal(fingerprintFields{
		Recipient:     req.Recipient,
		Relationship:  req.Relationship,
		ContactNotes:  req.ContactNotes,
		Occasion:      req.Occasion,
		OccasionNotes: req.OccasionNotes,
		Preferences:   req.Preferences,
		PastPurchases: past,
	})

	sum := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(sum[:])
}
