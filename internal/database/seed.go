package database

import (
	"encoding/json"
	"fmt"
	"io"

	"cloud.google.com/go/civil"

	"giftwise-api/internal/models"
)

// Production rows are written by the client application. The writers below
// load development data (cmd/api -seed) and test fixtures.

// SeedData is the JSON document accepted by -seed.
type SeedData struct {
	Users     []models.User     `json:"users"`
	Contacts  []SeedContact     `json:"contacts"`
	Occasions []SeedOccasion    `json:"occasions"`
	Gifts     []SeedGift        `json:"gifts"`
	Purchases []models.Purchase `json:"purchases"`
}

// SeedContact is a contact row.
type SeedContact struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// SeedOccasion is an occasion row. An omitted reminder_days_before is stored
// as NULL and reads back as the default lead time.
type SeedOccasion struct {
	models.Occasion
	ReminderDaysBefore *int `json:"reminder_days_before"`
}

// SeedGift is a gift row, optionally attached to an occasion.
type SeedGift struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	OccasionID *string `json:"occasion_id"`
	Name       string  `json:"name"`
}

// LoadSeed decodes a seed document, rejecting unknown fields.
func LoadSeed(r io.Reader) (SeedData, error) {
	var data SeedData
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		return SeedData{}, fmt.Errorf("failed to decode seed data: %w", err)
	}
	return data, nil
}

// Seed writes data in dependency order. Rows are upserted, so seeding twice
// is harmless except for gifts and purchases, which must be new.
func (db *DB) Seed(data SeedData) error {
	for _, u := range data.Users {
		if err := db.UpsertUser(u); err != nil {
			return err
		}
	}
	for _, c := range data.Contacts {
		if err := db.UpsertContact(c.ID, c.UserID, c.Name); err != nil {
			return err
		}
	}
	for _, o := range data.Occasions {
		var lead interface{}
		if o.ReminderDaysBefore != nil {
			lead = *o.ReminderDaysBefore
		}
		if err := db.upsertOccasion(o.Occasion, lead); err != nil {
			return err
		}
	}
	for _, g := range data.Gifts {
		if err := db.InsertGift(g.ID, g.UserID, g.OccasionID, g.Name); err != nil {
			return err
		}
	}
	for _, p := range data.Purchases {
		if err := db.InsertPurchase(p); err != nil {
			return err
		}
	}
	return nil
}

// UpsertUser creates or updates a user profile.
func (db *DB) UpsertUser(user models.User) error {
	_, err := db.conn.Exec(db.rebind(`INSERT INTO user_profiles (id, email) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email`), user.ID, nullString(user.Email))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpsertContact creates or updates a contact.
func (db *DB) UpsertContact(id, userID, name string) error {
	_, err := db.conn.Exec(db.rebind(`INSERT INTO contacts (id, user_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`), id, userID, name)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

// UpsertOccasion creates or updates an occasion, markers included. A zero
// ReminderDaysBefore is stored as given; use UpsertOccasionDefaultLead to store NULL.
func (db *DB) UpsertOccasion(o models.Occasion) error {
	return db.upsertOccasion(o, o.ReminderDaysBefore)
}

// UpsertOccasionDefaultLead stores the occasion with a NULL reminder_days_before.
func (db *DB) UpsertOccasionDefaultLead(o models.Occasion) error {
	return db.upsertOccasion(o, nil)
}

func (db *DB) upsertOccasion(o models.Occasion, lead interface{}) error {
	query := db.rebind(`INSERT INTO occasions (
		id, user_id, contact_id, occasion_type, date, notes,
		reminder_days_before, reminder_sent_date, nudge_sent_date
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		contact_id = excluded.contact_id,
		occasion_type = excluded.occasion_type,
		date = excluded.date,
		notes = excluded.notes,
		reminder_days_before = excluded.reminder_days_before,
		reminder_sent_date = excluded.reminder_sent_date,
		nudge_sent_date = excluded.nudge_sent_date`)

	_, err := db.conn.Exec(
		query,
		o.ID,
		o.UserID,
		nullString(o.ContactID),
		o.OccasionType,
		dateValue(o.Date),
		nullString(o.Notes),
		lead,
		dateValue(o.ReminderSentDate),
		dateValue(o.NudgeSentDate),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert occasion: %w", err)
	}
	return nil
}

// InsertGift records a gift idea, optionally attached to an occasion.
func (db *DB) InsertGift(id, userID string, occasionID *string, name string) error {
	var occ interface{}
	if occasionID != nil {
		occ = *occasionID
	}
	_, err := db.conn.Exec(db.rebind(`INSERT INTO gifts (id, user_id, occasion_id, name) VALUES (?, ?, ?, ?)`),
		id, userID, occ, name)
	if err != nil {
		return fmt.Errorf("failed to insert gift: %w", err)
	}
	return nil
}

// InsertPurchase records that a gift was bought.
func (db *DB) InsertPurchase(p models.Purchase) error {
	_, err := db.conn.Exec(db.rebind(`INSERT INTO purchases (id, user_id, gift_id, purchase_date) VALUES (?, ?, ?, ?)`),
		p.ID, p.UserID, nullString(p.GiftID), dateValue(p.PurchaseDate))
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func dateValue(d *civil.Date) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
