package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrEmptyUpdate is returned by UpdateOccasion when no marker field is set.
var ErrEmptyUpdate = errors.New("database: empty occasion update")

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn   *sql.DB
	driver string
	log    *logger.Logger
}

// NewDB opens a connection for driver. SQLite databases get their schema
// created on open; the Postgres schema is owned by the hosted database.
func NewDB(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		conn, err := sql.Open(DriverSQLite, dsn+"?_foreign_keys=1")
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db := &DB{conn: conn, driver: driver, log: logger.NewNop()}
		if err := db.initSchema(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return db, nil
	case DriverPostgres:
		conn, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return &DB{conn: conn, driver: driver, log: logger.NewNop()}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewWithConn wraps an existing connection. Used with sqlmock in tests.
func NewWithConn(conn *sql.DB, driver string) *DB {
	return &DB{conn: conn, driver: driver, log: logger.NewNop()}
}

// SetLogger replaces the logger used to report rows that cannot be read.
func (db *DB) SetLogger(log *logger.Logger) {
	db.log = log.With("component", "database")
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Conn exposes the pool for components that need raw access (advisory locks).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Driver reports the configured driver name.
func (db *DB) Driver() string {
	return db.driver
}

// rebind rewrites ? placeholders as $n for Postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			id TEXT PRIMARY KEY,
			email TEXT,
			yearly_budget INTEGER,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			relationship TEXT,
			notes TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS occasions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
			contact_id TEXT REFERENCES contacts(id) ON DELETE CASCADE,
			occasion_type TEXT NOT NULL,
			date TEXT,
			notes TEXT,
			reminder_days_before INTEGER,
			reminder_sent_date TEXT,
			nudge_sent_date TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS gifts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
			occasion_id TEXT REFERENCES occasions(id) ON DELETE SET NULL,
			contact_id TEXT REFERENCES contacts(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS purchases (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES user_profiles(id) ON DELETE CASCADE,
			gift_id TEXT REFERENCES gifts(id) ON DELETE SET NULL,
			purchase_date TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_occasions_user_id ON occasions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_gifts_occasion_id ON gifts(occasion_id)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// GetAllUsers returns every user profile.
func (db *DB) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, COALESCE(email, '') FROM user_profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// GetOccasions returns a user's occasions with the contact's name. A NULL
// reminder_days_before reads as the default lead time.
func (db *DB) GetOccasions(ctx context.Context, userID string) ([]models.Occasion, error) {
	query := db.rebind(`SELECT o.id, o.user_id, COALESCE(o.contact_id, ''), COALESCE(c.name, ''),
		o.occasion_type, CAST(o.date AS TEXT), COALESCE(o.notes, ''),
		COALESCE(o.reminder_days_before, ?),
		CAST(o.reminder_sent_date AS TEXT), CAST(o.nudge_sent_date AS TEXT)
		FROM occasions o
		LEFT JOIN contacts c ON c.id = o.contact_id
		WHERE o.user_id = ?
		ORDER BY o.id`)

	rows, err := db.conn.QueryContext(ctx, query, models.DefaultReminderDaysBefore, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query occasions: %w", err)
	}
	defer rows.Close()

	var occasions []models.Occasion
	for rows.Next() {
		var o models.Occasion
		var date, reminderSent, nudgeSent sql.NullString

		err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.ContactID,
			&o.ContactName,
			&o.OccasionType,
			&date,
			&o.Notes,
			&o.ReminderDaysBefore,
			&reminderSent,
			&nudgeSent,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occasion: %w", err)
		}

		// A malformed value only affects its own row: a bad date reads as
		// "no date" and the occasion is skipped, a bad marker reads as unsent.
		o.Date = db.readDate(date, "date", "occasion_id", o.ID)
		o.ReminderSentDate = db.readDate(reminderSent, "reminder_sent_date", "occasion_id", o.ID)
		o.NudgeSentDate = db.readDate(nudgeSent, "nudge_sent_date", "occasion_id", o.ID)

		occasions = append(occasions, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating occasions: %w", err)
	}

	return occasions, nil
}

// GetPurchases returns a user's purchases. OccasionID comes from the purchased gift.
func (db *DB) GetPurchases(ctx context.Context, userID string) ([]models.Purchase, error) {
	query := db.rebind(`SELECT p.id, p.user_id, COALESCE(p.gift_id, ''), g.occasion_id,
		CAST(p.purchase_date AS TEXT)
		FROM purchases p
		LEFT JOIN gifts g ON g.id = p.gift_id
		WHERE p.user_id = ?
		ORDER BY p.id`)

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		var p models.Purchase
		var occasionID, purchaseDate sql.NullString

		if err := rows.Scan(&p.ID, &p.UserID, &p.GiftID, &occasionID, &purchaseDate); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		if occasionID.Valid {
			id := occasionID.String
			p.OccasionID = &id
		}
		p.PurchaseDate = db.readDate(purchaseDate, "purchase_date", "purchase_id", p.ID)

		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}

	return purchases, nil
}

// UpdateOccasion writes the non-nil marker fields of upd. A marker never moves
// backwards: a row whose marker is already later than the new value is left
// alone and the call reports false.
func (db *DB) UpdateOccasion(ctx context.Context, id string, upd models.OccasionUpdate) (bool, error) {
	var sets, guards []string
	var setArgs, guardArgs []interface{}

	add := func(column string, d *civil.Date) {
		if d == nil {
			return
		}
		sets = append(sets, column+" = ?")
		setArgs = append(setArgs, d.String())
		guards = append(guards, "("+column+" IS NULL OR "+column+" <= ?)")
		guardArgs = append(guardArgs, d.String())
	}
	add("reminder_sent_date", upd.ReminderSentDate)
	add("nudge_sent_date", upd.NudgeSentDate)

	if len(sets) == 0 {
		return false, ErrEmptyUpdate
	}

	query := "UPDATE occasions SET " + strings.Join(sets, ", ") +
		" WHERE id = ? AND " + strings.Join(guards, " AND ")
	args := append(setArgs, id)
	args = append(args, guardArgs...)

	res, err := db.conn.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update occasion %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return n > 0, nil
}

// readDate parses a date column, logging and returning nil for a value that
// is not a date.
func (db *DB) readDate(s sql.NullString, column, idKey, id string) *civil.Date {
	d, err := parseDate(s)
	if err != nil {
		db.log.Warn("ignoring unparseable date", "column", column, idKey, id, "value", s.String, "error", err)
		return nil
	}
	return d
}

// parseDate reads a calendar date column. Timestamp renderings are truncated
// to their date part.
func parseDate(s sql.NullString) (*civil.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	v := s.String
	if len(v) > 10 {
		v = v[:10]
	}
	d, err := civil.ParseDate(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
