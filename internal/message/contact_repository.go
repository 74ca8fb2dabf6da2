package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ContactRepository defines contact persistence operations.
type ContactRepository interface {
	// Touch records that nodeID was heard at seen, creating the contact if
	// needed. A non-nil name replaces the stored name.
	Touch(ctx context.Context, nodeID string, name *string, seen time.Time) error

	// Get returns a contact or ErrMessageNotFound.
	Get(ctx context.Context, nodeID string) (*Contact, error)

	// ListActive returns active contacts, most recently seen first.
	ListActive(ctx context.Context) ([]Contact, error)

	// Count returns the number of known contacts.
	Count(ctx context.Context) (int, error)
}

// SQLiteContactRepository implements ContactRepository using SQLite.
type SQLiteContactRepository struct {
	db *sql.DB
}

// NewSQLiteContactRepository creates a new SQLite-backed contact repository.
func NewSQLiteContactRepository(db *sql.DB) *SQLiteContactRepository {
	return &SQLiteContactRepository{db: db}
}

// Touch upserts a contact's last-seen time.
func (r *SQLiteContactRepository) Touch(ctx context.Context, nodeID string, name *string, seen time.Time) error {
	return touchContact(ctx, r.db, nodeID, name, seen)
}

func touchContact(ctx context.Context, q execer, nodeID string, name *string, seen time.Time) error {
	if nodeID == "" {
		return fmt.Errorf("%w: contact node id is required", ErrInvalidMessage)
	}
	at := seen.UTC().Format(timeFormat)
	_, err := q.ExecContext(ctx, `
		INSERT INTO contacts (node_id, name, is_active, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			name = COALESCE(excluded.name, contacts.name)`,
		nodeID, nullableString(name), at, at)
	if err != nil {
		return fmt.Errorf("upserting contact %s: %w", nodeID, err)
	}
	return nil
}

const selectContact = `SELECT node_id, name, is_active, first_seen, last_seen FROM contacts`

// Get returns a single contact.
func (r *SQLiteContactRepository) Get(ctx context.Context, nodeID string) (*Contact, error) {
	row := r.db.QueryRowContext(ctx, selectContact+` WHERE node_id = ?`, nodeID)
	c, err := scanContact(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: contact %s", ErrMessageNotFound, nodeID)
		}
		return nil, err
	}
	return &c, nil
}

// ListActive returns active contacts ordered by last-seen, newest first.
func (r *SQLiteContactRepository) ListActive(ctx context.Context) ([]Contact, error) {
	rows, err := r.db.QueryContext(ctx, selectContact+` WHERE is_active = 1 ORDER BY last_seen DESC, node_id`)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	contacts := []Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contacts: %w", err)
	}
	return contacts, nil
}

// Count returns the number of known contacts.
func (r *SQLiteContactRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting contacts: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		c                   Contact
		name                sql.NullString
		active              int
		firstSeen, lastSeen string
	)
	if err := row.Scan(&c.NodeID, &name, &active, &firstSeen, &lastSeen); err != nil {
		if isNoRows(err) {
			return Contact{}, err
		}
		return Contact{}, fmt.Errorf("scanning contact: %w", err)
	}
	if name.Valid {
		v := name.String
		c.Name = &v
	}
	c.IsActive = active != 0

	var err error
	if c.FirstSeen, err = time.Parse(timeFormat, firstSeen); err != nil {
		return Contact{}, fmt.Errorf("parsing first_seen of %s: %w", c.NodeID, err)
	}
	if c.LastSeen, err = time.Parse(timeFormat, lastSeen); err != nil {
		return Contact{}, fmt.Errorf("parsing last_seen of %s: %w", c.NodeID, err)
	}
	return c, nil
}
