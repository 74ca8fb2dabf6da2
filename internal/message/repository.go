package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeFormat is fixed width so text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Repository defines message persistence operations.
type Repository interface {
	// Store inserts m and sets m.ID and m.CreatedAt.
	Store(ctx context.Context, m *Message) error

	// List returns one page of messages, newest first. Pages start at 1.
	List(ctx context.Context, page, perPage int) (Page, error)

	// Count returns the number of stored messages.
	Count(ctx context.Context) (int, error)

	// Latest returns the newest message or ErrMessageNotFound.
	Latest(ctx context.Context) (*Message, error)

	// ListAfter returns up to limit messages with ID greater than afterID, oldest first.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]Message, error)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed message repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Store inserts a message.
func (r *SQLiteRepository) Store(ctx context.Context, m *Message) error {
	return insertMessage(ctx, r.db, m, r.now())
}

func insertMessage(ctx context.Context, q execer, m *Message, now time.Time) error {
	if err := m.Validate(); err != nil {
		return err
	}

	path := m.Path
	if path == nil {
		path = []string{}
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("marshalling path: %w", err)
	}

	created := now.UTC()
	result, err := q.ExecContext(ctx, `
		INSERT INTO messages (direction, content, sender, receiver, is_public, path, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.Direction),
		m.Content,
		m.Sender,
		nullableString(m.Receiver),
		boolToInt(m.IsPublic),
		string(pathJSON),
		m.Timestamp.UTC().Format(timeFormat),
		created.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message id: %w", err)
	}
	m.ID = id
	m.Path = path
	m.CreatedAt = created
	return nil
}

const selectMessage = `
	SELECT id, direction, content, sender, receiver, is_public, path, timestamp, created_at
	FROM messages`

// List returns a page of messages, newest first. A page below 1 reads as 1;
// a page past the end is empty.
func (r *SQLiteRepository) List(ctx context.Context, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	total, err := r.Count(ctx)
	if err != nil {
		return Page{}, err
	}

	messages, err := queryMessages(ctx, r.db,
		selectMessage+` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Messages: messages,
		HasNext:  page*perPage < total,
		HasPrev:  page > 1,
		Total:    total,
		Page:     page,
	}, nil
}

// Count returns the number of stored messages.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// Latest returns the message with the newest timestamp.
func (r *SQLiteRepository) Latest(ctx context.Context) (*Message, error) {
	messages, err := queryMessages(ctx, r.db, selectMessage+` ORDER BY timestamp DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrMessageNotFound
	}
	return &messages[0], nil
}

// ListAfter returns messages stored after afterID in insertion order.
func (r *SQLiteRepository) ListAfter(ctx context.Context, afterID int64, limit int) ([]Message, error) {
	if limit < 1 {
		limit = DefaultPerPage
	}
	return queryMessages(ctx, r.db, selectMessage+` WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
}

func queryMessages(ctx context.Context, q querier, query string, args ...any) ([]Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		m                    Message
		direction, pathJSON  string
		receiver             sql.NullString
		isPublic             int
		timestamp, createdAt string
	)
	if err := rows.Scan(&m.ID, &direction, &m.Content, &m.Sender, &receiver,
		&isPublic, &pathJSON, &timestamp, &createdAt); err != nil {
		return Message{}, fmt.Errorf("scanning message: %w", err)
	}

	m.Direction = Direction(direction)
	m.IsPublic = isPublic != 0
	if receiver.Valid {
		v := receiver.String
		m.Receiver = &v
	}
	if err := json.Unmarshal([]byte(pathJSON), &m.Path); err != nil {
		return Message{}, fmt.Errorf("decoding path of message %d: %w", m.ID, err)
	}
	if m.Path == nil {
		m.Path = []string{}
	}

	var err error
	if m.Timestamp, err = time.Parse(timeFormat, timestamp); err != nil {
		return Message{}, fmt.Errorf("parsing timestamp of message %d: %w", m.ID, err)
	}
	if m.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return Message{}, fmt.Errorf("parsing created_at of message %d: %w", m.ID, err)
	}
	return m, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
