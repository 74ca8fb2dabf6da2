package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Saver stores a message together with its side effects.
type Saver interface {
	Save(ctx context.Context, m *Message, seen time.Time) error
}

// SQLiteStore saves messages and contact updates in one transaction.
type SQLiteStore struct {
	db       *sql.DB
	Messages *SQLiteRepository
	Contacts *SQLiteContactRepository
}

// NewSQLiteStore creates repositories sharing db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:       db,
		Messages: NewSQLiteRepository(db),
		Contacts: NewSQLiteContactRepository(db),
	}
}

// Save inserts m. Inbound messages also touch the sender's contact at seen.
// Either both writes commit or neither does.
func (s *SQLiteStore) Save(ctx context.Context, m *Message, seen time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := insertMessage(ctx, tx, m, seen); err != nil {
		return err
	}
	if m.Direction == DirectionInbound {
		if err := touchContact(ctx, tx, m.Sender, nil, seen); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

var (
	_ Repository        = (*SQLiteRepository)(nil)
	_ ContactRepository = (*SQLiteContactRepository)(nil)
	_ Saver             = (*SQLiteStore)(nil)
)
