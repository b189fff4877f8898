// Package dedupestore persists the batching pipeline's processed-
// messageId set in SQLite, an alternative backend to a Postgres-backed
// store for single-node deployments that don't want an external
// database.
package dedupestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fendari/agentrt/internal/batching"
)

// Store implements batching.PruningDedupeStore on top of a SQLite
// table.
type Store struct {
	db *sql.DB

	stmtInsert  *sql.Stmt
	stmtExists  *sql.Stmt
	stmtPrune   *sql.Stmt
}

var _ batching.PruningDedupeStore = (*Store)(nil)

// Open creates or attaches to a SQLite database at path (":memory:" for
// an ephemeral store) and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The mattn/go-sqlite3 driver does not support concurrent writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_messages (
			message_id   TEXT PRIMARY KEY,
			processed_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create processed_messages: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS processed_messages_processed_at_idx
		ON processed_messages (processed_at)
	`)
	if err != nil {
		return fmt.Errorf("create processed_messages index: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error

	s.stmtInsert, err = s.db.Prepare(`
		INSERT OR IGNORE INTO processed_messages (message_id, processed_at) VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}

	s.stmtExists, err = s.db.Prepare(`
		SELECT 1 FROM processed_messages WHERE message_id = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare exists: %w", err)
	}

	s.stmtPrune, err = s.db.Prepare(`
		DELETE FROM processed_messages WHERE processed_at < ?
	`)
	if err != nil {
		return fmt.Errorf("prepare prune: %w", err)
	}

	return nil
}

// IsProcessed reports whether messageID has already been marked
// processed.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.stmtExists.QueryRowContext(ctx, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed message: %w", err)
	}
	return true, nil
}

// MarkProcessed records messageIDs as processed. Already-recorded ids
// are silently ignored.
func (s *Store) MarkProcessed(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.stmtInsert)
	now := time.Now()
	for _, id := range messageIDs {
		if _, err := stmt.ExecContext(ctx, id, now); err != nil {
			return fmt.Errorf("mark message processed: %w", err)
		}
	}
	return tx.Commit()
}

// Prune deletes entries processed before olderThan and reports how
// many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.stmtPrune.ExecContext(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune processed messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune processed messages: %w", err)
	}
	return int(n), nil
}

// Close releases the prepared statements and underlying connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtInsert, s.stmtExists, s.stmtPrune} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
