// Package approvalstore persists pending tool-approval requests and the
// messageId dedupe set backing the batching pipeline's "approval
// pause" and redelivery-safety invariants, in Postgres.
package approvalstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fendari/agentrt/internal/agent"
)

// Config holds connection parameters for the Postgres-backed store.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "agentrt",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Store implements agent.ApprovalStore on top of a Postgres table.
type Store struct {
	db *sql.DB

	stmtCreate      *sql.Stmt
	stmtGet         *sql.Stmt
	stmtUpdate      *sql.Stmt
	stmtListPending *sql.Stmt
	stmtPrune       *sql.Stmt
}

var _ agent.ApprovalStore = (*Store)(nil)

// New opens a connection, verifies it, ensures the schema exists, and
// prepares the store's statements.
func New(config Config) (*Store, error) {
	defaults := DefaultConfig()
	if config.Host == "" {
		config.Host = defaults.Host
	}
	if config.Port == 0 {
		config.Port = defaults.Port
	}
	if config.Database == "" {
		config.Database = defaults.Database
	}
	if config.SSLMode == "" {
		config.SSLMode = defaults.SSLMode
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newFromDSN(dsn, config)
}

// NewFromDSN opens the store using a raw Postgres connection string,
// useful when the caller already assembles its own DSN (e.g. from a
// secrets manager).
func NewFromDSN(dsn string, config Config) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	return newFromDSN(dsn, config)
}

func newFromDSN(dsn string, config Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tool_approvals (
			id            TEXT PRIMARY KEY,
			tool_call_id  TEXT NOT NULL,
			tool_name     TEXT NOT NULL,
			input         BYTEA,
			agent_id      TEXT,
			session_id    TEXT,
			reason        TEXT,
			created_at    TIMESTAMPTZ NOT NULL,
			expires_at    TIMESTAMPTZ,
			decision      TEXT NOT NULL,
			decided_at    TIMESTAMPTZ,
			decided_by    TEXT,
			run_state_token TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create tool_approvals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS tool_approvals_agent_pending_idx
		ON tool_approvals (agent_id, decision)
	`)
	if err != nil {
		return fmt.Errorf("create tool_approvals index: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error

	s.stmtCreate, err = s.db.Prepare(`
		INSERT INTO tool_approvals
			(id, tool_call_id, tool_name, input, agent_id, session_id, reason, created_at, expires_at, decision, decided_at, decided_by, run_state_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("prepare create: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, tool_call_id, tool_name, input, agent_id, session_id, reason, created_at, expires_at, decision, decided_at, decided_by, run_state_token
		FROM tool_approvals WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get: %w", err)
	}

	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE tool_approvals
		SET decision = $1, decided_at = $2, decided_by = $3, run_state_token = $4
		WHERE id = $5
	`)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}

	s.stmtListPending, err = s.db.Prepare(`
		SELECT id, tool_call_id, tool_name, input, agent_id, session_id, reason, created_at, expires_at, decision, decided_at, decided_by, run_state_token
		FROM tool_approvals WHERE agent_id = $1 AND decision = $2
		ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("prepare list pending: %w", err)
	}

	s.stmtPrune, err = s.db.Prepare(`
		DELETE FROM tool_approvals WHERE created_at < $1
	`)
	if err != nil {
		return fmt.Errorf("prepare prune: %w", err)
	}

	return nil
}

// Create inserts a new approval request.
func (s *Store) Create(ctx context.Context, req *agent.ApprovalRequest) error {
	if req.ID == "" {
		return fmt.Errorf("approval request id is required")
	}
	var expiresAt sql.NullTime
	if !req.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: req.ExpiresAt, Valid: true}
	}
	_, err := s.stmtCreate.ExecContext(ctx,
		req.ID, req.ToolCallID, req.ToolName, req.Input, req.AgentID, req.SessionID,
		req.Reason, req.CreatedAt, expiresAt, string(req.Decision), nullTimeOf(req.DecidedAt), req.DecidedBy,
		nullStringOf(req.RunStateToken),
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// Get fetches an approval request by id.
func (s *Store) Get(ctx context.Context, id string) (*agent.ApprovalRequest, error) {
	row := s.stmtGet.QueryRowContext(ctx, id)
	return scanApprovalRequest(row)
}

// Update persists a decision (or any other mutable field) on an
// existing request.
func (s *Store) Update(ctx context.Context, req *agent.ApprovalRequest) error {
	result, err := s.stmtUpdate.ExecContext(ctx, string(req.Decision), nullTimeOf(req.DecidedAt), req.DecidedBy, nullStringOf(req.RunStateToken), req.ID)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("approval request %q not found", req.ID)
	}
	return nil
}

// ListPending returns requests still awaiting a decision for agentID.
func (s *Store) ListPending(ctx context.Context, agentID string) ([]*agent.ApprovalRequest, error) {
	rows, err := s.stmtListPending.QueryContext(ctx, agentID, string(agent.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*agent.ApprovalRequest
	for rows.Next() {
		req, err := scanApprovalRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Prune deletes requests created before olderThan ago and reports how
// many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.stmtPrune.ExecContext(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune approval requests: %w", err)
	}
	return result.RowsAffected()
}

// Close releases the prepared statements and underlying connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtCreate, s.stmtGet, s.stmtUpdate, s.stmtListPending, s.stmtPrune} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanApprovalRequest(row scannable) (*agent.ApprovalRequest, error) {
	var req agent.ApprovalRequest
	var input []byte
	var expiresAt, decidedAt sql.NullTime
	var decision string
	var runStateToken sql.NullString

	err := row.Scan(
		&req.ID, &req.ToolCallID, &req.ToolName, &input, &req.AgentID, &req.SessionID,
		&req.Reason, &req.CreatedAt, &expiresAt, &decision, &decidedAt, &req.DecidedBy,
		&runStateToken,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval request: %w", err)
	}

	req.Input = input
	req.Decision = agent.ApprovalDecision(decision)
	if expiresAt.Valid {
		req.ExpiresAt = expiresAt.Time
	}
	if decidedAt.Valid {
		req.DecidedAt = decidedAt.Time
	}
	if runStateToken.Valid {
		req.RunStateToken = runStateToken.String
	}
	return &req, nil
}

func nullTimeOf(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullStringOf(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
