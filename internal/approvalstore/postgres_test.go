package approvalstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fendari/agentrt/internal/agent"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func mustPrepare(t *testing.T, db *sql.DB, query string) *sql.Stmt {
	t.Helper()
	stmt, err := db.Prepare(query)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	return stmt
}

func TestStore_Create(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectPrepare("INSERT INTO tool_approvals")
	store.stmtCreate = mustPrepare(t, store.db, `INSERT INTO tool_approvals`)

	req := &agent.ApprovalRequest{
		ID:         "appr-1",
		ToolCallID: "call-1",
		ToolName:   "delete_file",
		AgentID:    "agent-1",
		CreatedAt:  time.Now(),
		Decision:   agent.ApprovalPending,
	}

	mock.ExpectExec("INSERT INTO tool_approvals").
		WithArgs(req.ID, req.ToolCallID, req.ToolName, req.Input, req.AgentID, req.SessionID,
			req.Reason, sqlmock.AnyArg(), sqlmock.AnyArg(), string(req.Decision), sqlmock.AnyArg(), req.DecidedBy).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Create(context.Background(), req); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_Create_MissingID(t *testing.T) {
	store, _ := setupMockStore(t)
	err := store.Create(context.Background(), &agent.ApprovalRequest{})
	if err == nil {
		t.Error("Create() with an empty ID should return an error")
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectPrepare("SELECT id, tool_call_id")
	store.stmtGet = mustPrepare(t, store.db, `SELECT id, tool_call_id`)

	mock.ExpectQuery("SELECT id, tool_call_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Get() error = %v, want sql.ErrNoRows", err)
	}
}

func TestStore_Get_Found(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectPrepare("SELECT id, tool_call_id")
	store.stmtGet = mustPrepare(t, store.db, `SELECT id, tool_call_id`)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "tool_call_id", "tool_name", "input", "agent_id", "session_id",
		"reason", "created_at", "expires_at", "decision", "decided_at", "decided_by",
	}).AddRow("appr-1", "call-1", "delete_file", nil, "agent-1", nil, "risky op", now, nil, "pending", nil, nil)

	mock.ExpectQuery("SELECT id, tool_call_id").WithArgs("appr-1").WillReturnRows(rows)

	req, err := store.Get(context.Background(), "appr-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if req.ID != "appr-1" || req.Decision != agent.ApprovalPending {
		t.Errorf("Get() = %+v, want id=appr-1 decision=pending", req)
	}
}

func TestStore_Update_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectPrepare("UPDATE tool_approvals")
	store.stmtUpdate = mustPrepare(t, store.db, `UPDATE tool_approvals`)

	mock.ExpectExec("UPDATE tool_approvals").
		WithArgs(string(agent.ApprovalAllowed), sqlmock.AnyArg(), "admin", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &agent.ApprovalRequest{ID: "missing", Decision: agent.ApprovalAllowed, DecidedBy: "admin"})
	if err == nil {
		t.Error("Update() of a nonexistent request should return an error")
	}
}

func TestStore_Prune(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectPrepare("DELETE FROM tool_approvals")
	store.stmtPrune = mustPrepare(t, store.db, `DELETE FROM tool_approvals`)

	mock.ExpectExec("DELETE FROM tool_approvals").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Prune() = %d, want 3", n)
	}
}
