// Package db provides account-scoped read queries for sessions and audit history.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAccountIDRequired = errors.New("account_id is required for data isolation")
	ErrSessionIDRequired = errors.New("session_id is required")
	ErrNotFound          = errors.New("record not found")
)

// Queries groups read paths used by the admin surface.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Queries returns the read-query helper bound to this database.
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

// ----------------------------------------
// Session Queries
// ----------------------------------------

// ListSessionsByAccount returns the session history of one account, newest first.
func (q *Queries) ListSessionsByAccount(ctx context.Context, accountID string, limit int) ([]SessionRecord, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, account_id, COALESCE(strategy_id, ''), segment, COALESCE(strategy_kinds, ''),
		       status, consecutive_errors, COALESCE(last_error, ''), realized_pnl,
		       started_at, stopped_at, updated_at
		FROM sessions
		WHERE account_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var s SessionRecord
		if err := rows.Scan(&s.ID, &s.AccountID, &s.StrategyID, &s.Segment, &s.StrategyKinds, &s.Status,
			&s.ConsecutiveErrors, &s.LastError, &s.RealizedPnL, &s.StartedAt, &s.StoppedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ----------------------------------------
// Audit Queries
// ----------------------------------------

// ListAuditBySession returns audit entries of a session in insertion order.
func (q *Queries) ListAuditBySession(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	return q.listAudit(ctx, `WHERE session_id = ?`, sessionID, limit)
}

// ListAuditByAccount returns audit entries across every session of an account.
func (q *Queries) ListAuditByAccount(ctx context.Context, accountID string, limit int) ([]AuditEntry, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	return q.listAudit(ctx, `WHERE account_id = ?`, accountID, limit)
}

func (q *Queries) listAudit(ctx context.Context, where, arg string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, account_id, code, side, qty, COALESCE(price, 0), outcome,
		       COALESCE(order_ref, ''), COALESCE(message, ''), COALESCE(strength, 0),
		       COALESCE(reasons, ''), COALESCE(sources, ''), created_at
		FROM audit_entries `+where+`
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e                AuditEntry
			reasons, sources string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.AccountID, &e.Code, &e.Side, &e.Qty, &e.Price, &e.Outcome,
			&e.OrderRef, &e.Message, &e.Strength, &reasons, &sources, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Reasons = splitNonEmpty(reasons, "\n")
		e.Sources = splitNonEmpty(sources, ",")
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
