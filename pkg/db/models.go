package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InstrumentAllocation is one tracked instrument and its share of capital.
type InstrumentAllocation struct {
	Code              string  `json:"code" yaml:"code"`
	AllocationPercent float64 `json:"allocation_percent" yaml:"allocation_percent"`
}

// Strategy is a persisted strategy record; sessions are built from it.
type Strategy struct {
	ID                  string
	Name                string
	AccountID           string
	Segment             string
	Kinds               []string
	Params              map[string]float64
	Instruments         []InstrumentAllocation
	TotalCapital        float64
	StopLossPercent     float64
	TakeProfitPercent   float64
	PollIntervalSeconds int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SessionRecord is the persisted status snapshot of a trading session.
type SessionRecord struct {
	ID                string
	AccountID         string
	StrategyID        string
	Segment           string
	StrategyKinds     string
	Status            string
	ConsecutiveErrors int
	LastError         string
	RealizedPnL       float64
	StartedAt         time.Time
	StoppedAt         sql.NullTime
	UpdatedAt         time.Time
}

// SessionPosition is the last persisted ledger line of a session.
type SessionPosition struct {
	SessionID   string
	Code        string
	Qty         float64
	AvgCost     float64
	LastPrice   float64
	RealizedPnL float64
	UpdatedAt   time.Time
}

// AuditEntry is one immutable order-attempt record.
type AuditEntry struct {
	ID        string
	SessionID string
	AccountID string
	Code      string
	Side      string
	Qty       float64
	Price     float64
	Outcome   string
	OrderRef  string
	Message   string
	Strength  float64
	Reasons   []string
	Sources   []string
	CreatedAt time.Time
}

// UpsertStrategy inserts or replaces a strategy record.
func (d *Database) UpsertStrategy(ctx context.Context, s Strategy) error {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	instruments, err := json.Marshal(s.Instruments)
	if err != nil {
		return fmt.Errorf("encode instruments: %w", err)
	}

	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO strategies (
			id, name, account_id, segment, kinds, params, instruments, total_capital,
			stop_loss_percent, take_profit_percent, poll_interval_seconds, is_active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			account_id = excluded.account_id,
			segment = excluded.segment,
			kinds = excluded.kinds,
			params = excluded.params,
			instruments = excluded.instruments,
			total_capital = excluded.total_capital,
			stop_loss_percent = excluded.stop_loss_percent,
			take_profit_percent = excluded.take_profit_percent,
			poll_interval_seconds = excluded.poll_interval_seconds,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`,
		s.ID, s.Name, s.AccountID, s.Segment, strings.Join(s.Kinds, ","), string(params), string(instruments),
		s.TotalCapital, s.StopLossPercent, s.TakeProfitPercent, s.PollIntervalSeconds, s.IsActive,
	)
	return err
}

// GetStrategy loads a strategy by id. Returns ErrNotFound when missing.
func (d *Database) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, account_id, segment, kinds, params, instruments, total_capital,
		       COALESCE(stop_loss_percent, 0), COALESCE(take_profit_percent, 0),
		       COALESCE(poll_interval_seconds, 60), is_active, created_at, updated_at
		FROM strategies WHERE id = ?`, id)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListStrategies returns all strategy records, active first.
func (d *Database) ListStrategies(ctx context.Context) ([]Strategy, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, account_id, segment, kinds, params, instruments, total_capital,
		       COALESCE(stop_loss_percent, 0), COALESCE(take_profit_percent, 0),
		       COALESCE(poll_interval_seconds, 60), is_active, created_at, updated_at
		FROM strategies ORDER BY is_active DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(r rowScanner) (*Strategy, error) {
	var (
		s                   Strategy
		kinds               string
		params, instruments string
	)
	if err := r.Scan(&s.ID, &s.Name, &s.AccountID, &s.Segment, &kinds, &params, &instruments,
		&s.TotalCapital, &s.StopLossPercent, &s.TakeProfitPercent, &s.PollIntervalSeconds,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	for _, k := range strings.Split(kinds, ",") {
		if k = strings.TrimSpace(k); k != "" {
			s.Kinds = append(s.Kinds, k)
		}
	}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &s.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", s.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(instruments), &s.Instruments); err != nil {
		return nil, fmt.Errorf("decode instruments of %s: %w", s.ID, err)
	}
	return &s, nil
}

// SaveSession upserts the status snapshot of a session.
func (d *Database) SaveSession(ctx context.Context, s SessionRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO sessions (
			id, account_id, strategy_id, segment, strategy_kinds, status, consecutive_errors,
			last_error, realized_pnl, started_at, stopped_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			consecutive_errors = excluded.consecutive_errors,
			last_error = excluded.last_error,
			realized_pnl = excluded.realized_pnl,
			stopped_at = excluded.stopped_at,
			updated_at = CURRENT_TIMESTAMP
	`,
		s.ID, s.AccountID, s.StrategyID, s.Segment, s.StrategyKinds, s.Status, s.ConsecutiveErrors,
		s.LastError, s.RealizedPnL, s.StartedAt, s.StoppedAt,
	)
	return err
}

// GetSession loads a persisted session snapshot. Returns ErrNotFound when missing.
func (d *Database) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var s SessionRecord
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, account_id, COALESCE(strategy_id, ''), segment, COALESCE(strategy_kinds, ''),
		       status, consecutive_errors, COALESCE(last_error, ''), realized_pnl,
		       started_at, stopped_at, updated_at
		FROM sessions WHERE id = ?`, id).Scan(
		&s.ID, &s.AccountID, &s.StrategyID, &s.Segment, &s.StrategyKinds, &s.Status,
		&s.ConsecutiveErrors, &s.LastError, &s.RealizedPnL, &s.StartedAt, &s.StoppedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkInterruptedSessions moves sessions left active by a previous process to STOPPED.
func (d *Database) MarkInterruptedSessions(ctx context.Context, reason string) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'STOPPED', last_error = ?, stopped_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE status NOT IN ('STOPPED')`, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceSessionPositions stores the ledger of a session atomically.
func (d *Database) ReplaceSessionPositions(ctx context.Context, sessionID string, positions []SessionPosition) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_positions WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_positions (session_id, code, qty, avg_cost, last_price, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range positions {
		if _, err := stmt.ExecContext(ctx, sessionID, p.Code, p.Qty, p.AvgCost, p.LastPrice, p.RealizedPnL); err != nil {
			return fmt.Errorf("insert position %s: %w", p.Code, err)
		}
	}
	return tx.Commit()
}

// ListSessionPositions returns the persisted ledger of a session.
func (d *Database) ListSessionPositions(ctx context.Context, sessionID string) ([]SessionPosition, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT session_id, code, qty, avg_cost, COALESCE(last_price, 0), COALESCE(realized_pnl, 0), updated_at
		FROM session_positions WHERE session_id = ? ORDER BY code`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []SessionPosition
	for rows.Next() {
		var p SessionPosition
		if err := rows.Scan(&p.SessionID, &p.Code, &p.Qty, &p.AvgCost, &p.LastPrice, &p.RealizedPnL, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// InsertAuditEntries appends a batch of audit entries in one transaction.
func (d *Database) InsertAuditEntries(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries (
			id, session_id, account_id, code, side, qty, price, outcome, order_ref,
			message, strength, reasons, sources, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.SessionID, e.AccountID, e.Code, e.Side, e.Qty, e.Price, e.Outcome, e.OrderRef,
			e.Message, e.Strength, strings.Join(e.Reasons, "\n"), strings.Join(e.Sources, ","), createdAt,
		); err != nil {
			return fmt.Errorf("insert audit %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}
