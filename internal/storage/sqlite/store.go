package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"var_gold/internal/models"
	"var_gold/internal/storage"
	"var_gold/internal/storage/migrations"
)

const positionColumns = `position_id, status, created_at_ts, updated_at_ts, signal_spread, signal_ts,
	last_open_alert_ts, entry_spread_actual, opened_at_confirm_ts, close_trigger,
	close_signalled_ts, last_close_alert_ts, close_spread_actual, closed_at_confirm_ts,
	chat_id, metadata_json`

// Store: хранилище на одном файле SQLite для развёртывания на одном хосте.
type Store struct {
	db      *sql.DB
	ttlDays int
}

var _ storage.Store = (*Store)(nil)

// Open открывает (или создаёт) базу по пути и накатывает миграции.
func Open(ctx context.Context, path string, ttlDays int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer, заодно :memory: живёт в одном соединении
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.Open: pragma: %w", err)
	}
	if err := migrations.RunSQLite(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	return &Store{db: db, ttlDays: ttlDays}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreatePendingPosition(
	ctx context.Context,
	signalSpread float64,
	signalTs int64,
	metadata models.PositionMetadata,
	nowMs int64,
) (*models.PositionRecord, error) {
	meta, err := sonic.MarshalString(metadata)
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreatePendingPosition: metadata: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO positions (
			position_id, status, created_at_ts, updated_at_ts,
			signal_spread, signal_ts, last_open_alert_ts, metadata_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+positionColumns,
		uuid.NewString(), string(models.StatusPendingConfirm), nowMs, nowMs, signalSpread, signalTs, nowMs, meta,
	)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreatePendingPosition: %w", err)
	}
	return p, nil
}

func (s *Store) GetPosition(ctx context.Context, positionID string) (*models.PositionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE position_id = ?`, positionID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.GetPosition: %w", err)
	}
	return p, nil
}

func (s *Store) ListPositions(ctx context.Context, statuses ...models.PositionStatus) ([]*models.PositionRecord, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY signal_ts ASC, created_at_ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite.ListPositions: %w", err)
	}
	defer rows.Close()

	var out []*models.PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite.ListPositions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CompareAndSwapStatus(
	ctx context.Context,
	positionID string,
	expected []models.PositionStatus,
	next models.PositionStatus,
	f models.PositionUpdate,
) (*models.PositionRecord, error) {
	if err := storage.ValidateTransition(expected, next); err != nil {
		return nil, err
	}

	args := []any{
		string(next), f.UpdatedAtTs,
		f.EntrySpreadActual, f.OpenedAtConfirmTs, f.CloseTrigger, f.CloseSignalledTs,
		f.LastCloseAlertTs, f.CloseSpreadActual, f.ClosedAtConfirmTs, f.ChatID,
		positionID,
	}
	for _, st := range expected {
		args = append(args, string(st))
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE positions SET
			status               = ?,
			updated_at_ts        = ?,
			entry_spread_actual  = COALESCE(?, entry_spread_actual),
			opened_at_confirm_ts = COALESCE(?, opened_at_confirm_ts),
			close_trigger        = COALESCE(?, close_trigger),
			close_signalled_ts   = COALESCE(?, close_signalled_ts),
			last_close_alert_ts  = COALESCE(?, last_close_alert_ts),
			close_spread_actual  = COALESCE(?, close_spread_actual),
			closed_at_confirm_ts = COALESCE(?, closed_at_confirm_ts),
			chat_id              = COALESCE(?, chat_id)
		WHERE position_id = ? AND status IN (`+placeholders(len(expected))+`)
		RETURNING `+positionColumns,
		args...,
	)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.CompareAndSwapStatus: %w", err)
	}
	return p, nil
}

func (s *Store) MarkOpenAlertSent(ctx context.Context, positionID string, nowMs int64) error {
	return s.stamp(ctx, "last_open_alert_ts", positionID, nowMs)
}

func (s *Store) MarkCloseAlertSent(ctx context.Context, positionID string, nowMs int64) error {
	return s.stamp(ctx, "last_close_alert_ts", positionID, nowMs)
}

func (s *Store) stamp(ctx context.Context, column, positionID string, nowMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET `+column+` = ?, updated_at_ts = ? WHERE position_id = ?`,
		nowMs, nowMs, positionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite.stamp %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite.stamp %s: %w", column, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) LoadConfigOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config_key, value FROM config_overrides`)
	if err != nil {
		return nil, fmt.Errorf("sqlite.LoadConfigOverrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlite.LoadConfigOverrides: scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) SaveConfigOverride(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_overrides (config_key, value, updated_at_ts) VALUES (?, ?, ?)
		ON CONFLICT (config_key) DO UPDATE SET value = excluded.value, updated_at_ts = excluded.updated_at_ts`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite.SaveConfigOverride: %w", err)
	}
	return nil
}

func (s *Store) PutAlert(ctx context.Context, a *models.AlertRecord) error {
	if a == nil || a.AlertType == "" {
		return storage.ErrInvalidInput
	}
	id := a.AlertID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, ts_ms, alert_type, position_id, message, spread, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, a.TsMs, string(a.AlertType), a.PositionID, a.Message, a.Spread,
		storage.ExpiresAt(a.TsMs, s.ttlDays),
	)
	if err != nil {
		return fmt.Errorf("sqlite.PutAlert: %w", err)
	}
	return nil
}

func (s *Store) PutTick(ctx context.Context, pair string, t models.MarketSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ticks (
			pair, ts_ms, paxg_bid, paxg_ask, xaut_bid, xaut_ask, spread_open, spread_close,
			paxg_funding, xaut_funding, funding_diff_raw, funding_diff_annual, annual_factor,
			quote_size_paxg, quote_size_xaut, latency_ms, expires_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pair, t.TsMs, t.PaxgBid, t.PaxgAsk, t.XautBid, t.XautAsk, t.SpreadOpen, t.SpreadClose,
		t.PaxgFunding, t.XautFunding, t.FundingDiffRaw, t.FundingDiffAnnual, t.AnnualFactor,
		t.QuoteSizePaxg, t.QuoteSizeXaut, t.LatencyMs, storage.ExpiresAt(t.TsMs, s.ttlDays),
	)
	if err != nil {
		return fmt.Errorf("sqlite.PutTick: %w", err)
	}
	return nil
}

func (s *Store) RecentTicks(ctx context.Context, pair string, limit int) ([]models.MarketSnapshot, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_ms, paxg_bid, paxg_ask, xaut_bid, xaut_ask, spread_open, spread_close,
			paxg_funding, xaut_funding, funding_diff_raw, funding_diff_annual, annual_factor,
			quote_size_paxg, quote_size_xaut, latency_ms
		FROM ticks WHERE pair = ? ORDER BY ts_ms DESC LIMIT ?`,
		pair, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite.RecentTicks: %w", err)
	}
	defer rows.Close()

	var out []models.MarketSnapshot
	for rows.Next() {
		var t models.MarketSnapshot
		if err := rows.Scan(
			&t.TsMs, &t.PaxgBid, &t.PaxgAsk, &t.XautBid, &t.XautAsk, &t.SpreadOpen, &t.SpreadClose,
			&t.PaxgFunding, &t.XautFunding, &t.FundingDiffRaw, &t.FundingDiffAnnual, &t.AnnualFactor,
			&t.QuoteSizePaxg, &t.QuoteSizeXaut, &t.LatencyMs,
		); err != nil {
			return nil, fmt.Errorf("sqlite.RecentTicks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) PurgeExpired(ctx context.Context, nowMs int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite.PurgeExpired: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var removed int64
	for _, table := range []string{"ticks", "alerts"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at_ms <= ?`, nowMs)
		if err != nil {
			return 0, fmt.Errorf("sqlite.PurgeExpired: %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite.PurgeExpired: commit: %w", err)
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (*models.PositionRecord, error) {
	var (
		p      models.PositionRecord
		status string
		meta   string
	)
	err := row.Scan(
		&p.PositionID, &status, &p.CreatedAtTs, &p.UpdatedAtTs, &p.SignalSpread, &p.SignalTs,
		&p.LastOpenAlertTs, &p.EntrySpreadActual, &p.OpenedAtConfirmTs, &p.CloseTrigger,
		&p.CloseSignalledTs, &p.LastCloseAlertTs, &p.CloseSpreadActual, &p.ClosedAtConfirmTs,
		&p.ChatID, &meta,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.PositionStatus(status)
	if meta != "" {
		_ = sonic.UnmarshalString(meta, &p.Metadata)
	}
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
