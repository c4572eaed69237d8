package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"var_gold/internal/models"
	"var_gold/internal/storage"
	"var_gold/pkg/db"
)

const positionColumns = `position_id, status, created_at_ts, updated_at_ts, signal_spread, signal_ts,
	last_open_alert_ts, entry_spread_actual, opened_at_confirm_ts, close_trigger,
	close_signalled_ts, last_close_alert_ts, close_spread_actual, closed_at_confirm_ts,
	chat_id, metadata_json`

// Store: Postgres-реализация storage.Store. Переходы статуса делаются
// одним UPDATE ... WHERE status = ANY(...) RETURNING.
type Store struct {
	db      db.TxManager
	ttlDays int
}

var _ storage.Store = (*Store)(nil)

// New instance
func New(txm db.TxManager, ttlDays int) *Store {
	return &Store{db: txm, ttlDays: ttlDays}
}

func (s *Store) CreatePendingPosition(
	ctx context.Context,
	signalSpread float64,
	signalTs int64,
	metadata models.PositionMetadata,
	nowMs int64,
) (out *models.PositionRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.CreatePendingPosition: %w", err)
		}
	}()

	meta, err := sonic.MarshalString(metadata)
	if err != nil {
		return nil, err
	}

	row := s.db.Conn().QueryRow(ctx, `
		INSERT INTO positions (
			position_id, status, created_at_ts, updated_at_ts,
			signal_spread, signal_ts, last_open_alert_ts, metadata_json
		) VALUES ($1, $2, $3, $3, $4, $5, $3, $6)
		RETURNING `+positionColumns,
		uuid.NewString(), string(models.StatusPendingConfirm), nowMs, signalSpread, signalTs, meta,
	)
	return scanPosition(row)
}

func (s *Store) GetPosition(ctx context.Context, positionID string) (out *models.PositionRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.GetPosition: %w", err)
		}
	}()

	row := s.db.Conn().QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE position_id = $1`, positionID)
	out, err = scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return out, err
}

func (s *Store) ListPositions(ctx context.Context, statuses ...models.PositionStatus) (out []*models.PositionRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListPositions: %w", err)
		}
	}()

	query := `SELECT ` + positionColumns + ` FROM positions`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, statusStrings(statuses))
	}
	query += ` ORDER BY signal_ts ASC, created_at_ts ASC`

	rows, err := s.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
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
) (out *models.PositionRecord, err error) {
	if err := storage.ValidateTransition(expected, next); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.CompareAndSwapStatus: %w", err)
		}
	}()

	row := s.db.Conn().QueryRow(ctx, `
		UPDATE positions SET
			status               = $3,
			updated_at_ts        = $4,
			entry_spread_actual  = COALESCE($5, entry_spread_actual),
			opened_at_confirm_ts = COALESCE($6, opened_at_confirm_ts),
			close_trigger        = COALESCE($7, close_trigger),
			close_signalled_ts   = COALESCE($8, close_signalled_ts),
			last_close_alert_ts  = COALESCE($9, last_close_alert_ts),
			close_spread_actual  = COALESCE($10, close_spread_actual),
			closed_at_confirm_ts = COALESCE($11, closed_at_confirm_ts),
			chat_id              = COALESCE($12, chat_id)
		WHERE position_id = $1 AND status = ANY($2)
		RETURNING `+positionColumns,
		positionID, statusStrings(expected), string(next), f.UpdatedAtTs,
		f.EntrySpreadActual, f.OpenedAtConfirmTs, f.CloseTrigger, f.CloseSignalledTs,
		f.LastCloseAlertTs, f.CloseSpreadActual, f.ClosedAtConfirmTs, f.ChatID,
	)
	out, err = scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// статус уже сменил кто-то другой
		return nil, nil
	}
	return out, err
}

func (s *Store) MarkOpenAlertSent(ctx context.Context, positionID string, nowMs int64) error {
	return s.stamp(ctx, "last_open_alert_ts", positionID, nowMs)
}

func (s *Store) MarkCloseAlertSent(ctx context.Context, positionID string, nowMs int64) error {
	return s.stamp(ctx, "last_close_alert_ts", positionID, nowMs)
}

func (s *Store) stamp(ctx context.Context, column, positionID string, nowMs int64) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.stamp %s: %w", column, err)
		}
	}()

	tag, err := s.db.Conn().Exec(ctx,
		`UPDATE positions SET `+column+` = $2, updated_at_ts = $2 WHERE position_id = $1`,
		positionID, nowMs,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) LoadConfigOverrides(ctx context.Context) (out map[string]string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.LoadConfigOverrides: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `SELECT config_key, value FROM config_overrides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) SaveConfigOverride(ctx context.Context, key, value string) (err error) {
	if strings.TrimSpace(key) == "" {
		return storage.ErrInvalidInput
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveConfigOverride: %w", err)
		}
	}()

	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO config_overrides (config_key, value, updated_at_ts)
		VALUES ($1, $2, (extract(epoch from now()) * 1000)::bigint)
		ON CONFLICT (config_key) DO UPDATE SET value = EXCLUDED.value, updated_at_ts = EXCLUDED.updated_at_ts`,
		key, value,
	)
	return err
}

func (s *Store) PutAlert(ctx context.Context, a *models.AlertRecord) (err error) {
	if a == nil || a.AlertType == "" {
		return storage.ErrInvalidInput
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PutAlert: %w", err)
		}
	}()

	id := a.AlertID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO alerts (alert_id, ts_ms, alert_type, position_id, message, spread, expires_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, a.TsMs, string(a.AlertType), a.PositionID, a.Message, a.Spread,
		storage.ExpiresAt(a.TsMs, s.ttlDays),
	)
	return err
}

func (s *Store) PutTick(ctx context.Context, pair string, t models.MarketSnapshot) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PutTick: %w", err)
		}
	}()

	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO ticks (
			pair, ts_ms, paxg_bid, paxg_ask, xaut_bid, xaut_ask, spread_open, spread_close,
			paxg_funding, xaut_funding, funding_diff_raw, funding_diff_annual, annual_factor,
			quote_size_paxg, quote_size_xaut, latency_ms, expires_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (pair, ts_ms) DO NOTHING`,
		pair, t.TsMs, t.PaxgBid, t.PaxgAsk, t.XautBid, t.XautAsk, t.SpreadOpen, t.SpreadClose,
		t.PaxgFunding, t.XautFunding, t.FundingDiffRaw, t.FundingDiffAnnual, t.AnnualFactor,
		t.QuoteSizePaxg, t.QuoteSizeXaut, t.LatencyMs, storage.ExpiresAt(t.TsMs, s.ttlDays),
	)
	return err
}

func (s *Store) RecentTicks(ctx context.Context, pair string, limit int) (out []models.MarketSnapshot, err error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.RecentTicks: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, `
		SELECT ts_ms, paxg_bid, paxg_ask, xaut_bid, xaut_ask, spread_open, spread_close,
			paxg_funding, xaut_funding, funding_diff_raw, funding_diff_annual, annual_factor,
			quote_size_paxg, quote_size_xaut, latency_ms
		FROM ticks WHERE pair = $1 ORDER BY ts_ms DESC LIMIT $2`,
		pair, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.MarketSnapshot
		if err := rows.Scan(
			&t.TsMs, &t.PaxgBid, &t.PaxgAsk, &t.XautBid, &t.XautAsk, &t.SpreadOpen, &t.SpreadClose,
			&t.PaxgFunding, &t.XautFunding, &t.FundingDiffRaw, &t.FundingDiffAnnual, &t.AnnualFactor,
			&t.QuoteSizePaxg, &t.QuoteSizeXaut, &t.LatencyMs,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PurgeExpired чистит тики и алерты в одной транзакции.
func (s *Store) PurgeExpired(ctx context.Context, nowMs int64) (removed int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.PurgeExpired: %w", err)
		}
	}()

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		for _, table := range []string{"ticks", "alerts"} {
			tag, err := tx.Exec(ctxTx, `DELETE FROM `+table+` WHERE expires_at_ms <= $1`, nowMs)
			if err != nil {
				return err
			}
			removed += tag.RowsAffected()
		}
		return nil
	})
	return removed, err
}

// Close пул закрывает владелец PgTxManager.
func (s *Store) Close() error { return nil }

func scanPosition(row pgx.Row) (*models.PositionRecord, error) {
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
		// битые метаданные не должны ломать чтение позиции
		_ = sonic.UnmarshalString(meta, &p.Metadata)
	}
	return &p, nil
}

func statusStrings(statuses []models.PositionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
