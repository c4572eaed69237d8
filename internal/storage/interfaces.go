// Package storage описывает контракты хранилища позиций, настроек, тиков и журнала алертов.
package storage

import (
	"context"

	"var_gold/internal/models"
)

// ConditionalStore: единственная точка синхронизации переходов статуса.
// Проигранный CAS возвращает (nil, nil), а не ошибку.
type ConditionalStore interface {
	CompareAndSwapStatus(
		ctx context.Context,
		positionID string,
		expected []models.PositionStatus,
		next models.PositionStatus,
		fields models.PositionUpdate,
	) (*models.PositionRecord, error)
}

type PositionStore interface {
	ConditionalStore

	CreatePendingPosition(
		ctx context.Context,
		signalSpread float64,
		signalTs int64,
		metadata models.PositionMetadata,
		nowMs int64,
	) (*models.PositionRecord, error)
	// GetPosition returns ErrNotFound for unknown ids.
	GetPosition(ctx context.Context, positionID string) (*models.PositionRecord, error)
	// ListPositions returns records ordered by signal_ts ascending; no statuses means all.
	ListPositions(ctx context.Context, statuses ...models.PositionStatus) ([]*models.PositionRecord, error)
	MarkOpenAlertSent(ctx context.Context, positionID string, nowMs int64) error
	MarkCloseAlertSent(ctx context.Context, positionID string, nowMs int64) error
}

type ConfigStore interface {
	LoadConfigOverrides(ctx context.Context) (map[string]string, error)
	SaveConfigOverride(ctx context.Context, key, value string) error
}

type AlertStore interface {
	PutAlert(ctx context.Context, alert *models.AlertRecord) error
}

type TickStore interface {
	PutTick(ctx context.Context, pair string, snapshot models.MarketSnapshot) error
	// RecentTicks returns the newest ticks first.
	RecentTicks(ctx context.Context, pair string, limit int) ([]models.MarketSnapshot, error)
	// PurgeExpired deletes ticks and alerts past their retention and returns the number of rows removed.
	PurgeExpired(ctx context.Context, nowMs int64) (int64, error)
}

// TickSink: дополнительный приёмник тиков (time-series).
type TickSink interface {
	WriteTick(ctx context.Context, pair string, snapshot models.MarketSnapshot) error
	Flush(ctx context.Context) error
}

// Store: всё, что нужно сервису от основного хранилища.
type Store interface {
	PositionStore
	ConfigStore
	AlertStore
	TickStore
	Close() error
}
