package storage

import (
	"context"

	"var_gold/internal/models"
	"var_gold/internal/signals"
)

const dayMs = int64(24 * 60 * 60 * 1000)

// ExpiresAt считает момент истечения хранения записи (не меньше одного дня).
func ExpiresAt(tsMs int64, ttlDays int) int64 {
	if ttlDays < 1 {
		ttlDays = 1
	}
	return tsMs + int64(ttlDays)*dayMs
}

// ConfirmOpen: PENDING_CONFIRM -> OPEN_CONFIRMED, с вычислением close_trigger.
func ConfirmOpen(
	ctx context.Context,
	cs ConditionalStore,
	positionID string,
	entrySpread, closeBuffer float64,
	nowMs int64,
	chatID int64,
) (*models.PositionRecord, error) {
	return cs.CompareAndSwapStatus(ctx, positionID,
		[]models.PositionStatus{models.StatusPendingConfirm},
		models.StatusOpenConfirmed,
		models.PositionUpdate{
			UpdatedAtTs:       nowMs,
			EntrySpreadActual: models.Ptr(entrySpread),
			CloseTrigger:      models.Ptr(signals.CloseTrigger(entrySpread, closeBuffer)),
			OpenedAtConfirmTs: models.Ptr(nowMs),
			ChatID:            models.Ptr(chatID),
		},
	)
}

// MarkCloseSignalled: OPEN_CONFIRMED -> CLOSE_SIGNALLED.
func MarkCloseSignalled(ctx context.Context, cs ConditionalStore, positionID string, nowMs int64) (*models.PositionRecord, error) {
	return cs.CompareAndSwapStatus(ctx, positionID,
		[]models.PositionStatus{models.StatusOpenConfirmed},
		models.StatusCloseSignalled,
		models.PositionUpdate{
			UpdatedAtTs:      nowMs,
			CloseSignalledTs: models.Ptr(nowMs),
			LastCloseAlertTs: models.Ptr(nowMs),
		},
	)
}

// ClosePosition: OPEN_CONFIRMED | CLOSE_SIGNALLED -> CLOSED.
func ClosePosition(
	ctx context.Context,
	cs ConditionalStore,
	positionID string,
	closeSpread float64,
	nowMs int64,
	chatID int64,
) (*models.PositionRecord, error) {
	return cs.CompareAndSwapStatus(ctx, positionID,
		models.OpenStatuses,
		models.StatusClosed,
		models.PositionUpdate{
			UpdatedAtTs:       nowMs,
			CloseSpreadActual: models.Ptr(closeSpread),
			ClosedAtConfirmTs: models.Ptr(nowMs),
			ChatID:            models.Ptr(chatID),
		},
	)
}

// ValidateTransition проверяет, что каждый ожидаемый статус может перейти в next.
func ValidateTransition(expected []models.PositionStatus, next models.PositionStatus) error {
	if len(expected) == 0 || !next.Valid() {
		return ErrInvalidInput
	}
	for _, s := range expected {
		if !s.CanAdvance(next) {
			return ErrInvalidInput
		}
	}
	return nil
}
