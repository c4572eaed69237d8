// Package position ведёт жизненный цикл позиций: сигнал, подтверждение входа,
// сигнал на выход и подтверждение закрытия.
package position

import (
	"context"

	"github.com/pkg/errors"

	"var_gold/internal/models"
	"var_gold/internal/notify"
	"var_gold/internal/signals"
	"var_gold/internal/storage"
	"var_gold/pkg/logger"
	"var_gold/pkg/tracing"
)

// Store: то, что менеджеру нужно от хранилища.
type Store interface {
	storage.PositionStore
	storage.AlertStore
}

// Manager не держит состояния: все чтения и записи идут через Store,
// переходы статуса только через CAS.
type Manager struct {
	store    Store
	notifier notify.Notifier
}

func NewManager(store Store, notifier notify.Notifier) *Manager {
	return &Manager{store: store, notifier: notifier}
}

// ProcessOpenSignals создаёт ожидающую позицию или напоминает о существующей.
func (m *Manager) ProcessOpenSignals(ctx context.Context, snap models.MarketSnapshot, cfg models.RuntimeConfig, nowMs int64) (err error) {
	if !signals.IsOpenSignal(snap, cfg.ThresholdOpen) {
		return nil
	}
	span, ctx := tracing.Start(ctx, "position.ProcessOpenSignals")
	defer func() { tracing.Finish(span, err) }()

	pending, err := m.store.ListPositions(ctx, models.StatusPendingConfirm)
	if err != nil {
		return errors.Wrap(err, "list pending positions")
	}

	latest := ResolveLatest(pending)
	if latest.Outcome == NotFound {
		p, err := m.store.CreatePendingPosition(ctx, snap.SpreadOpen, snap.TsMs, models.PositionMetadata{
			SpreadClose:       models.Ptr(snap.SpreadClose),
			FundingDiffAnnual: snap.FundingDiffAnnual,
		}, nowMs)
		if err != nil {
			return errors.Wrap(err, "create pending position")
		}
		logger.Info("open signal position_id=%s spread_open=%.2f", p.PositionID, snap.SpreadOpen)
		m.notifier.Broadcast(ctx, OpenSignalMessage(p, snap, cfg.ThresholdOpen, false))
		m.putAlert(ctx, models.AlertOpenSignal, p.PositionID, "open signal created", nowMs, snap.SpreadOpen)
		return nil
	}

	p := latest.Position
	if !signals.ShouldRepeat(p.LastOpenAlertTs, nowMs, cfg.RepeatAlertSec) {
		return nil
	}
	// штамп ставится до отправки
	if err := m.store.MarkOpenAlertSent(ctx, p.PositionID, nowMs); err != nil {
		return errors.Wrap(err, "mark open alert sent")
	}
	m.notifier.Broadcast(ctx, OpenSignalMessage(p, snap, cfg.ThresholdOpen, true))
	m.putAlert(ctx, models.AlertOpenSignalRepeat, p.PositionID, "open signal reminder", nowMs, snap.SpreadOpen)
	return nil
}

// ProcessCloseSignals переводит сработавшие позиции в CLOSE_SIGNALLED и напоминает о них.
func (m *Manager) ProcessCloseSignals(ctx context.Context, snap models.MarketSnapshot, cfg models.RuntimeConfig, nowMs int64) (err error) {
	span, ctx := tracing.Start(ctx, "position.ProcessCloseSignals")
	defer func() { tracing.Finish(span, err) }()

	open, err := m.store.ListPositions(ctx, models.OpenStatuses...)
	if err != nil {
		return errors.Wrap(err, "list open positions")
	}

	for _, p := range open {
		if p.CloseTrigger == nil {
			continue
		}

		switch p.Status {
		case models.StatusOpenConfirmed:
			if !signals.IsCloseSignal(snap, p) {
				continue
			}
			updated, err := storage.MarkCloseSignalled(ctx, m.store, p.PositionID, nowMs)
			if err != nil {
				logger.Error("mark close signalled position_id=%s: %v", p.PositionID, err)
				continue
			}
			if updated == nil {
				// кто-то успел раньше
				continue
			}
			logger.Info("close signal position_id=%s spread_close=%.2f", p.PositionID, snap.SpreadClose)
			m.notifier.Broadcast(ctx, CloseSignalMessage(updated, snap, false))
			m.putAlert(ctx, models.AlertCloseSignal, p.PositionID, "close signal triggered", nowMs, snap.SpreadClose)

		case models.StatusCloseSignalled:
			if !signals.ShouldRepeat(p.LastCloseAlertTs, nowMs, cfg.RepeatAlertSec) {
				continue
			}
			if err := m.store.MarkCloseAlertSent(ctx, p.PositionID, nowMs); err != nil {
				logger.Error("mark close alert sent position_id=%s: %v", p.PositionID, err)
				continue
			}
			m.notifier.Broadcast(ctx, CloseSignalMessage(p, snap, true))
			m.putAlert(ctx, models.AlertCloseSignalRepeat, p.PositionID, "close signal reminder", nowMs, snap.SpreadClose)
		}
	}
	return nil
}

// ConfirmOpen подтверждает вход. Пустой positionID: единственная ожидающая позиция.
// (nil, nil) означает «подтверждать нечего».
func (m *Manager) ConfirmOpen(
	ctx context.Context,
	chatID int64,
	entrySpreadActual, closeBuffer float64,
	nowMs int64,
	positionID string,
) (p *models.PositionRecord, err error) {
	span, ctx := tracing.Start(ctx, "position.ConfirmOpen")
	defer func() { tracing.Finish(span, err) }()

	if positionID == "" {
		pending, err := m.store.ListPositions(ctx, models.StatusPendingConfirm)
		if err != nil {
			return nil, errors.Wrap(err, "list pending positions")
		}
		r := ResolveSole(pending)
		if r.Outcome != Found {
			logger.Info("confirm open: %s", r.Outcome)
			return nil, nil
		}
		positionID = r.Position.PositionID
	}

	p, err = storage.ConfirmOpen(ctx, m.store, positionID, entrySpreadActual, closeBuffer, nowMs, chatID)
	if err != nil || p == nil {
		return nil, err
	}
	m.putAlert(ctx, models.AlertOpenConfirmed, p.PositionID, "position open confirmed", nowMs, entrySpreadActual)
	return p, nil
}

// ConfirmClose закрывает позицию. Без positionID кандидат должен быть ровно один.
func (m *Manager) ConfirmClose(
	ctx context.Context,
	chatID int64,
	closeSpreadActual float64,
	nowMs int64,
	positionID string,
) (p *models.PositionRecord, err error) {
	span, ctx := tracing.Start(ctx, "position.ConfirmClose")
	defer func() { tracing.Finish(span, err) }()

	if positionID == "" {
		candidates, err := m.store.ListPositions(ctx, models.OpenStatuses...)
		if err != nil {
			return nil, errors.Wrap(err, "list open positions")
		}
		r := ResolveSole(candidates)
		if r.Outcome != Found {
			logger.Info("confirm close: %s", r.Outcome)
			return nil, nil
		}
		positionID = r.Position.PositionID
	}

	p, err = storage.ClosePosition(ctx, m.store, positionID, closeSpreadActual, nowMs, chatID)
	if err != nil || p == nil {
		return nil, err
	}
	m.putAlert(ctx, models.AlertCloseConfirmed, p.PositionID, "position close confirmed", nowMs, closeSpreadActual)
	return p, nil
}

// ListActivePositions: все нетерминальные позиции, старые первыми.
func (m *Manager) ListActivePositions(ctx context.Context) ([]*models.PositionRecord, error) {
	return m.store.ListPositions(ctx, models.ActiveStatuses...)
}

func (m *Manager) putAlert(ctx context.Context, t models.AlertType, positionID, message string, nowMs int64, spread float64) {
	err := m.store.PutAlert(ctx, &models.AlertRecord{
		TsMs:       nowMs,
		AlertType:  t,
		PositionID: positionID,
		Message:    message,
		Spread:     models.Ptr(spread),
	})
	if err != nil {
		logger.Warn("alert log %s position_id=%s: %v", t, positionID, err)
	}
}
