// Package storagetest содержит общий набор проверок для реализаций storage.Store.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"var_gold/internal/models"
	"var_gold/internal/storage"
)

// Run прогоняет контракт хранилища. newStore должен возвращать пустое хранилище.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { testListOrderAndFilter(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("CASMismatchIsNoMatch", func(t *testing.T) { testCASMismatch(t, newStore(t)) })
	t.Run("CASRejectsIllegalTransition", func(t *testing.T) { testCASIllegal(t, newStore(t)) })
	t.Run("ConcurrentConfirmOpen", func(t *testing.T) { testConcurrentConfirm(t, newStore(t)) })
	t.Run("AlertStamps", func(t *testing.T) { testAlertStamps(t, newStore(t)) })
	t.Run("ConfigOverrides", func(t *testing.T) { testConfigOverrides(t, newStore(t)) })
	t.Run("TicksAndRetention", func(t *testing.T) { testTicks(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()

	meta := models.PositionMetadata{SpreadClose: models.Ptr(-41.5), FundingDiffAnnual: models.Ptr(1.825)}
	p, err := s.CreatePendingPosition(ctx, 41.2, 900, meta, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, p.PositionID)
	assert.Equal(t, models.StatusPendingConfirm, p.Status)
	require.NotNil(t, p.LastOpenAlertTs)
	assert.Equal(t, int64(1000), *p.LastOpenAlertTs)

	got, err := s.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, p.PositionID, got.PositionID)
	assert.Equal(t, 41.2, got.SignalSpread)
	assert.Equal(t, int64(900), got.SignalTs)
	assert.Equal(t, int64(1000), got.CreatedAtTs)
	require.NotNil(t, got.Metadata.SpreadClose)
	assert.Equal(t, -41.5, *got.Metadata.SpreadClose)
	require.NotNil(t, got.Metadata.FundingDiffAnnual)
	assert.Equal(t, 1.825, *got.Metadata.FundingDiffAnnual)
	assert.Nil(t, got.CloseTrigger)
	assert.Nil(t, got.ChatID)

	_, err = s.GetPosition(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testListOrderAndFilter(t *testing.T, s storage.Store) {
	ctx := context.Background()

	late, err := s.CreatePendingPosition(ctx, 40, 3000, models.PositionMetadata{}, 3000)
	require.NoError(t, err)
	early, err := s.CreatePendingPosition(ctx, 40, 1000, models.PositionMetadata{}, 1000)
	require.NoError(t, err)
	mid, err := s.CreatePendingPosition(ctx, 40, 2000, models.PositionMetadata{}, 2000)
	require.NoError(t, err)

	_, err = storage.ConfirmOpen(ctx, s, mid.PositionID, 40, 0, 2500, 1)
	require.NoError(t, err)

	all, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{early.PositionID, mid.PositionID, late.PositionID}, ids(all))

	pending, err := s.ListPositions(ctx, models.StatusPendingConfirm)
	require.NoError(t, err)
	assert.Equal(t, []string{early.PositionID, late.PositionID}, ids(pending))

	open, err := s.ListPositions(ctx, models.OpenStatuses...)
	require.NoError(t, err)
	assert.Equal(t, []string{mid.PositionID}, ids(open))
}

func testLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()

	p, err := s.CreatePendingPosition(ctx, 41, 1000, models.PositionMetadata{}, 1000)
	require.NoError(t, err)

	opened, err := storage.ConfirmOpen(ctx, s, p.PositionID, 39, 2, 2000, 42)
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.Equal(t, models.StatusOpenConfirmed, opened.Status)
	assert.Equal(t, 39.0, *opened.EntrySpreadActual)
	assert.Equal(t, -37.0, *opened.CloseTrigger)
	assert.Equal(t, int64(2000), *opened.OpenedAtConfirmTs)
	assert.Equal(t, int64(42), *opened.ChatID)
	assert.Equal(t, int64(2000), opened.UpdatedAtTs)

	signalled, err := storage.MarkCloseSignalled(ctx, s, p.PositionID, 3000)
	require.NoError(t, err)
	require.NotNil(t, signalled)
	assert.Equal(t, models.StatusCloseSignalled, signalled.Status)
	assert.Equal(t, int64(3000), *signalled.CloseSignalledTs)
	assert.Equal(t, int64(3000), *signalled.LastCloseAlertTs)
	assert.Equal(t, -37.0, *signalled.CloseTrigger, "fields not in the update stay intact")

	closed, err := storage.ClosePosition(ctx, s, p.PositionID, -36.5, 4000, 43)
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.Equal(t, -36.5, *closed.CloseSpreadActual)
	assert.Equal(t, int64(4000), *closed.ClosedAtConfirmTs)
	assert.Equal(t, int64(43), *closed.ChatID)

	got, err := s.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)
}

func testCASMismatch(t *testing.T, s storage.Store) {
	ctx := context.Background()

	p, err := s.CreatePendingPosition(ctx, 41, 1000, models.PositionMetadata{}, 1000)
	require.NoError(t, err)

	got, err := storage.MarkCloseSignalled(ctx, s, p.PositionID, 2000)
	require.NoError(t, err)
	assert.Nil(t, got, "pending position cannot be close-signalled")

	got, err = storage.ClosePosition(ctx, s, p.PositionID, 1, 2000, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = storage.ConfirmOpen(ctx, s, "00000000-0000-0000-0000-000000000000", 39, 0, 2000, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "unknown id is a no-match")

	still, err := s.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingConfirm, still.Status)
}

func testCASIllegal(t *testing.T, s storage.Store) {
	ctx := context.Background()

	p, err := s.CreatePendingPosition(ctx, 41, 1000, models.PositionMetadata{}, 1000)
	require.NoError(t, err)

	_, err = s.CompareAndSwapStatus(ctx, p.PositionID,
		[]models.PositionStatus{models.StatusOpenConfirmed},
		models.StatusPendingConfirm,
		models.PositionUpdate{UpdatedAtTs: 2000},
	)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.CompareAndSwapStatus(ctx, p.PositionID, nil, models.StatusOpenConfirmed, models.PositionUpdate{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func testConcurrentConfirm(t *testing.T, s storage.Store) {
	ctx := context.Background()

	p, err := s.CreatePendingPosition(ctx, 41, 1000, models.PositionMetadata{}, 1000)
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			<-start
			rec, err := storage.ConfirmOpen(ctx, s, p.PositionID, 39, 0, 2000, chatID)
			assert.NoError(t, err)
			if rec != nil {
				winners.Add(1)
			}
		}(int64(i + 1))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	got, err := s.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpenConfirmed, got.Status)
}

func testAlertStamps(t *testing.T, s storage.Store) {
	ctx := context.Background()

	p, err := s.CreatePendingPosition(ctx, 41, 1000, models.PositionMetadata{}, 1000)
	require.NoError(t, err)

	require.NoError(t, s.MarkOpenAlertSent(ctx, p.PositionID, 5000))
	got, err := s.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), *got.LastOpenAlertTs)
	assert.Equal(t, int64(5000), got.UpdatedAtTs)

	require.NoError(t, s.MarkCloseAlertSent(ctx, p.PositionID, 6000))
	got, err = s.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), *got.LastCloseAlertTs)
	assert.Equal(t, models.StatusPendingConfirm, got.Status, "stamps never change status")

	require.NoError(t, s.PutAlert(ctx, &models.AlertRecord{
		TsMs:       5000,
		AlertType:  models.AlertOpenSignalRepeat,
		PositionID: p.PositionID,
		Message:    "open signal reminder",
		Spread:     models.Ptr(41.0),
	}))
	assert.ErrorIs(t, s.PutAlert(ctx, &models.AlertRecord{TsMs: 1}), storage.ErrInvalidInput)
}

func testConfigOverrides(t *testing.T, s storage.Store) {
	ctx := context.Background()

	got, err := s.LoadConfigOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SaveConfigOverride(ctx, "threshold_open", "42.5"))
	require.NoError(t, s.SaveConfigOverride(ctx, "repeat_alert_sec", "60"))
	require.NoError(t, s.SaveConfigOverride(ctx, "threshold_open", "43"))

	got, err = s.LoadConfigOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"threshold_open": "43", "repeat_alert_sec": "60"}, got)
}

func testTicks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const day = int64(24 * 60 * 60 * 1000)

	for i := int64(1); i <= 3; i++ {
		snap := models.NewMarketSnapshot(i*day,
			models.Quote{Bid: 2345 + float64(i), Ask: 2346, Size: "size_100k"},
			models.Quote{Bid: 2300, Ask: 2301, Size: "size_100k"},
			nil, nil, 365, 10)
		require.NoError(t, s.PutTick(ctx, models.Pair, snap))
	}

	recent, err := s.RecentTicks(ctx, models.Pair, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 3*day, recent[0].TsMs)
	assert.Equal(t, 2*day, recent[1].TsMs)
	assert.InDelta(t, 2348-2301.0, recent[0].SpreadOpen, 1e-9)

	// хранилища в тестах создаются с ttl в один день
	removed, err := s.PurgeExpired(ctx, 3*day+1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(2))

	recent, err = s.RecentTicks(ctx, models.Pair, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 3*day, recent[0].TsMs)
}

func ids(ps []*models.PositionRecord) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.PositionID)
	}
	return out
}
