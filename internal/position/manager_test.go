package position

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"var_gold/internal/models"
	"var_gold/internal/storage"
	"var_gold/internal/storage/memory"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) SendToChannel(_ context.Context, _ int64, text string) { r.Broadcast(context.TODO(), text) }

func (r *recorder) Broadcast(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func snapshot(spreadOpen, spreadClose float64) models.MarketSnapshot {
	return models.MarketSnapshot{
		TsMs:              1000,
		PaxgBid:           2300,
		PaxgAsk:           2301,
		XautBid:           2299,
		XautAsk:           2300,
		SpreadOpen:        spreadOpen,
		SpreadClose:       spreadClose,
		FundingDiffAnnual: models.Ptr(1.825),
		AnnualFactor:      365,
		QuoteSizePaxg:     "size_100k",
		QuoteSizeXaut:     "size_100k",
	}
}

func cfg() models.RuntimeConfig {
	return models.RuntimeConfig{ThresholdOpen: 40, RepeatAlertSec: 300}
}

func newManager() (*Manager, *memory.Store, *recorder) {
	store := memory.New(1)
	rec := &recorder{}
	return NewManager(store, rec), store, rec
}

func TestOpenSignalCreatesPendingOnce(t *testing.T) {
	ctx := context.Background()
	m, store, rec := newManager()

	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(42, -38.5), cfg(), 2_000_000))

	positions, err := store.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, models.StatusPendingConfirm, positions[0].Status)
	assert.Equal(t, 42.0, positions[0].SignalSpread)
	require.NotNil(t, positions[0].Metadata.SpreadClose)
	assert.Equal(t, -38.5, *positions[0].Metadata.SpreadClose)
	assert.Equal(t, 1, rec.count())
	assert.Contains(t, rec.sent[0], "<b>Open Signal</b>")
	assert.Contains(t, rec.sent[0], positions[0].PositionID)

	alerts := store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertOpenSignal, alerts[0].AlertType)
}

func TestNoOpenSignalBelowThreshold(t *testing.T) {
	ctx := context.Background()
	m, store, rec := newManager()

	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(39.99, -38), cfg(), 1))

	positions, err := store.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Zero(t, rec.count())
}

func TestOpenSignalReminderRespectsCooldown(t *testing.T) {
	ctx := context.Background()
	m, store, rec := newManager()
	now := int64(2_000_000)

	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(41, -38), cfg(), now))
	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(41, -38), cfg(), now+299_000))
	assert.Equal(t, 1, rec.count())

	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(41, -38), cfg(), now+300_000))
	assert.Equal(t, 2, rec.count())
	assert.Contains(t, rec.sent[1], "Open Signal Reminder")

	positions, err := store.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.NotNil(t, positions[0].LastOpenAlertTs)
	assert.Equal(t, now+300_000, *positions[0].LastOpenAlertTs)
}

func TestCloseSignalPromotesPosition(t *testing.T) {
	ctx := context.Background()
	m, store, rec := newManager()

	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(42, -40), cfg(), 1_000))
	p, err := m.ConfirmOpen(ctx, 7, 39, 0, 2_000, "")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, -39.0, *p.CloseTrigger)

	require.NoError(t, m.ProcessCloseSignals(ctx, snapshot(30, -39.5), cfg(), 2_400_000))
	got, err := store.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpenConfirmed, got.Status)

	require.NoError(t, m.ProcessCloseSignals(ctx, snapshot(30, -38.9), cfg(), 2_500_000))
	got, err = store.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCloseSignalled, got.Status)
	assert.Equal(t, 2, rec.count())
	assert.Contains(t, rec.sent[1], "<b>Close Signal</b>")
}

func TestCloseSignalReminder(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newManager()

	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(42, -40), cfg(), 1_000))
	_, err := m.ConfirmOpen(ctx, 7, 39, 0, 2_000, "")
	require.NoError(t, err)
	require.NoError(t, m.ProcessCloseSignals(ctx, snapshot(0, -38), cfg(), 10_000))
	require.Equal(t, 2, rec.count())

	require.NoError(t, m.ProcessCloseSignals(ctx, snapshot(0, -38), cfg(), 10_000+299_999))
	assert.Equal(t, 2, rec.count())

	require.NoError(t, m.ProcessCloseSignals(ctx, snapshot(0, -50), cfg(), 10_000+300_000))
	assert.Equal(t, 3, rec.count())
	assert.Contains(t, rec.sent[2], "Close Signal Reminder")
}

func TestConcurrentConfirmOpenHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager()
	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(42, -40), cfg(), 1_000))

	pending, err := store.ListPositions(ctx, models.StatusPendingConfirm)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].PositionID

	const workers = 2
	results := make([]*models.PositionRecord, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := m.ConfirmOpen(ctx, int64(i+1), 39, 0, 2_000, id)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r != nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	got, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpenConfirmed, got.Status)
}

func TestConfirmOpenWithoutPendingIsNoMatch(t *testing.T) {
	m, _, _ := newManager()
	p, err := m.ConfirmOpen(context.Background(), 1, 39, 0, 1, "")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = m.ConfirmOpen(context.Background(), 1, 39, 0, 1, "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestConfirmCloseAmbiguity(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager()

	var ids []string
	for i := 0; i < 2; i++ {
		p, err := store.CreatePendingPosition(ctx, 41, int64(i+1), models.PositionMetadata{}, int64(i+1))
		require.NoError(t, err)
		_, err = m.ConfirmOpen(ctx, 1, 39, 0, 10, p.PositionID)
		require.NoError(t, err)
		ids = append(ids, p.PositionID)
	}

	p, err := m.ConfirmClose(ctx, 1, -38, 20, "")
	require.NoError(t, err)
	assert.Nil(t, p, "two open positions without id must not match")

	p, err = m.ConfirmClose(ctx, 1, -38, 20, ids[1])
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.StatusClosed, p.Status)

	p, err = m.ConfirmClose(ctx, 1, -37, 30, "")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, ids[0], p.PositionID)
}

func TestRoundTripVisitsStatesInOrder(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager()

	require.NoError(t, m.ProcessOpenSignals(ctx, snapshot(45, -41), cfg(), 1_000))
	active, err := m.ListActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	id := active[0].PositionID
	seen := []models.PositionStatus{active[0].Status}

	p, err := m.ConfirmOpen(ctx, 9, 39, 2, 2_000, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	seen = append(seen, p.Status)
	assert.Equal(t, -37.0, *p.CloseTrigger)

	require.NoError(t, m.ProcessCloseSignals(ctx, snapshot(0, -37), cfg(), 3_000))
	got, err := store.GetPosition(ctx, id)
	require.NoError(t, err)
	seen = append(seen, got.Status)

	p, err = m.ConfirmClose(ctx, 9, -37, 4_000, "")
	require.NoError(t, err)
	require.NotNil(t, p)
	seen = append(seen, p.Status)

	assert.Equal(t, []models.PositionStatus{
		models.StatusPendingConfirm,
		models.StatusOpenConfirmed,
		models.StatusCloseSignalled,
		models.StatusClosed,
	}, seen)

	// закрытая позиция не откатывается
	again, err := m.ConfirmOpen(ctx, 9, 39, 0, 5_000, id)
	require.NoError(t, err)
	assert.Nil(t, again)

	active, err = m.ListActivePositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	var types []models.AlertType
	for _, a := range store.Alerts() {
		types = append(types, a.AlertType)
	}
	assert.Equal(t, []models.AlertType{
		models.AlertOpenSignal,
		models.AlertOpenConfirmed,
		models.AlertCloseSignal,
		models.AlertCloseConfirmed,
	}, types)
}

func TestResolvers(t *testing.T) {
	a := &models.PositionRecord{PositionID: "a"}
	b := &models.PositionRecord{PositionID: "b"}

	assert.Equal(t, NotFound, ResolveSole(nil).Outcome)
	assert.Equal(t, Found, ResolveSole([]*models.PositionRecord{a}).Outcome)
	assert.Equal(t, Ambiguous, ResolveSole([]*models.PositionRecord{a, b}).Outcome)

	r := ResolveLatest([]*models.PositionRecord{a, b})
	assert.Equal(t, Found, r.Outcome)
	assert.Equal(t, "b", r.Position.PositionID)
}

func TestMessages(t *testing.T) {
	p := &models.PositionRecord{
		PositionID:        "pos-1",
		Status:            models.StatusOpenConfirmed,
		UpdatedAtTs:       0,
		EntrySpreadActual: models.Ptr(39.0),
		CloseTrigger:      models.Ptr(-39.0),
	}
	msg := CloseSignalMessage(p, snapshot(0, -38.9), false)
	assert.Contains(t, msg, "spread_close now: <b>$-38.90</b>")
	assert.Contains(t, msg, "close_trigger: $-39.00")
	assert.Contains(t, msg, "entry_actual: $39.0000")

	assert.Equal(t,
		"pos-1 | OPEN_CONFIRMED | entry=39.00 | close_trigger=-39.00 | updated=1970-01-01 00:00:00 UTC",
		Summary(p))

	assert.Equal(t, "N/A", FormatOptional(nil, "$", ""))
}

// closingStore закрывает открытые позиции сразу после того, как менеджер их прочитал.
type closingStore struct {
	*memory.Store
	once sync.Once
}

func (s *closingStore) ListPositions(ctx context.Context, statuses ...models.PositionStatus) ([]*models.PositionRecord, error) {
	positions, err := s.Store.ListPositions(ctx, statuses...)
	if err != nil || !models.StatusIn(models.StatusOpenConfirmed, statuses) {
		return positions, err
	}
	s.once.Do(func() {
		for _, p := range positions {
			_, _ = storage.ClosePosition(ctx, s.Store, p.PositionID, -30, 5_000, 99)
		}
	})
	return positions, err
}

func openConfirmed(t *testing.T, store *memory.Store) *models.PositionRecord {
	t.Helper()
	ctx := context.Background()
	p, err := store.CreatePendingPosition(ctx, 42, 1_000, models.PositionMetadata{}, 1_000)
	require.NoError(t, err)
	p, err = storage.ConfirmOpen(ctx, store, p.PositionID, 39, 0, 2_000, 7)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func alertsOfType(store *memory.Store, t models.AlertType) int {
	n := 0
	for _, a := range store.Alerts() {
		if a.AlertType == t {
			n++
		}
	}
	return n
}

func TestCloseSignalSkipsPositionClosedConcurrently(t *testing.T) {
	ctx := context.Background()
	inner := memory.New(1)
	p := openConfirmed(t, inner)
	rec := &recorder{}
	m := NewManager(&closingStore{Store: inner}, rec)

	require.NoError(t, m.ProcessCloseSignals(ctx, snapshot(0, -30), cfg(), 10_000))

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, alertsOfType(inner, models.AlertCloseSignal))
	got, err := inner.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, got.Status)
	assert.Nil(t, got.CloseSignalledTs)
}

func TestConfirmCloseLosesToConcurrentClose(t *testing.T) {
	ctx := context.Background()
	inner := memory.New(1)
	p := openConfirmed(t, inner)
	rec := &recorder{}
	m := NewManager(&closingStore{Store: inner}, rec)

	got, err := m.ConfirmClose(ctx, 7, -31, 10_000, "")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, alertsOfType(inner, models.AlertCloseConfirmed))

	stored, err := inner.GetPosition(ctx, p.PositionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, stored.Status)
	require.NotNil(t, stored.CloseSpreadActual)
	assert.Equal(t, -30.0, *stored.CloseSpreadActual)
}
