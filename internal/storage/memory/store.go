package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"var_gold/internal/models"
	"var_gold/internal/storage"
)

type tickRow struct {
	pair      string
	snapshot  models.MarketSnapshot
	expiresAt int64
}

type alertRow struct {
	alert     models.AlertRecord
	expiresAt int64
}

// Store is an in-memory implementation of storage.Store.
// Every status transition happens under the write lock, so CAS semantics match the SQL stores.
type Store struct {
	ttlDays int

	mu        sync.RWMutex
	positions map[string]*models.PositionRecord
	overrides map[string]string
	ticks     []tickRow
	alerts    []alertRow
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New(ttlDays int) *Store {
	return &Store{
		ttlDays:   ttlDays,
		positions: make(map[string]*models.PositionRecord),
		overrides: make(map[string]string),
	}
}

// CreatePendingPosition stores a new PENDING_CONFIRM position with a fresh uuid.
func (s *Store) CreatePendingPosition(
	_ context.Context,
	signalSpread float64,
	signalTs int64,
	metadata models.PositionMetadata,
	nowMs int64,
) (*models.PositionRecord, error) {
	p := &models.PositionRecord{
		PositionID:      uuid.NewString(),
		Status:          models.StatusPendingConfirm,
		CreatedAtTs:     nowMs,
		UpdatedAtTs:     nowMs,
		SignalSpread:    signalSpread,
		SignalTs:        signalTs,
		LastOpenAlertTs: models.Ptr(nowMs),
		Metadata:        metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.PositionID] = p.Clone()
	return p, nil
}

// GetPosition returns a copy of the position or ErrNotFound.
func (s *Store) GetPosition(_ context.Context, positionID string) (*models.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// ListPositions returns copies ordered by signal_ts ascending.
func (s *Store) ListPositions(_ context.Context, statuses ...models.PositionStatus) ([]*models.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.PositionRecord, 0, len(s.positions))
	for _, p := range s.positions {
		if len(statuses) > 0 && !models.StatusIn(p.Status, statuses) {
			continue
		}
		result = append(result, p.Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].SignalTs != result[j].SignalTs {
			return result[i].SignalTs < result[j].SignalTs
		}
		return result[i].CreatedAtTs < result[j].CreatedAtTs
	})
	return result, nil
}

// CompareAndSwapStatus applies fields and moves the position to next only if its
// current status is one of expected. A mismatch or unknown id returns (nil, nil).
func (s *Store) CompareAndSwapStatus(
	_ context.Context,
	positionID string,
	expected []models.PositionStatus,
	next models.PositionStatus,
	fields models.PositionUpdate,
) (*models.PositionRecord, error) {
	if err := storage.ValidateTransition(expected, next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[positionID]
	if !ok || !models.StatusIn(p.Status, expected) {
		return nil, nil
	}
	fields.Apply(p)
	p.Status = next
	return p.Clone(), nil
}

func (s *Store) MarkOpenAlertSent(_ context.Context, positionID string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[positionID]
	if !ok {
		return storage.ErrNotFound
	}
	p.LastOpenAlertTs = models.Ptr(nowMs)
	p.UpdatedAtTs = nowMs
	return nil
}

func (s *Store) MarkCloseAlertSent(_ context.Context, positionID string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[positionID]
	if !ok {
		return storage.ErrNotFound
	}
	p.LastCloseAlertTs = models.Ptr(nowMs)
	p.UpdatedAtTs = nowMs
	return nil
}

// LoadConfigOverrides returns a copy of all stored overrides.
func (s *Store) LoadConfigOverrides(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveConfigOverride(_ context.Context, key, value string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = value
	return nil
}

// PutAlert appends an alert, assigning an id when missing.
func (s *Store) PutAlert(_ context.Context, alert *models.AlertRecord) error {
	if alert == nil || alert.AlertType == "" {
		return storage.ErrInvalidInput
	}
	a := *alert
	if a.AlertID == "" {
		a.AlertID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alertRow{alert: a, expiresAt: storage.ExpiresAt(a.TsMs, s.ttlDays)})
	return nil
}

// Alerts returns a copy of the alert log in insertion order.
func (s *Store) Alerts() []models.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AlertRecord, 0, len(s.alerts))
	for _, row := range s.alerts {
		out = append(out, row.alert)
	}
	return out
}

func (s *Store) PutTick(_ context.Context, pair string, snapshot models.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tickRow{
		pair:      pair,
		snapshot:  snapshot,
		expiresAt: storage.ExpiresAt(snapshot.TsMs, s.ttlDays),
	})
	return nil
}

// RecentTicks returns up to limit ticks for pair, newest first.
func (s *Store) RecentTicks(_ context.Context, pair string, limit int) ([]models.MarketSnapshot, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.MarketSnapshot
	for i := len(s.ticks) - 1; i >= 0 && len(result) < limit; i-- {
		if s.ticks[i].pair == pair {
			result = append(result, s.ticks[i].snapshot)
		}
	}
	return result, nil
}

func (s *Store) PurgeExpired(_ context.Context, nowMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	ticks := s.ticks[:0]
	for _, row := range s.ticks {
		if row.expiresAt <= nowMs {
			removed++
			continue
		}
		ticks = append(ticks, row)
	}
	s.ticks = ticks

	alerts := s.alerts[:0]
	for _, row := range s.alerts {
		if row.expiresAt <= nowMs {
			removed++
			continue
		}
		alerts = append(alerts, row)
	}
	s.alerts = alerts
	return removed, nil
}

func (s *Store) Close() error { return nil }
