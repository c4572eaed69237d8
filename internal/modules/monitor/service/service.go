// Package service содержит цикл опроса рынка.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"var_gold/internal/models"
	"var_gold/internal/notify"
	"var_gold/internal/observability"
	"var_gold/internal/overrides"
	"var_gold/internal/position"
	"var_gold/internal/storage"
	"var_gold/pkg/logger"
	"var_gold/pkg/tracing"
)

// Collector: источник снимков рынка.
type Collector interface {
	FetchSnapshot(ctx context.Context, cfg models.RuntimeConfig) (models.MarketSnapshot, error)
}

// Observer получает результат каждого тика (health, /ws).
type Observer interface {
	OnSnapshot(snap models.MarketSnapshot)
	OnFailure(streak int, err error)
}

type Options struct {
	TicksOnly        bool
	FailureThreshold int
	FailureCooldown  time.Duration
	PurgeInterval    time.Duration
}

type Deps struct {
	Collector Collector
	Store     storage.Store
	Sinks     []storage.TickSink
	Config    *overrides.Store
	Manager   *position.Manager
	Notifier  notify.Notifier
	Observers []Observer
	Metrics   *observability.Metrics
}

type Service struct {
	Deps
	opts Options
	now  func() time.Time

	mu   sync.RWMutex
	last *models.MarketSnapshot
}

func New(deps Deps, opts Options) *Service {
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 1
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = time.Hour
	}
	return &Service{Deps: deps, opts: opts, now: time.Now}
}

// LastSnapshot: последний успешный снимок.
func (s *Service) LastSnapshot() (models.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return models.MarketSnapshot{}, false
	}
	return *s.last, true
}

// Run крутит тики до отмены контекста, выдерживая poll_interval_sec между началами тиков.
func (s *Service) Run(ctx context.Context) {
	logger.Info("monitor started pair=%s ticks_only=%v", models.Pair, s.opts.TicksOnly)
	state := &RunState{}
	defer s.flushSinks()

	for {
		start := time.Now()
		cfg := s.Tick(ctx, state)

		wait := time.Duration(cfg.PollIntervalSec*float64(time.Second)) - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("monitor stopped")
			return
		case <-t.C:
		}
	}
}

// Tick: один цикл опроса. Ошибки коллабораторов логируются и не прерывают цикл.
func (s *Service) Tick(ctx context.Context, state *RunState) models.RuntimeConfig {
	span, ctx := tracing.Start(ctx, "monitor.Tick")

	nowMs := s.now().UnixMilli()
	cfg := s.effectiveConfig(ctx, nowMs)

	snap, err := s.Collector.FetchSnapshot(ctx, cfg)
	if err != nil {
		tracing.Finish(span, err)
		s.handleFailure(ctx, state, err, nowMs)
		return cfg
	}
	defer span.Finish()
	state.RecordSuccess()

	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	s.persistTick(ctx, cfg.Pair, snap)
	for _, o := range s.Observers {
		o.OnSnapshot(snap)
	}
	s.observe(snap)

	logger.Info("spread_open=%.2f spread_close=%.2f funding_annual=%s",
		snap.SpreadOpen, snap.SpreadClose, position.FormatOptional(snap.FundingDiffAnnual, "", ""))

	if !s.opts.TicksOnly {
		if err := s.Manager.ProcessOpenSignals(ctx, snap, cfg, nowMs); err != nil {
			logger.Error("process open signals: %v", err)
			s.tickError("open_signals")
		}
		if err := s.Manager.ProcessCloseSignals(ctx, snap, cfg, nowMs); err != nil {
			logger.Error("process close signals: %v", err)
			s.tickError("close_signals")
		}
	}

	if state.PurgeDue(nowMs, s.opts.PurgeInterval.Milliseconds()) {
		s.purge(ctx, nowMs)
	}
	return cfg
}

func (s *Service) effectiveConfig(ctx context.Context, nowMs int64) models.RuntimeConfig {
	if s.opts.TicksOnly {
		return s.Config.Base()
	}
	cfg, err := s.Config.Refresh(ctx, nowMs)
	if err != nil {
		logger.Warn("config refresh: %v", err)
		s.tickError("config_refresh")
	}
	return cfg
}

func (s *Service) handleFailure(ctx context.Context, state *RunState, err error, nowMs int64) {
	logger.Warn("collector failure: %v", err)
	if s.Metrics != nil {
		s.Metrics.APIFailures.Inc()
	}

	escalate := state.RecordFailure(nowMs, s.opts.FailureThreshold, s.opts.FailureCooldown.Milliseconds())
	if s.Metrics != nil {
		s.Metrics.ConsecutiveFailures.Set(float64(state.FailureStreak))
	}
	for _, o := range s.Observers {
		o.OnFailure(state.FailureStreak, err)
	}
	if !escalate {
		return
	}

	s.Notifier.Broadcast(ctx, APIFailureMessage(state.FailureStreak, err))
	alertErr := s.Store.PutAlert(ctx, &models.AlertRecord{
		TsMs:      nowMs,
		AlertType: models.AlertAPIFailure,
		Message:   fmt.Sprintf("consecutive_failures=%d reason=%v", state.FailureStreak, err),
	})
	if alertErr != nil {
		logger.Warn("alert log %s: %v", models.AlertAPIFailure, alertErr)
	}
	if s.Metrics != nil {
		s.Metrics.AlertsSent.WithLabelValues(string(models.AlertAPIFailure)).Inc()
	}
}

func APIFailureMessage(streak int, err error) string {
	return fmt.Sprintf("⚠️ <b>API Failure Alert</b>\n\nconsecutive_failures: %d\nreason: %v", streak, err)
}

func (s *Service) persistTick(ctx context.Context, pair string, snap models.MarketSnapshot) {
	if err := s.Store.PutTick(ctx, pair, snap); err != nil {
		logger.Error("put tick: %v", err)
		s.tickError("put_tick")
	}
	for _, sink := range s.Sinks {
		if err := sink.WriteTick(ctx, pair, snap); err != nil {
			logger.Warn("tick sink: %v", err)
			if s.Metrics != nil {
				s.Metrics.SinkDropped.Inc()
			}
		}
	}
}

func (s *Service) purge(ctx context.Context, nowMs int64) {
	n, err := s.Store.PurgeExpired(ctx, nowMs)
	if err != nil {
		logger.Error("purge expired: %v", err)
		s.tickError("purge")
		return
	}
	if n > 0 {
		logger.Info("purged %d expired rows", n)
	}
	if s.Metrics != nil {
		s.Metrics.PurgedRows.Add(float64(n))
	}
}

func (s *Service) flushSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sink := range s.Sinks {
		if err := sink.Flush(ctx); err != nil {
			logger.Warn("flush tick sink: %v", err)
		}
	}
}

func (s *Service) observe(snap models.MarketSnapshot) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.TicksTotal.Inc()
	s.Metrics.ConsecutiveFailures.Set(0)
	s.Metrics.SpreadOpen.Set(snap.SpreadOpen)
	s.Metrics.SpreadClose.Set(snap.SpreadClose)
	s.Metrics.FetchLatency.Observe(float64(snap.LatencyMs) / 1000)
	s.Metrics.LastTickTimestamp.Set(float64(snap.TsMs) / 1000)
}

func (s *Service) tickError(stage string) {
	if s.Metrics != nil {
		s.Metrics.TickErrors.WithLabelValues(stage).Inc()
	}
}
