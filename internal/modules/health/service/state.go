package service

import (
	"sync/atomic"
	"time"

	"var_gold/internal/models"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	lastTickUnix   atomic.Int64 // unix seconds
	failureStreak  atomic.Int64
	lastSpreadOpen atomic.Value // float64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) FailureStreak() int64 { return s.failureStreak.Load() }

func (s *State) LastSpreadOpen() (float64, bool) {
	v, ok := s.lastSpreadOpen.Load().(float64)
	return v, ok
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

// OnSnapshot: готовность наступает после первого успешного тика.
func (s *State) OnSnapshot(snap models.MarketSnapshot) {
	s.TouchTick(time.UnixMilli(snap.TsMs))
	s.failureStreak.Store(0)
	s.lastSpreadOpen.Store(snap.SpreadOpen)
	s.SetReady(true)
}

func (s *State) OnFailure(streak int, _ error) {
	s.failureStreak.Store(int64(streak))
}
