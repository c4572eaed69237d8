package service

// RunState: счётчики одного запуска монитора. Живут в сервисе, а не в глобальных переменных.
type RunState struct {
	FailureStreak      int
	LastFailureAlertMs int64
	LastPurgeMs        int64
}

// RecordFailure увеличивает серию и решает, пора ли слать алерт:
// серия не короче threshold и с прошлого алерта прошло не меньше cooldownMs.
func (s *RunState) RecordFailure(nowMs int64, threshold int, cooldownMs int64) bool {
	s.FailureStreak++
	if s.FailureStreak < threshold {
		return false
	}
	if s.LastFailureAlertMs != 0 && nowMs-s.LastFailureAlertMs < cooldownMs {
		return false
	}
	s.LastFailureAlertMs = nowMs
	return true
}

func (s *RunState) RecordSuccess() { s.FailureStreak = 0 }

// PurgeDue отмечает запуск очистки, если прошёл интервал.
func (s *RunState) PurgeDue(nowMs, intervalMs int64) bool {
	if s.LastPurgeMs != 0 && nowMs-s.LastPurgeMs < intervalMs {
		return false
	}
	s.LastPurgeMs = nowMs
	return true
}
