// Package signals содержит чистые правила входа, выхода и повторных напоминаний.
package signals

import "var_gold/internal/models"

// IsOpenSignal: спред на вход достиг порога (равенство считается сигналом).
func IsOpenSignal(s models.MarketSnapshot, thresholdOpen float64) bool {
	return s.SpreadOpen >= thresholdOpen
}

// CloseTrigger: минимальный spread_close, при котором выход не хуже точки входа плюс буфер.
func CloseTrigger(entrySpreadActual, closeBuffer float64) float64 {
	return -entrySpreadActual + closeBuffer
}

func IsCloseSignal(s models.MarketSnapshot, p *models.PositionRecord) bool {
	if p == nil || p.CloseTrigger == nil {
		return false
	}
	return s.SpreadClose >= *p.CloseTrigger
}

// ShouldRepeat решает, пора ли повторить напоминание по позиции.
func ShouldRepeat(lastAlertTs *int64, nowTs int64, repeatIntervalSec int) bool {
	if lastAlertTs == nil {
		return true
	}
	return nowTs-*lastAlertTs >= int64(repeatIntervalSec)*1000
}
