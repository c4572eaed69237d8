package position

import (
	"fmt"
	"strings"
	"time"

	"var_gold/internal/models"
)

// FormatOptional печатает необязательное значение с четырьмя знаками или N/A.
func FormatOptional(v *float64, prefix, suffix string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%s%.4f%s", prefix, *v, suffix)
}

func OpenSignalMessage(p *models.PositionRecord, s models.MarketSnapshot, threshold float64, repeat bool) string {
	title := "<b>Open Signal</b>"
	if repeat {
		title = "<b>Open Signal Reminder</b>"
	}
	lines := []string{
		title,
		"",
		fmt.Sprintf("Signal ID: <code>%s</code>", p.PositionID),
		fmt.Sprintf("spread_open (PAXG sell - XAUT buy): <b>$%.2f</b>", s.SpreadOpen),
		fmt.Sprintf("Threshold: $%.2f", threshold),
		fmt.Sprintf("spread_close (XAUT sell - PAXG buy): $%.2f", s.SpreadClose),
		"Funding annual diff: " + FormatOptional(s.FundingDiffAnnual, "", "%"),
		"",
		"Confirm open with:",
		fmt.Sprintf("<code>/open %s 39</code>", p.PositionID),
		"or if only one pending signal:",
		"<code>/open 39</code>",
	}
	return strings.Join(lines, "\n")
}

func CloseSignalMessage(p *models.PositionRecord, s models.MarketSnapshot, repeat bool) string {
	title := "<b>Close Signal</b>"
	if repeat {
		title = "<b>Close Signal Reminder</b>"
	}
	trigger := 0.0
	if p.CloseTrigger != nil {
		trigger = *p.CloseTrigger
	}
	lines := []string{
		title,
		"",
		fmt.Sprintf("Signal ID: <code>%s</code>", p.PositionID),
		fmt.Sprintf("spread_close now: <b>$%.2f</b>", s.SpreadClose),
		fmt.Sprintf("close_trigger: $%.2f", trigger),
		"entry_actual: " + FormatOptional(p.EntrySpreadActual, "$", ""),
		"",
		"Confirm close with:",
		fmt.Sprintf("<code>/close %s -38.2</code>", p.PositionID),
	}
	return strings.Join(lines, "\n")
}

// Summary: одна строка для списка /positions.
func Summary(p *models.PositionRecord) string {
	entry, trigger := "N/A", "N/A"
	if p.EntrySpreadActual != nil {
		entry = fmt.Sprintf("%.2f", *p.EntrySpreadActual)
	}
	if p.CloseTrigger != nil {
		trigger = fmt.Sprintf("%.2f", *p.CloseTrigger)
	}
	updated := time.UnixMilli(p.UpdatedAtTs).UTC().Format("2006-01-02 15:04:05 UTC")
	return fmt.Sprintf("%s | %s | entry=%s | close_trigger=%s | updated=%s",
		p.PositionID, p.Status, entry, trigger, updated)
}

func StatusMessage(s models.MarketSnapshot, thresholdOpen float64) string {
	lines := []string{
		"<b>Current Spread Status</b>",
		"",
		fmt.Sprintf("spread_open (PAXG sell - XAUT buy): <b>$%.2f</b> (threshold $%.2f)", s.SpreadOpen, thresholdOpen),
		fmt.Sprintf("spread_close (XAUT sell - PAXG buy): $%.2f", s.SpreadClose),
		"funding diff annual: " + FormatOptional(s.FundingDiffAnnual, "", "%"),
		fmt.Sprintf("quotes: PAXG %.2f/%.2f | XAUT %.2f/%.2f", s.PaxgBid, s.PaxgAsk, s.XautBid, s.XautAsk),
	}
	return strings.Join(lines, "\n")
}

func OpenConfirmedMessage(p *models.PositionRecord) string {
	return fmt.Sprintf("✅ <b>Open Confirmed</b>\n\nPosition ID: <code>%s</code>\nentry_actual: $%.2f\nclose_trigger: $%.2f",
		p.PositionID, deref(p.EntrySpreadActual), deref(p.CloseTrigger))
}

func CloseConfirmedMessage(p *models.PositionRecord) string {
	return fmt.Sprintf("✅ <b>Close Confirmed</b>\n\nPosition ID: <code>%s</code>\nclose_actual: $%.2f",
		p.PositionID, deref(p.CloseSpreadActual))
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
