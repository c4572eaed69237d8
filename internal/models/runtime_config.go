package models

import "sort"

// RuntimeConfig: снимок настроек, действующих в текущем цикле опроса.
type RuntimeConfig struct {
	APIURL    string
	QuoteSize string
	Pair      string

	PollIntervalSec  float64
	ThresholdOpen    float64
	CloseBuffer      float64
	RepeatAlertSec   int
	AnnualFactor     float64
	ConfigRefreshSec int
	DataTTLDays      int

	AllowedChatIDs []int64
}

// Clone ...
func (c RuntimeConfig) Clone() RuntimeConfig {
	out := c
	out.AllowedChatIDs = append([]int64(nil), c.AllowedChatIDs...)
	return out
}

// IsAllowed: пустой список не авторизует никого.
func (c RuntimeConfig) IsAllowed(chatID int64) bool {
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// NormalizeChatIDs убирает дубли и сортирует.
func NormalizeChatIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
