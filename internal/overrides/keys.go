package overrides

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"var_gold/internal/models"
)

const (
	KeyThresholdOpen   = "threshold_open"
	KeyCloseBuffer     = "close_buffer"
	KeyRepeatAlertSec  = "repeat_alert_sec"
	KeyAnnualFactor    = "annual_factor"
	KeyPollIntervalSec = "poll_interval_sec"
	KeyAllowedChatIDs  = "allowed_chat_ids"

	minPollIntervalSec = 0.5
	minRepeatAlertSec  = 30
)

// ErrUnknownKey: ключа нет в таблице переопределяемых настроек.
var ErrUnknownKey = errors.New("unknown config key")

// rule разбирает сырое значение и кладёт его (с ограничением) в конфиг.
type rule struct {
	apply func(cfg *models.RuntimeConfig, raw string) error
	show  func(cfg models.RuntimeConfig) string
}

var rules = map[string]rule{
	KeyThresholdOpen: floatRule(
		func(c *models.RuntimeConfig, v float64) { c.ThresholdOpen = v },
		func(c models.RuntimeConfig) float64 { return c.ThresholdOpen },
	),
	// close_buffer допускает ноль и отрицательные значения
	KeyCloseBuffer: floatRule(
		func(c *models.RuntimeConfig, v float64) { c.CloseBuffer = v },
		func(c models.RuntimeConfig) float64 { return c.CloseBuffer },
	),
	KeyAnnualFactor: floatRule(
		func(c *models.RuntimeConfig, v float64) { c.AnnualFactor = v },
		func(c models.RuntimeConfig) float64 { return c.AnnualFactor },
	),
	KeyPollIntervalSec: floatRule(
		func(c *models.RuntimeConfig, v float64) { c.PollIntervalSec = math.Max(minPollIntervalSec, v) },
		func(c models.RuntimeConfig) float64 { return c.PollIntervalSec },
	),
	KeyRepeatAlertSec: {
		apply: func(c *models.RuntimeConfig, raw string) error {
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return errors.Wrap(err, KeyRepeatAlertSec)
			}
			if v < minRepeatAlertSec {
				v = minRepeatAlertSec
			}
			c.RepeatAlertSec = v
			return nil
		},
		show: func(c models.RuntimeConfig) string { return strconv.Itoa(c.RepeatAlertSec) },
	},
	KeyAllowedChatIDs: {
		apply: func(c *models.RuntimeConfig, raw string) error {
			ids, err := ParseChatIDs(raw)
			if err != nil {
				return err
			}
			c.AllowedChatIDs = ids
			return nil
		},
		show: func(c models.RuntimeConfig) string { return FormatChatIDs(c.AllowedChatIDs) },
	},
}

func floatRule(set func(*models.RuntimeConfig, float64), get func(models.RuntimeConfig) float64) rule {
	return rule{
		apply: func(c *models.RuntimeConfig, raw string) error {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return errors.Wrap(err, "parse float")
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Errorf("non-finite value %q", raw)
			}
			set(c, v)
			return nil
		},
		show: func(c models.RuntimeConfig) string { return strconv.FormatFloat(get(c), 'f', -1, 64) },
	}
}

// Keys возвращает все переопределяемые ключи.
func Keys() []string {
	return []string{
		KeyThresholdOpen, KeyCloseBuffer, KeyRepeatAlertSec,
		KeyAnnualFactor, KeyPollIntervalSec, KeyAllowedChatIDs,
	}
}

// Validate проверяет значение тем же правилом, что применяется при слиянии.
func Validate(key, raw string) error {
	r, ok := rules[key]
	if !ok {
		return errors.Wrap(ErrUnknownKey, key)
	}
	var scratch models.RuntimeConfig
	return r.apply(&scratch, raw)
}

// Effective: действующее значение ключа в текстовом виде.
func Effective(cfg models.RuntimeConfig, key string) (string, bool) {
	r, ok := rules[key]
	if !ok {
		return "", false
	}
	return r.show(cfg), true
}

// Merge накладывает переопределения на base. Нечитаемые значения пропускаются,
// для такого ключа остаётся значение из base.
func Merge(base models.RuntimeConfig, raw map[string]string) (models.RuntimeConfig, []string) {
	cfg := base.Clone()
	var dropped []string
	for _, key := range Keys() {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := rules[key].apply(&cfg, v); err != nil {
			dropped = append(dropped, key)
		}
	}
	return cfg, dropped
}

// ParseChatIDs разбирает список через запятую. Пустая строка: пустой список.
func ParseChatIDs(raw string) ([]int64, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "chat id %q", part)
		}
		ids = append(ids, id)
	}
	return models.NormalizeChatIDs(ids), nil
}

func FormatChatIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
