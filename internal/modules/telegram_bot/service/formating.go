package service

import (
	"fmt"
	"strconv"

	"var_gold/internal/models"
	"var_gold/internal/overrides"
	"var_gold/internal/position"
)

const (
	msgUnauthorized   = "Unauthorized chat_id."
	msgNoSnapshot     = "No market snapshot yet."
	msgNoPositions    = "No active/pending positions."
	msgOpenUsage      = "Usage: /open &lt;actual_spread&gt; OR /open &lt;signal_id&gt; &lt;actual_spread&gt;"
	msgCloseUsage     = "Usage: /close &lt;actual_spread&gt; OR /close &lt;signal_id&gt; &lt;actual_spread&gt;"
	msgSetUsage       = "Usage: /set &lt;open|repeat|annual|close_buffer|poll&gt; &lt;value&gt;"
	msgOpenNoMatch    = "No pending signal matched (or already confirmed)."
	msgCloseNoMatch   = "No open position matched. Provide signal_id if multiple are open."
	msgUnsupportedKey = "Unsupported key. Allowed: open, repeat, annual, close_buffer, poll"
	msgInvalidValue   = "Invalid value type."
	msgUnknown        = "Unknown command. Use /help."
)

// setAliases: короткие имена ключей для /set.
var setAliases = map[string]string{
	"open":         overrides.KeyThresholdOpen,
	"repeat":       overrides.KeyRepeatAlertSec,
	"annual":       overrides.KeyAnnualFactor,
	"close_buffer": overrides.KeyCloseBuffer,
	"poll":         overrides.KeyPollIntervalSec,
}

func helpText() string {
	return "🤖 <b>var_gold bot commands</b>\n\n" +
		"/status - latest spread snapshot\n" +
		"/positions - list active/pending positions\n" +
		"/open 39 - confirm the only pending signal\n" +
		"/open &lt;signal_id&gt; 39 - confirm specific pending signal\n" +
		"/close -38.2 - close when only one open position\n" +
		"/close &lt;signal_id&gt; -38.2 - close specific position\n" +
		"/set open 40 - set open threshold\n" +
		"/set repeat 300 - set repeat alert seconds\n" +
		"/set annual 365 - set annual factor\n" +
		"/set close_buffer 0 - set close safety buffer\n" +
		"/set poll 2 - set polling interval seconds\n" +
		"/config - show current runtime config"
}

func configText(cfg models.RuntimeConfig) string {
	chats := "(none)"
	if len(cfg.AllowedChatIDs) > 0 {
		chats = ""
		for i, id := range cfg.AllowedChatIDs {
			if i > 0 {
				chats += ", "
			}
			chats += strconv.FormatInt(id, 10)
		}
	}
	return fmt.Sprintf(
		"⚙️ <b>Runtime Config</b>\n\n"+
			"threshold_open: %s\n"+
			"close_buffer: %s\n"+
			"repeat_alert_sec: %d\n"+
			"annual_factor: %s\n"+
			"poll_interval_sec: %s\n"+
			"allowed_chat_ids: %s",
		num(cfg.ThresholdOpen),
		num(cfg.CloseBuffer),
		cfg.RepeatAlertSec,
		num(cfg.AnnualFactor),
		num(cfg.PollIntervalSec),
		chats,
	)
}

func positionsText(positions []*models.PositionRecord) string {
	text := "📋 <b>Active Positions</b>\n"
	for _, p := range positions {
		text += "\n" + position.Summary(p)
	}
	return text
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
