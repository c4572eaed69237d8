package service

import (
	"context"
	"fmt"
	"strings"

	"var_gold/internal/models"
	"var_gold/internal/observability"
	"var_gold/internal/overrides"
	"var_gold/internal/position"
	"var_gold/pkg/logger"
	"var_gold/pkg/tracing"
)

var knownCommands = map[string]bool{
	"/start": true, "/help": true, "/status": true, "/positions": true,
	"/open": true, "/close": true, "/set": true, "/config": true,
}

// SnapshotSource отдаёт последний успешный срез рынка.
type SnapshotSource interface {
	LastSnapshot() (models.MarketSnapshot, bool)
}

// Commands разбирает текстовые команды чата и возвращает ответ.
// Авторизация проверяется по актуальному allowed_chat_ids.
type Commands struct {
	manager   *position.Manager
	config    *overrides.Store
	snapshots SnapshotSource
	metrics   *observability.Metrics
}

func NewCommands(
	manager *position.Manager,
	config *overrides.Store,
	snapshots SnapshotSource,
	metrics *observability.Metrics,
) *Commands {
	return &Commands{
		manager:   manager,
		config:    config,
		snapshots: snapshots,
		metrics:   metrics,
	}
}

// Handle выполняет одну команду. Ошибки хранилища превращаются в текст ответа.
func (c *Commands) Handle(ctx context.Context, chatID int64, text string, nowMs int64) string {
	cmd, args := splitCommand(text)

	span, ctx := tracing.Start(ctx, "telegram.command")
	span.SetTag("command", cmd)

	if !c.config.Current().IsAllowed(chatID) {
		logger.Warn("unauthorized chat_id=%d command=%s", chatID, cmd)
		c.count(cmd, "unauthorized")
		tracing.Finish(span, nil)
		return msgUnauthorized
	}

	reply, err := c.dispatch(ctx, cmd, args, chatID, nowMs)
	tracing.Finish(span, err)
	if err != nil {
		logger.Error("command %s failed: %v", cmd, err)
		c.count(cmd, "error")
		return "Command failed: " + escape(err.Error())
	}
	c.count(cmd, "ok")
	return reply
}

func (c *Commands) dispatch(ctx context.Context, cmd string, args []string, chatID, nowMs int64) (string, error) {
	switch cmd {
	case "/start", "/help":
		return helpText(), nil
	case "/status":
		return c.handleStatus(), nil
	case "/positions":
		return c.handlePositions(ctx)
	case "/open":
		return c.handleOpen(ctx, args, chatID, nowMs)
	case "/close":
		return c.handleClose(ctx, args, chatID, nowMs)
	case "/set":
		return c.handleSet(ctx, args, nowMs)
	case "/config":
		return configText(c.config.Current()), nil
	}
	return msgUnknown, nil
}

func (c *Commands) handleStatus() string {
	snap, ok := c.snapshots.LastSnapshot()
	if !ok {
		return msgNoSnapshot
	}
	return position.StatusMessage(snap, c.config.Current().ThresholdOpen)
}

func (c *Commands) handlePositions(ctx context.Context) (string, error) {
	positions, err := c.manager.ListActivePositions(ctx)
	if err != nil {
		return "", err
	}
	if len(positions) == 0 {
		return msgNoPositions, nil
	}
	return positionsText(positions), nil
}

// targetArgs: "<spread>" или "<id> <spread>".
func targetArgs(args []string) (string, float64, bool) {
	var id, raw string
	switch len(args) {
	case 1:
		raw = args[0]
	case 2:
		id, raw = args[0], args[1]
	default:
		return "", 0, false
	}
	v, err := parseSpread(raw)
	if err != nil {
		return "", 0, false
	}
	return id, v, true
}

func (c *Commands) handleOpen(ctx context.Context, args []string, chatID, nowMs int64) (string, error) {
	id, entry, ok := targetArgs(args)
	if !ok {
		return msgOpenUsage, nil
	}
	p, err := c.manager.ConfirmOpen(ctx, chatID, entry, c.config.Current().CloseBuffer, nowMs, id)
	if err != nil {
		return "", err
	}
	if p == nil {
		return msgOpenNoMatch, nil
	}
	logger.Info("open confirmed position_id=%s chat_id=%d entry=%.2f", p.PositionID, chatID, entry)
	return position.OpenConfirmedMessage(p), nil
}

func (c *Commands) handleClose(ctx context.Context, args []string, chatID, nowMs int64) (string, error) {
	id, closeSpread, ok := targetArgs(args)
	if !ok {
		return msgCloseUsage, nil
	}
	p, err := c.manager.ConfirmClose(ctx, chatID, closeSpread, nowMs, id)
	if err != nil {
		return "", err
	}
	if p == nil {
		return msgCloseNoMatch, nil
	}
	logger.Info("close confirmed position_id=%s chat_id=%d close=%.2f", p.PositionID, chatID, closeSpread)
	return position.CloseConfirmedMessage(p), nil
}

func (c *Commands) handleSet(ctx context.Context, args []string, nowMs int64) (string, error) {
	if len(args) != 2 {
		return msgSetUsage, nil
	}
	key, ok := setAliases[strings.ToLower(args[0])]
	if !ok {
		return msgUnsupportedKey, nil
	}
	raw := args[1]
	if err := overrides.Validate(key, raw); err != nil {
		return msgInvalidValue, nil
	}

	if err := c.config.SaveOverride(ctx, key, raw); err != nil {
		return "", err
	}
	cfg, err := c.config.Refresh(ctx, nowMs)
	if err != nil {
		return "", err
	}
	effective, _ := overrides.Effective(cfg, key)
	return fmt.Sprintf("Updated %s to %s", key, effective), nil
}

func (c *Commands) count(cmd, result string) {
	if c.metrics == nil {
		return
	}
	if !knownCommands[cmd] {
		cmd = "unknown"
	}
	c.metrics.Commands.WithLabelValues(cmd, result).Inc()
}
