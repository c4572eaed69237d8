package service

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"var_gold/internal/notify"
	"var_gold/pkg/logger"
)

// UpdatesSource: часть *tgbot.BotAPI для long-polling.
type UpdatesSource interface {
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram читает команды long-polling'ом и отвечает в тот же чат.
type Telegram struct {
	updates  UpdatesSource
	replies  notify.Notifier
	commands *Commands
	now      func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewTelegram(updates UpdatesSource, replies notify.Notifier, commands *Commands) *Telegram {
	return &Telegram{
		updates:  updates,
		replies:  replies,
		commands: commands,
		now:      time.Now,
	}
}

// Start запускает цикл обработки в отдельной горутине.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.updates == nil {
		return nil
	}
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := t.updates.GetUpdatesChan(u)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, upd)
			}
		}
	}()
	logger.Info("telegram long-poll started")
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.cancel == nil {
		return
	}
	t.cancel()
	t.updates.StopReceivingUpdates()
	t.wg.Wait()
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	reply := t.commands.Handle(ctx, msg.Chat.ID, text, t.now().UnixMilli())
	t.replies.SendToChannel(ctx, msg.Chat.ID, reply)
}
