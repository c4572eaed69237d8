package notify

import (
	"context"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"var_gold/pkg/logger"
)

// Notifier доставляет текст в чаты. Ошибки доставки только логируются.
type Notifier interface {
	SendToChannel(ctx context.Context, chatID int64, text string)
	Broadcast(ctx context.Context, text string)
}

// Sender: часть *tgbot.BotAPI, нужная для отправки.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Recipients возвращает актуальный список разрешённых чатов.
type Recipients func() []int64

// Telegram: нотифайер поверх Bot API, HTML без превью ссылок.
type Telegram struct {
	bot        Sender
	recipients Recipients
}

func NewTelegram(bot Sender, recipients Recipients) *Telegram {
	return &Telegram{bot: bot, recipients: recipients}
}

func (t *Telegram) SendToChannel(_ context.Context, chatID int64, text string) {
	if t == nil || t.bot == nil || chatID == 0 {
		return
	}
	msg := tgbot.NewMessage(chatID, text)
	msg.ParseMode = tgbot.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		logger.Warn("telegram send failed chat_id=%d err=%v", chatID, err)
	}
}

// Broadcast рассылает сообщение всем разрешённым чатам, сбой одного чата не мешает остальным.
func (t *Telegram) Broadcast(ctx context.Context, text string) {
	if t == nil || t.recipients == nil {
		return
	}
	ids := t.recipients()
	if len(ids) == 0 {
		logger.Info("notification skipped (no recipients): %s", text)
		return
	}
	for _, id := range ids {
		t.SendToChannel(ctx, id, text)
	}
}

// Stdout пишет уведомления в лог, когда токена нет.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) SendToChannel(_ context.Context, chatID int64, text string) {
	logger.Info("notify chat_id=%d: %s", chatID, text)
}

func (s *Stdout) Broadcast(_ context.Context, text string) {
	logger.Info("notify: %s", text)
}
