package telegram

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"

	"var_gold/internal/modules/config"
	monitor "var_gold/internal/modules/monitor/service"
	"var_gold/internal/modules/telegram_bot/service"
	"var_gold/internal/notify"
	"var_gold/internal/observability"
	"var_gold/internal/overrides"
	"var_gold/internal/position"
	"var_gold/pkg/logger"
)

// NewBot авторизуется в Bot API. Без токена бот не создаётся.
func NewBot(cfg *config.Config) (*tgbot.BotAPI, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("TG_BOT_TOKEN is empty: alerts go to log only")
		return nil, nil
	}
	bot, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logger.Info("telegram authorized as @%s", bot.Self.UserName)
	return bot, nil
}

type NotifierParams struct {
	fx.In

	Bot    *tgbot.BotAPI
	Config *overrides.Store
}

func NewNotifier(p NotifierParams) notify.Notifier {
	if p.Bot == nil {
		return notify.NewStdout()
	}
	return notify.NewTelegram(p.Bot, p.Config.AllowedChatIDs)
}

type CommandsParams struct {
	fx.In

	Manager   *position.Manager
	Config    *overrides.Store
	Snapshots *monitor.Service
	Metrics   *observability.Metrics
}

func NewCommands(p CommandsParams) *service.Commands {
	return service.NewCommands(p.Manager, p.Config, p.Snapshots, p.Metrics)
}

type TelegramParams struct {
	fx.In

	Cfg      *config.Config
	Bot      *tgbot.BotAPI
	Notifier notify.Notifier
	Commands *service.Commands
}

// NewTelegram возвращает nil, когда команды принимать не нужно.
func NewTelegram(p TelegramParams) *service.Telegram {
	if p.Bot == nil || p.Cfg.TicksOnlyMode {
		return nil
	}
	return service.NewTelegram(p.Bot, p.Notifier, p.Commands)
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			NewBot,
			NewNotifier,
			NewCommands,
			NewTelegram,
		),
		// Запуск цикла команд через Lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram) {
				if t == nil {
					return
				}
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						return t.Start(context.Background())
					},
					OnStop: func(context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
