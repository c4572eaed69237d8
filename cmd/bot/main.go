package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"var_gold/internal/modules/config"
	"var_gold/internal/modules/engine"
	"var_gold/internal/modules/health"
	"var_gold/internal/modules/monitor"
	"var_gold/internal/modules/storage"
	telegram "var_gold/internal/modules/telegram_bot"
	"var_gold/internal/modules/tracing"
	"var_gold/pkg/logger"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(func(cfg *config.Config) error {
			return logger.Init(cfg.Service.LogLevel)
		}),
		tracing.Module(),
		storage.Module(),
		engine.Module(),
		telegram.Module(),
		monitor.Module(),
		health.Module(),
	)
	defer logger.Sync()

	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	// Run блокируется до SIGINT/SIGTERM и останавливает хуки в обратном порядке
	app.Run()
}
