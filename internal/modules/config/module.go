package config

import (
	"go.uber.org/fx"

	"var_gold/internal/models"
)

// Module регистрирует конфиг и базовый RuntimeConfig как fx-провайдеры.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			func(c *Config) models.RuntimeConfig { return c.Runtime() },
		),
	)
}
