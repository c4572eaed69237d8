// Package engine собирает доменные сервисы для fx.
package engine

import (
	"go.uber.org/fx"

	"var_gold/internal/models"
	"var_gold/internal/notify"
	"var_gold/internal/observability"
	"var_gold/internal/overrides"
	"var_gold/internal/position"
	"var_gold/internal/storage"
)

func NewMetrics() *observability.Metrics {
	return observability.NewMetrics("")
}

func NewOverrides(repo storage.ConfigStore, base models.RuntimeConfig) *overrides.Store {
	return overrides.New(repo, base)
}

func NewManager(store storage.Store, notifier notify.Notifier) *position.Manager {
	return position.NewManager(store, notifier)
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewMetrics,
			NewOverrides,
			NewManager,
		),
	)
}
