package monitor

import (
	"context"
	"sync"

	"go.uber.org/fx"

	"var_gold/internal/market"
	"var_gold/internal/modules/config"
	"var_gold/internal/modules/monitor/service"
	"var_gold/internal/notify"
	"var_gold/internal/observability"
	"var_gold/internal/overrides"
	"var_gold/internal/position"
	"var_gold/internal/storage"
)

type Params struct {
	fx.In

	Cfg       *config.Config
	Collector service.Collector
	Store     storage.Store
	Sink      storage.TickSink
	Overrides *overrides.Store
	Manager   *position.Manager
	Notifier  notify.Notifier
	Observers []service.Observer `group:"tick_observers"`
	Metrics   *observability.Metrics
}

func NewService(p Params) *service.Service {
	var sinks []storage.TickSink
	if p.Sink != nil {
		sinks = append(sinks, p.Sink)
	}
	return service.New(service.Deps{
		Collector: p.Collector,
		Store:     p.Store,
		Sinks:     sinks,
		Config:    p.Overrides,
		Manager:   p.Manager,
		Notifier:  p.Notifier,
		Observers: p.Observers,
		Metrics:   p.Metrics,
	}, service.Options{
		TicksOnly:        p.Cfg.TicksOnlyMode,
		FailureThreshold: p.Cfg.APIFailureAlertThreshold,
		FailureCooldown:  p.Cfg.APIFailureAlertCooldown,
		PurgeInterval:    p.Cfg.PurgeInterval,
	})
}

func NewCollector(cfg *config.Config) service.Collector {
	return market.NewCollector(market.WithRPS(cfg.Market.RPS))
}

func Module() fx.Option {
	return fx.Module("monitor",
		fx.Provide(
			NewCollector,
			NewService,
		),
		fx.Invoke(
			func(lc fx.Lifecycle, svc *service.Service) {
				var (
					cancel context.CancelFunc
					wg     sync.WaitGroup
				)
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						// контекст хука живёт только до конца старта
						var runCtx context.Context
						runCtx, cancel = context.WithCancel(context.Background())
						wg.Add(1)
						go func() {
							defer wg.Done()
							svc.Run(runCtx)
						}()
						return nil
					},
					OnStop: func(context.Context) error {
						if cancel != nil {
							cancel()
						}
						wg.Wait()
						return nil
					},
				})
			},
		),
	)
}
