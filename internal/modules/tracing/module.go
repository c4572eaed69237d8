package tracing

import (
	"context"

	"go.uber.org/fx"

	"var_gold/internal/modules/config"
	"var_gold/pkg/logger"
	"var_gold/pkg/tracing"
)

const serviceName = "var_gold"

// Register поднимает Jaeger-трейсер, если он включён. Иначе остаётся noop-трейсер opentracing.
func Register(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Jaeger.Enabled {
		return nil
	}
	_, closer, err := tracing.InitTracer(tracing.Config{
		ServiceName: serviceName,
		Host:        cfg.Jaeger.Host,
		Port:        cfg.Jaeger.Port,
		LogSpans:    cfg.Service.LogLevel == "debug",
	})
	if err != nil {
		return err
	}
	logger.Info("jaeger tracer -> %s:%d", cfg.Jaeger.Host, cfg.Jaeger.Port)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closer()
		},
	})
	return nil
}

func Module() fx.Option {
	return fx.Module("tracing", fx.Invoke(Register))
}
