package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"var_gold/internal/modules/config"
	"var_gold/internal/modules/health/service"
	monitor "var_gold/internal/modules/monitor/service"
	"var_gold/internal/observability"
	"var_gold/pkg/logger"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.Service.HTTPAddr}
}

func NewMux(state *service.State, hub *service.Hub, metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: был хотя бы один успешный тик
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"ready":                  state.Ready(),
			"uptimeSec":              int64(state.Uptime().Seconds()),
			"consecutiveApiFailures": state.FailureStreak(),
			"wsClients":              hub.Clients(),
			"lastTickUnix": func() int64 {
				t := state.LastTick()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		if v, ok := state.LastSpreadOpen(); ok {
			resp["spreadOpen"] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws", hub)

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, hub *service.Hub) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info("http listening on %s", cfg.Addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hub.Close()
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			service.NewHub,
			NewConfig,
			NewMux,
			fx.Annotate(
				func(s *service.State) monitor.Observer { return s },
				fx.ResultTags(`group:"tick_observers"`),
			),
			fx.Annotate(
				func(h *service.Hub) monitor.Observer { return h },
				fx.ResultTags(`group:"tick_observers"`),
			),
		),
		fx.Invoke(RunHTTP),
	)
}
