package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"var_gold/internal/modules/config"
	"var_gold/internal/modules/postgres"
	"var_gold/internal/storage"
	"var_gold/internal/storage/clickhouse"
	"var_gold/internal/storage/memory"
	"var_gold/internal/storage/pg"
	"var_gold/internal/storage/sqlite"
	"var_gold/pkg/logger"
)

// Open выбирает хранилище по storage.driver и накатывает его миграции.
// Возвращённый close освобождает всё, что было открыто.
func Open(ctx context.Context, cfg *config.Config) (storage.Store, func() error, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		txm, err := postgres.NewTxManager(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := pg.New(txm, cfg.DataTTLDays)
		return store, func() error {
			err := store.Close()
			txm.Close()
			return err
		}, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, cfg.DataTTLDays)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, store.Close, nil
	case config.DriverMemory:
		store := memory.New(cfg.DataTTLDays)
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (storage.Store, error) {
	store, closeFn, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Warn("memory storage: positions are lost on restart")
	}
	logger.Info("storage driver=%s", cfg.Storage.Driver)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closeFn()
		},
	})
	return store, nil
}

// NewTickSink: ClickHouse-приёмник тиков. Без clickhouse_dsn возвращает nil.
func NewTickSink(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (storage.TickSink, error) {
	if cfg.Storage.ClickhouseDSN == "" {
		return nil, nil
	}
	conn, err := clickhouse.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return conn.Close() },
	})
	logger.Info("clickhouse tick sink enabled")
	return clickhouse.NewTickSink(conn, cfg.Storage.SinkBatchSize), nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			NewStore,
			NewTickSink,
			func(s storage.Store) storage.ConfigStore { return s },
		),
	)
}
