package postgres

import (
	"context"
	"fmt"

	"var_gold/internal/modules/config"
	"var_gold/internal/storage/migrations"
	"var_gold/pkg/db"
)

// NewTxManager поднимает пул и накатывает миграции.
func NewTxManager(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
	if cfg.DB == "" {
		return nil, fmt.Errorf("storage driver postgres requires DATABASE_DSN")
	}
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	txm := db.NewPgTxManager(poolMaster)
	if err := migrations.RunPostgres(ctx, txm.Conn()); err != nil {
		txm.Close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}
	return txm, nil
}
