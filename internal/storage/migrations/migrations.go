// Package migrations применяет встроенные SQL-миграции в лексическом порядке.
// Все миграции идемпотентны (IF NOT EXISTS).
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"var_gold/pkg/db"
)

// Execer: то, что умеет выполнить один SQL-скрипт.
type Execer func(ctx context.Context, script string) error

// RunPostgres applies embedded postgres migrations through the pool.
func RunPostgres(ctx context.Context, conn db.Transaction) error {
	return run(ctx, PostgresFS, "postgres", func(ctx context.Context, script string) error {
		_, err := conn.Exec(ctx, script)
		return err
	})
}

// RunSQLite applies embedded sqlite migrations.
func RunSQLite(ctx context.Context, conn *sql.DB) error {
	return run(ctx, SQLiteFS, "sqlite", func(ctx context.Context, script string) error {
		_, err := conn.ExecContext(ctx, script)
		return err
	})
}

// RunClickhouse applies embedded clickhouse migrations. ClickHouse accepts one statement per call.
func RunClickhouse(ctx context.Context, exec Execer) error {
	return run(ctx, ClickhouseFS, "clickhouse", exec)
}

func run(ctx context.Context, fsys fs.FS, dir string, exec Execer) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}
