package migrations

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAppliesEveryDialect(t *testing.T) {
	for _, tc := range []struct {
		dir  string
		fsys fs.FS
		want string
	}{
		{"postgres", PostgresFS, "CREATE TABLE IF NOT EXISTS positions"},
		{"sqlite", SQLiteFS, "CREATE TABLE IF NOT EXISTS positions"},
		{"clickhouse", ClickhouseFS, "CREATE TABLE IF NOT EXISTS spread_ticks"},
	} {
		t.Run(tc.dir, func(t *testing.T) {
			var scripts []string
			err := run(context.Background(), tc.fsys, tc.dir, func(_ context.Context, script string) error {
				scripts = append(scripts, script)
				return nil
			})
			require.NoError(t, err)
			require.NotEmpty(t, scripts)
			assert.Contains(t, scripts[0], tc.want)
		})
	}
}

func TestRunStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	err := RunClickhouse(context.Background(), func(context.Context, string) error { return boom })
	assert.ErrorIs(t, err, boom)
}
