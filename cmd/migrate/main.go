// migrate накатывает встроенные миграции на хранилища из конфига без запуска бота.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"var_gold/internal/modules/config"
	modstorage "var_gold/internal/modules/storage"
	"var_gold/internal/storage/clickhouse"
)

type plan struct {
	Driver     string `yaml:"driver"`
	Postgres   string `yaml:"postgres,omitempty"`
	SQLite     string `yaml:"sqlite,omitempty"`
	Clickhouse string `yaml:"clickhouse,omitempty"`
}

func readConfig() (*config.Config, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	name := os.Getenv("CONFIG_FILE")
	if name == "" {
		name = "values_local.yaml"
	}

	v := viper.New()
	v.SetConfigFile(dir + "/" + name)
	v.SetDefault("storage.driver", config.DriverMemory)
	v.SetDefault("storage.sqlite_path", "var_gold.db")
	v.SetDefault("data_ttl_days", 90)
	_ = v.BindEnv("db_dsn", "DATABASE_DSN")
	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("storage.sqlite_path", "SQLITE_PATH")
	_ = v.BindEnv("storage.clickhouse_dsn", "CLICKHOUSE_DSN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	cfg := &config.Config{}
	cfg.DB = v.GetString("db_dsn")
	cfg.Storage.Driver = strings.ToLower(v.GetString("storage.driver"))
	cfg.Storage.SQLitePath = v.GetString("storage.sqlite_path")
	cfg.Storage.ClickhouseDSN = v.GetString("storage.clickhouse_dsn")
	cfg.DataTTLDays = v.GetInt("data_ttl_days")
	return cfg, nil
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		panic(err)
	}

	p := plan{Driver: cfg.Storage.Driver}
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		p.Postgres = "apply"
	case config.DriverSQLite:
		p.SQLite = cfg.Storage.SQLitePath
	}
	if cfg.Storage.ClickhouseDSN != "" {
		p.Clickhouse = "apply"
	}
	bs, err := yaml.Marshal(p)
	if err != nil {
		panic(errors.Wrap(err, "marshal plan"))
	}
	fmt.Print(string(bs))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, closeFn, err := modstorage.Open(ctx, cfg)
	if err != nil {
		panic(errors.Wrapf(err, "migrate %s", cfg.Storage.Driver))
	}
	if err := closeFn(); err != nil {
		panic(errors.Wrap(err, "close store"))
	}
	fmt.Printf("%s complete\n", cfg.Storage.Driver)

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := clickhouse.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			panic(errors.Wrap(err, "migrate clickhouse"))
		}
		_ = conn.Close()
		fmt.Println("clickhouse complete")
	}
	fmt.Println("done")
}
