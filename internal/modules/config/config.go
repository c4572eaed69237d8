package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"var_gold/internal/models"
	"var_gold/internal/overrides"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TG_BOT_TOKEN"
	databaseDSN       = "DATABASE_DSN"

	defaultAPIURL = "https://omni-client-api.prod.ap-northeast-1.variational.io/metadata/stats"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config ...
type Config struct {
	Telegram struct {
		Token          string  `yaml:"token"`
		ChatID         int64   `yaml:"chat_id"`
		AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Storage struct {
		Driver        string `yaml:"driver"` // postgres | sqlite | memory
		SQLitePath    string `yaml:"sqlite_path"`
		ClickhouseDSN string `yaml:"clickhouse_dsn"`
		SinkBatchSize int    `yaml:"sink_batch_size"`
	} `yaml:"storage"`
	Service struct {
		HTTPAddr string `yaml:"http_addr"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Jaeger struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"jaeger"`

	Market struct {
		APIURL    string  `yaml:"api_url"`
		QuoteSize string  `yaml:"quote_size"`
		Pair      string  `yaml:"pair"`
		RPS       float64 `yaml:"rps"`
	} `yaml:"market"`

	// Базовые значения, которые можно переопределить через /set
	ThresholdOpen    float64 `yaml:"threshold_open"`
	CloseBuffer      float64 `yaml:"close_buffer"`
	RepeatAlertSec   int     `yaml:"repeat_alert_sec"`
	AnnualFactor     float64 `yaml:"annual_factor"`
	PollIntervalSec  float64 `yaml:"poll_interval_sec"`
	ConfigRefreshSec int     `yaml:"config_refresh_sec"`
	DataTTLDays      int     `yaml:"data_ttl_days"`

	// Монитор
	TicksOnlyMode            bool          `yaml:"ticks_only_mode"`
	APIFailureAlertThreshold int           `yaml:"api_failure_alert_threshold"`
	APIFailureAlertCooldown  time.Duration `yaml:"api_failure_alert_cooldown"`
	PurgeInterval            time.Duration `yaml:"purge_interval"`
}

// NewConfig: .env -> дефолты из env -> yaml -> явные env-переопределения.
func NewConfig() (*Config, error) {
	// .env не перетирает уже выставленные переменные
	_ = godotenv.Load()

	config := defaults()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	path := getenvDefault(configDirENV, "configs") + "/" + configFileName
	if err := decodeFile(path, &config); err != nil {
		return nil, err
	}

	applyEnv(&config)
	config.Telegram.AllowedChatIDs = allowedChatIDs(config.Telegram.ChatID, config.Telegram.AllowedChatIDs)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func defaults() Config {
	var c Config
	c.Storage.Driver = DriverMemory
	c.Storage.SQLitePath = "var_gold.db"
	c.Storage.SinkBatchSize = intFromEnv("CLICKHOUSE_BATCH_SIZE", 30)
	c.Service.HTTPAddr = ":8080"
	c.Service.LogLevel = "info"
	c.Jaeger.Host = "localhost"
	c.Jaeger.Port = 6831

	c.Market.APIURL = defaultAPIURL
	c.Market.QuoteSize = "size_100k"
	c.Market.Pair = models.Pair
	c.Market.RPS = floatFromEnv("MARKET_RPS", 5)

	c.ThresholdOpen = 40
	c.CloseBuffer = 0
	c.RepeatAlertSec = 300
	c.AnnualFactor = 365
	c.PollIntervalSec = 2
	c.ConfigRefreshSec = 30
	c.DataTTLDays = 90

	c.APIFailureAlertThreshold = 3
	c.APIFailureAlertCooldown = 300 * time.Second
	c.PurgeInterval = time.Hour
	return c
}

// decodeFile: отсутствующий файл допустим, битый даёт ошибку.
func decodeFile(path string, config *Config) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer func() {
		_ = file.Close()
	}()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return errors.Wrapf(err, "decode config file %s", path)
	}
	return nil
}

func applyEnv(c *Config) {
	if v := os.Getenv(tokenTelegramENV); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(databaseDSN); v != "" {
		c.DB = v
	}
	if v := os.Getenv("TG_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("TG_ALLOWED_CHAT_IDS"); v != "" {
		if ids, err := overrides.ParseChatIDs(v); err == nil {
			c.Telegram.AllowedChatIDs = ids
		}
	}
	c.Storage.Driver = getenvDefault("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.SQLitePath = getenvDefault("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.ClickhouseDSN = getenvDefault("CLICKHOUSE_DSN", c.Storage.ClickhouseDSN)
	c.Service.HTTPAddr = getenvDefault("HTTP_ADDR", c.Service.HTTPAddr)
	c.Service.LogLevel = getenvDefault("LOG_LEVEL", c.Service.LogLevel)
	c.Jaeger.Enabled = boolFromEnv("JAEGER_ENABLED", c.Jaeger.Enabled)
	c.Jaeger.Host = getenvDefault("JAEGER_HOST", c.Jaeger.Host)
	c.Jaeger.Port = intFromEnv("JAEGER_PORT", c.Jaeger.Port)

	c.Market.APIURL = getenvDefault("API_URL", c.Market.APIURL)
	c.Market.QuoteSize = getenvDefault("QUOTE_SIZE", c.Market.QuoteSize)
	c.Market.Pair = getenvDefault("PAIR", c.Market.Pair)

	c.ThresholdOpen = floatFromEnv("THRESHOLD_OPEN", c.ThresholdOpen)
	c.CloseBuffer = floatFromEnv("CLOSE_BUFFER", c.CloseBuffer)
	c.RepeatAlertSec = intFromEnv("REPEAT_ALERT_SEC", c.RepeatAlertSec)
	c.AnnualFactor = floatFromEnv("ANNUAL_FACTOR", c.AnnualFactor)
	c.PollIntervalSec = floatFromEnv("POLL_INTERVAL_SEC", c.PollIntervalSec)
	c.ConfigRefreshSec = intFromEnv("CONFIG_REFRESH_SEC", c.ConfigRefreshSec)
	c.DataTTLDays = intFromEnv("DATA_TTL_DAYS", c.DataTTLDays)

	c.TicksOnlyMode = boolFromEnv("TICKS_ONLY_MODE", c.TicksOnlyMode)
	c.APIFailureAlertThreshold = intFromEnv("API_FAILURE_ALERT_THRESHOLD", c.APIFailureAlertThreshold)
	if v := os.Getenv("API_FAILURE_ALERT_COOLDOWN"); v != "" {
		// секунды, как в остальных *_SEC, либо Go duration
		if n, err := strconv.Atoi(v); err == nil {
			c.APIFailureAlertCooldown = time.Duration(n) * time.Second
		} else {
			c.APIFailureAlertCooldown = durationFromEnv("API_FAILURE_ALERT_COOLDOWN", c.APIFailureAlertCooldown.String())
		}
	}
}

// allowedChatIDs: TG_CHAT_ID всегда входит в список разрешённых.
func allowedChatIDs(chatID int64, ids []int64) []int64 {
	if chatID != 0 {
		ids = append(ids, chatID)
	}
	return models.NormalizeChatIDs(ids)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DB == "" {
			return errors.New("db_dsn is required for postgres storage")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite_path is required for sqlite storage")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.PollIntervalSec <= 0 {
		return errors.New("poll_interval_sec must be positive")
	}
	if c.APIFailureAlertThreshold < 1 {
		c.APIFailureAlertThreshold = 1
	}
	return nil
}

// Runtime: базовый RuntimeConfig без переопределений из хранилища.
func (c *Config) Runtime() models.RuntimeConfig {
	return models.RuntimeConfig{
		APIURL:           c.Market.APIURL,
		QuoteSize:        c.Market.QuoteSize,
		Pair:             c.Market.Pair,
		PollIntervalSec:  c.PollIntervalSec,
		ThresholdOpen:    c.ThresholdOpen,
		CloseBuffer:      c.CloseBuffer,
		RepeatAlertSec:   c.RepeatAlertSec,
		AnnualFactor:     c.AnnualFactor,
		ConfigRefreshSec: c.ConfigRefreshSec,
		DataTTLDays:      c.DataTTLDays,
		AllowedChatIDs:   append([]int64(nil), c.Telegram.AllowedChatIDs...),
	}
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(key))); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
