package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"greeks-watch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Deribit    DeribitConfig    `mapstructure:"deribit"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Store      StoreConfig      `mapstructure:"store"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DeribitConfig covers exchange API access.
type DeribitConfig struct {
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	BaseURL        string        `mapstructure:"base_url"`
	Currencies     []string      `mapstructure:"currencies"`
	DvolCurrency   string        `mapstructure:"dvol_currency"`
	GreeksSource   string        `mapstructure:"greeks_source"`
	RetryTimes     int           `mapstructure:"retry_times"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ThresholdsConfig groups all alert thresholds.
type ThresholdsConfig struct {
	Gamma TierThresholds `mapstructure:"gamma"`
	Vega  TierThresholds `mapstructure:"vega"`
	Dvol  DvolThresholds `mapstructure:"dvol"`
}

// TierThresholds 定义三级预警阈值（轻度/中度/重度）。
type TierThresholds struct {
	Light  float64 `mapstructure:"light"`
	Medium float64 `mapstructure:"medium"`
	Heavy  float64 `mapstructure:"heavy"`
}

// DvolThresholds governs volatility index alert rules.
type DvolThresholds struct {
	AbsValue          float64   `mapstructure:"abs_value"`
	PctChange5m       float64   `mapstructure:"pct_change_5m"`
	AbsChange5m       float64   `mapstructure:"abs_change_5m"`
	SpecificValues    []float64 `mapstructure:"specific_values"`
	SpecificTolerance float64   `mapstructure:"specific_value_tolerance"`
}

// AlertingConfig defines alert gating and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Feishu   FeishuConfig   `mapstructure:"feishu"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// FeishuConfig 描述飞书 Webhook 告警参数。
type FeishuConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// StoreConfig locates the durable observation snapshot.
type StoreConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// DatabaseConfig encapsulates the optional PostgreSQL alert audit trail.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MetricsConfig exposes the optional Prometheus listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// Credentials live in .env during development, as a plain environment
	// in production. A missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GREEKSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// applyEnvOverrides honours the unprefixed variable names the exchange
// credentials have always shipped under.
func applyEnvOverrides(cfg *Config) {
	if id := os.Getenv("DERIBIT_CLIENT_ID"); id != "" {
		cfg.Deribit.ClientID = id
	}
	if secret := os.Getenv("DERIBIT_CLIENT_SECRET"); secret != "" {
		cfg.Deribit.ClientSecret = secret
	}
	if url := os.Getenv("DERIBIT_BASE_URL"); url != "" {
		cfg.Deribit.BaseURL = url
	}
	if hook := os.Getenv("FEISHU_WEBHOOK_URL"); hook != "" {
		cfg.Alerting.Feishu.WebhookURL = hook
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "greekswatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("deribit.base_url", "https://www.deribit.com")
	v.SetDefault("deribit.currencies", []string{"BTC", "ETH", "USDC", "SOL"})
	v.SetDefault("deribit.dvol_currency", "BTC")
	v.SetDefault("deribit.greeks_source", "auto")
	v.SetDefault("deribit.retry_times", 3)
	v.SetDefault("deribit.connect_timeout", "30s")
	v.SetDefault("deribit.request_timeout", "60s")

	v.SetDefault("thresholds.gamma.light", 0.0001)
	v.SetDefault("thresholds.gamma.medium", 0.0005)
	v.SetDefault("thresholds.gamma.heavy", 0.001)
	v.SetDefault("thresholds.vega.light", 10.0)
	v.SetDefault("thresholds.vega.medium", 30.0)
	v.SetDefault("thresholds.vega.heavy", 50.0)
	v.SetDefault("thresholds.dvol.abs_value", 60.0)
	v.SetDefault("thresholds.dvol.pct_change_5m", 0.05)
	v.SetDefault("thresholds.dvol.abs_change_5m", 5.0)
	v.SetDefault("thresholds.dvol.specific_value_tolerance", 0.5)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "5m")
	v.SetDefault("alerting.channels", []string{"feishu"})
	v.SetDefault("alerting.feishu.enabled", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("store.path", "state_store.json")
	v.SetDefault("store.retention", "1h")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("store.retention must be greater than zero")
	}
	if c.Deribit.RetryTimes <= 0 {
		return fmt.Errorf("deribit.retry_times must be greater than zero")
	}
	switch c.Deribit.GreeksSource {
	case "auto", "order_book", "position":
	default:
		return fmt.Errorf("deribit.greeks_source 必须是 auto/order_book/position 之一")
	}
	if err := validateTiers("thresholds.gamma", c.Thresholds.Gamma); err != nil {
		return err
	}
	if err := validateTiers("thresholds.vega", c.Thresholds.Vega); err != nil {
		return err
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Thresholds.Dvol.SpecificTolerance < 0 {
		return fmt.Errorf("thresholds.dvol.specific_value_tolerance cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

func validateTiers(name string, t TierThresholds) error {
	if t.Light < 0 || t.Medium < 0 || t.Heavy < 0 {
		return fmt.Errorf("%s thresholds cannot be negative", name)
	}
	if t.Light > t.Medium || t.Medium > t.Heavy {
		return fmt.Errorf("%s thresholds must ascend light <= medium <= heavy", name)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
