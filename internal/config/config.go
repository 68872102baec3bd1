package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/pulsewatch/internal/alerts"
	"github.com/rewired-gh/pulsewatch/internal/cryptocompare"
	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/momentum"
	"github.com/rewired-gh/pulsewatch/internal/monitor"
	"github.com/rewired-gh/pulsewatch/internal/polygon"
	"github.com/rewired-gh/pulsewatch/internal/retry"
	"github.com/rewired-gh/pulsewatch/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. PULSEWATCH_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "PULSEWATCH"

// Config represents the complete application configuration
type Config struct {
	CryptoCompare CryptoCompareConfig `mapstructure:"cryptocompare"`
	Polygon       PolygonConfig       `mapstructure:"polygon"`
	Momentum      MomentumConfig      `mapstructure:"momentum"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Server        ServerConfig        `mapstructure:"server"`
	Display       DisplayConfig       `mapstructure:"display"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// CryptoCompareConfig holds the REST polling source configuration
type CryptoCompareConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Symbols           []string      `mapstructure:"symbols"`
	Quote             string        `mapstructure:"quote"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	HistoryPeriods    int           `mapstructure:"history_periods"`
}

// PolygonConfig holds the websocket streaming source configuration
type PolygonConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	WSURL          string        `mapstructure:"ws_url"`
	APIKey         string        `mapstructure:"api_key"`
	Pairs          []string      `mapstructure:"pairs"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// MomentumConfig holds signal thresholds and engine timeouts
type MomentumConfig struct {
	NewHighPct          float64       `mapstructure:"new_high_pct"`
	NewHighCooldown     time.Duration `mapstructure:"new_high_cooldown"`
	MomentumPricePct    float64       `mapstructure:"momentum_price_pct"`
	MomentumVolumeRatio float64       `mapstructure:"momentum_volume_ratio"`
	SpikeRelativeVolume float64       `mapstructure:"spike_relative_volume"`
	SpikeFactor         float64       `mapstructure:"spike_factor"`
	SpikePricePct       float64       `mapstructure:"spike_price_pct"`
	StoreTimeout        time.Duration `mapstructure:"store_timeout"`
	HistoryTimeout      time.Duration `mapstructure:"history_timeout"`
	HistoryWorkers      int           `mapstructure:"history_workers"`
}

// AlertsConfig holds alert history behavior
type AlertsConfig struct {
	DedupWindow   time.Duration `mapstructure:"dedup_window"`
	HistoryCap    int           `mapstructure:"history_cap"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Sound         bool          `mapstructure:"sound"`
}

// RetryConfig is the backoff policy shared by every external call
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Factor      float64       `mapstructure:"factor"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StorageConfig selects the database
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DisplayConfig holds console rendering configuration
type DisplayConfig struct {
	Console         bool          `mapstructure:"console"`
	SortBy          string        `mapstructure:"sort_by"`
	Descending      bool          `mapstructure:"descending"`
	Rows            int           `mapstructure:"rows"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from file and environment variables. A .env file
// in the working directory is applied to the environment first. An empty
// path skips the config file.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// loadDotEnv sets variables from path without overriding ones already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.CryptoCompare.Quote = strings.ToUpper(strings.TrimSpace(c.CryptoCompare.Quote))
	c.CryptoCompare.Symbols = normalizeList(c.CryptoCompare.Symbols)
	c.Polygon.Pairs = normalizeList(c.Polygon.Pairs)
	c.Display.SortBy = strings.ToLower(strings.TrimSpace(c.Display.SortBy))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// normalizeList upper-cases, trims and de-duplicates entries, keeping order.
func normalizeList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// CryptoCompare defaults
	v.SetDefault("cryptocompare.enabled", true)
	v.SetDefault("cryptocompare.base_url", cryptocompare.DefaultBaseURL)
	v.SetDefault("cryptocompare.api_key", "")
	v.SetDefault("cryptocompare.symbols", []string{
		"BTC", "ETH", "XRP", "BNB", "SOL", "DOGE", "LINK", "UNI", "AVAX", "ARB",
		"OP", "INJ", "AAVE", "LDO", "PEPE", "WIF", "SHIB", "TRX", "ONDO", "RENDER",
	})
	v.SetDefault("cryptocompare.quote", "USD")
	v.SetDefault("cryptocompare.poll_interval", "5s")
	v.SetDefault("cryptocompare.timeout", "10s")
	v.SetDefault("cryptocompare.requests_per_second", 5.0)
	v.SetDefault("cryptocompare.history_periods", 12)

	// Polygon defaults
	v.SetDefault("polygon.enabled", false)
	v.SetDefault("polygon.ws_url", polygon.DefaultURL)
	v.SetDefault("polygon.api_key", "")
	v.SetDefault("polygon.pairs", []string{"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD"})
	v.SetDefault("polygon.reconnect_delay", "5s")

	// Momentum defaults
	v.SetDefault("momentum.new_high_pct", 2.0)
	v.SetDefault("momentum.new_high_cooldown", "5m")
	v.SetDefault("momentum.momentum_price_pct", 5.0)
	v.SetDefault("momentum.momentum_volume_ratio", 2.0)
	v.SetDefault("momentum.spike_relative_volume", 5.0)
	v.SetDefault("momentum.spike_factor", 1.5)
	v.SetDefault("momentum.spike_price_pct", 5.0)
	v.SetDefault("momentum.store_timeout", "3s")
	v.SetDefault("momentum.history_timeout", "5s")
	v.SetDefault("momentum.history_workers", 8)

	// Alerts defaults
	v.SetDefault("alerts.dedup_window", "5m")
	v.SetDefault("alerts.history_cap", 100)
	v.SetDefault("alerts.max_age", "24h")
	v.SetDefault("alerts.sweep_interval", "1m")
	v.SetDefault("alerts.sound", true)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.max_delay", "10s")

	// Storage defaults
	v.SetDefault("storage.driver", storage.DriverSQLite)
	v.SetDefault("storage.dsn", "./data/pulsewatch.db")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	// Display defaults
	v.SetDefault("display.console", false)
	v.SetDefault("display.sort_by", monitor.SortSymbol)
	v.SetDefault("display.descending", false)
	v.SetDefault("display.rows", 50)
	v.SetDefault("display.refresh_interval", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Sources
	if !c.CryptoCompare.Enabled && !c.Polygon.Enabled {
		return fmt.Errorf("at least one of cryptocompare.enabled or polygon.enabled must be true")
	}
	// Both feeds key state by base symbol but report volume over different windows.
	if c.CryptoCompare.Enabled && c.Polygon.Enabled {
		return fmt.Errorf("cryptocompare.enabled and polygon.enabled are mutually exclusive")
	}
	if c.CryptoCompare.Enabled {
		if c.CryptoCompare.BaseURL == "" {
			return fmt.Errorf("cryptocompare.base_url is required")
		}
		if len(c.CryptoCompare.Symbols) == 0 {
			return fmt.Errorf("cryptocompare.symbols must contain at least one symbol")
		}
		if c.CryptoCompare.Quote == "" {
			return fmt.Errorf("cryptocompare.quote is required")
		}
		if c.CryptoCompare.PollInterval < time.Second {
			return fmt.Errorf("cryptocompare.poll_interval must be at least 1 second")
		}
		if c.CryptoCompare.Timeout <= 0 {
			return fmt.Errorf("cryptocompare.timeout must be positive")
		}
		if c.CryptoCompare.RequestsPerSecond < 0 {
			return fmt.Errorf("cryptocompare.requests_per_second must not be negative")
		}
	}
	if c.CryptoCompare.HistoryPeriods < 1 {
		return fmt.Errorf("cryptocompare.history_periods must be at least 1")
	}
	if c.Polygon.Enabled {
		if c.Polygon.WSURL == "" {
			return fmt.Errorf("polygon.ws_url is required when polygon is enabled")
		}
		if c.Polygon.APIKey == "" {
			return fmt.Errorf("polygon.api_key is required when polygon is enabled")
		}
		if len(c.Polygon.Pairs) == 0 {
			return fmt.Errorf("polygon.pairs must contain at least one pair")
		}
		if c.Polygon.ReconnectDelay <= 0 {
			return fmt.Errorf("polygon.reconnect_delay must be positive")
		}
	}

	// Momentum
	positive := []struct {
		key string
		val float64
	}{
		{"momentum.new_high_pct", c.Momentum.NewHighPct},
		{"momentum.momentum_price_pct", c.Momentum.MomentumPricePct},
		{"momentum.momentum_volume_ratio", c.Momentum.MomentumVolumeRatio},
		{"momentum.spike_relative_volume", c.Momentum.SpikeRelativeVolume},
		{"momentum.spike_factor", c.Momentum.SpikeFactor},
		{"momentum.spike_price_pct", c.Momentum.SpikePricePct},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be positive", p.key)
		}
	}
	if c.Momentum.NewHighCooldown < 0 {
		return fmt.Errorf("momentum.new_high_cooldown must not be negative")
	}
	if c.Momentum.StoreTimeout <= 0 {
		return fmt.Errorf("momentum.store_timeout must be positive")
	}
	if c.Momentum.HistoryTimeout <= 0 {
		return fmt.Errorf("momentum.history_timeout must be positive")
	}
	if c.Momentum.HistoryWorkers < 1 {
		return fmt.Errorf("momentum.history_workers must be at least 1")
	}

	// Alerts
	if c.Alerts.DedupWindow < 0 {
		return fmt.Errorf("alerts.dedup_window must not be negative")
	}
	if c.Alerts.HistoryCap < 1 {
		return fmt.Errorf("alerts.history_cap must be at least 1")
	}
	if c.Alerts.MaxAge <= 0 {
		return fmt.Errorf("alerts.max_age must be positive")
	}
	if c.Alerts.SweepInterval <= 0 {
		return fmt.Errorf("alerts.sweep_interval must be positive")
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be at least 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be less than retry.base_delay")
	}

	// Storage
	if c.Storage.Driver != storage.DriverSQLite && c.Storage.Driver != storage.DriverPostgres {
		return fmt.Errorf("storage.driver must be one of: %s, %s", storage.DriverSQLite, storage.DriverPostgres)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}

	// Telegram
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server is enabled")
	}

	// Display
	if !monitor.ValidSortKey(c.Display.SortBy) {
		return fmt.Errorf("display.sort_by must be one of: %s", strings.Join(monitor.SortKeys, ", "))
	}
	if c.Display.Rows < 0 {
		return fmt.Errorf("display.rows must not be negative")
	}
	if c.Display.Console && c.Display.RefreshInterval <= 0 {
		return fmt.Errorf("display.refresh_interval must be positive")
	}

	// Logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}

	return nil
}

// RetryPolicy returns the shared retry policy
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Factor:      c.Retry.Factor,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// EngineConfig returns the momentum engine configuration
func (c *Config) EngineConfig() momentum.Config {
	cfg := momentum.DefaultConfig()
	cfg.NewHighPct = c.Momentum.NewHighPct
	cfg.NewHighCooldown = c.Momentum.NewHighCooldown
	cfg.HistoryPeriods = c.CryptoCompare.HistoryPeriods
	cfg.HistoryTimeout = c.Momentum.HistoryTimeout
	cfg.HistoryWorkers = c.Momentum.HistoryWorkers
	cfg.StoreTimeout = c.Momentum.StoreTimeout
	cfg.Retry = c.RetryPolicy()
	return cfg
}

// AggregatorConfig returns the aggregator configuration
func (c *Config) AggregatorConfig() alerts.Config {
	return alerts.Config{
		Thresholds: alerts.Thresholds{
			MomentumPricePct:    c.Momentum.MomentumPricePct,
			MomentumVolumeRatio: c.Momentum.MomentumVolumeRatio,
			SpikeRelativeVolume: c.Momentum.SpikeRelativeVolume,
			SpikeFactor:         c.Momentum.SpikeFactor,
			SpikePricePct:       c.Momentum.SpikePricePct,
		},
		DedupWindow:   c.Alerts.DedupWindow,
		HistoryCap:    c.Alerts.HistoryCap,
		MaxAge:        c.Alerts.MaxAge,
		SweepInterval: c.Alerts.SweepInterval,
		SoundEnabled:  c.Alerts.Sound,
		StoreTimeout:  c.Momentum.StoreTimeout,
		Retry:         c.RetryPolicy(),
	}
}

// CryptoCompareClientConfig returns the REST client configuration
func (c *Config) CryptoCompareClientConfig() cryptocompare.Config {
	return cryptocompare.Config{
		BaseURL:           c.CryptoCompare.BaseURL,
		APIKey:            c.CryptoCompare.APIKey,
		Quote:             c.CryptoCompare.Quote,
		Timeout:           c.CryptoCompare.Timeout,
		RequestsPerSecond: c.CryptoCompare.RequestsPerSecond,
		Retry:             c.RetryPolicy(),
	}
}

// PolygonStreamConfig returns the websocket stream configuration
func (c *Config) PolygonStreamConfig() polygon.Config {
	return polygon.Config{
		URL:            c.Polygon.WSURL,
		APIKey:         c.Polygon.APIKey,
		Pairs:          c.Polygon.Pairs,
		ReconnectDelay: c.Polygon.ReconnectDelay,
	}
}

// LoggerConfig returns the logger configuration
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
