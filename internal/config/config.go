// Package config loads the service configuration from configs/config.yaml,
// environment variables and defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantfold/lobstream/internal/analytics"
	"github.com/quantfold/lobstream/internal/services"
	"github.com/quantfold/lobstream/internal/source"
)

type Config struct {
	Environment string                   `mapstructure:"environment"`
	LogLevel    string                   `mapstructure:"log_level"`
	Server      ServerConfig             `mapstructure:"server"`
	Database    DatabaseConfig           `mapstructure:"database"`
	Redis       RedisConfig              `mapstructure:"redis"`
	Replay      ReplayConfig             `mapstructure:"replay"`
	Synthetic   source.SyntheticConfig   `mapstructure:"synthetic"`
	Analytics   analytics.Config         `mapstructure:"analytics"`
	Indicators  services.IndicatorConfig `mapstructure:"indicators"`
	Telegram    TelegramConfig           `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ReplayConfig controls the snapshot sources and the per-session
// buffer.
type ReplayConfig struct {
	CSVPath        string        `mapstructure:"csv_path"`
	PostgresDelay  time.Duration `mapstructure:"postgres_delay"`
	CSVDelay       time.Duration `mapstructure:"csv_delay"`
	BufferCapacity int           `mapstructure:"buffer_capacity"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if config.Replay.BufferCapacity <= 0 {
		return nil, fmt.Errorf("replay buffer capacity must be positive, got %d", config.Replay.BufferCapacity)
	}
	if config.Synthetic.TickSize <= 0 {
		return nil, fmt.Errorf("synthetic tick size must be positive, got %f", config.Synthetic.TickSize)
	}

	return &config, nil
}

// DatabaseDSN assembles the pgx connection string, preferring an
// explicit database_url.
func (c *Config) DatabaseDSN() string {
	if c.Database.DatabaseURL != "" {
		return c.Database.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host,
		c.Database.Port, c.Database.DBName, c.Database.SSLMode)
}

// RedisAddr returns the host:port address for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "lobstream")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.conn_max_lifetime", "300s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Replay
	viper.SetDefault("replay.csv_path", "data/l2_orderbook.csv")
	viper.SetDefault("replay.postgres_delay", "250ms")
	viper.SetDefault("replay.csv_delay", "100ms")
	viper.SetDefault("replay.buffer_capacity", 100)
	viper.SetDefault("replay.cache_ttl", "10s")

	// Synthetic generator
	viper.SetDefault("synthetic.start_price", 100.0)
	viper.SetDefault("synthetic.spread_mean", 0.05)
	viper.SetDefault("synthetic.spread_std", 0.02)
	viper.SetDefault("synthetic.tick_size", 0.01)
	viper.SetDefault("synthetic.depth_levels", 10)
	viper.SetDefault("synthetic.time_step", "100ms")
	viper.SetDefault("synthetic.seed", 0)

	// Analytics engine
	viper.SetDefault("analytics.tick_size", 0.01)
	viper.SetDefault("analytics.history_window", 600)
	viper.SetDefault("analytics.vol_samples", 20)
	viper.SetDefault("analytics.gap_threshold", 50.0)
	viper.SetDefault("analytics.ofi_normalizer", 500.0)
	viper.SetDefault("analytics.smoothing_alpha", 0.05)
	viper.SetDefault("analytics.refit_interval", "10s")
	viper.SetDefault("analytics.min_fit_samples", 50)

	// Indicators
	viper.SetDefault("indicators.sma_period", 20)
	viper.SetDefault("indicators.ema_period", 20)
	viper.SetDefault("indicators.rsi_period", 14)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", "")
}
