package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auction   AuctionConfig
	Bidding   BiddingConfig
	Gate      GateConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
	Log       LogConfig
}

// ServerConfig defines the HTTP listener and token verification settings.
type ServerConfig struct {
	Addr      string
	JWTSecret string `mapstructure:"jwt_secret"`
}

// DatabaseConfig defines the database connection settings.
// Driver is either "postgres" or "memory".
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string `mapstructure:"ssl_mode"`
}

// AuctionConfig holds the fallback auction settings used when the
// settings table has no row.
type AuctionConfig struct {
	AutoExtendTriggerMinutes  int           `mapstructure:"auto_extend_trigger_minutes"`
	AutoExtendDurationMinutes int           `mapstructure:"auto_extend_duration_minutes"`
	SettingsCacheTTL          time.Duration `mapstructure:"settings_cache_ttl"`
}

// BiddingConfig defines bidder eligibility rules.
type BiddingConfig struct {
	MinRatingPercent float64 `mapstructure:"min_rating_percent"`
}

// GateConfig bounds the retry loop around conflicting writes.
type GateConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// SchedulerConfig defines how often expired auctions are swept.
// A zero interval disables the built-in ticker.
type SchedulerConfig struct {
	CloseInterval time.Duration `mapstructure:"close_interval"`
}

// NotifyConfig selects the notification sinks.
type NotifyConfig struct {
	Sinks         []string
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
}

// LogConfig defines the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// DSN builds a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gavel")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "gavel")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("auction.auto_extend_trigger_minutes", 5)
	v.SetDefault("auction.auto_extend_duration_minutes", 10)
	v.SetDefault("auction.settings_cache_ttl", time.Minute)
	v.SetDefault("bidding.min_rating_percent", 80.0)
	v.SetDefault("gate.max_attempts", 5)
	v.SetDefault("gate.base_backoff", 10*time.Millisecond)
	v.SetDefault("gate.max_backoff", 500*time.Millisecond)
	v.SetDefault("scheduler.close_interval", time.Minute)
	v.SetDefault("notify.sinks", []string{"log", "websocket"})
	v.SetDefault("notify.clickhouse_dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}

	err = config.Validate()
	return
}

// Validate checks values the engine cannot run without.
func (c Config) Validate() error {
	if c.Auction.AutoExtendTriggerMinutes <= 0 {
		return fmt.Errorf("auction.auto_extend_trigger_minutes must be > 0, got %d", c.Auction.AutoExtendTriggerMinutes)
	}
	if c.Auction.AutoExtendDurationMinutes <= 0 {
		return fmt.Errorf("auction.auto_extend_duration_minutes must be > 0, got %d", c.Auction.AutoExtendDurationMinutes)
	}
	if c.Gate.MaxAttempts <= 0 {
		return fmt.Errorf("gate.max_attempts must be > 0, got %d", c.Gate.MaxAttempts)
	}
	if c.Bidding.MinRatingPercent < 0 || c.Bidding.MinRatingPercent > 100 {
		return fmt.Errorf("bidding.min_rating_percent must be within [0, 100], got %v", c.Bidding.MinRatingPercent)
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}
	return nil
}
