// Package config loads the service configuration from .env, an optional
// config file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/logging"
	"trading-engine/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	Store   StoreConfig       `mapstructure:"store"`
	Account AccountConfig     `mapstructure:"account"`
	Market  models.Settings   `mapstructure:"market"`
	Log     logging.LogConfig `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // memory, sqlite, mongo
	SQLitePath string `mapstructure:"sqlite_path"`
	MongoURI   string `mapstructure:"mongo_uri"`
	Database   string `mapstructure:"database"`
}

type AccountConfig struct {
	StartingBalance float64 `mapstructure:"starting_balance"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	settings := models.DefaultSettings()
	return Config{
		Server:  ServerConfig{Port: "8080"},
		Store:   StoreConfig{Driver: "sqlite", SQLitePath: "trading.db", Database: "trading-engine"},
		Account: AccountConfig{StartingBalance: 1000},
		Market:  settings,
		Log:     logging.DefaultLogConfig(),
	}
}

// Load reads .env (if present), configFile (if non-empty or found as
// ./config.yaml) and TRADING_* environment variables.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("TRADING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by earlier deployments.
	_ = v.BindEnv("server.port", "TRADING_SERVER_PORT", "PORT")
	_ = v.BindEnv("store.mongo_uri", "TRADING_STORE_MONGO_URI", "MONGODB_URI")
	_ = v.BindEnv("store.database", "TRADING_STORE_DATABASE", "DATABASE_NAME")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.mongo_uri", d.Store.MongoURI)
	v.SetDefault("store.database", d.Store.Database)
	v.SetDefault("account.starting_balance", d.Account.StartingBalance)
	v.SetDefault("market.update_interval_seconds", d.Market.UpdateIntervalSeconds)
	v.SetDefault("market.auto_update", d.Market.AutoUpdateEnabled)
	v.SetDefault("market.volatility_percent", d.Market.VolatilityPercent)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.file_path", d.Log.FilePath)
	v.SetDefault("log.max_size_mb", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAge)
}

// Validate rejects out-of-range settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "mongo":
	default:
		return apperrors.NewValidationError("store.driver", c.Store.Driver, "must be memory, sqlite or mongo")
	}
	if c.Store.Driver == "mongo" && c.Store.MongoURI == "" {
		return apperrors.NewValidationError("store.mongo_uri", "", "required for the mongo driver")
	}
	if !(c.Account.StartingBalance > 0) {
		return apperrors.NewValidationError("account.starting_balance", c.Account.StartingBalance, "must be greater than 0")
	}
	return ValidateSettings(c.Market)
}

// ValidateSettings checks the market update settings ranges.
func ValidateSettings(s models.Settings) error {
	if s.UpdateIntervalSeconds < 1 || s.UpdateIntervalSeconds > 30 {
		return apperrors.NewValidationError("updateIntervalSeconds", s.UpdateIntervalSeconds, "must be between 1 and 30")
	}
	if s.VolatilityPercent < 0 || s.VolatilityPercent > 100 {
		return apperrors.NewValidationError("volatilityPercent", s.VolatilityPercent, "must be between 0 and 100")
	}
	return nil
}
