// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"vendingmachine/internal/card"
	"vendingmachine/internal/cash"
	"vendingmachine/internal/logger"
)

// Config is the full process configuration, read from the environment.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`

	Machine MachineConfig
	Server  ServerConfig
	Log     LogConfig
	Journal JournalConfig
}

// MachineConfig holds every knob of the machine core.
type MachineConfig struct {
	Currency     string        `env:"VM_CURRENCY" envDefault:"KRW"`
	Coins        []int         `env:"VM_COINS" envDefault:"100,500"`
	Bills        []int         `env:"VM_BILLS" envDefault:"1000,5000,10000"`
	MaxBalance   int           `env:"VM_MAX_BALANCE" envDefault:"10000"`
	CardTimeout  time.Duration `env:"VM_CARD_TIMEOUT" envDefault:"10s"`
	CardTiers    []int         `env:"VM_CARD_TIERS" envDefault:"100,500"`
	ReserveCount int           `env:"VM_RESERVE_COUNT" envDefault:"10"`
	CatalogPath  string        `env:"VM_CATALOG_PATH"`
}

type ServerConfig struct {
	Host          string `env:"SERVER_HOST" envDefault:"127.0.0.1"`
	Port          string `env:"SERVER_PORT" envDefault:"5051"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`
}

type LogConfig struct {
	Directory  string `env:"LOGS_DIRECTORY" envDefault:"./logs"`
	FileFormat string `env:"LOG_FILE_FORMAT" envDefault:"server_%s.log"`
	TimeZone   string `env:"TIME_ZONE" envDefault:"Local"`
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
}

type JournalConfig struct {
	Path      string        `env:"VM_JOURNAL_PATH"`
	Retention time.Duration `env:"VM_JOURNAL_RETENTION" envDefault:"720h"`
	Buffer    int           `env:"VM_JOURNAL_BUFFER" envDefault:"256"`
}

//
// --- Utility Helpers ---
//

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "dev"
	}
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(environment)))
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

//
// --- Loaders ---
//

// LoadEnv reads the .env file if there is one.
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		logger.LogWarn("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		logger.LogInfo("No .env file found in %s. Using system environment variables.", wd)
	} else {
		logger.LogInfo("Loaded environment variables from .env file in %s", wd)
	}
}

// Load parses and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Server.AllowedOrigin == "" {
		cfg.Server.AllowedOrigin = GetEnvBasedSetting("ALLOWED_ORIGIN")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the machine settings by building their component configs.
func (c Config) Validate() error {
	if err := c.Machine.CashConfig().Validate(); err != nil {
		return fmt.Errorf("machine cash settings: %w", err)
	}
	if err := c.Machine.CardConfig().Validate(); err != nil {
		return fmt.Errorf("machine card settings: %w", err)
	}
	if c.Journal.Path != "" && c.Journal.Retention <= 0 {
		return fmt.Errorf("journal retention must be positive")
	}
	if c.Journal.Buffer <= 0 {
		return fmt.Errorf("journal buffer must be positive")
	}
	return nil
}

// CashConfig returns the cash ledger configuration.
func (m MachineConfig) CashConfig() cash.Config {
	return cash.Config{
		Currency:       m.Currency,
		Coins:          m.Coins,
		Bills:          m.Bills,
		MaxBalance:     m.MaxBalance,
		InitialReserve: m.ReserveCount,
	}
}

// CardConfig returns the card session configuration.
func (m MachineConfig) CardConfig() card.Config {
	return card.Config{
		Timeout:  m.CardTimeout,
		Tiers:    m.CardTiers,
		Currency: m.Currency,
	}
}

// LoggerConfig returns a logger.Config struct populated from environment
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		LogsDirectory: c.Log.Directory,
		LogFileFormat: c.Log.FileFormat,
		TimeZone:      c.Log.TimeZone,
		Level:         c.Log.Level,
	}
}

// ServerAddress builds the listen address.
func (c Config) ServerAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// LogCurrentEnvironment logs which environment is running.
func (c Config) LogCurrentEnvironment() {
	if c.Environment == "dev" {
		logger.LogInfo("Running in development environment")
	} else {
		logger.LogInfo("Running in %s environment", c.Environment)
	}
	logger.LogInfo("Accepting %s coins %v and bills %v up to %s; card timeout %v",
		c.Machine.Currency, c.Machine.Coins, c.Machine.Bills,
		cash.FormatAmount(c.Machine.MaxBalance, c.Machine.Currency), c.Machine.CardTimeout)
}
