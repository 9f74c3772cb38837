package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all monitor configuration loaded from environment variables.
type Config struct {
	DatabaseDSN      string `envconfig:"BCHWATCH_DB_DSN" required:"true"`
	ChangeChannel    string `envconfig:"BCHWATCH_CHANGE_CHANNEL" default:"bch_table_changes"`
	RunMigrations    bool   `envconfig:"BCHWATCH_RUN_MIGRATIONS" default:"true"`
	ElectrumHost     string `envconfig:"BCHWATCH_ELECTRUM_HOST" required:"true"`
	ElectrumPort     int    `envconfig:"BCHWATCH_ELECTRUM_PORT" default:"50002"`
	ElectrumTLS      bool   `envconfig:"BCHWATCH_ELECTRUM_TLS" default:"true"`
	ElectrumInsecure bool   `envconfig:"BCHWATCH_ELECTRUM_TLS_INSECURE" default:"false"`
	Port             int    `envconfig:"BCHWATCH_PORT" default:"8090"`
	LogLevel         string `envconfig:"BCHWATCH_LOG_LEVEL" default:"info"`
	LogDir           string `envconfig:"BCHWATCH_LOG_DIR" default:"./logs"`
	Network          string `envconfig:"BCHWATCH_NETWORK" default:"mainnet"`
	MonitorWorkers   int    `envconfig:"BCHWATCH_MONITOR_WORKERS" default:"8"`
	TiersFile        string `envconfig:"BCHWATCH_TIERS_FILE" default:"./tiers.json"`
}

// Load reads configuration from .env file (if present) then from environment variables.
func Load() (*Config, error) {
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("invalid config: BCHWATCH_DB_DSN must be set")
	}
	if c.ChangeChannel == "" {
		return fmt.Errorf("invalid config: BCHWATCH_CHANGE_CHANNEL must not be empty")
	}
	if c.ElectrumHost == "" {
		return fmt.Errorf("invalid config: BCHWATCH_ELECTRUM_HOST must be set")
	}
	if c.ElectrumPort < 1 || c.ElectrumPort > 65535 {
		return fmt.Errorf("invalid config: electrum port must be 1-65535, got %d", c.ElectrumPort)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid config: port must be 1-65535, got %d", c.Port)
	}
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("invalid config: network must be \"mainnet\" or \"testnet\", got %q", c.Network)
	}
	if c.MonitorWorkers < 1 {
		return fmt.Errorf("invalid config: BCHWATCH_MONITOR_WORKERS must be >= 1, got %d", c.MonitorWorkers)
	}
	return nil
}

// ElectrumAddr returns the host:port dial target for the Electrum server.
func (c *Config) ElectrumAddr() string {
	return fmt.Sprintf("%s:%d", c.ElectrumHost, c.ElectrumPort)
}
