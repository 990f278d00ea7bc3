package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the probe reads.
const EnvPrefix = "DERIBIT_PROBE"

type Config struct {
	ExpectedVersion string
	Timeout         time.Duration
	MaxMessageSize  int
	HistoryDB       string
	HistoryLimit    int
	LogLevel        zerolog.Level
	Trace           bool
}

// Load reads flags from args, then DERIBIT_PROBE_* variables, then an
// optional config file named by --config. Flags win over the environment,
// the environment wins over the file.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("deribit-probe", pflag.ContinueOnError)
	fs.String("config", "", "optional config file (yaml, toml, json)")
	fs.String("expected-version", "2.0", "API version the exchange must report")
	fs.Duration("timeout", 10*time.Second, "overall deadline for connect, probe and disconnect")
	fs.Int("max-message-size", 0, "largest reply accepted in bytes, 0 for no limit")
	fs.String("history-db", "", "sqlite db path for probe history (disabled when empty)")
	fs.Int("history", 0, "print the last N recorded runs and exit")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("trace", true, "print wire trace entries")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	level, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log-level: %w", err)
	}

	cfg := &Config{
		ExpectedVersion: v.GetString("expected-version"),
		Timeout:         v.GetDuration("timeout"),
		MaxMessageSize:  v.GetInt("max-message-size"),
		HistoryDB:       v.GetString("history-db"),
		HistoryLimit:    v.GetInt("history"),
		LogLevel:        level,
		Trace:           v.GetBool("trace"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.ExpectedVersion == "" {
		return errors.New("expected-version required")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if cfg.MaxMessageSize < 0 {
		return errors.New("max-message-size must not be negative")
	}
	if cfg.HistoryLimit > 0 && cfg.HistoryDB == "" {
		return errors.New("history requires history-db")
	}
	return nil
}
