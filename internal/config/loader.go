package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Positional arguments are DOMAIN, API_KEY, and ADDRESSES_FILE, in that order.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if len(args) == 0 {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfg := &Config{
		Timeout: 30 * time.Second,
		Tracing: TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}

	configPath := flagSet.Lookup("config").Value.String()
	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfgViper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		cfg.ConfigFile = configPath
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	if err := applyPositionals(cfg, flagSet.Args()); err != nil {
		return nil, err
	}

	cfg.Domain = strings.TrimRight(strings.TrimSpace(cfg.Domain), "/")
	return cfg, nil
}

// applyPositionals fills domain, api_key, and addresses file from positional
// arguments. Positionals override config-file values when present.
func applyPositionals(cfg *Config, args []string) error {
	if len(args) > 3 {
		return fmt.Errorf("expected at most 3 positional arguments, got %d", len(args))
	}
	if len(args) > 0 {
		cfg.Domain = args[0]
	}
	if len(args) > 1 {
		cfg.APIKey = args[1]
	}
	if len(args) > 2 {
		cfg.AddressesFile = args[2]
	}
	return nil
}
