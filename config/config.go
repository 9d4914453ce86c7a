// Package config loads the operator-supplied configuration file (YAML or
// JSON) and venue credentials from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	Ledger   LedgerConfig    `json:"ledger" yaml:"ledger"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
	Oracle   OracleConfig    `json:"oracle" yaml:"oracle"`
	Venue    VenueConfig     `json:"venue" yaml:"venue"`
	Sessions []SessionConfig `json:"sessions" yaml:"sessions"`
}

type LedgerConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

type MetricsConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"` // empty disables /metrics
}

// OracleConfig configures the out-of-process decision command.
type OracleConfig struct {
	Command     string   `json:"command" yaml:"command"`
	Args        []string `json:"args,omitempty" yaml:"args,omitempty"`
	CostPerCall float64  `json:"cost_per_call,omitempty" yaml:"cost_per_call,omitempty"`
}

// VenueConfig selects the exchange backend. "paper" is the built-in sim;
// credentials for live backends come from the environment, never the file.
type VenueConfig struct {
	Kind         string  `json:"kind" yaml:"kind"` // "paper"
	PaperBalance float64 `json:"paper_balance,omitempty" yaml:"paper_balance,omitempty"`

	// PaperMarks seeds the paper venue's mark prices per symbol.
	PaperMarks map[string]float64 `json:"paper_marks,omitempty" yaml:"paper_marks,omitempty"`

	APIKeyEnv    string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	APISecretEnv string `json:"api_secret_env,omitempty" yaml:"api_secret_env,omitempty"`
}

// SessionConfig is one session's declaration.
type SessionConfig struct {
	Name         string   `json:"name" yaml:"name"`
	Symbols      []string `json:"symbols" yaml:"symbols"`
	StyleProfile string   `json:"style_profile,omitempty" yaml:"style_profile,omitempty"`

	MonitorInterval Duration `json:"monitor_interval" yaml:"monitor_interval"`
	IdleInterval    Duration `json:"idle_interval,omitempty" yaml:"idle_interval,omitempty"`
	DecisionTimeout Duration `json:"decision_timeout,omitempty" yaml:"decision_timeout,omitempty"`
	ExchangeTimeout Duration `json:"exchange_timeout,omitempty" yaml:"exchange_timeout,omitempty"`
	Cooldown        Duration `json:"cooldown" yaml:"cooldown"`

	MinSizePct         float64 `json:"min_size_pct" yaml:"min_size_pct"`
	MaxSizePct         float64 `json:"max_size_pct" yaml:"max_size_pct"`
	MaxLeverage        float64 `json:"max_leverage" yaml:"max_leverage"`
	MaxPositionLossPct float64 `json:"max_position_loss_pct" yaml:"max_position_loss_pct"`
	MinStopDistancePct float64 `json:"min_stop_distance_pct,omitempty" yaml:"min_stop_distance_pct,omitempty"`
	MaxDailyLossPct    float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxTradesPerDay    int     `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	EmergencyStopPct   float64 `json:"emergency_stop_pct" yaml:"emergency_stop_pct"`

	FailureWarnThreshold int `json:"failure_warn_threshold,omitempty" yaml:"failure_warn_threshold,omitempty"`
	FailureHaltCeiling   int `json:"failure_halt_ceiling,omitempty" yaml:"failure_halt_ceiling,omitempty"`
}

// LoadFromFile reads a config file, trying YAML first and falling back to
// JSON. A .env file alongside the process, if present, is loaded into the
// environment for credential lookups.
func LoadFromFile(path string) (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", yerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration before any session starts.
func (c *Config) Validate() error {
	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path is required")
	}
	switch c.Venue.Kind {
	case "", "paper":
	default:
		return fmt.Errorf("unknown venue kind %q (supported: paper)", c.Venue.Kind)
	}
	if len(c.Sessions) == 0 {
		return fmt.Errorf("at least one session is required")
	}

	seen := map[string]bool{}
	// Sessions share one venue and locate their position by symbol, so a
	// symbol may belong to at most one session.
	symbolOwner := map[string]string{}
	for i := range c.Sessions {
		s := &c.Sessions[i]
		if s.Name == "" {
			return fmt.Errorf("sessions[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate session name %q", s.Name)
		}
		seen[s.Name] = true

		if len(s.Symbols) == 0 {
			return fmt.Errorf("session %s: at least one symbol is required", s.Name)
		}
		for _, sym := range s.Symbols {
			if owner, ok := symbolOwner[sym]; ok {
				return fmt.Errorf("symbol %s configured in sessions %s and %s; a symbol may belong to one session only", sym, owner, s.Name)
			}
			symbolOwner[sym] = s.Name
		}
		if s.MinSizePct <= 0 || s.MaxSizePct <= 0 || s.MinSizePct > s.MaxSizePct {
			return fmt.Errorf("session %s: size bounds must satisfy 0 < min <= max", s.Name)
		}
		if s.MaxSizePct > 100 {
			return fmt.Errorf("session %s: max_size_pct above 100", s.Name)
		}
		if s.MaxPositionLossPct <= 0 {
			return fmt.Errorf("session %s: max_position_loss_pct must be positive", s.Name)
		}
		if s.MaxDailyLossPct <= 0 {
			return fmt.Errorf("session %s: max_daily_loss_pct must be positive", s.Name)
		}
		if s.EmergencyStopPct < s.MaxDailyLossPct {
			return fmt.Errorf("session %s: emergency_stop_pct must not be below max_daily_loss_pct", s.Name)
		}
		if s.MaxTradesPerDay <= 0 {
			return fmt.Errorf("session %s: max_trades_per_day must be positive", s.Name)
		}
		if s.MonitorInterval <= 0 {
			return fmt.Errorf("session %s: monitor_interval must be positive", s.Name)
		}
		if s.Cooldown < 0 {
			return fmt.Errorf("session %s: cooldown must not be negative", s.Name)
		}
	}
	return nil
}

// Default returns a runnable paper-trading configuration.
func Default() *Config {
	return &Config{
		Ledger:  LedgerConfig{DBPath: "./autopilot.db"},
		Metrics: MetricsConfig{Listen: ":9185"},
		Venue:   VenueConfig{Kind: "paper", PaperBalance: 10000},
		Sessions: []SessionConfig{{
			Name:               "default",
			Symbols:            []string{"BTCUSDT"},
			MonitorInterval:    Duration(15 * time.Minute),
			Cooldown:           Duration(30 * time.Minute),
			MinSizePct:         5,
			MaxSizePct:         25,
			MaxLeverage:        10,
			MaxPositionLossPct: 5,
			MaxDailyLossPct:    10,
			MaxTradesPerDay:    3,
			EmergencyStopPct:   15,
		}},
	}
}
