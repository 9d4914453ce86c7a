package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const yamlConfig = `
ledger:
  db_path: /tmp/autopilot.db
metrics:
  listen: ":9185"
oracle:
  command: decide.sh
  args: ["--model", "large"]
  cost_per_call: 0.02
venue:
  kind: paper
  paper_balance: 10000
  paper_marks:
    BTC-USD: 65000
sessions:
  - name: btc-swing
    symbols: [BTC-USD]
    style_profile: swing
    monitor_interval: 15m
    idle_interval: 5m
    cooldown: 30m
    min_size_pct: 5
    max_size_pct: 25
    max_leverage: 10
    max_position_loss_pct: 5
    max_daily_loss_pct: 10
    max_trades_per_day: 3
    emergency_stop_pct: 15
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", yamlConfig)

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)

	assert.Equal(t, "/tmp/autopilot.db", cfg.Ledger.DBPath)
	assert.Equal(t, ":9185", cfg.Metrics.Listen)
	assert.Equal(t, "decide.sh", cfg.Oracle.Command)
	assert.Equal(t, []string{"--model", "large"}, cfg.Oracle.Args)
	assert.Equal(t, 65000.0, cfg.Venue.PaperMarks["BTC-USD"])

	if assert.Len(t, cfg.Sessions, 1) {
		s := cfg.Sessions[0]
		assert.Equal(t, "btc-swing", s.Name)
		assert.Equal(t, 15*time.Minute, s.MonitorInterval.Std())
		assert.Equal(t, 5*time.Minute, s.IdleInterval.Std())
		assert.Equal(t, 30*time.Minute, s.Cooldown.Std())
		assert.Equal(t, 25.0, s.MaxSizePct)
	}
}

func TestLoadJSONFallback(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
		"ledger": {"db_path": "x.db"},
		"venue": {"kind": "paper"},
		"sessions": [{
			"name": "s1",
			"symbols": ["ETH-USD"],
			"monitor_interval": "10m",
			"cooldown": 600,
			"min_size_pct": 5,
			"max_size_pct": 20,
			"max_leverage": 5,
			"max_position_loss_pct": 4,
			"max_daily_loss_pct": 8,
			"max_trades_per_day": 2,
			"emergency_stop_pct": 12
		}]
	}`)

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)
	if assert.Len(t, cfg.Sessions, 1) {
		assert.Equal(t, 10*time.Minute, cfg.Sessions[0].MonitorInterval.Std())
		// Bare integers are seconds.
		assert.Equal(t, 10*time.Minute, cfg.Sessions[0].Cooldown.Std())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadUnparseable(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "bad.yaml", "::: not a config :::")
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		c := Default()
		return c
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.Ledger.DBPath = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Venue.Kind = "binance"
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions = nil
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions[0].Name = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions = append(c.Sessions, c.Sessions[0])
	assert.Error(t, c.Validate(), "duplicate names")

	c = base()
	c.Sessions[0].Symbols = nil
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions[0].MinSizePct = 30 // above max
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions[0].MaxSizePct = 120
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions[0].EmergencyStopPct = 5 // below daily loss ceiling
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions[0].MonitorInterval = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Sessions[0].Cooldown = Duration(-time.Minute)
	assert.Error(t, c.Validate())
}

func TestValidateRejectsSharedSymbols(t *testing.T) {
	t.Parallel()

	// Sessions find their venue position by symbol; two sessions on the
	// same symbol would supervise each other's trades.
	c := Default()
	second := c.Sessions[0]
	second.Name = "second"
	second.Symbols = []string{"ETHUSDT", c.Sessions[0].Symbols[0]}
	c.Sessions = append(c.Sessions, second)

	err := c.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), c.Sessions[0].Symbols[0])
	}

	c.Sessions[1].Symbols = []string{"ETHUSDT", "SOLUSDT"}
	assert.NoError(t, c.Validate())
}

func TestDurationRoundTrip(t *testing.T) {
	t.Parallel()

	var d Duration
	assert.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	assert.NoError(t, d.UnmarshalJSON([]byte(`45`)))
	assert.Equal(t, 45*time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))

	b, err := Duration(15 * time.Minute).MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"15m0s"`, string(b))
}
