package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadFrom(t *testing.T, contents string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return Load(path)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := loadFrom(t, `{}`)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8765 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Exchange.Symbols) != 2 {
		t.Errorf("symbols = %v", cfg.Exchange.Symbols)
	}
	if cfg.Exchange.TickInterval != time.Second {
		t.Errorf("tick_interval = %v", cfg.Exchange.TickInterval)
	}
	if cfg.Exchange.DefaultBalance["USD"] != 100000 {
		t.Errorf("default USD = %v", cfg.Exchange.DefaultBalance["USD"])
	}
	if cfg.Failures.Enabled {
		t.Error("failures must default off")
	}
	if cfg.Failures.Modes.RateLimit.RequestsPerSec != 10 {
		t.Errorf("rate budget = %d", cfg.Failures.Modes.RateLimit.RequestsPerSec)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()
	cfg, err := loadFrom(t, `{
		"server": {"port": 9000},
		"exchange": {
			"symbols": ["SOL/USD"],
			"tick_interval": "250ms",
			"initial_prices": {"SOL/USD": 150}
		},
		"failures": {
			"enabled": true,
			"latency": {"mode": "typical"},
			"modes": {
				"drop_messages": {"enabled": true, "probability": 0.1},
				"silent_connection": {"enabled": true, "after_messages": 5}
			}
		}
	}`)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Exchange.TickInterval != 250*time.Millisecond {
		t.Errorf("tick_interval = %v", cfg.Exchange.TickInterval)
	}
	if !cfg.Failures.Modes.DropMessages.Enabled || cfg.Failures.Modes.DropMessages.Probability != 0.1 {
		t.Errorf("drop config = %+v", cfg.Failures.Modes.DropMessages)
	}
	if cfg.Failures.Modes.SilentConnection.AfterMessages != 5 {
		t.Errorf("silent config = %+v", cfg.Failures.Modes.SilentConnection)
	}
	if cfg.Failures.Latency.Mode != "typical" {
		t.Errorf("latency mode = %q", cfg.Failures.Latency.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Exchange.Symbols = nil }},
		{"bad pair", func(c *Config) { c.Exchange.Symbols = []string{"BTCUSD"} }},
		{"zero tick", func(c *Config) { c.Exchange.TickInterval = 0 }},
		{"bad probability", func(c *Config) { c.Failures.Modes.DropMessages.Probability = 1.5 }},
		{"bad latency mode", func(c *Config) { c.Failures.Latency.Mode = "chaotic" }},
		{"bad liquidity policy", func(c *Config) { c.Exchange.MarketNoLiquidity = "explode" }},
		{"zero budget", func(c *Config) { c.Failures.Modes.RateLimit.RequestsPerSec = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := loadFrom(t, `{}`)
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	t.Parallel()
	if _, err := loadFrom(t, `{broken`); err == nil {
		t.Error("malformed config must not load")
	}
}
