// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sleepinganth/SPY/internal/schedule"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

// Gateway describes how strategy instances reach the brokerage bridge.
type Gateway struct {
	Provider       string `yaml:"provider"` // "paper" or "ws"
	URL            string `yaml:"url"`
	ClientIDBase   int    `yaml:"client_id_base"`
	PaperTrading   bool   `yaml:"paper_trading"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
}

// Journal configures the trade-event sinks.
type Journal struct {
	FillsPath string `yaml:"fills_path"`
}

// Indicators groups the periods a strategy instance computes with.
type Indicators struct {
	EMAShort    int     `yaml:"ema_short"`
	EMALong     int     `yaml:"ema_long"`
	RSIPeriod   int     `yaml:"rsi_period"`
	ATRPeriod   int     `yaml:"atr_period"`
	KeltnerMult float64 `yaml:"keltner_mult"`
}

// Thresholds groups the signal tuning knobs shared across variants.
type Thresholds struct {
	Touch         float64 `yaml:"touch"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RangeBars     int     `yaml:"range_bars"`
	StructureBars int     `yaml:"structure_bars"`
}

// Strategy is one strategy instance: a signal rule plus position sizing,
// targets, and session gates. Each instance runs its own loop and gateway
// session.
type Strategy struct {
	Name           string          `yaml:"name"`
	Mode           string          `yaml:"mode"` // trend, orb, bosk, rsi
	Ticker         string          `yaml:"ticker"`
	Contracts      int             `yaml:"contracts"`
	MoveTarget     float64         `yaml:"underlying_move_target"`
	ITMOffset      float64         `yaml:"itm_offset"`
	AllowHedging   bool            `yaml:"allow_hedging"`
	PollIntervalMs int             `yaml:"poll_interval_ms"`
	BarIntervalMin int             `yaml:"bar_interval_mins"`
	LookbackHours  int             `yaml:"lookback_hours"`
	Session        schedule.Config `yaml:"session"`
	Indicators     Indicators      `yaml:"indicators"`
	Thresholds     Thresholds      `yaml:"thresholds"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Gateway    Gateway    `yaml:"gateway"`
	Journal    Journal    `yaml:"journal"`
	Strategies []Strategy `yaml:"strategies"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Strategies) == 0 {
		return fmt.Errorf("no strategies configured")
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy %d: missing name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("strategy %q: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Ticker == "" {
			return fmt.Errorf("strategy %q: missing ticker", s.Name)
		}
		if s.Contracts < 0 {
			return fmt.Errorf("strategy %q: negative contract count", s.Name)
		}
	}
	return nil
}
