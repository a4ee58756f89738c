package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arjunmehta14/options-engine/internal/adapters"
	"github.com/arjunmehta14/options-engine/internal/execution"
	"github.com/arjunmehta14/options-engine/internal/regime"
	"github.com/arjunmehta14/options-engine/internal/risk"
	"github.com/arjunmehta14/options-engine/internal/signal"
)

// Trading holds the engine-level knobs.
type Trading struct {
	Symbol            string  `yaml:"symbol"`
	SignalIntervalSec int     `yaml:"signal_interval_sec"`
	RiskIntervalSec   int     `yaml:"risk_interval_sec"`
	AutoTrade         bool    `yaml:"auto_trade"`
	QuantityLots      int     `yaml:"quantity_lots"`
	StrikeStep        float64 `yaml:"strike_step"`
	DTEDays           float64 `yaml:"dte_days"`
	CostPerLot        float64 `yaml:"cost_per_lot"`
}

// Session describes the trading day. Minutes are from midnight in the
// exchange timezone.
type Session struct {
	Timezone     string `yaml:"timezone"`
	OpenMin      int    `yaml:"open_min"`
	CloseMin     int    `yaml:"close_min"`
	SquareOffMin int    `yaml:"square_off_min"`
	ORMinutes    int    `yaml:"opening_range_minutes"`
}

// Normalize fills NSE defaults: 09:15 open, 15:30 close, 15:15 square-off.
func (c Session) Normalize() Session {
	if c.Timezone == "" {
		c.Timezone = "Asia/Kolkata"
	}
	if c.OpenMin == 0 {
		c.OpenMin = 9*60 + 15
	}
	if c.CloseMin == 0 {
		c.CloseMin = 15*60 + 30
	}
	if c.SquareOffMin == 0 {
		c.SquareOffMin = 15*60 + 15
	}
	if c.ORMinutes == 0 {
		c.ORMinutes = 15
	}
	return c
}

// Bandit holds the profile-selector knobs.
type Bandit struct {
	Exploration float64 `yaml:"exploration"`
	FoldEvery   int     `yaml:"fold_every"`
}

// Sim holds the tertiary feed parameters.
type Sim struct {
	BasePrice  float64 `yaml:"base_price"`
	Volatility float64 `yaml:"volatility"`
	BaseVolume int64   `yaml:"base_volume"`
}

// Feeds wires the price-source priority chain.
type Feeds struct {
	WS    adapters.WSFeedConfig   `yaml:"websocket"`
	HTTP  adapters.HTTPFeedConfig `yaml:"http"`
	Chain adapters.ChainConfig    `yaml:"chain"`
	Sim   Sim                     `yaml:"sim"`
}

// OptionsData configures the OI/IV source.
type OptionsData struct {
	URL         string `yaml:"url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// Store and Server are the persistence dir and control-surface address.
type Store struct {
	Dir           string `yaml:"dir"`
	WriteBudgetMs int    `yaml:"write_budget_ms"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// Root is the full configuration tree.
type Root struct {
	Trading     Trading              `yaml:"trading"`
	Session     Session              `yaml:"session"`
	Regime      regime.Config        `yaml:"regime"`
	Signal      signal.Config        `yaml:"signal"`
	Risk        risk.Config          `yaml:"risk"`
	Portfolio   risk.PortfolioConfig `yaml:"portfolio"`
	Iceberg     execution.Config     `yaml:"iceberg"`
	Bandit      Bandit               `yaml:"bandit"`
	Feeds       Feeds                `yaml:"feeds"`
	OptionsData OptionsData          `yaml:"options_data"`
	Store       Store                `yaml:"store"`
	Server      Server               `yaml:"server"`
}

// Load reads the yaml file and applies defaults. A missing path returns the
// defaults alone.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyDefaults()
	return c, nil
}

// Default returns the configuration used when no file is given.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.Trading.Symbol == "" {
		c.Trading.Symbol = "NIFTY"
	}
	if c.Trading.SignalIntervalSec == 0 {
		c.Trading.SignalIntervalSec = 30
	}
	if c.Trading.RiskIntervalSec == 0 {
		c.Trading.RiskIntervalSec = 3
	}
	if c.Trading.QuantityLots == 0 {
		c.Trading.QuantityLots = 8
	}
	if c.Trading.StrikeStep == 0 {
		c.Trading.StrikeStep = 50
	}
	if c.Trading.DTEDays == 0 {
		c.Trading.DTEDays = 2
	}
	if c.Trading.CostPerLot == 0 {
		c.Trading.CostPerLot = 25
	}

	c.Session = c.Session.Normalize()
	c.Regime = c.Regime.Normalize()
	c.Signal = c.Signal.Normalize()
	c.Risk = c.Risk.Normalize()
	c.Portfolio = c.Portfolio.Normalize()
	c.Iceberg = c.Iceberg.Normalize()

	if c.Bandit.Exploration == 0 {
		c.Bandit.Exploration = 1.4
	}
	if c.Bandit.FoldEvery == 0 {
		c.Bandit.FoldEvery = 5
	}

	if c.Feeds.Sim.BasePrice == 0 {
		c.Feeds.Sim.BasePrice = 23000
	}
	if c.Feeds.Sim.Volatility == 0 {
		c.Feeds.Sim.Volatility = 0.012
	}
	if c.Feeds.Sim.BaseVolume == 0 {
		c.Feeds.Sim.BaseVolume = 250000
	}

	if c.OptionsData.TimeoutMs == 0 {
		c.OptionsData.TimeoutMs = 3000
	}
	if c.OptionsData.CacheTTLSec == 0 {
		c.OptionsData.CacheTTLSec = 90
	}

	if c.Store.Dir == "" {
		c.Store.Dir = "data"
	}
	if c.Store.WriteBudgetMs == 0 {
		c.Store.WriteBudgetMs = 250
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8087"
	}
}
