// Package config assembles the explicit session configuration from defaults,
// an optional YAML file, command-line flags and environment secrets.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Mode where orders are sent.
type Mode string

const (
	ModeTestnet  Mode = "testnet"
	ModeLive     Mode = "live"
	ModeSimulate Mode = "simulate"
)

// IsValid reports whether the mode is supported.
func (m Mode) IsValid() bool {
	switch m {
	case ModeTestnet, ModeLive, ModeSimulate:
		return true
	}
	return false
}

const (
	DefaultStrategyFile     = "strategy.json"
	DefaultQuoteAsset       = "USDT"
	DefaultPollInterval     = 30 * time.Second
	DefaultAccountCooldown  = 300 * time.Second
	DefaultSignalWindow     = 10
	DefaultSafetyMargin     = "0.99"
	DefaultMaxTransactions  = 20
	DefaultActivityLogSize  = 50
	DefaultActivityShown    = 15
	DefaultWALDir           = "./wal"
	DefaultSimulatedBalance = "10000"
	DefaultNtfyServer       = "https://ntfy.sh"
)

// Credentials exchange API keys. Data keys address mainnet, trade keys the testnet.
type Credentials struct {
	DataKey     string
	DataSecret  string
	TradeKey    string
	TradeSecret string
}

// Ntfy push notification target. An empty topic disables notifications.
type Ntfy struct {
	Server string
	Topic  string
}

// Config everything a trading session needs. Passed explicitly, never read globally.
type Config struct {
	StrategyFile          string
	Mode                  Mode
	QuoteAsset            string
	PollInterval          time.Duration
	AccountCooldown       time.Duration
	SignalWindow          int
	SafetyMargin          decimal.Decimal
	MaxTransactions       int
	ActivityLogSize       int
	ActivityLogShown      int
	WebAddr               string
	WALDir                string
	LogFile               string
	Credentials           Credentials
	Ntfy                  Ntfy
	SimulatedQuoteBalance decimal.Decimal
	Debug                 bool
	Setup                 bool
}

// ConfigTmp YAML representation. Decimals are kept as strings to avoid float rounding.
type ConfigTmp struct {
	Strategy              string        `yaml:"strategy,omitempty"`
	Mode                  string        `yaml:"mode,omitempty"`
	QuoteAsset            string        `yaml:"quote_asset,omitempty"`
	PollInterval          time.Duration `yaml:"poll_interval,omitempty"`
	AccountCooldown       time.Duration `yaml:"account_cooldown,omitempty"`
	SignalWindow          int           `yaml:"signal_window,omitempty"`
	SafetyMargin          string        `yaml:"safety_margin,omitempty"`
	MaxTransactions       int           `yaml:"max_transactions,omitempty"`
	ActivityLogSize       int           `yaml:"activity_log_size,omitempty"`
	ActivityLogShown      int           `yaml:"activity_log_shown,omitempty"`
	WebAddr               string        `yaml:"web_addr,omitempty"`
	WALDir                string        `yaml:"wal_dir,omitempty"`
	LogFile               string        `yaml:"log_file,omitempty"`
	SimulatedQuoteBalance string        `yaml:"simulated_quote_balance,omitempty"`
	NtfyServer            string        `yaml:"ntfy_server,omitempty"`
	NtfyTopic             string        `yaml:"ntfy_topic,omitempty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		StrategyFile:          DefaultStrategyFile,
		Mode:                  ModeTestnet,
		QuoteAsset:            DefaultQuoteAsset,
		PollInterval:          DefaultPollInterval,
		AccountCooldown:       DefaultAccountCooldown,
		SignalWindow:          DefaultSignalWindow,
		SafetyMargin:          decimal.RequireFromString(DefaultSafetyMargin),
		MaxTransactions:       DefaultMaxTransactions,
		ActivityLogSize:       DefaultActivityLogSize,
		ActivityLogShown:      DefaultActivityShown,
		WALDir:                DefaultWALDir,
		SimulatedQuoteBalance: decimal.RequireFromString(DefaultSimulatedBalance),
		Ntfy:                  Ntfy{Server: DefaultNtfyServer},
	}
}

// LoadFile overlays a YAML config file onto base.
func LoadFile(base Config, path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrapf(err, "read config %s", path)
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return base, errors.Wrapf(err, "decode config %s", path)
	}

	return tmp.apply(base)
}

func (c ConfigTmp) apply(cfg Config) (Config, error) {
	if c.Strategy != "" {
		cfg.StrategyFile = c.Strategy
	}
	if c.Mode != "" {
		cfg.Mode = Mode(strings.ToLower(c.Mode))
	}
	if c.QuoteAsset != "" {
		cfg.QuoteAsset = strings.ToUpper(c.QuoteAsset)
	}
	if c.PollInterval != 0 {
		cfg.PollInterval = c.PollInterval
	}
	if c.AccountCooldown != 0 {
		cfg.AccountCooldown = c.AccountCooldown
	}
	if c.SignalWindow != 0 {
		cfg.SignalWindow = c.SignalWindow
	}
	if c.SafetyMargin != "" {
		margin, err := decimal.NewFromString(c.SafetyMargin)
		if err != nil {
			return cfg, errors.Wrapf(err, "incorrect 'safety_margin' param in yaml config (correct format is 0.99)")
		}
		cfg.SafetyMargin = margin
	}
	if c.MaxTransactions != 0 {
		cfg.MaxTransactions = c.MaxTransactions
	}
	if c.ActivityLogSize != 0 {
		cfg.ActivityLogSize = c.ActivityLogSize
	}
	if c.ActivityLogShown != 0 {
		cfg.ActivityLogShown = c.ActivityLogShown
	}
	if c.WebAddr != "" {
		cfg.WebAddr = c.WebAddr
	}
	if c.WALDir != "" {
		cfg.WALDir = c.WALDir
	}
	if c.LogFile != "" {
		cfg.LogFile = c.LogFile
	}
	if c.SimulatedQuoteBalance != "" {
		balance, err := decimal.NewFromString(c.SimulatedQuoteBalance)
		if err != nil {
			return cfg, errors.Wrapf(err, "incorrect 'simulated_quote_balance' param in yaml config")
		}
		cfg.SimulatedQuoteBalance = balance
	}
	if c.NtfyServer != "" {
		cfg.Ntfy.Server = c.NtfyServer
	}
	if c.NtfyTopic != "" {
		cfg.Ntfy.Topic = c.NtfyTopic
	}
	return cfg, nil
}

// ToTmp converts the configuration back into its YAML form. Secrets are never written.
func (c Config) ToTmp() ConfigTmp {
	return ConfigTmp{
		Strategy:              c.StrategyFile,
		Mode:                  string(c.Mode),
		QuoteAsset:            c.QuoteAsset,
		PollInterval:          c.PollInterval,
		AccountCooldown:       c.AccountCooldown,
		SignalWindow:          c.SignalWindow,
		SafetyMargin:          c.SafetyMargin.String(),
		MaxTransactions:       c.MaxTransactions,
		ActivityLogSize:       c.ActivityLogSize,
		ActivityLogShown:      c.ActivityLogShown,
		WebAddr:               c.WebAddr,
		WALDir:                c.WALDir,
		LogFile:               c.LogFile,
		SimulatedQuoteBalance: c.SimulatedQuoteBalance.String(),
		NtfyServer:            c.Ntfy.Server,
		NtfyTopic:             c.Ntfy.Topic,
	}
}

// applyEnv reads secrets and notification settings from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	c.Credentials = Credentials{
		DataKey:     getenv("BINANCE_API_KEY"),
		DataSecret:  getenv("BINANCE_API_SECRET"),
		TradeKey:    getenv("TESTNET_API_KEY"),
		TradeSecret: getenv("TESTNET_SECRET"),
	}
	if topic := getenv("NTFY_TOPIC"); topic != "" {
		c.Ntfy.Topic = topic
	}
	if server := getenv("NTFY_SERVER"); server != "" {
		c.Ntfy.Server = server
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StrategyFile) == "" {
		return errors.New("strategy file is required")
	}
	if !c.Mode.IsValid() {
		return errors.Errorf("unknown mode %q (use testnet, live or simulate)", c.Mode)
	}
	if c.QuoteAsset == "" {
		return errors.New("quote asset is required")
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.AccountCooldown <= 0 {
		return errors.Errorf("account cooldown must be positive, got %s", c.AccountCooldown)
	}
	if c.SignalWindow < 1 {
		return errors.Errorf("signal window must be positive, got %d", c.SignalWindow)
	}
	if !c.SafetyMargin.IsPositive() || c.SafetyMargin.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Errorf("safety margin must be in (0, 1], got %s", c.SafetyMargin)
	}
	if c.MaxTransactions < 1 {
		return errors.Errorf("max transactions must be positive, got %d", c.MaxTransactions)
	}
	if c.ActivityLogSize < 1 || c.ActivityLogShown < 1 {
		return errors.New("activity log sizes must be positive")
	}
	if c.ActivityLogShown > c.ActivityLogSize {
		return errors.Errorf("activity log shows %d entries but keeps only %d", c.ActivityLogShown, c.ActivityLogSize)
	}

	switch c.Mode {
	case ModeTestnet:
		if c.Credentials.TradeKey == "" || c.Credentials.TradeSecret == "" {
			return errors.New("TESTNET_API_KEY and TESTNET_SECRET environment variables must be set")
		}
	case ModeLive:
		if c.Credentials.DataKey == "" || c.Credentials.DataSecret == "" {
			return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
	case ModeSimulate:
		if !c.SimulatedQuoteBalance.IsPositive() {
			return errors.Errorf("simulated quote balance must be positive, got %s", c.SimulatedQuoteBalance)
		}
	}

	return nil
}
