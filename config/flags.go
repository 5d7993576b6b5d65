package config

import (
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Get loads .env when present, then parses the process flags and environment.
func Get() (Config, error) {
	_ = godotenv.Load()
	return Parse(os.Args[1:], os.Getenv)
}

// Parse builds the configuration: defaults, then the --config file, then explicit flags,
// then secrets from getenv. Validation is skipped when --setup is requested.
func Parse(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("ruletrader", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to yaml config")
	strategyFile := fs.String("strategy", DefaultStrategyFile, "path to the strategy artifact (json or yaml)")
	mode := fs.String("mode", string(ModeTestnet), "where orders go: testnet, live or simulate")
	web := fs.String("web", "", "dashboard listen address, e.g. :8080 (empty disables)")
	logFile := fs.String("log-file", "", "also write logs to this file with rotation")
	setup := fs.Bool("setup", false, "run the interactive configuration wizard")
	debug := fs.Bool("debug", false, "development logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *configPath != "" {
		var err error
		if cfg, err = LoadFile(cfg, *configPath); err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "strategy":
			cfg.StrategyFile = *strategyFile
		case "mode":
			cfg.Mode = Mode(strings.ToLower(*mode))
		case "web":
			cfg.WebAddr = *web
		case "log-file":
			cfg.LogFile = *logFile
		}
	})
	cfg.Debug = *debug
	cfg.Setup = *setup

	cfg.applyEnv(getenv)

	if cfg.Setup {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}
