package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/config"
)

func TestAnswers_Apply(t *testing.T) {
	base := config.Default()
	answers := DefaultAnswers(base)
	answers.Mode = "SIMULATE"
	answers.StrategyFile = " best.yaml "
	answers.PollInterval = "1m"
	answers.SimulatedBalance = "2500"
	answers.WebAddr = ":8080"
	answers.NtfyTopic = "trades"

	cfg, err := answers.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, config.ModeSimulate, cfg.Mode)
	assert.Equal(t, "best.yaml", cfg.StrategyFile)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.True(t, cfg.SimulatedQuoteBalance.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, ":8080", cfg.WebAddr)
	assert.Equal(t, "trades", cfg.Ntfy.Topic)
}

func TestAnswers_ApplyRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Answers)
	}{
		{"mode", func(a *Answers) { a.Mode = "paper" }},
		{"strategy extension", func(a *Answers) { a.StrategyFile = "strategy.txt" }},
		{"empty strategy", func(a *Answers) { a.StrategyFile = "" }},
		{"interval", func(a *Answers) { a.PollInterval = "soon" }},
		{"negative interval", func(a *Answers) { a.PollInterval = "-5s" }},
		{"balance", func(a *Answers) { a.Mode = "simulate"; a.SimulatedBalance = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultAnswers(config.Default())
			tt.mutate(&a)
			_, err := a.Apply(config.Default())
			assert.Error(t, err)
		})
	}
}

func TestWriteConfig_LoadsBack(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeSimulate
	cfg.StrategyFile = "momentum.json"
	cfg.PollInterval = 45 * time.Second

	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, WriteConfig(path, cfg))

	loaded, err := config.LoadFile(config.Default(), path)
	require.NoError(t, err)
	assert.Equal(t, config.ModeSimulate, loaded.Mode)
	assert.Equal(t, "momentum.json", loaded.StrategyFile)
	assert.Equal(t, 45*time.Second, loaded.PollInterval)
}
