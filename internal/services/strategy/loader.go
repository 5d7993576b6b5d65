// Package strategy loads the rule-based strategy artifact a session trades.
package strategy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/services/rules"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadArtifact reads a strategy artifact from a JSON file, or YAML for .yaml/.yml.
// Every structural problem is reported as domain.ErrInvalidStrategy.
func LoadArtifact(l *zap.Logger, path string) (*domain.StrategyArtifact, error) {
	if l == nil {
		l = zap.NewNop()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidStrategy, "read %s: %v", path, err)
	}

	artifact, err := decode(path, raw)
	if err != nil {
		return nil, err
	}

	if err := artifact.Strategy.Validate(); err != nil {
		return nil, errors.Wrapf(err, "strategy file %s", path)
	}

	s := artifact.Strategy
	s.CoinSymbol = strings.ToUpper(strings.TrimSpace(s.CoinSymbol))
	s.Timeframe = strings.TrimSpace(s.Timeframe)

	if !domain.IsKnownInterval(s.Timeframe) {
		l.Warn("unknown timeframe, assuming 60 minute bars", zap.String("timeframe", s.Timeframe))
	}

	// expressions that fail here still load and evaluate to no signal
	for name, expr := range map[string]string{"entry_rules": s.EntryRules, "exit_rules": s.ExitRules} {
		if _, err := rules.Compile(expr); err != nil {
			l.Warn("strategy expression does not compile", zap.String("rule", name), zap.Error(err))
		}
	}

	l.Info("strategy loaded",
		zap.String("file", path),
		zap.String("id", s.ID),
		zap.String("symbol", s.CoinSymbol),
		zap.String("timeframe", s.Timeframe),
		zap.String("allocation", s.Allocation.String()),
		zap.String("stop_loss", s.StopLoss.String()),
		zap.String("take_profit", s.TakeProfit.String()))

	return artifact, nil
}

func decode(path string, raw []byte) (*domain.StrategyArtifact, error) {
	var artifact domain.StrategyArtifact

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &artifact); err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidStrategy, "decode yaml %s: %v", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidStrategy, "decode json %s: %v", path, err)
		}
	}

	return &artifact, nil
}
