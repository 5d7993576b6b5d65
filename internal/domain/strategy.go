package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Strategy trading rules for one session. Immutable after load.
type Strategy struct {
	ID         string          `json:"strategy_id" yaml:"strategy_id"`
	CoinSymbol string          `json:"coin_symbol" yaml:"coin_symbol"`
	Timeframe  string          `json:"timeframe" yaml:"timeframe"`
	EntryRules string          `json:"entry_rules" yaml:"entry_rules"`
	ExitRules  string          `json:"exit_rules" yaml:"exit_rules"`
	StopLoss   decimal.Decimal `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit" yaml:"take_profit"`
	Allocation decimal.Decimal `json:"allocation" yaml:"allocation"`
}

// Performance backtest metrics shipped with the strategy.
type Performance struct {
	WinRate     float64 `json:"win_rate" yaml:"win_rate"`
	TotalReturn float64 `json:"total_return" yaml:"total_return"`
	SharpeRatio float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown,omitempty" yaml:"max_drawdown,omitempty"`
	TotalTrades int     `json:"total_trades,omitempty" yaml:"total_trades,omitempty"`
}

// StrategyArtifact persisted strategy file.
type StrategyArtifact struct {
	Strategy    *Strategy    `json:"strategy" yaml:"strategy"`
	Performance *Performance `json:"performance" yaml:"performance"`
}

// Validate checks the strategy is usable for trading.
func (s *Strategy) Validate() error {
	if s == nil {
		return errors.Wrap(ErrInvalidStrategy, "strategy section is missing")
	}
	if strings.TrimSpace(s.CoinSymbol) == "" {
		return errors.Wrap(ErrInvalidStrategy, "coin_symbol is required")
	}
	if strings.TrimSpace(s.Timeframe) == "" {
		return errors.Wrap(ErrInvalidStrategy, "timeframe is required")
	}
	if strings.TrimSpace(s.EntryRules) == "" {
		return errors.Wrap(ErrInvalidStrategy, "entry_rules is required")
	}
	if strings.TrimSpace(s.ExitRules) == "" {
		return errors.Wrap(ErrInvalidStrategy, "exit_rules is required")
	}
	if !s.Allocation.IsPositive() || s.Allocation.GreaterThan(hundred) {
		return errors.Wrapf(ErrInvalidStrategy, "allocation must be in (0, 100], got %s", s.Allocation)
	}
	if s.StopLoss.IsNegative() {
		return errors.Wrapf(ErrInvalidStrategy, "stop_loss must not be negative, got %s", s.StopLoss)
	}
	if s.TakeProfit.IsNegative() {
		return errors.Wrapf(ErrInvalidStrategy, "take_profit must not be negative, got %s", s.TakeProfit)
	}
	return nil
}

// StopLossPrice price at or below which the position is closed. Zero disables the check.
func (s *Strategy) StopLossPrice(entry decimal.Decimal) decimal.Decimal {
	if s.StopLoss.IsZero() || entry.IsZero() {
		return decimal.Zero
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(s.StopLoss.Div(hundred)))
}

// TakeProfitPrice price at or above which the position is closed. Zero disables the check.
func (s *Strategy) TakeProfitPrice(entry decimal.Decimal) decimal.Decimal {
	if s.TakeProfit.IsZero() || entry.IsZero() {
		return decimal.Zero
	}
	return entry.Mul(decimal.NewFromInt(1).Add(s.TakeProfit.Div(hundred)))
}
