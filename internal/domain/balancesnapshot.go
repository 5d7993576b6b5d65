package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance free balance of a single asset as reported by the exchange.
type AssetBalance struct {
	Asset string          `json:"asset"`
	Free  decimal.Decimal `json:"free"`
}

// PortfolioSnapshot cached account state of the session.
type PortfolioSnapshot struct {
	Timestamp    time.Time       `json:"ts"`
	Pair         string          `json:"pair"`
	QuoteBalance decimal.Decimal `json:"quote_balance"`
	BaseBalance  decimal.Decimal `json:"base_balance"`
	BaseValue    decimal.Decimal `json:"base_value"`
	TotalValue   decimal.Decimal `json:"total_value"`
	InitialValue decimal.Decimal `json:"initial_value"`
	Price        decimal.Decimal `json:"price"`
}

// IsZero reports whether the snapshot was never refreshed.
func (s PortfolioSnapshot) IsZero() bool {
	return s.Timestamp.IsZero()
}

// PnL absolute change of portfolio value since session start.
func (s PortfolioSnapshot) PnL() decimal.Decimal {
	if s.InitialValue.IsZero() {
		return decimal.Zero
	}
	return s.TotalValue.Sub(s.InitialValue)
}

// PnLPercent change of portfolio value since session start, in percent.
func (s PortfolioSnapshot) PnLPercent() decimal.Decimal {
	if s.InitialValue.IsZero() {
		return decimal.Zero
	}
	return s.PnL().Div(s.InitialValue).Mul(hundred)
}

// PortfolioSnapshotRecord bundles a snapshot with its WAL index.
type PortfolioSnapshotRecord struct {
	Index    uint64
	Snapshot PortfolioSnapshot
}

// Holding one row of the holdings breakdown.
type Holding struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Value  decimal.Decimal `json:"value"`
}

// Holdings breakdown of the quote and base legs valued in the quote asset.
func (s PortfolioSnapshot) Holdings(pair Pair, position Position, price decimal.Decimal) []Holding {
	holdings := make([]Holding, 0, 2)
	if s.QuoteBalance.IsPositive() {
		holdings = append(holdings, Holding{Asset: pair.To, Amount: s.QuoteBalance, Value: s.QuoteBalance})
	}
	if position.IsOpen() {
		holdings = append(holdings, Holding{Asset: pair.From, Amount: position.Amount, Value: position.Value(price)})
	}
	return holdings
}
