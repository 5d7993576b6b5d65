package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Position base asset held by the session. Zero amount means flat.
type Position struct {
	Amount     decimal.Decimal `json:"amount"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// IsOpen returns true if the position holds a positive amount.
func (p Position) IsOpen() bool {
	return p.Amount.IsPositive()
}

// IsFlat returns true when nothing is held.
func (p Position) IsFlat() bool {
	return p.Amount.IsZero()
}

// PnL absolute profit and loss at the given price.
func (p Position) PnL(price decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() || p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Mul(p.Amount)
}

// PnLPercent profit and loss relative to the entry price, in percent.
func (p Position) PnLPercent(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
}

// Value current notional of the position.
func (p Position) Value(price decimal.Decimal) decimal.Decimal {
	return p.Amount.Mul(price)
}
