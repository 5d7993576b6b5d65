package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderResult exchange acknowledgement of a market order.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	// ExecutedQuantity filled base quantity, zero if the exchange did not report it.
	ExecutedQuantity decimal.Decimal
	// QuoteQuantity filled notional, zero if the exchange did not report it.
	QuoteQuantity decimal.Decimal
	Status        string
}

// Transaction executed order. Never mutated after creation.
type Transaction struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Side      Action          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Value     decimal.Decimal `json:"value"`
	OrderID   string          `json:"order_id"`
	// PnLPercent and PnLValue are set for sells only.
	PnLPercent decimal.NullDecimal `json:"pnl"`
	PnLValue   decimal.NullDecimal `json:"pnl_value"`
}

// String returns a human-readable string representation.
func (t *Transaction) String() string {
	s := fmt.Sprintf("%s %s %s @ %s", t.Side.String(), t.Quantity.String(), t.Symbol, t.Price.StringFixed(2))
	if t.PnLPercent.Valid {
		s += fmt.Sprintf(" pnl %s%%", t.PnLPercent.Decimal.StringFixed(2))
	}
	return s
}

// TransactionRecord bundles a transaction with its WAL index.
type TransactionRecord struct {
	Index       uint64
	Transaction Transaction
}
