package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChartPoint candle with the indicator values defined at that row.
type ChartPoint struct {
	MarketCandle
	Indicators map[string]float64 `json:"indicators"`
}

// SessionSnapshot read-only view of the trading session published after each tick.
type SessionSnapshot struct {
	Timestamp    time.Time         `json:"ts"`
	Pair         string            `json:"pair"`
	Strategy     Strategy          `json:"strategy"`
	Performance  *Performance      `json:"performance,omitempty"`
	State        string            `json:"state"`
	Price        decimal.Decimal   `json:"price"`
	Position     Position          `json:"position"`
	PositionPnL  decimal.Decimal   `json:"position_pnl_percent"`
	Portfolio    PortfolioSnapshot `json:"portfolio"`
	Holdings     []Holding         `json:"holdings"`
	Signal       Signal            `json:"signal"`
	Candles      []ChartPoint      `json:"candles"`
	Transactions []Transaction     `json:"transactions"`
	Activity     []ActivityEntry   `json:"activity"`
}
