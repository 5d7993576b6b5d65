package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LookbackHorizon amount of history kept in the candle buffer.
const LookbackHorizon = 42 * 24 * time.Hour

const defaultIntervalMinutes = 60

var intervalMinutes = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"2h":  120,
	"4h":  240,
	"6h":  360,
	"8h":  480,
	"12h": 720,
	"1d":  1440,
	"3d":  4320,
	"1w":  10080,
}

// MarketCandle single OHLCV candlestick.
type MarketCandle struct {
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"close_time"`
}

// IntervalMinutes returns the bar length of an exchange interval string.
// Unknown intervals fall back to one hour.
func IntervalMinutes(interval string) int {
	if m, ok := intervalMinutes[interval]; ok {
		return m
	}
	return defaultIntervalMinutes
}

// IntervalDuration returns the bar length as a duration.
func IntervalDuration(interval string) time.Duration {
	return time.Duration(IntervalMinutes(interval)) * time.Minute
}

// IsKnownInterval reports whether the interval has an explicit mapping.
func IsKnownInterval(interval string) bool {
	_, ok := intervalMinutes[interval]
	return ok
}

// BufferCapacity number of candles covering the lookback horizon for the interval.
func BufferCapacity(interval string) int {
	return int(LookbackHorizon/time.Minute) / IntervalMinutes(interval)
}
