package indicators

import (
	"math"
	"sort"

	"github.com/vadiminshakov/ruletrader/internal/domain"
)

// Frame candles with their derived indicator columns, aligned by row.
// A Frame is never mutated after Enrich returns it.
type Frame struct {
	candles []domain.MarketCandle
	columns map[string][]float64
}

func newFrame(candles []domain.MarketCandle) *Frame {
	return &Frame{
		candles: candles,
		columns: make(map[string][]float64, 32),
	}
}

func (f *Frame) set(name string, values []float64) {
	f.columns[name] = values
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.candles)
}

// Candles returns the underlying candles. Callers must not modify the slice.
func (f *Frame) Candles() []domain.MarketCandle {
	if f == nil {
		return nil
	}
	return f.candles
}

// Latest returns the most recent candle.
func (f *Frame) Latest() (domain.MarketCandle, bool) {
	if f.Len() == 0 {
		return domain.MarketCandle{}, false
	}
	return f.candles[len(f.candles)-1], true
}

// Column returns the values of a column. Undefined rows are NaN.
// Callers must not modify the slice.
func (f *Frame) Column(name string) ([]float64, bool) {
	if f == nil {
		return nil, false
	}
	col, ok := f.columns[name]
	return col, ok
}

// Value returns a column value at row i, false when missing or undefined.
func (f *Frame) Value(name string, i int) (float64, bool) {
	col, ok := f.Column(name)
	if !ok || i < 0 || i >= len(col) || math.IsNaN(col[i]) {
		return 0, false
	}
	return col[i], true
}

// LatestValue returns a column value at the most recent row.
func (f *Frame) LatestValue(name string) (float64, bool) {
	return f.Value(name, f.Len()-1)
}

// ColumnNames returns all column names in lexical order.
func (f *Frame) ColumnNames() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.columns))
	for name := range f.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tail returns a frame view over the last n rows.
func (f *Frame) Tail(n int) *Frame {
	if f == nil {
		return nil
	}
	if n >= len(f.candles) {
		return f
	}
	if n < 0 {
		n = 0
	}
	start := len(f.candles) - n
	tail := newFrame(f.candles[start:])
	for name, col := range f.columns {
		tail.columns[name] = col[start:]
	}
	return tail
}

// ChartPoints converts the last n rows into chart points carrying defined indicator values.
func (f *Frame) ChartPoints(n int) []domain.ChartPoint {
	tail := f.Tail(n)
	if tail.Len() == 0 {
		return nil
	}

	points := make([]domain.ChartPoint, tail.Len())
	for i, candle := range tail.candles {
		values := make(map[string]float64, len(tail.columns))
		for name, col := range tail.columns {
			if isRawColumn(name) || math.IsNaN(col[i]) || math.IsInf(col[i], 0) {
				continue
			}
			values[name] = col[i]
		}
		points[i] = domain.ChartPoint{MarketCandle: candle, Indicators: values}
	}
	return points
}

func isRawColumn(name string) bool {
	switch name {
	case ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume:
		return true
	}
	return false
}
