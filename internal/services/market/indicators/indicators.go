// Package indicators derives technical indicator columns from OHLCV candles.
// It uses the cinar/indicator library for moving averages, oscillators and
// volatility measures, and gonum for the cumulative VWAP.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Raw candle columns.
const (
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// Derived columns.
const (
	ColumnMACD       = "macd"
	ColumnMACDSignal = "macd_signal"
	ColumnMACDHist   = "macd_hist"
	ColumnBBUpper    = "bb_upper"
	ColumnBBMiddle   = "bb_middle"
	ColumnBBLower    = "bb_lower"
	ColumnATR14      = "atr_14"
	ColumnVWAP       = "vwap"
)

var (
	movingAveragePeriods = []int{10, 20, 50, 100, 200}
	rsiPeriods           = []int{7, 14}
)

const (
	macdShortPeriod  = 12
	macdLongPeriod   = 26
	macdSignalPeriod = 9
	bollingerPeriod  = 20
	atrPeriod        = 14
)

// EMAColumn returns the column name of the EMA with the given period.
func EMAColumn(period int) string { return fmt.Sprintf("ema_%d", period) }

// SMAColumn returns the column name of the SMA with the given period.
func SMAColumn(period int) string { return fmt.Sprintf("sma_%d", period) }

// RSIColumn returns the column name of the RSI with the given period.
func RSIColumn(period int) string { return fmt.Sprintf("rsi_%d", period) }

// Enrich computes every indicator column over the full candle series.
// Rows where an indicator does not have enough history yet hold NaN.
func Enrich(candles []domain.MarketCandle) (*Frame, error) {
	if len(candles) == 0 {
		return nil, errors.New("cannot enrich an empty candle series")
	}

	n := len(candles)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		opens[i] = c.Open.InexactFloat64()
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
		closes[i] = c.Close.InexactFloat64()
		volumes[i] = c.Volume.InexactFloat64()
	}

	frame := newFrame(candles)
	frame.set(ColumnOpen, opens)
	frame.set(ColumnHigh, highs)
	frame.set(ColumnLow, lows)
	frame.set(ColumnClose, closes)
	frame.set(ColumnVolume, volumes)

	for _, period := range movingAveragePeriods {
		frame.set(EMAColumn(period), single(closes, period-1, func(c <-chan float64) <-chan float64 {
			return trend.NewEmaWithPeriod[float64](period).Compute(c)
		}))
		frame.set(SMAColumn(period), single(closes, period-1, func(c <-chan float64) <-chan float64 {
			return trend.NewSmaWithPeriod[float64](period).Compute(c)
		}))
	}

	for _, period := range rsiPeriods {
		frame.set(RSIColumn(period), single(closes, period, func(c <-chan float64) <-chan float64 {
			return momentum.NewRsiWithPeriod[float64](period).Compute(c)
		}))
	}

	macd, signal, err := calculateMACD(closes)
	if err != nil {
		return nil, err
	}
	frame.set(ColumnMACD, macd)
	frame.set(ColumnMACDSignal, signal)
	frame.set(ColumnMACDHist, subtract(macd, signal))

	upper, middle, lower, err := calculateBollinger(closes)
	if err != nil {
		return nil, err
	}
	frame.set(ColumnBBUpper, upper)
	frame.set(ColumnBBMiddle, middle)
	frame.set(ColumnBBLower, lower)

	frame.set(ColumnATR14, calculateATR(highs, lows, closes))
	frame.set(ColumnVWAP, calculateVWAP(highs, lows, closes, volumes))

	return frame, nil
}

// single runs a one-output indicator and right-aligns its output to the input.
// Rows before minIndex are forced to NaN.
func single(input []float64, minIndex int, compute func(<-chan float64) <-chan float64) []float64 {
	if len(input) <= minIndex {
		return undefined(len(input))
	}
	out := helper.ChanToSlice(compute(helper.SliceToChan(input)))
	return align(out, len(input), minIndex)
}

// calculateMACD builds the MACD line from the fast and slow EMAs so it is
// defined from the slow warm-up row, then smooths it into the signal line.
func calculateMACD(closes []float64) (macdLine, signalLine []float64, err error) {
	n := len(closes)
	minMACD := macdLongPeriod - 1
	if n <= minMACD {
		return undefined(n), undefined(n), nil
	}

	var fast, slow []float64
	g := errgroup.Group{}
	g.Go(func() error {
		fast = single(closes, macdShortPeriod-1, func(c <-chan float64) <-chan float64 {
			return trend.NewEmaWithPeriod[float64](macdShortPeriod).Compute(c)
		})
		return nil
	})
	g.Go(func() error {
		slow = single(closes, minMACD, func(c <-chan float64) <-chan float64 {
			return trend.NewEmaWithPeriod[float64](macdLongPeriod).Compute(c)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "compute MACD")
	}

	macdLine = subtract(fast, slow)
	signalLine = undefined(n)
	smoothed := single(macdLine[minMACD:], macdSignalPeriod-1, func(c <-chan float64) <-chan float64 {
		return trend.NewEmaWithPeriod[float64](macdSignalPeriod).Compute(c)
	})
	copy(signalLine[minMACD:], smoothed)

	return macdLine, signalLine, nil
}

func calculateBollinger(closes []float64) (upper, middle, lower []float64, err error) {
	minIndex := bollingerPeriod - 1
	if len(closes) <= minIndex {
		return undefined(len(closes)), undefined(len(closes)), undefined(len(closes)), nil
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](bollingerPeriod)
	upperChan, middleChan, lowerChan := bb.Compute(helper.SliceToChan(closes))

	var upperOut, middleOut, lowerOut []float64
	g := errgroup.Group{}
	g.Go(func() error {
		upperOut = helper.ChanToSlice(upperChan)
		return nil
	})
	g.Go(func() error {
		middleOut = helper.ChanToSlice(middleChan)
		return nil
	})
	g.Go(func() error {
		lowerOut = helper.ChanToSlice(lowerChan)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, errors.Wrap(err, "compute bollinger bands")
	}

	n := len(closes)
	return align(upperOut, n, minIndex), align(middleOut, n, minIndex), align(lowerOut, n, minIndex), nil
}

// calculateATR is Wilder's ATR: the first value at row atrPeriod-1 is the mean
// true range of the first atrPeriod rows, where the first row's true range is
// high-low. Seeding the previous close inside the first bar gives that.
func calculateATR(highs, lows, closes []float64) []float64 {
	n := len(closes)
	if n < atrPeriod {
		return undefined(n)
	}

	// Compute skips the first high and low to pair each bar with the previous close.
	paddedHighs := append([]float64{highs[0]}, highs...)
	paddedLows := append([]float64{lows[0]}, lows...)
	prevCloses := append([]float64{(highs[0] + lows[0]) / 2}, closes[:n-1]...)

	atr := volatility.NewAtrWithMa[float64](wilderMa{trend.NewRmaWithPeriod[float64](atrPeriod)})
	out := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(paddedHighs),
		helper.SliceToChan(paddedLows),
		helper.SliceToChan(prevCloses),
	))

	return align(out, n, atrPeriod-1)
}

// wilderMa lets the RMA stand in as the ATR moving average.
type wilderMa struct {
	*trend.Rma[float64]
}

func (m wilderMa) String() string { return fmt.Sprintf("RMA(%d)", m.Period) }

// calculateVWAP cumulative typical-price VWAP over the whole series.
func calculateVWAP(highs, lows, closes, volumes []float64) []float64 {
	n := len(closes)
	weighted := make([]float64, n)
	for i := range closes {
		weighted[i] = (highs[i] + lows[i] + closes[i]) / 3 * volumes[i]
	}

	cumWeighted := floats.CumSum(make([]float64, n), weighted)
	cumVolume := floats.CumSum(make([]float64, n), volumes)

	vwap := make([]float64, n)
	for i := range vwap {
		if cumVolume[i] == 0 {
			vwap[i] = math.NaN()
			continue
		}
		vwap[i] = cumWeighted[i] / cumVolume[i]
	}
	return vwap
}

// align places out at the tail of an n-long column and masks rows before minIndex.
func align(out []float64, n, minIndex int) []float64 {
	col := undefined(n)
	if len(out) > n {
		out = out[len(out)-n:]
	}
	offset := n - len(out)
	for i, v := range out {
		if offset+i < minIndex {
			continue
		}
		col[offset+i] = v
	}
	return col
}

func subtract(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func undefined(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = math.NaN()
	}
	return col
}
