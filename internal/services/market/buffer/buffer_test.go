package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
)

var (
	testPair = domain.Pair{From: "ETH", To: "USDT"}
	origin   = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func candleAt(i int) domain.MarketCandle {
	price := decimal.NewFromInt(int64(100 + i%7))
	return domain.MarketCandle{
		OpenTime:  origin.Add(time.Duration(i) * time.Hour),
		Open:      price,
		High:      price.Add(decimal.NewFromInt(1)),
		Low:       price.Sub(decimal.NewFromInt(1)),
		Close:     price,
		Volume:    decimal.NewFromInt(5),
		CloseTime: origin.Add(time.Duration(i+1)*time.Hour - time.Millisecond),
	}
}

// fakeSource serves hourly candles with indexes [0, available).
type fakeSource struct {
	available int
	failPage  int
	calls     []time.Time
	latest    domain.MarketCandle
	latestErr error
}

func (s *fakeSource) GetCandles(_ context.Context, _ domain.Pair, _ string, limit int, endTime time.Time) ([]domain.MarketCandle, error) {
	s.calls = append(s.calls, endTime)
	if s.failPage > 0 && len(s.calls) == s.failPage {
		return nil, errors.New("connection reset")
	}

	last := s.available - 1
	if !endTime.IsZero() {
		last = int(endTime.Sub(origin) / time.Hour)
	}
	first := max(last-limit+1, 0)
	var out []domain.MarketCandle
	for i := first; i <= last && i >= 0; i++ {
		out = append(out, candleAt(i))
	}
	return out, nil
}

func (s *fakeSource) GetLatestCandle(context.Context, domain.Pair, string) (domain.MarketCandle, error) {
	return s.latest, s.latestErr
}

func newTestBuffer(t *testing.T, source CandleSource, opts ...Option) *CandleBuffer {
	t.Helper()
	b, err := NewCandleBuffer(zap.NewNop(), source, testPair, "1h", opts...)
	require.NoError(t, err)
	return b
}

func TestCandleBuffer_InitializePagesBackwards(t *testing.T) {
	source := &fakeSource{available: 5000}
	b := newTestBuffer(t, source)

	require.NoError(t, b.Initialize(context.Background()))

	assert.Equal(t, StateReady, b.State())
	assert.Equal(t, 1008, b.Capacity())
	assert.Equal(t, 1008, b.Len())
	require.Len(t, source.calls, 2)
	assert.True(t, source.calls[0].IsZero())
	// second page ends one interval before the earliest candle of the first page
	assert.Equal(t, candleAt(5000-1000).OpenTime.Add(-time.Hour), source.calls[1])

	candles := b.Frame().Candles()
	for i := 1; i < len(candles); i++ {
		require.True(t, candles[i].OpenTime.After(candles[i-1].OpenTime), "timestamps must increase at %d", i)
	}
	assert.Equal(t, candleAt(4999).OpenTime, b.LatestTime())
	assert.Equal(t, candleAt(5000-1008).OpenTime, candles[0].OpenTime)
}

func TestCandleBuffer_InitializeShortHistory(t *testing.T) {
	source := &fakeSource{available: 30}
	b := newTestBuffer(t, source, WithPageSize(20))

	require.NoError(t, b.Initialize(context.Background()))
	assert.Equal(t, 30, b.Len())
	assert.Equal(t, StateReady, b.State())
}

func TestCandleBuffer_InitializeKeepsPartialHistory(t *testing.T) {
	source := &fakeSource{available: 5000, failPage: 2}
	b := newTestBuffer(t, source)

	require.NoError(t, b.Initialize(context.Background()))
	assert.Equal(t, 1000, b.Len())
}

func TestCandleBuffer_InitializeNoData(t *testing.T) {
	b := newTestBuffer(t, &fakeSource{available: 0})

	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
	assert.Equal(t, StateEmpty, b.State())

	b = newTestBuffer(t, &fakeSource{available: 100, failPage: 1})
	err = b.Initialize(context.Background())
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
}

func TestCandleBuffer_AppendEvictsOldest(t *testing.T) {
	const capacity = 50
	source := &fakeSource{available: 200}
	b := newTestBuffer(t, source, WithCapacity(capacity))
	require.NoError(t, b.Initialize(context.Background()))
	require.Equal(t, capacity, b.Len())

	const appends = 25
	for i := 0; i < appends; i++ {
		require.NoError(t, b.Append(candleAt(200+i)))
		require.Equal(t, capacity, b.Len())
	}

	candles := b.Frame().Candles()
	newest := 200 + appends - 1
	for i, c := range candles {
		assert.Equal(t, candleAt(newest-capacity+1+i).OpenTime, c.OpenTime)
	}
	assert.Equal(t, candleAt(newest).OpenTime, b.LatestTime())
	assert.Equal(t, 0, b.GapCount())
}

func TestCandleBuffer_AppendRejectsStaleCandle(t *testing.T) {
	b := newTestBuffer(t, &fakeSource{available: 100})
	require.NoError(t, b.Initialize(context.Background()))

	err := b.Append(candleAt(99))
	assert.True(t, errors.Is(err, domain.ErrStaleCandle))
	assert.Equal(t, 100, b.Len())
}

func TestCandleBuffer_AppendBeforeReady(t *testing.T) {
	b := newTestBuffer(t, &fakeSource{available: 100})
	assert.True(t, errors.Is(b.Append(candleAt(1)), domain.ErrBufferNotReady))

	_, _, err := b.CheckForNewCandle(context.Background())
	assert.True(t, errors.Is(err, domain.ErrBufferNotReady))
}

func TestCandleBuffer_AppendDetectsGap(t *testing.T) {
	b := newTestBuffer(t, &fakeSource{available: 100})
	require.NoError(t, b.Initialize(context.Background()))

	require.NoError(t, b.Append(candleAt(103)))
	assert.Equal(t, 1, b.GapCount())
	assert.Equal(t, candleAt(103).OpenTime, b.LatestTime())
}

func TestCandleBuffer_CheckForNewCandle(t *testing.T) {
	source := &fakeSource{available: 100}
	b := newTestBuffer(t, source)
	require.NoError(t, b.Initialize(context.Background()))

	source.latest = candleAt(99)
	_, isNew, err := b.CheckForNewCandle(context.Background())
	require.NoError(t, err)
	assert.False(t, isNew)

	source.latest = candleAt(100)
	candle, isNew, err := b.CheckForNewCandle(context.Background())
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, candleAt(100).OpenTime, candle.OpenTime)

	source.latestErr = errors.New("timeout")
	_, _, err = b.CheckForNewCandle(context.Background())
	assert.Error(t, err)
}
