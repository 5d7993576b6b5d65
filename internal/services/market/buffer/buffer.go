// Package buffer keeps the rolling window of candles the strategy is evaluated on.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/services/market/indicators"
	"go.uber.org/zap"
)

// MaxPageSize exchange per-call limit for historical klines.
const MaxPageSize = 1000

// State lifecycle of the buffer.
type State int

const (
	StateEmpty State = iota
	StateBackfilling
	StateReady
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBackfilling:
		return "backfilling"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// CandleSource provides historical and latest candles.
type CandleSource interface {
	// GetCandles returns up to limit candles ending at endTime (inclusive), oldest first.
	// A zero endTime means the most recent candles.
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int, endTime time.Time) ([]domain.MarketCandle, error)
	// GetLatestCandle returns the most recent candle.
	GetLatestCandle(ctx context.Context, pair domain.Pair, interval string) (domain.MarketCandle, error)
}

// Option configures the buffer.
type Option func(*CandleBuffer)

// WithCapacity overrides the capacity derived from the lookback horizon.
func WithCapacity(capacity int) Option {
	return func(b *CandleBuffer) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// WithPageSize overrides the backfill page size, capped at MaxPageSize.
func WithPageSize(size int) Option {
	return func(b *CandleBuffer) {
		if size > 0 && size <= MaxPageSize {
			b.pageSize = size
		}
	}
}

// CandleBuffer rolling window of closed candles plus their indicator frame.
// It is owned by the trading loop; Frame returns immutable values that are safe to share.
type CandleBuffer struct {
	l        *zap.Logger
	source   CandleSource
	pair     domain.Pair
	interval string
	step     time.Duration
	capacity int
	pageSize int

	mu       sync.RWMutex
	state    State
	candles  []domain.MarketCandle
	frame    *indicators.Frame
	latest   time.Time
	gapCount int
}

// NewCandleBuffer creates an empty buffer for the pair and interval.
func NewCandleBuffer(l *zap.Logger, source CandleSource, pair domain.Pair, interval string, opts ...Option) (*CandleBuffer, error) {
	if source == nil {
		return nil, errors.New("candle source is required")
	}
	if interval == "" {
		return nil, errors.New("interval is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	if !domain.IsKnownInterval(interval) {
		l.Warn("unknown interval, assuming one hour bars", zap.String("interval", interval))
	}

	b := &CandleBuffer{
		l:        l,
		source:   source,
		pair:     pair,
		interval: interval,
		step:     domain.IntervalDuration(interval),
		capacity: domain.BufferCapacity(interval),
		pageSize: MaxPageSize,
		state:    StateEmpty,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Initialize backfills history walking backwards page by page until capacity is reached
// or the exchange runs out of data. A failed page keeps what was gathered so far.
func (b *CandleBuffer) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateEmpty {
		b.mu.Unlock()
		return errors.Errorf("buffer already initialized (state %s)", b.state)
	}
	b.state = StateBackfilling
	b.mu.Unlock()

	b.l.Info("backfilling candle history",
		zap.String("pair", b.pair.String()),
		zap.String("interval", b.interval),
		zap.Int("capacity", b.capacity))

	var pages [][]domain.MarketCandle
	total := 0
	var endTime time.Time
	for total < b.capacity {
		if err := ctx.Err(); err != nil {
			b.reset()
			return err
		}

		limit := min(b.pageSize, b.capacity-total)
		page, err := b.source.GetCandles(ctx, b.pair, b.interval, limit, endTime)
		if err != nil {
			b.l.Warn("historical page fetch failed, keeping partial history",
				zap.String("pair", b.pair.String()),
				zap.Int("collected", total),
				zap.Error(err))
			break
		}
		if !endTime.IsZero() {
			page = dropNotBefore(page, endTime.Add(b.step))
		}
		if len(page) == 0 {
			break
		}

		pages = append(pages, page)
		total += len(page)
		endTime = page[0].OpenTime.Add(-b.step)
	}

	if total == 0 {
		b.reset()
		return errors.Wrapf(domain.ErrDataUnavailable, "%s %s", b.pair.Symbol(), b.interval)
	}

	candles := make([]domain.MarketCandle, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		candles = append(candles, pages[i]...)
	}
	if len(candles) > b.capacity {
		candles = candles[len(candles)-b.capacity:]
	}

	frame, err := indicators.Enrich(candles)
	if err != nil {
		b.reset()
		return errors.Wrap(err, "compute indicators over backfilled history")
	}

	b.mu.Lock()
	b.candles = candles
	b.frame = frame
	b.latest = candles[len(candles)-1].OpenTime
	b.state = StateReady
	b.mu.Unlock()

	b.l.Info("candle buffer ready",
		zap.String("pair", b.pair.String()),
		zap.Int("candles", len(candles)),
		zap.Time("oldest", candles[0].OpenTime),
		zap.Time("latest", b.latest))

	return nil
}

// CheckForNewCandle polls the exchange for the most recent candle and reports whether
// it is newer than the latest buffered one.
func (b *CandleBuffer) CheckForNewCandle(ctx context.Context) (domain.MarketCandle, bool, error) {
	b.mu.RLock()
	state, latest := b.state, b.latest
	b.mu.RUnlock()

	if state != StateReady {
		return domain.MarketCandle{}, false, domain.ErrBufferNotReady
	}

	candle, err := b.source.GetLatestCandle(ctx, b.pair, b.interval)
	if err != nil {
		return domain.MarketCandle{}, false, errors.Wrap(err, "poll latest candle")
	}

	return candle, candle.OpenTime.After(latest), nil
}

// Append adds a new candle, evicts the oldest beyond capacity and recomputes indicators.
func (b *CandleBuffer) Append(candle domain.MarketCandle) error {
	b.mu.RLock()
	state, latest := b.state, b.latest
	current := b.candles
	b.mu.RUnlock()

	if state != StateReady {
		return domain.ErrBufferNotReady
	}
	if !candle.OpenTime.After(latest) {
		return errors.Wrapf(domain.ErrStaleCandle, "candle %s, latest %s", candle.OpenTime, latest)
	}

	gap := candle.OpenTime.Sub(latest) > b.step
	if gap {
		b.l.Warn("gap detected in candle stream",
			zap.String("pair", b.pair.String()),
			zap.Time("latest", latest),
			zap.Time("new", candle.OpenTime),
			zap.Int("missing", int(candle.OpenTime.Sub(latest)/b.step)-1))
	}

	keep := len(current) + 1 - b.capacity
	if keep < 0 {
		keep = 0
	}
	candles := make([]domain.MarketCandle, 0, len(current)+1-keep)
	candles = append(candles, current[keep:]...)
	candles = append(candles, candle)

	frame, err := indicators.Enrich(candles)
	if err != nil {
		return errors.Wrap(err, "recompute indicators")
	}

	b.mu.Lock()
	b.candles = candles
	b.frame = frame
	b.latest = candle.OpenTime
	if gap {
		b.gapCount++
	}
	b.mu.Unlock()

	return nil
}

// Frame returns the current enriched frame, nil before the buffer is ready.
func (b *CandleBuffer) Frame() *indicators.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frame
}

// Tail returns the enriched frame over the last n candles.
func (b *CandleBuffer) Tail(n int) *indicators.Frame {
	return b.Frame().Tail(n)
}

// LatestCandle returns the most recent buffered candle.
func (b *CandleBuffer) LatestCandle() (domain.MarketCandle, bool) {
	return b.Frame().Latest()
}

// LatestTime returns the open time of the most recent buffered candle.
func (b *CandleBuffer) LatestTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Len returns the number of buffered candles.
func (b *CandleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles)
}

// Capacity returns the maximum number of candles retained.
func (b *CandleBuffer) Capacity() int {
	return b.capacity
}

// State returns the lifecycle state.
func (b *CandleBuffer) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// GapCount returns how many appends skipped at least one interval.
func (b *CandleBuffer) GapCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gapCount
}

// Interval returns the candle interval.
func (b *CandleBuffer) Interval() string {
	return b.interval
}

func (b *CandleBuffer) reset() {
	b.mu.Lock()
	b.state = StateEmpty
	b.candles = nil
	b.frame = nil
	b.latest = time.Time{}
	b.mu.Unlock()
}

// dropNotBefore removes candles at or after bound, so pages never overlap.
func dropNotBefore(page []domain.MarketCandle, bound time.Time) []domain.MarketCandle {
	end := len(page)
	for end > 0 && !page[end-1].OpenTime.Before(bound) {
		end--
	}
	return page[:end]
}
