// Package account keeps the locally cached portfolio state honest against the exchange account.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
)

// DefaultCooldown minimum age of the cached snapshot before RefreshIfStale hits the exchange.
const DefaultCooldown = 300 * time.Second

type accountService interface {
	GetAccountSnapshot(ctx context.Context) ([]domain.AssetBalance, error)
}

type candleSource interface {
	LatestCandle() (domain.MarketCandle, bool)
}

type snapshotRecorder interface {
	Save(snapshot domain.PortfolioSnapshot) error
}

type activityRecorder interface {
	Add(category domain.ActivityCategory, message string)
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(cooldown time.Duration) Option {
	return func(r *Reconciler) {
		if cooldown > 0 {
			r.cooldown = cooldown
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRecorder persists every successful refresh.
func WithRecorder(recorder snapshotRecorder) Option {
	return func(r *Reconciler) {
		r.recorder = recorder
	}
}

// WithActivity writes user-facing entries for adopted positions and failures.
func WithActivity(activity activityRecorder) Option {
	return func(r *Reconciler) {
		r.activity = activity
	}
}

// Reconciler caches the portfolio snapshot and overwrites the local position
// with the free base balance reported by the exchange.
type Reconciler struct {
	l        *zap.Logger
	account  accountService
	candles  candleSource
	pair     domain.Pair
	position *domain.Position
	cooldown time.Duration
	now      func() time.Time
	recorder snapshotRecorder
	activity activityRecorder

	mu          sync.RWMutex
	snapshot    domain.PortfolioSnapshot
	lastRefresh time.Time
	initialSet  bool
}

// NewReconciler creates a reconciler for the pair. position is shared with the order executor;
// both are driven by the trading loop only.
func NewReconciler(l *zap.Logger, account accountService, candles candleSource, pair domain.Pair,
	position *domain.Position, opts ...Option) (*Reconciler, error) {
	if account == nil {
		return nil, errors.New("account service is required")
	}
	if candles == nil {
		return nil, errors.New("candle source is required")
	}
	if position == nil {
		return nil, errors.New("position is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	r := &Reconciler{
		l:        l,
		account:  account,
		candles:  candles,
		pair:     pair,
		position: position,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// RefreshIfStale refreshes the snapshot when the last successful refresh is older than the cooldown.
// It reports whether the exchange was queried.
func (r *Reconciler) RefreshIfStale(ctx context.Context) (bool, error) {
	r.mu.RLock()
	last := r.lastRefresh
	r.mu.RUnlock()

	if !last.IsZero() && r.now().Sub(last) < r.cooldown {
		return false, nil
	}

	return true, r.ForceRefresh(ctx)
}

// ForceRefresh fetches the account regardless of the cooldown.
// On failure the cached snapshot and the local position are left untouched.
func (r *Reconciler) ForceRefresh(ctx context.Context) error {
	balances, err := r.account.GetAccountSnapshot(ctx)
	if err != nil {
		r.l.Warn("account refresh failed, keeping cached snapshot",
			zap.String("pair", r.pair.String()),
			zap.Error(err))
		r.record(domain.ActivityError, fmt.Sprintf("Failed to update portfolio: %v", err))
		return errors.Wrap(err, "fetch account snapshot")
	}

	quote, base := decimal.Zero, decimal.Zero
	for _, b := range balances {
		switch b.Asset {
		case r.pair.To:
			quote = b.Free
		case r.pair.From:
			base = b.Free
		}
	}

	price := decimal.Zero
	if candle, ok := r.candles.LatestCandle(); ok {
		price = candle.Close
	}

	r.reconcilePosition(base, price)

	now := r.now()
	baseValue := base.Mul(price)

	r.mu.Lock()
	snapshot := domain.PortfolioSnapshot{
		Timestamp:    now,
		Pair:         r.pair.String(),
		QuoteBalance: quote,
		BaseBalance:  base,
		BaseValue:    baseValue,
		TotalValue:   quote.Add(baseValue),
		Price:        price,
	}
	firstRefresh := !r.initialSet
	if firstRefresh {
		r.initialSet = true
		snapshot.InitialValue = snapshot.TotalValue
	} else {
		snapshot.InitialValue = r.snapshot.InitialValue
	}
	r.snapshot = snapshot
	r.lastRefresh = now
	r.mu.Unlock()

	if firstRefresh {
		r.record(domain.ActivityInfo, fmt.Sprintf("Initial portfolio value set: %s %s",
			snapshot.InitialValue.StringFixed(2), r.pair.To))
	}

	r.l.Debug("account refreshed",
		zap.String("pair", r.pair.String()),
		zap.String("quote", quote.String()),
		zap.String("base", base.String()),
		zap.String("total", snapshot.TotalValue.String()))

	if r.recorder != nil {
		if err := r.recorder.Save(snapshot); err != nil {
			r.l.Warn("failed to persist portfolio snapshot", zap.Error(err))
		}
	}

	return nil
}

// Snapshot returns the cached portfolio state.
func (r *Reconciler) Snapshot() domain.PortfolioSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// LastRefresh returns the time of the last successful refresh.
func (r *Reconciler) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}

// reconcilePosition makes the exchange free balance the position amount.
func (r *Reconciler) reconcilePosition(base, price decimal.Decimal) {
	local := *r.position

	if !local.Amount.Equal(base) {
		r.l.Info("position drift corrected from exchange balance",
			zap.String("pair", r.pair.String()),
			zap.String("local", local.Amount.String()),
			zap.String("exchange", base.String()))
	}
	r.position.Amount = base

	switch {
	case base.IsZero():
		r.position.EntryPrice = decimal.Zero
	case local.IsFlat() && local.EntryPrice.IsZero():
		r.record(domain.ActivityInfo, fmt.Sprintf("Position initialized: %s %s", base.String(), r.pair.From))
		if price.IsPositive() {
			r.position.EntryPrice = price
			r.record(domain.ActivityInfo, fmt.Sprintf("Entry price set to current market price: %s %s",
				price.StringFixed(2), r.pair.To))
		}
	case r.position.EntryPrice.IsZero() && price.IsPositive():
		r.position.EntryPrice = price
	}
}

func (r *Reconciler) record(category domain.ActivityCategory, message string) {
	if r.activity != nil {
		r.activity.Add(category, message)
	}
}
