// Package executor turns evaluated signals into sized market orders.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/pkg/retrier"
	"go.uber.org/zap"
)

const (
	// DefaultSafetyMargin share of the allocated quote balance actually spent.
	DefaultSafetyMargin = "0.99"
	// DefaultMaxTransactions size of the in-memory transaction log.
	DefaultMaxTransactions = 20
	// DefaultPrecision quantity decimals used when the lot step is unknown.
	DefaultPrecision int32 = 3

	notifyTimeout = 10 * time.Second
)

var hundred = decimal.NewFromInt(100)

type exchange interface {
	GetLotStepSize(ctx context.Context, symbol string) (decimal.Decimal, error)
	SubmitMarketOrder(ctx context.Context, pair domain.Pair, side domain.Action, quantity decimal.Decimal, clientOrderID string) (domain.OrderResult, error)
}

type reconciler interface {
	Snapshot() domain.PortfolioSnapshot
	ForceRefresh(ctx context.Context) error
}

type notifier interface {
	Notify(ctx context.Context, message string) error
}

type transactionRecorder interface {
	Save(tx domain.Transaction) error
}

type activityRecorder interface {
	Add(category domain.ActivityCategory, message string)
}

// Option configures the executor.
type Option func(*Executor)

// WithSafetyMargin overrides DefaultSafetyMargin. Values outside (0, 1] are ignored.
func WithSafetyMargin(margin decimal.Decimal) Option {
	return func(e *Executor) {
		if margin.IsPositive() && margin.LessThanOrEqual(decimal.NewFromInt(1)) {
			e.safetyMargin = margin
		}
	}
}

// WithMaxTransactions overrides DefaultMaxTransactions.
func WithMaxTransactions(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxTransactions = n
		}
	}
}

// WithNotifier sends a message for every executed order.
func WithNotifier(n notifier) Option {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithRecorder persists every executed order.
func WithRecorder(r transactionRecorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// WithActivity writes user-facing entries for decisions and fills.
func WithActivity(a activityRecorder) Option {
	return func(e *Executor) {
		e.activity = a
	}
}

// WithHistory seeds the transaction log, oldest first.
func WithHistory(txs []domain.Transaction) Option {
	return func(e *Executor) {
		e.transactions = append(e.transactions, txs...)
	}
}

// WithRetrier controls retries of lot step discovery.
func WithRetrier(r *retrier.Retrier) Option {
	return func(e *Executor) {
		if r != nil {
			e.retrier = r
		}
	}
}

// WithClock replaces time.Now for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor decides, sizes and submits orders for a single pair.
// It never retries a failed submission.
type Executor struct {
	l          *zap.Logger
	exchange   exchange
	reconciler reconciler
	notifier   notifier
	recorder   transactionRecorder
	activity   activityRecorder
	retrier    *retrier.Retrier
	now        func() time.Time

	pair            domain.Pair
	position        *domain.Position
	safetyMargin    decimal.Decimal
	maxTransactions int

	stepSize decimal.Decimal
	dust     decimal.Decimal

	mu           sync.RWMutex
	transactions []domain.Transaction
}

// NewExecutor creates an executor. position is shared with the account reconciler.
func NewExecutor(l *zap.Logger, ex exchange, rec reconciler, pair domain.Pair, position *domain.Position, opts ...Option) (*Executor, error) {
	if ex == nil {
		return nil, errors.New("exchange is required")
	}
	if rec == nil {
		return nil, errors.New("reconciler is required")
	}
	if position == nil {
		return nil, errors.New("position is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	e := &Executor{
		l:               l,
		exchange:        ex,
		reconciler:      rec,
		retrier:         newLotStepRetrier(l),
		now:             time.Now,
		pair:            pair,
		position:        position,
		safetyMargin:    decimal.RequireFromString(DefaultSafetyMargin),
		maxTransactions: DefaultMaxTransactions,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.trimTransactions()

	return e, nil
}

// Decide runs the stop checks and the signal driven decision for the latest price.
// It returns the executed transaction, nil when nothing was traded.
func (e *Executor) Decide(ctx context.Context, strategy domain.Strategy, signal domain.Signal, price decimal.Decimal) (*domain.Transaction, error) {
	if e.position.IsOpen() {
		return e.MaybeClosePosition(ctx, strategy, signal, price)
	}
	return e.MaybeOpenPosition(ctx, strategy, signal, price)
}

// CheckStops reports whether price crossed the stop-loss or take-profit threshold of the open position.
func (e *Executor) CheckStops(strategy domain.Strategy, price decimal.Decimal) domain.ExitReason {
	pos := *e.position
	if !pos.IsOpen() || !pos.EntryPrice.IsPositive() {
		return domain.ExitReasonNone
	}

	if sl := strategy.StopLossPrice(pos.EntryPrice); sl.IsPositive() && price.LessThanOrEqual(sl) {
		return domain.ExitReasonStopLoss
	}
	if tp := strategy.TakeProfitPrice(pos.EntryPrice); tp.IsPositive() && price.GreaterThanOrEqual(tp) {
		return domain.ExitReasonTakeProfit
	}

	return domain.ExitReasonNone
}

// MaybeOpenPosition buys when flat and the entry signal is set.
func (e *Executor) MaybeOpenPosition(ctx context.Context, strategy domain.Strategy, signal domain.Signal, price decimal.Decimal) (*domain.Transaction, error) {
	if !signal.Entry || !e.position.IsFlat() {
		return nil, nil
	}

	e.record(domain.ActivityStrategy, "🎯 ENTRY SIGNAL DETECTED - Attempting to buy...")

	quantity, err := e.buyQuantity(ctx, strategy, price)
	if err != nil {
		e.l.Warn("buy skipped", zap.String("pair", e.pair.String()), zap.Error(err))
		e.record(domain.ActivityError, fmt.Sprintf("❌ BUY SKIPPED: %v", err))
		return nil, nil
	}

	tx, err := e.submit(ctx, domain.ActionBuy, quantity, price)
	if err != nil {
		return nil, err
	}

	e.position.Amount = tx.Quantity
	e.position.EntryPrice = price
	e.afterOrder(ctx, tx)
	if e.position.IsOpen() {
		e.record(domain.ActivityInfo, fmt.Sprintf("Entry price set: %s %s", e.position.EntryPrice.StringFixed(2), e.pair.To))
	}

	return tx, nil
}

// MaybeClosePosition sells the full position when a stop is crossed or the exit signal is set.
// Stops are checked first and independently of the signal.
func (e *Executor) MaybeClosePosition(ctx context.Context, strategy domain.Strategy, signal domain.Signal, price decimal.Decimal) (*domain.Transaction, error) {
	pos := *e.position
	if !pos.IsOpen() {
		return nil, nil
	}

	reason := e.CheckStops(strategy, price)
	if reason == domain.ExitReasonNone {
		if !signal.Exit {
			return nil, nil
		}
		reason = domain.ExitReasonSignal
	}

	quantity := SnapToStep(pos.Amount, e.lotStep(ctx))
	if !quantity.IsPositive() {
		e.reportDust(pos.Amount)
		return nil, nil
	}

	switch reason {
	case domain.ExitReasonStopLoss:
		e.record(domain.ActivityStrategy, fmt.Sprintf("🛑 STOP LOSS TRIGGERED! Loss: %s%%", pos.PnLPercent(price).StringFixed(2)))
	case domain.ExitReasonTakeProfit:
		e.record(domain.ActivityStrategy, fmt.Sprintf("🎯 TAKE PROFIT TRIGGERED! Profit: %s%%", pos.PnLPercent(price).StringFixed(2)))
	default:
		e.record(domain.ActivityStrategy, "🎯 EXIT SIGNAL DETECTED - Attempting to sell...")
	}

	e.l.Info("closing position",
		zap.String("pair", e.pair.String()),
		zap.String("reason", string(reason)),
		zap.String("price", price.String()),
		zap.String("entry", pos.EntryPrice.String()))

	tx, err := e.submit(ctx, domain.ActionSell, quantity, price)
	if err != nil {
		return nil, err
	}

	if pos.EntryPrice.IsPositive() {
		tx.PnLPercent = decimal.NewNullDecimal(pos.PnLPercent(price))
		tx.PnLValue = decimal.NewNullDecimal(price.Sub(pos.EntryPrice).Mul(tx.Quantity))
	}

	e.position.Amount = e.position.Amount.Sub(tx.Quantity)
	if !e.position.Amount.IsPositive() {
		e.position.Amount = decimal.Zero
	}
	e.position.EntryPrice = decimal.Zero
	e.dust = decimal.Zero
	e.afterOrder(ctx, tx)
	if e.position.IsFlat() {
		e.record(domain.ActivityInfo, "Entry price reset - position closed")
	}

	return tx, nil
}

// reportDust records an unsellable remainder once per distinct amount.
func (e *Executor) reportDust(amount decimal.Decimal) {
	if amount.Equal(e.dust) {
		return
	}
	e.dust = amount
	e.l.Warn("sell skipped, position below lot step",
		zap.String("pair", e.pair.String()),
		zap.String("position", amount.String()))
	e.record(domain.ActivityError, fmt.Sprintf("❌ SELL SKIPPED: position %s is below the lot step", amount))
}

// Transactions returns a copy of the bounded transaction log, oldest first.
func (e *Executor) Transactions() []domain.Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Transaction, len(e.transactions))
	copy(out, e.transactions)
	return out
}

// Position returns a copy of the local position.
func (e *Executor) Position() domain.Position {
	return *e.position
}

// buyQuantity quote × allocation/100 × safety margin ÷ price, snapped down to the lot step.
func (e *Executor) buyQuantity(ctx context.Context, strategy domain.Strategy, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, errors.New("unable to get current price")
	}
	if !strategy.Allocation.IsPositive() {
		return decimal.Zero, errors.Errorf("invalid allocation %s", strategy.Allocation)
	}

	quote := e.reconciler.Snapshot().QuoteBalance
	if !quote.IsPositive() {
		return decimal.Zero, errors.Errorf("no %s balance available", e.pair.To)
	}

	raw := SizeBuy(quote, strategy.Allocation, e.safetyMargin, price)
	quantity := SnapToStep(raw, e.lotStep(ctx))
	if !quantity.IsPositive() {
		return decimal.Zero, errors.Errorf("quantity %s rounds to zero", raw)
	}

	e.l.Info("buy sized",
		zap.String("pair", e.pair.String()),
		zap.String("quote_balance", quote.String()),
		zap.String("allocation", strategy.Allocation.String()),
		zap.String("raw", raw.String()),
		zap.String("quantity", quantity.String()))

	return quantity, nil
}

// SizeBuy returns the unsnapped buy quantity.
func SizeBuy(quoteBalance, allocation, safetyMargin, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return quoteBalance.Mul(allocation).Div(hundred).Mul(safetyMargin).Div(price)
}

// SnapToStep floors quantity to a multiple of step, or to DefaultPrecision decimals when step is unknown.
func SnapToStep(quantity, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return quantity.RoundFloor(DefaultPrecision)
	}
	return quantity.Div(step).Floor().Mul(step)
}

// newLotStepRetrier retries exchange-info lookups until the venue says the symbol is unknown.
func newLotStepRetrier(l *zap.Logger) *retrier.Retrier {
	return retrier.New(
		retrier.WithRetryIf(domain.IsTransient),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.Warn("lot step lookup failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}))
}

// lotStep returns the cached lot step, discovering it on first use. Zero means unknown.
func (e *Executor) lotStep(ctx context.Context) decimal.Decimal {
	if e.stepSize.IsPositive() {
		return e.stepSize
	}

	step, err := retrier.DoWithData(e.retrier, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return e.exchange.GetLotStepSize(ctx, e.pair.Symbol())
	})
	if err != nil || !step.IsPositive() {
		e.l.Warn("lot step unavailable, using default precision",
			zap.String("symbol", e.pair.Symbol()),
			zap.Int32("precision", DefaultPrecision),
			zap.Error(err))
		return decimal.Zero
	}

	e.stepSize = step
	return step
}

func (e *Executor) submit(ctx context.Context, side domain.Action, quantity, price decimal.Decimal) (*domain.Transaction, error) {
	clientOrderID := uuid.New().String()

	result, err := e.exchange.SubmitMarketOrder(ctx, e.pair, side, quantity, clientOrderID)
	if err != nil {
		e.l.Error("order failed",
			zap.String("pair", e.pair.String()),
			zap.String("side", side.String()),
			zap.String("quantity", quantity.String()),
			zap.String("client_order_id", clientOrderID),
			zap.Error(err))
		e.record(domain.ActivityError, fmt.Sprintf("❌ %s ORDER FAILED: %v", side, err))
		return nil, errors.Wrapf(err, "%s %s %s", side, quantity, e.pair.Symbol())
	}

	filled := quantity
	if result.ExecutedQuantity.IsPositive() {
		filled = result.ExecutedQuantity
	}

	tx := &domain.Transaction{
		Timestamp: e.now(),
		Symbol:    e.pair.From,
		Side:      side,
		Quantity:  filled,
		Price:     price,
		Value:     filled.Mul(price),
		OrderID:   result.OrderID,
	}

	e.l.Info("order executed",
		zap.String("pair", e.pair.String()),
		zap.String("side", side.String()),
		zap.String("quantity", filled.String()),
		zap.String("price", price.String()),
		zap.String("order_id", result.OrderID),
		zap.String("client_order_id", clientOrderID))

	return tx, nil
}

// afterOrder appends the transaction, reconciles the account and notifies.
func (e *Executor) afterOrder(ctx context.Context, tx *domain.Transaction) {
	e.appendTransaction(*tx)

	icon := "🟢"
	if tx.Side == domain.ActionSell {
		icon = "🔴"
	}
	e.record(domain.ActivityTrade, fmt.Sprintf("%s %s ORDER EXECUTED! Order ID: %s", icon, tx.Side, tx.OrderID))
	e.record(domain.ActivityTrade, fmt.Sprintf("Quantity: %s %s", tx.Quantity.StringFixed(6), tx.Symbol))
	e.record(domain.ActivityTrade, fmt.Sprintf("Price: %s %s", tx.Price.StringFixed(2), e.pair.To))
	e.record(domain.ActivityTrade, fmt.Sprintf("Value: %s %s", tx.Value.StringFixed(2), e.pair.To))
	if tx.PnLPercent.Valid {
		e.record(domain.ActivityTrade, fmt.Sprintf("P&L: %s%% (%s %s)",
			signed(tx.PnLPercent.Decimal), signed(tx.PnLValue.Decimal), e.pair.To))
	}

	if err := e.reconciler.ForceRefresh(ctx); err != nil {
		e.l.Warn("post-order account refresh failed", zap.String("pair", e.pair.String()), zap.Error(err))
	}
	snapshot := e.reconciler.Snapshot()
	e.record(domain.ActivityPortfolio, fmt.Sprintf("Portfolio updated after %s: %s %s",
		lower(tx.Side), snapshot.TotalValue.StringFixed(2), e.pair.To))

	e.notify(ctx, e.orderMessage(tx, snapshot))
}

func (e *Executor) appendTransaction(tx domain.Transaction) {
	if e.recorder != nil {
		if err := e.recorder.Save(tx); err != nil {
			e.l.Warn("failed to persist transaction", zap.Error(err))
		}
	}

	e.mu.Lock()
	e.transactions = append(e.transactions, tx)
	e.mu.Unlock()
	e.trimTransactions()
}

func (e *Executor) trimTransactions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if over := len(e.transactions) - e.maxTransactions; over > 0 {
		e.transactions = append([]domain.Transaction(nil), e.transactions[over:]...)
	}
}

func (e *Executor) orderMessage(tx *domain.Transaction, snapshot domain.PortfolioSnapshot) string {
	if tx.Side == domain.ActionBuy {
		return fmt.Sprintf("🟢 BUY ORDER EXECUTED!\n%s: %s @ $%s\nValue: $%s %s",
			tx.Symbol, tx.Quantity.StringFixed(6), tx.Price.StringFixed(2), tx.Value.StringFixed(2), e.pair.To)
	}

	positionPnL := "N/A"
	if tx.PnLPercent.Valid && !tx.PnLPercent.Decimal.IsZero() {
		positionPnL = fmt.Sprintf("%s%% ($%s)", signed(tx.PnLPercent.Decimal), signed(tx.PnLValue.Decimal))
	}
	totalPnL := "N/A"
	if pct := snapshot.PnLPercent(); !pct.IsZero() {
		totalPnL = fmt.Sprintf("%s%% ($%s)", signed(pct), signed(snapshot.PnL()))
	}

	return fmt.Sprintf("🔴 SELL ORDER EXECUTED!\n%s: %s @ $%s\nValue: $%s %s\nPosition P&L: %s\nTotal P&L: %s",
		tx.Symbol, tx.Quantity.StringFixed(6), tx.Price.StringFixed(2), tx.Value.StringFixed(2), e.pair.To,
		positionPnL, totalPnL)
}

// notify never fails the trade.
func (e *Executor) notify(ctx context.Context, message string) {
	if e.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := e.notifier.Notify(ctx, message); err != nil {
		e.l.Warn("notification failed", zap.String("pair", e.pair.String()), zap.Error(err))
	}
}

func (e *Executor) record(category domain.ActivityCategory, message string) {
	if e.activity != nil {
		e.activity.Add(category, message)
	}
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

func lower(a domain.Action) string {
	if a == domain.ActionSell {
		return "sell"
	}
	return "buy"
}
