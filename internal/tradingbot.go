package internal

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/config"
	"github.com/vadiminshakov/ruletrader/internal/console"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/events"
	"github.com/vadiminshakov/ruletrader/internal/services/account"
	"github.com/vadiminshakov/ruletrader/internal/services/executor"
	"github.com/vadiminshakov/ruletrader/internal/services/market/buffer"
	"github.com/vadiminshakov/ruletrader/internal/services/rules"
	"go.uber.org/zap"
)

const (
	statusInterval = 5 * time.Minute
	tickTimeout    = 2 * time.Minute
	chartCandles   = 100
)

// Loop states published with every snapshot.
const (
	StateIdle        = "idle"
	StateBackfilling = "backfilling"
	StatePolling     = "polling"
	StateUpdating    = "updating"
	StateDeciding    = "deciding"
	StateStopped     = "stopped"
)

// Exchange everything the session needs from the venue.
type Exchange interface {
	buffer.CandleSource
	GetAccountSnapshot(ctx context.Context) ([]domain.AssetBalance, error)
	GetLotStepSize(ctx context.Context, symbol string) (decimal.Decimal, error)
	SubmitMarketOrder(ctx context.Context, pair domain.Pair, side domain.Action, quantity decimal.Decimal, clientOrderID string) (domain.OrderResult, error)
}

type notifier interface {
	Notify(ctx context.Context, message string) error
}

type transactionStore interface {
	Save(tx domain.Transaction) error
	Recent(n int) ([]domain.Transaction, error)
}

type portfolioStore interface {
	Save(snapshot domain.PortfolioSnapshot) error
}

// Option configures the bot.
type Option func(*TradingBot)

// WithNotifier pushes a message for every executed order.
func WithNotifier(n notifier) Option {
	return func(b *TradingBot) {
		b.notifier = n
	}
}

// WithTransactionStore persists transactions and seeds the log on startup.
func WithTransactionStore(s transactionStore) Option {
	return func(b *TradingBot) {
		b.txStore = s
	}
}

// WithPortfolioStore persists every reconciled portfolio snapshot.
func WithPortfolioStore(s portfolioStore) Option {
	return func(b *TradingBot) {
		b.portfolioStore = s
	}
}

// WithActivityLog shares an activity log with other readers.
func WithActivityLog(a *events.ActivityLog) Option {
	return func(b *TradingBot) {
		b.activity = a
	}
}

// WithBroadcaster publishes session snapshots to subscribers.
func WithBroadcaster(br *events.Broadcaster[domain.SessionSnapshot]) Option {
	return func(b *TradingBot) {
		b.broadcaster = br
	}
}

// WithReportOutput writes the final report to w when the loop stops.
func WithReportOutput(w io.Writer) Option {
	return func(b *TradingBot) {
		b.out = w
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *TradingBot) {
		b.now = now
	}
}

// WithBufferOptions tunes the candle buffer.
func WithBufferOptions(opts ...buffer.Option) Option {
	return func(b *TradingBot) {
		b.bufferOpts = append(b.bufferOpts, opts...)
	}
}

// TradingBot single-symbol trading session. All mutable state is owned by the loop;
// readers observe it only through published snapshots.
type TradingBot struct {
	l        *zap.Logger
	conf     config.Config
	pair     domain.Pair
	strategy domain.Strategy
	perf     *domain.Performance
	now      func() time.Time

	buffer     *buffer.CandleBuffer
	evaluator  *rules.Evaluator
	reconciler *account.Reconciler
	executor   *executor.Executor
	position   *domain.Position

	notifier       notifier
	txStore        transactionStore
	portfolioStore portfolioStore
	activity       *events.ActivityLog
	broadcaster    *events.Broadcaster[domain.SessionSnapshot]
	out            io.Writer
	bufferOpts     []buffer.Option

	state      string
	signal     domain.Signal
	lastStatus time.Time
	snapshot   atomic.Pointer[domain.SessionSnapshot]
}

// NewTradingBot wires the session components for the strategy's symbol.
func NewTradingBot(l *zap.Logger, conf config.Config, artifact *domain.StrategyArtifact, ex Exchange, opts ...Option) (*TradingBot, error) {
	if artifact == nil || artifact.Strategy == nil {
		return nil, errors.Wrap(domain.ErrInvalidStrategy, "strategy section is missing")
	}
	if ex == nil {
		return nil, errors.New("exchange is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	pair, err := domain.PairFromSymbol(artifact.Strategy.CoinSymbol, conf.QuoteAsset)
	if err != nil {
		return nil, errors.Wrap(domain.ErrInvalidStrategy, err.Error())
	}

	b := &TradingBot{
		l:        l.With(zap.String("pair", pair.String())),
		conf:     conf,
		pair:     pair,
		strategy: *artifact.Strategy,
		perf:     artifact.Performance,
		now:      time.Now,
		position: &domain.Position{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.activity == nil {
		b.activity = events.NewActivityLog(b.l, conf.ActivityLogSize)
	}

	b.buffer, err = buffer.NewCandleBuffer(b.l, ex, pair, b.strategy.Timeframe, b.bufferOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create candle buffer")
	}

	b.evaluator = rules.NewEvaluator(b.l, conf.SignalWindow)

	reconcilerOpts := []account.Option{
		account.WithCooldown(conf.AccountCooldown),
		account.WithClock(b.now),
		account.WithActivity(b.activity),
	}
	if b.portfolioStore != nil {
		reconcilerOpts = append(reconcilerOpts, account.WithRecorder(b.portfolioStore))
	}
	b.reconciler, err = account.NewReconciler(b.l, ex, b.buffer, pair, b.position, reconcilerOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create account reconciler")
	}

	executorOpts := []executor.Option{
		executor.WithSafetyMargin(conf.SafetyMargin),
		executor.WithMaxTransactions(conf.MaxTransactions),
		executor.WithActivity(b.activity),
		executor.WithClock(b.now),
	}
	if b.notifier != nil {
		executorOpts = append(executorOpts, executor.WithNotifier(b.notifier))
	}
	if b.txStore != nil {
		executorOpts = append(executorOpts, executor.WithRecorder(b.txStore))
		history, err := b.txStore.Recent(conf.MaxTransactions)
		if err != nil {
			b.l.Warn("failed to load transaction history", zap.Error(err))
		}
		executorOpts = append(executorOpts, executor.WithHistory(history))
	}
	b.executor, err = executor.NewExecutor(b.l, ex, b.reconciler, pair, b.position, executorOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create order executor")
	}

	b.publish()

	return b, nil
}

// Initialize backfills history and takes the first account snapshot.
// Only the absence of any historical data is fatal.
func (b *TradingBot) Initialize(ctx context.Context) error {
	b.state = StateBackfilling
	b.publish()

	if err := b.buffer.Initialize(ctx); err != nil {
		b.activity.Add(domain.ActivityError, fmt.Sprintf("Failed to load market data: %v", err))
		b.state = StateIdle
		b.publish()
		return errors.Wrap(err, "initialize candle buffer")
	}
	b.activity.Add(domain.ActivityInfo, fmt.Sprintf("Loaded %d %s candles for %s",
		b.buffer.Len(), b.strategy.Timeframe, b.pair.Symbol()))

	if err := b.reconciler.ForceRefresh(ctx); err != nil {
		b.l.Warn("initial account refresh failed", zap.Error(err))
	}

	b.activity.Add(domain.ActivityStrategy, fmt.Sprintf("🚀 Trading Strategy: %s", b.strategy.ID))
	b.state = StatePolling
	b.publish()

	return nil
}

// Run polls for closed candles every PollInterval until ctx is cancelled.
// A tick in progress always completes, so an order is never abandoned mid-flight.
func (b *TradingBot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.conf.PollInterval)
	defer ticker.Stop()

	b.l.Info("Starting trading loop", zap.Duration("poll_interval", b.conf.PollInterval))

	for {
		if ctx.Err() != nil {
			b.stop()
			return nil
		}

		tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tickTimeout)
		b.tick(tickCtx)
		cancel()

		select {
		case <-ctx.Done():
			b.stop()
			return nil
		case <-ticker.C:
		}
	}
}

func (b *TradingBot) tick(ctx context.Context) {
	defer b.publish()

	if _, err := b.reconciler.RefreshIfStale(ctx); err != nil {
		b.l.Warn("account refresh failed, keeping cached snapshot", zap.Error(err))
	}

	candle, isNew, err := b.buffer.CheckForNewCandle(ctx)
	if err != nil {
		b.l.Warn("candle poll failed", zap.Error(err))
		return
	}
	if isNew {
		b.onCandle(ctx, candle)
	}

	b.logStatus()
}

func (b *TradingBot) onCandle(ctx context.Context, candle domain.MarketCandle) {
	defer func() { b.state = StatePolling }()

	b.state = StateUpdating
	gaps := b.buffer.GapCount()
	if err := b.buffer.Append(candle); err != nil {
		b.l.Warn("failed to append candle", zap.Time("open_time", candle.OpenTime), zap.Error(err))
		b.activity.Add(domain.ActivityError, fmt.Sprintf("Failed to update market data: %v", err))
		return
	}
	if b.buffer.GapCount() > gaps {
		b.activity.Add(domain.ActivityError, fmt.Sprintf("⚠️ Missing candles before %s", candle.OpenTime.Format(time.DateTime)))
	}
	b.activity.Add(domain.ActivityInfo, fmt.Sprintf("📈 New candle: %s close %s",
		candle.OpenTime.Format(time.DateTime), candle.Close.StringFixed(2)))

	b.state = StateDeciding
	signal, err := b.evaluator.Evaluate(b.strategy, b.buffer.Frame())
	if err != nil {
		b.activity.Add(domain.ActivityError, fmt.Sprintf("Error evaluating strategy rules: %v", err))
	}
	b.signal = signal
	b.activity.Add(domain.ActivityStrategy, fmt.Sprintf("Signals - Entry: %s, Exit: %s", met(signal.Entry), met(signal.Exit)))

	if _, err := b.executor.Decide(ctx, b.strategy, signal, candle.Close); err != nil {
		b.l.Warn("order decision failed", zap.Error(err))
	}
}

func (b *TradingBot) logStatus() {
	now := b.now()
	if !b.lastStatus.IsZero() && now.Sub(b.lastStatus) < statusInterval {
		return
	}
	b.lastStatus = now

	price := b.price()
	pos := *b.position
	fields := []zap.Field{
		zap.String("price", price.StringFixed(2)),
		zap.String("position", pos.Amount.String()),
		zap.String("entry", pos.EntryPrice.String()),
	}
	if pos.IsOpen() && pos.EntryPrice.IsPositive() {
		fields = append(fields, zap.String("pnl_percent", pos.PnLPercent(price).StringFixed(2)))
	}
	b.l.Info("status", fields...)
}

func (b *TradingBot) stop() {
	b.state = StateStopped
	b.activity.Add(domain.ActivityInfo, "🛑 Trading stopped by user")
	b.publish()

	snap := b.Snapshot()
	b.l.Info("Context done, trading loop stopped",
		zap.String("position", snap.Position.Amount.String()),
		zap.String("position_pnl_percent", snap.PositionPnL.StringFixed(2)),
		zap.String("total_pnl_percent", snap.Portfolio.PnLPercent().StringFixed(2)))

	if b.out != nil {
		fmt.Fprintln(b.out, console.FinalReport(snap, b.pair.From))
	}
}

func (b *TradingBot) price() decimal.Decimal {
	if c, ok := b.buffer.LatestCandle(); ok {
		return c.Close
	}
	return decimal.Zero
}

// publish builds an immutable snapshot of the session and hands it to readers.
func (b *TradingBot) publish() {
	price := b.price()
	pos := *b.position
	portfolio := b.reconciler.Snapshot()

	snap := &domain.SessionSnapshot{
		Timestamp:    b.now(),
		Pair:         b.pair.String(),
		Strategy:     b.strategy,
		State:        b.state,
		Price:        price,
		Position:     pos,
		Portfolio:    portfolio,
		Holdings:     portfolio.Holdings(b.pair, pos, price),
		Signal:       b.signal,
		Candles:      b.buffer.Frame().ChartPoints(chartCandles),
		Transactions: b.executor.Transactions(),
		Activity:     b.activity.Recent(b.conf.ActivityLogShown),
	}
	if pos.IsOpen() {
		snap.PositionPnL = pos.PnLPercent(price)
	}
	if b.perf != nil {
		perf := *b.perf
		snap.Performance = &perf
	}

	b.snapshot.Store(snap)
	if b.broadcaster != nil {
		b.broadcaster.Publish(*snap)
	}
}

// Snapshot returns the most recently published session state.
func (b *TradingBot) Snapshot() domain.SessionSnapshot {
	if s := b.snapshot.Load(); s != nil {
		return *s
	}
	return domain.SessionSnapshot{}
}

// Pair traded by the session.
func (b *TradingBot) Pair() domain.Pair {
	return b.pair
}

// StrategyCard renders the strategy summary for the console.
func (b *TradingBot) StrategyCard() string {
	return console.StrategyCard(b.strategy, b.perf)
}

func met(v bool) string {
	if v {
		return "✅ Met"
	}
	return "❌ Not met"
}
