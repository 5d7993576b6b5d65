package internal

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/config"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/events"
	"github.com/vadiminshakov/ruletrader/internal/services/exchange"
	"github.com/vadiminshakov/ruletrader/internal/storage/portfolio"
	"github.com/vadiminshakov/ruletrader/internal/storage/transactions"
	"go.uber.org/zap"
)

var (
	testPair = domain.Pair{From: "ETH", To: "USDT"}
	origin   = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

// fakeMarket hourly candles served from memory.
type fakeMarket struct {
	mu      sync.Mutex
	candles []domain.MarketCandle
}

func newFakeMarket(n int, closePrice int64) *fakeMarket {
	m := &fakeMarket{}
	for i := 0; i < n; i++ {
		m.add(closePrice)
	}
	return m
}

func (m *fakeMarket) add(closePrice int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.candles)
	price := decimal.NewFromInt(closePrice)
	m.candles = append(m.candles, domain.MarketCandle{
		OpenTime:  origin.Add(time.Duration(i) * time.Hour),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    decimal.NewFromInt(10),
		CloseTime: origin.Add(time.Duration(i+1)*time.Hour - time.Millisecond),
	})
}

func (m *fakeMarket) GetCandles(_ context.Context, _ domain.Pair, _ string, limit int, endTime time.Time) ([]domain.MarketCandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.MarketCandle
	for _, c := range m.candles {
		if endTime.IsZero() || !c.OpenTime.After(endTime) {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *fakeMarket) GetLatestCandle(context.Context, domain.Pair, string) (domain.MarketCandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candles[len(m.candles)-1], nil
}

func (m *fakeMarket) GetPrice(context.Context, domain.Pair) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candles[len(m.candles)-1].Close, nil
}

func (m *fakeMarket) GetLotStepSize(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.001"), nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func testArtifact() *domain.StrategyArtifact {
	return &domain.StrategyArtifact{
		Strategy: &domain.Strategy{
			ID:         "breakout-100",
			CoinSymbol: "ETHUSDT",
			Timeframe:  "1h",
			EntryRules: "df['close'] >= 100",
			ExitRules:  "False",
			StopLoss:   decimal.NewFromInt(3),
			TakeProfit: decimal.NewFromInt(8),
			Allocation: decimal.NewFromInt(25),
		},
		Performance: &domain.Performance{WinRate: 55, TotalReturn: 12.5, SharpeRatio: 1.4},
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Mode = config.ModeSimulate
	return cfg
}

func newSimulated(t *testing.T, market *fakeMarket) *exchange.SimulatedExchange {
	t.Helper()
	ex, err := exchange.NewSimulatedExchange(zap.NewNop(), market, testPair, decimal.NewFromInt(1000), nil)
	require.NoError(t, err)
	return ex
}

func TestTradingBot_EntryThenTakeProfit(t *testing.T) {
	market := newFakeMarket(50, 90)
	ex := newSimulated(t, market)

	txStore, err := transactions.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer txStore.Close()
	pfStore, err := portfolio.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer pfStore.Close()

	notifier := &recordingNotifier{}
	broadcaster := events.NewBroadcaster[domain.SessionSnapshot](16)
	updates := broadcaster.Subscribe()

	bot, err := NewTradingBot(zap.NewNop(), testConfig(), testArtifact(), ex,
		WithNotifier(notifier),
		WithTransactionStore(txStore),
		WithPortfolioStore(pfStore),
		WithBroadcaster(broadcaster))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bot.Initialize(ctx))

	snap := bot.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, "ETH_USDT", snap.Pair)
	assert.True(t, snap.Portfolio.QuoteBalance.Equal(decimal.NewFromInt(1000)))
	assert.Len(t, snap.Candles, 50)
	require.NotEmpty(t, updates)

	// nothing new: no trade
	bot.tick(ctx)
	assert.Empty(t, bot.Snapshot().Transactions)

	market.add(100)
	bot.tick(ctx)

	snap = bot.Snapshot()
	require.Len(t, snap.Transactions, 1)
	buy := snap.Transactions[0]
	assert.Equal(t, domain.ActionBuy, buy.Side)
	assert.Equal(t, "2.475", buy.Quantity.String())
	assert.True(t, buy.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, snap.Signal.Entry)
	assert.Equal(t, "2.475", snap.Position.Amount.String())
	assert.True(t, snap.Position.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "752.2525", ex.Balance("USDT").String())

	// inside the stop band and no exit signal
	market.add(104)
	bot.tick(ctx)
	assert.Len(t, bot.Snapshot().Transactions, 1)

	market.add(108)
	bot.tick(ctx)

	snap = bot.Snapshot()
	require.Len(t, snap.Transactions, 2)
	sell := snap.Transactions[1]
	assert.Equal(t, domain.ActionSell, sell.Side)
	assert.Equal(t, "2.475", sell.Quantity.String())
	require.True(t, sell.PnLPercent.Valid)
	assert.Equal(t, "8.00", sell.PnLPercent.Decimal.StringFixed(2))
	assert.True(t, snap.Position.IsFlat())
	assert.True(t, snap.Position.EntryPrice.IsZero())
	assert.Equal(t, "1019.2852", ex.Balance("USDT").String())

	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[0], "BUY ORDER EXECUTED")
	assert.Contains(t, notifier.messages[1], "SELL ORDER EXECUTED")

	persisted, err := txStore.Recent(10)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	records, err := pfStore.After(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(records), 3)
}

func TestTradingBot_HistorySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	txStore, err := transactions.NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, txStore.Save(domain.Transaction{
		Timestamp: origin,
		Symbol:    "ETH",
		Side:      domain.ActionBuy,
		Quantity:  decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(90),
		Value:     decimal.NewFromInt(90),
		OrderID:   "sim-1",
	}))
	defer txStore.Close()

	bot, err := NewTradingBot(zap.NewNop(), testConfig(), testArtifact(), newSimulated(t, newFakeMarket(5, 90)),
		WithTransactionStore(txStore))
	require.NoError(t, err)

	txs := bot.Snapshot().Transactions
	require.Len(t, txs, 1)
	assert.Equal(t, "sim-1", txs[0].OrderID)
}

func TestTradingBot_EvaluationErrorIsSafe(t *testing.T) {
	market := newFakeMarket(20, 90)
	artifact := testArtifact()
	artifact.Strategy.EntryRules = "df['missing'] > 1"

	activity := events.NewActivityLog(zap.NewNop(), 50)
	bot, err := NewTradingBot(zap.NewNop(), testConfig(), artifact, newSimulated(t, market), WithActivityLog(activity))
	require.NoError(t, err)
	require.NoError(t, bot.Initialize(context.Background()))

	market.add(120)
	bot.tick(context.Background())

	snap := bot.Snapshot()
	assert.Empty(t, snap.Transactions)
	assert.False(t, snap.Signal.Entry)
	assert.False(t, snap.Signal.Exit)

	var errorsLogged int
	for _, e := range activity.Recent(0) {
		if e.Category == domain.ActivityError {
			errorsLogged++
		}
	}
	assert.Positive(t, errorsLogged)
}

func TestTradingBot_GapIsReported(t *testing.T) {
	market := newFakeMarket(10, 90)
	activity := events.NewActivityLog(zap.NewNop(), 50)
	bot, err := NewTradingBot(zap.NewNop(), testConfig(), testArtifact(), newSimulated(t, market), WithActivityLog(activity))
	require.NoError(t, err)
	require.NoError(t, bot.Initialize(context.Background()))

	// skip one bar
	market.add(90)
	market.add(90)
	market.mu.Lock()
	market.candles = append(market.candles[:10], market.candles[11])
	market.mu.Unlock()

	bot.tick(context.Background())

	var found bool
	for _, e := range activity.Recent(0) {
		if e.Category == domain.ActivityError {
			assert.Contains(t, e.Message, "Missing candles")
			found = true
		}
	}
	assert.True(t, found)
	assert.Len(t, bot.Snapshot().Candles, 11)
}

func TestTradingBot_InitializeWithoutData(t *testing.T) {
	market := &fakeMarket{}
	bot, err := NewTradingBot(zap.NewNop(), testConfig(), testArtifact(), newSimulated(t, market))
	require.NoError(t, err)

	err = bot.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestTradingBot_RunStopsOnCancel(t *testing.T) {
	var out bytes.Buffer
	bot, err := NewTradingBot(zap.NewNop(), testConfig(), testArtifact(), newSimulated(t, newFakeMarket(10, 90)),
		WithReportOutput(&out))
	require.NoError(t, err)
	require.NoError(t, bot.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, bot.Run(ctx))
	assert.Equal(t, StateStopped, bot.Snapshot().State)
	assert.Contains(t, out.String(), "Trading stopped")
	assert.Contains(t, out.String(), "Trades")
}

func TestNewTradingBot_RejectsBadSymbol(t *testing.T) {
	artifact := testArtifact()
	artifact.Strategy.CoinSymbol = "ETHBTC"

	_, err := NewTradingBot(zap.NewNop(), testConfig(), artifact, newSimulated(t, newFakeMarket(1, 90)))
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)
}
