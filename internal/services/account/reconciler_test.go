package account

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
)

type mockAccount struct {
	mock.Mock
}

func (m *mockAccount) GetAccountSnapshot(ctx context.Context) ([]domain.AssetBalance, error) {
	args := m.Called(ctx)
	balances, _ := args.Get(0).([]domain.AssetBalance)
	return balances, args.Error(1)
}

type fixedCandle struct {
	close decimal.Decimal
}

func (c fixedCandle) LatestCandle() (domain.MarketCandle, bool) {
	if c.close.IsZero() {
		return domain.MarketCandle{}, false
	}
	return domain.MarketCandle{Close: c.close}, true
}

type recordedSnapshots struct {
	saved []domain.PortfolioSnapshot
}

func (r *recordedSnapshots) Save(s domain.PortfolioSnapshot) error {
	r.saved = append(r.saved, s)
	return nil
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

var pair = domain.Pair{From: "ETH", To: "USDT"}

func balances(quote, base string) []domain.AssetBalance {
	return []domain.AssetBalance{
		{Asset: "BNB", Free: decimal.RequireFromString("3")},
		{Asset: "USDT", Free: decimal.RequireFromString(quote)},
		{Asset: "ETH", Free: decimal.RequireFromString(base)},
	}
}

func newTestReconciler(t *testing.T, account accountService, price string, position *domain.Position, opts ...Option) *Reconciler {
	t.Helper()
	r, err := NewReconciler(zap.NewNop(), account, fixedCandle{close: decimal.RequireFromString(price)}, pair, position, opts...)
	require.NoError(t, err)
	return r
}

func TestReconciler_ComputesSnapshot(t *testing.T) {
	account := &mockAccount{}
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("1000", "0.5"), nil).Once()

	recorder := &recordedSnapshots{}
	position := &domain.Position{}
	r := newTestReconciler(t, account, "200", position, WithRecorder(recorder))

	require.NoError(t, r.ForceRefresh(context.Background()))

	s := r.Snapshot()
	assert.True(t, s.QuoteBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, s.BaseBalance.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, s.BaseValue.Equal(decimal.NewFromInt(100)))
	assert.True(t, s.TotalValue.Equal(decimal.NewFromInt(1100)))
	assert.True(t, s.InitialValue.Equal(decimal.NewFromInt(1100)))
	assert.Equal(t, "ETH_USDT", s.Pair)
	require.Len(t, recorder.saved, 1)

	// adopted position gets the latest close as entry price
	assert.True(t, position.Amount.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, position.EntryPrice.Equal(decimal.NewFromInt(200)))
	account.AssertExpectations(t)
}

func TestReconciler_NoPriceYet(t *testing.T) {
	account := &mockAccount{}
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("1000", "2"), nil).Once()

	r := newTestReconciler(t, account, "0", &domain.Position{})
	require.NoError(t, r.ForceRefresh(context.Background()))

	s := r.Snapshot()
	assert.True(t, s.BaseValue.IsZero())
	assert.True(t, s.TotalValue.Equal(decimal.NewFromInt(1000)))
}

func TestReconciler_RefreshIfStaleHonoursCooldown(t *testing.T) {
	account := &mockAccount{}
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("1000", "0"), nil).Twice()

	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := newTestReconciler(t, account, "100", &domain.Position{}, WithClock(c.now))

	ctx := context.Background()
	fetched, err := r.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.True(t, fetched)

	c.t = c.t.Add(10 * time.Second)
	fetched, err = r.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.False(t, fetched)
	account.AssertNumberOfCalls(t, "GetAccountSnapshot", 1)

	c.t = c.t.Add(DefaultCooldown)
	fetched, err = r.RefreshIfStale(ctx)
	require.NoError(t, err)
	assert.True(t, fetched)
	account.AssertNumberOfCalls(t, "GetAccountSnapshot", 2)
}

func TestReconciler_InitialValueSetOnce(t *testing.T) {
	account := &mockAccount{}
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("1000", "0"), nil).Once()
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("750", "3"), nil).Once()
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("0", "0"), nil)

	r := newTestReconciler(t, account, "100", &domain.Position{})
	ctx := context.Background()

	require.NoError(t, r.ForceRefresh(ctx))
	assert.True(t, r.Snapshot().InitialValue.Equal(decimal.NewFromInt(1000)))

	require.NoError(t, r.ForceRefresh(ctx))
	assert.True(t, r.Snapshot().TotalValue.Equal(decimal.NewFromInt(1050)))
	assert.True(t, r.Snapshot().InitialValue.Equal(decimal.NewFromInt(1000)))

	for i := 0; i < 5; i++ {
		require.NoError(t, r.ForceRefresh(ctx))
		assert.True(t, r.Snapshot().TotalValue.IsZero())
		assert.True(t, r.Snapshot().InitialValue.Equal(decimal.NewFromInt(1000)))
	}
	assert.True(t, r.Snapshot().PnLPercent().Equal(decimal.NewFromInt(-100)))
}

func TestReconciler_CorrectsPositionDrift(t *testing.T) {
	account := &mockAccount{}
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("10", "2.4"), nil).Once()
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("250", "0"), nil).Once()

	position := &domain.Position{
		Amount:     decimal.RequireFromString("2.475"),
		EntryPrice: decimal.NewFromInt(100),
	}
	r := newTestReconciler(t, account, "104", position)
	ctx := context.Background()

	require.NoError(t, r.ForceRefresh(ctx))
	assert.True(t, position.Amount.Equal(decimal.RequireFromString("2.4")))
	// entry price survives an amount correction
	assert.True(t, position.EntryPrice.Equal(decimal.NewFromInt(100)))

	require.NoError(t, r.ForceRefresh(ctx))
	assert.True(t, position.IsFlat())
	assert.True(t, position.EntryPrice.IsZero())
}

func TestReconciler_ErrorKeepsCachedState(t *testing.T) {
	account := &mockAccount{}
	account.On("GetAccountSnapshot", mock.Anything).Return(balances("1000", "1"), nil).Once()
	account.On("GetAccountSnapshot", mock.Anything).Return(nil, errors.New("timestamp outside recvWindow"))

	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	position := &domain.Position{}
	r := newTestReconciler(t, account, "100", position, WithClock(c.now))
	ctx := context.Background()

	require.NoError(t, r.ForceRefresh(ctx))
	before := r.Snapshot()
	positionBefore := *position

	c.t = c.t.Add(time.Hour)
	fetched, err := r.RefreshIfStale(ctx)
	assert.True(t, fetched)
	require.Error(t, err)

	assert.Equal(t, before, r.Snapshot())
	assert.Equal(t, positionBefore, *position)

	// a failed refresh does not start a new cooldown
	fetched, _ = r.RefreshIfStale(ctx)
	assert.True(t, fetched)
}

func TestNewReconciler_RequiresCollaborators(t *testing.T) {
	_, err := NewReconciler(zap.NewNop(), nil, fixedCandle{}, pair, &domain.Position{})
	assert.Error(t, err)
	_, err = NewReconciler(zap.NewNop(), &mockAccount{}, nil, pair, &domain.Position{})
	assert.Error(t, err)
	_, err = NewReconciler(zap.NewNop(), &mockAccount{}, fixedCandle{}, pair, nil)
	assert.Error(t, err)
}
