package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/storage/simstate"
	"go.uber.org/zap"
)

// SimulatedFeeRate taker fee applied to every simulated fill, charged in the quote asset.
var SimulatedFeeRate = decimal.RequireFromString("0.001")

// MarketSource real market data behind the simulated account.
type MarketSource interface {
	GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int, endTime time.Time) ([]domain.MarketCandle, error)
	GetLatestCandle(ctx context.Context, pair domain.Pair, interval string) (domain.MarketCandle, error)
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	GetLotStepSize(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// SimulatedExchange paper trading on real prices with an in-memory wallet.
type SimulatedExchange struct {
	MarketSource

	l          *zap.Logger
	pair       domain.Pair
	stateStore *simstate.Store

	mu        sync.RWMutex
	wallet    map[string]decimal.Decimal
	nextOrder int64
}

// NewSimulatedExchange creates the simulator. The quote leg is seeded with quoteBalance
// unless a previous wallet is restored from the store.
func NewSimulatedExchange(l *zap.Logger, market MarketSource, pair domain.Pair, quoteBalance decimal.Decimal, store *simstate.Store) (*SimulatedExchange, error) {
	if market == nil {
		return nil, errors.New("market source is required for SimulatedExchange")
	}
	if l == nil {
		l = zap.NewNop()
	}

	e := &SimulatedExchange{
		MarketSource: market,
		l:            l,
		pair:         pair,
		stateStore:   store,
		wallet:       map[string]decimal.Decimal{pair.From: decimal.Zero, pair.To: quoteBalance},
		nextOrder:    1,
	}
	if err := e.restoreState(); err != nil {
		l.Warn("failed to restore simulate state", zap.Error(err))
	}

	l.Info("simulate init",
		zap.String("pair", pair.String()),
		zap.String("base", e.wallet[pair.From].String()),
		zap.String("quote", e.wallet[pair.To].String()))

	return e, nil
}

// GetAccountSnapshot returns the simulated free balances.
func (e *SimulatedExchange) GetAccountSnapshot(context.Context) ([]domain.AssetBalance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	balances := make([]domain.AssetBalance, 0, len(e.wallet))
	for asset, free := range e.wallet {
		balances = append(balances, domain.AssetBalance{Asset: asset, Free: free})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Asset < balances[j].Asset })

	return balances, nil
}

// SubmitMarketOrder fills immediately at the current price.
func (e *SimulatedExchange) SubmitMarketOrder(ctx context.Context, pair domain.Pair, side domain.Action,
	quantity decimal.Decimal, clientOrderID string) (domain.OrderResult, error) {
	if pair != e.pair {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderRejected, "simulator trades %s only", e.pair.Symbol())
	}
	if !quantity.IsPositive() {
		return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderRejected, "quantity must be positive, got %s", quantity)
	}

	price, err := e.GetPrice(ctx, pair)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to get price for simulated order")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	notional := quantity.Mul(price)
	fee := notional.Mul(SimulatedFeeRate)

	switch side {
	case domain.ActionBuy:
		cost := notional.Add(fee)
		if e.wallet[pair.To].LessThan(cost) {
			return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderRejected, "insufficient %s balance: have %s need %s",
				pair.To, e.wallet[pair.To], cost)
		}
		e.wallet[pair.To] = e.wallet[pair.To].Sub(cost)
		e.wallet[pair.From] = e.wallet[pair.From].Add(quantity)
	case domain.ActionSell:
		if e.wallet[pair.From].LessThan(quantity) {
			return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderRejected, "insufficient %s balance: have %s need %s",
				pair.From, e.wallet[pair.From], quantity)
		}
		e.wallet[pair.From] = e.wallet[pair.From].Sub(quantity)
		e.wallet[pair.To] = e.wallet[pair.To].Add(notional.Sub(fee))
	default:
		return domain.OrderResult{}, errors.Wrapf(domain.ErrUnknownAction, "%d", side)
	}

	orderID := fmt.Sprintf("sim-%d", e.nextOrder)
	e.nextOrder++
	e.persist()

	e.l.Info("Simulated order executed",
		zap.String("id", orderID),
		zap.String("client_order_id", clientOrderID),
		zap.String("side", side.String()),
		zap.String("amount", quantity.String()),
		zap.String("price", price.String()),
		zap.String("fee", fee.String()))

	return domain.OrderResult{
		OrderID:          orderID,
		ClientOrderID:    clientOrderID,
		ExecutedQuantity: quantity,
		QuoteQuantity:    notional,
		Status:           "FILLED",
	}, nil
}

// Balance returns the simulated free balance of an asset.
func (e *SimulatedExchange) Balance(asset string) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.wallet[asset]
}

func (e *SimulatedExchange) restoreState() error {
	if e.stateStore == nil {
		return nil
	}
	state, err := e.stateStore.Load()
	if err != nil || state == nil {
		return err
	}

	balances, err := state.Balances()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for asset, balance := range balances {
		e.wallet[asset] = balance
	}
	if state.NextOrder > e.nextOrder {
		e.nextOrder = state.NextOrder
	}

	return nil
}

// persist must be called with e.mu held.
func (e *SimulatedExchange) persist() {
	if e.stateStore == nil {
		return
	}
	if err := e.stateStore.Save(simstate.NewState(e.pair, e.wallet, e.nextOrder)); err != nil {
		e.l.Warn("failed to persist simulate state", zap.Error(err))
	}
}
