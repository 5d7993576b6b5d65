// Package exchange adapts exchange clients to the calls the trading loop issues.
package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
)

// BinanceExchange reads market data from one client and trades through another,
// so candles can come from mainnet while orders go to the testnet.
type BinanceExchange struct {
	l       *zap.Logger
	data    *binance.Client
	trading *binance.Client
	now     func() time.Time
}

// NewBinanceExchange creates the adapter. data serves klines and prices, trading serves account and orders.
func NewBinanceExchange(l *zap.Logger, data, trading *binance.Client) (*BinanceExchange, error) {
	if data == nil || trading == nil {
		return nil, errors.New("binance data and trading clients are required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &BinanceExchange{l: l, data: data, trading: trading, now: time.Now}, nil
}

// SyncTime aligns request timestamps of the trading client with the exchange clock.
func (e *BinanceExchange) SyncTime(ctx context.Context) error {
	offset, err := e.trading.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return errors.Wrap(err, "sync binance server time")
	}
	e.l.Info("binance server time synced", zap.Int64("offset_ms", offset))
	return nil
}

// GetCandles returns up to limit closed candles ending at endTime, oldest first.
// A zero endTime fetches the most recent ones.
func (e *BinanceExchange) GetCandles(ctx context.Context, pair domain.Pair, interval string, limit int, endTime time.Time) ([]domain.MarketCandle, error) {
	svc := e.data.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		Limit(limit)
	if !endTime.IsZero() {
		svc = svc.EndTime(endTime.UnixMilli())
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair.String())
	}

	candles, err := klinesToCandles(klines)
	if err != nil {
		return nil, err
	}

	return dropOpenCandle(candles, e.now()), nil
}

// GetLatestCandle returns the most recent closed candle.
func (e *BinanceExchange) GetLatestCandle(ctx context.Context, pair domain.Pair, interval string) (domain.MarketCandle, error) {
	candles, err := e.GetCandles(ctx, pair, interval, 2, time.Time{})
	if err != nil {
		return domain.MarketCandle{}, err
	}
	if len(candles) == 0 {
		return domain.MarketCandle{}, errors.Errorf("binance returned no closed klines for %s", pair.String())
	}
	return candles[len(candles)-1], nil
}

// GetPrice returns the last traded price.
func (e *BinanceExchange) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	prices, err := e.data.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch price for %s", pair.String())
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Errorf("binance API returned empty prices for %s", pair.String())
	}

	return decimal.NewFromString(prices[0].Price)
}

// GetAccountSnapshot returns free balances of every asset on the trading account.
func (e *BinanceExchange) GetAccountSnapshot(ctx context.Context) ([]domain.AssetBalance, error) {
	account, err := e.trading.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get binance account")
	}

	balances := make([]domain.AssetBalance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s balance", b.Asset)
		}
		if free.IsZero() {
			continue
		}
		balances = append(balances, domain.AssetBalance{Asset: b.Asset, Free: free})
	}

	return balances, nil
}

// GetLotStepSize returns the LOT_SIZE step of the symbol on the trading venue.
func (e *BinanceExchange) GetLotStepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	info, err := e.trading.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch exchange info for %s", symbol)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filter := s.LotSizeFilter()
		if filter == nil {
			return decimal.Zero, errors.Wrapf(domain.ErrUnknownSymbol, "no LOT_SIZE filter for %s", symbol)
		}
		step, err := decimal.NewFromString(filter.StepSize)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "failed to parse step size %q", filter.StepSize)
		}
		return step, nil
	}

	return decimal.Zero, errors.Wrapf(domain.ErrUnknownSymbol, "%s not found in exchange info", symbol)
}

// SubmitMarketOrder places a spot market order. Exchange API errors are wrapped with domain.ErrOrderRejected.
func (e *BinanceExchange) SubmitMarketOrder(ctx context.Context, pair domain.Pair, side domain.Action,
	quantity decimal.Decimal, clientOrderID string) (domain.OrderResult, error) {
	var sideType binance.SideType
	switch side {
	case domain.ActionBuy:
		sideType = binance.SideTypeBuy
	case domain.ActionSell:
		sideType = binance.SideTypeSell
	default:
		return domain.OrderResult{}, errors.Wrapf(domain.ErrUnknownAction, "%d", side)
	}

	resp, err := e.trading.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(sideType).Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return domain.OrderResult{}, errors.Wrapf(domain.ErrOrderRejected, "binance %d: %s", apiErr.Code, apiErr.Message)
		}
		return domain.OrderResult{}, errors.Wrap(err, "failed to submit binance order")
	}

	result := domain.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        string(resp.Status),
	}
	if executed, err := decimal.NewFromString(resp.ExecutedQuantity); err == nil {
		result.ExecutedQuantity = executed
	}
	if quote, err := decimal.NewFromString(resp.CummulativeQuoteQuantity); err == nil {
		result.QuoteQuantity = quote
	}

	return result, nil
}

func klinesToCandles(klines []*binance.Kline) ([]domain.MarketCandle, error) {
	result := make([]domain.MarketCandle, 0, len(klines))
	for i, k := range klines {
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse open price at index %d", i)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse high price at index %d", i)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse low price at index %d", i)
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price at index %d", i)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse volume at index %d", i)
		}

		result = append(result, domain.MarketCandle{
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		})
	}

	return result, nil
}

// dropOpenCandle removes the trailing candle that is still forming at now.
func dropOpenCandle(candles []domain.MarketCandle, now time.Time) []domain.MarketCandle {
	if n := len(candles); n > 0 && candles[n-1].CloseTime.After(now) {
		return candles[:n-1]
	}
	return candles
}
