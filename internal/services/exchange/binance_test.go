package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
)

var ethPair = domain.Pair{From: "ETH", To: "USDT"}

func newTestBinance(t *testing.T, handler http.HandlerFunc) *BinanceExchange {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := binance.NewClient("key", "secret")
	client.BaseURL = srv.URL

	e, err := NewBinanceExchange(zap.NewNop(), client, client)
	require.NoError(t, err)
	return e
}

func klineRow(open time.Time, closePrice string) string {
	closeTime := open.Add(time.Hour).Add(-time.Millisecond)
	return fmt.Sprintf(`[%d,"100","110","90",%q,"12.5",%d,"1250",10,"6","600","0"]`,
		open.UnixMilli(), closePrice, closeTime.UnixMilli())
}

func TestBinanceExchange_GetCandlesDropsFormingKline(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var gotQuery string
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = r.URL.RawQuery
		fmt.Fprintf(w, "[%s,%s,%s]", klineRow(base, "101"), klineRow(base.Add(time.Hour), "102"), klineRow(base.Add(2*time.Hour), "103"))
	})
	e.now = func() time.Time { return base.Add(150 * time.Minute) }

	candles, err := e.GetCandles(context.Background(), ethPair, "1h", 3, base.Add(3*time.Hour))
	require.NoError(t, err)

	require.Len(t, candles, 2)
	assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(101)))
	assert.True(t, candles[1].Close.Equal(decimal.NewFromInt(102)))
	assert.Equal(t, base.Add(time.Hour), candles[1].OpenTime)
	assert.True(t, candles[1].Volume.Equal(decimal.RequireFromString("12.5")))
	assert.Contains(t, gotQuery, "symbol=ETHUSDT")
	assert.Contains(t, gotQuery, "interval=1h")
	assert.Contains(t, gotQuery, fmt.Sprintf("endTime=%d", base.Add(3*time.Hour).UnixMilli()))
}

func TestBinanceExchange_GetLatestCandle(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s,%s]", klineRow(base, "101"), klineRow(base.Add(time.Hour), "102"))
	})
	e.now = func() time.Time { return base.Add(90 * time.Minute) }

	candle, err := e.GetLatestCandle(context.Background(), ethPair, "1h")
	require.NoError(t, err)
	assert.True(t, candle.Close.Equal(decimal.NewFromInt(101)))
	assert.Equal(t, base, candle.OpenTime)
}

func TestBinanceExchange_GetPrice(t *testing.T) {
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		fmt.Fprint(w, `{"symbol":"ETHUSDT","price":"2500.10"}`)
	})

	price, err := e.GetPrice(context.Background(), ethPair)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2500.10")))
}

func TestBinanceExchange_GetAccountSnapshotSkipsEmpty(t *testing.T) {
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		fmt.Fprint(w, `{"balances":[
			{"asset":"USDT","free":"1000.5","locked":"0"},
			{"asset":"ETH","free":"0.00000000","locked":"0"},
			{"asset":"BNB","free":"0.1","locked":"0"}]}`)
	})

	balances, err := e.GetAccountSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "USDT", balances[0].Asset)
	assert.True(t, balances[0].Free.Equal(decimal.RequireFromString("1000.5")))
	assert.Equal(t, "BNB", balances[1].Asset)
}

func TestBinanceExchange_GetLotStepSize(t *testing.T) {
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		fmt.Fprint(w, `{"symbols":[{"symbol":"ETHUSDT","status":"TRADING","baseAsset":"ETH","quoteAsset":"USDT",
			"filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},
				{"filterType":"LOT_SIZE","minQty":"0.0001","maxQty":"9000","stepSize":"0.0001"}]}]}`)
	})

	step, err := e.GetLotStepSize(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, step.Equal(decimal.RequireFromString("0.0001")))

	_, err = e.GetLotStepSize(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
	assert.False(t, domain.IsTransient(err))
}

func TestBinanceExchange_SubmitMarketOrder(t *testing.T) {
	var form string
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		form = r.Form.Encode()
		fmt.Fprint(w, `{"symbol":"ETHUSDT","orderId":123456,"clientOrderId":"cid-1","transactTime":1700000000000,
			"price":"0","origQty":"2.475","executedQty":"2.475","cummulativeQuoteQty":"247.5",
			"status":"FILLED","timeInForce":"GTC","type":"MARKET","side":"BUY"}`)
	})

	res, err := e.SubmitMarketOrder(context.Background(), ethPair, domain.ActionBuy, decimal.RequireFromString("2.475"), "cid-1")
	require.NoError(t, err)

	assert.Equal(t, "123456", res.OrderID)
	assert.Equal(t, "cid-1", res.ClientOrderID)
	assert.Equal(t, "FILLED", res.Status)
	assert.True(t, res.ExecutedQuantity.Equal(decimal.RequireFromString("2.475")))
	assert.True(t, res.QuoteQuantity.Equal(decimal.RequireFromString("247.5")))
	assert.Contains(t, form, "side=BUY")
	assert.Contains(t, form, "type=MARKET")
	assert.Contains(t, form, "quantity=2.475")
	assert.Contains(t, form, "newClientOrderId=cid-1")
}

func TestBinanceExchange_SubmitMarketOrderRejected(t *testing.T) {
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	})

	_, err := e.SubmitMarketOrder(context.Background(), ethPair, domain.ActionSell, decimal.NewFromInt(1), "cid-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
	assert.Contains(t, err.Error(), "-2010")
}

func TestBinanceExchange_SubmitUnknownSide(t *testing.T) {
	e := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := e.SubmitMarketOrder(context.Background(), ethPair, domain.Action(7), decimal.NewFromInt(1), "cid")
	assert.True(t, errors.Is(err, domain.ErrUnknownAction))
}

func TestDropOpenCandle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	closed := domain.MarketCandle{CloseTime: now.Add(-time.Minute)}
	forming := domain.MarketCandle{CloseTime: now.Add(time.Minute)}

	assert.Len(t, dropOpenCandle([]domain.MarketCandle{closed, forming}, now), 1)
	assert.Len(t, dropOpenCandle([]domain.MarketCandle{closed, closed}, now), 2)
	assert.Empty(t, dropOpenCandle(nil, now))
}
