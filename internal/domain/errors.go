package domain

import "github.com/pkg/errors"

var (
	// ErrDataUnavailable no historical candles could be fetched during backfill.
	ErrDataUnavailable = errors.New("no historical market data available")
	// ErrOrderRejected the exchange declined the order.
	ErrOrderRejected = errors.New("order rejected")
	// ErrInvalidStrategy strategy artifact is missing or malformed.
	ErrInvalidStrategy = errors.New("invalid strategy artifact")
	// ErrBufferNotReady candle buffer is not initialized yet.
	ErrBufferNotReady = errors.New("candle buffer is not ready")
	// ErrStaleCandle candle is not newer than the latest buffered one.
	ErrStaleCandle = errors.New("candle is not newer than the latest buffered candle")
	// ErrUnknownAction unsupported order side.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownSymbol the venue does not list the symbol or its lot size.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// IsTransient reports whether repeating the call that failed with err may succeed.
// Rejected orders and bad input never become valid by retrying.
func IsTransient(err error) bool {
	for _, permanent := range []error{ErrOrderRejected, ErrInvalidStrategy, ErrUnknownAction, ErrUnknownSymbol} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}
