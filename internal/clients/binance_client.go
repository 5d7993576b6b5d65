package clients

import (
	"github.com/adshao/go-binance/v2"
)

// TestnetBaseURL spot testnet REST endpoint.
const TestnetBaseURL = "https://testnet.binance.vision"

// NewBinanceClient creates a mainnet client. Empty keys are enough for public market data.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)
	return client
}

// NewBinanceTestnetClient creates a client bound to the spot testnet.
// The base URL is set per client so mainnet and testnet clients can coexist.
func NewBinanceTestnetClient(apiKey, apiSecret string) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)
	client.BaseURL = TestnetBaseURL
	return client
}
