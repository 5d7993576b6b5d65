package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferCapacity(t *testing.T) {
	tests := []struct {
		interval string
		capacity int
	}{
		{"1m", 60480},
		{"15m", 4032},
		{"1h", 1008},
		{"4h", 252},
		{"1d", 42},
		{"1w", 6},
		{"7m", 1008},
	}

	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			assert.Equal(t, tt.capacity, BufferCapacity(tt.interval))
		})
	}
}

func TestIntervalDuration(t *testing.T) {
	assert.Equal(t, 4*time.Hour, IntervalDuration("4h"))
	assert.Equal(t, time.Hour, IntervalDuration("unknown"))
	assert.True(t, IsKnownInterval("3d"))
	assert.False(t, IsKnownInterval("2w"))
}

func TestPairFromSymbol(t *testing.T) {
	pair, err := PairFromSymbol("ethusdt", "USDT")
	require.NoError(t, err)
	assert.Equal(t, Pair{From: "ETH", To: "USDT"}, pair)
	assert.Equal(t, "ETHUSDT", pair.Symbol())
	assert.Equal(t, "ETH_USDT", pair.String())

	pair, err = PairFromSymbol("BTC_USDT", "USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", pair.From)

	_, err = PairFromSymbol("USDT", "USDT")
	assert.Error(t, err)

	_, err = PairFromSymbol("ETHBTC", "USDT")
	assert.Error(t, err)
}
