package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestActivityLog_Bounded(t *testing.T) {
	log := NewActivityLog(zap.NewNop(), 50)
	for i := 0; i < 60; i++ {
		log.Add(domain.ActivityInfo, fmt.Sprintf("entry %d", i))
	}

	assert.Equal(t, 50, log.Len())

	recent := log.Recent(DefaultActivityShown)
	require.Len(t, recent, 15)
	assert.Equal(t, "entry 45", recent[0].Message)
	assert.Equal(t, "entry 59", recent[14].Message)

	all := log.Recent(0)
	require.Len(t, all, 50)
	assert.Equal(t, "entry 10", all[0].Message)
}

func TestActivityLog_RecentReturnsCopy(t *testing.T) {
	log := NewActivityLog(zap.NewNop(), 5)
	log.Add(domain.ActivityTrade, "bought")

	recent := log.Recent(5)
	recent[0].Message = "mutated"

	assert.Equal(t, "bought", log.Recent(1)[0].Message)
}

func TestActivityLog_MirrorsToLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewActivityLog(zap.New(core), 10)
	fixed := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	log.now = func() time.Time { return fixed }

	log.Add(domain.ActivityError, "order failed")
	log.Add(domain.ActivityTrace, "evaluated")
	log.Add(domain.ActivityPortfolio, "portfolio updated")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
	assert.Equal(t, "portfolio", entries[2].ContextMap()["category"])
	assert.Equal(t, "09:30:15", log.Recent(1)[0].Clock())
}

func TestBroadcaster_PublishSubscribe(t *testing.T) {
	b := NewBroadcaster[domain.SessionSnapshot](2)
	ch := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	b.Publish(domain.SessionSnapshot{Pair: "ETH_USDT", State: "running"})
	got := <-ch
	assert.Equal(t, "running", got.State)

	b.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	// second unsubscribe is a no-op
	b.Unsubscribe(ch)
}

func TestBroadcaster_DropsForSlowReader(t *testing.T) {
	b := NewBroadcaster[int](1)
	ch := b.Subscribe()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}
