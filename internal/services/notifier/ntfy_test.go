package notifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/pkg/retrier"
	"go.uber.org/zap"
)

func TestNtfy_Notify(t *testing.T) {
	var (
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNtfy(zap.NewNop(), srv.URL+"/", "ruletrader-alerts")
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "🟢 BUY ORDER EXECUTED!"))
	assert.Equal(t, "/ruletrader-alerts", path)
	assert.Equal(t, "🚀 🟢 BUY ORDER EXECUTED!", body)
}

func TestNtfy_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n, err := NewNtfy(zap.NewNop(), srv.URL, "topic",
		WithRetrier(retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(0))))
	require.NoError(t, err)

	err = n.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(3), calls.Load())
}

func TestNtfy_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden topic", http.StatusForbidden)
	}))
	defer srv.Close()

	n, err := NewNtfy(zap.NewNop(), srv.URL, "topic",
		WithRetrier(retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(0))))
	require.NoError(t, err)

	err = n.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNtfy_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNtfy(zap.NewNop(), srv.URL, "topic",
		WithRetrier(retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(0))))
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewNtfy_RequiresTopic(t *testing.T) {
	_, err := NewNtfy(zap.NewNop(), "", " ")
	assert.Error(t, err)
}

func TestNop_Notify(t *testing.T) {
	assert.NoError(t, NewNop(nil).Notify(context.Background(), "ignored"))
}
