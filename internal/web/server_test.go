package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"github.com/vadiminshakov/ruletrader/internal/events"
	"go.uber.org/zap"
)

type staticSession struct {
	snap domain.SessionSnapshot
}

func (s staticSession) Snapshot() domain.SessionSnapshot { return s.snap }

type memPortfolio struct {
	records []domain.PortfolioSnapshotRecord
}

func (m *memPortfolio) After(index uint64) ([]domain.PortfolioSnapshotRecord, error) {
	var out []domain.PortfolioSnapshotRecord
	for _, r := range m.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func testSession() staticSession {
	return staticSession{snap: domain.SessionSnapshot{
		Pair:  "ETH_USDT",
		State: "polling",
		Price: decimal.NewFromInt(2500),
		Position: domain.Position{
			Amount:     decimal.RequireFromString("0.5"),
			EntryPrice: decimal.NewFromInt(2400),
		},
		Signal: domain.Signal{Entry: true},
	}}
}

// readEvent returns the event name and data of the next SSE event.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			return event, data
		}
	}
}

func openStream(t *testing.T, ctx context.Context, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return resp
}

func TestServer_Index(t *testing.T) {
	srv := httptest.NewServer(NewServer(zap.NewNop(), "", testSession(), nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ruletrader")

	missing, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestServer_State(t *testing.T) {
	srv := httptest.NewServer(NewServer(zap.NewNop(), "", testSession(), nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ETH_USDT", got["pair"])
	assert.Equal(t, "2500", got["price"])
	assert.Equal(t, "polling", got["state"])
	assert.Equal(t, map[string]any{"entry": true, "exit": false}, got["signal"])
}

func TestServer_StateStream(t *testing.T) {
	feed := events.NewBroadcaster[domain.SessionSnapshot](4)
	srv := httptest.NewServer(NewServer(zap.NewNop(), "", testSession(), feed, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv.URL+"/state/stream")
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	event, data := readEvent(t, reader)
	assert.Equal(t, "state", event)
	assert.Contains(t, data, `"pair":"ETH_USDT"`)

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	feed.Publish(domain.SessionSnapshot{Pair: "ETH_USDT", State: "stopped"})

	event, data = readEvent(t, reader)
	assert.Equal(t, "state", event)
	assert.Contains(t, data, `"state":"stopped"`)

	cancel()
	require.Eventually(t, func() bool { return feed.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_PortfolioStream(t *testing.T) {
	store := &memPortfolio{records: []domain.PortfolioSnapshotRecord{
		{Index: 1, Snapshot: domain.PortfolioSnapshot{Pair: "ETH_USDT", TotalValue: decimal.NewFromInt(1000)}},
		{Index: 2, Snapshot: domain.PortfolioSnapshot{Pair: "ETH_USDT", TotalValue: decimal.NewFromInt(1010)}},
	}}
	srv := httptest.NewServer(NewServer(zap.NewNop(), "", testSession(), nil, store).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv.URL+"/portfolio/stream")
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	event, data := readEvent(t, reader)
	assert.Equal(t, "portfolio", event)
	assert.Contains(t, data, `"total_value":"1000"`)

	_, data = readEvent(t, reader)
	assert.Contains(t, data, `"total_value":"1010"`)
}

func TestServer_PortfolioStreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(NewServer(zap.NewNop(), "", testSession(), nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/portfolio/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(zap.NewNop(), "127.0.0.1:0", testSession(), nil, nil).Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
