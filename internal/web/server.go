// Package web serves the read-only session dashboard.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/internal/domain"
	"go.uber.org/zap"
)

const (
	snapshotPollInterval = 2 * time.Second
	heartbeatInterval    = 30 * time.Second
	shutdownTimeout      = 5 * time.Second
)

type sessionSource interface {
	Snapshot() domain.SessionSnapshot
}

type sessionFeed interface {
	Subscribe() chan domain.SessionSnapshot
	Unsubscribe(ch chan domain.SessionSnapshot)
}

type portfolioReader interface {
	After(index uint64) ([]domain.PortfolioSnapshotRecord, error)
}

// Server exposes the dashboard, a JSON state endpoint and SSE streams.
// It only reads published snapshots and never touches the trading loop.
type Server struct {
	l         *zap.Logger
	addr      string
	session   sessionSource
	feed      sessionFeed
	portfolio portfolioReader
}

// NewServer creates a new web server instance. feed and portfolio are optional.
func NewServer(l *zap.Logger, addr string, session sessionSource, feed sessionFeed, portfolio portfolioReader) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		l:         l,
		addr:      addr,
		session:   session,
		feed:      feed,
		portfolio: portfolio,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/state/stream", s.handleStateStream)
	mux.HandleFunc("/portfolio/stream", s.handlePortfolioStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("dashboard listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "serve dashboard on %s", s.addr)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(s.session.Snapshot()); err != nil {
		s.l.Warn("failed to encode session state", zap.Error(err))
	}
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	var updates chan domain.SessionSnapshot
	if s.feed != nil {
		updates = s.feed.Subscribe()
		defer s.feed.Unsubscribe(updates)
	}

	if err := writeEvent(w, "state", s.session.Snapshot()); err != nil {
		s.l.Warn("state stream initial write", zap.Error(err))
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, "state", snap); err != nil {
				s.l.Warn("state stream write", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handlePortfolioStream(w http.ResponseWriter, r *http.Request) {
	if s.portfolio == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "portfolio store not available")
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(snapshotPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendSnapshots := func() error {
		records, err := s.portfolio.After(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := writeEvent(w, "portfolio", record.Snapshot); err != nil {
				return err
			}
			lastIndex = record.Index
		}
		flusher.Flush()
		return nil
	}

	if err := sendSnapshots(); err != nil {
		s.l.Warn("portfolio stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendSnapshots(); err != nil {
				s.l.Warn("portfolio stream poll", zap.Error(err))
			}
		}
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	return flusher, true
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s event", event)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
