// Command sse_load opens many concurrent dashboard streams and counts the events received.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	url         string
	connections int
	duration    time.Duration
	rampUp      time.Duration
	report      time.Duration
}

type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64
}

func (s *stats) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("connected", s.connected.Load()),
		zap.Int64("connect_errs", s.connectErrs.Load()),
		zap.Int64("stream_errs", s.streamErrs.Load()),
		zap.Int64("events", s.events.Load()),
	}
}

func main() {
	var opts options
	flag.StringVar(&opts.url, "url", "http://localhost:8080/state/stream", "SSE endpoint URL")
	flag.IntVar(&opts.connections, "conns", 1000, "number of concurrent connections to open")
	flag.DurationVar(&opts.duration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&opts.rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()
	opts.report = 5 * time.Second

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	s, err := run(ctx, logger, opts)
	if err != nil {
		logger.Fatal("load test failed", zap.Error(err))
	}

	elapsed := time.Since(start)
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d events=%d elapsed=%s events/s=%.2f\n",
		s.connected.Load(), s.connectErrs.Load(), s.streamErrs.Load(), s.events.Load(),
		elapsed.Truncate(time.Millisecond), float64(s.events.Load())/elapsed.Seconds())
}

func run(ctx context.Context, logger *zap.Logger, opts options) (*stats, error) {
	if opts.connections <= 0 {
		return nil, errors.Errorf("invalid conns: %d", opts.connections)
	}
	if opts.rampUp == 0 && opts.connections > 100 {
		// 1 second per 500 connections
		opts.rampUp = max(time.Duration(opts.connections/500)*time.Second, time.Second)
	}
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	logger.Info("starting SSE load",
		zap.String("url", opts.url),
		zap.Int("conns", opts.connections),
		zap.Duration("duration", opts.duration),
		zap.Duration("ramp", opts.rampUp))

	client := &http.Client{Transport: &http.Transport{
		MaxConnsPerHost:     opts.connections + 100,
		MaxIdleConns:        opts.connections + 100,
		MaxIdleConnsPerHost: opts.connections + 100,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}}

	s := &stats{}
	interval := opts.rampUp / time.Duration(opts.connections)

	if opts.report > 0 {
		go func() {
			ticker := time.NewTicker(opts.report)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logger.Info("status", s.fields()...)
				}
			}
		}()
	}

	var g errgroup.Group
	for i := 0; i < opts.connections; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stream(ctx, client, opts.url, s)
			return nil
		})
	}

	_ = g.Wait()
	logger.Info("finished", s.fields()...)
	return s, nil
}

// stream reads one SSE connection until ctx ends, counting events.
func stream(ctx context.Context, client *http.Client, url string, s *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		s.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.connectErrs.Add(1)
		return
	}

	s.connected.Add(1)
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				s.streamErrs.Add(1)
			}
			return
		}
		if strings.HasPrefix(line, "event:") {
			s.events.Add(1)
		}
	}
}
