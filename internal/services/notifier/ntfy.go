// Package notifier pushes trade notifications to the operator.
package notifier

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/ruletrader/pkg/retrier"
	"go.uber.org/zap"
)

const (
	// DefaultServer public ntfy instance.
	DefaultServer = "https://ntfy.sh"

	messagePrefix  = "🚀 "
	requestTimeout = 5 * time.Second
)

// Ntfy publishes messages to an ntfy topic.
type Ntfy struct {
	l       *zap.Logger
	client  *resty.Client
	topic   string
	retrier *retrier.Retrier
}

// Option configures Ntfy.
type Option func(*Ntfy)

// WithRetrier overrides the retry policy.
func WithRetrier(r *retrier.Retrier) Option {
	return func(n *Ntfy) {
		n.retrier = r
	}
}

// WithHTTPClient replaces the underlying resty client.
func WithHTTPClient(c *resty.Client) Option {
	return func(n *Ntfy) {
		n.client = c
	}
}

// NewNtfy creates a notifier for server/topic. An empty server selects DefaultServer.
func NewNtfy(l *zap.Logger, server, topic string, opts ...Option) (*Ntfy, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("ntfy topic is required")
	}
	if server == "" {
		server = DefaultServer
	}
	if l == nil {
		l = zap.NewNop()
	}

	n := &Ntfy{
		l:       l,
		client:  resty.New().SetTimeout(requestTimeout),
		topic:   topic,
		retrier: retrier.New(retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.Debug("push notification failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		})),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.client.SetBaseURL(strings.TrimRight(server, "/"))

	return n, nil
}

// retryableStatus server errors, timeouts and rate limits may clear up; other client errors will not.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// Notify posts the message. Transient failures are retried, then returned as errors.
func (n *Ntfy) Notify(ctx context.Context, message string) error {
	err := n.retrier.Do(ctx, func(ctx context.Context) error {
		resp, err := n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "text/plain; charset=utf-8").
			SetBody(messagePrefix + message).
			Post("/" + n.topic)
		if err != nil {
			return errors.Wrap(err, "post ntfy message")
		}
		if resp.IsError() {
			err := errors.Errorf("ntfy responded %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
			if !retryableStatus(resp.StatusCode()) {
				return retrier.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		n.l.Warn("❌ Failed to send push notification", zap.Error(err))
		return err
	}

	n.l.Info("📱 Push notification sent", zap.String("topic", n.topic))
	return nil
}

// Nop stands in when no topic is configured.
type Nop struct {
	l *zap.Logger
}

// NewNop creates a notifier that only logs.
func NewNop(l *zap.Logger) *Nop {
	if l == nil {
		l = zap.NewNop()
	}
	return &Nop{l: l}
}

// Notify logs the message.
func (n *Nop) Notify(_ context.Context, message string) error {
	n.l.Debug("⚠️ Push notification not configured", zap.String("message", message))
	return nil
}
