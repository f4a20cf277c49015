package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gojektech/heimdall/v6"
	"github.com/gojektech/heimdall/v6/httpclient"

	"github.com/apruden/wapplibre-server/internal/ir"
)

// Sink receives events drained from the queue.
//
// Deliver may be called again with the same event after a failure, so
// implementations should tolerate duplicates.
type Sink interface {
	Deliver(ctx context.Context, ev ir.Event) error
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(ctx context.Context, ev ir.Event) error

// Deliver calls f(ctx, ev).
func (f SinkFunc) Deliver(ctx context.Context, ev ir.Event) error {
	return f(ctx, ev)
}

// MultiSink delivers each event to every sink in order, stopping at the
// first failure.
type MultiSink []Sink

// Deliver implements Sink.
func (m MultiSink) Deliver(ctx context.Context, ev ir.Event) error {
	for _, s := range m {
		if err := s.Deliver(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// LogSink writes every event to a structured logger.
type LogSink struct {
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, ev ir.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event",
		"id", ev.ID,
		"seq", ev.Seq,
		"data", string(ev.Data),
	)
	return nil
}

// WebhookSink POSTs every event as JSON to a URL.
// Any status outside 2xx is a delivery failure.
type WebhookSink struct {
	url    string
	client *httpclient.Client
}

// NewWebhookSink creates a WebhookSink for url. Each delivery is retried
// up to retries times on transport errors and 5xx responses.
func NewWebhookSink(url string, timeout time.Duration, retries int) *WebhookSink {
	backoff := heimdall.NewConstantBackoff(200*time.Millisecond, 100*time.Millisecond)
	client := httpclient.NewClient(
		httpclient.WithHTTPTimeout(timeout),
		httpclient.WithRetryCount(retries),
		httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
	)
	return &WebhookSink{url: url, client: client}
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, ev ir.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", ev.ID.String())

	resp, err := s.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	if err != nil {
		return fmt.Errorf("webhook %s: %w", s.url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %s", s.url, resp.Status)
	}
	return nil
}
