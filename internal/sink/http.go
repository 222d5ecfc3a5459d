package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/rule"
)

// HTTPSink POSTs events as JSON to a fixed endpoint.
type HTTPSink struct {
	client *resty.Client
	url    string
}

// NewHTTPSink builds a sink posting to url with the given timeout.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPSink{client: client, url: url}
}

func (s *HTTPSink) Name() string { return rule.SinkHTTP }

// Deliver posts the event. Non-2xx responses count as delivery
// failures so the dispatcher retries them.
func (s *HTTPSink) Deliver(ctx context.Context, ev bus.Event, _ string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(ev).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("sink: http post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sink: http post: status %d", resp.StatusCode())
	}
	return nil
}
