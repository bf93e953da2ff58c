package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// WebhookSink POSTs each record as JSON. 5xx answers and transport errors
// are retried with exponential backoff.
type WebhookSink struct {
	url     string
	token   string
	http    *fasthttp.Client
	timeout time.Duration
	retries int
}

type WebhookOption func(*WebhookSink)

func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookSink) { w.timeout = d }
}

func WithWebhookRetry(n int) WebhookOption {
	return func(w *WebhookSink) { w.retries = n }
}

func NewWebhookSink(url, token string, opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		url:     strings.TrimSpace(url),
		token:   strings.TrimSpace(token),
		http:    &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 8},
		timeout: 5 * time.Second,
		retries: 3,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookPayload struct {
	Event  string `json:"event"`
	Record Record `json:"record"`
	PGN    string `json:"pgn"`
}

func (w *WebhookSink) Save(ctx context.Context, rec Record) error {
	body, err := json.Marshal(webhookPayload{Event: "game.finished", Record: rec, PGN: PGN(rec)})
	if err != nil {
		return fmt.Errorf("marshal webhook: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.url)
	req.Header.SetContentType("application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	req.SetBody(body)

	attempts := w.retries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := w.http.DoDeadline(req, resp, w.deadline(ctx))
		retryable := true
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("webhook status=%d body=%s", status, truncate(string(resp.Body()), 256))
			retryable = status >= 500
		}
		lastErr = err
		if !retryable || attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			break
		}
	}
	return lastErr
}

func (w *WebhookSink) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(w.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
