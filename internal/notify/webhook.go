package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/caro-series/internal/msgcat"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// WebhookEgress POSTs JSON envelopes to an HTTP endpoint with retry on transport errors and 5xx.
type WebhookEgress struct {
	url     string
	http    *fasthttp.Client
	headers HeaderProvider
	cat     *msgcat.Catalog

	defaultTimeout time.Duration
	retryMax       int
	backoffBase    time.Duration
}

type WebhookOption func(*WebhookEgress)

func WithTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookEgress) { w.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) WebhookOption {
	return func(w *WebhookEgress) { w.headers = h }
}

func WithRetry(max int) WebhookOption {
	return func(w *WebhookEgress) { w.retryMax = max }
}

func WithBackoffBase(d time.Duration) WebhookOption {
	return func(w *WebhookEgress) { w.backoffBase = d }
}

func WithCatalog(cat *msgcat.Catalog) WebhookOption {
	return func(w *WebhookEgress) { w.cat = cat }
}

func NewWebhookEgress(url string, opts ...WebhookOption) *WebhookEgress {
	w := &WebhookEgress{
		url:            strings.TrimSpace(url),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		backoffBase:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookEgress) Publish(ctx context.Context, ev Event) error {
	if w == nil || w.url == "" {
		return errors.New("webhook egress not configured")
	}
	text, _ := Text(w.cat, ev)
	payload, err := json.Marshal(Envelope{Event: ev, Text: text})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
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
	req.Header.Set("X-Series-Event", ev.Type)
	if w.headers != nil {
		for k, v := range w.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(payload)

	attempts := w.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := w.http.DoDeadline(req, resp, w.computeDeadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("webhook status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return err
			}
		} else {
			err = fmt.Errorf("webhook request failed: %w", err)
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, w.backoff(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (w *WebhookEgress) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(w.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (w *WebhookEgress) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * w.backoffBase // 100ms, 200ms ...
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

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
