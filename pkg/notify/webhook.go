package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Signature headers attached to every delivery. The signature is
// hex(hmac-sha256(secret, timestamp + "." + body)) so receivers can reject
// replays outside their tolerance window.
const (
	HeaderSignature = "X-Covenant-Signature"
	HeaderTimestamp = "X-Covenant-Timestamp"
	HeaderEvent     = "X-Covenant-Event"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
)

// Webhook POSTs events as JSON to a fixed endpoint, signed with a shared
// secret. Transient failures are retried with linear backoff.
type Webhook struct {
	url      string
	secret   []byte
	client   *http.Client
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// WebhookOption customises a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithRetry sets the attempt count and backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) WebhookOption {
	return func(w *Webhook) {
		if attempts > 0 {
			w.attempts = attempts
		}
		w.backoff = backoff
	}
}

func NewWebhook(url string, secret []byte, log *slog.Logger, opts ...WebhookOption) *Webhook {
	if log == nil {
		log = slog.Default()
	}
	w := &Webhook{
		url:      url,
		secret:   secret,
		client:   &http.Client{Timeout: defaultTimeout},
		attempts: defaultAttempts,
		backoff:  time.Second,
		log:      log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var last error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff * time.Duration(attempt-1)):
			}
		}
		last = w.deliver(ctx, event.Kind, body)
		if last == nil {
			return nil
		}
		w.log.Warn("webhook delivery failed",
			"url", w.url, "kind", event.Kind, "attempt", attempt, "error", last)
	}
	return fmt.Errorf("webhook delivery to %s failed after %d attempts: %w", w.url, w.attempts, last)
}

func (w *Webhook) deliver(ctx context.Context, kind string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, kind)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(w.secret, ts, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the delivery signature over timestamp and body.
func Sign(secret []byte, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received signature in constant time.
func VerifySignature(secret []byte, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
