// Package webhook notifies an external endpoint about newly stored
// artifacts. Delivery is fire and forget: each event runs in its own
// goroutine and failures are logged, never surfaced to the render
// request that triggered them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"provisionr/internal/config"
	"provisionr/internal/logging"
)

const (
	// defaultInitialBackoff is the initial delay between retries
	defaultInitialBackoff = 1 * time.Second

	// defaultMaxBackoff is the maximum delay between retries
	defaultMaxBackoff = 30 * time.Second

	// backoffMultiplier is the factor by which backoff increases after each retry
	backoffMultiplier = 2
)

// httpClient is a shared client for all webhook requests.
// Reusing the client allows connection pooling and TLS session reuse.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Event is the JSON payload sent for each stored artifact.
type Event struct {
	TemplateName string `json:"template_name"`
	IDFieldValue string `json:"id_field_value"`
	CreatedAt    string `json:"created_at"`
}

// Notifier delivers store events to the configured URL.
type Notifier struct {
	cfg config.WebhookConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNotifier(cfg config.WebhookConfig) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{cfg: cfg, ctx: ctx, cancel: cancel}
}

// ArtifactStored queues a delivery and returns immediately.
func (n *Notifier) ArtifactStored(templateName, idValue, createdAt string) {
	event := Event{
		TemplateName: templateName,
		IDFieldValue: idValue,
		CreatedAt:    createdAt,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.deliver(event); err != nil {
			logging.Warn("webhook_delivery_failed", map[string]any{
				"template": templateName,
				"identity": idValue,
				"error":    err.Error(),
			})
			return
		}
		logging.Debug("webhook_delivered", map[string]any{
			"template": templateName,
			"identity": idValue,
		})
	}()
}

// Close cancels in-flight deliveries and waits for their goroutines.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

func (n *Notifier) deliver(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	headers := make(map[string]string)
	headers["Content-Type"] = "application/json"
	for key, value := range n.cfg.Headers {
		headers[key] = os.ExpandEnv(value)
	}

	var lastErr error
	backoff := defaultInitialBackoff

	// 1 initial attempt + MaxRetries retries
	maxAttempts := 1 + n.cfg.MaxRetries

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-n.ctx.Done():
				return fmt.Errorf("webhook cancelled after %d attempts: %w", attempt, n.ctx.Err())
			case <-time.After(backoff):
			}

			backoff *= backoffMultiplier
			if backoff > defaultMaxBackoff {
				backoff = defaultMaxBackoff
			}
		}

		lastErr = n.attempt(headers, body)
		if lastErr == nil {
			return nil
		}
		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			return permanent.err
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

func (n *Notifier) attempt(headers map[string]string, body []byte) error {
	timeout := time.Duration(n.cfg.TimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(n.ctx, timeout)
	defer cancel()

	// Fresh request per attempt, the body reader cannot be reused
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &permanentError{fmt.Errorf("creating request: %w", err)}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}

	// Read response body for error reporting, then drain for connection reuse
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}

	statusErr := fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))

	// 4xx client errors are not retryable
	if resp.StatusCode < 500 {
		return &permanentError{statusErr}
	}
	return statusErr
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }
