package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// httpClient is a lazily-initialized retryablehttp client shared across all
// webhook sends. Initialized once via httpClientOnce.
var (
	httpClient     *retryablehttp.Client
	httpClientOnce sync.Once
)

// getHTTPClient returns the shared retryable HTTP client, initializing it on
// first call.
func getHTTPClient() *retryablehttp.Client {
	httpClientOnce.Do(func() {
		httpClient = retryablehttp.NewClient()
		httpClient.RetryMax = 2
		httpClient.HTTPClient.Timeout = 10 * time.Second
		httpClient.Logger = nil // suppress retryablehttp's default logging
	})
	return httpClient
}

// WebhookSender POSTs notifications to an ntfy-compatible endpoint: the body
// is the message text and the title travels in the X-Title header.
type WebhookSender struct {
	url string
}

// NewWebhookSender creates a WebhookSender for the given endpoint URL.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url}
}

// RequestPermission probes the endpoint with a HEAD request. An unreachable
// endpoint reports false but does not disable the channel; sends will still
// be attempted.
func (w *WebhookSender) RequestPermission(ctx context.Context) bool {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		return false
	}
	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Send POSTs the notification.
func (w *WebhookSender) Send(title, body string) error {
	req, err := retryablehttp.NewRequest(http.MethodPost, w.url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("X-Title", title)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s: status %d", w.url, resp.StatusCode)
	}
	return nil
}
