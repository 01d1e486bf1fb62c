package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	webhookUserAgent = "archivekit"
	// HeaderRunID carries the archive run id on every webhook delivery.
	HeaderRunID = "X-Archivekit-Run-Id"
	// HeaderIdempotencyKey lets receivers drop repeated deliveries of one run.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// webhookPayload is the JSON body posted for an archive run.
type webhookPayload struct {
	Type   string    `json:"type"`
	SentAt time.Time `json:"sent_at"`
	Event
}

type webhookNotifier struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
	now      func() time.Time
}

func NewWebhook(endpoint string, headers map[string]string) (Notifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("config.url is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("config.url must be an absolute http(s) url, got %q", endpoint)
	}

	hs := make(map[string]string, len(headers))
	for k, v := range headers {
		hs[http.CanonicalHeaderKey(k)] = v
	}

	return &webhookNotifier{
		endpoint: endpoint,
		headers:  hs,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}, nil
}

// Notify posts the run as "archive.run.<outcome>". Configured headers are
// applied first so they cannot replace the run id headers.
func (w *webhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:   "archive.run." + event.Outcome,
		SentAt: w.now().UTC(),
		Event:  event,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if event.RunID != "" {
		req.Header.Set(HeaderRunID, event.RunID)
		req.Header.Set(HeaderIdempotencyKey, event.RunID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook for run %s: %w", event.RunID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook for run %s: received non-success status %s: %s",
			event.RunID, resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
