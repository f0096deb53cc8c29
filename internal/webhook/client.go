// Package webhook delivers best-effort job-outcome callbacks. Delivery
// failures are normal errors the caller logs and discards; they never affect
// the job's recorded outcome.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DocumentRef identifies the processed document in the payload.
type DocumentRef struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

// Payload is the JSON body POSTed to the template's webhook URL.
type Payload struct {
	JobID        string            `json:"job_id"`
	Status       string            `json:"status"`
	Document     DocumentRef       `json:"document"`
	TemplateID   string            `json:"template_id,omitempty"`
	Extracted    map[string]string `json:"extracted,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Notifier posts payloads to per-template callback URLs.
type Notifier interface {
	Deliver(ctx context.Context, url string, payload Payload) error
}

type notifier struct {
	httpClient *http.Client
	log        *slog.Logger
}

func NewNotifier(timeout time.Duration, log *slog.Logger) Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &notifier{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Deliver sends one POST. Non-2xx responses are errors; there are no retries.
func (n *notifier) Deliver(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "docextract/1.0")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	n.log.Debug("webhook delivered", "url", url, "job_id", payload.JobID, "status", payload.Status)
	return nil
}
