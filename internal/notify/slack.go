// Package notify delivers best-effort alert notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mlguard/backend/internal/storage/models"
)

// SlackNotifier posts alert messages to an incoming webhook. Every failure is
// surfaced as an error for the caller to log; delivery is never retried.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *SlackNotifier) NotifyAlert(ctx context.Context, a *models.Alert) error {
	text := fmt.Sprintf(":rotating_light: [%s] %s alert for %s/%s/%s day=%s value=%.4f threshold=%.4f",
		a.Severity, a.Kind, a.ProjectID, a.ModelID, a.Endpoint, a.Day, a.Value, a.Threshold)
	if a.Feature != "" {
		text += fmt.Sprintf(" feature=%s", a.Feature)
	}
	return n.post(ctx, text)
}

// NotifyText posts a plain message, used by the webhook test endpoint.
func (n *SlackNotifier) NotifyText(ctx context.Context, text string) error {
	return n.post(ctx, text)
}

func (n *SlackNotifier) post(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}
