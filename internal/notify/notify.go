// Package notify delivers experiment completion notices.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/headline-goat/variant-goat/internal/lifecycle"
	"github.com/headline-goat/variant-goat/internal/logging"
)

const webhookTimeout = 5 * time.Second

// Log writes completion notices to the structured log.
type Log struct {
	logger *slog.Logger
}

func NewLog() *Log {
	return &Log{logger: logging.New("notify")}
}

func (l *Log) NotifyCompleted(_ context.Context, t lifecycle.Termination) error {
	l.logger.Info("experiment completed",
		"experiment_id", t.ExperimentID,
		"name", t.Name,
		"reason", t.Reason,
		"message", Message(t),
	)
	return nil
}

// Webhook POSTs each notice as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: webhookTimeout}}
}

type webhookPayload struct {
	lifecycle.Termination
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (w *Webhook) NotifyCompleted(ctx context.Context, t lifecycle.Termination) error {
	body, err := json.Marshal(webhookPayload{Termination: t, Subject: Subject(t), Message: Message(t)})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Multi sends to every notifier and joins their errors.
type Multi []lifecycle.Notifier

func (m Multi) NotifyCompleted(ctx context.Context, t lifecycle.Termination) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyCompleted(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func Subject(t lifecycle.Termination) string {
	return fmt.Sprintf("A/B Test Completed: %s", t.Name)
}

func Message(t lifecycle.Termination) string {
	return fmt.Sprintf("The A/B test '%s' (ID: %d) has automatically completed based on its defined end conditions (%s). You can view the results and consider implementing the winning variant.",
		t.Name, t.ExperimentID, t.Reason)
}
