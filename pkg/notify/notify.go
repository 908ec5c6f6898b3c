// Package notify delivers run notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/retry"
)

// Event names.
const (
	EventSucceeded = "report.succeeded"
	EventFailed    = "report.failed"
)

// Payload is the JSON body posted to a webhook.
type Payload struct {
	Event       string    `json:"event"`
	RunID       string    `json:"runId,omitempty"`
	JobID       string    `json:"jobId"`
	JobName     string    `json:"jobName,omitempty"`
	Owner       string    `json:"owner"`
	OwnerType   string    `json:"ownerType"`
	SlotKey     string    `json:"slotKey"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Empty       bool      `json:"empty"`
	ManifestKey string    `json:"manifestKey,omitempty"`
	OutputKey   string    `json:"outputKey,omitempty"`
	OutputURI   string    `json:"outputUri,omitempty"`
	SentAt      time.Time `json:"sentAt"`

	// Content is the report text when the job asks for it.
	Content string `json:"content,omitempty"`
}

// Notifier sends one notification.
type Notifier interface {
	Send(ctx context.Context, cfg *jobconfig.NotifyConfig, p Payload) error
}

// ShouldNotify reports whether cfg wants a notification for status.
func ShouldNotify(cfg *jobconfig.NotifyConfig, failed bool) bool {
	if cfg == nil || strings.TrimSpace(cfg.Webhook) == "" {
		return false
	}
	return !failed || cfg.OnFailure
}

// Webhook posts payloads as JSON.
type Webhook struct {
	client *http.Client
	policy retry.Policy
}

// NewWebhook returns a webhook notifier. A nil client gets a 10s timeout.
func NewWebhook(client *http.Client, policy retry.Policy) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{client: client, policy: policy}
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.Code, e.Body)
}

func (w *Webhook) Send(ctx context.Context, cfg *jobconfig.NotifyConfig, p Payload) error {
	if cfg == nil || strings.TrimSpace(cfg.Webhook) == "" {
		return errors.New("webhook url is required")
	}
	if !cfg.AttachOutput {
		p.Content = ""
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return retry.Do(ctx, w.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Webhook, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("create webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "cadence")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		res, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		defer func() { _ = res.Body.Close() }()

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, res.Body)
			return nil
		}
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		serr := &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(msg))}
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
			return serr
		}
		return retry.Permanent(serr)
	})
}
