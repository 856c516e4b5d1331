// Package notify posts run summaries to a Slack webhook. Notification is
// best-effort: a failed post is logged, never fatal to the audit.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lmwafulirwa/emr-dqa/internal/logging"
)

// SlackConfig holds Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// Notifier sends Slack notifications.
type Notifier struct {
	config *SlackConfig
	client *http.Client
}

// New creates a notifier. A nil config produces a disabled notifier.
func New(cfg *SlackConfig) *Notifier {
	return &Notifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled reports whether notifications will actually be sent.
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

type slackMessage struct {
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
}

// NotifySuccess posts a completion summary.
func (n *Notifier) NotifySuccess(kind string, schemas, skips, rows int, elapsed time.Duration) {
	text := fmt.Sprintf("emr-dqa %s complete: %d schemas scanned (%d table skips), %d rows collected in %s",
		kind, schemas, skips, rows, elapsed.Round(time.Second))
	n.post(text)
}

// NotifyFailure posts a failure summary.
func (n *Notifier) NotifyFailure(kind string, err error) {
	n.post(fmt.Sprintf("emr-dqa %s FAILED: %v", kind, err))
}

func (n *Notifier) post(text string) {
	if !n.IsEnabled() {
		return
	}

	msg := slackMessage{
		Channel:  n.config.Channel,
		Username: n.config.Username,
		Text:     text,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		logging.Warn("slack: marshaling message: %v", err)
		return
	}

	resp, err := n.client.Post(n.config.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		logging.Warn("slack: posting notification: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Warn("slack: webhook returned status %d", resp.StatusCode)
	}
}
