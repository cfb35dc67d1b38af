package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/fleetwatch/control-plane/pkg/types"
)

// severityColor maps a severity to the color bar Slack renders on an
// attachment, per spec.md's color table.
func severityColor(s types.AlertSeverity) string {
	switch s {
	case types.SeverityCritical:
		return "#d32f2f"
	case types.SeverityWarning:
		return "#f9a825"
	default:
		return "#388e3c"
	}
}

// SlackAdapter posts a Slack incoming-webhook message. CredentialRef
// resolves to the webhook URL itself.
type SlackAdapter struct {
	client *http.Client
	logger *slog.Logger
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (a *SlackAdapter) Send(ctx context.Context, channel types.NotificationChannel, webhookURL string, n types.Notification) error {
	body, err := json.Marshal(slackPayload{
		Attachments: []slackAttachment{{
			Color: severityColor(n.Severity),
			Title: n.Title,
			Text:  n.Body,
		}},
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookAdapter posts the Notification as generic JSON. CredentialRef
// resolves to the target URL.
type WebhookAdapter struct {
	client *http.Client
	logger *slog.Logger
}

func (a *WebhookAdapter) Send(ctx context.Context, channel types.NotificationChannel, url string, n types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailAdapter sends the Notification over SMTP. CredentialRef resolves to a
// "smtp_host:port|from|to|password" pipe-delimited connection string — the
// local credential store's plain string model doesn't carry structured
// secrets, so email config is packed into one value.
type EmailAdapter struct {
	logger *slog.Logger
}

func (a *EmailAdapter) Send(ctx context.Context, channel types.NotificationChannel, conn string, n types.Notification) error {
	parts := strings.Split(conn, "|")
	if len(parts) != 4 {
		return fmt.Errorf("malformed email credential for channel %s: expected host:port|from|to|password", channel.Name)
	}
	hostPort, from, to, password := parts[0], parts[1], parts[2], parts[3]
	host := strings.Split(hostPort, ":")[0]

	msg := fmt.Sprintf("Subject: [%s] %s\r\n\r\n%s\r\n", n.Severity, n.Title, n.Body)

	var auth smtp.Auth
	if password != "" {
		auth = smtp.PlainAuth("", from, password, host)
	}
	if err := smtp.SendMail(hostPort, auth, from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send email via %s: %w", hostPort, err)
	}
	return nil
}

// SMSAdapter logs the would-be send. spec.md scopes SMS as a stub: no real
// carrier integration in this phase.
type SMSAdapter struct {
	logger *slog.Logger
}

func (a *SMSAdapter) Send(ctx context.Context, channel types.NotificationChannel, phoneNumber string, n types.Notification) error {
	a.logger.Info("sms stub send", "channel", channel.Name, "to", phoneNumber, "title", n.Title, "severity", n.Severity)
	return nil
}
