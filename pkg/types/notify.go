package types

import "time"

// =============================================================================
// NOTIFICATION CHANNEL
// =============================================================================

// ChannelType is the closed set of notification transports.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
)

// NotificationChannel is a configured destination for alert/recovery/reminder
// notifications. CredentialRef points into internal/secrets rather than
// carrying the secret inline.
type NotificationChannel struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Type          ChannelType `json:"type"`
	CredentialRef string      `json:"credential_ref"`
	Enabled       bool        `json:"enabled"`

	// AlertTypes/Severities restrict which notifications route to this
	// channel; empty means "all".
	AlertTypes []AlertType     `json:"alert_types,omitempty"`
	Severities []AlertSeverity `json:"severities,omitempty"`
	DeviceTags map[string]string `json:"device_tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether this channel should receive the given notification.
func (c *NotificationChannel) Matches(alertType AlertType, severity AlertSeverity, deviceTags map[string]string) bool {
	if !c.Enabled {
		return false
	}
	if len(c.AlertTypes) > 0 && !containsAlertType(c.AlertTypes, alertType) {
		return false
	}
	if len(c.Severities) > 0 && !containsSeverity(c.Severities, severity) {
		return false
	}
	for k, v := range c.DeviceTags {
		if deviceTags[k] != v {
			return false
		}
	}
	return true
}

func containsAlertType(list []AlertType, v AlertType) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsSeverity(list []AlertSeverity, v AlertSeverity) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// =============================================================================
// NOTIFICATION
// =============================================================================

// NotificationKind distinguishes an alert firing from its recovery/reminder.
type NotificationKind string

const (
	KindAlert     NotificationKind = "alert"
	KindRecovery  NotificationKind = "recovery"
	KindReminder  NotificationKind = "reminder"
	KindDigest    NotificationKind = "digest"
)

// Notification is the rendered, channel-agnostic payload handed to
// internal/notify's Dispatcher.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Severity  AlertSeverity    `json:"severity"`
	AlertType AlertType        `json:"alert_type,omitempty"`
	DeviceID  string           `json:"device_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	SentAt    time.Time        `json:"sent_at"`
}
