package models

import "time"

// WebhookEndpoint is a configured receiver of job notifications
type WebhookEndpoint struct {
	URL    string   `json:"url" mapstructure:"url"`
	Secret string   `json:"secret,omitempty" mapstructure:"secret"`
	Events []string `json:"events,omitempty" mapstructure:"events"`
}

// Subscribed reports whether the endpoint wants the event; an empty list means all events
func (w WebhookEndpoint) Subscribed(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookEvent represents the payload sent to webhooks
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event types
const (
	WebhookEventExportStarted   = "export.started"
	WebhookEventExportCompleted = "export.completed"
	WebhookEventExportFailed    = "export.failed"
	WebhookEventExportCancelled = "export.cancelled"
)
