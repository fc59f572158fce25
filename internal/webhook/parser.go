// Package webhook normalizes provider notification payloads before they
// reach the reconciler, so provider-specific shapes never leak into the
// status-transition logic.
package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/maildrip/maildrip-backend/internal/model"
)

// Event is the normalized form of one provider notification. Type is empty
// for payloads that carry no recipient lifecycle information (housekeeping
// messages, unknown event names, unparseable bodies); those are still
// logged for audit but trigger no status update.
type Event struct {
	Type              model.EventType
	ProviderMessageID string
	OccurredAt        time.Time
	Raw               json.RawMessage

	// Housekeeping marks provider plumbing such as an SNS subscription
	// confirmation, which needs acknowledgement but is not a delivery
	// event.
	Housekeeping bool
	SubscribeURL string
}

// snsEnvelope is the SNS wrapper AWS puts around SES notifications.
type snsEnvelope struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// providerEvent is the SES-style notification body.
type providerEvent struct {
	EventType string `json:"eventType"`
	Mail      struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Timestamp time.Time `json:"timestamp"`
}

var eventTypeMap = map[string]model.EventType{
	"delivery":  model.EventDelivery,
	"bounce":    model.EventBounce,
	"complaint": model.EventComplaint,
	"open":      model.EventOpen,
	"click":     model.EventClick,
}

// Parse turns a raw webhook body into a normalized Event. It never returns
// an error for malformed input: the provider must always get a 2xx, so bad
// payloads come back as a typeless Event carrying the raw body.
func Parse(body []byte) Event {
	ev := Event{Raw: json.RawMessage(body), OccurredAt: time.Now().UTC()}

	payload := body
	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Type != "" {
		switch envelope.Type {
		case "SubscriptionConfirmation", "UnsubscribeConfirmation":
			ev.Housekeeping = true
			ev.SubscribeURL = envelope.SubscribeURL
			return ev
		case "Notification":
			payload = []byte(envelope.Message)
		}
	}

	var pe providerEvent
	if err := json.Unmarshal(payload, &pe); err != nil {
		return ev
	}

	ev.Type = eventTypeMap[strings.ToLower(pe.EventType)]
	ev.ProviderMessageID = pe.Mail.MessageID
	if !pe.Timestamp.IsZero() {
		ev.OccurredAt = pe.Timestamp.UTC()
	}
	return ev
}
