package gocardless

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
)

// Resource types and actions the lifecycle engine reacts to. Anything else in
// a delivery is acknowledged and skipped.
const (
	ResourceTypePayments        = "payments"
	ResourceTypeMandates        = "mandates"
	ResourceTypeBillingRequests = "billing_requests"
	ResourceTypeSubscriptions   = "subscriptions"

	ActionConfirmed   = "confirmed"
	ActionPaidOut     = "paid_out"
	ActionFailed      = "failed"
	ActionCancelled   = "cancelled"
	ActionChargedBack = "charged_back"
	ActionActive      = "active"
	ActionFulfilled   = "fulfilled"
)

// Event is one entry of a webhook delivery batch.
type Event struct {
	ID               string            `json:"id"`
	ResourceType     string            `json:"resource_type"`
	Action           string            `json:"action"`
	CreatedAt        time.Time         `json:"created_at"`
	Links            EventLinks        `json:"links"`
	ResourceMetadata map[string]string `json:"resource_metadata"`
}

// EventLinks carries the processor object identifiers attached to an event.
type EventLinks struct {
	Payment        string `json:"payment"`
	Mandate        string `json:"mandate"`
	BillingRequest string `json:"billing_request"`
	Subscription   string `json:"subscription"`
}

// BillingRequestID resolves the registration correlation key for the event.
// Billing request events carry it as a link; everything else relies on the
// resource metadata stamped at creation time.
func (e Event) BillingRequestID() string {
	if e.Links.BillingRequest != "" {
		return e.Links.BillingRequest
	}
	return e.ResourceMetadata["billing_request_id"]
}

type envelope struct {
	Events []Event `json:"events"`
}

// ParseBatch decodes a webhook delivery body into its events.
func ParseBatch(body []byte) ([]Event, error) {
	var payload envelope
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	return payload.Events, nil
}
