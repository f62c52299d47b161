package mpwebhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/brunopacheco/pixgate-backend/pkg/errors"
)

// EventTypePayment is the only notification topic this service acts on.
const EventTypePayment = "payment"

// Event is a Mercado Pago webhook notification. Only the payment id is read
// from it; the notification carries no trusted status.
type Event struct {
	ID       json.Number `json:"id"`
	Type     string      `json:"type"`
	Action   string      `json:"action"`
	LiveMode bool        `json:"live_mode"`
	Data     struct {
		ID string `json:"id"`
	} `json:"data"`
}

// IsPayment reports whether the notification topic is a payment update.
func (e *Event) IsPayment() bool {
	return strings.EqualFold(e.Type, EventTypePayment)
}

// PaymentID returns the provider payment id the event points at, preferring
// the body's data.id and falling back to the query string form Mercado Pago
// uses on some notification versions.
func (e *Event) PaymentID(query map[string]string) string {
	if e != nil && e.Data.ID != "" {
		return e.Data.ID
	}
	if id := query["data.id"]; id != "" {
		return id
	}
	return query["id"]
}

// DedupeKey identifies a delivery for the idempotency guard. Notification ids
// are unique per delivery attempt, so a missing one falls back to the payment
// id plus action.
func (e *Event) DedupeKey() string {
	if e == nil {
		return ""
	}
	if id := e.ID.String(); id != "" && id != "0" {
		return id
	}
	if e.Data.ID != "" {
		return e.Data.ID + ":" + e.Action
	}
	return ""
}

// ParseEvent decodes a webhook request body. An empty body is allowed: some
// notification modes carry everything in the query string.
func ParseEvent(body io.Reader) (*Event, error) {
	payload, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body")
	}

	var event Event
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook body")
		}
	}
	return &event, nil
}

// QueryParams extracts the webhook-relevant query parameters.
func QueryParams(r *http.Request) map[string]string {
	q := r.URL.Query()
	return map[string]string{
		"data.id": q.Get("data.id"),
		"id":      q.Get("id"),
		"type":    q.Get("type"),
		"topic":   q.Get("topic"),
	}
}
