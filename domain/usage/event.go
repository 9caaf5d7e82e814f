// Package usage provides the usage event and ingestion job wire types.
// Construction and parsing are pure: nothing here performs I/O.
package usage

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/artpar/justpaid/core/schema"
)

// Event is a single usage event (immutable value type).
//
// EventName is expected to be snake_case (e.g. "api_call") and IdempotencyKey
// to be unique per event. Neither convention is checked here: the platform owns
// both rules and duplicates are reported back in EventInfo.Duplicates.
type Event struct {
	// CustomerID is a JustPaid customer UUID or the customer's email.
	CustomerID string `json:"customer_id,omitempty"`
	EventName  string `json:"event_name"`
	// Timestamp is the ISO-8601 UTC time the event occurred.
	Timestamp      string `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key"`
	// ItemID optionally ties the event to a billable item.
	ItemID     string  `json:"item_id,omitempty"`
	EventValue float64 `json:"event_value"`
	// ExternalCustomerID is the caller's own alias for the customer.
	ExternalCustomerID string     `json:"external_customer_id,omitempty"`
	Properties         Properties `json:"properties,omitempty"`
}

// EventInput holds the caller-supplied fields of an event before validation.
//
// The timestamp is given either as Time, which is normalised to ISO-8601 UTC,
// or as Timestamp, a pre-formatted string that is passed through unchanged.
type EventInput struct {
	CustomerID         string
	EventName          string
	Time               time.Time
	Timestamp          string
	IdempotencyKey     string
	ItemID             string
	EventValue         *float64
	ExternalCustomerID string
	Properties         map[string]any
}

// EventValue returns a pointer to v, for EventInput.EventValue.
func EventValue(v float64) *float64 {
	return &v
}

// FormatTimestamp renders t as an ISO-8601 timestamp in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewEvent validates in and builds an Event. It fails with a
// *schema.ValidationError naming every missing or malformed field.
func NewEvent(in EventInput) (Event, error) {
	errs := schema.NewValidationError("UsageEvent")

	ts := in.Timestamp
	switch {
	case !in.Time.IsZero() && in.Timestamp != "":
		errs.Add("timestamp", schema.ReasonConflicted)
	case !in.Time.IsZero():
		ts = FormatTimestamp(in.Time)
	}

	if in.EventValue == nil {
		errs.Add("event_value", schema.ReasonRequired)
	}

	props, err := PropertiesOf(in.Properties)
	if err != nil {
		errs.Addf("properties", "invalid: %v", err)
	}

	e := Event{
		CustomerID:         in.CustomerID,
		EventName:          in.EventName,
		Timestamp:          ts,
		IdempotencyKey:     in.IdempotencyKey,
		ItemID:             in.ItemID,
		ExternalCustomerID: in.ExternalCustomerID,
		Properties:         props,
	}
	if in.EventValue != nil {
		e.EventValue = *in.EventValue
	}

	e.validate("", errs)
	if err := errs.Err(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks the required fields of an already built event.
func (e Event) Validate() error {
	errs := schema.NewValidationError("UsageEvent")
	e.validate("", errs)
	return errs.Err()
}

func (e Event) validate(path string, errs *schema.ValidationError) {
	if strings.TrimSpace(e.EventName) == "" {
		errs.Add(schema.Join(path, "event_name"), schema.ReasonRequired)
	}
	if e.Timestamp == "" {
		errs.Add(schema.Join(path, "timestamp"), schema.ReasonRequired)
	}
	if e.IdempotencyKey == "" {
		errs.Add(schema.Join(path, "idempotency_key"), schema.ReasonRequired)
	}
	if math.IsNaN(e.EventValue) || math.IsInf(e.EventValue, 0) {
		errs.Add(schema.Join(path, "event_value"), schema.ReasonFinite)
	}
}

// Equal reports whether e and o carry the same fields.
func (e Event) Equal(o Event) bool {
	return e.CustomerID == o.CustomerID &&
		e.EventName == o.EventName &&
		e.Timestamp == o.Timestamp &&
		e.IdempotencyKey == o.IdempotencyKey &&
		e.ItemID == o.ItemID &&
		e.EventValue == o.EventValue &&
		e.ExternalCustomerID == o.ExternalCustomerID &&
		e.Properties.Equal(o.Properties)
}

// EventRequest is an ordered batch of events submitted together. Batch size
// limits, if any, are enforced by the platform.
type EventRequest struct {
	Events []Event `json:"events"`
}

// NewEventRequest builds a request from events in order.
func NewEventRequest(events ...Event) EventRequest {
	return EventRequest{Events: events}
}

// Validate checks every event of the batch. An empty batch is valid.
func (r EventRequest) Validate() error {
	errs := schema.NewValidationError("UsageEventRequest")
	for i, e := range r.Events {
		e.validate(schema.Index("events", i), errs)
	}
	return errs.Err()
}

// MarshalJSON always writes "events" as an array, never null.
func (r EventRequest) MarshalJSON() ([]byte, error) {
	events := r.Events
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(struct {
		Events []Event `json:"events"`
	}{events})
}

// ParseEvent decodes a single event, enforcing the same required fields as
// NewEvent. Timestamps are taken as-is.
func ParseEvent(data []byte) (Event, error) {
	obj, errs := schema.Decode("UsageEvent", data)
	e := eventFrom(obj)
	if err := errs.Err(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// ParseEventRequest decodes a batch of events.
func ParseEventRequest(data []byte) (EventRequest, error) {
	obj, errs := schema.Decode("UsageEventRequest", data)
	items := obj.Array("events")
	events := make([]Event, 0, len(items))
	for _, item := range items {
		events = append(events, eventFrom(item))
	}
	if err := errs.Err(); err != nil {
		return EventRequest{}, err
	}
	return EventRequest{Events: events}, nil
}

func eventFrom(o *schema.Object) Event {
	e := Event{
		CustomerID:         o.OptString("customer_id"),
		EventName:          o.String("event_name"),
		Timestamp:          o.String("timestamp"),
		IdempotencyKey:     o.String("idempotency_key"),
		ItemID:             o.OptString("item_id"),
		EventValue:         o.Number("event_value"),
		ExternalCustomerID: o.OptString("external_customer_id"),
	}
	if raw := o.Raw("properties"); raw != nil {
		var v Value
		if err := json.Unmarshal(raw, &v); err != nil {
			o.Invalid("properties", schema.ReasonMalformed)
		} else if members, ok := v.Object(); ok {
			e.Properties = members
		} else {
			o.Invalid("properties", schema.ReasonObject)
		}
	}
	if o.Has("event_name") && strings.TrimSpace(e.EventName) == "" {
		o.Invalid("event_name", schema.ReasonNotEmpty)
	}
	return e
}
