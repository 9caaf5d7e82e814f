package usage

import "github.com/artpar/justpaid/core/schema"

// EventInfo summarises an ingestion: how many events were created and which
// idempotency keys were rejected as duplicates of earlier events.
type EventInfo struct {
	CreatedEvents int      `json:"created_events"`
	Duplicates    []string `json:"duplicates"`
}

// IsDuplicate reports whether key was reported as a duplicate.
func (i EventInfo) IsDuplicate(key string) bool {
	for _, d := range i.Duplicates {
		if d == key {
			return true
		}
	}
	return false
}

// ErrorInfo is a per-event rejection reported by the platform.
type ErrorInfo struct {
	IdempotencyKey string `json:"idempotency_key"`
	Error          string `json:"error"`
}

// EventResponse is the result of a synchronous ingestion. Rejected events are
// reported in Errors; they are data, not a failed call.
type EventResponse struct {
	Info   EventInfo   `json:"info"`
	Errors []ErrorInfo `json:"errors,omitempty"`
}

// ErrorFor returns the rejection reported for key, if any.
func (r EventResponse) ErrorFor(key string) (ErrorInfo, bool) {
	return findError(r.Errors, key)
}

// ParseEventResponse decodes a synchronous ingestion response.
func ParseEventResponse(data []byte) (EventResponse, error) {
	obj, errs := schema.Decode("UsageEventResponse", data)
	resp := EventResponse{
		Info:   eventInfoFrom(obj.Object("info")),
		Errors: errorInfosFrom(obj.OptArray("errors")),
	}
	if err := errs.Err(); err != nil {
		return EventResponse{}, err
	}
	return resp, nil
}

func eventInfoFrom(o *schema.Object) EventInfo {
	return EventInfo{
		CreatedEvents: o.Int("created_events"),
		Duplicates:    o.Strings("duplicates"),
	}
}

func errorInfosFrom(items []*schema.Object) []ErrorInfo {
	if items == nil {
		return nil
	}
	out := make([]ErrorInfo, 0, len(items))
	for _, item := range items {
		out = append(out, ErrorInfo{
			IdempotencyKey: item.String("idempotency_key"),
			Error:          item.String("error"),
		})
	}
	return out
}

func findError(errs []ErrorInfo, key string) (ErrorInfo, bool) {
	for _, e := range errs {
		if e.IdempotencyKey == key {
			return e, true
		}
	}
	return ErrorInfo{}, false
}
