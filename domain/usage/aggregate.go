package usage

import "sort"

// Summary totals the events of one customer and event name.
type Summary struct {
	Customer  string  `json:"customer"`
	EventName string  `json:"event_name"`
	Count     int     `json:"count"`
	Total     float64 `json:"total"`
}

// CustomerKey identifies the customer an event is billed to. The JustPaid
// identifier wins over the caller's external alias.
func (e Event) CustomerKey() string {
	if e.CustomerID != "" {
		return e.CustomerID
	}
	return e.ExternalCustomerID
}

// Aggregate groups events by customer and event name and sums their values.
// Summaries are ordered by customer, then event name.
// This is a PURE function.
func Aggregate(events []Event) []Summary {
	type key struct{ customer, name string }

	index := make(map[key]int)
	var out []Summary
	for _, e := range events {
		k := key{e.CustomerKey(), e.EventName}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Summary{Customer: k.customer, EventName: k.name})
		}
		out[i].Count++
		out[i].Total += e.EventValue
	}

	sortSummaries(out)
	return out
}

func sortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Customer != s[j].Customer {
			return s[i].Customer < s[j].Customer
		}
		return s[i].EventName < s[j].EventName
	})
}
