// Package webhook forwards selected events to operator-configured HTTP
// endpoints with signing, retries and per-endpoint circuit breaking.
package webhook

import (
	"fmt"
	"slices"
	"strings"

	"github.com/signbridge/signbridge/pkg/events"
	"github.com/signbridge/signbridge/pkg/urlvalidation"
)

// Endpoint is a forwarding target.
type Endpoint struct {
	ID         string             `json:"id"`
	URL        string             `json:"url"`
	Secret     string             `json:"-"`
	EventTypes []events.EventType `json:"event_types"`
	MaxRPS     int                `json:"max_rps"`
}

// Accepts reports whether events of type t should be sent to e. An empty
// filter accepts everything.
func (e Endpoint) Accepts(t events.EventType) bool {
	return len(e.EventTypes) == 0 || slices.Contains(e.EventTypes, t)
}

// EndpointStatus is an endpoint with its delivery counters.
type EndpointStatus struct {
	Endpoint
	CircuitState string `json:"circuit_state"`
	Delivered    int64  `json:"delivered"`
	Failed       int64  `json:"failed"`
}

// ParseEndpoints builds endpoints from comma-separated URL and event type
// lists. All endpoints share secret and maxRPS.
func ParseEndpoints(urls, secret, eventTypes string, maxRPS int) ([]Endpoint, error) {
	var types []events.EventType
	for _, t := range strings.Split(eventTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.EventType(t))
		}
	}

	var out []Endpoint
	for _, u := range strings.Split(urls, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if err := urlvalidation.ValidateHTTPURL(u); err != nil {
			return nil, fmt.Errorf("webhook %q: %w", u, err)
		}
		out = append(out, Endpoint{
			ID:         fmt.Sprintf("wh-%d", len(out)+1),
			URL:        u,
			Secret:     secret,
			EventTypes: types,
			MaxRPS:     maxRPS,
		})
	}
	return out, nil
}
