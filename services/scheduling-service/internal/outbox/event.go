package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

// Event is the envelope written to the outbox table. The Kafka topic name
// equals EventType (production-style: event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// FromDomain marshals drained appointment events into outbox envelopes.
func FromDomain(events []appointment.Event) ([]Event, error) {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
		}
		out = append(out, Event{
			AggregateType: "appointment",
			AggregateID:   ev.AggregateID(),
			EventType:     ev.EventType(),
			Payload:       payload,
		})
	}
	return out, nil
}
