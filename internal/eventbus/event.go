package eventbus

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Event is (name, payload, timestamp, optional fire_time), per spec §3's
// "Scheduled event record" and §4.5's Event shape. The payload is only
// JSON-encoded when a scheduled event is persisted, so its values must be
// JSON-encodable for scheduling; immediately dispatched events can carry
// arbitrary values (AuditEvent carries the *orm.Instance and the request).
type Event struct {
	Name      string         `json:"name"`
	Payload   map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with the current time as its timestamp.
func NewEvent(name string, payload map[string]any) Event {
	return Event{Name: name, Payload: payload, Timestamp: time.Now()}
}

// persistedScheduledEvent is the on-disk shape required by §4.5: "a list of
// {event: base64-opaque, fire_time: ISO-8601} on disk".
type persistedScheduledEvent struct {
	Event    string `json:"event"`
	FireTime string `json:"fire_time"`
}

func encodeEvent(e Event) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("eventbus: marshal event: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeEvent(opaque string) (Event, error) {
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return Event{}, fmt.Errorf("eventbus: decode event: %w", err)
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("eventbus: unmarshal event: %w", err)
	}
	return e, nil
}
