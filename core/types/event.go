package types

// Event represents a typed event recorded alongside a committed settlement.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}

// EventType returns the event's type string.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}
