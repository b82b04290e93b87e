// Package event defines the event types the forwarder knows how to route.
package event

import "fmt"

// Type identifies a kind of upstream event.
type Type int

const (
	// Unknown is the zero value and is never routed.
	Unknown Type = iota
	// Raddec is a radio decoding (the historical primary event type).
	Raddec
	// Dynamb is a dynamic ambient sensor reading.
	Dynamb
	// Spatem is a spatial-temporal position update.
	Spatem
)

var names = map[Type]string{
	Raddec: "raddec",
	Dynamb: "dynamb",
	Spatem: "spatem",
}

// All returns every routable type in declaration order.
func All() []Type {
	return []Type{Raddec, Dynamb, Spatem}
}

// ParseType maps an event name to its Type. Only the exact lower-case name
// matches; "RADDEC" and " raddec" are unknown.
func ParseType(name string) (Type, bool) {
	for t, s := range names {
		if s == name {
			return t, true
		}
	}
	return Unknown, false
}

func (t Type) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether t is one of the routable types.
func (t Type) Valid() bool {
	_, ok := names[t]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid event type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, ok := ParseType(string(b))
	if !ok {
		return fmt.Errorf("unknown event type %q", string(b))
	}
	*t = parsed
	return nil
}
