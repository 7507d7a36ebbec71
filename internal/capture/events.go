package capture

import "time"

// EventKind discriminates input events coming off an EventSource.
type EventKind int

const (
	EventMouseMove EventKind = iota
	EventMouseClick
	EventMouseScroll
	EventKeyDown
)

// Event is one OS input event, already reduced to what the kernel records.
type Event struct {
	Kind EventKind
	Time time.Time
	X    int
	Y    int
	// Key holds the printable character verbatim, or a symbolic name like
	// "shift" for non-printable keys. Key-down events only.
	Key string
}

// EventSource delivers global input events. Start may be called once per
// source; Stop closes the channel.
type EventSource interface {
	Start() (<-chan Event, error)
	Stop()
}
