package adapter

// EventKind discriminates the Event tagged union.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
	EventMessage      EventKind = "message"
)

// Event is emitted by an Adapter onto its Events channel. Exactly the
// fields relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	Platform string

	// EventError
	Err error

	// EventDisconnected
	Reason string

	// EventMessage
	Payload Payload
}

// EventBufferSize is the capacity of each adapter's Events channel. Sized
// to absorb a burst larger than one health-check tick's worth of chat
// traffic without blocking the adapter's read loop; the manager drains
// continuously so steady-state occupancy is near zero.
const EventBufferSize = 256
