package sseclient

import "errors"

// DefaultEvent is the name unnamed messages are delivered under.
const DefaultEvent = "message"

var (
	// ErrNoURL is returned by Connect when the client has no URL configured.
	ErrNoURL = errors.New("sseclient: no url configured")

	// ErrConnectAborted is returned by a pending Connect that was abandoned by
	// Disconnect or by a newer Connect.
	ErrConnectAborted = errors.New("sseclient: connect aborted")
)

// MessageEvent is one event as delivered by a Source.
type MessageEvent struct {
	// Type is the event name, DefaultEvent for unnamed events.
	Type        string
	Data        string
	LastEventID string
	// Origin is the URL of the source that produced the event.
	Origin string
}

// HandlerFunc receives a formatted payload and the event's last-event ID.
type HandlerFunc func(data any, lastEventID string)

// EventListener receives raw events from a Source.
// Implementations must be comparable (pointer types are), since
// RemoveEventListener matches by equality.
type EventListener interface {
	HandleEvent(ev *MessageEvent)
}

// ReadyState mirrors the EventSource connection states.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func normalizeEvent(event string) string {
	if event == "" {
		return DefaultEvent
	}
	return event
}
