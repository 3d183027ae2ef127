package tracker

import "time"

// EventType names a tracker lifecycle or sync event.
type EventType string

const (
	// EventStarted is emitted when a watch starts.
	EventStarted EventType = "started"
	// EventStopped is emitted when a running watch is stopped.
	EventStopped EventType = "stopped"
	// EventInert is emitted when Start fails and tracking stays off.
	EventInert EventType = "inert"
	// EventReloaded is emitted after a committed reload.
	EventReloaded EventType = "reloaded"
	// EventFailed is emitted after a failed reload attempt.
	EventFailed EventType = "failed"
)

// Event describes something that happened to a tracker.
type Event struct {
	Type       EventType
	DocumentID int64
	Document   string
	Keynotes   string
	Err        error
	Time       time.Time
}

// Observer receives tracker events. Notify is called synchronously from
// the goroutine driving the tracker and must not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(e Event) { f(e) }
