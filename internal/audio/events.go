package audio

import (
	"sync"
	"time"
)

// EventKind identifies a recorder or player lifecycle event.
type EventKind int

const (
	EventRecordingStarted EventKind = iota
	EventRecordingStopped
	EventPlaybackStarted
	EventPlaybackFinished
	EventPlaybackFailed
)

func (k EventKind) String() string {
	switch k {
	case EventRecordingStarted:
		return "RecordingStarted"
	case EventRecordingStopped:
		return "RecordingStopped"
	case EventPlaybackStarted:
		return "PlaybackStarted"
	case EventPlaybackFinished:
		return "PlaybackFinished"
	case EventPlaybackFailed:
		return "PlaybackFailed"
	default:
		return "Unknown"
	}
}

// Event is delivered to every subscribed Observer.
type Event struct {
	Kind EventKind
	At   time.Time
	// Buffer is set on RecordingStopped when a recording was produced.
	Buffer *Buffer
	// Err is set on PlaybackFailed.
	Err error
}

// Observer receives lifecycle events. Implementations must not block; events
// are delivered synchronously on the goroutine that produced them.
type Observer interface {
	OnAudioEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnAudioEvent(e Event) { f(e) }

type dispatcher struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]Observer
}

// subscribe registers o and returns a function that removes it.
func (d *dispatcher) subscribe(o Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.observers == nil {
		d.observers = make(map[int]Observer)
	}
	id := d.nextID
	d.nextID++
	d.observers[id] = o

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

func (d *dispatcher) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	d.mu.RLock()
	observers := make([]Observer, 0, len(d.observers))
	for _, o := range d.observers {
		observers = append(observers, o)
	}
	d.mu.RUnlock()

	for _, o := range observers {
		o.OnAudioEvent(e)
	}
}
