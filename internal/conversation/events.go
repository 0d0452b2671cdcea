package conversation

import "sync"

// EventKind identifies a user-facing moment of the dialogue.
type EventKind int

const (
	// EventListening fires when a turn starts waiting for speech.
	EventListening EventKind = iota
	// EventUtterance carries the recognized text.
	EventUtterance
	// EventReply carries the reply about to be spoken.
	EventReply
	// EventHint carries a prompt for the user, e.g. after unrecognized speech.
	EventHint
	// EventRecovered fires after a failed turn returned to waiting.
	EventRecovered
)

func (k EventKind) String() string {
	switch k {
	case EventListening:
		return "Listening"
	case EventUtterance:
		return "Utterance"
	case EventReply:
		return "Reply"
	case EventHint:
		return "Hint"
	case EventRecovered:
		return "Recovered"
	default:
		return "Unknown"
	}
}

type Event struct {
	Kind EventKind
	Turn int
	Text string
	// Err is the failure behind EventRecovered.
	Err error
}

// Listener receives conversation events on the orchestrator goroutine.
type Listener interface {
	OnConversationEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnConversationEvent(e Event) { f(e) }

type listeners struct {
	mu     sync.RWMutex
	nextID int
	set    map[int]Listener
}

func (l *listeners) add(x Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set == nil {
		l.set = make(map[int]Listener)
	}
	id := l.nextID
	l.nextID++
	l.set[id] = x
	return func() {
		l.mu.Lock()
		delete(l.set, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(e Event) {
	l.mu.RLock()
	out := make([]Listener, 0, len(l.set))
	for _, x := range l.set {
		out = append(out, x)
	}
	l.mu.RUnlock()

	for _, x := range out {
		x.OnConversationEvent(e)
	}
}
