// Package state tracks the status of the current conversation turn and
// enforces the allowed transitions between statuses.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-dialogue/internal/audio"
)

// ErrInvalidTransition is returned for a transition the turn graph does not
// allow.
var ErrInvalidTransition = errors.New("state: invalid transition")

type Status int

const (
	WaitingForSpeech Status = iota
	Recording
	Transcribing
	Generating
	Synthesizing
	Speaking
	Completed
	ErrorRecovery
)

func (s Status) String() string {
	switch s {
	case WaitingForSpeech:
		return "WaitingForSpeech"
	case Recording:
		return "Recording"
	case Transcribing:
		return "Transcribing"
	case Generating:
		return "Generating"
	case Synthesizing:
		return "Synthesizing"
	case Speaking:
		return "Speaking"
	case Completed:
		return "Completed"
	case ErrorRecovery:
		return "ErrorRecovery"
	default:
		return "Unknown"
	}
}

// next lists the statuses reachable from each status, apart from
// ErrorRecovery which every other status may enter.
var next = map[Status][]Status{
	WaitingForSpeech: {Recording},
	Recording:        {Transcribing, WaitingForSpeech},
	Transcribing:     {Generating, WaitingForSpeech},
	Generating:       {Synthesizing},
	Synthesizing:     {Speaking},
	Speaking:         {Completed},
	Completed:        {WaitingForSpeech},
	ErrorRecovery:    {WaitingForSpeech},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	if to == ErrorRecovery {
		return from != ErrorRecovery
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Turn is one pass through the dialogue loop.
type Turn struct {
	Ordinal   int
	Input     *audio.Buffer
	Utterance string
	Reply     string
	// Artifact is the path of the synthesized reply.
	Artifact string
	Status   Status
}

// Change describes one status transition.
type Change struct {
	Turn int
	From Status
	To   Status
	At   time.Time
}

// Listener is notified after every transition. It must not call back into
// the Manager.
type Listener interface {
	OnStateChange(Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Change)

func (f ListenerFunc) OnStateChange(c Change) { f(c) }

// Manager holds the current turn. It is safe for concurrent use.
type Manager struct {
	log *slog.Logger

	mu        sync.Mutex
	turn      Turn
	started   int
	listeners map[int]Listener
	nextID    int
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:       log.With("component", "state"),
		turn:      Turn{Status: WaitingForSpeech},
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// BeginTurn discards the previous turn and starts a new one waiting for
// speech. It fails unless the previous turn has returned to
// WaitingForSpeech.
func (m *Manager) BeginTurn() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.turn.Status != WaitingForSpeech {
		return 0, fmt.Errorf("%w: begin turn while %s", ErrInvalidTransition, m.turn.Status)
	}
	m.started++
	m.turn = Turn{Ordinal: m.started, Status: WaitingForSpeech}
	return m.started, nil
}

// Transition moves the current turn to status to.
func (m *Manager) Transition(to Status) error {
	m.mu.Lock()
	from := m.turn.Status
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.turn.Status = to
	change := Change{Turn: m.turn.Ordinal, From: from, To: to, At: time.Now()}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.log.Debug("state changed", "turn", change.Turn, "from", from.String(), "to", to.String())
	for _, l := range listeners {
		l.OnStateChange(change)
	}
	return nil
}

// Update applies fn to the current turn under the manager lock. fn must not
// change Status.
func (m *Manager) Update(fn func(t *Turn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.turn.Status
	fn(&m.turn)
	m.turn.Status = status
}

// Current returns the status of the current turn.
func (m *Manager) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn.Status
}

// Turn returns a copy of the current turn.
func (m *Manager) Turn() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turn
}

// Turns returns how many turns have been started.
func (m *Manager) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
