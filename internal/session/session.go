package session

import (
	"fmt"
	"sync"
)

// State is one position in the per-minion message/stream state machine:
//
//	Idle → Queued → Starting → Streaming → {Interrupting | AwaitingUserInput} → Idle
//
// Maintenance turns continue Streaming → Compacting as soon as the stream
// starts, so observers can tell a compaction turn from a real one.
type State string

const (
	StateIdle              State = "idle"
	StateQueued            State = "queued"
	StateStarting          State = "starting"
	StateStreaming         State = "streaming"
	StateInterrupting      State = "interrupting"
	StateCompacting        State = "compacting"
	StateAwaitingUserInput State = "awaiting_user_input"
)

// transitions enumerates the legal state machine edges.
var transitions = map[State][]State{
	StateIdle:              {StateStarting, StateQueued},
	StateQueued:            {StateStarting, StateIdle},
	StateStarting:          {StateStreaming, StateIdle, StateInterrupting},
	StateStreaming:         {StateInterrupting, StateCompacting, StateAwaitingUserInput, StateIdle},
	StateInterrupting:      {StateIdle},
	StateCompacting:        {StateInterrupting, StateIdle},
	StateAwaitingUserInput: {StateStreaming, StateIdle},
}

// AISettings caches the minion's effective model configuration between turns.
type AISettings struct {
	Model         string `json:"model"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`
}

// QueuedMessage is a send that arrived while the session was busy.
type QueuedMessage struct {
	Text     string
	Settings AISettings

	// PersistDefaults controls whether the effective settings overwrite the
	// minion's stored defaults when the message is eventually dispatched.
	// Compaction turns never overwrite user defaults.
	PersistDefaults bool
}

// Session owns the message queue and streaming state machine for one minion.
// At most one model stream is in flight at a time. Safe for concurrent use.
type Session struct {
	minionID string

	mu       sync.Mutex
	state    State
	queue    []QueuedMessage
	settings *AISettings

	// compacting tags the in-flight turn as a maintenance turn. It is
	// reported only on the stream-ended snapshot, never on stream-start,
	// so stale tags cannot leak into the next real turn.
	compacting bool

	// pendingCompactionPaths caches tracked file paths awaiting the
	// post-compaction rewrite of the tracking file.
	pendingCompactionPaths []string

	disposed bool
}

// New creates an idle session for the given minion.
func New(minionID string) *Session {
	return &Session{minionID: minionID, state: StateIdle}
}

// MinionID returns the minion this session belongs to.
func (s *Session) MinionID() string { return s.minionID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsBusy reports whether a stream is in flight (or being started or torn
// down). A busy session queues new sends instead of streaming them.
func (s *Session) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked()
}

func (s *Session) busyLocked() bool {
	switch s.state {
	case StateStarting, StateStreaming, StateInterrupting, StateCompacting:
		return true
	}
	return false
}

// Transition moves the state machine to next, validating the edge.
// Invalid transitions return an error and leave the state unchanged.
func (s *Session) Transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(next)
}

func (s *Session) transitionLocked(next State) error {
	if s.disposed {
		return fmt.Errorf("session disposed")
	}
	for _, allowed := range transitions[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, next)
}

// BeginTurn moves to Starting if the session is free, returning false when
// the caller should queue instead. The check and the transition happen under
// one lock so two concurrent sends cannot both start streaming.
func (s *Session) BeginTurn(compaction bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busyLocked() {
		return false
	}
	if err := s.transitionLocked(StateStarting); err != nil {
		return false
	}
	s.compacting = compaction
	return true
}

// StreamStarted moves Starting → Streaming. A maintenance turn continues
// straight into Compacting.
func (s *Session) StreamStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(StateStreaming); err != nil {
		return err
	}
	if s.compacting {
		return s.transitionLocked(StateCompacting)
	}
	return nil
}

// EndTurn returns the session to Idle from any in-flight state and reports
// whether the finished turn was a compaction turn. The compaction tag is
// consumed here: it applies to the stream-ended snapshot only.
func (s *Session) EndTurn() (wasCompaction bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasCompaction = s.compacting
	s.compacting = false
	if len(s.queue) > 0 {
		s.state = StateQueued
	} else {
		s.state = StateIdle
	}
	return wasCompaction
}

// Enqueue appends a message to the FIFO queue.
func (s *Session) Enqueue(msg QueuedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, msg)
	if s.state == StateIdle {
		s.state = StateQueued
	}
}

// DrainQueue removes and returns all queued messages in FIFO order.
func (s *Session) DrainQueue() []QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue
	s.queue = nil
	if s.state == StateQueued {
		s.state = StateIdle
	}
	return q
}

// QueueLen returns the number of queued messages.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Settings returns the cached AI settings, or nil when none are cached.
func (s *Session) Settings() *AISettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil
	}
	cp := *s.settings
	return &cp
}

// SetSettings caches the minion's effective AI settings.
func (s *Session) SetSettings(settings AISettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
}

// SetPendingCompactionPaths caches tracked file paths for the next
// post-compaction rewrite.
func (s *Session) SetPendingCompactionPaths(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCompactionPaths = append([]string(nil), paths...)
}

// TakePendingCompactionPaths returns and clears the cached paths.
func (s *Session) TakePendingCompactionPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingCompactionPaths
	s.pendingCompactionPaths = nil
	return p
}

// Dispose tears the session down. Queued messages are dropped; subsequent
// transitions fail. The minion itself is untouched; a fresh session is
// created lazily on next access.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.queue = nil
	s.state = StateIdle
}

// Disposed reports whether Dispose has been called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
