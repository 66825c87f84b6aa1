package server

import "sync"

// SessionState is the client session lifecycle state, per spec.md §4.5:
// Available -> Initializing -> Active -> Closing -> Available.
type SessionState int

// Session states.
const (
	StateAvailable SessionState = iota
	StateInitializing
	StateActive
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateAvailable:
		return "Available"
	case StateInitializing:
		return "Initializing"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Position is a session's spatial metadata, carried alongside its audio
// so a renderer can place it in sync with on-screen visuals.
type Position struct {
	X, Y, Width, Height, Depth int
}

// Session is one registered client: identity, negotiated format,
// mix parameters, position, and the seven subscription lists spec.md
// §4.5 describes. Session itself holds no reference to its audio-thread
// kernel or network-thread receiver/queue/sender — those are attached
// and detached by the Manager as the session moves through its state
// machine, keeping this struct safe for the control thread to read and
// mutate under its own lock.
type Session struct {
	mu sync.Mutex

	ID    ClientID
	Name  string
	state SessionState

	Channels         int
	SampleRate       int
	SamplesPerPacket int
	TypeID           int
	PresetID         int

	Position Position

	Volume float64
	Mute   bool
	Solo   bool
	DelayMS int

	VersionMajor, VersionMinor, VersionPatch int

	Subs *SubscriptionTable

	// deleteMe is set when the session is flagged for teardown (explicit
	// unregister, TCP disconnect, manager shutdown); the audio thread
	// checks this once per block and stops processing the session on the
	// next tick, per spec.md §4.5 and the two-phase quiescence the
	// concurrency model requires.
	deleteMe bool
}

// NewSession creates a session in the Available state.
func NewSession(id ClientID) *Session {
	return &Session{
		ID:     id,
		state:  StateAvailable,
		Subs:   NewSubscriptionTable(),
		Volume: 1.0,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session to next, returning false (and leaving
// state unchanged) if the transition isn't one of the five the state
// machine allows.
func (s *Session) transition(next SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := false
	switch s.state {
	case StateAvailable:
		ok = next == StateInitializing
	case StateInitializing:
		ok = next == StateActive || next == StateClosing
	case StateActive:
		ok = next == StateClosing
	case StateClosing:
		ok = next == StateAvailable
	}
	if ok {
		s.state = next
	}
	return ok
}

// BeginInitializing moves Available -> Initializing on a valid
// registration request.
func (s *Session) BeginInitializing() bool { return s.transition(StateInitializing) }

// Activate moves Initializing -> Active once sockets and output ports
// are bound, per spec.md §4.5.
func (s *Session) Activate() bool { return s.transition(StateActive) }

// BeginClosing moves Active (or a still-Initializing session that never
// reached Active) -> Closing, and flags the session for the audio
// thread to stop processing on its next block.
func (s *Session) BeginClosing() bool {
	s.mu.Lock()
	wasActive := s.state == StateActive || s.state == StateInitializing
	s.mu.Unlock()
	if !wasActive {
		return false
	}
	ok := s.transition(StateClosing)
	if ok {
		s.mu.Lock()
		s.deleteMe = true
		s.mu.Unlock()
	}
	return ok
}

// Release moves Closing -> Available once the audio thread has observed
// deleteMe and stopped touching the session.
func (s *Session) Release() bool {
	ok := s.transition(StateAvailable)
	if ok {
		s.mu.Lock()
		s.deleteMe = false
		s.mu.Unlock()
	}
	return ok
}

// MarkedForDeletion reports whether the audio thread should stop
// processing this session starting with the next block.
func (s *Session) MarkedForDeletion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMe
}

// SetParam applies a control-thread parameter update under the
// session's lock; it does not itself notify subscribers — callers
// (dispatch.go) do that after a successful set.
func (s *Session) SetParam(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Snapshot copies the fields needed for a /sam/stream/add or
// /sam/app/registered notification without holding the lock across I/O.
type Snapshot struct {
	ID               ClientID
	Name             string
	Channels         int
	TypeID           int
	PresetID         int
	Volume           float64
	Mute             bool
	Solo             bool
	DelayMS          int
	Position         Position
	ChannelAssignment []int
}

// Snap takes a consistent snapshot of the session's notifiable fields.
func (s *Session) Snap(channelAssignment []int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                s.ID,
		Name:              s.Name,
		Channels:          s.Channels,
		TypeID:            s.TypeID,
		PresetID:          s.PresetID,
		Volume:            s.Volume,
		Mute:              s.Mute,
		Solo:              s.Solo,
		DelayMS:           s.DelayMS,
		Position:          s.Position,
		ChannelAssignment: channelAssignment,
	}
}
