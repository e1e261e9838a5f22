package presence

import (
	"math"
	"sort"
	"time"

	"voteboard/internal/app/identity"
)

const (
	cursorMin    = 0.0
	cursorMax    = 100.0
	cursorCenter = 50.0
)

// Session is the ephemeral state of one live connection.
type Session struct {
	ConnectionID string
	Identity     identity.Identity
	Identified   bool
	Cursor       Cursor
	TypingText   string
	IsTyping     bool
	OpenedAt     time.Time

	seq uint64
}

// Peer returns the public view of s.
func (s Session) Peer() Peer {
	return Peer{
		ConnectionID: s.ConnectionID,
		DisplayName:  s.Identity.DisplayName,
		DisplayColor: s.Identity.DisplayColor,
		Cursor:       s.Cursor,
		Text:         s.TypingText,
		IsTyping:     s.IsTyping,
	}
}

// Registry is the table of live sessions keyed by connection id.
// It is not safe for concurrent use; the Hub is its only owner.
type Registry struct {
	sessions map[string]*Session
	seq      uint64
	now      func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Open creates an unidentified session. Opening an id twice returns the existing session.
func (r *Registry) Open(connectionID string) Session {
	if s, ok := r.sessions[connectionID]; ok {
		return *s
	}

	r.seq++
	s := &Session{
		ConnectionID: connectionID,
		OpenedAt:     r.now(),
		seq:          r.seq,
	}
	r.sessions[connectionID] = s
	return *s
}

// Identify binds id to the session and resets its presence state to the defaults.
// It reports false when the connection has no open session.
func (r *Registry) Identify(connectionID string, id identity.Identity) (Session, bool) {
	s, ok := r.sessions[connectionID]
	if !ok {
		return Session{}, false
	}

	s.Identity = id
	s.Identified = true
	s.Cursor = Cursor{X: cursorCenter, Y: cursorCenter}
	s.TypingText = ""
	s.IsTyping = false
	return *s, true
}

// UpdateCursor clamps x and y to [0,100] and stores them.
// It is a no-op returning false for unknown or unidentified sessions and non-finite values.
func (r *Registry) UpdateCursor(connectionID string, x, y float64) (Session, bool) {
	s, ok := r.identified(connectionID)
	if !ok || !finite(x) || !finite(y) {
		return Session{}, false
	}

	s.Cursor = Cursor{X: clamp(x), Y: clamp(y)}
	return *s, true
}

// UpdateTyping replaces the typing state of an identified session.
func (r *Registry) UpdateTyping(connectionID, text string, isTyping bool) (Session, bool) {
	s, ok := r.identified(connectionID)
	if !ok {
		return Session{}, false
	}

	s.TypingText = text
	s.IsTyping = isTyping
	return *s, true
}

// Close removes the session and returns it. The second close of an id reports false.
func (r *Registry) Close(connectionID string) (Session, bool) {
	s, ok := r.sessions[connectionID]
	if !ok {
		return Session{}, false
	}

	delete(r.sessions, connectionID)
	return *s, true
}

// Snapshot returns every identified session in the order they were opened.
func (r *Registry) Snapshot() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Identified {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// IdentifiedLen returns the number of identified sessions.
func (r *Registry) IdentifiedLen() int {
	n := 0
	for _, s := range r.sessions {
		if s.Identified {
			n++
		}
	}
	return n
}

func (r *Registry) identified(connectionID string) (*Session, bool) {
	s, ok := r.sessions[connectionID]
	if !ok || !s.Identified {
		return nil, false
	}
	return s, true
}

func clamp(v float64) float64 {
	return math.Max(cursorMin, math.Min(cursorMax, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
