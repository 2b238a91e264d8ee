// Package room implements the shared chat room: the bounded history ring,
// the live session roster, and the reference-counted broadcast fan-out.
// It is the single piece of state every session worker reads and writes
// concurrently, so its locking discipline is deliberately narrow: one
// RWMutex guards both the history ring and the roster, and every
// operation that can block (rendering to a remote channel) happens
// strictly outside that lock.
package room

import (
	"errors"
	"sync"
	"time"
)

// ErrRosterFull is returned by AddSession when the roster is at capacity.
var ErrRosterFull = errors.New("room: roster at capacity")

// Message is an immutable chat record, either user-authored or
// synthesized by the room for a join/leave notification.
type Message struct {
	Timestamp time.Time
	Username  string
	Content   string
}

// Session is the subset of per-connection state the room needs in order
// to maintain the roster and drive the render fan-out. The concrete
// implementation lives in internal/session; room never depends on it.
type Session interface {
	// Ref and Unref implement the broadcast hand-off: Ref is called
	// once per snapshot entry while the room write lock is held, and
	// Unref is called once per entry after rendering completes. A
	// transition to zero tears the session down.
	Ref()
	Unref()

	// IsConnected reports whether the session's transport is still
	// live. CanRender reports whether the session's current UI state
	// (no help overlay, no command-output overlay) permits a render
	// call right now. Both are read without the room lock held.
	IsConnected() bool
	CanRender() bool

	// DisplayName is used for roster listings.
	DisplayName() string
}

// Renderer is the external rendering collaborator. Implementations must
// take the room's read lock themselves to copy the visible message
// window before emitting anything, and must release it before writing
// to a session's transport — rendering is never called with the room
// lock held by the caller, but RenderMain still needs its own snapshot.
type Renderer interface {
	RenderMain(rm *Room, s Session)
	RenderInput(s Session, input []byte)
	RenderCommandOutput(s Session)
	RenderHelp(s Session)
	ClearScreen(s Session)
}

// Room is the singleton shared chat context: a bounded FIFO of messages
// and a capacity-bounded roster of live sessions, guarded by one RWMutex.
type Room struct {
	mu sync.RWMutex

	history    []Message
	historyCap int

	roster    []Session
	rosterCap int

	renderer Renderer
}

// New returns an empty Room with the given history and roster capacities.
func New(historyCap, rosterCap int, renderer Renderer) *Room {
	return &Room{
		history:    make([]Message, 0, historyCap),
		historyCap: historyCap,
		roster:     make([]Session, 0, rosterCap),
		rosterCap:  rosterCap,
		renderer:   renderer,
	}
}

// Seed populates the history ring from replayed log records without
// going through the broadcast path (no fan-out, no eviction beyond the
// capacity bound). Intended for startup only, before the accept loop.
func (r *Room) Seed(msgs []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if len(msgs) > r.historyCap {
		start = len(msgs) - r.historyCap
	}
	r.history = append(r.history[:0], msgs[start:]...)
}

// AddSession appends s to the roster, or returns ErrRosterFull if the
// roster is already at capacity.
func (r *Room) AddSession(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.roster) >= r.rosterCap {
		return ErrRosterFull
	}
	r.roster = append(r.roster, s)
	return nil
}

// RemoveSession removes s by identity. A no-op if s is not present.
func (r *Room) RemoveSession(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.roster {
		if existing == s {
			r.roster = append(r.roster[:i], r.roster[i+1:]...)
			return
		}
	}
}

// MessageCount returns the number of messages currently held in history.
func (r *Room) MessageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history)
}

// GetMessage returns the message at index i (0 = oldest) and whether i
// was in range.
func (r *Room) GetMessage(i int) (Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.history) {
		return Message{}, false
	}
	return r.history[i], true
}

// ClientCount returns the number of sessions currently in the roster.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roster)
}

// Snapshot returns a copy of the current history slice, suitable for a
// renderer to use after releasing the room lock. Copying is required:
// the underlying array may be reused or reordered by later evictions.
func (r *Room) Snapshot() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

// Roster returns a copy of the display names currently in the roster,
// in join order, for the `list`/`users`/`who` command.
func (r *Room) Roster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.roster))
	for i, s := range r.roster {
		names[i] = s.DisplayName()
	}
	return names
}

// RosterIndexOf returns self's position in the roster (matching the
// index Roster would give it), found by identity rather than display
// name so sessions sharing a name (several "anonymous", say) are told
// apart. Returns -1 if self is not currently in the roster.
func (r *Room) RosterIndexOf(self Session) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, s := range r.roster {
		if s == self {
			return i
		}
	}
	return -1
}

// Broadcast is the central fan-out. It appends msg to the history ring
// under the write lock, snapshots the roster with each session's
// reference count bumped, releases the lock, then renders to every live
// and render-eligible session before releasing the references. Renderer
// calls never happen with the room lock held.
func (r *Room) Broadcast(msg Message) {
	r.mu.Lock()
	if len(r.history) >= r.historyCap {
		copy(r.history, r.history[1:])
		r.history = r.history[:len(r.history)-1]
	}
	r.history = append(r.history, msg)

	snapshot := make([]Session, len(r.roster))
	copy(snapshot, r.roster)
	for _, s := range snapshot {
		s.Ref()
	}
	r.mu.Unlock()

	for _, s := range snapshot {
		if s.IsConnected() && s.CanRender() {
			r.renderer.RenderMain(r, s)
		}
		s.Unref()
	}
}
