package session

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ehrlich-b/tnt/internal/room"
)

// fakeTransport discards writes and records whether it was closed.
type fakeTransport struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeTransport) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeCloser records whether it was closed and, when ch is set, whether
// ch had already been closed at that moment.
type fakeCloser struct {
	closed        bool
	ch            *fakeTransport
	chClosedFirst bool
}

func (f *fakeCloser) Close() error {
	if f.ch != nil {
		f.ch.mu.Lock()
		f.chClosedFirst = f.ch.closed
		f.ch.mu.Unlock()
	}
	f.closed = true
	return nil
}

type fakeRenderer struct {
	mu            sync.Mutex
	mainCalls     int
	inputCalls    int
	helpCalls     int
	cmdOutCalls   int
	clearCalls    int
	lastInput     []byte
}

func (f *fakeRenderer) RenderMain(rm *room.Room, s room.Session) {
	f.mu.Lock()
	f.mainCalls++
	f.mu.Unlock()
}
func (f *fakeRenderer) RenderInput(s room.Session, input []byte) {
	f.mu.Lock()
	f.inputCalls++
	f.lastInput = input
	f.mu.Unlock()
}
func (f *fakeRenderer) RenderCommandOutput(s room.Session) {
	f.mu.Lock()
	f.cmdOutCalls++
	f.mu.Unlock()
}
func (f *fakeRenderer) RenderHelp(s room.Session) {
	f.mu.Lock()
	f.helpCalls++
	f.mu.Unlock()
}
func (f *fakeRenderer) ClearScreen(s room.Session) {
	f.mu.Lock()
	f.clearCalls++
	f.mu.Unlock()
}

func noMoreBytes() (byte, error) { return 0, errors.New("no more bytes") }

func newTestSession(t *testing.T, rm *room.Room, renderer room.Renderer) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	s := New("test-1", tr, &fakeCloser{}, 80, 24, rm, renderer, nil)
	s.SetDisplayName("alice")
	return s, tr
}

func TestInsertModeTypeAndSubmit(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)
	_ = rm.AddSession(s)

	for _, b := range []byte("hi") {
		s.HandleByte(b, noMoreBytes)
	}
	if got := s.InputBuffer(); got != "hi" {
		t.Fatalf("InputBuffer() = %q, want hi", got)
	}

	s.HandleByte('\r', noMoreBytes)
	if got := s.InputBuffer(); got != "" {
		t.Fatalf("InputBuffer() after submit = %q, want empty", got)
	}
	if rm.MessageCount() != 1 {
		t.Fatalf("MessageCount() = %d, want 1", rm.MessageCount())
	}
	msg, _ := rm.GetMessage(0)
	if msg.Content != "hi" || msg.Username != "alice" {
		t.Errorf("broadcast message = %+v, want content=hi username=alice", msg)
	}
}

func TestInsertModeBackspaceWordLineErase(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)

	for _, b := range []byte("hello world") {
		s.HandleByte(b, noMoreBytes)
	}
	s.HandleByte(127, noMoreBytes) // backspace
	if got := s.InputBuffer(); got != "hello worl" {
		t.Fatalf("after backspace = %q", got)
	}
	s.HandleByte(23, noMoreBytes) // Ctrl+W
	if got := s.InputBuffer(); got != "hello " {
		t.Fatalf("after Ctrl+W = %q", got)
	}
	s.HandleByte(21, noMoreBytes) // Ctrl+U
	if got := s.InputBuffer(); got != "" {
		t.Fatalf("after Ctrl+U = %q, want empty", got)
	}
}

func TestEscToNormalThenScrollBounds(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)
	_ = rm.AddSession(s)

	s.HandleByte(27, noMoreBytes) // ESC -> NORMAL
	if s.Mode() != ModeNormal {
		t.Fatalf("Mode() = %v, want NORMAL", s.Mode())
	}
	// No history yet: 'j' must not move past bound (-1).
	s.HandleByte('j', noMoreBytes)
	if s.MainScrollPos() != 0 {
		t.Errorf("MainScrollPos() = %d, want 0 (no history to scroll into)", s.MainScrollPos())
	}
	s.HandleByte('k', noMoreBytes) // already at 0, must stay
	if s.MainScrollPos() != 0 {
		t.Errorf("MainScrollPos() = %d after k at floor, want 0", s.MainScrollPos())
	}
}

func TestHelpOverlayLifecycle(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)

	s.HandleByte(27, noMoreBytes)
	s.HandleByte('?', noMoreBytes)
	if s.Mode() != ModeHelp {
		t.Fatalf("Mode() = %v, want HELP", s.Mode())
	}
	s.HandleByte('e', noMoreBytes)
	if s.HelpLang() != HelpEnglish {
		t.Errorf("HelpLang() = %v, want English", s.HelpLang())
	}
	s.HandleByte('q', noMoreBytes)
	if s.Mode() != ModeNormal {
		t.Fatalf("Mode() after dismiss = %v, want NORMAL", s.Mode())
	}
}

func TestCommandDispatchUnknown(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)
	_ = rm.AddSession(s)

	s.HandleByte(27, noMoreBytes)  // NORMAL
	s.HandleByte(':', noMoreBytes) // COMMAND
	for _, b := range []byte("bogus") {
		s.HandleByte(b, noMoreBytes)
	}
	s.HandleByte('\r', noMoreBytes)

	out := s.CommandOutput()
	if !strings.Contains(out, "Unknown command: bogus") {
		t.Fatalf("CommandOutput() = %q, want Unknown command diagnostic", out)
	}
	if s.CanRender() {
		t.Errorf("CanRender() = true while command-output overlay is active")
	}

	// Any key dismisses the overlay.
	s.HandleByte('x', noMoreBytes)
	if s.CommandOutput() != "" {
		t.Errorf("CommandOutput() after dismiss = %q, want empty", s.CommandOutput())
	}
	if !s.CanRender() {
		t.Errorf("CanRender() = false after overlay dismissed")
	}
}

func TestCommandDispatchList(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)
	_ = rm.AddSession(s)

	s.HandleByte(27, noMoreBytes)
	s.HandleByte(':', noMoreBytes)
	for _, b := range []byte("list") {
		s.HandleByte(b, noMoreBytes)
	}
	s.HandleByte('\r', noMoreBytes)

	out := s.CommandOutput()
	if !strings.Contains(out, "alice") {
		t.Fatalf("CommandOutput() = %q, want roster to include alice", out)
	}
	if !strings.Contains(out, "* 1. alice") {
		t.Errorf("CommandOutput() = %q, want self marked with *", out)
	}
}

func TestCtrlCSemantics(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)

	// In INSERT, Ctrl+C returns to NORMAL, no disconnect.
	disconnect := s.HandleByte(3, noMoreBytes)
	if disconnect {
		t.Fatalf("Ctrl+C in INSERT disconnected, want false")
	}
	if s.Mode() != ModeNormal {
		t.Fatalf("Mode() after Ctrl+C in INSERT = %v, want NORMAL", s.Mode())
	}

	// In NORMAL, Ctrl+C disconnects.
	disconnect = s.HandleByte(3, noMoreBytes)
	if !disconnect {
		t.Fatalf("Ctrl+C in NORMAL did not disconnect")
	}
}

func TestRefCountTeardownOrder(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	tr := &fakeTransport{}
	sc := &fakeCloser{ch: tr}
	s := New("id", tr, sc, 80, 24, rm, renderer, nil)

	s.Ref() // refs = 2
	s.Unref()
	if tr.closed || sc.closed {
		t.Fatalf("transport closed before refcount reached zero")
	}
	s.Unref() // refs = 0
	if !tr.closed {
		t.Errorf("channel not closed on final Unref")
	}
	if !sc.closed {
		t.Errorf("ssh session not closed on final Unref")
	}
	if !sc.chClosedFirst {
		t.Errorf("ssh session closed before the channel, want channel first")
	}
	if s.IsConnected() {
		t.Errorf("IsConnected() = true after teardown")
	}
}

func TestJoinLeaveMessages(t *testing.T) {
	renderer := &fakeRenderer{}
	rm := room.New(100, 64, renderer)
	s, _ := newTestSession(t, rm, renderer)
	_ = rm.AddSession(s)

	s.Join()
	msg, _ := rm.GetMessage(0)
	if msg.Content != "alice joined the room" || msg.Username != systemUsername {
		t.Fatalf("join message = %+v", msg)
	}

	s.Leave()
	msg, _ = rm.GetMessage(1)
	if msg.Content != "alice left the room" {
		t.Fatalf("leave message = %+v", msg)
	}
}

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		raw      string
		want     string
		rejected bool
	}{
		{"", "anonymous", false},
		{"bob", "bob", false},
		{" bob", "anonymous", true},
		{".bob", "anonymous", true},
		{"-bob", "anonymous", true},
		{"bob|evil", "anonymous", true},
		{"bob;rm", "anonymous", true},
		{strings.Repeat("中", 30), strings.Repeat("中", 10), false},
	}
	for _, c := range cases {
		name, rejected := ValidateUsername(c.raw)
		if name != c.want || rejected != c.rejected {
			t.Errorf("ValidateUsername(%q) = (%q, %v), want (%q, %v)", c.raw, name, rejected, c.want, c.rejected)
		}
	}
}

func TestUsernamePromptAssembly(t *testing.T) {
	var p UsernamePrompt
	for _, b := range []byte("bob") {
		if done := p.HandleByte(b, noMoreBytes); done {
			t.Fatalf("prompt ended early")
		}
	}
	if done := p.HandleByte('\r', noMoreBytes); !done {
		t.Fatalf("prompt did not end on CR")
	}
	if p.Raw() != "bob" {
		t.Errorf("Raw() = %q, want bob", p.Raw())
	}
}
