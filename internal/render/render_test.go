package render

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/tnt/internal/room"
	"github.com/ehrlich-b/tnt/internal/session"
)

type fakeTransport struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Write(p)
}
func (f *fakeTransport) Close() error { return nil }
func (f *fakeTransport) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

type fakeCloser struct{}

func (fakeCloser) Close() error { return nil }

func noMoreBytes() (byte, error) { return 0, errors.New("no more bytes") }

func newTestSession(rm *room.Room, r room.Renderer, width, height int) (*session.Session, *fakeTransport) {
	tr := &fakeTransport{}
	s := session.New("t1", tr, fakeCloser{}, width, height, rm, r, nil)
	s.SetDisplayName("alice")
	return s, tr
}

func TestRenderMainProducesTitleAndMessage(t *testing.T) {
	rr := New()
	rm := room.New(100, 64, rr)
	s, tr := newTestSession(rm, rr, 40, 10)
	_ = rm.AddSession(s)

	rm.Broadcast(room.Message{Timestamp: time.Now(), Username: "bob", Content: "hello"})

	out := tr.String()
	if !strings.Contains(out, "聊天室") {
		t.Errorf("RenderMain output missing title, got %q", out)
	}
	if !strings.Contains(out, "bob") || !strings.Contains(out, "hello") {
		t.Errorf("RenderMain output missing message content, got %q", out)
	}
	if !strings.Contains(out, "> ") {
		t.Errorf("RenderMain output missing INSERT prompt, got %q", out)
	}
}

func TestRenderInputTruncatesFromStart(t *testing.T) {
	rr := New()
	rm := room.New(100, 64, rr)
	s, tr := newTestSession(rm, rr, 10, 10)
	_ = rm.AddSession(s)

	long := strings.Repeat("x", 20)
	rr.RenderInput(s, []byte(long))

	out := tr.String()
	if strings.Contains(out, "xxxxxxxxxxxxxxxxxxxx") {
		t.Errorf("RenderInput did not truncate long input: %q", out)
	}
	if !strings.HasSuffix(out, "x") {
		t.Errorf("RenderInput output should end with tail of input: %q", out)
	}
}

func TestRenderCommandOutputCapsLines(t *testing.T) {
	rr := New()
	rm := room.New(100, 64, rr)
	s, tr := newTestSession(rm, rr, 40, 5)
	_ = rm.AddSession(s)

	s.HandleByte(27, noMoreBytes)
	s.HandleByte(':', noMoreBytes)
	for _, b := range []byte("list") {
		s.HandleByte(b, noMoreBytes)
	}
	s.HandleByte('\r', noMoreBytes)

	out := tr.String()
	if !strings.Contains(out, "COMMAND OUTPUT") {
		t.Errorf("RenderCommandOutput missing title, got %q", out)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("RenderCommandOutput missing roster content, got %q", out)
	}
}

func TestRenderHelpShowsBothLanguages(t *testing.T) {
	rr := New()
	rm := room.New(100, 64, rr)
	s, tr := newTestSession(rm, rr, 60, 20)
	_ = rm.AddSession(s)

	s.HandleByte(27, noMoreBytes)
	s.HandleByte('?', noMoreBytes)
	out := tr.String()
	if !strings.Contains(out, "终端聊天室") {
		t.Errorf("RenderHelp default (Chinese) output missing, got %q", out)
	}

	s.HandleByte('e', noMoreBytes)
	out = tr.String()
	if !strings.Contains(out, "TERMINAL CHAT ROOM") {
		t.Errorf("RenderHelp English output missing after switch, got %q", out)
	}
}

func TestUsernameColorDeterministic(t *testing.T) {
	r1, g1, b1 := usernameColor("alice")
	r2, g2, b2 := usernameColor("alice")
	if r1 != r2 || g1 != g2 || b1 != b2 {
		t.Fatalf("usernameColor not deterministic: (%d,%d,%d) vs (%d,%d,%d)", r1, g1, b1, r2, g2, b2)
	}
}

func TestColorizeUsernameWrapsOnlyUsername(t *testing.T) {
	line := "[2026-01-01 00:00 UTC] alice: hello"
	out := colorizeUsername(line, "alice")
	if !strings.Contains(out, "alice:") {
		t.Fatalf("colorizeUsername dropped text: %q", out)
	}
	if !strings.HasPrefix(out, "[2026-01-01 00:00 UTC] \x1b[38;2;") {
		t.Errorf("colorizeUsername should color only the username segment, got %q", out)
	}
}
