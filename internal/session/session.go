// Package session implements the per-connection modal input FSM: the
// streaming byte-at-a-time UTF-8 decoder, the INSERT/NORMAL/COMMAND/HELP
// state machine, username entry, and command dispatch. It is the piece
// that drives internal/room and internal/render from raw channel bytes.
package session

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/tnt/internal/msglog"
	"github.com/ehrlich-b/tnt/internal/room"
	"github.com/ehrlich-b/tnt/internal/utf8scan"
)

// Mode is the session's primary editing mode. Help and command-output
// are tracked as overlays rather than Mode values (mirroring how the
// state actually behaves: either overlay can be dismissed back to
// whatever mode it interrupted), but the Mode accessor reports ModeHelp
// while the help overlay is up, for anything that needs the four-way
// view the data model describes.
type Mode int

const (
	ModeInsert Mode = iota
	ModeNormal
	ModeCommand
	ModeHelp
)

func (m Mode) String() string {
	switch m {
	case ModeInsert:
		return "INSERT"
	case ModeNormal:
		return "NORMAL"
	case ModeCommand:
		return "COMMAND"
	case ModeHelp:
		return "HELP"
	default:
		return "UNKNOWN"
	}
}

// HelpLang selects which help-text translation the renderer shows.
type HelpLang int

const (
	HelpEnglish HelpLang = iota
	HelpChinese
)

// systemUsername is the fixed sender name on synthesized join/leave
// messages.
const systemUsername = "system"

const maxInputLen = msglog.MaxContentLen

// Transport is the write half of a session's channel. Reads are driven
// from outside (internal/sshfrontend owns the byte-at-a-time read
// loop and its liveness timeout); Session only ever writes to, and
// finally closes, its transport.
type Transport interface {
	io.Writer
	io.Closer
}

// ByteReader supplies the follow-up bytes of a multi-byte UTF-8
// sequence once the lead byte has been seen.
type ByteReader func() (byte, error)

// Renderer is an alias for the room package's rendering collaborator,
// re-exported here since every session holds one.
type Renderer = room.Renderer

// Session is the per-connection state the FSM operates on. It
// implements room.Session so the room can manage its lifetime through
// Ref/Unref without importing this package.
type Session struct {
	ID string

	Channel   Transport
	sshCloser io.Closer

	Width, Height int

	rm       *room.Room
	renderer Renderer
	store    Messages

	mu               sync.Mutex
	mode             Mode
	helpActive       bool
	helpLang         HelpLang
	mainScroll       int
	helpScroll       int
	input            string
	cmdInput         string
	cmdOutput        string
	name             string
	connected        bool

	refMu sync.Mutex
	refs  int
}

// Messages is the narrow message-log dependency a Session needs:
// persisting a user-authored chat line. Defined as an interface so
// tests can substitute an in-memory fake instead of touching disk.
type Messages interface {
	Append(msglog.Record) error
}

// New constructs a Session with an initial reference held by the
// caller (the worker task), per the spec's session-lifetime rule.
func New(id string, ch Transport, sshCloser io.Closer, width, height int, rm *room.Room, renderer Renderer, logs Messages) *Session {
	if width <= 0 || height <= 0 {
		width, height = 80, 24
	}
	return &Session{
		ID:        id,
		Channel:   ch,
		sshCloser: sshCloser,
		Width:     width,
		Height:    height,
		rm:        rm,
		renderer:  renderer,
		store:     logs,
		mode:      ModeInsert,
		helpLang:  HelpChinese,
		connected: true,
		refs:      1,
	}
}

// --- room.Session ---

// Ref increments the reference count. Called by room.Broadcast while
// holding the room write lock, before the renderer fan-out begins.
func (s *Session) Ref() {
	s.refMu.Lock()
	s.refs++
	s.refMu.Unlock()
}

// Unref decrements the reference count. On transition to zero it
// closes the channel then the SSH session, in that order, and marks
// the session disconnected.
func (s *Session) Unref() {
	s.refMu.Lock()
	s.refs--
	zero := s.refs == 0
	s.refMu.Unlock()
	if !zero {
		return
	}
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	if s.Channel != nil {
		_ = s.Channel.Close()
	}
	if s.sshCloser != nil {
		_ = s.sshCloser.Close()
	}
}

// IsConnected reports whether the session still has a live transport.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// CanRender reports whether the session's current UI state permits a
// render call: no help overlay, no command-output overlay.
func (s *Session) CanRender() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.helpActive && s.cmdOutput == ""
}

// DisplayName returns the session's chosen name.
func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetDisplayName records the session's name after username entry and
// roster admission. Called once, before the join broadcast.
func (s *Session) SetDisplayName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// --- rendering accessors (read by internal/render) ---

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.helpActive {
		return ModeHelp
	}
	return s.mode
}

func (s *Session) InputBuffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) CommandOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmdOutput
}

func (s *Session) HelpLang() HelpLang {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.helpLang
}

func (s *Session) MainScrollPos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mainScroll
}

func (s *Session) HelpScrollPos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.helpScroll
}

// CommandInputBuffer returns the in-progress COMMAND-mode line, shown
// after the ':' prompt.
func (s *Session) CommandInputBuffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmdInput
}

// --- join/leave ---

// announce broadcasts a system-authored join or leave message. Per the
// room's own choice not to persist synthesized messages, these never
// go through the message log.
func (s *Session) announce(format string) {
	s.rm.Broadcast(room.Message{
		Timestamp: time.Now(),
		Username:  systemUsername,
		Content:   fmt.Sprintf(format, s.DisplayName()),
	})
}

// Join announces arrival. Call after the session has been admitted to
// the room's roster.
func (s *Session) Join() { s.announce("%s joined the room") }

// Leave announces departure. Call before the final teardown.
func (s *Session) Leave() { s.announce("%s left the room") }

// --- input FSM ---

// HandleByte processes one raw byte from the channel, requesting any
// UTF-8 continuation bytes from more as needed. It returns true if the
// session should disconnect (Ctrl+C in NORMAL mode).
func (s *Session) HandleByte(b byte, more ByteReader) bool {
	if b == 3 { // Ctrl+C
		return s.ctrlC()
	}
	if !s.handleControlKey(b) {
		s.maybeAppendChar(b, more)
	}
	return false
}

// renderAction names which renderer hook to invoke once the session's
// own lock has been released. Kept as a small enum rather than a
// closure so every mutating path can be written as "mutate under the
// lock, decide what to render, unlock, render" without risking a
// render call (which may block on a channel write) while s.mu is held
// — the renderer's own accessor calls back into Session and would
// deadlock on a non-reentrant mutex otherwise.
type renderAction int

const (
	renderNone renderAction = iota
	renderMainAction
	renderInputAction
	renderHelpAction
	renderCommandOutputAction
	renderClearAndMainAction
)

func (s *Session) dispatch(action renderAction) {
	switch action {
	case renderMainAction:
		s.renderer.RenderMain(s.rm, s)
	case renderInputAction:
		s.renderer.RenderInput(s, []byte(s.InputBuffer()))
	case renderHelpAction:
		s.renderer.RenderHelp(s)
	case renderCommandOutputAction:
		s.renderer.RenderCommandOutput(s)
	case renderClearAndMainAction:
		s.renderer.ClearScreen(s)
		s.renderer.RenderMain(s.rm, s)
	}
}

// ctrlC implements the spec's Ctrl+C semantics: disconnect only while
// in NORMAL mode; elsewhere, fall back to NORMAL and drop transient
// buffers.
func (s *Session) ctrlC() bool {
	s.mu.Lock()
	inNormal := s.mode == ModeNormal && !s.helpActive && s.cmdOutput == ""
	if inNormal {
		s.mu.Unlock()
		return true
	}
	s.mode = ModeNormal
	s.helpActive = false
	s.cmdOutput = ""
	s.input = ""
	s.cmdInput = ""
	s.mu.Unlock()
	s.dispatch(renderClearAndMainAction)
	return false
}

// handleControlKey dispatches ESC/Enter/Backspace/word-erase/line-clear
// and mode-switch keys. Printable characters are handled separately by
// maybeAppendChar, matching the two-pass structure of the original key
// handler: control keys first, then character insertion. It reports
// whether it consumed b, in which case b is not inserted as text. All
// state mutation happens under s.mu; the chosen render action always
// runs after it has been released.
func (s *Session) handleControlKey(b byte) bool {
	s.mu.Lock()

	if s.helpActive {
		action := s.handleHelpKey(b)
		s.mu.Unlock()
		s.dispatch(action)
		return true
	}

	if s.cmdOutput != "" {
		s.cmdOutput = ""
		s.mode = ModeNormal
		s.mu.Unlock()
		s.dispatch(renderMainAction)
		return true
	}

	var action renderAction
	var broadcastMsg *room.Message
	var persist *msglog.Record

	switch s.mode {
	case ModeInsert:
		action, broadcastMsg, persist = s.handleInsertKey(b)
	case ModeNormal:
		action = s.handleNormalKey(b)
	case ModeCommand:
		action = s.handleCommandKey(b)
	}
	s.mu.Unlock()

	if broadcastMsg != nil {
		s.rm.Broadcast(*broadcastMsg)
	}
	if persist != nil && s.store != nil {
		_ = s.store.Append(*persist)
	}
	s.dispatch(action)
	return action != renderNone
}

func (s *Session) handleHelpKey(b byte) renderAction {
	switch b {
	case 'q', 27:
		s.helpActive = false
		return renderMainAction
	case 'e', 'E':
		s.helpLang = HelpEnglish
		s.helpScroll = 0
		return renderHelpAction
	case 'z', 'Z':
		s.helpLang = HelpChinese
		s.helpScroll = 0
		return renderHelpAction
	case 'j':
		s.helpScroll++
		return renderHelpAction
	case 'k':
		if s.helpScroll > 0 {
			s.helpScroll--
		}
		return renderHelpAction
	case 'g':
		s.helpScroll = 0
		return renderHelpAction
	case 'G':
		s.helpScroll = 1 << 30
		return renderHelpAction
	}
	return renderNone
}

// handleInsertKey mutates INSERT-mode state for b and reports what to
// render. When Enter submits a non-empty buffer it also reports the
// message to broadcast and persist, since both must happen with the
// lock released.
func (s *Session) handleInsertKey(b byte) (action renderAction, broadcastMsg *room.Message, persist *msglog.Record) {
	switch b {
	case 27: // ESC
		s.mode = ModeNormal
		s.mainScroll = 0
		return renderMainAction, nil, nil
	case '\r', '\n':
		if s.input == "" {
			return renderMainAction, nil, nil
		}
		now := time.Now()
		content := s.input
		s.input = ""
		msg := room.Message{Timestamp: now, Username: s.name, Content: content}
		rec := msglog.Record{Timestamp: now, Username: s.name, Content: content}
		return renderMainAction, &msg, &rec
	case 127, 8: // Backspace / DEL
		if s.input != "" {
			s.input = utf8scan.EraseLastChar(s.input)
			return renderInputAction, nil, nil
		}
	case 23: // Ctrl+W
		s.input = utf8scan.EraseLastWord(s.input)
		return renderInputAction, nil, nil
	case 21: // Ctrl+U
		s.input = ""
		return renderInputAction, nil, nil
	}
	return renderNone, nil, nil
}

func (s *Session) handleNormalKey(b byte) renderAction {
	switch b {
	case 'i':
		s.mode = ModeInsert
		return renderMainAction
	case ':':
		s.mode = ModeCommand
		s.cmdInput = ""
		return renderMainAction
	case 'j':
		maxScroll := s.rm.MessageCount() - 1
		if s.mainScroll < maxScroll {
			s.mainScroll++
			return renderMainAction
		}
	case 'k':
		if s.mainScroll > 0 {
			s.mainScroll--
			return renderMainAction
		}
	case 'g':
		s.mainScroll = 0
		return renderMainAction
	case 'G':
		s.mainScroll = s.rm.MessageCount() - 1
		if s.mainScroll < 0 {
			s.mainScroll = 0
		}
		return renderMainAction
	case '?':
		s.helpActive = true
		s.helpScroll = 0
		return renderHelpAction
	}
	return renderNone
}

func (s *Session) handleCommandKey(b byte) renderAction {
	switch b {
	case 27: // ESC
		s.mode = ModeNormal
		s.cmdInput = ""
		return renderMainAction
	case '\r', '\n':
		if s.runCommand() {
			return renderCommandOutputAction
		}
		return renderMainAction
	case 127, 8:
		if s.cmdInput != "" {
			s.cmdInput = utf8scan.EraseLastChar(s.cmdInput)
			return renderMainAction
		}
	case 23: // Ctrl+W
		s.cmdInput = utf8scan.EraseLastWord(s.cmdInput)
		return renderMainAction
	case 21: // Ctrl+U
		s.cmdInput = ""
		return renderMainAction
	}
	return renderNone
}

// maybeAppendChar appends printable ASCII or a validated UTF-8 sequence
// to whichever buffer is currently accepting text: the input buffer in
// INSERT, the command buffer in COMMAND. A no-op in every other state.
func (s *Session) maybeAppendChar(b byte, more ByteReader) {
	s.mu.Lock()

	if s.helpActive || s.cmdOutput != "" {
		s.mu.Unlock()
		return
	}

	var action renderAction
	switch s.mode {
	case ModeInsert:
		if _, appended := appendRune(&s.input, b, more, maxInputLen); appended {
			action = renderInputAction
		}
	case ModeCommand:
		if _, appended := appendRune(&s.cmdInput, b, more, maxInputLen); appended {
			action = renderMainAction
		}
	}
	s.mu.Unlock()
	s.dispatch(action)
}

// appendRune appends one printable ASCII byte or one validated UTF-8
// sequence to *buf, bounded by maxLen bytes. The first bool return
// reports whether the sequence was recognized as character input at
// all (vs. a control byte maybeAppendChar shouldn't touch); the second
// reports whether anything was actually appended.
func appendRune(buf *string, b byte, more ByteReader, maxLen int) (recognized, appended bool) {
	switch {
	case b >= 0x20 && b < 0x7F:
		if len(*buf)+1 > maxLen {
			return true, false
		}
		*buf += string(b)
		return true, true
	case b >= 0x80:
		n := utf8scan.ByteLength(b)
		raw := make([]byte, n)
		raw[0] = b
		for i := 1; i < n; i++ {
			nb, err := more()
			if err != nil {
				return true, false
			}
			raw[i] = nb
		}
		if !utf8scan.Validate(raw, n) {
			return true, false
		}
		if len(*buf)+n > maxLen {
			return true, false
		}
		*buf += string(raw)
		return true, true
	default:
		return false, false
	}
}

// runCommand trims the command buffer and executes it, leaving the
// result (if any) in s.cmdOutput. It reports whether it entered the
// overlay. Called with s.mu held; briefly releases it to read the
// roster from the room, which takes its own, separate lock.
func (s *Session) runCommand() bool {
	cmd := strings.Trim(s.cmdInput, " ")
	s.cmdInput = ""

	if cmd == "" {
		s.mode = ModeNormal
		return false
	}

	s.mu.Unlock()
	roster := s.rm.Roster()
	selfIndex := s.rm.RosterIndexOf(s)
	s.mu.Lock()

	s.cmdOutput = dispatchCommand(cmd, roster, selfIndex)
	s.mode = ModeNormal
	return true
}
