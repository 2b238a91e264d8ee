package session

import (
	"strings"

	"github.com/ehrlich-b/tnt/internal/utf8scan"
)

// maxDisplayWidth is the truncation bound for a validated username, in
// terminal display columns.
const maxDisplayWidth = 20

// defaultUsername is substituted for a blank or rejected entry.
const defaultUsername = "anonymous"

// rejectedChars is the set of bytes disallowed anywhere in a username,
// beyond the leading-character rule enforced separately.
const rejectedChars = "|;&$`\n\r<>(){}[]\"'\\"

// UsernamePrompt accumulates one line of raw input using the same
// UTF-8 assembly and backspace handling as INSERT mode, without any of
// the session's mode/overlay machinery; Ctrl+W and Ctrl+U are not
// handled here. It is used once, before roster
// insertion, to read the display name.
type UsernamePrompt struct {
	buf string
}

// HandleByte appends b (assembling a UTF-8 sequence via more if b is a
// lead byte) to the prompt buffer. It reports whether Enter was
// pressed, ending the line.
func (u *UsernamePrompt) HandleByte(b byte, more ByteReader) (done bool) {
	switch {
	case b == '\r' || b == '\n':
		return true
	case b == 127 || b == 8:
		u.buf = utf8scan.EraseLastChar(u.buf)
	default:
		appendRune(&u.buf, b, more, maxInputLen)
	}
	return false
}

// Raw returns the accumulated, unvalidated line.
func (u *UsernamePrompt) Raw() string { return u.buf }

// ValidateUsername applies the entry rules: blank becomes the default
// name; a name starting with space, dot, or dash, containing a control
// byte other than tab, or containing any of rejectedChars is rejected
// and replaced with the default name. A valid name is truncated to
// maxDisplayWidth display columns.
func ValidateUsername(raw string) (name string, rejected bool) {
	if raw == "" {
		return defaultUsername, false
	}
	if strings.ContainsAny(raw, rejectedChars) {
		return defaultUsername, true
	}
	switch raw[0] {
	case ' ', '.', '-':
		return defaultUsername, true
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < 0x20 && c != '\t' {
			return defaultUsername, true
		}
		if c == 0x7F {
			return defaultUsername, true
		}
	}
	return utf8scan.TruncateToWidth(raw, maxDisplayWidth), false
}
