package sshfrontend

import (
	"errors"
	"io"
	"time"

	"github.com/ehrlich-b/tnt/internal/session"
)

const (
	usernamePrompt     = "请输入用户名: "
	usernameEntryLimit = 60 * time.Second

	// rejectionNotice is shown when ValidateUsername rejects the
	// submitted name; rejectionDelay slows down retries afterward.
	rejectionNotice = "username rejected, using anonymous instead\r\n"
	rejectionDelay  = 1 * time.Second
)

var errUsernameTimeout = errors.New("sshfrontend: username entry timed out")

// readUsername prompts for and assembles a display name one byte at a
// time, echoing each accepted byte or codepoint back and erasing on
// backspace, the same assembly session.UsernamePrompt uses for INSERT
// mode text. The submitted line is run through session.ValidateUsername
// for the default-name and rejected-character rules; a rejected name is
// reported to the caller and followed by a short delay before falling
// back to "anonymous", to slow down retries. The whole entry is capped
// at 60 seconds, treated as a disconnect on expiry.
func readUsername(w io.Writer, tr *timeoutReader) (string, error) {
	if _, err := io.WriteString(w, usernamePrompt); err != nil {
		return "", err
	}

	var prompt session.UsernamePrompt
	deadline := time.Now().Add(usernameEntryLimit)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", errUsernameTimeout
		}
		b, ok, err := tr.ReadByte(remaining)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}

		before := prompt.Raw()
		done := prompt.HandleByte(b, tr.ReadByteBlocking)
		after := prompt.Raw()

		if err := echoUsernameEdit(w, before, after); err != nil {
			return "", err
		}
		if done {
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return "", err
			}
			name, rejected := session.ValidateUsername(after)
			if rejected {
				if _, err := io.WriteString(w, rejectionNotice); err != nil {
					return "", err
				}
				time.Sleep(rejectionDelay)
			}
			return name, nil
		}
	}
}

// echoUsernameEdit writes the terminal effect of one HandleByte call:
// nothing if the buffer didn't change, a destructive backspace if it
// shrank, or the appended suffix if it grew.
func echoUsernameEdit(w io.Writer, before, after string) error {
	switch {
	case after == before:
		return nil
	case len(after) < len(before):
		_, err := io.WriteString(w, "\b \b")
		return err
	default:
		_, err := io.WriteString(w, after[len(before):])
		return err
	}
}
