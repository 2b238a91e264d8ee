package sshfrontend

import (
	"io"
	"time"
)

type readResult struct {
	b   byte
	err error
}

// timeoutReader reads single bytes from an underlying io.Reader (an SSH
// channel, which has no deadline of its own) under a caller-supplied
// timeout. It keeps a single-reader invariant: a timed-out read leaves its goroutine blocked on the
// real channel, and rather than starting a second, competing reader
// (which would race the orphan for the next keypress), the next call
// waits on the same orphan result first.
type timeoutReader struct {
	r      io.Reader
	orphan chan readResult
}

func newTimeoutReader(r io.Reader) *timeoutReader {
	return &timeoutReader{r: r}
}

// pendingRead returns the in-flight read goroutine's result channel,
// starting one if none is already outstanding.
func (t *timeoutReader) pendingRead() chan readResult {
	if t.orphan != nil {
		return t.orphan
	}
	ch := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 1)
		n, err := t.r.Read(buf)
		if n > 0 {
			ch <- readResult{b: buf[0], err: err}
			return
		}
		ch <- readResult{err: err}
	}()
	return ch
}

// ReadByte blocks for up to timeout for one byte. ok is false on
// timeout (the read is still in flight and will be picked up by the
// next call); err is non-nil once the underlying reader is exhausted
// or fails.
func (t *timeoutReader) ReadByte(timeout time.Duration) (b byte, ok bool, err error) {
	ch := t.pendingRead()

	select {
	case res := <-ch:
		t.orphan = nil
		if res.err != nil && res.b == 0 {
			return 0, false, res.err
		}
		return res.b, true, res.err
	case <-time.After(timeout):
		t.orphan = ch
		return 0, false, nil
	}
}

// ReadByteBlocking reads one byte with no timeout, used to fetch UTF-8
// continuation bytes once a lead byte has already been seen.
func (t *timeoutReader) ReadByteBlocking() (byte, error) {
	res := <-t.pendingRead()
	t.orphan = nil
	return res.b, res.err
}
