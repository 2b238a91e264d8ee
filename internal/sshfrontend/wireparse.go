package sshfrontend

import "encoding/binary"

// Minimal decoders for the SSH channel-request payloads this front end
// cares about (RFC 4254 §6.2, §6.9, §6.10). Hand-rolled rather than
// routed through a struct-tag marshaler: the payload shapes here are a
// few fixed fields each, and decoding them directly avoids pulling in
// an unverified reflection-based wire codec for a handful of uint32s
// and one string.

type ptyRequest struct {
	term          string
	cols, rows    uint32
	widthPx       uint32
	heightPx      uint32
}

func parsePtyRequest(payload []byte) (ptyRequest, bool) {
	var req ptyRequest
	var ok bool
	req.term, payload, ok = takeString(payload)
	if !ok {
		return req, false
	}
	req.cols, payload, ok = takeUint32(payload)
	if !ok {
		return req, false
	}
	req.rows, payload, ok = takeUint32(payload)
	if !ok {
		return req, false
	}
	req.widthPx, payload, ok = takeUint32(payload)
	if !ok {
		return req, false
	}
	req.heightPx, _, ok = takeUint32(payload)
	return req, ok
}

func parseWindowChange(payload []byte) (cols, rows uint32, ok bool) {
	cols, payload, ok = takeUint32(payload)
	if !ok {
		return 0, 0, false
	}
	rows, _, ok = takeUint32(payload)
	return cols, rows, ok
}

func parseExecCommand(payload []byte) (string, bool) {
	cmd, _, ok := takeString(payload)
	return cmd, ok
}

func takeUint32(b []byte) (uint32, []byte, bool) {
	if len(b) < 4 {
		return 0, b, false
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], true
}

func takeString(b []byte) (string, []byte, bool) {
	n, rest, ok := takeUint32(b)
	if !ok || uint64(len(rest)) < uint64(n) {
		return "", b, false
	}
	return string(rest[:n]), rest[n:], true
}

func marshalUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}
