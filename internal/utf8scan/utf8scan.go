// Package utf8scan decodes and measures UTF-8 byte streams for the session
// input FSM: lead-byte length sniffing, codepoint decode, CJK-aware display
// width, and the erase/truncate operations the modal editor needs.
package utf8scan

// ByteLength returns the number of bytes the lead byte declares for its
// sequence: 1, 2, 3, or 4. An invalid lead byte returns 1 so the caller
// discards exactly one byte and resyncs on the next read.
func ByteLength(lead byte) int {
	switch {
	case lead&0x80 == 0x00:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// Decode reads a validated sequence from the front of b and returns its
// codepoint and the number of bytes consumed. Callers must validate first;
// Decode never reads past the declared length.
func Decode(b []byte) (rune, int) {
	if len(b) == 0 {
		return 0, 0
	}
	n := ByteLength(b[0])
	if n > len(b) {
		n = 1
	}
	switch n {
	case 1:
		return rune(b[0]), 1
	case 2:
		return rune(b[0]&0x1F)<<6 | rune(b[1]&0x3F), 2
	case 3:
		return rune(b[0]&0x0F)<<12 | rune(b[1]&0x3F)<<6 | rune(b[2]&0x3F), 3
	case 4:
		return rune(b[0]&0x07)<<18 | rune(b[1]&0x3F)<<12 | rune(b[2]&0x3F)<<6 | rune(b[3]&0x3F), 4
	default:
		return rune(b[0]), 1
	}
}

// CharWidth returns the terminal display width (1 or 2 columns) of a
// codepoint. CJK Unified Ideographs and extensions, CJK Compatibility,
// Hangul Syllables, Hiragana/Katakana, and Halfwidth/Fullwidth Forms are
// width 2; everything else (including ASCII) is width 1.
func CharWidth(cp rune) int {
	if cp < 0x80 {
		return 1
	}
	switch {
	case cp >= 0x4E00 && cp <= 0x9FFF, // CJK Unified
		cp >= 0x3400 && cp <= 0x4DBF, // CJK Extension A
		cp >= 0x20000 && cp <= 0x2A6DF, // CJK Extension B
		cp >= 0x2A700 && cp <= 0x2B73F, // CJK Extension C
		cp >= 0x2B740 && cp <= 0x2B81F, // CJK Extension D
		cp >= 0x2B820 && cp <= 0x2CEAF, // CJK Extension E
		cp >= 0xF900 && cp <= 0xFAFF, // CJK Compatibility
		cp >= 0x2F800 && cp <= 0x2FA1F: // CJK Compatibility Supplement
		return 2
	case cp >= 0xAC00 && cp <= 0xD7AF: // Hangul Syllables
		return 2
	case cp >= 0x3040 && cp <= 0x309F, // Hiragana
		cp >= 0x30A0 && cp <= 0x30FF: // Katakana
		return 2
	case cp >= 0xFF00 && cp <= 0xFFEF: // Halfwidth/Fullwidth Forms
		return 2
	default:
		return 1
	}
}

// StringWidth sums CharWidth over every codepoint in s.
func StringWidth(s string) int {
	width := 0
	b := []byte(s)
	for len(b) > 0 {
		cp, n := Decode(b)
		width += CharWidth(cp)
		b = b[n:]
	}
	return width
}

// Validate reports whether b[:n] is a single well-formed UTF-8 sequence:
// no overlong encoding, no lone continuation byte, no out-of-range
// codepoint, and the declared length must match n exactly. Empty or nil
// input is invalid.
func Validate(b []byte, n int) bool {
	if n <= 0 || n > len(b) {
		return false
	}
	lead := b[0]
	declared := ByteLength(lead)
	if declared != n {
		return false
	}
	if declared == 1 {
		return lead < 0x80
	}
	for i := 1; i < n; i++ {
		if b[i]&0xC0 != 0x80 {
			return false
		}
	}
	cp, _ := Decode(b[:n])
	switch declared {
	case 2:
		if cp < 0x80 || cp > 0x7FF {
			return false
		}
	case 3:
		if cp < 0x800 || cp > 0xFFFF {
			return false
		}
		if cp >= 0xD800 && cp <= 0xDFFF {
			return false
		}
	case 4:
		if cp < 0x10000 || cp > 0x10FFFF {
			return false
		}
	default:
		return false
	}
	return true
}

// TruncateToWidth returns the longest prefix of s whose display width is
// at most w. The result never ends inside a multibyte sequence.
func TruncateToWidth(s string, w int) string {
	width := 0
	b := []byte(s)
	cut := 0
	for len(b) > 0 {
		cp, n := Decode(b)
		cw := CharWidth(cp)
		if width+cw > w {
			break
		}
		width += cw
		cut += n
		b = b[n:]
	}
	return s[:cut]
}

// EraseLastChar removes the last UTF-8 codepoint from s by walking
// backwards over continuation bytes (10xxxxxx) until a lead byte.
func EraseLastChar(s string) string {
	if len(s) == 0 {
		return s
	}
	i := len(s) - 1
	for i > 0 && s[i]&0xC0 == 0x80 {
		i--
	}
	return s[:i]
}

// EraseLastWord erases trailing whitespace, then erases back to the next
// whitespace boundary or the start of the string. A no-op on empty input.
func EraseLastWord(s string) string {
	if len(s) == 0 {
		return s
	}
	i := len(s)
	for i > 0 && isSpace(s[i-1]) {
		i--
	}
	for i > 0 && !isSpace(s[i-1]) {
		i--
	}
	return s[:i]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
