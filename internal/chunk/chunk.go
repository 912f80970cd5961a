// Package chunk splits long reply text into transport-sized segments.
//
// Delivery surfaces cap message length, so final replies are broken into
// chunks of at most a configured size. Chunks prefer to break at the last
// newline inside the window so code blocks and paragraphs stay readable.
package chunk

import "unicode/utf8"

// DefaultSize is the default maximum chunk length in bytes.
const DefaultSize = 1200

// Split breaks text into segments of at most size bytes each. When a
// window contains a newline, the break happens after the last newline in
// the window; leading newlines are stripped from the remainder so chunks
// never start with blank lines. A non-positive size falls back to
// DefaultSize. Empty input yields a single empty segment so callers
// always have something to deliver.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if len(text) <= size {
		return []string{text}
	}

	var out []string
	for len(text) > size {
		cut := size
		if idx := lastNewline(text[:size]); idx > 0 {
			cut = idx
		} else {
			// Hard cut: back up to a rune boundary so a multi-byte
			// character is never split across chunks. A newline cut is
			// already on a boundary.
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
		}
		out = append(out, text[:cut])
		text = trimLeadingNewlines(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func trimLeadingNewlines(s string) string {
	for len(s) > 0 && s[0] == '\n' {
		s = s[1:]
	}
	return s
}
