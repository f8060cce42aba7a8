// ABOUTME: Code-fence state detection for safe message splitting
// ABOUTME: Counts fence markers up to an offset to decide open/closed state and language tag

package stream

import (
	"strings"
)

// FenceState reports whether the given offset falls inside an open fenced code
// block, and the info string (language tag) of that fence. It counts fence
// marker lines from the start of content; every breakpoint search consults
// this before accepting a candidate position.
func FenceState(content string, offset int) (open bool, lang string) {
	if offset > len(content) {
		offset = len(content)
	}

	pos := 0
	for pos < offset {
		end := strings.IndexByte(content[pos:], '\n')
		var line string
		if end < 0 {
			line = content[pos:]
			end = len(content) - pos
		} else {
			line = content[pos : pos+end]
		}

		if marker, info := fenceMarker(line); marker {
			if open {
				open = false
				lang = ""
			} else {
				open = true
				lang = info
			}
		}

		pos += end + 1
	}

	return open, lang
}

// fenceMarker reports whether a line is a code-fence marker and returns its
// info string. Up to three leading spaces are allowed, matching markdown.
func fenceMarker(line string) (bool, string) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return false, ""
	}
	if !strings.HasPrefix(trimmed, "```") {
		return false, ""
	}
	return true, strings.TrimSpace(strings.TrimLeft(trimmed, "`"))
}
