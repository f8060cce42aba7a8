// ABOUTME: Logical breakpoint search for splitting buffered text into chat messages
// ABOUTME: Prefers tool markers, headings, fence ends, and paragraph breaks over raw line breaks

package stream

import (
	"strings"
	"unicode/utf8"
)

// ToolMarkerPrefix starts the lines the streamer emits for tool activity.
// A pending tool marker is the best place to split: the tool result that
// replaces it will land at the top of the next message.
const ToolMarkerPrefix = "▸"

// FindBreakpoint searches content from offset `from` for the nearest position
// where one chat message can safely end and the next begin. The search is
// bounded to `lookahead` bytes past `from`. Candidates inside an open code
// fence are rejected. Returns -1 if no breakpoint exists in the window.
//
// Priority order: tool marker line, markdown heading, end of a fenced code
// block, blank-line paragraph break, any line break.
func FindBreakpoint(content string, from, lookahead int) int {
	if from >= len(content) {
		return -1
	}
	limit := from + lookahead
	if limit > len(content) {
		limit = len(content)
	}

	type matcher func(line string, lineStart, lineEnd int) (pos int, ok bool)

	matchers := []matcher{
		// Tool marker line: split before it.
		func(line string, lineStart, _ int) (int, bool) {
			return lineStart, strings.HasPrefix(line, ToolMarkerPrefix)
		},
		// Markdown heading: split before it.
		func(line string, lineStart, _ int) (int, bool) {
			return lineStart, strings.HasPrefix(line, "#")
		},
		// Closing fence line: split just after it.
		func(line string, lineStart, lineEnd int) (int, bool) {
			marker, _ := fenceMarker(line)
			if !marker {
				return 0, false
			}
			if open, _ := FenceState(content, lineStart); !open {
				return 0, false
			}
			return lineEnd, true
		},
		// Blank line: split after the paragraph break.
		func(line string, _, lineEnd int) (int, bool) {
			return lineEnd, strings.TrimSpace(line) == ""
		},
		// Any line break.
		func(_ string, _, lineEnd int) (int, bool) {
			return lineEnd, true
		},
	}

	for _, match := range matchers {
		for lineStart := lineStartAt(content, from); lineStart < limit; {
			nl := strings.IndexByte(content[lineStart:], '\n')
			if nl < 0 {
				break
			}
			lineEnd := lineStart + nl + 1
			line := content[lineStart : lineEnd-1]

			if pos, ok := match(line, lineStart, lineEnd); ok && pos >= from && pos <= limit && pos < len(content) {
				if open, _ := FenceState(content, pos); !open {
					return pos
				}
			}
			lineStart = lineEnd
		}
	}

	return -1
}

// SplitAt splits content at the given offset, adjusting backwards to a rune
// boundary. If the cut falls inside an open code fence, the fence is closed at
// the end of the head and an identical fence (same language tag) is reopened
// at the start of the tail, so both halves render as valid code blocks.
func SplitAt(content string, at int) (head, tail string) {
	if at >= len(content) {
		return content, ""
	}
	for at > 0 && !utf8.RuneStart(content[at]) {
		at--
	}

	head = content[:at]
	tail = content[at:]

	open, lang := FenceState(content, at)
	if !open {
		return head, tail
	}

	if !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	head += "```"
	tail = "```" + lang + "\n" + strings.TrimLeft(tail, "\n")
	return head, tail
}

// lineStartAt returns the start offset of the line containing pos.
func lineStartAt(content string, pos int) int {
	if pos > len(content) {
		pos = len(content)
	}
	if i := strings.LastIndexByte(content[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
