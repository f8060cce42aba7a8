// ABOUTME: Tests for fence-state detection and breakpoint search
// ABOUTME: Verifies open-fence rejection and the breakpoint priority order

package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFenceState(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		offset   int
		wantOpen bool
		wantLang string
	}{
		{
			name:     "no fences",
			content:  "plain text\nmore text\n",
			offset:   15,
			wantOpen: false,
		},
		{
			name:     "inside open fence",
			content:  "before\n```go\nfunc main() {}\n",
			offset:   20,
			wantOpen: true,
			wantLang: "go",
		},
		{
			name:     "after closed fence",
			content:  "```python\nprint(1)\n```\nafter\n",
			offset:   25,
			wantOpen: false,
		},
		{
			name:     "second fence open",
			content:  "```\na\n```\ntext\n```sh\nls\n",
			offset:   23,
			wantOpen: true,
			wantLang: "sh",
		},
		{
			name:     "untagged fence",
			content:  "```\nraw\n",
			offset:   6,
			wantOpen: true,
			wantLang: "",
		},
		{
			name:     "indented fence counts",
			content:  "  ```js\ncode\n",
			offset:   10,
			wantOpen: true,
			wantLang: "js",
		},
		{
			name:     "deeply indented literal does not count",
			content:  "        ```\ntext\n",
			offset:   14,
			wantOpen: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, lang := FenceState(tt.content, tt.offset)
			assert.Equal(t, tt.wantOpen, open)
			assert.Equal(t, tt.wantLang, lang)
		})
	}
}

func TestFindBreakpoint_PriorityOrder(t *testing.T) {
	// A heading outranks the earlier paragraph break inside the window.
	content := strings.Repeat("x", 95) + "\n\npadding line\n# Heading\nbody\n"
	at := FindBreakpoint(content, 90, 40)
	assert.Equal(t, strings.Index(content, "# Heading"), at)
}

func TestFindBreakpoint_ToolMarkerWins(t *testing.T) {
	content := strings.Repeat("x", 95) + "\n# Heading\n" + ToolMarkerPrefix + " Bash\nrest\n"
	at := FindBreakpoint(content, 90, 60)
	assert.Equal(t, strings.Index(content, ToolMarkerPrefix), at)
}

func TestFindBreakpoint_FenceEnd(t *testing.T) {
	content := "```go\n" + strings.Repeat("code line\n", 12) + "```\nafter paragraph\n"
	at := FindBreakpoint(content, 60, 200)
	// Split lands just after the closing fence, never inside the block.
	assert.Equal(t, strings.Index(content, "```\nafter")+4, at)
}

func TestFindBreakpoint_SkipsInsideOpenFence(t *testing.T) {
	content := "intro\n```\n" + strings.Repeat("aaaa\n", 30)
	at := FindBreakpoint(content, 20, 50)
	assert.Equal(t, -1, at)
}

func TestFindBreakpoint_PlainLineBreak(t *testing.T) {
	content := strings.Repeat("word ", 30) + "\n" + strings.Repeat("word ", 30)
	at := FindBreakpoint(content, 100, 100)
	assert.Equal(t, strings.IndexByte(content, '\n')+1, at)
}

func TestFindBreakpoint_NoneInWindow(t *testing.T) {
	content := strings.Repeat("a", 500)
	assert.Equal(t, -1, FindBreakpoint(content, 100, 200))
}

func TestSplitAt_ClosesAndReopensFence(t *testing.T) {
	content := "intro\n```go\nline one\nline two\nline three\n"
	at := strings.Index(content, "line two")
	head, tail := SplitAt(content, at)

	// Each half renders as valid fenced content on its own.
	open, _ := FenceState(head, len(head))
	assert.False(t, open, "head must not end inside an open fence")
	assert.True(t, strings.HasSuffix(head, "```"))

	assert.True(t, strings.HasPrefix(tail, "```go\n"))
	open, lang := FenceState(tail, len(tail))
	assert.True(t, open)
	assert.Equal(t, "go", lang)
	assert.Contains(t, tail, "line two")
}

func TestSplitAt_PlainText(t *testing.T) {
	content := "hello world"
	head, tail := SplitAt(content, 5)
	assert.Equal(t, "hello", head)
	assert.Equal(t, " world", tail)
}

func TestSplitAt_RuneBoundary(t *testing.T) {
	content := "héllo"
	// Index 2 lands mid-rune; the split must back off to the rune start.
	head, tail := SplitAt(content, 2)
	assert.Equal(t, "h", head)
	assert.Equal(t, "héllo", head+tail)
}
