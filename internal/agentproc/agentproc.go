// ABOUTME: Agent-process capability interface and typed event stream
// ABOUTME: The lifecycle controller consumes Events and Wait via an explicit receive loop

package agentproc

import (
	"context"
)

// EventType categorizes events emitted by a running agent process.
type EventType string

const (
	EventAssistant  EventType = "assistant"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventResult     EventType = "result"
	EventSystem     EventType = "system"
	EventUser       EventType = "user"
)

// Event is one typed event from the agent's output stream. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type EventType

	// Text carries assistant output, tool result text, or the final result.
	Text string

	// Tool fields, for tool_use and tool_result events.
	ToolName  string
	ToolID    string
	ToolInput string
	IsError   bool

	// ConversationID is set on system init events and identifies the
	// agent-side conversation for later resume.
	ConversationID string
}

// ExitStatus describes how the agent process terminated.
type ExitStatus struct {
	Code int
	Err  error
}

// Process is a live handle to one external agent process. A session owns
// exactly one at a time. Implementations run the actual CLI subprocess and
// translate its output protocol into Events; that protocol is out of scope
// here.
type Process interface {
	// Start launches the process. Events begin flowing after Start returns.
	Start(ctx context.Context) error

	// Kill terminates the process unconditionally and blocks until it is gone.
	Kill(ctx context.Context) error

	// Interrupt sends a cooperative soft-stop signal. Returns false if the
	// process was not running. There is no guarantee of an immediate stop.
	Interrupt() bool

	SendMessage(ctx context.Context, content string) error
	SendToolResult(ctx context.Context, toolID, text string) error

	IsRunning() bool

	// IsPermanentFailure reports whether the last exit means retrying a
	// resume is futile. The classification algorithm belongs to the process
	// implementation; callers treat it as an opaque verdict.
	IsPermanentFailure() bool
	PermanentFailureReason() string

	// Events returns the event stream. The channel is closed once the
	// process will emit no further events.
	Events() <-chan Event

	// Wait returns a channel that delivers the exit status exactly once,
	// after Events is closed.
	Wait() <-chan ExitStatus
}

// LaunchSpec describes how to start an agent process.
type LaunchSpec struct {
	WorkingDir     string
	ConversationID string

	// Resume requests continuation of a prior conversation identified by
	// ConversationID instead of starting fresh.
	Resume bool

	// ForceInteractive requires the process to ask for tool permission even
	// for tools it would normally auto-approve.
	ForceInteractive bool

	// McpConfig lists MCP servers the process should connect to.
	McpConfig *McpConfig
}

// Launcher creates agent processes. One Launcher serves all sessions.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
