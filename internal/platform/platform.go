// ABOUTME: Chat-platform capability interface consumed by the session core
// ABOUTME: Defines posting, reactions, typing, and thread inspection operations

package platform

import (
	"context"
)

// ReactionOption describes one selectable emoji on an interactive post.
type ReactionOption struct {
	Emoji string
	Label string
}

// ThreadMessage is a single message fetched from a thread's history.
type ThreadMessage struct {
	PostID   string
	Sender   string
	Content  string
	FileIDs  []string
	IsOurBot bool
}

// Client is the narrow surface the session core needs from a chat platform
// connection. One Client exists per platform connection; sessions borrow a
// reference and never own it. Implementations live outside this module
// (Matrix, Slack, ...) and handle their own wire protocol and markdown dialect.
type Client interface {
	// PlatformID identifies this platform connection, e.g. "matrix:example.org".
	// It forms the first half of the composite session key.
	PlatformID() string

	CreatePost(ctx context.Context, threadID, content string) (postID string, err error)
	UpdatePost(ctx context.Context, postID, content string) error
	DeletePost(ctx context.Context, postID string) error

	AddReaction(ctx context.Context, postID, emoji string) error
	RemoveReaction(ctx context.Context, postID, emoji string) error

	// CreateInteractivePost creates a post and seeds it with reaction options
	// the user can click to answer.
	CreateInteractivePost(ctx context.Context, threadID, content string, options []ReactionOption) (postID string, err error)

	SendTyping(ctx context.Context, threadID string) error

	GetThreadHistory(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error)
	ThreadExists(ctx context.Context, threadID string) (bool, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// IsUserAllowed reports whether the platform-level allowlist admits the user.
	// Per-session collaborator checks are layered on top of this.
	IsUserAllowed(username string) bool

	// McpConfigPath returns the path of the MCP server config this platform
	// connection hands to launched agent processes, or "" for none.
	McpConfigPath() string

	// Formatter returns the renderer for this platform's rich-text dialect.
	Formatter() Formatter
}
