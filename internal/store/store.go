// ABOUTME: Store interface and persisted session record for coven-bridge
// ABOUTME: Defines the durable projection of a session and its lifecycle operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Session is the durable projection of a live conversation. It carries
// everything needed to resume the agent-side conversation after a process
// restart. Records are keyed by the composite id PlatformID:ThreadID.
type Session struct {
	PlatformID          string
	ThreadID            string
	AgentConversationID string

	StartedBy      string
	StartedAt      time.Time
	LastActivityAt time.Time
	SessionNumber  int

	WorkingDir                  string
	PlanApproved                bool
	AllowedUsers                []string
	ForceInteractivePermissions bool

	SessionStartMessageID string
	TasksMessageID        string

	// ResumeFailCount counts consecutive failed resume attempts. Once it
	// reaches the configured bound the record is removed rather than retried.
	ResumeFailCount int

	// CleanedAt marks the record soft-deleted. Soft-deleted records are
	// excluded from Load but surface in history.
	CleanedAt *time.Time

	// TimeoutPostID is set when the session was timed out by the cleanup
	// sweep but not yet resumed or soft-deleted.
	TimeoutPostID string

	// Free-form fields round-tripped but ignored by the state machine.
	Title         string
	Description   string
	IsolationInfo string
}

// Key returns the composite session id PlatformID:ThreadID.
func (s *Session) Key() string {
	return s.PlatformID + ":" + s.ThreadID
}

// Store defines persistence for session records. Implementations own durable
// records exclusively; no other component deletes or retains them.
type Store interface {
	// Save upserts a record by its composite key. Saving a previously
	// soft-deleted record revives it: CleanedAt is cleared.
	Save(ctx context.Context, rec *Session) error

	// Load returns all active (not soft-deleted) records.
	Load(ctx context.Context) ([]*Session, error)

	// Get returns one record by key, soft-deleted or not.
	Get(ctx context.Context, key string) (*Session, error)

	// Remove hard-deletes a record. Removing a missing record is not an error.
	Remove(ctx context.Context, key string) error

	// SoftDelete marks a record inactive by setting CleanedAt. Idempotent:
	// a second call leaves the original CleanedAt untouched.
	SoftDelete(ctx context.Context, key string) error

	// GetHistory returns inactive records for a platform, most recent
	// activity first. It merges soft-deleted records with timed-out records
	// (TimeoutPostID set, CleanedAt unset); the latter are included only
	// when activeKeys is non-nil, excluding keys that are still live.
	GetHistory(ctx context.Context, platformID string, activeKeys []string) ([]*Session, error)

	// CleanStale soft-deletes active records idle longer than maxAge and
	// returns their keys.
	CleanStale(ctx context.Context, maxAge time.Duration) ([]string, error)

	// CleanHistory hard-deletes soft-deleted records whose CleanedAt
	// predates now-retention and returns how many were removed.
	CleanHistory(ctx context.Context, retention time.Duration) (int, error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
