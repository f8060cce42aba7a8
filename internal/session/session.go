// ABOUTME: Session entity binding one chat thread to one live agent process
// ABOUTME: Owns the process handle, streamer, prompt state, flags, and timers

package session

import (
	"sync"
	"time"

	"github.com/2389/coven-bridge/internal/agentproc"
	"github.com/2389/coven-bridge/internal/platform"
	"github.com/2389/coven-bridge/internal/prompt"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/2389/coven-bridge/internal/stream"
)

// Session is one live conversation: a chat thread bound to an agent process.
// The registry owns the map of sessions; a session exclusively owns its
// process handle, streamer, and timers.
type Session struct {
	PlatformID string
	ThreadID   string

	client  platform.Client
	stream  *stream.Streamer
	prompts *prompt.State

	mu                  sync.Mutex
	proc                agentproc.Process
	agentConversationID string
	startedBy           string
	startedAt           time.Time
	lastActivity        time.Time
	sessionNumber       int
	workingDir          string
	allowedUsers        map[string]struct{}
	forceInteractive    bool

	// Lifecycle flags. Ordering matters for wasInterrupted: it is set
	// before the soft-stop signal so the exit handler sees it.
	isRestarting      bool
	isResumed         bool
	wasInterrupted    bool
	hasAgentResponded bool
	timeoutWarned     bool
	resumeFailCount   int

	sessionStartPostID string
	timeoutPostID      string
	heldMessage        string
	awaitingIsolation  bool
	isolationPostID    string

	title         string
	description   string
	isolationInfo string

	statusStop chan struct{}
	done       chan struct{}
	doneOnce   sync.Once
}

// Key returns the composite session id PlatformID:ThreadID.
func (s *Session) Key() string {
	return s.PlatformID + ":" + s.ThreadID
}

// Touch records activity now. Fresh activity re-arms the one-shot timeout
// warning.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	s.timeoutWarned = false
}

// IdleFor returns the time since the last recorded activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// IsAllowed reports whether the user may interact with this session.
func (s *Session) IsAllowed(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.allowedUsers[username]
	return ok
}

// AllowUser adds a collaborator.
func (s *Session) AllowUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedUsers[username] = struct{}{}
}

// HasResponded reports whether a substantive agent event has arrived. A
// session is only safe to persist once this is true: before that there is
// nothing to resume.
func (s *Session) HasResponded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAgentResponded
}

// Streamer returns the session's streaming engine.
func (s *Session) Streamer() *stream.Streamer {
	return s.stream
}

// Prompts returns the session's interactive prompt state.
func (s *Session) Prompts() *prompt.State {
	return s.prompts
}

// ConversationID returns the agent-side conversation id used for resume.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentConversationID
}

// finish marks the session torn down. Returns true for exactly one caller,
// which then owns the rest of teardown (final flush or drop, streamer stop,
// registry removal). The status timer is cancelled here so it cannot fire
// against a session mid-teardown.
func (s *Session) finish() bool {
	first := false
	s.doneOnce.Do(func() {
		first = true
		s.mu.Lock()
		if s.statusStop != nil {
			close(s.statusStop)
			s.statusStop = nil
		}
		s.mu.Unlock()
		close(s.done)
	})
	return first
}

// finished reports whether teardown has begun.
func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// record builds the durable projection of this session.
func (s *Session) record() *store.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.allowedUsers))
	for u := range s.allowedUsers {
		users = append(users, u)
	}

	return &store.Session{
		PlatformID:                  s.PlatformID,
		ThreadID:                    s.ThreadID,
		AgentConversationID:         s.agentConversationID,
		StartedBy:                   s.startedBy,
		StartedAt:                   s.startedAt,
		LastActivityAt:              s.lastActivity,
		SessionNumber:               s.sessionNumber,
		WorkingDir:                  s.workingDir,
		PlanApproved:                s.prompts.PlanApproved(),
		AllowedUsers:                users,
		ForceInteractivePermissions: s.forceInteractive,
		SessionStartMessageID:       s.sessionStartPostID,
		TasksMessageID:              s.stream.TasksPostID(),
		ResumeFailCount:             s.resumeFailCount,
		TimeoutPostID:               s.timeoutPostID,
		Title:                       s.title,
		Description:                 s.description,
		IsolationInfo:               s.isolationInfo,
	}
}
