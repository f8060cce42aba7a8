// ABOUTME: Streaming engine that buffers agent output and flushes it into chat posts
// ABOUTME: Splits at logical breakpoints under soft/hard size limits without corrupting code fences

package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// continuedBelowMarker finalizes a post that has a remainder following it.
	continuedBelowMarker = "\n\n*(continued below)*"

	// continuedPrefix opens the post carrying the remainder.
	continuedPrefix = "*(continued)*\n\n"

	// forcedSplitFenceSlack reserves room for the closing fence SplitAt
	// appends to the head when a forced cut lands inside an open code block.
	forcedSplitFenceSlack = len("\n```")

	// TasksToggleEmoji is the reaction that collapses/expands the task list.
	TasksToggleEmoji = "🔽"
)

// Poster is the slice of the platform client the streamer needs.
type Poster interface {
	CreatePost(ctx context.Context, threadID, content string) (string, error)
	UpdatePost(ctx context.Context, postID, content string) error
	AddReaction(ctx context.Context, postID, emoji string) error
	RemoveReaction(ctx context.Context, postID, emoji string) error
	SendTyping(ctx context.Context, threadID string) error
}

// Config controls streaming thresholds and timers.
type Config struct {
	// SoftLimit is the size past which the streamer looks for a logical
	// breakpoint, keeping posts below the platform's collapse threshold.
	SoftLimit int

	// HardLimit is the platform's message-size ceiling. Never exceeded.
	HardLimit int

	// Lookahead bounds the breakpoint search window past SoftLimit.
	Lookahead int

	// Debounce delays a flush after each append so bursts coalesce.
	Debounce time.Duration

	// TypingInterval is the period of the typing indicator refresh.
	TypingInterval time.Duration
}

// withDefaults fills in zero fields.
func (c Config) withDefaults() Config {
	if c.SoftLimit <= 0 {
		c.SoftLimit = 3000
	}
	if c.HardLimit <= 0 {
		c.HardLimit = 16000
	}
	if c.Lookahead <= 0 {
		c.Lookahead = 600
	}
	if c.Debounce <= 0 {
		c.Debounce = 750 * time.Millisecond
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = 8 * time.Second
	}
	return c
}

// Streamer accumulates text for one conversation and decides when and where to
// emit it as chat posts. It exclusively owns the pending content and the
// current outgoing post id; a session owns exactly one Streamer.
type Streamer struct {
	cfg      Config
	poster   Poster
	threadID string
	logger   *slog.Logger

	mu            sync.Mutex
	pending       string
	currentPostID string
	debounce      *time.Timer
	typingStop    chan struct{}
	stopped       bool

	tasksPostID  string
	tasksContent string
	tasksActive  bool
}

// New creates a Streamer posting into the given thread. Pass nil logger for default.
func New(cfg Config, poster Poster, threadID string, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		cfg:      cfg.withDefaults(),
		poster:   poster,
		threadID: threadID,
		logger:   logger.With("component", "stream", "thread_id", threadID),
	}
}

// Append adds text to the pending content and schedules a debounced flush.
func (s *Streamer) Append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || text == "" {
		return
	}
	s.pending += text

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.Debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Warn("debounced flush failed", "error", err)
		}
	})
}

// Flush pushes pending content to the platform, splitting into multiple posts
// when size limits require it. Safe to call at any time.
func (s *Streamer) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// FinalFlush cancels the debounce timer and pushes everything that remains.
// Call when the agent's turn is complete; the streamer stays usable.
func (s *Streamer) FinalFlush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	return s.flushLocked(ctx)
}

// EndMessage finalizes the current outgoing post so the next append starts a
// fresh one. Call between agent turns.
func (s *Streamer) EndMessage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	s.pending = ""
	s.currentPostID = ""
	return nil
}

func (s *Streamer) flushLocked(ctx context.Context) error {
	if s.stopped || strings.TrimSpace(s.pending) == "" {
		return nil
	}

	for {
		content := s.pending

		if len(content) <= s.cfg.SoftLimit {
			return s.ensurePostLocked(ctx, content)
		}

		at := FindBreakpoint(content, s.cfg.SoftLimit, s.cfg.Lookahead)
		if at < 0 {
			if len(content) < s.cfg.HardLimit {
				// Over soft but no breakpoint yet: keep growing in place
				// until the hard ceiling forces a break.
				return s.ensurePostLocked(ctx, content)
			}
			at = s.cfg.HardLimit - len(continuedBelowMarker) - forcedSplitFenceSlack
		}

		head, tail := SplitAt(content, at)
		if err := s.finalizeHeadLocked(ctx, head); err != nil {
			return err
		}

		tail = continuedPrefix + strings.TrimLeft(tail, "\n")
		s.pending = tail

		if err := s.openTailPostLocked(ctx, tail); err != nil {
			return err
		}
	}
}

// ensurePostLocked creates or updates the current outgoing post in place.
func (s *Streamer) ensurePostLocked(ctx context.Context, content string) error {
	if s.currentPostID == "" {
		id, err := s.poster.CreatePost(ctx, s.threadID, content)
		if err != nil {
			return err
		}
		s.currentPostID = id
		return nil
	}
	return s.poster.UpdatePost(ctx, s.currentPostID, content)
}

// finalizeHeadLocked writes the finalized first part with its continuation
// marker and clears the current post id before any further network calls, so
// a concurrent append cannot race into the finalized post.
func (s *Streamer) finalizeHeadLocked(ctx context.Context, head string) error {
	head += continuedBelowMarker
	if s.currentPostID == "" {
		if _, err := s.poster.CreatePost(ctx, s.threadID, head); err != nil {
			return err
		}
		return nil
	}
	postID := s.currentPostID
	s.currentPostID = ""
	return s.poster.UpdatePost(ctx, postID, head)
}

// openTailPostLocked creates the post that carries the remainder. If an
// active task-list post exists it is repurposed to host the remainder and a
// fresh task-list post is created below it, keeping the task list visually at
// the bottom without delete/recreate churn.
func (s *Streamer) openTailPostLocked(ctx context.Context, tail string) error {
	if s.tasksPostID != "" && s.tasksActive {
		repurposed := s.tasksPostID
		s.tasksPostID = ""

		if err := s.poster.RemoveReaction(ctx, repurposed, TasksToggleEmoji); err != nil {
			s.logger.Warn("removing tasks toggle failed", "error", err, "post_id", repurposed)
		}
		if err := s.poster.UpdatePost(ctx, repurposed, tail); err != nil {
			return err
		}
		s.currentPostID = repurposed

		tasksID, err := s.poster.CreatePost(ctx, s.threadID, s.tasksContent)
		if err != nil {
			return err
		}
		s.tasksPostID = tasksID
		if err := s.poster.AddReaction(ctx, tasksID, TasksToggleEmoji); err != nil {
			s.logger.Warn("adding tasks toggle failed", "error", err, "post_id", tasksID)
		}
		return nil
	}

	id, err := s.poster.CreatePost(ctx, s.threadID, tail)
	if err != nil {
		return err
	}
	s.currentPostID = id
	return nil
}

// SetTasks creates or updates the task-list post that trails the streamed
// output. active=false marks the list completed, which exempts it from
// repurposing on the next split.
func (s *Streamer) SetTasks(ctx context.Context, content string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.tasksContent = content
	s.tasksActive = active

	if s.tasksPostID == "" {
		id, err := s.poster.CreatePost(ctx, s.threadID, content)
		if err != nil {
			return err
		}
		s.tasksPostID = id
		if err := s.poster.AddReaction(ctx, id, TasksToggleEmoji); err != nil {
			s.logger.Warn("adding tasks toggle failed", "error", err, "post_id", id)
		}
		return nil
	}
	return s.poster.UpdatePost(ctx, s.tasksPostID, content)
}

// TasksPostID returns the id of the current task-list post, or "".
func (s *Streamer) TasksPostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksPostID
}

// StartTyping begins periodic typing-indicator refreshes until StopTyping or
// Stop is called.
func (s *Streamer) StartTyping(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.typingStop != nil {
		return
	}
	stop := make(chan struct{})
	s.typingStop = stop

	interval := s.cfg.TypingInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := s.poster.SendTyping(ctx, s.threadID); err != nil {
				s.logger.Debug("typing indicator failed", "error", err)
			}
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// StopTyping cancels the typing-indicator refresh.
func (s *Streamer) StopTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTypingLocked()
}

func (s *Streamer) stopTypingLocked() {
	if s.typingStop != nil {
		close(s.typingStop)
		s.typingStop = nil
	}
}

// Stop cancels every outstanding timer and rejects further appends. Every
// teardown path must call it; a timer firing against a torn-down session is a
// correctness bug, not an inefficiency.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.stopTypingLocked()
}

// Pending returns the accumulated unflushed content.
func (s *Streamer) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// CurrentPostID returns the id of the in-place outgoing post, or "".
func (s *Streamer) CurrentPostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPostID
}
