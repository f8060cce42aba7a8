// ABOUTME: Cleanup scheduler that times out idle sessions on a fixed interval
// ABOUTME: Also prunes the store: stale records are soft-deleted, old history is dropped

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-bridge/internal/store"
)

// Cleaner sweeps live sessions on a fixed interval. Sessions idle past the
// timeout get a notice, a final persist, and a kill that keeps the record so
// they stay resumable. Sessions approaching the timeout get one warning.
type Cleaner struct {
	registry *Registry
	store    store.Store
	cfg      Config
	logger   *slog.Logger
}

// NewCleaner wires a cleaner against a registry and its store. Pass nil
// logger for the default.
func NewCleaner(registry *Registry, st store.Store, cfg Config, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		registry: registry,
		store:    st,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "cleanup"),
	}
}

// Run sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over live sessions and the store.
func (c *Cleaner) Sweep(ctx context.Context) {
	for _, sess := range c.registry.ListActive() {
		idle := sess.IdleFor()
		switch {
		case idle >= c.cfg.IdleTimeout:
			c.timeout(ctx, sess, idle)
		case idle >= c.cfg.IdleTimeout-c.cfg.WarningWindow:
			c.warn(ctx, sess, idle)
		}
	}

	if keys, err := c.store.CleanStale(ctx, c.cfg.StaleAge); err != nil {
		c.logger.Error("stale sweep failed", "error", err)
	} else if len(keys) > 0 {
		c.logger.Info("soft-deleted stale sessions", "count", len(keys))
	}

	if n, err := c.store.CleanHistory(ctx, c.cfg.Retention); err != nil {
		c.logger.Error("history retention failed", "error", err)
	} else if n > 0 {
		c.logger.Info("removed expired history records", "count", n)
	}
}

// timeout posts or updates the timeout notice, persists the session with the
// notice's post id, and kills without unpersisting so the session can be
// resumed from the thread later.
func (c *Cleaner) timeout(ctx context.Context, sess *Session, idle time.Duration) {
	logger := c.logger.With("key", sess.Key())
	notice := fmt.Sprintf("⏰ Session timed out after %s of inactivity. Send a message in this thread to resume.",
		idle.Round(time.Minute))

	sess.mu.Lock()
	postID := sess.timeoutPostID
	sess.mu.Unlock()

	if postID != "" {
		if err := sess.client.UpdatePost(ctx, postID, notice); err != nil {
			logger.Warn("updating timeout notice failed", "error", err)
		}
	} else {
		id, err := sess.client.CreatePost(ctx, sess.ThreadID, notice)
		if err != nil {
			logger.Warn("posting timeout notice failed", "error", err)
		} else {
			sess.mu.Lock()
			sess.timeoutPostID = id
			sess.mu.Unlock()
		}
	}

	c.registry.ctl.persist(ctx, sess)
	c.registry.ctl.kill(ctx, sess, false)
	logger.Info("session timed out", "idle", idle)
}

// warn posts a single timeout warning per idle stretch; the flag re-arms on
// fresh activity.
func (c *Cleaner) warn(ctx context.Context, sess *Session, idle time.Duration) {
	sess.mu.Lock()
	warned := sess.timeoutWarned
	sess.timeoutWarned = true
	sess.mu.Unlock()
	if warned {
		return
	}

	remaining := c.cfg.IdleTimeout - idle
	notice := fmt.Sprintf("⏳ This session will time out in about %s unless there is new activity.",
		remaining.Round(time.Minute))
	if _, err := sess.client.CreatePost(ctx, sess.ThreadID, notice); err != nil {
		c.logger.Warn("posting timeout warning failed", "key", sess.Key(), "error", err)
		// Retry on the next sweep.
		sess.mu.Lock()
		sess.timeoutWarned = false
		sess.mu.Unlock()
	}
}
