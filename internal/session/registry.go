// ABOUTME: Registry of live sessions keyed by composite id and by outstanding post id
// ABOUTME: Enforces the concurrency cap and routes inbound chat events to the owning session

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-bridge/internal/agentproc"
	"github.com/2389/coven-bridge/internal/platform"
	"github.com/2389/coven-bridge/internal/prompt"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/2389/coven-bridge/internal/stream"
	"github.com/2389/coven-bridge/internal/workspace"
)

var (
	// ErrSessionLimit is returned when admission control rejects a start.
	// Rejection is synchronous; nothing is queued or retried.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrShuttingDown is returned for starts during shutdown.
	ErrShuttingDown = errors.New("shutting down")

	// ErrNoSession means neither a live session nor a resumable record
	// exists for the thread.
	ErrNoSession = errors.New("no session for thread")
)

// Config controls session lifecycle policy.
type Config struct {
	// MaxConcurrent caps live sessions; starts past the cap are rejected.
	MaxConcurrent int

	// ResumeFailLimit bounds consecutive failed resume attempts.
	ResumeFailLimit int

	IdleTimeout   time.Duration
	WarningWindow time.Duration
	SweepInterval time.Duration
	StaleAge      time.Duration
	Retention     time.Duration

	// WorkspaceBase is where isolated workspaces are created. Empty disables
	// isolation even when a start requests it.
	WorkspaceBase string

	// StatusInterval is the refresh period of the session-start status post.
	StatusInterval time.Duration

	Stream stream.Config
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.ResumeFailLimit <= 0 {
		c.ResumeFailLimit = 3
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 4 * time.Hour
	}
	if c.WarningWindow <= 0 {
		c.WarningWindow = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.StaleAge <= 0 {
		c.StaleAge = 7 * 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 30 * time.Second
	}
	return c
}

// StartRequest describes a new conversation to start.
type StartRequest struct {
	Client           platform.Client
	ThreadID         string
	StartedBy        string
	WorkingDir       string
	InitialMessage   string
	ForceInteractive bool

	// OfferIsolation asks the user whether to run in an isolated workspace
	// before the first message is delivered.
	OfferIsolation bool

	Title string
}

// Registry exclusively owns the map of live sessions and the secondary index
// from outstanding post id to composite session id. Both maps are mutated
// only here, with insert/remove paired on every lifecycle transition.
type Registry struct {
	cfg    Config
	store  store.Store
	logger *slog.Logger
	ctl    *controller

	mu           sync.Mutex
	sessions     map[string]*Session
	postIndex    map[string]string
	shuttingDown bool
}

// NewRegistry wires the registry and its lifecycle controller. Pass nil
// logger for the default.
func NewRegistry(cfg Config, st store.Store, launcher agentproc.Launcher, workspaces workspace.Manager, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if workspaces == nil {
		workspaces = workspace.Local{}
	}
	r := &Registry{
		cfg:       cfg.withDefaults(),
		store:     st,
		logger:    logger.With("component", "session"),
		sessions:  make(map[string]*Session),
		postIndex: make(map[string]string),
	}
	r.ctl = &controller{
		cfg:        r.cfg,
		store:      st,
		launcher:   launcher,
		workspaces: workspaces,
		registry:   r,
		logger:     r.logger,
	}
	return r
}

// Start creates a new session, subject to admission control. A second start
// for a thread that already has a live session routes the initial message as
// a follow-up instead of creating a duplicate.
func (r *Registry) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.Client == nil || req.ThreadID == "" {
		return nil, errors.New("client and thread id are required")
	}
	key := req.Client.PlatformID() + ":" + req.ThreadID

	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if existing, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		if req.InitialMessage != "" {
			if err := r.ctl.forward(ctx, existing, req.InitialMessage); err != nil {
				return existing, err
			}
		}
		return existing, nil
	}
	if len(r.sessions) >= r.cfg.MaxConcurrent {
		r.mu.Unlock()
		return nil, ErrSessionLimit
	}
	sess := r.newSession(req)
	r.sessions[key] = sess
	r.mu.Unlock()

	// Session numbering continues from the prior record for this thread.
	if rec, err := r.store.Get(ctx, key); err == nil {
		sess.mu.Lock()
		sess.sessionNumber = rec.SessionNumber + 1
		sess.mu.Unlock()
	}

	r.postStartMessage(ctx, sess)

	if err := r.ctl.start(ctx, sess, req.InitialMessage); err != nil {
		r.logger.Error("session start failed", "key", key, "error", err)
		sess.finish()
		sess.Streamer().Stop()
		r.remove(sess)
		r.ctl.notify(ctx, sess, "❌ Could not start the agent process.")
		return nil, err
	}
	return sess, nil
}

// Resume revives a persisted session. Validation failures (incomplete record,
// missing thread, missing working directory) remove the stale record and
// notify the user; an admission-control rejection keeps the record so a later
// attempt can succeed.
func (r *Registry) Resume(ctx context.Context, client platform.Client, rec *store.Session, followUp string) (*Session, error) {
	key := rec.Key()
	logger := r.logger.With("key", key)

	fail := func(notice string) {
		if err := r.store.Remove(ctx, key); err != nil {
			logger.Error("removing stale record failed", "error", err)
		}
		if _, err := client.CreatePost(ctx, rec.ThreadID, notice); err != nil {
			logger.Warn("posting resume notice failed", "error", err)
		}
	}

	if rec.AgentConversationID == "" || rec.WorkingDir == "" {
		fail("⚠️ Could not resume this session: its saved state is incomplete. Start a new session.")
		return nil, fmt.Errorf("resume %s: record incomplete", key)
	}
	exists, err := client.ThreadExists(ctx, rec.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: checking thread: %w", key, err)
	}
	if !exists {
		// Nowhere to post a notice; just drop the stale record.
		if err := r.store.Remove(ctx, key); err != nil {
			logger.Error("removing stale record failed", "error", err)
		}
		return nil, fmt.Errorf("resume %s: thread no longer exists", key)
	}
	if !r.ctl.workspaces.DirExists(rec.WorkingDir) {
		fail(fmt.Sprintf("⚠️ Could not resume: working directory `%s` no longer exists. Start a new session.", rec.WorkingDir))
		return nil, fmt.Errorf("resume %s: working directory missing", key)
	}

	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if existing, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	if len(r.sessions) >= r.cfg.MaxConcurrent {
		r.mu.Unlock()
		return nil, ErrSessionLimit
	}
	sess := r.sessionFromRecord(client, rec)
	r.sessions[key] = sess
	r.mu.Unlock()

	if err := r.ctl.start(ctx, sess, followUp); err != nil {
		logger.Error("resume launch failed", "error", err)
		sess.finish()
		sess.Streamer().Stop()
		r.remove(sess)
		r.ctl.notify(ctx, sess, "❌ Could not restart the agent for this session.")
		return nil, err
	}
	// The revived record is written back without its timeout marker.
	r.ctl.persist(ctx, sess)
	logger.Info("session resumed", "fail_count", rec.ResumeFailCount)
	return sess, nil
}

// HandleMessage routes an inbound thread message: to the live session's
// process, to a message-approval prompt for non-collaborators, or through a
// transparent resume when only a persisted record exists.
func (r *Registry) HandleMessage(ctx context.Context, client platform.Client, threadID, sender, content string) error {
	key := client.PlatformID() + ":" + threadID

	r.mu.Lock()
	sess, ok := r.sessions[key]
	r.mu.Unlock()

	if ok {
		if !sess.IsAllowed(sender) {
			r.ctl.holdMessage(ctx, sess, sender, content)
			return nil
		}
		return r.ctl.forward(ctx, sess, content)
	}

	rec, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSession
		}
		return fmt.Errorf("loading session record: %w", err)
	}
	if rec.CleanedAt != nil {
		return ErrNoSession
	}
	if recordAllows(rec, sender) {
		_, err = r.Resume(ctx, client, rec, content)
		return err
	}
	// An outsider's message revives the session but is held behind the
	// approval prompt instead of going to the agent.
	sess, err = r.Resume(ctx, client, rec, "")
	if err != nil {
		return err
	}
	r.ctl.holdMessage(ctx, sess, sender, content)
	return nil
}

// recordAllows reports whether sender is in the persisted collaboration set.
func recordAllows(rec *store.Session, sender string) bool {
	if sender == rec.StartedBy {
		return true
	}
	for _, u := range rec.AllowedUsers {
		if u == sender {
			return true
		}
	}
	return false
}

// HandleReaction routes an emoji reaction through the post index to the
// owning session's pending prompt.
func (r *Registry) HandleReaction(ctx context.Context, postID, username, emoji string) {
	r.mu.Lock()
	var sess *Session
	if key, ok := r.postIndex[postID]; ok {
		sess = r.sessions[key]
	}
	r.mu.Unlock()

	if sess == nil {
		return
	}
	r.ctl.handleReaction(ctx, sess, postID, username, emoji)
}

// Interrupt soft-stops the session for a thread. Returns false if no live
// session exists or the process was not running.
func (r *Registry) Interrupt(platformID, threadID string) bool {
	sess, ok := r.LookupByThread(platformID, threadID)
	if !ok {
		return false
	}
	return r.ctl.interrupt(sess)
}

// Kill terminates the session for a thread. removeRecord chooses whether the
// persisted record is dropped too.
func (r *Registry) Kill(ctx context.Context, platformID, threadID string, removeRecord bool) bool {
	sess, ok := r.LookupByThread(platformID, threadID)
	if !ok {
		return false
	}
	r.ctl.kill(ctx, sess, removeRecord)
	return true
}

// KillAll terminates every live session.
func (r *Registry) KillAll(ctx context.Context, removeRecords bool) {
	for _, sess := range r.ListActive() {
		r.ctl.kill(ctx, sess, removeRecords)
	}
}

// Shutdown persists every responsive session and kills its process without
// unpersisting, so sessions resume on the next start.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.shuttingDown = true
	active := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		active = append(active, s)
	}
	r.mu.Unlock()

	for _, sess := range active {
		r.ctl.persist(ctx, sess)
		sess.finish()
		sess.Streamer().Stop()

		sess.mu.Lock()
		proc := sess.proc
		sess.mu.Unlock()
		if proc != nil && proc.IsRunning() {
			if err := proc.Kill(ctx); err != nil {
				r.logger.Warn("killing agent during shutdown failed", "key", sess.Key(), "error", err)
			}
		}
		r.remove(sess)
	}
	r.logger.Info("registry shut down", "sessions", len(active))
}

// LookupByThread returns the live session for a thread, if any.
func (r *Registry) LookupByThread(platformID, threadID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[platformID+":"+threadID]
	return sess, ok
}

// LookupByMessageID resolves an outstanding post id to its owning session.
func (r *Registry) LookupByMessageID(postID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.postIndex[postID]
	if !ok {
		return nil, false
	}
	sess, ok := r.sessions[key]
	return sess, ok
}

// ListActive returns all live sessions.
func (r *Registry) ListActive() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ActiveKeys returns the composite ids of all live sessions, for history
// queries that must exclude live threads.
func (r *Registry) ActiveKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) newSession(req StartRequest) *Session {
	now := time.Now()
	allowed := make(map[string]struct{})
	if req.StartedBy != "" {
		allowed[req.StartedBy] = struct{}{}
	}
	sess := &Session{
		PlatformID:        req.Client.PlatformID(),
		ThreadID:          req.ThreadID,
		client:            req.Client,
		prompts:           prompt.NewState(),
		startedBy:         req.StartedBy,
		startedAt:         now,
		lastActivity:      now,
		sessionNumber:     1,
		workingDir:        req.WorkingDir,
		allowedUsers:      allowed,
		forceInteractive:  req.ForceInteractive,
		awaitingIsolation: req.OfferIsolation && r.cfg.WorkspaceBase != "",
		title:             req.Title,
		done:              make(chan struct{}),
	}
	sess.stream = stream.New(r.cfg.Stream, req.Client, req.ThreadID, r.logger)
	return sess
}

func (r *Registry) sessionFromRecord(client platform.Client, rec *store.Session) *Session {
	allowed := make(map[string]struct{}, len(rec.AllowedUsers)+1)
	for _, u := range rec.AllowedUsers {
		allowed[u] = struct{}{}
	}
	if rec.StartedBy != "" {
		allowed[rec.StartedBy] = struct{}{}
	}
	sess := &Session{
		PlatformID:          rec.PlatformID,
		ThreadID:            rec.ThreadID,
		client:              client,
		prompts:             prompt.NewState(),
		agentConversationID: rec.AgentConversationID,
		startedBy:           rec.StartedBy,
		startedAt:           rec.StartedAt,
		lastActivity:        time.Now(),
		sessionNumber:       rec.SessionNumber,
		workingDir:          rec.WorkingDir,
		allowedUsers:        allowed,
		forceInteractive:    rec.ForceInteractivePermissions,
		// The record only exists because the agent responded; that also makes
		// the revived session immediately safe to persist.
		isResumed:          true,
		hasAgentResponded:  true,
		resumeFailCount:    rec.ResumeFailCount,
		sessionStartPostID: rec.SessionStartMessageID,
		title:              rec.Title,
		description:        rec.Description,
		isolationInfo:      rec.IsolationInfo,
		done:               make(chan struct{}),
	}
	sess.prompts.SetPlanApproved(rec.PlanApproved)
	sess.stream = stream.New(r.cfg.Stream, client, rec.ThreadID, r.logger)
	return sess
}

// postStartMessage posts the session banner and registers its id so
// reactions on it resolve to the session.
func (r *Registry) postStartMessage(ctx context.Context, sess *Session) {
	id, err := sess.client.CreatePost(ctx, sess.ThreadID, startPostContent(sess, 0))
	if err != nil {
		r.logger.Warn("posting session start message failed", "key", sess.Key(), "error", err)
		return
	}
	sess.mu.Lock()
	sess.sessionStartPostID = id
	sess.mu.Unlock()
	r.indexPost(id, sess.Key())
}

// indexPost registers an outstanding post id for reaction routing.
func (r *Registry) indexPost(postID, key string) {
	if postID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postIndex[postID] = key
}

func (r *Registry) unindexPost(postID string) {
	if postID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.postIndex, postID)
}

// remove deletes a session from the primary map and drops every index entry
// pointing at it. Idempotent; safe to call from any teardown path.
func (r *Registry) remove(sess *Session) {
	key := sess.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == sess {
		delete(r.sessions, key)
	}
	for id, k := range r.postIndex {
		if k == key {
			delete(r.postIndex, id)
		}
	}
}

func (r *Registry) isShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuttingDown
}
