// ABOUTME: Lifecycle controller: starts, resumes, interrupts, restarts, and tears down sessions
// ABOUTME: Routes agent events into the streamer and classifies process exits in strict priority order

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-bridge/internal/agentproc"
	"github.com/2389/coven-bridge/internal/platform"
	"github.com/2389/coven-bridge/internal/prompt"
	"github.com/2389/coven-bridge/internal/store"
	"github.com/2389/coven-bridge/internal/stream"
	"github.com/2389/coven-bridge/internal/workspace"
)

// Agent tool names that open interactive prompts instead of streaming.
const (
	toolPlanMode  = "ExitPlanMode"
	toolQuestions = "AskUserQuestion"
)

const (
	emojiApprove = "✅"
	emojiDeny    = "❌"
	emojiInvite  = "➕"
)

// questionEmojis index the selectable options of a question, in order.
var questionEmojis = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

type controller struct {
	cfg        Config
	store      store.Store
	launcher   agentproc.Launcher
	workspaces workspace.Manager
	registry   *Registry
	logger     *slog.Logger
}

// start launches the agent process for a session and begins consuming its
// events. If a workspace-isolation prompt is pending the initial message is
// held until the user decides; otherwise it is sent immediately. A launch
// failure leaves the session untouched for the caller to tear down.
func (c *controller) start(ctx context.Context, sess *Session, initialMessage string) error {
	sess.mu.Lock()
	if sess.agentConversationID == "" {
		sess.agentConversationID = uuid.New().String()
	}
	spec := agentproc.LaunchSpec{
		WorkingDir:       sess.workingDir,
		ConversationID:   sess.agentConversationID,
		Resume:           sess.isResumed,
		ForceInteractive: sess.forceInteractive,
	}
	sess.mu.Unlock()

	if path := sess.client.McpConfigPath(); path != "" {
		mcp, err := agentproc.LoadMcpConfig(path)
		if err != nil {
			c.logger.Warn("mcp config unavailable", "path", path, "error", err)
		} else {
			spec.McpConfig = mcp
		}
	}

	proc, err := c.launcher.Launch(ctx, spec)
	if err != nil {
		return fmt.Errorf("launching agent: %w", err)
	}
	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	sess.mu.Lock()
	sess.proc = proc
	held := sess.awaitingIsolation
	if held {
		sess.heldMessage = initialMessage
	}
	sess.mu.Unlock()

	go c.eventLoop(sess, proc)

	if held {
		if err := c.promptIsolation(ctx, sess); err != nil {
			c.logger.Warn("isolation prompt failed, continuing in place", "key", sess.Key(), "error", err)
			sess.mu.Lock()
			sess.awaitingIsolation = false
			sess.heldMessage = ""
			sess.mu.Unlock()
			held = false
		}
	}
	if !held && initialMessage != "" {
		if err := proc.SendMessage(ctx, initialMessage); err != nil {
			return fmt.Errorf("sending initial message: %w", err)
		}
		sess.Streamer().StartTyping(context.Background())
	}

	c.startStatusTicker(sess)
	return nil
}

// restartProcess replaces the session's process with a fresh launch against
// the same conversation id. The isRestarting flag suppresses teardown when
// the old process's exit is classified.
func (c *controller) restartProcess(ctx context.Context, sess *Session) error {
	sess.mu.Lock()
	old := sess.proc
	spec := agentproc.LaunchSpec{
		WorkingDir:       sess.workingDir,
		ConversationID:   sess.agentConversationID,
		Resume:           sess.hasAgentResponded,
		ForceInteractive: sess.forceInteractive,
	}
	sess.mu.Unlock()

	// The flag is only set when a running predecessor will actually deliver
	// an exit to consume it; a dead one would leave it dangling.
	if old != nil && old.IsRunning() {
		sess.mu.Lock()
		sess.isRestarting = true
		sess.mu.Unlock()
		if err := old.Kill(ctx); err != nil {
			c.logger.Warn("killing old process during restart failed", "key", sess.Key(), "error", err)
		}
	}

	proc, err := c.launcher.Launch(ctx, spec)
	if err == nil {
		err = proc.Start(ctx)
	}
	if err != nil {
		sess.mu.Lock()
		sess.isRestarting = false
		sess.mu.Unlock()
		return fmt.Errorf("relaunching agent: %w", err)
	}

	sess.mu.Lock()
	sess.proc = proc
	// A signal sent to the replaced process must not classify the
	// successor's exit.
	sess.wasInterrupted = false
	sess.mu.Unlock()

	go c.eventLoop(sess, proc)
	return nil
}

// forward delivers a user message to the live process. When no process is
// running it transparently resumes first. While an isolation decision is
// pending the message joins the held buffer instead.
func (c *controller) forward(ctx context.Context, sess *Session, content string) error {
	sess.mu.Lock()
	if sess.awaitingIsolation {
		if sess.heldMessage != "" {
			sess.heldMessage += "\n"
		}
		sess.heldMessage += content
		sess.mu.Unlock()
		return nil
	}
	proc := sess.proc
	sess.mu.Unlock()

	sess.Touch()

	if proc == nil || !proc.IsRunning() {
		sess.mu.Lock()
		sess.isResumed = true
		sess.mu.Unlock()
		if err := c.restartProcess(ctx, sess); err != nil {
			return fmt.Errorf("resuming agent: %w", err)
		}
		sess.mu.Lock()
		proc = sess.proc
		sess.mu.Unlock()
	}

	if err := proc.SendMessage(ctx, content); err != nil {
		return fmt.Errorf("forwarding message: %w", err)
	}
	sess.Streamer().StartTyping(context.Background())
	c.persist(ctx, sess)
	return nil
}

// interrupt sends the cooperative soft-stop signal. The flag is set before
// signaling so the exit handler cannot miss it, and cleared again when no
// signal was actually delivered.
func (c *controller) interrupt(sess *Session) bool {
	sess.mu.Lock()
	sess.wasInterrupted = true
	proc := sess.proc
	sess.mu.Unlock()

	delivered := proc != nil && proc.Interrupt()
	if !delivered {
		sess.mu.Lock()
		sess.wasInterrupted = false
		sess.mu.Unlock()
	}
	return delivered
}

// kill terminates the session unconditionally. The caller chooses whether
// the persisted record is removed (true) or kept for a later resume (false).
func (c *controller) kill(ctx context.Context, sess *Session, removeRecord bool) {
	owner := sess.finish()

	sess.mu.Lock()
	proc := sess.proc
	sess.mu.Unlock()

	if proc != nil && proc.IsRunning() {
		if err := proc.Kill(ctx); err != nil {
			c.logger.Warn("killing agent failed", "key", sess.Key(), "error", err)
		}
	}
	if !owner {
		return
	}

	sess.Streamer().Stop()
	if removeRecord {
		c.removeRecord(ctx, sess.Key())
	}
	c.registry.remove(sess)
}

// eventLoop consumes the process's event stream until it closes, then
// classifies the exit. One loop runs per process binding; a restart kills
// the old binding and starts a new loop.
func (c *controller) eventLoop(sess *Session, proc agentproc.Process) {
	ctx := context.Background()
	for {
		select {
		case <-sess.done:
			return
		case ev, ok := <-proc.Events():
			if !ok {
				status := <-proc.Wait()
				c.handleExit(ctx, sess, proc, status)
				return
			}
			c.handleEvent(ctx, sess, ev)
		}
	}
}

func (c *controller) handleEvent(ctx context.Context, sess *Session, ev agentproc.Event) {
	switch ev.Type {
	case agentproc.EventSystem:
		if ev.ConversationID != "" {
			sess.mu.Lock()
			sess.agentConversationID = ev.ConversationID
			sess.mu.Unlock()
		}

	case agentproc.EventAssistant:
		c.markResponded(ctx, sess)
		sess.Streamer().Append(ev.Text)
		sess.Touch()

	case agentproc.EventToolUse:
		c.markResponded(ctx, sess)
		sess.Touch()
		switch ev.ToolName {
		case toolPlanMode:
			c.promptPlan(ctx, sess, ev)
		case toolQuestions:
			c.promptQuestions(ctx, sess, ev)
		default:
			sess.Streamer().Append("\n" + stream.ToolMarkerPrefix + " " + ev.ToolName + "\n")
		}

	case agentproc.EventToolResult:
		if ev.IsError {
			sess.Streamer().Append("\n" + stream.ToolMarkerPrefix + " error: " + firstLine(ev.Text) + "\n")
		}
		sess.Touch()

	case agentproc.EventResult:
		sess.Streamer().StopTyping()
		if err := sess.Streamer().FinalFlush(ctx); err != nil {
			c.logger.Warn("final flush failed", "key", sess.Key(), "error", err)
		}
		if err := sess.Streamer().EndMessage(ctx); err != nil {
			c.logger.Warn("ending message failed", "key", sess.Key(), "error", err)
		}
		sess.Touch()
		c.persist(ctx, sess)

	case agentproc.EventUser:
		// Echo of a forwarded message; nothing to do.
	}
}

// markResponded flips hasAgentResponded on the first substantive event. The
// session becomes safe to persist at that point and is written immediately.
func (c *controller) markResponded(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	if sess.hasAgentResponded {
		sess.mu.Unlock()
		return
	}
	sess.hasAgentResponded = true
	sess.mu.Unlock()
	c.persist(ctx, sess)
}

// handleExit classifies a process exit. The conditions are evaluated from
// most-specific to least-specific so an intentional restart is never
// misclassified as a crash.
func (c *controller) handleExit(ctx context.Context, sess *Session, proc agentproc.Process, status agentproc.ExitStatus) {
	key := sess.Key()

	sess.mu.Lock()
	restarting := sess.isRestarting
	if restarting {
		sess.isRestarting = false
	}
	interrupted := sess.wasInterrupted
	responded := sess.hasAgentResponded
	resumed := sess.isResumed
	sess.mu.Unlock()

	// Intentional process replace: a successor binding is on its way.
	if restarting {
		return
	}

	// Shutdown already persisted everything it wanted to keep.
	if c.registry.isShuttingDown() {
		c.registry.remove(sess)
		return
	}

	if !sess.finish() {
		// A kill or timeout path owns teardown already.
		return
	}
	defer func() {
		sess.Streamer().Stop()
		c.registry.remove(sess)
	}()

	sw := sess.Streamer()
	sw.StopTyping()

	switch {
	case interrupted:
		if err := sw.FinalFlush(ctx); err != nil {
			c.logger.Warn("final flush failed", "key", key, "error", err)
		}
		if responded {
			c.persist(ctx, sess)
			c.notify(ctx, sess, "⏸️ Session paused. Send a message in this thread to continue.")
		} else {
			c.removeRecord(ctx, key)
			c.notify(ctx, sess, "⏹️ Session stopped before the agent responded; nothing to resume.")
		}

	case !responded && !resumed:
		// Nothing useful to resume.
		c.removeRecord(ctx, key)
		c.notify(ctx, sess, fmt.Sprintf("⚠️ Agent exited (code %d) before responding.", status.Code))

	case resumed && status.Code != 0:
		c.handleResumeFailure(ctx, sess, proc)

	default:
		if err := sw.FinalFlush(ctx); err != nil {
			c.logger.Warn("final flush failed", "key", key, "error", err)
		}
		if status.Code == 0 {
			c.removeRecord(ctx, key)
		} else {
			c.persist(ctx, sess)
			c.notify(ctx, sess, fmt.Sprintf("⚠️ Agent exited with code %d. Send a message in this thread to retry.", status.Code))
		}
	}
}

// handleResumeFailure applies the bounded-retry policy to a resumed session
// that exited with a non-zero code.
func (c *controller) handleResumeFailure(ctx context.Context, sess *Session, proc agentproc.Process) {
	key := sess.Key()

	if proc.IsPermanentFailure() {
		c.removeRecord(ctx, key)
		c.notify(ctx, sess, "❌ This session permanently failed: "+proc.PermanentFailureReason())
		return
	}

	sess.mu.Lock()
	sess.resumeFailCount++
	fails := sess.resumeFailCount
	sess.mu.Unlock()

	if fails >= c.cfg.ResumeFailLimit {
		c.removeRecord(ctx, key)
		c.notify(ctx, sess, fmt.Sprintf("❌ Could not resume after %d attempts; giving up on this session.", fails))
		return
	}

	// Below the bound: keep the record with the bumped counter so the next
	// restart retries. Written directly because the responded gate does not
	// apply to an already-persisted record.
	if err := c.store.Save(ctx, sess.record()); err != nil {
		c.logger.Error("persisting resume failure failed", "key", key, "error", err)
	}
	c.notify(ctx, sess, fmt.Sprintf("⚠️ Resume failed (attempt %d of %d); it will be retried on the next restart.", fails, c.cfg.ResumeFailLimit))
}

// promptIsolation posts the isolated-workspace question and registers its
// post id for reaction routing.
func (c *controller) promptIsolation(ctx context.Context, sess *Session) error {
	opts := []platform.ReactionOption{
		{Emoji: emojiApprove, Label: "isolated workspace"},
		{Emoji: emojiDeny, Label: "work in place"},
	}
	body := fmt.Sprintf("🗂️ Run this session in an isolated workspace? React %s to isolate or %s to work in `%s` directly.",
		emojiApprove, emojiDeny, sess.workingDir)
	id, err := sess.client.CreateInteractivePost(ctx, sess.ThreadID, body, opts)
	if err != nil {
		return fmt.Errorf("posting isolation prompt: %w", err)
	}

	sess.mu.Lock()
	sess.isolationPostID = id
	sess.mu.Unlock()
	c.registry.indexPost(id, sess.Key())
	return nil
}

func (c *controller) resolveIsolation(ctx context.Context, sess *Session, emoji string) {
	if emoji != emojiApprove && emoji != emojiDeny {
		return
	}

	sess.mu.Lock()
	if !sess.awaitingIsolation {
		sess.mu.Unlock()
		return
	}
	sess.awaitingIsolation = false
	postID := sess.isolationPostID
	sess.isolationPostID = ""
	held := sess.heldMessage
	sess.heldMessage = ""
	sess.mu.Unlock()

	c.registry.unindexPost(postID)

	if emoji == emojiApprove && c.cfg.WorkspaceBase != "" {
		name := "session-" + uuid.New().String()[:8]
		dir, err := c.workspaces.CreateIsolated(ctx, c.cfg.WorkspaceBase, name)
		if err != nil {
			c.logger.Error("creating isolated workspace failed", "key", sess.Key(), "error", err)
			c.notify(ctx, sess, "⚠️ Could not create an isolated workspace; continuing in place.")
		} else {
			sess.mu.Lock()
			sess.workingDir = dir
			sess.isolationInfo = dir
			sess.mu.Unlock()

			if err := sess.client.UpdatePost(ctx, postID, "🗂️ Working in isolated workspace `"+dir+"`."); err != nil {
				c.logger.Debug("updating isolation prompt failed", "error", err)
			}
			if err := c.restartProcess(ctx, sess); err != nil {
				c.logger.Error("restart into isolated workspace failed", "key", sess.Key(), "error", err)
				c.notify(ctx, sess, "❌ Could not restart the agent in the isolated workspace.")
				return
			}
		}
	}

	if held == "" {
		return
	}
	sess.mu.Lock()
	proc := sess.proc
	sess.mu.Unlock()
	if proc == nil {
		return
	}
	if err := proc.SendMessage(ctx, held); err != nil {
		c.logger.Error("sending held message failed", "key", sess.Key(), "error", err)
		c.notify(ctx, sess, "❌ Could not deliver your message to the agent.")
		return
	}
	sess.Streamer().StartTyping(context.Background())
}

// promptPlan opens a plan-approval prompt. Sticky approval from an earlier
// decision auto-acknowledges without re-prompting; a duplicate trigger while
// one is pending is ignored.
func (c *controller) promptPlan(ctx context.Context, sess *Session, ev agentproc.Event) {
	if err := sess.Streamer().FinalFlush(ctx); err != nil {
		c.logger.Warn("flush before plan prompt failed", "key", sess.Key(), "error", err)
	}

	p := sess.Prompts()
	if p.PlanApproved() {
		c.sendToolResult(ctx, sess, ev.ToolID, "Plan approved. Proceed.")
		return
	}
	if p.PlanPostID() != "" {
		return
	}

	plan := ev.ToolInput
	var input struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal([]byte(ev.ToolInput), &input); err == nil && input.Plan != "" {
		plan = input.Plan
	}

	opts := []platform.ReactionOption{
		{Emoji: emojiApprove, Label: "approve"},
		{Emoji: emojiDeny, Label: "deny"},
	}
	body := fmt.Sprintf("📋 **Plan**\n\n%s\n\n%s approve · %s deny", plan, emojiApprove, emojiDeny)
	id, err := sess.client.CreateInteractivePost(ctx, sess.ThreadID, body, opts)
	if err != nil {
		c.logger.Error("posting plan prompt failed", "key", sess.Key(), "error", err)
		return
	}
	if !p.OpenPlan(id, ev.ToolID) {
		// Lost a race with another trigger; drop our post.
		_ = sess.client.DeletePost(ctx, id)
		return
	}
	c.registry.indexPost(id, sess.Key())
}

func (c *controller) resolvePlanReaction(ctx context.Context, sess *Session, emoji string) {
	var approved bool
	switch emoji {
	case emojiApprove:
		approved = true
	case emojiDeny:
		approved = false
	default:
		return
	}

	plan := sess.Prompts().ResolvePlan(approved)
	if plan == nil {
		return
	}
	c.registry.unindexPost(plan.PostID)

	if approved {
		if err := sess.client.UpdatePost(ctx, plan.PostID, "📋 Plan approved "+emojiApprove); err != nil {
			c.logger.Debug("updating plan post failed", "error", err)
		}
		c.sendToolResult(ctx, sess, plan.ToolID, "Plan approved. Proceed.")
	} else {
		if err := sess.client.UpdatePost(ctx, plan.PostID, "📋 Plan denied "+emojiDeny); err != nil {
			c.logger.Debug("updating plan post failed", "error", err)
		}
		c.sendToolResult(ctx, sess, plan.ToolID, "Plan denied. Revise the plan and ask again.")
	}
	c.persist(ctx, sess)
}

// promptQuestions opens a sequential question set, presenting one question
// at a time on a single post.
func (c *controller) promptQuestions(ctx context.Context, sess *Session, ev agentproc.Event) {
	if err := sess.Streamer().FinalFlush(ctx); err != nil {
		c.logger.Warn("flush before question prompt failed", "key", sess.Key(), "error", err)
	}

	questions, err := parseQuestions(ev.ToolInput)
	if err != nil || len(questions) == 0 {
		c.logger.Warn("unusable question set", "key", sess.Key(), "error", err)
		c.sendToolResult(ctx, sess, ev.ToolID, "No questions could be presented.")
		return
	}

	p := sess.Prompts()
	if p.QuestionSetPostID() != "" {
		return
	}

	body := renderQuestion(&questions[0], 0, len(questions))
	id, err := sess.client.CreateInteractivePost(ctx, sess.ThreadID, body, optionReactions(questions[0].Options))
	if err != nil {
		c.logger.Error("posting question prompt failed", "key", sess.Key(), "error", err)
		return
	}
	if !p.OpenQuestions(id, ev.ToolID, questions) {
		_ = sess.client.DeletePost(ctx, id)
		return
	}
	c.registry.indexPost(id, sess.Key())
}

func (c *controller) resolveQuestionReaction(ctx context.Context, sess *Session, postID, emoji string) {
	p := sess.Prompts()
	q := p.CurrentQuestion()
	if q == nil {
		return
	}
	answer, ok := answerForEmoji(q, emoji)
	if !ok {
		return
	}

	completed, ok := p.AnswerQuestion(answer)
	if !ok {
		return
	}
	if completed != nil {
		c.registry.unindexPost(postID)
		if err := sess.client.UpdatePost(ctx, postID, "✅ All questions answered."); err != nil {
			c.logger.Debug("updating question post failed", "error", err)
		}
		c.sendToolResult(ctx, sess, completed.ToolID, completed.Result())
		return
	}

	next := p.CurrentQuestion()
	answered, total := p.QuestionProgress()
	if err := sess.client.UpdatePost(ctx, postID, renderQuestion(next, answered, total)); err != nil {
		c.logger.Warn("advancing question post failed", "key", sess.Key(), "error", err)
	}
	for _, opt := range optionReactions(next.Options) {
		if err := sess.client.AddReaction(ctx, postID, opt.Emoji); err != nil {
			c.logger.Debug("seeding option reaction failed", "error", err)
		}
	}
}

// holdMessage buffers a message from a non-collaborator behind an approval
// prompt. While one approval is pending, further outside messages are dropped.
func (c *controller) holdMessage(ctx context.Context, sess *Session, sender, content string) {
	p := sess.Prompts()
	if p.MessageApprovalPostID() != "" {
		return
	}
	if err := sess.Streamer().Flush(ctx); err != nil {
		c.logger.Warn("flush before approval prompt failed", "key", sess.Key(), "error", err)
	}

	opts := []platform.ReactionOption{
		{Emoji: emojiApprove, Label: "allow once"},
		{Emoji: emojiInvite, Label: "allow and invite"},
		{Emoji: emojiDeny, Label: "deny"},
	}
	body := fmt.Sprintf("👋 @%s wants to message this session:\n\n> %s\n\n%s allow once · %s allow and invite · %s deny",
		sender, firstLine(content), emojiApprove, emojiInvite, emojiDeny)
	id, err := sess.client.CreateInteractivePost(ctx, sess.ThreadID, body, opts)
	if err != nil {
		c.logger.Error("posting approval prompt failed", "key", sess.Key(), "error", err)
		return
	}
	if !p.OpenMessageApproval(id, sender, content) {
		_ = sess.client.DeletePost(ctx, id)
		return
	}
	c.registry.indexPost(id, sess.Key())
}

func (c *controller) resolveApprovalReaction(ctx context.Context, sess *Session, emoji string) {
	var decision prompt.Decision
	switch emoji {
	case emojiApprove:
		decision = prompt.AllowOnce
	case emojiInvite:
		decision = prompt.AllowAndInvite
	case emojiDeny:
		decision = prompt.Deny
	default:
		return
	}

	held := sess.Prompts().ResolveMessageApproval()
	if held == nil {
		return
	}
	c.registry.unindexPost(held.PostID)

	switch decision {
	case prompt.Deny:
		if err := sess.client.UpdatePost(ctx, held.PostID, fmt.Sprintf("🚫 Message from @%s denied.", held.Sender)); err != nil {
			c.logger.Debug("updating approval post failed", "error", err)
		}

	case prompt.AllowAndInvite:
		sess.AllowUser(held.Sender)
		c.persist(ctx, sess)
		fallthrough

	case prompt.AllowOnce:
		if err := sess.client.UpdatePost(ctx, held.PostID, fmt.Sprintf("✅ Message from @%s allowed.", held.Sender)); err != nil {
			c.logger.Debug("updating approval post failed", "error", err)
		}
		if err := c.forward(ctx, sess, fmt.Sprintf("[from @%s] %s", held.Sender, held.Content)); err != nil {
			c.logger.Error("forwarding approved message failed", "key", sess.Key(), "error", err)
			c.notify(ctx, sess, "❌ Could not deliver the approved message to the agent.")
		}
	}
}

// handleReaction routes an inbound reaction to the prompt that owns the post.
// Reactions from users outside the collaboration set are ignored.
func (c *controller) handleReaction(ctx context.Context, sess *Session, postID, username, emoji string) {
	if postID == "" || !sess.IsAllowed(username) {
		return
	}
	sess.Touch()

	sess.mu.Lock()
	isolationPost := sess.isolationPostID
	sess.mu.Unlock()

	p := sess.Prompts()
	switch postID {
	case isolationPost:
		c.resolveIsolation(ctx, sess, emoji)
	case p.PlanPostID():
		c.resolvePlanReaction(ctx, sess, emoji)
	case p.QuestionSetPostID():
		c.resolveQuestionReaction(ctx, sess, postID, emoji)
	case p.MessageApprovalPostID():
		c.resolveApprovalReaction(ctx, sess, emoji)
	}
}

func (c *controller) sendToolResult(ctx context.Context, sess *Session, toolID, text string) {
	sess.mu.Lock()
	proc := sess.proc
	sess.mu.Unlock()

	if proc == nil {
		c.logger.Warn("no live process for tool result", "key", sess.Key(), "tool_id", toolID)
		return
	}
	if err := proc.SendToolResult(ctx, toolID, text); err != nil {
		c.logger.Warn("sending tool result failed", "key", sess.Key(), "tool_id", toolID, "error", err)
		return
	}
	sess.Streamer().StartTyping(context.Background())
}

// persist writes the session's durable projection. A session that has not
// yet produced a substantive response is never persisted: there is nothing
// to resume.
func (c *controller) persist(ctx context.Context, sess *Session) {
	if !sess.HasResponded() {
		return
	}
	if err := c.store.Save(ctx, sess.record()); err != nil {
		c.logger.Error("persisting session failed", "key", sess.Key(), "error", err)
	}
}

func (c *controller) removeRecord(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Error("removing session record failed", "key", key, "error", err)
	}
}

// notify posts a best-effort notice into the session's thread.
func (c *controller) notify(ctx context.Context, sess *Session, text string) {
	if _, err := sess.client.CreatePost(ctx, sess.ThreadID, text); err != nil {
		c.logger.Warn("posting notice failed", "key", sess.Key(), "error", err)
	}
}

// startStatusTicker periodically refreshes the session-start post with the
// elapsed running time. Cancelled on teardown via statusStop.
func (c *controller) startStatusTicker(sess *Session) {
	sess.mu.Lock()
	if sess.statusStop != nil || sess.sessionStartPostID == "" || sess.finished() {
		sess.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	sess.statusStop = stop
	postID := sess.sessionStartPostID
	started := sess.startedAt
	sess.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				content := startPostContent(sess, time.Since(started))
				if err := sess.client.UpdatePost(context.Background(), postID, content); err != nil {
					c.logger.Debug("status update failed", "key", sess.Key(), "error", err)
				}
			}
		}
	}()
}

func startPostContent(sess *Session, elapsed time.Duration) string {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	s := fmt.Sprintf("🚀 Session #%d started by @%s in `%s`", sess.sessionNumber, sess.startedBy, sess.workingDir)
	if elapsed > 0 {
		s += " — running " + elapsed.Round(time.Second).String()
	}
	return s
}

func parseQuestions(raw string) ([]prompt.Question, error) {
	var input struct {
		Questions []struct {
			Question string   `json:"question"`
			Options  []string `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("parsing question input: %w", err)
	}

	questions := make([]prompt.Question, 0, len(input.Questions))
	for _, q := range input.Questions {
		if q.Question == "" {
			continue
		}
		questions = append(questions, prompt.Question{Text: q.Question, Options: q.Options})
	}
	return questions, nil
}

func renderQuestion(q *prompt.Question, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❓ **Question %d of %d**\n\n%s\n", index+1, total, q.Text)
	for i, opt := range q.Options {
		if i >= len(questionEmojis) {
			break
		}
		fmt.Fprintf(&b, "\n%s %s", questionEmojis[i], opt)
	}
	if len(q.Options) == 0 {
		fmt.Fprintf(&b, "\n%s yes · %s no", emojiApprove, emojiDeny)
	}
	return b.String()
}

func optionReactions(options []string) []platform.ReactionOption {
	if len(options) == 0 {
		return []platform.ReactionOption{
			{Emoji: emojiApprove, Label: "yes"},
			{Emoji: emojiDeny, Label: "no"},
		}
	}
	opts := make([]platform.ReactionOption, 0, len(options))
	for i, o := range options {
		if i >= len(questionEmojis) {
			break
		}
		opts = append(opts, platform.ReactionOption{Emoji: questionEmojis[i], Label: o})
	}
	return opts
}

func answerForEmoji(q *prompt.Question, emoji string) (string, bool) {
	if len(q.Options) == 0 {
		switch emoji {
		case emojiApprove:
			return "yes", true
		case emojiDeny:
			return "no", true
		}
		return "", false
	}
	for i, e := range questionEmojis {
		if e == emoji {
			if i < len(q.Options) {
				return q.Options[i], true
			}
			return "", false
		}
	}
	return "", false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
