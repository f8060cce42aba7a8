// ABOUTME: Interactive prompt state machine for plan approval, question sets, and message approval
// ABOUTME: At most one pending prompt of each kind per session; duplicates are ignored, not queued

package prompt

import (
	"strings"
	"sync"
)

// PlanApproval is a pending approve/deny decision on the agent's plan.
type PlanApproval struct {
	PostID string
	ToolID string
}

// Question is one entry of a sequential question set.
type Question struct {
	Text    string
	Options []string
	Answer  string
}

// QuestionSet is an ordered list of questions asked one at a time. Each
// inbound answer advances the index; once all questions are answered the
// collected answers are delivered back to the agent as a single tool result.
type QuestionSet struct {
	PostID    string
	ToolID    string
	Questions []Question
	index     int
}

// Current returns the question awaiting an answer, or nil when complete.
func (q *QuestionSet) Current() *Question {
	if q.index >= len(q.Questions) {
		return nil
	}
	return &q.Questions[q.index]
}

// Result renders the collected answers as the structured response sent back
// to the agent process.
func (q *QuestionSet) Result() string {
	var b strings.Builder
	for i, question := range q.Questions {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(question.Text)
		b.WriteString(": ")
		b.WriteString(question.Answer)
	}
	return b.String()
}

// MessageApproval holds a message from a non-collaborator until an authorized
// collaborator allows or denies it.
type MessageApproval struct {
	PostID  string
	Sender  string
	Content string
}

// Decision is a collaborator's verdict on a held message.
type Decision int

const (
	// AllowOnce forwards the held message without changing the collaborator set.
	AllowOnce Decision = iota
	// AllowAndInvite forwards the held message and adds the sender as a collaborator.
	AllowAndInvite
	// Deny drops the held message.
	Deny
)

// State tracks the pending interactive prompts of one session. At most one
// prompt of each kind is open at a time.
type State struct {
	mu sync.Mutex

	plan      *PlanApproval
	questions *QuestionSet
	approval  *MessageApproval

	// planApproved is sticky: once the user approves a plan, later plan
	// requests in the same conversation auto-acknowledge without prompting.
	planApproved bool
}

// NewState creates an empty prompt state.
func NewState() *State {
	return &State{}
}

// OpenPlan registers a pending plan approval. Returns false if a plan prompt
// is already pending (the duplicate trigger is ignored) or if approval is
// sticky from an earlier decision, in which case the caller should
// auto-acknowledge.
func (s *State) OpenPlan(postID, toolID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan != nil || s.planApproved {
		return false
	}
	s.plan = &PlanApproval{PostID: postID, ToolID: toolID}
	return true
}

// PlanApproved reports whether plan approval is sticky for this session.
func (s *State) PlanApproved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planApproved
}

// SetPlanApproved restores sticky approval, e.g. from a persisted record.
func (s *State) SetPlanApproved(approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planApproved = approved
}

// PlanPostID returns the post id of the pending plan prompt, or "".
func (s *State) PlanPostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan == nil {
		return ""
	}
	return s.plan.PostID
}

// ResolvePlan closes the pending plan prompt. Approval becomes sticky.
// Returns the resolved prompt, or nil if none was pending.
func (s *State) ResolvePlan(approved bool) *PlanApproval {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan := s.plan
	if plan == nil {
		return nil
	}
	s.plan = nil
	if approved {
		s.planApproved = true
	}
	return plan
}

// OpenQuestions registers a pending question set. Returns false if one is
// already pending or the set is empty.
func (s *State) OpenQuestions(postID, toolID string, questions []Question) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.questions != nil || len(questions) == 0 {
		return false
	}
	s.questions = &QuestionSet{PostID: postID, ToolID: toolID, Questions: questions}
	return true
}

// CurrentQuestion returns the question awaiting an answer, or nil.
func (s *State) CurrentQuestion() *Question {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.questions == nil {
		return nil
	}
	return s.questions.Current()
}

// AnswerQuestion records an answer for the current question and advances the
// index. When the last question is answered the set is cleared and returned
// so the caller can deliver the collected answers; otherwise (nil, true) is
// returned and the next question should be presented. (nil, false) means no
// question set was pending.
func (s *State) AnswerQuestion(answer string) (completed *QuestionSet, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.questions == nil {
		return nil, false
	}
	q := s.questions
	q.Questions[q.index].Answer = answer
	q.index++

	if q.index >= len(q.Questions) {
		s.questions = nil
		return q, true
	}
	return nil, true
}

// QuestionProgress returns how many questions have been answered and the
// total, or (0, 0) when no set is pending.
func (s *State) QuestionProgress() (answered, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.questions == nil {
		return 0, 0
	}
	return s.questions.index, len(s.questions.Questions)
}

// QuestionSetPostID returns the post id of the pending question set, or "".
func (s *State) QuestionSetPostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.questions == nil {
		return ""
	}
	return s.questions.PostID
}

// MessageApprovalPostID returns the post id of the pending message approval, or "".
func (s *State) MessageApprovalPostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.approval == nil {
		return ""
	}
	return s.approval.PostID
}

// OpenMessageApproval holds a message from a non-collaborator. Returns false
// if an approval is already pending.
func (s *State) OpenMessageApproval(postID, sender, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.approval != nil {
		return false
	}
	s.approval = &MessageApproval{PostID: postID, Sender: sender, Content: content}
	return true
}

// ResolveMessageApproval closes the pending message approval and returns the
// held message, or nil if none was pending.
func (s *State) ResolveMessageApproval() *MessageApproval {
	s.mu.Lock()
	defer s.mu.Unlock()

	approval := s.approval
	s.approval = nil
	return approval
}

// PendingPostIDs returns the post ids of all open prompts, for index cleanup
// on teardown.
func (s *State) PendingPostIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if s.plan != nil {
		ids = append(ids, s.plan.PostID)
	}
	if s.questions != nil {
		ids = append(ids, s.questions.PostID)
	}
	if s.approval != nil {
		ids = append(ids, s.approval.PostID)
	}
	return ids
}

// HasPending reports whether any prompt is awaiting a response.
func (s *State) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan != nil || s.questions != nil || s.approval != nil
}

// Clear drops all pending prompts. Sticky plan approval survives.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = nil
	s.questions = nil
	s.approval = nil
}
