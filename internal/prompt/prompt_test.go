// ABOUTME: Tests for the interactive prompt state machine
// ABOUTME: Verifies single-prompt gating, sticky plan approval, and question sequencing

package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_PlanApproval(t *testing.T) {
	s := NewState()

	require.True(t, s.OpenPlan("post-1", "tool-1"))

	// A duplicate trigger while one is pending is ignored, not queued.
	assert.False(t, s.OpenPlan("post-2", "tool-2"))

	plan := s.ResolvePlan(true)
	require.NotNil(t, plan)
	assert.Equal(t, "post-1", plan.PostID)

	// Approval is sticky: later plan requests auto-acknowledge.
	assert.True(t, s.PlanApproved())
	assert.False(t, s.OpenPlan("post-3", "tool-3"))
}

func TestState_PlanDenialIsNotSticky(t *testing.T) {
	s := NewState()

	require.True(t, s.OpenPlan("post-1", "tool-1"))
	require.NotNil(t, s.ResolvePlan(false))

	assert.False(t, s.PlanApproved())
	assert.True(t, s.OpenPlan("post-2", "tool-2"))
}

func TestState_ResolvePlanWithoutPending(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.ResolvePlan(true))
	assert.False(t, s.PlanApproved())
}

func TestState_QuestionSequencing(t *testing.T) {
	s := NewState()

	questions := []Question{
		{Text: "Language", Options: []string{"go", "rust"}},
		{Text: "License", Options: []string{"MIT", "Apache"}},
	}
	require.True(t, s.OpenQuestions("post-1", "tool-9", questions))
	assert.False(t, s.OpenQuestions("post-2", "tool-10", questions))

	assert.Equal(t, "Language", s.CurrentQuestion().Text)

	completed, ok := s.AnswerQuestion("go")
	require.True(t, ok)
	assert.Nil(t, completed, "set is not complete after the first answer")
	assert.Equal(t, "License", s.CurrentQuestion().Text)

	completed, ok = s.AnswerQuestion("MIT")
	require.True(t, ok)
	require.NotNil(t, completed)
	assert.Equal(t, "tool-9", completed.ToolID)
	assert.Equal(t, "Language: go\nLicense: MIT", completed.Result())

	// State cleared: a new set can open.
	assert.Nil(t, s.CurrentQuestion())
	assert.True(t, s.OpenQuestions("post-3", "tool-11", questions[:1]))
}

func TestState_AnswerWithoutPendingSet(t *testing.T) {
	s := NewState()
	completed, ok := s.AnswerQuestion("anything")
	assert.False(t, ok)
	assert.Nil(t, completed)
}

func TestState_EmptyQuestionSetRejected(t *testing.T) {
	s := NewState()
	assert.False(t, s.OpenQuestions("post-1", "tool-1", nil))
}

func TestState_MessageApproval(t *testing.T) {
	s := NewState()

	require.True(t, s.OpenMessageApproval("post-1", "mallory", "can I help?"))
	assert.False(t, s.OpenMessageApproval("post-2", "eve", "me too"))

	held := s.ResolveMessageApproval()
	require.NotNil(t, held)
	assert.Equal(t, "mallory", held.Sender)
	assert.Equal(t, "can I help?", held.Content)

	assert.Nil(t, s.ResolveMessageApproval())
}

func TestState_PendingPostIDs(t *testing.T) {
	s := NewState()
	require.True(t, s.OpenPlan("plan-post", "t1"))
	require.True(t, s.OpenQuestions("q-post", "t2", []Question{{Text: "x"}}))
	require.True(t, s.OpenMessageApproval("appr-post", "bob", "hi"))

	assert.ElementsMatch(t, []string{"plan-post", "q-post", "appr-post"}, s.PendingPostIDs())
	assert.True(t, s.HasPending())

	s.Clear()
	assert.Empty(t, s.PendingPostIDs())
	assert.False(t, s.HasPending())
}

func TestState_ClearKeepsStickyApproval(t *testing.T) {
	s := NewState()
	require.True(t, s.OpenPlan("post-1", "t1"))
	require.NotNil(t, s.ResolvePlan(true))

	s.Clear()
	assert.True(t, s.PlanApproved())
}
