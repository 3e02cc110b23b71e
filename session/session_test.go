package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	indubitably "github.com/deepnoodle-ai/indubitably"
)

func newTestSession() *ContextSession {
	settings := DefaultSettings()
	settings.Model.ContextTokens = 2_000
	settings.Model.GuardrailTokens = 0
	settings.Compaction.TargetTokens = 1_000
	settings.Compaction.KeepLastTurns = 1
	return New(settings)
}

func TestAddUserMessageIncrementsTokens(t *testing.T) {
	s := newTestSession()
	s.RegisterSystemText("you are a helpful agent")
	before := s.Status().Tokens
	s.AddUserMessage("hello there")
	require.Greater(t, s.Status().Tokens, before)
}

func TestAddToolResultsDedupesIdenticalPayload(t *testing.T) {
	s := newTestSession()
	s.AddUserMessage("run ls")
	block := indubitably.Block{Type: indubitably.BlockToolResult, ToolUseID: "c1", Content: "a.go\nb.go"}
	first := s.AddToolResults([]indubitably.Block{block}, true)
	require.NotNil(t, first)
	second := s.AddToolResults([]indubitably.Block{block}, true)
	require.Nil(t, second)
}

func TestAddToolTextResultNeverDedupes(t *testing.T) {
	s := newTestSession()
	s.AddUserMessage("run ls")
	r1 := s.AddToolTextResult("c1", "output", false)
	r2 := s.AddToolTextResult("c1", "output", false)
	require.NotNil(t, r1)
	require.NotNil(t, r2)
}

func TestRollbackLastTurnRemovesInFlightTurn(t *testing.T) {
	s := newTestSession()
	s.AddUserMessage("first turn")
	turnBefore := s.History.TurnCounter()
	s.AddUserMessage("second turn, about to fail")
	s.RollbackLastTurn()
	require.Equal(t, turnBefore, s.History.TurnCounter())
}

func TestBuildMessagesInjectsPinsAfterSystemRecords(t *testing.T) {
	s := newTestSession()
	s.RegisterSystemText("system prompt")
	s.AddUserMessage("hello")
	_, err := s.AddPin("remember this", 0)
	require.NoError(t, err)

	messages := s.BuildMessages()
	require.Equal(t, indubitably.RoleSystem, messages[0].Role)
	require.Equal(t, indubitably.RoleSystem, messages[1].Role)
	require.Contains(t, messages[1].Content[0].Text, "remember this")
	require.Equal(t, indubitably.RoleUser, messages[2].Role)
}

func TestForceCompactSummarizesOldTurns(t *testing.T) {
	s := newTestSession()
	s.RegisterSystemText("system")
	for i := 0; i < 5; i++ {
		s.AddUserMessage("this is a fairly long user message meant to accumulate tokens over several turns")
		s.AddAssistantMessage([]indubitably.Block{{Type: indubitably.BlockText, Text: "a similarly long assistant reply to the same message"}})
	}
	status := s.ForceCompact()
	require.True(t, status.Triggered)
}

func TestUpdateSettingAppliesDottedOverride(t *testing.T) {
	s := newTestSession()
	err := s.UpdateSetting("compaction.auto", false)
	require.NoError(t, err)
	require.False(t, s.Status().AutoCompact)
}

func TestUpdateSettingRejectsUnknownGroup(t *testing.T) {
	s := newTestSession()
	err := s.UpdateSetting("bogus.field", true)
	require.Error(t, err)
}

func TestAddPinAndRemovePin(t *testing.T) {
	s := newTestSession()
	p, err := s.AddPin("a fact to remember", time.Hour)
	require.NoError(t, err)
	require.Len(t, s.Status().Pins, 1)
	require.True(t, s.RemovePin(p.ID))
	require.Len(t, s.Status().Pins, 0)
}
