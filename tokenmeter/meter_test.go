package tokenmeter

import (
	"testing"

	"github.com/stretchr/testify/require"

	indubitably "github.com/deepnoodle-ai/indubitably"
)

func TestEstimateTextEmpty(t *testing.T) {
	m := New("claude-sonnet-4-5")
	require.Equal(t, 0, m.EstimateText("").Tokens)
}

func TestEstimateTextMinimumOneToken(t *testing.T) {
	m := New("claude-sonnet-4-5")
	require.Equal(t, 1, m.EstimateText("hi").Tokens)
}

func TestEstimateTextRatio(t *testing.T) {
	m := New("claude-sonnet-4-5")
	text := make([]byte, 40)
	for i := range text {
		text[i] = 'a'
	}
	require.Equal(t, 10, m.EstimateText(string(text)).Tokens)
}

func TestEstimateMessageOverhead(t *testing.T) {
	m := New("claude-sonnet-4-5")
	msg := indubitably.APIMessage{
		Role: indubitably.RoleUser,
		Content: []indubitably.Block{
			{Type: indubitably.BlockText, Text: ""},
		},
	}
	// 4 (base) + len("user") == 8, text block contributes 0 tokens.
	require.Equal(t, 8, m.EstimateMessage(msg))
}

func TestEstimateMessagesSumsAllMessages(t *testing.T) {
	m := New("claude-sonnet-4-5")
	messages := []indubitably.APIMessage{
		{Role: indubitably.RoleUser, Content: []indubitably.Block{{Type: indubitably.BlockText, Text: "hello"}}},
		{Role: indubitably.RoleAssistant, Content: []indubitably.Block{{Type: indubitably.BlockText, Text: "world"}}},
	}
	total := m.EstimateMessages(messages, "history").Tokens
	require.Equal(t, m.EstimateMessage(messages[0])+m.EstimateMessage(messages[1]), total)
}

func TestEstimateToolResultBlockOverhead(t *testing.T) {
	m := New("claude-sonnet-4-5")
	msg := indubitably.APIMessage{
		Role: indubitably.RoleUser,
		Content: []indubitably.Block{
			{Type: indubitably.BlockToolResult, ToolUseID: "t1", Content: "ok"},
		},
	}
	// encodeLength("ok") == 1, plus 6 overhead, plus 4 base, plus len("user")==4.
	require.Equal(t, 1+6+4+4, m.EstimateMessage(msg))
}
