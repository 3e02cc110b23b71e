package summarize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	indubitably "github.com/deepnoodle-ai/indubitably"
)

func textRecord(text string) *indubitably.Record {
	return &indubitably.Record{
		Role:    indubitably.RoleUser,
		Kind:    indubitably.KindUser,
		Content: []indubitably.Block{{Type: indubitably.BlockText, Text: text}},
	}
}

func TestConversationBucketsByKeyword(t *testing.T) {
	out := Conversation([]*indubitably.Record{
		textRecord("The goal is to ship the release.\nWe decided to use TOML for config."),
	})
	require.Contains(t, out, "Goals:")
	require.Contains(t, out, "- The goal is to ship the release.")
	require.Contains(t, out, "Decisions:")
}

func TestConversationExtractsFilesAndURLs(t *testing.T) {
	out := Conversation([]*indubitably.Record{
		textRecord("edit config/settings.go and hit https://api.example.com/v1/status"),
	})
	require.Contains(t, out, "Files:")
	require.Contains(t, out, "config/settings.go")
	require.Contains(t, out, "APIs:")
}

func TestConversationFallsBackToFreeformWhenNoBucketMatches(t *testing.T) {
	out := Conversation([]*indubitably.Record{
		textRecord("just chatting about nothing in particular"),
	})
	require.Contains(t, out, "Older conversation summary:")
}

func TestConversationDefaultMessageWhenEmpty(t *testing.T) {
	out := Conversation(nil)
	require.Equal(t, "No major updates; older conversation compacted.", out)
}

func TestToolOutputPassesThroughShortText(t *testing.T) {
	text := "line1\nline2\nline3"
	require.Equal(t, text, ToolOutput(text, 20))
}

func TestToolOutputTruncatesLongText(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "line")
	}
	out := ToolOutput(strings.Join(lines, "\n"), 20)
	require.Contains(t, out, "(truncated)")
	require.Equal(t, 22, len(strings.Split(out, "\n")))
}
