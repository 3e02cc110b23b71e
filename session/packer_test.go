package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackerPackReturnsUsageFigures(t *testing.T) {
	s := newTestSession()
	s.RegisterSystemText("system prompt")
	s.AddUserMessage("hello")

	packed := NewPacker(s).Pack()
	require.NotEmpty(t, packed.Messages)
	require.Greater(t, packed.TokenTotal, 0)
	require.Greater(t, packed.WindowTokens, 0)
	require.GreaterOrEqual(t, packed.UsagePct(), 0.0)
}

func TestPackerDryRunMatchesPack(t *testing.T) {
	s := newTestSession()
	s.AddUserMessage("hello")
	dry := NewPacker(s).DryRun()
	packed := NewPacker(s).Pack()
	require.Equal(t, packed.TokenTotal, dry.TokenTotal)
}
