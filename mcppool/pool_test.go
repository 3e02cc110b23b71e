package mcppool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	healthy  bool
	closed   bool
	closeErr error
}

func (c *fakeClient) ListTools(ctx context.Context) ([]mcp.Tool, error) { return nil, nil }
func (c *fakeClient) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}
func (c *fakeClient) IsHealthy(ctx context.Context) bool { return c.healthy }
func (c *fakeClient) Close() error {
	c.closed = true
	return c.closeErr
}

func TestGetClientCreatesAndCachesOnce(t *testing.T) {
	calls := 0
	pool := NewWithFactory(func(ctx context.Context, cfg ServerConfig) (Client, error) {
		calls++
		return &fakeClient{healthy: true}, nil
	}, time.Hour)
	pool.Register(ServerConfig{Name: "github", Type: "stdio"})

	c1, err := pool.GetClient(context.Background(), "github")
	require.NoError(t, err)
	c2, err := pool.GetClient(context.Background(), "github")
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, 1, calls)
}

func TestGetClientUnknownServerFails(t *testing.T) {
	pool := NewWithFactory(func(ctx context.Context, cfg ServerConfig) (Client, error) {
		return &fakeClient{healthy: true}, nil
	}, time.Hour)
	_, err := pool.GetClient(context.Background(), "nope")
	require.Error(t, err)
}

func TestGetClientRecreatesUnhealthyConnection(t *testing.T) {
	var built []*fakeClient
	pool := NewWithFactory(func(ctx context.Context, cfg ServerConfig) (Client, error) {
		c := &fakeClient{healthy: true}
		built = append(built, c)
		return c, nil
	}, time.Hour)
	pool.Register(ServerConfig{Name: "github", Type: "stdio"})

	first, err := pool.GetClient(context.Background(), "github")
	require.NoError(t, err)
	pool.MarkUnhealthy("github")

	second, err := pool.GetClient(context.Background(), "github")
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.True(t, built[0].closed)
}

func TestGetClientRecreatesExpiredConnection(t *testing.T) {
	calls := 0
	pool := NewWithFactory(func(ctx context.Context, cfg ServerConfig) (Client, error) {
		calls++
		return &fakeClient{healthy: true}, nil
	}, time.Millisecond)
	pool.Register(ServerConfig{Name: "github", Type: "stdio"})

	_, err := pool.GetClient(context.Background(), "github")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = pool.GetClient(context.Background(), "github")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestShutdownClosesEveryPooledClient(t *testing.T) {
	var built []*fakeClient
	pool := NewWithFactory(func(ctx context.Context, cfg ServerConfig) (Client, error) {
		c := &fakeClient{healthy: true}
		built = append(built, c)
		return c, nil
	}, time.Hour)
	pool.Register(ServerConfig{Name: "github", Type: "stdio"})
	pool.Register(ServerConfig{Name: "sentry", Type: "stdio"})

	_, err := pool.GetClient(context.Background(), "github")
	require.NoError(t, err)
	_, err = pool.GetClient(context.Background(), "sentry")
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown())
	for _, c := range built {
		require.True(t, c.closed)
	}
}

func TestShutdownReturnsFirstCloseError(t *testing.T) {
	boom := errors.New("boom")
	pool := NewWithFactory(func(ctx context.Context, cfg ServerConfig) (Client, error) {
		return &fakeClient{healthy: true, closeErr: boom}, nil
	}, time.Hour)
	pool.Register(ServerConfig{Name: "github", Type: "stdio"})
	_, err := pool.GetClient(context.Background(), "github")
	require.NoError(t, err)

	require.ErrorIs(t, pool.Shutdown(), boom)
}
