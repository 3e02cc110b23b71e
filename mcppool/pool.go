// Package mcppool pools MCP server connections keyed by server name,
// creating each one lazily under a per-server lock and invalidating it
// on TTL expiry, a failed health check, or an explicit mark-unhealthy
// call from the session.
package mcppool

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig describes how to launch or connect to one MCP server.
type ServerConfig struct {
	Name    string
	Type    string // "stdio" | "http"
	Command string
	Args    []string
	Env     map[string]string
	URL     string
}

// Client is the subset of client behavior the pool and handlers need.
// The concrete implementation wraps github.com/mark3labs/mcp-go's client.
type Client interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error)
	IsHealthy(ctx context.Context) bool
	Close() error
}

// mcpGoClient adapts *mcpclient.Client (the mark3labs/mcp-go client) to
// the pool's narrower Client interface.
type mcpGoClient struct {
	raw *mcpclient.Client
}

func (c *mcpGoClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	resp, err := c.raw.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

func (c *mcpGoClient) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	return c.raw.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: arguments},
	})
}

func (c *mcpGoClient) IsHealthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.raw.ListTools(pingCtx, mcp.ListToolsRequest{})
	return err == nil
}

func (c *mcpGoClient) Close() error {
	return c.raw.Close()
}

// Dial connects and initializes an MCP server per cfg, returning a
// pool.Client backed by the real mark3labs/mcp-go client. This is the
// default factory New wires in; callers may substitute their own factory
// (primarily tests) via NewWithFactory.
func Dial(ctx context.Context, cfg ServerConfig) (Client, error) {
	var raw *mcpclient.Client
	var err error
	switch cfg.Type {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcppool: url is required for http server %q", cfg.Name)
		}
		raw, err = mcpclient.NewStreamableHttpClient(cfg.URL)
	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcppool: command is required for stdio server %q", cfg.Name)
		}
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		raw, err = mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	default:
		return nil, fmt.Errorf("mcppool: unsupported server type %q for %q", cfg.Type, cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("mcppool: create client for %q: %w", cfg.Name, err)
	}
	if err := raw.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcppool: start client for %q: %w", cfg.Name, err)
	}
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := raw.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "indubitably",
				Version: "1.0.0",
			},
		},
	}); err != nil {
		raw.Close()
		return nil, fmt.Errorf("mcppool: initialize client for %q: %w", cfg.Name, err)
	}
	return &mcpGoClient{raw: raw}, nil
}

// Factory builds a Client for a named server config.
type Factory func(ctx context.Context, cfg ServerConfig) (Client, error)

type entry struct {
	mu       sync.Mutex
	client   Client
	lastUsed time.Time
	unhealthy bool
}

// Pool caches MCP clients by server name, creating each one lazily
// behind a per-server lock so concurrent get calls for the same server
// issue only one factory call.
type Pool struct {
	factory Factory
	ttl     time.Duration

	mu      sync.Mutex
	servers map[string]ServerConfig
	entries map[string]*entry

	shutdownMu sync.Mutex
}

// New returns a Pool that dials real MCP servers via Dial, expiring idle
// connections after ttl.
func New(ttl time.Duration) *Pool {
	return NewWithFactory(Dial, ttl)
}

// NewWithFactory returns a Pool using factory to build clients, primarily
// for tests that want a fake MCP server.
func NewWithFactory(factory Factory, ttl time.Duration) *Pool {
	return &Pool{
		factory: factory,
		ttl:     ttl,
		servers: make(map[string]ServerConfig),
		entries: make(map[string]*entry),
	}
}

// Register records cfg so GetClient(ctx, cfg.Name) can later build a
// connection for it.
func (p *Pool) Register(cfg ServerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[cfg.Name] = cfg
}

// GetClient returns the pooled client for server, creating (or
// recreating, if expired/unhealthy) it under a per-server lock so
// concurrent callers for the same server share one factory call.
func (p *Pool) GetClient(ctx context.Context, server string) (Client, error) {
	p.mu.Lock()
	cfg, ok := p.servers[server]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("mcppool: unknown server %q", server)
	}
	e, ok := p.entries[server]
	if !ok {
		e = &entry{}
		p.entries[server] = e
	}
	p.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		if p.isExpiredLocked(e) || e.unhealthy || !e.client.IsHealthy(ctx) {
			e.client.Close()
			e.client = nil
		}
	}
	if e.client == nil {
		client, err := p.factory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		e.client = client
		e.unhealthy = false
	}
	e.lastUsed = time.Now()
	return e.client, nil
}

// MarkUnhealthy flags server's pooled entry so the next GetClient call
// recreates it, used when a handler observes a failure the health check
// itself might not catch.
func (p *Pool) MarkUnhealthy(server string) {
	p.mu.Lock()
	e, ok := p.entries[server]
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.unhealthy = true
	e.mu.Unlock()
}

func (p *Pool) isExpiredLocked(e *entry) bool {
	if p.ttl <= 0 {
		return false
	}
	return time.Since(e.lastUsed) > p.ttl
}

// Shutdown closes every pooled client under a global lock.
func (p *Pool) Shutdown() error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		e.mu.Lock()
		if e.client != nil {
			if err := e.client.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			e.client = nil
		}
		e.mu.Unlock()
	}
	return firstErr
}
