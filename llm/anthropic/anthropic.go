// Package anthropic implements llm.Oracle against the Anthropic Messages
// API directly over net/http, the way the teacher's own provider package
// talks to the same endpoint — no SDK, just a typed request/response pair
// and a thin client.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/llm"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// DefaultEndpoint is the Anthropic Messages API.
const DefaultEndpoint = "https://api.anthropic.com/v1/messages"

// DefaultVersion is the anthropic-version header value this client speaks.
const DefaultVersion = "2023-06-01"

// Provider is an llm.Oracle backed by the Anthropic Messages API.
type Provider struct {
	APIKey   string
	Endpoint string
	Version  string
	Client   *http.Client
}

// New returns a Provider reading its API key from ANTHROPIC_API_KEY unless
// apiKey is non-empty.
func New(apiKey string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &Provider{
		APIKey:   apiKey,
		Endpoint: DefaultEndpoint,
		Version:  DefaultVersion,
		Client:   http.DefaultClient,
	}
}

var _ llm.Oracle = (*Provider)(nil)

type wireMessage struct {
	Role    string         `json:"role"`
	Content []wireContent  `json:"content"`
}

type wireContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema *tool.Schema `json:"input_schema"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	Content    []wireContent `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      wireUsage     `json:"usage"`
}

type wireError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends req to the Anthropic Messages API and translates the
// response back into the scheduler's wire shape.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	body := wireRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  toWireMessages(req.Messages),
		Tools:     toWireTools(req.Tools),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.APIKey)
	httpReq.Header.Set("anthropic-version", p.Version)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return llm.Response{}, &llm.RateLimitError{Err: fmt.Errorf("anthropic: %s", string(raw))}
	}
	if resp.StatusCode != http.StatusOK {
		var werr wireError
		if json.Unmarshal(raw, &werr) == nil && werr.Error.Message != "" {
			return llm.Response{}, fmt.Errorf("anthropic: %s: %s", werr.Error.Type, werr.Error.Message)
		}
		return llm.Response{}, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(raw))
	}

	var wresp wireResponse
	if err := json.Unmarshal(raw, &wresp); err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: decode response: %w", err)
	}

	return llm.Response{
		Content:    fromWireContent(wresp.Content),
		StopReason: toStopReason(wresp.StopReason),
		Usage: &llm.Usage{
			InputTokens:  wresp.Usage.InputTokens,
			OutputTokens: wresp.Usage.OutputTokens,
		},
	}, nil
}

func toWireMessages(msgs []indubitably.APIMessage) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{Role: string(m.Role), Content: toWireContent(m.Content)})
	}
	return out
}

func toWireContent(blocks []indubitably.Block) []wireContent {
	out := make([]wireContent, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case indubitably.BlockText:
			out = append(out, wireContent{Type: "text", Text: b.Text})
		case indubitably.BlockToolUse:
			out = append(out, wireContent{Type: "tool_use", ID: b.ID, Name: b.Name, Input: b.Input})
		case indubitably.BlockToolResult:
			text, _ := b.Content.(string)
			if text == "" && b.Content != nil {
				if encoded, err := json.Marshal(b.Content); err == nil {
					text = string(encoded)
				}
			}
			out = append(out, wireContent{Type: "tool_result", ToolUseID: b.ToolUseID, Content: text, IsError: b.IsError})
		}
	}
	return out
}

func fromWireContent(blocks []wireContent) []indubitably.Block {
	out := make([]indubitably.Block, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, indubitably.Block{Type: indubitably.BlockText, Text: b.Text})
		case "tool_use":
			out = append(out, indubitably.Block{Type: indubitably.BlockToolUse, ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return out
}

func toWireTools(specs []tool.ConfiguredSpec) []wireTool {
	out := make([]wireTool, 0, len(specs))
	for _, s := range specs {
		out = append(out, wireTool{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema})
	}
	return out
}

func toStopReason(reason string) llm.StopReason {
	switch reason {
	case "tool_use":
		return llm.StopToolUse
	case "max_tokens":
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}

// DefaultTimeout bounds a single Complete call when the caller's context
// carries no deadline of its own.
const DefaultTimeout = 5 * time.Minute
