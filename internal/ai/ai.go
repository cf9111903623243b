// Package ai is the gateway to text-generation backends. Every backend speaks
// the same Request/Response shape; image generation, transcription and web
// search are optional capabilities discovered by type assertion.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrUnsupported is returned when a backend lacks an optional capability.
var ErrUnsupported = errors.New("capability not supported by ai provider")

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	// Name is the tool name on RoleTool messages.
	Name string `json:"name,omitempty"`
}

// Tool declares a function the model may call. Parameters is a JSON schema
// object.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Decode unmarshals the call's arguments into v.
func (c ToolCall) Decode(v any) error {
	if len(c.Arguments) == 0 {
		return fmt.Errorf("tool call %s has no arguments", c.Name)
	}
	if err := json.Unmarshal(c.Arguments, v); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", c.Name, err)
	}
	return nil
}

type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
}

// Response carries either free text or tool calls, sometimes both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// HasToolCall reports whether the model asked for a tool.
func (r *Response) HasToolCall() bool {
	return r != nil && len(r.ToolCalls) > 0
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// UserText is a convenience for single-turn prompts.
func UserText(text string) []Message {
	return []Message{{Role: RoleUser, Content: text}}
}
