package agentcfg

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrNotFound = errors.New("agent config not found")

// OutputMode selects how agent speech reaches the caller.
type OutputMode string

const (
	// OutputNative streams audio deltas straight from the reasoning endpoint.
	OutputNative OutputMode = "native"
	// OutputTTS streams text deltas through the prosody chunker into the
	// speech-synthesis bridge.
	OutputTTS OutputMode = "tts"
)

// ToolSchema is the function declaration advertised to the reasoning
// endpoint on session init.
type ToolSchema struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolVariable documents one substitutable argument of a configured tool.
type ToolVariable struct {
	VarName    string `json:"var_name"`
	VarReason  string `json:"var_reason,omitempty"`
	VarDefault string `json:"var_default,omitempty"`
}

// ToolRequest describes the HTTP call a configured tool performs. Every
// string field may carry {{var}} placeholders.
type ToolRequest struct {
	ReqURL  string            `json:"req_url"`
	ReqType string            `json:"req_type"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
}

// ToolDescriptor is the stored definition of one externally executable tool.
type ToolDescriptor struct {
	Name      string         `json:"name"`
	Data      ToolRequest    `json:"data"`
	Variables []ToolVariable `json:"variables,omitempty"`
}

// PerCallConfig is the agent configuration resolved once at call start and
// immutable for the call's lifetime.
type PerCallConfig struct {
	AgentID      string           `json:"agent_id"`
	Model        string           `json:"model"`
	Voice        string           `json:"voice"`
	Temperature  float64          `json:"temperature"`
	SystemPrompt string           `json:"system_prompt"`
	Greeting     string           `json:"greeting,omitempty"`
	OutputMode   OutputMode       `json:"output_mode"`
	Tools        []ToolSchema     `json:"tools,omitempty"`
	ToolMeta     []ToolDescriptor `json:"tool_meta,omitempty"`
}

// Store resolves agent configuration. Resolution happens once per call,
// before the media stream attaches.
type Store interface {
	// Resolve returns the config for an agent id, or for the agent bound to
	// the dialed number when agentID is empty.
	Resolve(ctx context.Context, agentID, calleeNumber string) (PerCallConfig, error)
	Close() error
}
