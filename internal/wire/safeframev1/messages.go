package safeframev1

import (
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/engine"
)

type StartSessionRequest struct {
	SessionKey string `json:"session_key"`
}

type StartSessionResponse struct {
	SessionKey string `json:"session_key"`
	// Created is false when the session already existed.
	Created bool `json:"created"`
}

type EndSessionRequest struct {
	SessionKey string `json:"session_key"`
}

type EndSessionResponse struct {
	Ended bool `json:"ended"`
}

// Message senders.
const (
	FromUser  = "user"
	FromAgent = "agent"
)

// MessageReceivedRequest carries one chat message. From defaults to "user".
// Agent messages can only file appeals; they never answer a pending prompt.
type MessageReceivedRequest struct {
	SessionKey string `json:"session_key"`
	From       string `json:"from,omitempty"`
	Text       string `json:"text"`
}

// MessageReceivedResponse tells the host whether the guard consumed the message.
// A consumed message must not be forwarded to the agent; Reply, when set, is shown
// to the user instead.
type MessageReceivedResponse struct {
	Consumed bool   `json:"consumed"`
	Reply    string `json:"reply,omitempty"`
	// State is the session's conversation state after the message.
	State string `json:"state"`
	// PromptContext lists the active constraints for injection into the agent prompt.
	PromptContext string `json:"prompt_context,omitempty"`
}

type BeforeToolCallRequest struct {
	SessionKey string         `json:"session_key"`
	ToolName   string         `json:"tool_name"`
	Params     map[string]any `json:"params,omitempty"`
}

type BeforeToolCallResponse struct {
	Block     bool   `json:"block"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id"`
	// Shadow is set when the tenant runs in shadow mode: Block is always false
	// and Action reports what enforce mode would have done.
	Shadow     bool                     `json:"shadow,omitempty"`
	Assessment *engine.SafetyAssessment `json:"assessment,omitempty"`
}

type AfterToolCallRequest struct {
	SessionKey string         `json:"session_key"`
	ToolName   string         `json:"tool_name"`
	Params     map[string]any `json:"params,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type AfterToolCallResponse struct{}

type ExportConstraintsRequest struct {
	SessionKey string `json:"session_key"`
}

type ExportConstraintsResponse struct {
	Constraints []constraint.Constraint `json:"constraints"`
}

type ImportConstraintsRequest struct {
	SessionKey  string                  `json:"session_key"`
	Constraints []constraint.Constraint `json:"constraints"`
	Secret      string                  `json:"secret,omitempty"`
}

type ImportConstraintsResponse struct {
	Imported int `json:"imported"`
}
