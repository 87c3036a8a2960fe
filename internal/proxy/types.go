package proxy

import (
	"encoding/json"
	"fmt"
)

// Message is an OpenAI-compatible chat message.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Tool declares a callable function to the model.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the function half of a Tool.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// NewFunctionTool wraps a function definition as a Tool.
func NewFunctionTool(name, description string, parameters map[string]any) Tool {
	return Tool{
		Type: "function",
		Function: FunctionDef{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// ChatRequest is a non-streaming chat completion request with tools.
type ChatRequest struct {
	Model      string    `json:"model"`
	Messages   []Message `json:"messages"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`
}

// ToolCall is a function invocation returned by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments parses the JSON argument string. An empty string yields
// an empty map.
func (f FunctionCall) DecodeArguments() (map[string]any, error) {
	args := map[string]any{}
	if f.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decoding arguments for %s: %w", f.Name, err)
	}
	return args, nil
}

// ChatResponse is the non-streaming chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}
