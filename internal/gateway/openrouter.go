package gateway

import (
	"context"
	"fmt"

	"github.com/kalambet/modelbench/internal/proxy"
)

const defaultOpenRouterModel = "google/gemini-2.5-flash"

// OpenRouter routes the conversation through an OpenAI-compatible
// endpoint with function tools.
type OpenRouter struct {
	client *proxy.Client
	model  string
}

// NewOpenRouter creates an OpenRouter provider.
func NewOpenRouter(client *proxy.Client, model string) *OpenRouter {
	if model == "" {
		model = defaultOpenRouterModel
	}
	return &OpenRouter{client: client, model: model}
}

// Generate implements Provider.
func (o *OpenRouter) Generate(ctx context.Context, req Request) (Response, error) {
	msgs := make([]proxy.Message, 0, len(req.History)+1)
	msgs = append(msgs, proxy.Message{Role: "system", Content: req.SystemPrompt})
	for _, t := range req.History {
		role := "user"
		if t.Role == RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, proxy.Message{Role: role, Content: t.Content})
	}

	tools := make([]proxy.Tool, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = proxy.NewFunctionTool(t.Name, t.Description, t.JSONSchema())
	}

	resp, err := o.client.Complete(ctx, proxy.ChatRequest{
		Model:      o.model,
		Messages:   msgs,
		Tools:      tools,
		ToolChoice: "auto",
	})
	if err != nil {
		return Response{}, fmt.Errorf("openrouter complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openrouter complete: no choices")
	}

	msg := resp.Choices[0].Message
	out := Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args, err := tc.Function.DecodeArguments()
		if err != nil {
			return Response{}, err
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{Name: tc.Function.Name, Args: args})
	}
	return out, nil
}
