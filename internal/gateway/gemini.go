package gateway

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional; overrides the public endpoint
}

// Gemini calls the Gemini API through google.golang.org/genai with the
// declared tools as function declarations.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Generate implements Provider.
func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(req.History), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		Tools: []*genai.Tool{
			{FunctionDeclarations: geminiDeclarations(req.Tools)},
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return Response{}, fmt.Errorf("gemini generate: no candidates")
	}

	out := Response{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		out.ToolCalls = append(out.ToolCalls, ToolCall{Name: fc.Name, Args: fc.Args})
	}
	return out, nil
}

// geminiContents converts turns, dropping leading model turns because the
// API expects a conversation to open with the user.
func geminiContents(history []Turn) []*genai.Content {
	for len(history) > 0 && history[0].Role != RoleUser {
		history = history[1:]
	}
	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		var role genai.Role = genai.RoleUser
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	return contents
}

func geminiDeclarations(tools []ToolDecl) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.Params) > 0 {
			props := make(map[string]*genai.Schema, len(t.Params))
			for _, p := range t.Params {
				props[p.Name] = &genai.Schema{
					Type:        geminiType(p.Type),
					Description: p.Description,
					Enum:        p.Enum,
				}
			}
			decl.Parameters = &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.RequiredParams(),
			}
		}
		decls = append(decls, decl)
	}
	return decls
}

func geminiType(t ParamType) genai.Type {
	switch t {
	case TypeNumber:
		return genai.TypeNumber
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
