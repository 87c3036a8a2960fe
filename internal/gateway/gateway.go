package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// DegradedReply is the fixed reply used whenever the hosted model cannot be
// reached or returns something unusable.
const DegradedReply = "Sorry, I couldn't reach the assistant just now. Please try again in a moment."

const toolOnlyReply = "Here you go."

const (
	defaultHistoryWindow = 10
	defaultTimeout       = 30 * time.Second
)

var errEmptyResponse = errors.New("provider returned neither text nor a tool call")

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior message passed to the hosted model.
type Turn struct {
	Role    Role
	Content string
}

// ToolCall is a structured function invocation chosen by the hosted model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Reply is the outcome of one Converse call. Degraded is set when Text is
// DegradedReply because the call failed.
type Reply struct {
	Text     string
	ToolCall *ToolCall
	Degraded bool
}

// Request is what a Provider sends to its hosted model. History already
// ends with the latest user turn.
type Request struct {
	SystemPrompt string
	History      []Turn
	Tools        []ToolDecl
}

// Response is a provider's raw answer.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Provider performs one round-trip to a hosted generative model.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Options tunes a Gateway. Zero values select defaults.
type Options struct {
	HistoryWindow int
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Gateway wraps a single call to the hosted model. It keeps no state
// between calls.
type Gateway struct {
	provider Provider
	window   int
	timeout  time.Duration
	log      *slog.Logger
}

// New creates a Gateway around the given provider.
func New(p Provider, opts Options) *Gateway {
	g := &Gateway{
		provider: p,
		window:   opts.HistoryWindow,
		timeout:  opts.Timeout,
		log:      opts.Logger,
	}
	if g.window <= 0 {
		g.window = defaultHistoryWindow
	}
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// Converse sends the most recent history window plus text to the hosted
// model under the persona's system prompt. It never fails: any provider
// error, timeout or unusable response yields the degraded reply with no
// tool call.
func (g *Gateway) Converse(ctx context.Context, history []Turn, persona Persona, text string) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("agent gateway provider panicked", "panic", r)
			reply = degraded()
		}
	}()

	if !persona.Valid() {
		g.log.Error("converse called with invalid persona", "persona", persona)
		return degraded()
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := Request{
		SystemPrompt: persona.SystemPrompt(),
		History:      append(Window(history, g.window), Turn{Role: RoleUser, Content: text}),
		Tools:        Tools(),
	}

	start := time.Now()
	resp, err := g.provider.Generate(ctx, req)
	if err == nil && strings.TrimSpace(resp.Text) == "" && len(resp.ToolCalls) == 0 {
		err = errEmptyResponse
	}
	if err != nil {
		g.log.Warn("agent gateway call failed", "error", err, "persona", persona, "duration_ms", time.Since(start).Milliseconds())
		return degraded()
	}

	reply = Reply{Text: strings.TrimSpace(resp.Text)}
	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		reply.ToolCall = &call
		if len(resp.ToolCalls) > 1 {
			g.log.Debug("ignoring extra tool calls", "count", len(resp.ToolCalls)-1)
		}
		if reply.Text == "" {
			reply.Text = toolOnlyReply
		}
	}
	g.log.Debug("agent gateway call completed",
		"persona", persona,
		"tool", toolName(reply.ToolCall),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply
}

// Window returns the last n turns of history. Older turns are dropped.
func Window(history []Turn, n int) []Turn {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Turn, len(history), len(history)+1)
	copy(out, history)
	return out
}

func degraded() Reply {
	return Reply{Text: DegradedReply, Degraded: true}
}

func toolName(c *ToolCall) string {
	if c == nil {
		return ""
	}
	return c.Name
}
