// Package session runs conversation turns: one gateway call, then intent
// resolution, reconciliation and presentation, strictly one turn at a time
// per conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/modelbench/internal/gateway"
	"github.com/kalambet/modelbench/internal/intent"
	"github.com/kalambet/modelbench/internal/present"
	"github.com/kalambet/modelbench/internal/reconcile"
	"github.com/kalambet/modelbench/internal/storage"
)

var (
	// ErrTurnInFlight is returned when a message is submitted while the
	// previous turn of the same session is still running.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEmptyMessage is returned when the submitted text is blank.
	ErrEmptyMessage = errors.New("message text is empty")
)

// ChatMessage is one entry of a session's append-only log. Metadata is nil
// when there is nothing to render.
type ChatMessage struct {
	ID        string             `json:"id"`
	Role      gateway.Role       `json:"role"`
	Content   string             `json:"content"`
	Metadata  *present.Directive `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Agent is the conversational backend a session talks to.
type Agent interface {
	Converse(ctx context.Context, history []gateway.Turn, persona gateway.Persona, text string) gateway.Reply
}

// Journal records finished turns and queued AutoML jobs.
type Journal interface {
	SaveTurn(t storage.Turn) error
	SaveJob(j storage.Job) error
}

// Options configures a Manager.
type Options struct {
	Journal Journal
	Logger  *slog.Logger
	// Strict panics on rendering contract violations instead of logging
	// them. Meant for development.
	Strict bool
}

// Manager owns the live sessions and routes every intent, whether from
// the agent or from the UI, through the reconciler and presenter.
type Manager struct {
	agent   Agent
	rec     *reconcile.Reconciler
	journal Journal
	log     *slog.Logger
	strict  bool
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(agent Agent, rec *reconcile.Reconciler, opts Options) *Manager {
	m := &Manager{
		agent:    agent,
		rec:      rec,
		journal:  opts.Journal,
		log:      opts.Logger,
		strict:   opts.Strict,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Create starts a new session for the persona.
func (m *Manager) Create(persona gateway.Persona) (*Session, error) {
	if !persona.Valid() {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknownPersona, persona)
	}
	s := &Session{
		ID:        "sess-" + uuid.NewString(),
		Persona:   persona,
		CreatedAt: m.now().UTC(),
		mgr:       m,
		turn:      semaphore.NewWeighted(1),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("session created", "session_id", s.ID, "persona", persona)
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Info summarises a session for listings.
type Info struct {
	ID        string          `json:"id"`
	Persona   gateway.Persona `json:"persona"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  int             `json:"messages"`
}

// List returns all sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Execute applies a UI-originated intent and returns its directive. Unlike
// chat turns, failures are returned to the caller.
func (m *Manager) Execute(in intent.Intent) (*present.Directive, error) {
	res, err := m.rec.Apply(in)
	if err != nil {
		return nil, err
	}
	m.recordJob(res, "")
	d, err := present.Present(in, res)
	if err != nil {
		if m.strict {
			panic(err)
		}
		return nil, err
	}
	return d, nil
}

// apply runs the synchronous half of a turn. It never fails: errors are
// logged and yield no directive.
func (m *Manager) apply(in intent.Intent, turnID string) *present.Directive {
	res, err := m.rec.Apply(in)
	if err != nil {
		m.log.Error("applying intent failed", "turn_id", turnID, "intent", in.Kind(), "error", err)
		return nil
	}
	m.recordJob(res, turnID)

	d, err := present.Present(in, res)
	if err != nil {
		if m.strict {
			panic(err)
		}
		m.log.Error("presenting intent failed", "turn_id", turnID, "intent", in.Kind(), "error", err)
		return nil
	}
	return d
}

func (m *Manager) recordJob(res reconcile.Result, turnID string) {
	job, ok := res.(reconcile.AutoMLJob)
	if !ok || m.journal == nil {
		return
	}
	err := m.journal.SaveJob(storage.Job{
		ID:                 job.ID,
		TurnID:             turnID,
		Platform:           job.Platform,
		DatasetID:          job.DatasetID,
		Task:               job.Task,
		OptimizationMetric: job.OptimizationMetric,
		Status:             job.Status,
		QueuedAt:           job.QueuedAt,
	})
	if err != nil {
		m.log.Warn("journaling automl job failed", "job_id", job.ID, "error", err)
	}
}

func (m *Manager) recordTurn(t storage.Turn) {
	if m.journal == nil {
		return
	}
	if err := m.journal.SaveTurn(t); err != nil {
		m.log.Warn("journaling turn failed", "turn_id", t.ID, "error", err)
	}
}

// Session is one conversation with a fixed persona.
type Session struct {
	ID        string
	Persona   gateway.Persona
	CreatedAt time.Time

	mgr  *Manager
	turn *semaphore.Weighted

	mu       sync.Mutex
	messages []ChatMessage
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	n := len(s.messages)
	s.mu.Unlock()
	return Info{ID: s.ID, Persona: s.Persona, CreatedAt: s.CreatedAt, Messages: n}
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Submit runs one turn and returns the model's message. Only one turn may
// run at a time; a concurrent call fails with ErrTurnInFlight. State is
// changed only after the agent has answered, so a failed or degraded agent
// call leaves the registry untouched.
func (s *Session) Submit(ctx context.Context, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	if !s.turn.TryAcquire(1) {
		return ChatMessage{}, ErrTurnInFlight
	}
	defer s.turn.Release(1)

	m := s.mgr
	start := m.now()
	turnID := "turn-" + uuid.NewString()

	history := s.history()
	s.append(ChatMessage{Role: gateway.RoleUser, Content: text, CreatedAt: start.UTC()})

	reply := m.agent.Converse(ctx, history, s.Persona, text)

	var in intent.Intent = intent.None{}
	if !reply.Degraded {
		in = intent.Resolve(reply.ToolCall)
	}
	directive := m.apply(in, turnID)

	msg := s.append(ChatMessage{
		Role:      gateway.RoleModel,
		Content:   reply.Text,
		Metadata:  directive,
		CreatedAt: m.now().UTC(),
	})

	rec := storage.Turn{
		ID:         turnID,
		SessionID:  s.ID,
		Persona:    string(s.Persona),
		CreatedAt:  start.UTC(),
		UserText:   text,
		ReplyText:  reply.Text,
		Intent:     string(in.Kind()),
		Degraded:   reply.Degraded,
		DurationMs: m.now().Sub(start).Milliseconds(),
	}
	if reply.ToolCall != nil {
		rec.ToolName = reply.ToolCall.Name
	}
	if directive != nil {
		rec.Directive = string(directive.Type)
	}
	if none, ok := in.(intent.None); ok {
		rec.Note = none.Note
	}
	m.recordTurn(rec)

	m.log.Debug("turn completed",
		"session_id", s.ID,
		"turn_id", turnID,
		"intent", in.Kind(),
		"degraded", reply.Degraded,
		"duration_ms", rec.DurationMs,
	)
	return msg, nil
}

// history converts the log into gateway turns. Must be called before the
// new user message is appended.
func (s *Session) history() []gateway.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]gateway.Turn, len(s.messages))
	for i, msg := range s.messages {
		turns[i] = gateway.Turn{Role: msg.Role, Content: msg.Content}
	}
	return turns
}

func (s *Session) append(msg ChatMessage) ChatMessage {
	msg.ID = "msg-" + uuid.NewString()
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg
}
