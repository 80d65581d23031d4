// Package orchestrator owns conversation state and drives the message
// pipeline: gate the input, plan tool calls, execute them through the
// security gate and sandbox, and fold the results into an assistant reply.
package orchestrator

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/internal/contextstore"
	"github.com/haasonsaas/conduit/internal/planner"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/sandbox"
	"github.com/haasonsaas/conduit/internal/security"
	"github.com/haasonsaas/conduit/pkg/errcode"
	"github.com/haasonsaas/conduit/pkg/models"
)

// defaultMaxIterations caps plan/execute rounds within a single turn.
const defaultMaxIterations = 5

// Metrics receives orchestrator counters. The observability package provides
// the Prometheus-backed implementation.
type Metrics interface {
	MessageProcessed(duration time.Duration)
	ToolExecuted(toolID string, success bool, duration time.Duration)
	SecurityDenial(kind string)
	ConversationStarted()
	ConversationEnded()
}

type nopMetrics struct{}

func (nopMetrics) MessageProcessed(time.Duration)           {}
func (nopMetrics) ToolExecuted(string, bool, time.Duration) {}
func (nopMetrics) SecurityDenial(string)                    {}
func (nopMetrics) ConversationStarted()                     {}
func (nopMetrics) ConversationEnded()                       {}

// Config wires the orchestrator's collaborators. Nil fields get working
// defaults so tests can construct a runtime from a registry alone.
type Config struct {
	Registry      *registry.Registry
	Planner       *planner.Planner
	Gate          *security.Gate
	Sandbox       *sandbox.Manager
	Logger        *slog.Logger
	Metrics       Metrics
	Middleware    []Middleware
	MaxIterations int
}

// Orchestrator is the conversation runtime. All conversation state lives
// here; callers only ever see copies.
type Orchestrator struct {
	registry      *registry.Registry
	planner       *planner.Planner
	gate          *security.Gate
	sandbox       *sandbox.Manager
	logger        *slog.Logger
	metrics       Metrics
	middleware    []Middleware
	maxIterations int

	mu            sync.RWMutex
	conversations map[string]*models.Conversation

	locks    *convLocks
	contexts *contextstore.Store

	envMu sync.Mutex
	envs  map[string]string // tool id -> sandbox environment id

	now func() time.Time
}

// New creates an orchestrator from the given config.
func New(cfg Config) *Orchestrator {
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Planner == nil {
		cfg.Planner = planner.New(cfg.Registry, planner.Config{Logger: cfg.Logger})
	}
	if cfg.Gate == nil {
		cfg.Gate = security.NewGate(security.Options{Logger: cfg.Logger})
	}
	if cfg.Sandbox == nil {
		cfg.Sandbox = sandbox.NewManager(sandbox.ManagerConfig{Logger: cfg.Logger})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Orchestrator{
		registry:      cfg.Registry,
		planner:       cfg.Planner,
		gate:          cfg.Gate,
		sandbox:       cfg.Sandbox,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		middleware:    cfg.Middleware,
		maxIterations: cfg.MaxIterations,
		conversations: make(map[string]*models.Conversation),
		locks:         newConvLocks(),
		contexts:      contextstore.New(),
		envs:          make(map[string]string),
		now:           time.Now,
	}
}

// Gate exposes the security gate for audit queries.
func (o *Orchestrator) Gate() *security.Gate { return o.gate }

// CreateConversation starts a conversation and returns its id. Nil
// preferences get the defaults; explicit preferences have their zero-value
// fields backfilled from the defaults.
func (o *Orchestrator) CreateConversation(prefs *models.Preferences) string {
	p := models.DefaultPreferences()
	if prefs != nil {
		p = overlayPreferences(p, *prefs)
	}

	now := o.now()
	conv := &models.Conversation{
		ID:             uuid.NewString(),
		Preferences:    p,
		Context:        make(map[string]any),
		CreatedAt:      now,
		LastActivityAt: now,
	}

	o.mu.Lock()
	o.conversations[conv.ID] = conv
	o.mu.Unlock()

	o.metrics.ConversationStarted()
	o.logger.Info("conversation created", "conversation_id", conv.ID, "safety_level", string(p.SafetyLevel))
	return conv.ID
}

// overlayPreferences applies explicit preferences on top of the defaults.
// AutoExecute is taken as given so an explicit false sticks; other
// zero-value fields fall back to the default.
func overlayPreferences(base, over models.Preferences) models.Preferences {
	base.AutoExecute = over.AutoExecute
	if over.MaxToolCalls > 0 {
		base.MaxToolCalls = over.MaxToolCalls
	}
	if over.AllowedCategories != nil {
		base.AllowedCategories = over.AllowedCategories
	}
	if over.Verbosity != "" {
		base.Verbosity = over.Verbosity
	}
	if over.SafetyLevel != "" {
		base.SafetyLevel = over.SafetyLevel
	}
	if over.PreferredTools != nil {
		base.PreferredTools = over.PreferredTools
	}
	return base
}

// RestoreConversation installs a previously saved conversation, for
// resuming from a snapshot. The id must not already be in use.
func (o *Orchestrator) RestoreConversation(conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return errcode.New(errcode.ValidationFailed, "conversation id is required")
	}
	restored := cloneConversation(conv)
	restored.Preferences = overlayPreferences(models.DefaultPreferences(), conv.Preferences)

	o.mu.Lock()
	if _, exists := o.conversations[conv.ID]; exists {
		o.mu.Unlock()
		return errcode.Newf(errcode.ValidationFailed, "conversation %s already exists", conv.ID)
	}
	o.conversations[conv.ID] = restored
	o.mu.Unlock()

	o.metrics.ConversationStarted()
	o.logger.Info("conversation restored", "conversation_id", conv.ID, "messages", len(conv.Messages))
	return nil
}

// GetConversation returns a deep copy of a conversation.
func (o *Orchestrator) GetConversation(id string) (*models.Conversation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	conv, ok := o.conversations[id]
	if !ok {
		return nil, false
	}
	return cloneConversation(conv), true
}

// ListConversations returns all conversation ids, sorted.
func (o *Orchestrator) ListConversations() []string {
	o.mu.RLock()
	ids := make([]string, 0, len(o.conversations))
	for id := range o.conversations {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// DeleteConversation removes a conversation and its working context.
func (o *Orchestrator) DeleteConversation(id string) error {
	o.mu.Lock()
	_, ok := o.conversations[id]
	if ok {
		delete(o.conversations, id)
	}
	o.mu.Unlock()

	if !ok {
		return errcode.Newf(errcode.NotFound, "conversation %s not found", id)
	}

	o.contexts.Delete(id)
	o.gate.Monitor().Reset(id)
	o.metrics.ConversationEnded()
	o.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// UpdatePreferences overlays new preferences onto a conversation. Zero-value
// fields keep their current setting, except AutoExecute which is taken as
// given.
func (o *Orchestrator) UpdatePreferences(id string, prefs models.Preferences) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	conv, ok := o.conversations[id]
	if !ok {
		return errcode.Newf(errcode.NotFound, "conversation %s not found", id)
	}
	conv.Preferences = overlayPreferences(conv.Preferences, prefs)
	return nil
}

// ExpireIdle deletes conversations idle longer than maxIdle and returns how
// many were removed.
func (o *Orchestrator) ExpireIdle(maxIdle time.Duration) int {
	cutoff := o.now().Add(-maxIdle)

	o.mu.Lock()
	var expired []string
	for id, conv := range o.conversations {
		if conv.LastActivityAt.Before(cutoff) {
			expired = append(expired, id)
			delete(o.conversations, id)
		}
	}
	o.mu.Unlock()

	for _, id := range expired {
		o.contexts.Delete(id)
		o.gate.Monitor().Reset(id)
		o.metrics.ConversationEnded()
	}
	if len(expired) > 0 {
		o.logger.Info("expired idle conversations", "count", len(expired))
	}
	return len(expired)
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	out := *conv
	out.Messages = make([]models.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	out.Context = make(map[string]any, len(conv.Context))
	for k, v := range conv.Context {
		out.Context[k] = v
	}
	if conv.ActiveTools != nil {
		out.ActiveTools = append([]string(nil), conv.ActiveTools...)
	}
	return &out
}

// envFor lazily creates one sandbox environment per tool and reuses it for
// subsequent calls.
func (o *Orchestrator) envFor(tool *models.ToolDefinition) (string, error) {
	o.envMu.Lock()
	defer o.envMu.Unlock()

	if id, ok := o.envs[tool.ID]; ok {
		return id, nil
	}

	limits := sandbox.Limits{}
	if rl := tool.Execution.ResourceLimits; rl != nil {
		limits = sandbox.Limits{
			MaxMemoryMB:             rl.MaxMemoryMB,
			MaxExecutionTimeMs:      rl.MaxExecutionTimeMs,
			MaxConcurrentExecutions: rl.MaxConcurrentExecutions,
			AllowNetwork:            rl.AllowNetwork,
			AllowFileSystem:         rl.AllowFileSystem,
		}
	}
	if limits.MaxExecutionTimeMs == 0 && tool.Execution.TimeoutMs > 0 {
		limits.MaxExecutionTimeMs = tool.Execution.TimeoutMs
	}

	id, err := o.sandbox.CreateEnvironment(sandbox.Kind(tool.Execution.Environment), limits)
	if err != nil {
		return "", err
	}
	o.envs[tool.ID] = id
	return id, nil
}
