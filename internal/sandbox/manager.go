package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/pkg/errcode"
)

// memoryPollInterval bounds how stale a memory reading can be.
const memoryPollInterval = time.Second

// ManagerConfig configures the sandbox manager.
type ManagerConfig struct {
	Policy SecurityPolicy
	Logger *slog.Logger
}

// Manager owns sandbox environments and the executions running inside them.
type Manager struct {
	mu     sync.RWMutex
	envs   map[string]*environment
	execs  map[string]*execState
	policy SecurityPolicy
	logger *slog.Logger

	// Injected for tests.
	now       func() time.Time
	memUsedMB func() float64
	pollEvery time.Duration
}

type environment struct {
	id      string
	kind    Kind
	limits  Limits
	allowed map[string]bool
	sem     chan struct{}
}

type execState struct {
	mu     sync.Mutex
	exec   Execution
	cancel context.CancelFunc
	// code records why the execution was cancelled, set before cancel fires.
	code errcode.Code
}

func (s *execState) cancelWith(code errcode.Code) {
	s.mu.Lock()
	if s.code == "" && !s.exec.Status.Terminal() {
		s.code = code
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *execState) cancelCode() errcode.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// NewManager creates a manager with the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		envs:      make(map[string]*environment),
		execs:     make(map[string]*execState),
		policy:    cfg.Policy,
		logger:    logger,
		now:       time.Now,
		memUsedMB: heapAllocMB,
		pollEvery: memoryPollInterval,
	}
}

func heapAllocMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1 << 20)
}

// CreateEnvironment provisions an environment of the given kind. Zero limit
// fields take the defaults.
func (m *Manager) CreateEnvironment(kind Kind, limits Limits) (string, error) {
	if !validKind(kind) {
		return "", errcode.Newf(errcode.ValidationFailed, "unknown environment kind %q", kind)
	}
	limits = limits.withDefaults()

	env := &environment{
		id:      uuid.NewString(),
		kind:    kind,
		limits:  limits,
		allowed: importsFor(kind, limits),
		sem:     make(chan struct{}, limits.MaxConcurrentExecutions),
	}

	m.mu.Lock()
	m.envs[env.id] = env
	m.mu.Unlock()

	m.logger.Debug("sandbox environment created",
		"env_id", env.id,
		"kind", string(kind),
		"max_memory_mb", limits.MaxMemoryMB,
	)
	return env.id, nil
}

// DestroyEnvironment removes an environment and cancels its running
// executions. Subsequent operations on the environment return NOT_FOUND.
func (m *Manager) DestroyEnvironment(envID string) error {
	m.mu.Lock()
	env, ok := m.envs[envID]
	if !ok {
		m.mu.Unlock()
		return errcode.Newf(errcode.NotFound, "environment %s not found", envID)
	}
	delete(m.envs, envID)
	var running []*execState
	for _, st := range m.execs {
		if st.exec.EnvID == envID {
			running = append(running, st)
		}
	}
	m.mu.Unlock()

	for _, st := range running {
		st.cancelWith(errcode.Cancelled)
	}
	m.logger.Debug("sandbox environment destroyed", "env_id", env.id)
	return nil
}

// Execute runs a snippet in the environment and blocks until it finishes or
// is cancelled. The snippet must define Run; see the package documentation
// for the expected signature.
func (m *Manager) Execute(ctx context.Context, envID, code string, input map[string]any) (*Result, error) {
	m.mu.RLock()
	env, ok := m.envs[envID]
	m.mu.RUnlock()
	if !ok {
		return nil, errcode.Newf(errcode.NotFound, "environment %s not found", envID)
	}

	// Policy and import checks run before any code does.
	if err := m.policy.Check(code); err != nil {
		return nil, err
	}
	if err := validateImports(code, env.allowed, m.policy); err != nil {
		return nil, err
	}

	// Bounded parallelism per environment.
	select {
	case env.sem <- struct{}{}:
		defer func() { <-env.sem }()
	case <-ctx.Done():
		return nil, errcode.Wrap(errcode.Cancelled, "waiting for execution slot", ctx.Err())
	}

	deadline := time.Duration(env.limits.MaxExecutionTimeMs) * time.Millisecond
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	started := m.now()
	state := &execState{
		exec: Execution{
			ID:        uuid.NewString(),
			EnvID:     envID,
			Status:    StatusRunning,
			StartedAt: started,
		},
		cancel: cancel,
	}
	m.mu.Lock()
	m.execs[state.exec.ID] = state
	m.mu.Unlock()

	stopWatch := m.watchMemory(execCtx, state, env.limits.MaxMemoryMB)
	capture := newLogCapture()
	value, runErr := runSnippet(execCtx, code, input, capture)
	stopWatch()

	result := &Result{
		Success:   runErr == nil,
		Value:     value,
		Logs:      capture.snapshot(),
		StartedAt: started,
		Duration:  m.now().Sub(started),
	}

	status := StatusCompleted
	if runErr != nil {
		status = StatusFailed
		result.Error = m.classify(execCtx, ctx, state, runErr)
		if result.Error.Code != errcode.ExecutionError {
			status = StatusCancelled
		}
	}

	state.mu.Lock()
	state.exec.Status = status
	state.exec.FinishedAt = m.now()
	state.exec.Result = result
	state.mu.Unlock()

	if runErr != nil {
		m.logger.Warn("sandbox execution failed",
			"execution_id", state.exec.ID,
			"env_id", envID,
			"code", string(result.Error.Code),
		)
	}
	return result, nil
}

// classify maps a run failure to its error code: the recorded cancel cause
// wins, then the deadline, then the parent context, then plain failure.
func (m *Manager) classify(execCtx, parent context.Context, state *execState, runErr error) *errcode.Error {
	if code := state.cancelCode(); code != "" {
		return errcode.New(code, "execution cancelled")
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return errcode.New(errcode.ExecutionTimeout, "execution exceeded time limit")
	}
	if parent.Err() != nil {
		return errcode.Wrap(errcode.Cancelled, "execution cancelled", parent.Err())
	}
	var ce *errcode.Error
	if errors.As(runErr, &ce) {
		return ce
	}
	return errcode.Wrap(errcode.ExecutionError, "execution failed", runErr)
}

// watchMemory polls interpreter heap usage until the execution finishes and
// cancels it with MEMORY_LIMIT_EXCEEDED when the cap is crossed. The
// baseline is taken at start so long-lived process state is not charged to
// the snippet.
func (m *Manager) watchMemory(ctx context.Context, state *execState, capMB int) (stop func()) {
	if capMB <= 0 {
		return func() {}
	}
	baseline := m.memUsedMB()
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(m.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.memUsedMB()-baseline > float64(capMB) {
					state.cancelWith(errcode.MemoryLimitExceeded)
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// Terminate cancels a running execution. Terminating an already finished
// execution is a no-op.
func (m *Manager) Terminate(executionID string) error {
	m.mu.RLock()
	state, ok := m.execs[executionID]
	m.mu.RUnlock()
	if !ok {
		return errcode.Newf(errcode.NotFound, "execution %s not found", executionID)
	}
	state.cancelWith(errcode.Cancelled)
	return nil
}

// Status returns a snapshot of one execution.
func (m *Manager) Status(executionID string) (Execution, error) {
	m.mu.RLock()
	state, ok := m.execs[executionID]
	m.mu.RUnlock()
	if !ok {
		return Execution{}, errcode.Newf(errcode.NotFound, "execution %s not found", executionID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.exec, nil
}

// Stats summarises manager state.
type Stats struct {
	Environments     int                     `json:"environments"`
	ActiveExecutions int                     `json:"active_executions"`
	ByStatus         map[ExecutionStatus]int `json:"by_status"`
}

// Stats returns environment and execution totals.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Environments: len(m.envs),
		ByStatus:     make(map[ExecutionStatus]int),
	}
	for _, state := range m.execs {
		state.mu.Lock()
		status := state.exec.Status
		state.mu.Unlock()
		stats.ByStatus[status]++
		if status == StatusRunning {
			stats.ActiveExecutions++
		}
	}
	return stats
}

// ListExecutions returns snapshots of every known execution, oldest first.
func (m *Manager) ListExecutions() []Execution {
	m.mu.RLock()
	out := make([]Execution, 0, len(m.execs))
	for _, state := range m.execs {
		state.mu.Lock()
		out = append(out, state.exec)
		state.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
