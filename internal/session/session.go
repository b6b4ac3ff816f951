// Package session implements the Session/Run Controller: the component
// that owns a session's sandbox and orchestrator executor across a run and
// any follow-up messages, persists its event/artifact trail, and exposes
// interrupt semantics. It is grounded directly on original_source's
// orchestrator.py Orchestrator class.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/fluxforge/agentcore/internal/agent/executor"
	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/common/logger"
	"github.com/fluxforge/agentcore/internal/eventbus"
	"github.com/fluxforge/agentcore/internal/githost"
	"github.com/fluxforge/agentcore/internal/sandbox"
	"github.com/fluxforge/agentcore/internal/store"
	"go.uber.org/zap"
)

// activeRun is the in-memory state the controller keeps for a session
// while its sandbox is alive: the sandbox itself (reused by follow-ups),
// the orchestrator executor (resumed by follow-ups), and the cancel func
// that backs interrupt.
type activeRun struct {
	sessionID    string
	runID        string
	repoFullName string
	sandbox      *sandbox.Sandbox
	orchestrator *executor.Executor
	cancel       context.CancelFunc
}

// Config wires a Controller to its dependencies. SandboxProvider is the
// sandbox.Provider every new session's sandbox is created with.
type Config struct {
	Store           *store.Store
	Bus             *eventbus.Bus
	SandboxProvider sandbox.Provider
	DecisionMaker   model.Client
	GitHost         githost.Client
	ModelID         string
	MaxTokens       int
	GitHubToken     string
	AnthropicAPIKey string
	ArtifactsDir    string
	Logger          *logger.Logger
}

// Controller is the Session/Run Controller: the long-lived object a
// transport layer (out of scope here, per spec.md §1) drives to start
// sessions, send follow-ups, and request interrupts.
type Controller struct {
	store           *store.Store
	bus             *eventbus.Bus
	sandboxProvider sandbox.Provider
	decisionMaker   model.Client
	gitHost         githost.Client
	modelID         string
	maxTokens       int
	githubToken     string
	anthropicAPIKey string
	artifactsDir    string
	log             *logger.Logger

	mu     sync.Mutex
	active map[string]*activeRun // sessionID -> in-flight/resumable run
}

// New constructs a Controller. ArtifactsDir is created lazily per run by
// persistArtifact.
func New(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Controller{
		store:           cfg.Store,
		bus:             cfg.Bus,
		sandboxProvider: cfg.SandboxProvider,
		decisionMaker:   cfg.DecisionMaker,
		gitHost:         cfg.GitHost,
		modelID:         cfg.ModelID,
		maxTokens:       cfg.MaxTokens,
		githubToken:     cfg.GitHubToken,
		anthropicAPIKey: cfg.AnthropicAPIKey,
		artifactsDir:    cfg.ArtifactsDir,
		log:             log,
		active:          make(map[string]*activeRun),
	}
}

// GetActiveOrchestrator reports whether sessionID currently has a live
// orchestrator executor the controller can resume or interrupt, the Go
// counterpart of the original's get_active_orchestrator lookup.
func (c *Controller) GetActiveOrchestrator(sessionID string) (*executor.Executor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ar, ok := c.active[sessionID]
	if !ok {
		return nil, false
	}
	return ar.orchestrator, true
}

func (c *Controller) registerActive(ar *activeRun) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[ar.sessionID] = ar
}

func (c *Controller) unregisterActive(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, sessionID)
}

// InterruptSession requests that sessionID's in-flight run stop as soon as
// possible. Mirroring the original's request_interrupt, the sandbox is torn
// down immediately so any in-flight tool call (a long install, a hung test
// run) fails fast instead of waiting out its own timeout; the executor's
// own interrupt flag is set so the agent loop stops before its next
// decision-maker call if it gets there first. Returns false if the session
// has no active run.
func (c *Controller) InterruptSession(ctx context.Context, sessionID string) bool {
	c.mu.Lock()
	ar, ok := c.active[sessionID]
	c.mu.Unlock()
	if !ok {
		return false
	}

	ar.orchestrator.Interrupt()
	if ar.cancel != nil {
		ar.cancel()
	}
	if ar.sandbox != nil {
		destroyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.sandboxProvider.Destroy(destroyCtx, ar.sandbox); err != nil {
			c.log.Warn("interrupt: sandbox destroy failed", zap.Error(err))
		}
	}
	return true
}
