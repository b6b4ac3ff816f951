package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fluxforge/agentcore/internal/agent/executor"
	"github.com/fluxforge/agentcore/internal/agent/orchestrator"
	"github.com/fluxforge/agentcore/internal/githost"
	"github.com/fluxforge/agentcore/internal/sandbox"
	"github.com/fluxforge/agentcore/internal/store"
)

// StartSession creates a session and kicks off its first run in the
// background, returning the session ID immediately. Callers observe
// progress via Subscribe (the event bus) or by polling the store.
func (c *Controller) StartSession(repoURL, prompt string) (string, error) {
	ctx := context.Background()
	sessionID, err := c.store.CreateSession(ctx, repoURL, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("session: create session: %w", err)
	}
	if err := c.store.SaveMessage(ctx, sessionID, "user", prompt); err != nil {
		return "", fmt.Errorf("session: save initial message: %w", err)
	}

	runID, err := c.store.CreateRun(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("session: create run: %w", err)
	}

	go c.run(sessionID, runID, repoURL, prompt)
	return sessionID, nil
}

// ContinueRun sends a follow-up message to sessionID's still-alive
// orchestrator, reusing its sandbox and conversation history exactly as
// the original's Orchestrator.continue_run does. It fails if no orchestrator
// is registered for the session, which is the case when its first run ended
// before the orchestrator was built.
func (c *Controller) ContinueRun(sessionID, userMessage string) error {
	c.mu.Lock()
	ar, ok := c.active[sessionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %s has no active run to continue", sessionID)
	}

	ctx := context.Background()
	if err := c.store.SaveMessage(ctx, sessionID, "user", userMessage); err != nil {
		return fmt.Errorf("session: save follow-up message: %w", err)
	}

	go c.resume(ar, userMessage)
	return nil
}

// run drives one full run of the orchestrator agent: sandbox setup,
// execution, diff/PR persistence, and final status transition. It is the
// Go counterpart of Orchestrator.run.
func (c *Controller) run(sessionID, runID, repoURL, prompt string) {
	runCtx, cancel := context.WithCancel(context.Background())
	log := c.log.With(zap.String("session_id", sessionID), zap.String("run_id", runID))

	if err := c.store.UpdateSessionStatus(runCtx, sessionID, store.StatusRunning); err != nil {
		log.Error("update session status failed", zap.Error(err))
	}
	if err := c.store.UpdateRunStatus(runCtx, runID, store.StatusRunning); err != nil {
		log.Error("update run status failed", zap.Error(err))
	}

	sb, err := c.sandboxProvider.Create(runCtx, repoURL, c.githubToken)
	if err != nil {
		log.Error("sandbox create failed", zap.Error(err))
		c.finishFailed(runCtx, sessionID, runID, err)
		cancel()
		return
	}
	if sb.Env == nil {
		sb.Env = map[string]string{}
	}
	sb.Env["GITHUB_TOKEN"] = c.githubToken
	sb.Env["ANTHROPIC_API_KEY"] = c.anthropicAPIKey

	repoFullName, err := githost.ExtractRepoFullName(repoURL)
	if err != nil {
		log.Error("extract repo full name failed", zap.Error(err))
		c.finishFailed(runCtx, sessionID, runID, err)
		cancel()
		return
	}

	orch, err := orchestrator.New(orchestrator.Config{
		SandboxProvider: c.sandboxProvider,
		Sandbox:         sb,
		RepoURL:         repoURL,
		GitHubToken:     c.githubToken,
		GitHost:         c.gitHost,
		DecisionMaker:   c.decisionMaker,
		ModelID:         c.modelID,
		MaxTokens:       c.maxTokens,
		Logger:          c.log,
		SaveArtifact:    c.artifactSaver(runID),
		EventHandler:    c.eventHandler(sessionID, runID),
	})
	if err != nil {
		log.Error("build orchestrator failed", zap.Error(err))
		c.finishFailed(runCtx, sessionID, runID, err)
		_ = c.sandboxProvider.Destroy(context.Background(), sb)
		cancel()
		return
	}

	ar := &activeRun{
		sessionID:    sessionID,
		runID:        runID,
		repoFullName: repoFullName,
		sandbox:      sb,
		orchestrator: orch,
		cancel:       cancel,
	}
	// The run stays registered after it returns so ContinueRun can resume
	// the same orchestrator against the same sandbox.
	c.registerActive(ar)
	defer cancel()

	result, err := orch.Run(runCtx, map[string]any{"task": prompt})
	finalizeCtx := runCtx
	if runCtx.Err() != nil {
		// InterruptSession cancelled runCtx: record the run as interrupted and
		// persist its final state with a context that is still live.
		finalizeCtx = context.Background()
		if !isInterrupted(result) {
			result = map[string]any{"status": "interrupted", "error": "Run interrupted by user"}
		}
	}
	c.finalize(finalizeCtx, sessionID, runID, sb, result, err)
}

// resume drives a follow-up message against an already-active run, the
// counterpart of Orchestrator.continue_run / BaseAgent.resume.
func (c *Controller) resume(ar *activeRun, userMessage string) {
	log := c.log.With(zap.String("session_id", ar.sessionID), zap.String("run_id", ar.runID))
	runCtx := context.Background()

	result, err := ar.orchestrator.Resume(runCtx, userMessage)
	if err != nil {
		log.Error("resume failed", zap.Error(err))
	}

	diff := c.captureDiff(runCtx, ar.sandbox)
	if diff != "" {
		if _, saveErr := c.persistArtifact(runCtx, ar.runID, store.ArtifactDiff, "changes_followup", []byte(diff), nil); saveErr != nil {
			log.Warn("persist follow-up diff failed", zap.Error(saveErr))
		}
	}
	c.recordResult(runCtx, ar.runID, result)
}

// finalize persists the run's final diff/PR state and transitions status,
// matching Orchestrator.run's completion branch (including the
// interrupted-maps-to-completed rule).
func (c *Controller) finalize(ctx context.Context, sessionID, runID string, sb *sandbox.Sandbox, result map[string]any, runErr error) {
	diff := c.captureDiff(ctx, sb)
	if diff != "" {
		if _, err := c.persistArtifact(ctx, runID, store.ArtifactDiff, "changes", []byte(diff), nil); err != nil {
			c.log.Warn("persist diff failed", zap.Error(err))
		}
	}
	c.recordResult(ctx, runID, result)

	if runErr != nil && !isInterrupted(result) {
		c.log.Error("run failed", zap.String("run_id", runID), zap.Error(runErr))
		_ = c.store.UpdateRunStatus(ctx, runID, store.StatusFailed)
		_ = c.store.UpdateSessionStatus(ctx, sessionID, store.StatusFailed)
		return
	}

	// Both a clean completion and an interrupted run converge on
	// "completed": interruption is an operator-requested outcome, not a
	// failure, mirroring the original's CancelledError handling.
	_ = c.store.UpdateRunStatus(ctx, runID, store.StatusCompleted)
	_ = c.store.UpdateSessionStatus(ctx, sessionID, store.StatusCompleted)
}

func (c *Controller) recordResult(ctx context.Context, runID string, result map[string]any) {
	if result == nil {
		return
	}
	if prURL, ok := result["pr_url"].(string); ok && prURL != "" {
		prNumber, _ := result["pr_number"].(int)
		if f, ok := result["pr_number"].(float64); ok {
			prNumber = int(f)
		}
		if err := c.store.SetRunPullRequest(ctx, runID, prURL, prNumber); err != nil {
			c.log.Warn("record pull request failed", zap.Error(err))
		}
	}
}

func isInterrupted(result map[string]any) bool {
	status, _ := result["status"].(string)
	return status == "interrupted"
}

// captureDiff computes the run's working-tree diff the way the original's
// _get_diff does: `git diff HEAD` against the sandbox working directory,
// bounded to 10s so a stuck git process can't hang run finalization.
func (c *Controller) captureDiff(ctx context.Context, sb *sandbox.Sandbox) string {
	if sb == nil {
		return ""
	}
	diffCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := c.sandboxProvider.RunCommand(diffCtx, sb, "git diff HEAD", 10*time.Second)
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return res.Stdout
}

func (c *Controller) finishFailed(ctx context.Context, sessionID, runID string, err error) {
	_ = c.store.AppendEvent(ctx, runID, "orchestrator", "error", map[string]any{"error": err.Error()})
	_ = c.store.UpdateRunStatus(ctx, runID, store.StatusFailed)
	_ = c.store.UpdateSessionStatus(ctx, sessionID, store.StatusFailed)
}

// eventHandler bridges executor.Event to both durable storage (store) and
// live subscribers (eventbus), the Go analogue of the original's
// _emit_event, which fanned each event out to _persist_event and the
// EventBus in one call.
func (c *Controller) eventHandler(sessionID, runID string) executor.EventHandler {
	return func(evt executor.Event) {
		ctx := context.Background()
		if err := c.store.AppendEvent(ctx, runID, evt.Role, evt.Type, evt.Data); err != nil {
			c.log.Warn("persist event failed", zap.Error(err))
		}

		payload := map[string]any{
			"role":      evt.Role,
			"type":      evt.Type,
			"data":      evt.Data,
			"timestamp": evt.Timestamp.UTC().Format(time.RFC3339Nano),
			"run_id":    runID,
		}
		c.bus.Publish(sessionID, payload)

		if evt.Type == "agent_message" {
			if text, ok := evt.Data["text"].(string); ok && text != "" {
				_ = c.store.SaveMessage(ctx, sessionID, "agent", text)
			}
		}
	}
}
