// Package verifier builds the sub-agent the orchestrator spawns to run
// install/test commands and, when the change touches a UI, capture
// screenshots to confirm behavior against the user's stated intent.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fluxforge/agentcore/internal/agent/executor"
	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/common/logger"
	"github.com/fluxforge/agentcore/internal/sandbox"
	"github.com/fluxforge/agentcore/internal/tools"
)

const maxIterations = 10

const runCommandTimeout = 120 * time.Second

const (
	stdoutPreviewLimit = 50_000
	stderrPreviewLimit = 10_000
)

// ArtifactSaver persists a named artifact (here, always a screenshot PNG)
// and returns a storage reference.
type ArtifactSaver func(ctx context.Context, name, kind string, data []byte, metadata map[string]any) (string, error)

// Config configures one verifier run.
type Config struct {
	SandboxProvider  sandbox.Provider
	Sandbox          *sandbox.Sandbox
	InstallCommand   string
	TestCommand      string
	VerificationGoal string
	DecisionMaker    model.Client
	ModelID          string
	MaxTokens        int
	Logger           *logger.Logger
	SaveArtifact     ArtifactSaver
}

// New builds the verifier Executor for one verification pass.
func New(cfg Config) (*executor.Executor, error) {
	runCommand := tools.Def{
		Name:        "run_command",
		Description: "Run a verification command (install, test, build, lint).",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("command", mcp.Required()),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Command string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			if isForbiddenCommand(args.Command) {
				return tools.JSONResult(map[string]any{
					"exit_code": 2,
					"stdout":    "",
					"stderr":    forbiddenCommandMessage,
				}), nil
			}
			result, err := cfg.SandboxProvider.RunCommand(ctx, cfg.Sandbox, args.Command, runCommandTimeout)
			if err != nil {
				return tools.Result{}, err
			}
			return tools.JSONResult(map[string]any{
				"exit_code": result.ExitCode,
				"stdout":    truncate(result.Stdout, stdoutPreviewLimit),
				"stderr":    truncate(result.Stderr, stderrPreviewLimit),
			}), nil
		},
	}

	takeScreenshotTool := tools.Def{
		Name:        "take_screenshot",
		Description: "Take a screenshot of a URL to visually verify UI changes.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("url", mcp.Required(), mcp.Description("e.g., http://localhost:5173")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ URL string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			var onArtifact func(name string, data []byte, metadata map[string]any)
			if cfg.SaveArtifact != nil {
				onArtifact = func(name string, data []byte, metadata map[string]any) {
					_, _ = cfg.SaveArtifact(ctx, name, "screenshot", data, metadata)
				}
			}
			return takeScreenshot(ctx, args.URL, onArtifact)
		},
	}

	registry, err := tools.NewRegistry(runCommand, takeScreenshotTool)
	if err != nil {
		return nil, err
	}

	return executor.New(executor.Config{
		Role:          "verifier",
		SystemPrompt:  systemPrompt(cfg.InstallCommand, cfg.TestCommand, cfg.VerificationGoal),
		Tools:         registry,
		Model:         cfg.DecisionMaker,
		MaxIterations: maxIterations,
		MaxTokens:     cfg.MaxTokens,
		ModelID:       cfg.ModelID,
		Logger:        cfg.Logger,
	}), nil
}

func systemPrompt(installCommand, testCommand, verificationGoal string) string {
	cmdText := ""
	if installCommand != "" {
		cmdText += fmt.Sprintf("- Install: %s\n", installCommand)
	}
	if testCommand != "" {
		cmdText += fmt.Sprintf("- Test: %s\n", testCommand)
	}
	if cmdText == "" {
		cmdText = "No specific commands provided. Try common ones (npm test, pytest, make test).\n"
	}

	goalText := verificationGoal
	if goalText == "" {
		goalText = "No explicit user visual intent provided. Validate behavior from task context."
	}

	return fmt.Sprintf(`You are a Verifier agent. Run commands to check that code changes work.

Commands to run:
%s
User's intended outcome to verify against:
%s

Steps:
1. Establish install commands deterministically from repository manifests unless an install command is explicitly provided.
    - Use lockfiles/manifests in priority order: pnpm-lock.yaml -> pnpm install --frozen-lockfile; yarn.lock -> yarn install --frozen-lockfile; package-lock.json -> npm ci; package.json -> npm install; requirements.txt -> pip install -r requirements.txt; pyproject.toml -> pip install -e .
    - Handle repo subdirectories (frontend/, backend/) when manifests are there.
2. Run the install command(s).
3. Run the test command if specified, else infer from manifests (npm test, pytest, etc.) and execute.
4. Proactively determine if browser verification is needed. If frontend indicators exist (e.g., frontend/, package.json, vite.config, next.config, src/ UI code, HTML/CSS/TSX changes), you MUST run browser verification without waiting for additional user instruction.
5. For browser verification, start the app server in background, wait for readiness, and capture screenshots using take_screenshot for sensible default routes (/, and any obvious route in code).
6. Try common local ports if needed (5173, 3000, 8080) and continue on failure with clear evidence.
7. Compare screenshots against the user's intended outcome and explicitly state whether the visual result matches, partially matches, or does not match.
8. Report pass/fail with evidence.

Rules:
- Do NOT run any git/github commands (no add/commit/push/branch/pr).
- Do NOT modify product files. Only run verification commands and capture evidence.
- Keep verification generic across repos; do not assume specific frameworks unless command output confirms it.
- If browser verification is applicable, do not skip it just because the user did not explicitly request screenshots.
- Do NOT install arbitrary new packages unless required by repository manifests or required to run the repository's own declared commands.

Output valid JSON:
{
  "passed": true/false,
  "test_summary": "brief summary of test results or visual verification",
  "failure_reason": null or "why it failed"
}`, cmdText, goalText)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
