// Package orchestrator builds the top-level agent: the one the session
// controller drives directly. It owns the sandbox for the run's lifetime,
// exposes direct exploration and GitHub tools, and spawns implementer and
// verifier sub-agents for the heavier lifting.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fluxforge/agentcore/internal/agent/executor"
	"github.com/fluxforge/agentcore/internal/agent/implementer"
	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/agent/verifier"
	"github.com/fluxforge/agentcore/internal/common/logger"
	"github.com/fluxforge/agentcore/internal/githost"
	"github.com/fluxforge/agentcore/internal/sandbox"
	"github.com/fluxforge/agentcore/internal/tools"
)

const maxIterations = 60

// runCommandTimeoutSeconds bounds the orchestrator's own read-only shell
// exploration; heavier install/test work happens inside the verifier, which
// has a longer budget.
const runCommandTimeoutSeconds = 60

const (
	stdoutPreviewLimit = 50_000
	stderrPreviewLimit = 10_000
)

const secondsUnit = time.Second

// ArtifactSaver persists a named artifact produced mid-run (e.g. a
// verifier's screenshot) and returns a storage reference.
type ArtifactSaver func(ctx context.Context, name, kind string, data []byte, metadata map[string]any) (string, error)

// Config is everything New needs to assemble the orchestrator's tool set
// and system prompt for one run.
type Config struct {
	SandboxProvider sandbox.Provider
	Sandbox         *sandbox.Sandbox
	RepoURL         string
	GitHubToken     string
	GitHost         githost.Client
	DecisionMaker   model.Client
	ModelID         string
	MaxTokens       int
	Logger          *logger.Logger
	SaveArtifact    ArtifactSaver

	// EventHandler receives every event emitted by the orchestrator and any
	// sub-agent it spawns, the session controller's hook onto the run's
	// event stream.
	EventHandler executor.EventHandler
}

// New builds the orchestrator Executor, wired with its full tool set and
// system prompt for repo-scoped autonomous work.
func New(cfg Config) (*executor.Executor, error) {
	repoFullName, err := githost.ExtractRepoFullName(cfg.RepoURL)
	if err != nil {
		return nil, err
	}

	readFile := tools.Def{
		Name:        "read_file",
		Description: "Read a file from the repository. Use relative paths from repo root.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("path", mcp.Required(), mcp.Description("Relative file path")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Path string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			content, err := cfg.SandboxProvider.ReadFile(ctx, cfg.Sandbox, args.Path)
			if err != nil {
				return tools.TextResult(err.Error()), nil
			}
			return tools.TextResult(content), nil
		},
	}

	listDirectory := tools.Def{
		Name:        "list_directory",
		Description: "List files and subdirectories. Use '.' for root.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("path", mcp.Description("Directory to list, relative to the workspace root"), mcp.DefaultString(".")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			path := unmarshalOptionalPath(input, ".")
			entries, err := cfg.SandboxProvider.ListDir(ctx, cfg.Sandbox, path)
			if err != nil {
				return tools.TextResult(err.Error()), nil
			}
			return tools.TextResult(joinLines(entries)), nil
		},
	}

	runCommand := tools.Def{
		Name:        "run_command",
		Description: "Run a shell command in the repository workspace (read-only exploration, grep, find, etc.).",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to execute")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Command string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			result, err := cfg.SandboxProvider.RunCommand(ctx, cfg.Sandbox, args.Command, runCommandTimeoutSeconds*secondsUnit)
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

	createBranch := tools.Def{
		Name:        "create_branch",
		Description: "Create and checkout a new git branch.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("branch_name", mcp.Required()),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct {
				BranchName string `json:"branch_name"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			result, err := cfg.SandboxProvider.RunCommand(ctx, cfg.Sandbox, "git checkout -b "+args.BranchName, 30*secondsUnit)
			if err != nil {
				return tools.Result{}, err
			}
			if result.ExitCode != 0 {
				return tools.Result{}, fmt.Errorf("git checkout -b failed: %s", result.Stderr)
			}
			return tools.JSONResult(map[string]any{"branch_name": args.BranchName, "status": "created"}), nil
		},
	}

	commitAndPush := tools.Def{
		Name:        "commit_and_push",
		Description: "Stage all changes, commit, and push to remote.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("message", mcp.Required(), mcp.Description("Commit message")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Message string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			return commitAndPushHandler(ctx, cfg.SandboxProvider, cfg.Sandbox, args.Message)
		},
	}

	createPR := tools.Def{
		Name:        "create_pr",
		Description: "Create a GitHub pull request.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("title", mcp.Required()),
			mcp.WithString("body", mcp.Required(), mcp.Description("PR body with description of changes")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Title, Body string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			return createPRHandler(ctx, cfg.SandboxProvider, cfg.Sandbox, cfg.GitHost, repoFullName, args.Title, args.Body)
		},
	}

	var agentExecutor *executor.Executor

	runImplementer := tools.Def{
		Name:        "run_implementer",
		Description: "Spawn an implementer sub-agent to make code changes. Pass a clear task description and any relevant file contents you've already read as context.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("task", mcp.Required(), mcp.Description("Detailed task description for the implementer")),
			mcp.WithString("context", mcp.Description("File contents or other context the implementer needs"), mcp.DefaultString("")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Task, Context string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			impl, err := implementer.New(implementer.Config{
				SandboxProvider: cfg.SandboxProvider,
				Sandbox:         cfg.Sandbox,
				Task:            args.Task,
				Context:         args.Context,
				DecisionMaker:   cfg.DecisionMaker,
				ModelID:         cfg.ModelID,
				MaxTokens:       cfg.MaxTokens,
				Logger:          cfg.Logger,
			})
			if err != nil {
				return tools.Result{}, err
			}
			if cfg.EventHandler != nil {
				impl.OnEvent(cfg.EventHandler)
			}
			result, err := impl.Run(ctx, map[string]any{"task": args.Task})
			if err != nil {
				return tools.Result{}, err
			}
			return tools.JSONResult(result), nil
		},
	}

	runVerifier := tools.Def{
		Name:        "run_verifier",
		Description: "Spawn a verifier sub-agent to test changes and visual behavior against user intent.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("install_command", mcp.Description("Command to install dependencies (e.g. 'npm install')")),
			mcp.WithString("test_command", mcp.Description("Command to run tests (e.g. 'pytest')")),
			mcp.WithString("verification_goal", mcp.Description("What the final behavior/UI should look like from the user's perspective")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct {
				InstallCommand   string `json:"install_command"`
				TestCommand      string `json:"test_command"`
				VerificationGoal string `json:"verification_goal"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			ver, err := verifier.New(verifier.Config{
				SandboxProvider:  cfg.SandboxProvider,
				Sandbox:          cfg.Sandbox,
				InstallCommand:   args.InstallCommand,
				TestCommand:      args.TestCommand,
				VerificationGoal: args.VerificationGoal,
				DecisionMaker:    cfg.DecisionMaker,
				ModelID:          cfg.ModelID,
				MaxTokens:        cfg.MaxTokens,
				Logger:           cfg.Logger,
				SaveArtifact:     verifier.ArtifactSaver(cfg.SaveArtifact),
			})
			if err != nil {
				return tools.Result{}, err
			}
			if cfg.EventHandler != nil {
				ver.OnEvent(cfg.EventHandler)
			}
			result, err := ver.Run(ctx, map[string]any{
				"install_command":   args.InstallCommand,
				"test_command":      args.TestCommand,
				"verification_goal": args.VerificationGoal,
			})
			if err != nil {
				return tools.Result{}, err
			}
			return tools.JSONResult(result), nil
		},
	}

	complete := tools.Def{
		Name:        "complete",
		Description: "Signal that you are done. Call this when you have finished the entire task. Include a summary and any relevant output.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("summary", mcp.Required(), mcp.Description("Summary of what was accomplished")),
			mcp.WithString("pr_url", mcp.Description("PR URL if one was created")),
			mcp.WithNumber("pr_number", mcp.Description("PR number if one was created")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var kwargs map[string]any
			if err := json.Unmarshal(input, &kwargs); err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(agentExecutor.MarkDone(kwargs)), nil
		},
	}

	registry, err := tools.NewRegistry(
		readFile, listDirectory, runCommand,
		runImplementer, runVerifier,
		createBranch, commitAndPush, createPR,
		complete,
	)
	if err != nil {
		return nil, err
	}

	agentExecutor = executor.New(executor.Config{
		Role:          "orchestrator",
		SystemPrompt:  systemPrompt(cfg.RepoURL),
		Tools:         registry,
		Model:         cfg.DecisionMaker,
		MaxIterations: maxIterations,
		MaxTokens:     cfg.MaxTokens,
		ModelID:       cfg.ModelID,
		Logger:        cfg.Logger,
	})
	if cfg.EventHandler != nil {
		agentExecutor.OnEvent(cfg.EventHandler)
	}
	return agentExecutor, nil
}

func systemPrompt(repoURL string) string {
	return fmt.Sprintf(`You are an autonomous coding agent that works on GitHub repositories.

Repository: %s
The repo is cloned into your workspace. Use relative paths.

You have two types of capabilities:

**Direct tools** — you execute these yourself:
- read_file, list_directory, run_command: explore the codebase
- create_branch, commit_and_push, create_pr: push changes to GitHub
- complete: signal you're done

**Agent tools** — these spawn specialized sub-agents:
- run_implementer: spawns an agent with file write access to implement changes. Pass it a clear task + any file contents you've already read as context.
- run_verifier: spawns an agent to run install/test commands and report pass/fail.

## Workflow

Decide your workflow based on the user's request:

**For code changes** (add feature, fix bug, refactor):
1. Read relevant files to understand the codebase
2. Call run_implementer with a specific task + context
3. Call run_verifier with test commands; include verification_goal when UI/UX behavior is involved
4. Create a branch, commit, push, and create a PR
    - PR body MUST include a Visual Verification section.
    - If screenshots exist from verification, include screenshot evidence in the PR body using markdown image links to repo paths when available.
5. Call complete

**For read-only tasks** (explain, analyze, review):
1. Read relevant files
2. Call complete with your analysis as the summary

**For questions about the repo**:
1. Read what you need
2. Call complete with your answer

## Rules
- Do NOT call run_implementer for read-only tasks
- Do NOT create PRs if no files were changed
- For code changes with file edits, always perform git/GitHub flow (create_branch -> commit_and_push -> create_pr)
- PR descriptions for UI/front-end changes must contain visual verification evidence (routes checked, screenshot details, and image links when available)
- When calling run_implementer, pass the file contents you've already read as context so it doesn't re-read them
- Be efficient — don't read files you don't need
- ALWAYS use the native tools (create_branch, commit_and_push, create_pr) for git operations. Do NOT use run_command to execute git or curl against the GitHub API. This is strictly forbidden.
- Always call complete when done`, repoURL)
}

func unmarshalOptionalPath(input json.RawMessage, fallback string) string {
	var args struct{ Path string }
	if len(input) > 0 {
		_ = json.Unmarshal(input, &args)
	}
	if args.Path == "" {
		return fallback
	}
	return args.Path
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
