// Package implementer builds the sub-agent the orchestrator spawns to make
// file-level code changes: it has write access the orchestrator itself
// does not expose.
package implementer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fluxforge/agentcore/internal/agent/executor"
	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/common/logger"
	"github.com/fluxforge/agentcore/internal/sandbox"
	"github.com/fluxforge/agentcore/internal/tools"
)

const maxIterations = 40

const runCommandTimeout = 60 * time.Second

const (
	stdoutPreviewLimit = 50_000
	stderrPreviewLimit = 10_000
)

// Config configures one implementer run.
type Config struct {
	SandboxProvider sandbox.Provider
	Sandbox         *sandbox.Sandbox
	Task            string
	Context         string
	DecisionMaker   model.Client
	ModelID         string
	MaxTokens       int
	Logger          *logger.Logger
}

// New builds the implementer Executor for one task.
func New(cfg Config) (*executor.Executor, error) {
	readFile := tools.Def{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative file path")),
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

	writeFile := tools.Def{
		Name:        "write_file",
		Description: "Write/overwrite a file in the workspace.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative file path")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Full file content to write")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Path, Content string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			if err := cfg.SandboxProvider.WriteFile(ctx, cfg.Sandbox, args.Path, args.Content); err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(fmt.Sprintf("Wrote %d chars to %s", len(args.Content), args.Path)), nil
		},
	}

	createFile := tools.Def{
		Name:        "create_file",
		Description: "Create a new file. Parent directories created automatically.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative file path")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Full file content to write")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Path, Content string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			if err := cfg.SandboxProvider.WriteFile(ctx, cfg.Sandbox, args.Path, args.Content); err != nil {
				return tools.Result{}, err
			}
			return tools.TextResult(fmt.Sprintf("Created %s (%d chars)", args.Path, len(args.Content))), nil
		},
	}

	deleteFile := tools.Def{
		Name:        "delete_file",
		Description: "Delete a file from the workspace.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative file path")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Path string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
			}
			resolved, err := sandbox.ResolveWorkspacePath(cfg.Sandbox.Workspace, args.Path)
			if err != nil {
				return tools.Result{}, err
			}
			result, err := cfg.SandboxProvider.RunCommand(ctx, cfg.Sandbox, "rm -f -- "+shellQuote(resolved), 10*time.Second)
			if err != nil {
				return tools.Result{}, err
			}
			if result.ExitCode != 0 {
				return tools.TextResult(fmt.Sprintf("%s not found", args.Path)), nil
			}
			return tools.TextResult(fmt.Sprintf("Deleted %s", args.Path)), nil
		},
	}

	runCommand := tools.Def{
		Name:        "run_command",
		Description: "Run a shell command in the workspace.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to execute")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			var args struct{ Command string }
			if err := json.Unmarshal(input, &args); err != nil {
				return tools.Result{}, err
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

	listDirectory := tools.Def{
		Name:        "list_directory",
		Description: "List files in a directory.",
		InputSchema: tools.ObjectSchema(
			mcp.WithString("path", mcp.Description("Directory to list, relative to the workspace root"), mcp.DefaultString(".")),
		),
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			path := "."
			var args struct{ Path string }
			if len(input) > 0 {
				_ = json.Unmarshal(input, &args)
			}
			if args.Path != "" {
				path = args.Path
			}
			entries, err := cfg.SandboxProvider.ListDir(ctx, cfg.Sandbox, path)
			if err != nil {
				return tools.TextResult(err.Error()), nil
			}
			return tools.TextResult(joinLines(entries)), nil
		},
	}

	registry, err := tools.NewRegistry(readFile, writeFile, createFile, deleteFile, runCommand, listDirectory)
	if err != nil {
		return nil, err
	}

	return executor.New(executor.Config{
		Role:          "implementer",
		SystemPrompt:  systemPrompt(cfg.Task, cfg.Context),
		Tools:         registry,
		Model:         cfg.DecisionMaker,
		MaxIterations: maxIterations,
		MaxTokens:     cfg.MaxTokens,
		ModelID:       cfg.ModelID,
		Logger:        cfg.Logger,
	}), nil
}

func systemPrompt(task, context string) string {
	return fmt.Sprintf(`You are an Implementer agent. You make code changes in a repository workspace.

Task from orchestrator:
%s

Context (files already read by orchestrator):
%s

Your job:
1. Read any additional files you need (the orchestrator already read some for you).
2. Write/create/modify files to accomplish the task.
3. Run commands to verify your changes compile/pass basic checks.

When done, output valid JSON:
{
  "changed_files": ["list of modified files"],
  "created_files": ["list of new files"],
  "deleted_files": ["list of deleted files"],
  "summary": "what was changed and why"
}

Write clean, production code. Handle edge cases.`, task, context)
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

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
