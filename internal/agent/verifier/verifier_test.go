package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/sandbox"
)

type fakeProvider struct {
	lastCommand string
}

func (f *fakeProvider) Create(ctx context.Context, repoURL, token string) (*sandbox.Sandbox, error) {
	return nil, nil
}

func (f *fakeProvider) RunCommand(ctx context.Context, sb *sandbox.Sandbox, cmd string, timeout time.Duration) (sandbox.CommandResult, error) {
	f.lastCommand = cmd
	return sandbox.CommandResult{ExitCode: 0, Stdout: "all tests passed"}, nil
}

func (f *fakeProvider) ReadFile(ctx context.Context, sb *sandbox.Sandbox, path string) (string, error) {
	return "", nil
}
func (f *fakeProvider) WriteFile(ctx context.Context, sb *sandbox.Sandbox, path, content string) error {
	return nil
}
func (f *fakeProvider) ListDir(ctx context.Context, sb *sandbox.Sandbox, path string) ([]string, error) {
	return nil, nil
}
func (f *fakeProvider) Destroy(ctx context.Context, sb *sandbox.Sandbox) error { return nil }

type scriptedClient struct {
	responses []model.Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func TestVerifier_RunCommand_RejectsForbiddenGitCommand(t *testing.T) {
	provider := &fakeProvider{}
	client := &scriptedClient{
		responses: []model.Response{
			{
				Parts:      []model.Part{model.ToolUsePart{ID: "t1", Name: "run_command", Input: []byte(`{"command":"git push"}`)}},
				StopReason: model.StopToolUse,
			},
			{
				Parts:      []model.Part{model.TextPart{Text: `{"passed":false,"test_summary":"blocked","failure_reason":"forbidden command"}`}},
				StopReason: model.StopEndTurn,
			},
		},
	}

	exec, err := New(Config{
		SandboxProvider: provider,
		Sandbox:         &sandbox.Sandbox{Workspace: "/workspace/repo"},
		TestCommand:     "npm test",
		DecisionMaker:   client,
		ModelID:         "claude-sonnet-4-20250514",
		MaxTokens:       1024,
	})
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), map[string]any{"test_command": "npm test"})
	require.NoError(t, err)
	assert.Equal(t, false, result["passed"])
	assert.Empty(t, provider.lastCommand, "forbidden command must never reach the sandbox provider")
}

func TestVerifier_RunCommand_AllowsTestCommand(t *testing.T) {
	provider := &fakeProvider{}
	client := &scriptedClient{
		responses: []model.Response{
			{
				Parts:      []model.Part{model.ToolUsePart{ID: "t1", Name: "run_command", Input: []byte(`{"command":"npm test"}`)}},
				StopReason: model.StopToolUse,
			},
			{
				Parts:      []model.Part{model.TextPart{Text: `{"passed":true,"test_summary":"all tests passed","failure_reason":null}`}},
				StopReason: model.StopEndTurn,
			},
		},
	}

	exec, err := New(Config{
		SandboxProvider: provider,
		Sandbox:         &sandbox.Sandbox{Workspace: "/workspace/repo"},
		TestCommand:     "npm test",
		DecisionMaker:   client,
		ModelID:         "claude-sonnet-4-20250514",
		MaxTokens:       1024,
	})
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), map[string]any{"test_command": "npm test"})
	require.NoError(t, err)
	assert.Equal(t, true, result["passed"])
	assert.Equal(t, "npm test", provider.lastCommand)
}
