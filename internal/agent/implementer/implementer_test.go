package implementer

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
	files    map[string]string
	commands []string
}

func (f *fakeProvider) Create(ctx context.Context, repoURL, token string) (*sandbox.Sandbox, error) {
	return nil, nil
}

func (f *fakeProvider) RunCommand(ctx context.Context, sb *sandbox.Sandbox, cmd string, timeout time.Duration) (sandbox.CommandResult, error) {
	f.commands = append(f.commands, cmd)
	return sandbox.CommandResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (f *fakeProvider) ReadFile(ctx context.Context, sb *sandbox.Sandbox, path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", assert.AnError
	}
	return content, nil
}

func (f *fakeProvider) WriteFile(ctx context.Context, sb *sandbox.Sandbox, path, content string) error {
	if f.files == nil {
		f.files = map[string]string{}
	}
	f.files[path] = content
	return nil
}

func (f *fakeProvider) ListDir(ctx context.Context, sb *sandbox.Sandbox, path string) ([]string, error) {
	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}
	return names, nil
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

func TestImplementer_New_WritesFileThenCompletes(t *testing.T) {
	provider := &fakeProvider{}
	sb := &sandbox.Sandbox{Workspace: "/workspace/repo"}

	client := &scriptedClient{
		responses: []model.Response{
			{
				Parts: []model.Part{
					model.ToolUsePart{ID: "t1", Name: "write_file", Input: []byte(`{"path":"main.go","content":"package main"}`)},
				},
				StopReason: model.StopToolUse,
			},
			{
				Parts: []model.Part{model.TextPart{Text: `{"changed_files":[],"created_files":["main.go"],"deleted_files":[],"summary":"added main.go"}`}},
				StopReason: model.StopEndTurn,
			},
		},
	}

	exec, err := New(Config{
		SandboxProvider: provider,
		Sandbox:         sb,
		Task:            "add a main.go",
		DecisionMaker:   client,
		ModelID:         "claude-sonnet-4-20250514",
		MaxTokens:       1024,
	})
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), map[string]any{"task": "add a main.go"})
	require.NoError(t, err)
	assert.Equal(t, "added main.go", result["summary"])
	assert.Equal(t, "package main", provider.files["main.go"])
}

func TestImplementer_DeleteFile_RejectsPathEscape(t *testing.T) {
	provider := &fakeProvider{}
	sb := &sandbox.Sandbox{Workspace: "/workspace/repo"}

	client := &scriptedClient{
		responses: []model.Response{
			{
				Parts: []model.Part{
					model.ToolUsePart{ID: "t1", Name: "delete_file", Input: []byte(`{"path":"../../etc/passwd"}`)},
				},
				StopReason: model.StopToolUse,
			},
			{
				Parts: []model.Part{model.TextPart{Text: `{"changed_files":[],"created_files":[],"deleted_files":[],"summary":"blocked"}`}},
				StopReason: model.StopEndTurn,
			},
		},
	}

	exec, err := New(Config{
		SandboxProvider: provider,
		Sandbox:         sb,
		Task:            "delete a file outside the workspace",
		DecisionMaker:   client,
		ModelID:         "claude-sonnet-4-20250514",
		MaxTokens:       1024,
	})
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), map[string]any{"task": "delete a file outside the workspace"})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Empty(t, provider.commands, "delete_file must reject the escaping path before issuing rm")
}
