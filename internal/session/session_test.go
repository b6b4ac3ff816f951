package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/eventbus"
	"github.com/fluxforge/agentcore/internal/githost"
	"github.com/fluxforge/agentcore/internal/sandbox"
	"github.com/fluxforge/agentcore/internal/store"
)

type fakeProvider struct {
	commands []string
}

func (f *fakeProvider) Create(ctx context.Context, repoURL, token string) (*sandbox.Sandbox, error) {
	return &sandbox.Sandbox{ID: "sb-1", Workspace: "/workspace/repo", Env: map[string]string{}}, nil
}

func (f *fakeProvider) RunCommand(ctx context.Context, sb *sandbox.Sandbox, cmd string, timeout time.Duration) (sandbox.CommandResult, error) {
	f.commands = append(f.commands, cmd)
	if cmd == "git diff HEAD" {
		return sandbox.CommandResult{ExitCode: 0, Stdout: "diff --git a/x b/x\n"}, nil
	}
	return sandbox.CommandResult{ExitCode: 0}, nil
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

type fakeGitHost struct{}

func (fakeGitHost) CreatePR(ctx context.Context, repoFullName, title, body, head, base string) (*githost.PullRequest, error) {
	return &githost.PullRequest{URL: "https://github.com/acme/widgets/pull/1", Number: 1, State: "open"}, nil
}
func (fakeGitHost) PostReviewComment(ctx context.Context, repoFullName string, number int, body string) error {
	return nil
}
func (fakeGitHost) MergePR(ctx context.Context, repoFullName string, number int) (*githost.MergeResult, error) {
	return &githost.MergeResult{Merged: true, SHA: "deadbeef"}, nil
}
func (fakeGitHost) DefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	return "main", nil
}

// scriptedClient replays a fixed, JSON-final response: the orchestrator
// reads nothing and finishes on its first turn with a final JSON summary,
// without calling the complete tool.
type scriptedClient struct{}

func (scriptedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return model.Response{
		Parts: []model.Part{
			model.TextPart{Text: `{"summary":"no changes needed","pr_url":null,"pr_number":null}`},
		},
		StopReason: model.StopEndTurn,
	}, nil
}

func newTestController(t *testing.T) (*Controller, *fakeProvider) {
	t.Helper()
	st, err := store.Open("sqlite", t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := &fakeProvider{}
	c := New(Config{
		Store:           st,
		Bus:             eventbus.New(),
		SandboxProvider: provider,
		DecisionMaker:   scriptedClient{},
		GitHost:         fakeGitHost{},
		ModelID:         "claude-sonnet-4-20250514",
		MaxTokens:       1024,
		GitHubToken:     "test-token",
		AnthropicAPIKey: "test-key",
		ArtifactsDir:    t.TempDir(),
	})
	return c, provider
}

func waitForStatus(t *testing.T, st *store.Store, sessionID string, want store.Status) *store.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := st.GetSession(context.Background(), sessionID)
		require.NoError(t, err)
		if sess.Status == want {
			return sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s", sessionID, want)
	return nil
}

func TestController_StartSession_CompletesAndPersistsDiff(t *testing.T) {
	c, provider := newTestController(t)

	sessionID, err := c.StartSession("https://github.com/acme/widgets", "explain the auth module")
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	waitForStatus(t, c.store, sessionID, store.StatusCompleted)

	runs, err := c.store.GetLatestRun(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, runs.Status)

	artifacts, err := c.store.ListArtifacts(context.Background(), runs.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, store.ArtifactDiff, artifacts[0].Kind)

	assert.Contains(t, provider.commands, "git diff HEAD")

	_, active := c.GetActiveOrchestrator(sessionID)
	assert.True(t, active, "completed run should stay registered for follow-ups")
}

func TestController_InterruptSession_NoActiveRun(t *testing.T) {
	c, _ := newTestController(t)
	assert.False(t, c.InterruptSession(context.Background(), "nonexistent"))
}
