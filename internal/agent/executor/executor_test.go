package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/tools"
)

// scriptedClient replays a fixed sequence of responses, one per Complete
// call, mirroring how the decision-maker is driven turn by turn.
type scriptedClient struct {
	responses []model.Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if c.calls >= len(c.responses) {
		return model.Response{}, assert.AnError
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func echoTool(calls *[]string) tools.Def {
	return tools.Def{
		Name:        "read_file",
		Description: "reads a file",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			*calls = append(*calls, string(input))
			return tools.TextResult("file contents"), nil
		},
	}
}

func TestExecutor_Run_CompletesOnFinalJSON(t *testing.T) {
	client := &scriptedClient{
		responses: []model.Response{
			{Parts: []model.Part{model.TextPart{Text: "```json\n{\"summary\":\"done\"}\n```"}}, StopReason: model.StopEndTurn},
		},
	}
	reg, err := tools.NewRegistry()
	require.NoError(t, err)

	e := New(Config{Role: "implementer", Tools: reg, Model: client, MaxIterations: 5, MaxTokens: 1024})

	var events []Event
	e.OnEvent(func(evt Event) { events = append(events, evt) })

	result, err := e.Run(context.Background(), map[string]any{"task": "do it"})
	require.NoError(t, err)
	assert.Equal(t, "done", result["summary"])
	assert.True(t, e.Done())

	var sawCompleted bool
	for _, evt := range events {
		if evt.Type == "status_change" && evt.Data["status"] == "implementer_completed" {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)
}

func TestExecutor_Run_DispatchesToolThenCompletes(t *testing.T) {
	var toolCalls []string
	reg, err := tools.NewRegistry(echoTool(&toolCalls))
	require.NoError(t, err)

	client := &scriptedClient{
		responses: []model.Response{
			{
				Parts: []model.Part{
					model.TextPart{Text: "let me check"},
					model.ToolUsePart{ID: "t1", Name: "read_file", Input: []byte(`{"path":"a.go"}`)},
				},
				StopReason: model.StopToolUse,
			},
			{Parts: []model.Part{model.TextPart{Text: `{"summary":"read a.go"}`}}, StopReason: model.StopEndTurn},
		},
	}

	e := New(Config{Role: "orchestrator", Tools: reg, Model: client, MaxIterations: 5, MaxTokens: 1024})

	var events []Event
	e.OnEvent(func(evt Event) { events = append(events, evt) })

	result, err := e.Run(context.Background(), map[string]any{"prompt": "read a.go"})
	require.NoError(t, err)
	assert.Equal(t, "read a.go", result["summary"])
	assert.Equal(t, []string{`{"path":"a.go"}`}, toolCalls)

	var callID, resultID string
	for _, evt := range events {
		switch evt.Type {
		case "tool_call":
			callID, _ = evt.Data["id"].(string)
		case "tool_result":
			resultID, _ = evt.Data["id"].(string)
		}
	}
	assert.Equal(t, "t1", callID)
	assert.Equal(t, "t1", resultID)
	assert.Equal(t, callID, resultID)
}

func TestExecutor_Run_MaxIterationsReached(t *testing.T) {
	client := &scriptedClient{
		responses: []model.Response{
			{Parts: []model.Part{model.ToolUsePart{ID: "t1", Name: "read_file", Input: []byte(`{}`)}}, StopReason: model.StopToolUse},
			{Parts: []model.Part{model.ToolUsePart{ID: "t2", Name: "read_file", Input: []byte(`{}`)}}, StopReason: model.StopToolUse},
		},
	}
	var toolCalls []string
	reg, err := tools.NewRegistry(echoTool(&toolCalls))
	require.NoError(t, err)

	e := New(Config{Role: "implementer", Tools: reg, Model: client, MaxIterations: 2, MaxTokens: 1024})
	result, err := e.Run(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "max_iterations_reached", result["error"])
	assert.False(t, e.Done())
}

func TestExecutor_Interrupt_StopsBeforeNextCall(t *testing.T) {
	client := &scriptedClient{
		responses: []model.Response{
			{Parts: []model.Part{model.ToolUsePart{ID: "t1", Name: "read_file", Input: []byte(`{}`)}}, StopReason: model.StopToolUse},
		},
	}
	var toolCalls []string
	reg, err := tools.NewRegistry(echoTool(&toolCalls))
	require.NoError(t, err)

	e := New(Config{Role: "orchestrator", Tools: reg, Model: client, MaxIterations: 5, MaxTokens: 1024})
	e.Interrupt()

	result, err := e.Run(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "interrupted", result["status"])
	assert.Empty(t, toolCalls)
}

func TestExecutor_Run_EmitsStartedStatusChange(t *testing.T) {
	client := &scriptedClient{
		responses: []model.Response{
			{Parts: []model.Part{model.TextPart{Text: `{"summary":"done"}`}}, StopReason: model.StopEndTurn},
		},
	}
	reg, err := tools.NewRegistry()
	require.NoError(t, err)

	e := New(Config{Role: "verifier", Tools: reg, Model: client, MaxIterations: 5, MaxTokens: 1024})
	var events []Event
	e.OnEvent(func(evt Event) { events = append(events, evt) })

	_, err = e.Run(context.Background(), map[string]any{})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, "status_change", events[0].Type)
	assert.Equal(t, "verifier_started", events[0].Data["status"])
}

func TestExecutor_Resume_EmitsResumedStatusChange(t *testing.T) {
	client := &scriptedClient{
		responses: []model.Response{
			{Parts: []model.Part{model.TextPart{Text: `{"summary":"first"}`}}, StopReason: model.StopEndTurn},
			{Parts: []model.Part{model.TextPart{Text: `{"summary":"second"}`}}, StopReason: model.StopEndTurn},
		},
	}
	reg, err := tools.NewRegistry()
	require.NoError(t, err)

	e := New(Config{Role: "orchestrator", Tools: reg, Model: client, MaxIterations: 5, MaxTokens: 1024})
	_, err = e.Run(context.Background(), map[string]any{})
	require.NoError(t, err)

	var events []Event
	e.OnEvent(func(evt Event) { events = append(events, evt) })

	_, err = e.Resume(context.Background(), "keep going")
	require.NoError(t, err)

	var sawResumed, sawCompleted bool
	for _, evt := range events {
		if evt.Type != "status_change" {
			continue
		}
		switch evt.Data["status"] {
		case "orchestrator_resumed":
			sawResumed = true
		case "orchestrator_completed":
			sawCompleted = true
		}
	}
	assert.True(t, sawResumed)
	assert.True(t, sawCompleted)
}

func TestExecutor_MarkDone(t *testing.T) {
	reg, err := tools.NewRegistry()
	require.NoError(t, err)
	e := New(Config{Role: "orchestrator", Tools: reg, Model: &scriptedClient{}, MaxIterations: 5})
	msg := e.MarkDone(map[string]any{"pr_url": "https://example.com/pr/1"})
	assert.Equal(t, "Session complete.", msg)
	assert.True(t, e.Done())
	assert.Equal(t, "https://example.com/pr/1", e.Result()["pr_url"])
}

func TestExecutor_ToolError_EmitsIsErrorResult(t *testing.T) {
	reg, err := tools.NewRegistry(tools.Def{
		Name: "run_command",
		Handler: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			return tools.Result{}, assert.AnError
		},
	})
	require.NoError(t, err)

	client := &scriptedClient{
		responses: []model.Response{
			{Parts: []model.Part{model.ToolUsePart{ID: "t1", Name: "run_command", Input: []byte(`{}`)}}, StopReason: model.StopToolUse},
			{Parts: []model.Part{model.TextPart{Text: `{"summary":"handled error"}`}}, StopReason: model.StopEndTurn},
		},
	}

	e := New(Config{Role: "implementer", Tools: reg, Model: client, MaxIterations: 5, MaxTokens: 1024})

	var sawErrorResult bool
	e.OnEvent(func(evt Event) {
		if evt.Type == "tool_result" {
			sawErrorResult = true
		}
	})

	result, err := e.Run(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "handled error", result["summary"])
	assert.True(t, sawErrorResult)

	require.Len(t, e.messages, 4)
	toolResult, ok := e.messages[2].Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	assert.True(t, toolResult.IsError)
}

func TestParseFinalOutput_FallsBackToSummary(t *testing.T) {
	m := parseFinalOutput("just plain prose, no json here")
	assert.Equal(t, "just plain prose, no json here", m["summary"])
}

func TestParseFinalOutput_RawJSON(t *testing.T) {
	m := parseFinalOutput(`{"passed": true, "test_summary": "ok"}`)
	assert.Equal(t, true, m["passed"])
}
