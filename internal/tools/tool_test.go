package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Def {
	return Def{
		Name:        "echo",
		Description: "echoes its input",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, input json.RawMessage) (Result, error) {
			return TextResult(string(input)), nil
		},
	}
}

func TestRegistry_DispatchKnownTool(t *testing.T) {
	reg, err := NewRegistry(echoTool())
	require.NoError(t, err)

	result, err := reg.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, KindText, result.Kind)
	assert.JSONEq(t, `{"x":1}`, result.Text)
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	reg, err := NewRegistry(echoTool())
	require.NoError(t, err)

	_, err = reg.Dispatch(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestNewRegistry_RejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(echoTool(), echoTool())
	assert.Error(t, err)
}

func TestRegistry_AllPreservesOrder(t *testing.T) {
	reg, err := NewRegistry(
		Def{Name: "a", Handler: func(context.Context, json.RawMessage) (Result, error) { return Result{}, nil }},
		Def{Name: "b", Handler: func(context.Context, json.RawMessage) (Result, error) { return Result{}, nil }},
	)
	require.NoError(t, err)

	names := make([]string, 0, 2)
	for _, d := range reg.All() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}
