// Package executor implements the Agent Executor: the hierarchical
// tool-dispatch loop that drives a decision-maker through repeated rounds
// of "think, call tools, observe results" until the agent voluntarily
// completes, is interrupted, or exhausts its iteration budget.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fluxforge/agentcore/internal/agent/model"
	"github.com/fluxforge/agentcore/internal/common/logger"
	"github.com/fluxforge/agentcore/internal/common/tracing"
	"github.com/fluxforge/agentcore/internal/tools"
)

// resultPreviewLimit truncates a tool result before it is folded back into
// the conversation, bounding how much of a noisy command's output the
// decision-maker has to read on each turn.
const resultPreviewLimit = 5000

// Event is one observable step of the executor loop, emitted to Subscribe
// for forwarding onto the session's event bus.
type Event struct {
	Role      string // the agent's role, e.g. "orchestrator", "implementer", "verifier"
	Type      string // agent_message, tool_call, tool_result, status_change, error
	Data      map[string]any
	Timestamp time.Time
}

// EventHandler receives executor events as they are emitted.
type EventHandler func(Event)

// Config configures an Executor instance.
type Config struct {
	Role          string
	SystemPrompt  string
	Tools         *tools.Registry
	Model         model.Client
	MaxIterations int
	MaxTokens     int
	ModelID       string
	Logger        *logger.Logger
}

// Executor drives one agent's tool-dispatch loop. It is not safe for
// concurrent use by multiple goroutines; the session controller runs each
// agent's loop cooperatively on its own session's turn.
type Executor struct {
	role          string
	systemPrompt  string
	registry      *tools.Registry
	client        model.Client
	maxIterations int
	maxTokens     int
	modelID       string
	log           *logger.Logger

	messages []model.Message
	done     bool
	result   map[string]any

	interrupted atomic.Bool
	handlers    []EventHandler
}

// New constructs an Executor from cfg.
func New(cfg Config) *Executor {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Executor{
		role:          cfg.Role,
		systemPrompt:  cfg.SystemPrompt,
		registry:      cfg.Tools,
		client:        cfg.Model,
		maxIterations: cfg.MaxIterations,
		maxTokens:     cfg.MaxTokens,
		modelID:       cfg.ModelID,
		log:           log.With(zap.String("role", cfg.Role)),
	}
}

// OnEvent registers a handler invoked synchronously for every emitted event.
func (e *Executor) OnEvent(h EventHandler) {
	e.handlers = append(e.handlers, h)
}

// Result returns the final structured output once Run/Resume has completed.
func (e *Executor) Result() map[string]any { return e.result }

// Done reports whether the agent has reached a terminal state.
func (e *Executor) Done() bool { return e.done }

// Interrupt requests that the loop stop as soon as it next checks, both
// before and after any in-flight decision-maker call.
func (e *Executor) Interrupt() {
	e.interrupted.Store(true)
}

// Run seeds the conversation with context (serialized as the first user
// turn, matching the decision-maker's expected entry shape) and drives the
// loop to completion.
func (e *Executor) Run(ctx context.Context, initialContext map[string]any) (map[string]any, error) {
	ctx, span := tracing.Tracer().Start(ctx, "executor.run", trace.WithAttributes(attribute.String("role", e.role)))
	defer span.End()

	payload, err := json.Marshal(initialContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("executor: encode initial context: %w", err)
	}
	e.messages = []model.Message{
		{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: string(payload)}}},
	}
	e.emit("status_change", map[string]any{"status": e.role + "_started"})
	result, err := e.loop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// Resume appends userMessage as a new user turn and re-enters the loop,
// allowing a caller to continue a conversation after the agent previously
// completed (e.g. the orchestrator responding to operator follow-up).
func (e *Executor) Resume(ctx context.Context, userMessage string) (map[string]any, error) {
	ctx, span := tracing.Tracer().Start(ctx, "executor.resume", trace.WithAttributes(attribute.String("role", e.role)))
	defer span.End()

	e.messages = append(e.messages, model.Message{
		Role:  model.RoleUser,
		Parts: []model.Part{model.TextPart{Text: userMessage}},
	})
	e.done = false
	e.interrupted.Store(false)
	e.emit("status_change", map[string]any{"status": e.role + "_resumed", "message": userMessage})
	result, err := e.loop(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// dispatchTool runs one tool call inside its own span so a trace backend
// can show per-call latency alongside the decision-maker round-trip.
func (e *Executor) dispatchTool(ctx context.Context, call model.ToolUsePart) (tools.Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "executor.tool_call", trace.WithAttributes(
		attribute.String("role", e.role),
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	))
	defer span.End()

	result, err := e.registry.Dispatch(ctx, call.Name, call.Input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (e *Executor) loop(ctx context.Context) (map[string]any, error) {
	iterations := 0
	for iterations < e.maxIterations && !e.done {
		if e.interrupted.Load() {
			return e.interruptResult(), nil
		}

		req := model.Request{
			System:    e.systemPrompt,
			Messages:  e.messages,
			Tools:     e.toolSchemas(),
			MaxTokens: e.maxTokens,
			Model:     e.modelID,
		}

		resp, err := e.client.Complete(ctx, req)
		if err != nil {
			e.emit("error", map[string]any{"error": err.Error()})
			return nil, fmt.Errorf("executor: decision-maker call: %w", err)
		}

		if e.interrupted.Load() {
			return e.interruptResult(), nil
		}

		assistantParts := make([]model.Part, 0, len(resp.Parts))
		toolResults := make([]model.Part, 0)
		hasToolUse := false

		for _, part := range resp.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					e.emit("agent_message", map[string]any{"text": v.Text})
				}
				assistantParts = append(assistantParts, v)
			case model.ToolUsePart:
				hasToolUse = true
				assistantParts = append(assistantParts, v)
				e.emit("tool_call", map[string]any{"id": v.ID, "tool": v.Name, "input": json.RawMessage(v.Input)})

				result, err := e.dispatchTool(ctx, v)
				toolResultPart := e.toToolResultPart(v.ID, result, err)
				toolResults = append(toolResults, toolResultPart)
				e.emit("tool_result", map[string]any{"id": v.ID, "tool": v.Name, "result": previewToolResult(toolResultPart)})
			}
		}

		e.messages = append(e.messages, model.Message{Role: model.RoleAssistant, Parts: assistantParts})

		if hasToolUse {
			e.messages = append(e.messages, model.Message{Role: model.RoleUser, Parts: toolResults})
			iterations++
			continue
		}

		finalText := resp.Text()
		e.result = parseFinalOutput(finalText)
		e.done = true
		e.emit("status_change", map[string]any{"status": e.role + "_completed", "result": e.result})
		iterations++
	}

	if !e.done {
		e.emit("error", map[string]any{"error": "max_iterations_reached"})
		return map[string]any{"error": "max_iterations_reached"}, nil
	}
	return e.result, nil
}

// MarkDone allows a "complete" sentinel tool handler to end the loop
// voluntarily with an explicit structured result, bypassing the JSON
// parsing fallback ladder used for implicit completion.
func (e *Executor) MarkDone(result map[string]any) string {
	e.done = true
	e.result = result
	return "Session complete."
}

func (e *Executor) interruptResult() map[string]any {
	e.emit("status_change", map[string]any{"status": e.role + "_interrupted"})
	return map[string]any{"status": "interrupted", "error": "Run interrupted by user"}
}

func (e *Executor) toolSchemas() []model.ToolSchema {
	if e.registry == nil {
		return nil
	}
	defs := e.registry.All()
	schemas := make([]model.ToolSchema, 0, len(defs))
	for _, d := range defs {
		schemas = append(schemas, model.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return schemas
}

func (e *Executor) toToolResultPart(toolUseID string, result tools.Result, err error) model.ToolResultPart {
	if err != nil {
		return model.ToolResultPart{ToolUseID: toolUseID, Text: err.Error(), IsError: true}
	}
	switch result.Kind {
	case tools.KindText:
		return model.ToolResultPart{ToolUseID: toolUseID, Text: truncate(result.Text, resultPreviewLimit)}
	case tools.KindJSON:
		data, marshalErr := json.Marshal(result.JSON)
		if marshalErr != nil {
			return model.ToolResultPart{ToolUseID: toolUseID, Text: marshalErr.Error(), IsError: true}
		}
		return model.ToolResultPart{ToolUseID: toolUseID, Text: truncate(string(data), resultPreviewLimit)}
	case tools.KindContent:
		blocks := make([]model.ContentBlock, 0, len(result.Content))
		for _, b := range result.Content {
			blocks = append(blocks, model.ContentBlock{
				Type:           b.Type,
				Text:           b.Text,
				ImageMediaType: b.ImageMediaType,
				ImageBase64:    b.ImageBase64,
			})
		}
		return model.ToolResultPart{ToolUseID: toolUseID, Content: blocks}
	default:
		return model.ToolResultPart{ToolUseID: toolUseID, Text: ""}
	}
}

func previewToolResult(p model.ToolResultPart) string {
	if len(p.Content) > 0 {
		return "[multimodal content]"
	}
	return truncate(p.Text, resultPreviewLimit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func (e *Executor) emit(eventType string, data map[string]any) {
	evt := Event{Role: e.role, Type: eventType, Data: data, Timestamp: time.Now()}
	for _, h := range e.handlers {
		h(evt)
	}
}

// parseFinalOutput tries to recover a structured result from the
// decision-maker's final text: first a fenced ```json block, then the
// whole text as raw JSON, finally falling back to wrapping the text
// verbatim as a summary.
func parseFinalOutput(text string) map[string]any {
	if fenced, ok := extractFencedJSON(text); ok {
		if m, ok := parseJSONObject(fenced); ok {
			return m
		}
	}
	if m, ok := parseJSONObject(strings.TrimSpace(text)); ok {
		return m
	}
	return map[string]any{"summary": text}
}

func extractFencedJSON(text string) (string, bool) {
	const open = "```json"
	start := strings.Index(text, open)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func parseJSONObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}
