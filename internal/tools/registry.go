package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/chainwatch/internal/otel"
	"github.com/basket/chainwatch/internal/shared"
	"github.com/basket/chainwatch/internal/trace"
)

var toolCallCounter, _ = otel.Meter().Int64Counter("chainwatch.tool_calls")

func countToolCall(ctx context.Context, tool, status string) {
	toolCallCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// ErrToolNotFound is returned when no tool matches the requested name.
// No tool call record is written for unknown tools.
var ErrToolNotFound = errors.New("tool not found")

// InvalidParamsError reports a schema validation failure on tool input.
type InvalidParamsError struct {
	Tool   string
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Tool, e.Reason)
}

// Handler executes one tool invocation against validated parameters.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Tool is a named capability with a JSON Schema over its parameters.
type Tool struct {
	Name        string
	Description string
	Capability  string
	Schema      json.RawMessage
	Handler     Handler

	compiled *jsonschema.Schema
}

// Registry holds all registered tools and records every execution through
// the tracer.
type Registry struct {
	tracer *trace.Tracer
	logger *slog.Logger
	tools  map[string]*Tool
	order  []string
}

func NewRegistry(tracer *trace.Tracer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tracer: tracer,
		logger: logger,
		tools:  make(map[string]*Tool),
	}
}

// Register compiles the tool's parameter schema and adds it to the registry.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return errors.New("register: tool name required")
	}
	if t.Handler == nil {
		return fmt.Errorf("register %s: handler required", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register %s: already registered", t.Name)
	}
	if len(t.Schema) > 0 {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(t.Schema)))
		if err != nil {
			return fmt.Errorf("register %s: unmarshal schema: %w", t.Name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", doc); err != nil {
			return fmt.Errorf("register %s: add schema resource: %w", t.Name, err)
		}
		schema, err := c.Compile("schema.json")
		if err != nil {
			return fmt.Errorf("register %s: compile schema: %w", t.Name, err)
		}
		t.compiled = schema
	}
	if t.Capability == "" {
		t.Capability = t.Name
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the tool by name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Execute runs one tool. Every execution of a known tool writes exactly one
// tool call record, whether the handler succeeds, fails, or the parameters
// are rejected. Unknown tools write nothing.
func (r *Registry) Execute(ctx context.Context, traceID, toolName string, params map[string]any) (map[string]any, error) {
	t, ok := r.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	ctx, span := otel.Tracer().Start(ctx, "tool."+toolName)
	defer span.End()

	callID := uuid.NewString()
	start := time.Now()

	if err := r.validate(t, params); err != nil {
		r.record(ctx, trace.ToolCall{
			CallID:   callID,
			TraceID:  traceID,
			ToolName: toolName,
			Input:    params,
			Status:   trace.CallError,
			Error:    err.Error(),
			CalledAt: start,
		})
		countToolCall(ctx, toolName, string(trace.CallError))
		return nil, err
	}

	result, err := t.Handler(ctx, params)
	duration := time.Since(start).Milliseconds()

	call := trace.ToolCall{
		CallID:     callID,
		TraceID:    traceID,
		ToolName:   toolName,
		Input:      params,
		DurationMS: duration,
		CalledAt:   start,
	}
	if err != nil {
		call.Status = trace.CallError
		call.Error = err.Error()
		r.record(ctx, call)
		countToolCall(ctx, toolName, string(trace.CallError))
		r.logger.Warn("tool execution failed",
			"trace_id", traceID, "tool", toolName, "step", shared.Step(ctx), "duration_ms", duration, "error", err)
		return nil, err
	}

	call.Status = trace.CallSuccess
	call.Result = marshalResult(result)
	r.record(ctx, call)
	countToolCall(ctx, toolName, string(trace.CallSuccess))
	r.logger.Info("tool executed",
		"trace_id", traceID, "tool", toolName, "step", shared.Step(ctx), "duration_ms", duration)
	return result, nil
}

func (r *Registry) validate(t *Tool, params map[string]any) error {
	if t.compiled == nil {
		return nil
	}
	// Round-trip through jsonschema's decoder for json.Number handling.
	raw, err := json.Marshal(params)
	if err != nil {
		return &InvalidParamsError{Tool: t.Name, Reason: err.Error()}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return &InvalidParamsError{Tool: t.Name, Reason: err.Error()}
	}
	if err := t.compiled.Validate(doc); err != nil {
		return &InvalidParamsError{Tool: t.Name, Reason: err.Error()}
	}
	return nil
}

func (r *Registry) record(ctx context.Context, call trace.ToolCall) {
	if r.tracer == nil {
		return
	}
	r.tracer.RecordToolCall(ctx, call)
}

func marshalResult(result map[string]any) string {
	if len(result) == 0 {
		return "{}"
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	return string(data)
}
