package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/chainwatch/internal/bus"
	"github.com/basket/chainwatch/internal/persistence"
	"github.com/basket/chainwatch/internal/shared"
)

// Store is the subset of the persistence layer the tracer writes through to.
type Store interface {
	SaveTrace(ctx context.Context, rec persistence.TraceRecord) error
	InsertToolCall(ctx context.Context, rec persistence.ToolCallRecord) error
	GetTrace(ctx context.Context, traceID string) (persistence.TraceRecord, error)
	ListToolCalls(ctx context.Context, traceID string) ([]persistence.ToolCallRecord, error)
}

// Tracer owns the in-memory trace for each in-flight request and writes
// through to the store on every state change. Store failures are logged and
// swallowed: tracing never fails a request.
type Tracer struct {
	store  Store // may be nil in tests
	bus    *bus.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]*Trace
}

func NewTracer(store Store, eventBus *bus.Bus, logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		store:  store,
		bus:    eventBus,
		logger: logger,
		active: make(map[string]*Trace),
	}
}

// StartTrace creates a new trace in STARTED state and persists it.
func (tr *Tracer) StartTrace(ctx context.Context, conversationID, query string) *Trace {
	t := &Trace{
		TraceID:        shared.NewTraceID(),
		ConversationID: conversationID,
		Query:          shared.Redact(query),
		Status:         StatusStarted,
		StartedAt:      time.Now().UTC(),
	}

	tr.mu.Lock()
	tr.active[t.TraceID] = t
	tr.mu.Unlock()

	tr.persist(ctx, t)
	if tr.bus != nil {
		tr.bus.Publish(bus.TopicTraceStarted, t.Clone())
	}
	tr.logger.Info("trace started", "trace_id", t.TraceID, "conversation_id", conversationID)
	return t
}

// MarkProcessing moves the trace into PROCESSING once the reasoning loop
// picks it up.
func (tr *Tracer) MarkProcessing(ctx context.Context, traceID string) {
	tr.mutate(ctx, traceID, func(t *Trace) error {
		return t.advance(StatusProcessing)
	})
}

// AddReasoningStep appends one loop iteration to the trace and publishes it.
func (tr *Tracer) AddReasoningStep(ctx context.Context, traceID string, step ReasoningStep) {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	tr.mutate(ctx, traceID, func(t *Trace) error {
		step.Step = len(t.ReasoningSteps) + 1
		t.ReasoningSteps = append(t.ReasoningSteps, step)
		return nil
	})
	if tr.bus != nil {
		tr.bus.Publish(bus.TopicReasoningStep, bus.ReasoningStepEvent{
			TraceID:   traceID,
			Step:      step.Step,
			Agent:     step.Agent,
			ToolNames: step.ToolNames,
		})
	}
}

// RecordToolCall persists one tool invocation and appends the tool name to
// the trace. Called exactly once per registry execution, success or error.
func (tr *Tracer) RecordToolCall(ctx context.Context, call ToolCall) {
	call.Result = shared.Truncate(shared.Redact(call.Result), resultMaxBytes)
	if call.CalledAt.IsZero() {
		call.CalledAt = time.Now().UTC()
	}

	tr.mutate(ctx, traceIDOr(call.TraceID), func(t *Trace) error {
		t.ToolsCalled = append(t.ToolsCalled, call.ToolName)
		return nil
	})

	if tr.store != nil {
		rec := persistence.ToolCallRecord{
			CallID:      call.CallID,
			TraceID:     call.TraceID,
			ToolName:    call.ToolName,
			InputParams: marshalInput(call.Input),
			Result:      call.Result,
			Status:      string(call.Status),
			Error:       call.Error,
			DurationMS:  call.DurationMS,
			CalledAt:    call.CalledAt,
		}
		if err := tr.store.InsertToolCall(ctx, rec); err != nil {
			tr.logger.Error("persist tool call failed", "trace_id", call.TraceID, "call_id", call.CallID, "error", err)
		}
	}
	if tr.bus != nil {
		tr.bus.Publish(bus.TopicToolCalled, bus.ToolCalledEvent{
			TraceID:    call.TraceID,
			CallID:     call.CallID,
			ToolName:   call.ToolName,
			Outcome:    string(call.Status),
			DurationMS: call.DurationMS,
		})
	}
}

// CompleteTrace finalizes the trace with the synthesized response.
func (tr *Tracer) CompleteTrace(ctx context.Context, traceID, response string) {
	now := time.Now().UTC()
	ok := tr.mutate(ctx, traceID, func(t *Trace) error {
		if err := t.advance(StatusCompleted); err != nil {
			return err
		}
		t.Response = shared.Truncate(shared.Redact(response), responseMaxBytes)
		t.CompletedAt = &now
		return nil
	})
	if ok && tr.bus != nil {
		tr.bus.Publish(bus.TopicTraceCompleted, traceID)
	}
	tr.evict(traceID)
}

// FailTrace finalizes the trace in ERROR state.
func (tr *Tracer) FailTrace(ctx context.Context, traceID, errMsg string) {
	now := time.Now().UTC()
	ok := tr.mutate(ctx, traceID, func(t *Trace) error {
		if err := t.advance(StatusError); err != nil {
			return err
		}
		t.Error = shared.Redact(errMsg)
		t.CompletedAt = &now
		return nil
	})
	if ok && tr.bus != nil {
		tr.bus.Publish(bus.TopicTraceFailed, traceID)
	}
	tr.evict(traceID)
}

// GetTrace returns the trace, preferring the in-memory copy for in-flight
// requests and falling back to the store for finished ones.
func (tr *Tracer) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	tr.mu.RLock()
	t, ok := tr.active[traceID]
	tr.mu.RUnlock()
	if ok {
		return t.Clone(), nil
	}
	if tr.store == nil {
		return nil, persistence.ErrNotFound
	}

	rec, err := tr.store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

// mutate applies fn to the in-memory trace under lock and persists the
// result. Returns false when the trace is unknown or fn rejects the change.
func (tr *Tracer) mutate(ctx context.Context, traceID string, fn func(*Trace) error) bool {
	tr.mu.Lock()
	t, ok := tr.active[traceID]
	if !ok {
		tr.mu.Unlock()
		tr.logger.Warn("mutate on unknown trace", "trace_id", traceID)
		return false
	}
	if err := fn(t); err != nil {
		tr.mu.Unlock()
		tr.logger.Warn("trace mutation rejected", "trace_id", traceID, "error", err)
		return false
	}
	snapshot := t.Clone()
	tr.mu.Unlock()

	tr.persist(ctx, snapshot)
	return true
}

func (tr *Tracer) persist(ctx context.Context, t *Trace) {
	if tr.store == nil {
		return
	}
	rec := persistence.TraceRecord{
		TraceID:        t.TraceID,
		ConversationID: t.ConversationID,
		Query:          t.Query,
		Status:         string(t.Status),
		ReasoningSteps: MarshalSteps(t.ReasoningSteps),
		ToolsCalled:    MarshalNames(t.ToolsCalled),
		Response:       t.Response,
		Error:          t.Error,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
	}
	if err := tr.store.SaveTrace(ctx, rec); err != nil {
		tr.logger.Error("persist trace failed", "trace_id", t.TraceID, "error", err)
	}
}

func (tr *Tracer) evict(traceID string) {
	tr.mu.Lock()
	delete(tr.active, traceID)
	tr.mu.Unlock()
}

func fromRecord(rec persistence.TraceRecord) (*Trace, error) {
	steps, err := UnmarshalSteps(rec.ReasoningSteps)
	if err != nil {
		return nil, err
	}
	names, err := UnmarshalNames(rec.ToolsCalled)
	if err != nil {
		return nil, err
	}
	return &Trace{
		TraceID:        rec.TraceID,
		ConversationID: rec.ConversationID,
		Query:          rec.Query,
		Status:         Status(rec.Status),
		ReasoningSteps: steps,
		ToolsCalled:    names,
		Response:       rec.Response,
		Error:          rec.Error,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
	}, nil
}

func marshalInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	return shared.Redact(string(data))
}

func traceIDOr(id string) string {
	if id == "" {
		return "-"
	}
	return id
}
