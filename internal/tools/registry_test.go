package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/basket/chainwatch/internal/persistence"
	"github.com/basket/chainwatch/internal/trace"
)

// callStore records tool call writes for assertion.
type callStore struct {
	mu     sync.Mutex
	traces map[string]persistence.TraceRecord
	calls  []persistence.ToolCallRecord
}

func newCallStore() *callStore {
	return &callStore{traces: map[string]persistence.TraceRecord{}}
}

func (s *callStore) SaveTrace(_ context.Context, rec persistence.TraceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[rec.TraceID] = rec
	return nil
}

func (s *callStore) InsertToolCall(_ context.Context, rec persistence.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rec)
	return nil
}

func (s *callStore) GetTrace(_ context.Context, traceID string) (persistence.TraceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.traces[traceID]
	if !ok {
		return persistence.TraceRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (s *callStore) ListToolCalls(_ context.Context, _ string) ([]persistence.ToolCallRecord, error) {
	return nil, nil
}

func (s *callStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 2}
	},
	"required": ["name"],
	"additionalProperties": false
}`)

func newTestRegistry(t *testing.T, store *callStore) (*Registry, string) {
	t.Helper()
	tracer := trace.NewTracer(store, nil, nil)
	tc := tracer.StartTrace(context.Background(), "conv-1", "test")
	return NewRegistry(tracer, nil), tc.TraceID
}

func TestExecuteUnknownToolWritesNoRecord(t *testing.T) {
	store := newCallStore()
	reg, traceID := newTestRegistry(t, store)

	_, err := reg.Execute(context.Background(), traceID, "no-such-tool", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
	if store.callCount() != 0 {
		t.Fatalf("unknown tool wrote %d records, want 0", store.callCount())
	}
}

func TestExecuteValidationFailureWritesOneErrorRecord(t *testing.T) {
	store := newCallStore()
	reg, traceID := newTestRegistry(t, store)

	tool := &Tool{
		Name:   "echo",
		Schema: echoSchema,
		Handler: func(_ context.Context, params map[string]any) (map[string]any, error) {
			t.Fatal("handler must not run on invalid parameters")
			return nil, nil
		},
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := reg.Execute(context.Background(), traceID, "echo", map[string]any{"name": "x"})
	var invalid *InvalidParamsError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidParamsError", err)
	}
	if store.callCount() != 1 {
		t.Fatalf("validation failure wrote %d records, want 1", store.callCount())
	}
	if store.calls[0].Status != "ERROR" || store.calls[0].Error == "" {
		t.Fatalf("record = %+v, want ERROR status with message", store.calls[0])
	}
}

func TestExecuteHandlerErrorWritesOneErrorRecord(t *testing.T) {
	store := newCallStore()
	reg, traceID := newTestRegistry(t, store)

	tool := &Tool{
		Name: "failing",
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := reg.Execute(context.Background(), traceID, "failing", nil); err == nil {
		t.Fatal("expected handler error")
	}
	if store.callCount() != 1 {
		t.Fatalf("handler error wrote %d records, want 1", store.callCount())
	}
	if store.calls[0].Status != "ERROR" {
		t.Fatalf("status = %s, want ERROR", store.calls[0].Status)
	}
}

func TestExecuteSuccessWritesOneSuccessRecord(t *testing.T) {
	store := newCallStore()
	reg, traceID := newTestRegistry(t, store)

	tool := &Tool{
		Name:   "echo",
		Schema: echoSchema,
		Handler: func(_ context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"echoed": params["name"]}, nil
		},
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := reg.Execute(context.Background(), traceID, "echo", map[string]any{"name": "FDX134"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["echoed"] != "FDX134" {
		t.Fatalf("result = %v", result)
	}
	if store.callCount() != 1 {
		t.Fatalf("success wrote %d records, want 1", store.callCount())
	}
	rec := store.calls[0]
	if rec.Status != "SUCCESS" || rec.ToolName != "echo" || rec.TraceID != traceID {
		t.Fatalf("record = %+v", rec)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(rec.Result), &payload); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if payload["echoed"] != "FDX134" {
		t.Fatalf("stored result = %v", payload)
	}
}

func TestRegisterRejectsDuplicatesAndBadSchemas(t *testing.T) {
	reg := NewRegistry(trace.NewTracer(nil, nil, nil), nil)
	ok := &Tool{Name: "dup", Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) { return nil, nil }}
	if err := reg.Register(ok); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(ok); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	bad := &Tool{
		Name:    "bad",
		Schema:  json.RawMessage(`{"type":`),
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) { return nil, nil },
	}
	if err := reg.Register(bad); err == nil {
		t.Fatal("expected malformed schema to fail registration")
	}
	if err := reg.Register(&Tool{Name: "nohandler"}); err == nil {
		t.Fatal("expected missing handler to fail registration")
	}
}

func TestCapabilityDefaultsToName(t *testing.T) {
	reg := NewRegistry(trace.NewTracer(nil, nil, nil), nil)
	tool := &Tool{Name: "plain", Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) { return nil, nil }}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := reg.Lookup("plain")
	if !ok || got.Capability != "plain" {
		t.Fatalf("capability = %q, want tool name", got.Capability)
	}
}
