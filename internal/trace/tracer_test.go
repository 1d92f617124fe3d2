package trace

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/basket/chainwatch/internal/persistence"
)

// fakeStore captures tracer write-through calls.
type fakeStore struct {
	mu        sync.Mutex
	traces    map[string]persistence.TraceRecord
	toolCalls []persistence.ToolCallRecord
	failSave  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{traces: map[string]persistence.TraceRecord{}}
}

func (f *fakeStore) SaveTrace(_ context.Context, rec persistence.TraceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return context.DeadlineExceeded
	}
	f.traces[rec.TraceID] = rec
	return nil
}

func (f *fakeStore) InsertToolCall(_ context.Context, rec persistence.ToolCallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolCalls = append(f.toolCalls, rec)
	return nil
}

func (f *fakeStore) GetTrace(_ context.Context, traceID string) (persistence.TraceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.traces[traceID]
	if !ok {
		return persistence.TraceRecord{}, persistence.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) ListToolCalls(_ context.Context, traceID string) ([]persistence.ToolCallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []persistence.ToolCallRecord
	for _, rec := range f.toolCalls {
		if rec.TraceID == traceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestTracerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tr := NewTracer(store, nil, nil)

	tc := tr.StartTrace(ctx, "conv-1", "track flight FDX134")
	if tc.Status != StatusStarted {
		t.Fatalf("status = %s, want STARTED", tc.Status)
	}

	tr.MarkProcessing(ctx, tc.TraceID)
	tr.AddReasoningStep(ctx, tc.TraceID, ReasoningStep{Agent: "chainwatch", Thought: "checking flight", ToolNames: []string{"track-flight"}})
	tr.RecordToolCall(ctx, ToolCall{
		CallID: "call-1", TraceID: tc.TraceID, ToolName: "track-flight",
		Input: map[string]any{"flight_number": "FDX134"}, Result: `{"delay_minutes":90}`,
		Status: CallSuccess, DurationMS: 12,
	})
	tr.CompleteTrace(ctx, tc.TraceID, "flight delayed 90 minutes")

	rec, err := store.GetTrace(ctx, tc.TraceID)
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if rec.Status != string(StatusCompleted) {
		t.Fatalf("stored status = %s, want COMPLETED", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if len(store.toolCalls) != 1 {
		t.Fatalf("tool call records = %d, want 1", len(store.toolCalls))
	}

	steps, err := UnmarshalSteps(rec.ReasoningSteps)
	if err != nil {
		t.Fatalf("UnmarshalSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].Step != 1 {
		t.Fatalf("steps = %+v", steps)
	}
	names, err := UnmarshalNames(rec.ToolsCalled)
	if err != nil {
		t.Fatalf("UnmarshalNames: %v", err)
	}
	if len(names) != 1 || names[0] != "track-flight" {
		t.Fatalf("tools called = %v", names)
	}
}

func TestTracerStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tr := NewTracer(store, nil, nil)

	tc := tr.StartTrace(ctx, "conv-1", "q")
	tr.CompleteTrace(ctx, tc.TraceID, "done")

	// A late failure must not reopen a completed trace.
	tr.FailTrace(ctx, tc.TraceID, "late error")

	rec, err := store.GetTrace(ctx, tc.TraceID)
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if rec.Status != string(StatusCompleted) {
		t.Fatalf("status = %s, want COMPLETED after late FailTrace", rec.Status)
	}
	if rec.Error != "" {
		t.Fatalf("error = %q, want empty", rec.Error)
	}
}

func TestTracerTruncatesResults(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tr := NewTracer(store, nil, nil)

	tc := tr.StartTrace(ctx, "conv-1", "q")
	tr.RecordToolCall(ctx, ToolCall{
		CallID: "call-1", TraceID: tc.TraceID, ToolName: "track-flight",
		Result: strings.Repeat("x", 5000), Status: CallSuccess,
	})
	if got := len(store.toolCalls[0].Result); got != resultMaxBytes {
		t.Fatalf("result length = %d, want %d", got, resultMaxBytes)
	}

	tr.CompleteTrace(ctx, tc.TraceID, strings.Repeat("y", 5000))
	rec, _ := store.GetTrace(ctx, tc.TraceID)
	if got := len(rec.Response); got != responseMaxBytes {
		t.Fatalf("response length = %d, want %d", got, responseMaxBytes)
	}
}

func TestTracerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tr := NewTracer(store, nil, nil)

	tc := tr.StartTrace(ctx, "conv-7", "scan Taiwan Strait")
	tr.AddReasoningStep(ctx, tc.TraceID, ReasoningStep{Agent: "chainwatch", Thought: "scan", ToolNames: []string{"scan-geopolitical"}})
	tr.AddReasoningStep(ctx, tc.TraceID, ReasoningStep{Agent: "chainwatch", Thought: "simulate", ToolNames: []string{"simulate-crisis"}})
	tr.CompleteTrace(ctx, tc.TraceID, "critical events found")

	// The trace is evicted from memory after completion; GetTrace must
	// rebuild it from the store without loss.
	got, err := tr.GetTrace(ctx, tc.TraceID)
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if got.TraceID != tc.TraceID || got.ConversationID != "conv-7" {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.Status != StatusCompleted || got.Response != "critical events found" {
		t.Fatalf("state mismatch: %+v", got)
	}
	if len(got.ReasoningSteps) != 2 || got.ReasoningSteps[1].Step != 2 {
		t.Fatalf("steps mismatch: %+v", got.ReasoningSteps)
	}
}

func TestTracerSwallowsStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failSave = true
	tr := NewTracer(store, nil, nil)

	// Nothing here should panic or fail the request path.
	tc := tr.StartTrace(ctx, "conv-1", "q")
	tr.CompleteTrace(ctx, tc.TraceID, "done")
}

func TestTracerRedactsSecrets(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tr := NewTracer(store, nil, nil)

	tc := tr.StartTrace(ctx, "conv-1", "use api_key=sk-abcdef1234567890abcdef to fetch")
	rec, _ := store.GetTrace(ctx, tc.TraceID)
	if strings.Contains(rec.Query, "sk-abcdef1234567890abcdef") {
		t.Fatalf("query not redacted: %q", rec.Query)
	}
}

func TestUnknownTraceMutationIsNoop(t *testing.T) {
	ctx := context.Background()
	tr := NewTracer(newFakeStore(), nil, nil)
	// Must not panic or create phantom traces.
	tr.CompleteTrace(ctx, "no-such-trace", "done")
	tr.FailTrace(ctx, "no-such-trace", "err")
}
