package trace

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a trace. Transitions are monotonic:
// STARTED -> PROCESSING -> COMPLETED or ERROR. A terminal trace never
// moves again.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

var statusRank = map[Status]int{
	StatusStarted:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusError:      2,
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CallStatus is the outcome of a single tool invocation.
type CallStatus string

const (
	CallSuccess CallStatus = "SUCCESS"
	CallError   CallStatus = "ERROR"
)

const (
	// responseMaxBytes bounds the stored trace response.
	responseMaxBytes = 3000
	// resultMaxBytes bounds each stored tool call result.
	resultMaxBytes = 2000
)

// ReasoningStep records one iteration of the reasoning loop.
type ReasoningStep struct {
	Step       int       `json:"step"`
	Agent      string    `json:"agent"`
	Thought    string    `json:"thought"`
	ToolNames  []string  `json:"tool_names,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToolCall records one registry execution, success or error. Result is
// truncated before storage.
type ToolCall struct {
	CallID     string         `json:"call_id"`
	TraceID    string         `json:"trace_id"`
	ToolName   string         `json:"tool_name"`
	Input      map[string]any `json:"input_params"`
	Result     string         `json:"result"`
	Status     CallStatus     `json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CalledAt   time.Time      `json:"called_at"`
}

// Trace is the full execution record for one request.
type Trace struct {
	TraceID        string          `json:"trace_id"`
	ConversationID string          `json:"conversation_id"`
	Query          string          `json:"query"`
	Status         Status          `json:"status"`
	ReasoningSteps []ReasoningStep `json:"reasoning_steps"`
	ToolsCalled    []string        `json:"tools_called"`
	Response       string          `json:"response"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (t *Trace) Clone() *Trace {
	cp := *t
	cp.ReasoningSteps = append([]ReasoningStep(nil), t.ReasoningSteps...)
	cp.ToolsCalled = append([]string(nil), t.ToolsCalled...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

// advance moves the trace status forward. Regressions are rejected so a
// completed trace cannot be reopened by a late writer.
func (t *Trace) advance(next Status) error {
	if t.Status.Terminal() {
		return fmt.Errorf("trace %s is terminal (%s), cannot move to %s", t.TraceID, t.Status, next)
	}
	if statusRank[next] < statusRank[t.Status] {
		return fmt.Errorf("trace %s: illegal transition %s -> %s", t.TraceID, t.Status, next)
	}
	t.Status = next
	return nil
}

// MarshalSteps encodes the reasoning steps for the store.
func MarshalSteps(steps []ReasoningStep) string {
	if len(steps) == 0 {
		return "[]"
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// UnmarshalSteps decodes reasoning steps from stored JSON.
func UnmarshalSteps(raw string) ([]ReasoningStep, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var steps []ReasoningStep
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("decode reasoning steps: %w", err)
	}
	return steps, nil
}

// MarshalNames encodes the called tool names for the store.
func MarshalNames(names []string) string {
	if len(names) == 0 {
		return "[]"
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// UnmarshalNames decodes tool names from stored JSON.
func UnmarshalNames(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("decode tool names: %w", err)
	}
	return names, nil
}
