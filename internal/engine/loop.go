package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/basket/chainwatch/internal/config"
	"github.com/basket/chainwatch/internal/otel"
	"github.com/basket/chainwatch/internal/shared"
	"github.com/basket/chainwatch/internal/tools"
	"github.com/basket/chainwatch/internal/trace"
)

const agentName = "chainwatch"

// Request is one top-level invocation entering the reasoning loop.
type Request struct {
	ConversationID string
	Tool           string
	Params         map[string]any
}

// Response is the aggregate outcome of a reasoning run.
type Response struct {
	TraceID string
	Trace   *trace.Trace
	Results []StepResult
	Summary string
}

// StepResult pairs a tool invocation with its outcome. Failed calls carry
// the error text as their result so the loop can keep reasoning over them.
type StepResult struct {
	Step     int            `json:"step"`
	Tool     string         `json:"tool"`
	Result   map[string]any `json:"result,omitempty"`
	ErrorMsg string         `json:"error,omitempty"`

	execErr error
}

// plannedCall is one tool invocation the loop intends to make, with the
// rule that scheduled it.
type plannedCall struct {
	tool   string
	params map[string]any
	reason string
}

// Loop is the bounded reasoning loop. Each step executes the planned calls,
// evaluates trigger rules over the results, and schedules follow-on calls.
// Hard bounds: max steps per trace, each capability at most once per trace,
// and a wall-clock budget that ends the run early with partial results.
type Loop struct {
	registry *tools.Registry
	tracer   *trace.Tracer
	trigger  *ActionTrigger
	logger   *slog.Logger

	mu              sync.RWMutex
	maxSteps        int
	budget          time.Duration
	delayThreshold  int
	riskThreshold   int
	highRiskRegions []string
}

// SetConfig refreshes loop bounds and rule thresholds after a config reload.
// In-flight requests keep the bounds they started with.
func (l *Loop) SetConfig(cfg config.Config) {
	l.mu.Lock()
	l.maxSteps = cfg.Loop.MaxSteps
	l.budget = cfg.RequestBudget()
	l.delayThreshold = cfg.Thresholds.DelayMinutes
	l.riskThreshold = cfg.Thresholds.SupplierRiskScore
	l.highRiskRegions = cfg.HighRiskRegions
	l.mu.Unlock()
}

func NewLoop(registry *tools.Registry, tracer *trace.Tracer, trigger *ActionTrigger, cfg config.Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		registry:        registry,
		tracer:          tracer,
		trigger:         trigger,
		logger:          logger,
		maxSteps:        cfg.Loop.MaxSteps,
		budget:          cfg.RequestBudget(),
		delayThreshold:  cfg.Thresholds.DelayMinutes,
		riskThreshold:   cfg.Thresholds.SupplierRiskScore,
		highRiskRegions: cfg.HighRiskRegions,
	}
}

// Run executes one request to completion. The first call's hard failures
// (unknown tool, invalid parameters) fail the trace and surface to the
// caller; follow-on call failures become textual results instead.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	ctx, span := otel.Tracer().Start(ctx, "engine.run")
	defer span.End()

	query := describeRequest(req)
	t := l.tracer.StartTrace(ctx, req.ConversationID, query)
	ctx = shared.WithTraceID(ctx, t.TraceID)
	ctx = shared.WithConversationID(ctx, req.ConversationID)
	l.tracer.MarkProcessing(ctx, t.TraceID)

	l.mu.RLock()
	maxSteps, budget := l.maxSteps, l.budget
	l.mu.RUnlock()

	start := time.Now()
	usedCapabilities := map[string]bool{}
	pending := []plannedCall{{tool: req.Tool, params: req.Params, reason: "initial request"}}
	var results []StepResult
	budgetExceeded := false

	for step := 1; step <= maxSteps && len(pending) > 0; step++ {
		if time.Since(start) > budget {
			budgetExceeded = true
			l.logger.Warn("request budget exceeded, completing with partial results",
				"trace_id", t.TraceID, "step", step, "budget", budget)
			break
		}

		calls := l.admit(t.TraceID, pending, usedCapabilities)
		pending = nil
		if len(calls) == 0 {
			break
		}

		stepStart := time.Now()
		stepResults := l.executeStep(ctx, t.TraceID, step, calls)

		toolNames := make([]string, 0, len(calls))
		for _, c := range calls {
			toolNames = append(toolNames, c.tool)
		}
		l.tracer.AddReasoningStep(ctx, t.TraceID, trace.ReasoningStep{
			Agent:      agentName,
			Thought:    stepThought(step, calls),
			ToolNames:  toolNames,
			DurationMS: time.Since(stepStart).Milliseconds(),
		})

		for i := range stepResults {
			stepResults[i].Step = step
			results = append(results, stepResults[i])

			if stepResults[i].ErrorMsg != "" {
				// First-call hard failures abort; everything else is data.
				var notFound bool
				var invalid *tools.InvalidParamsError
				err := stepResults[i].execErr
				if errors.Is(err, tools.ErrToolNotFound) {
					notFound = true
				}
				if step == 1 && i == 0 && (notFound || errors.As(err, &invalid)) {
					l.tracer.FailTrace(ctx, t.TraceID, stepResults[i].ErrorMsg)
					return nil, err
				}
				continue
			}

			if l.trigger != nil {
				l.trigger.Evaluate(ctx, t.TraceID, stepResults[i].Tool, stepResults[i].Result)
			}
			pending = append(pending, l.followOns(stepResults[i])...)
		}
	}

	summary := summarize(results, budgetExceeded)
	l.tracer.CompleteTrace(ctx, t.TraceID, summary)

	final, err := l.tracer.GetTrace(ctx, t.TraceID)
	if err != nil {
		final = t
	}
	if l.trigger != nil {
		l.trigger.EvaluateTrace(ctx, final)
	}
	return &Response{
		TraceID: t.TraceID,
		Trace:   final,
		Results: results,
		Summary: summary,
	}, nil
}

// admit filters planned calls through the once-per-trace capability rule and
// marks admitted capabilities as used.
func (l *Loop) admit(traceID string, pending []plannedCall, used map[string]bool) []plannedCall {
	var admitted []plannedCall
	for _, call := range pending {
		capability := call.tool
		if t, ok := l.registry.Lookup(call.tool); ok {
			capability = t.Capability
		}
		if used[capability] {
			l.logger.Debug("skipping repeat capability",
				"trace_id", traceID, "tool", call.tool, "capability", capability)
			continue
		}
		used[capability] = true
		admitted = append(admitted, call)
	}
	return admitted
}

// executeStep runs all calls of one step. Calls in the same step are
// independent by construction, so they run in parallel.
func (l *Loop) executeStep(ctx context.Context, traceID string, step int, calls []plannedCall) []StepResult {
	ctx = shared.WithStep(ctx, step)
	out := make([]StepResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call plannedCall) {
			defer wg.Done()
			result, err := l.registry.Execute(ctx, traceID, call.tool, call.params)
			sr := StepResult{Tool: call.tool, Result: result}
			if err != nil {
				sr.ErrorMsg = err.Error()
				sr.execErr = err
			}
			out[i] = sr
		}(i, call)
	}
	wg.Wait()
	return out
}

// followOns applies the declarative trigger rules to one result and returns
// the calls they schedule.
func (l *Loop) followOns(sr StepResult) []plannedCall {
	l.mu.RLock()
	delayThreshold, riskThreshold := l.delayThreshold, l.riskThreshold
	l.mu.RUnlock()

	var next []plannedCall
	result := sr.Result

	switch sr.Tool {
	case "track-flight":
		if delay := numberField(result, "delay_minutes"); delay > float64(delayThreshold) {
			supplier := stringField(result, "airline")
			if supplier == "" {
				supplier = stringField(result, "flight_number")
			}
			next = append(next, plannedCall{
				tool:   "assess-supplier-risk",
				params: map[string]any{"supplier": supplier},
				reason: fmt.Sprintf("delay %d min exceeds %d min threshold", int(delay), delayThreshold),
			})
		}
		if region := l.matchHighRiskRegion(stringField(result, "origin")); region != "" {
			next = append(next, plannedCall{
				tool:   "scan-geopolitical",
				params: map[string]any{"region": region},
				reason: "origin in high-risk region " + region,
			})
		}

	case "track-vessel":
		if region := l.matchHighRiskRegion(stringField(result, "region")); region != "" {
			next = append(next, plannedCall{
				tool:   "scan-geopolitical",
				params: map[string]any{"region": stringField(result, "region")},
				reason: "vessel transiting high-risk region " + region,
			})
		}

	case "scan-geopolitical":
		if critical := numberField(result, "critical_events"); critical > 0 {
			region := stringField(result, "region")
			next = append(next, plannedCall{
				tool: "simulate-crisis",
				params: map[string]any{
					"scenario": "disruption in " + region,
					"severity": severityForRisk(stringField(result, "risk_level")),
				},
				reason: fmt.Sprintf("%d critical events in %s", int(critical), region),
			})
		}

	case "assess-supplier-risk":
		if score := numberField(result, "risk_score"); score > float64(riskThreshold) {
			next = append(next, plannedCall{
				tool:   "predictive-analytics",
				params: map[string]any{"target": stringField(result, "supplier")},
				reason: fmt.Sprintf("supplier risk score %.0f exceeds %d", score, riskThreshold),
			})
		}
	}
	return next
}

func (l *Loop) matchHighRiskRegion(location string) string {
	if location == "" {
		return ""
	}
	lower := strings.ToLower(location)
	l.mu.RLock()
	regions := append([]string(nil), l.highRiskRegions...)
	l.mu.RUnlock()
	for _, region := range regions {
		if strings.Contains(lower, strings.ToLower(region)) {
			return region
		}
	}
	return ""
}

func severityForRisk(riskLevel string) string {
	switch riskLevel {
	case "critical":
		return "severe"
	case "high":
		return "moderate"
	default:
		return "mild"
	}
}

func describeRequest(req Request) string {
	var parts []string
	for k, v := range req.Params {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("%s(%s)", req.Tool, strings.Join(parts, ", "))
}

func stepThought(step int, calls []plannedCall) string {
	reasons := make([]string, 0, len(calls))
	for _, c := range calls {
		reasons = append(reasons, fmt.Sprintf("%s: %s", c.tool, c.reason))
	}
	return fmt.Sprintf("step %d: %s", step, strings.Join(reasons, "; "))
}

func summarize(results []StepResult, budgetExceeded bool) string {
	if len(results) == 0 {
		return "no tools executed"
	}
	var b strings.Builder
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.ErrorMsg != "" {
			failed++
			fmt.Fprintf(&b, "%s failed: %s. ", r.Tool, r.ErrorMsg)
			continue
		}
		succeeded++
		fmt.Fprintf(&b, "%s succeeded. ", r.Tool)
	}
	fmt.Fprintf(&b, "Executed %d tool calls (%d succeeded, %d failed).", len(results), succeeded, failed)
	if budgetExceeded {
		b.WriteString(" Request budget exceeded; results are partial.")
	}
	return b.String()
}
