// Package monitor runs scheduled sweeps over monitored flights, regions and
// suppliers, emitting autonomous actions without an inbound request.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/chainwatch/internal/bus"
	"github.com/basket/chainwatch/internal/config"
	"github.com/basket/chainwatch/internal/engine"
	"github.com/basket/chainwatch/internal/shared"
	"github.com/basket/chainwatch/internal/tools"
	"github.com/basket/chainwatch/internal/trace"
)

// cronParser parses standard 5-field cron expressions.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the monitor.
type Config struct {
	Registry *tools.Registry
	Tracer   *trace.Tracer
	Trigger  *engine.ActionTrigger
	Bus      *bus.Bus
	Logger   *slog.Logger
	Monitor  config.MonitorConfig
}

// Monitor fires a sweep on the configured cron schedule. Each sweep runs
// under its own trace so the findings are auditable like any request.
type Monitor struct {
	cfg      Config
	logger   *slog.Logger
	schedule cronlib.Schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Monitor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := cronParser.Parse(cfg.Monitor.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse monitor schedule %q: %w", cfg.Monitor.Schedule, err)
	}
	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		schedule: schedule,
	}, nil
}

// Start begins the monitor loop. It runs in a background goroutine and
// respects the provided context for shutdown.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("monitor started", "schedule", m.cfg.Monitor.Schedule,
		"flights", len(m.cfg.Monitor.Flights),
		"regions", len(m.cfg.Monitor.Regions),
		"suppliers", len(m.cfg.Monitor.Suppliers))
}

// Stop cancels the monitor loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		next := m.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all monitored entities. Exported so operators
// can trigger it manually in tests and tooling.
//
// All checks of a sweep share one trace. The once-per-capability rule belongs
// to the reasoning loop's request traces, where a repeat call re-examines the
// same entity; a sweep invokes each capability once per monitored entity.
func (m *Monitor) Sweep(ctx context.Context) {
	start := time.Now()
	t := m.cfg.Tracer.StartTrace(ctx, "monitor", "scheduled monitoring sweep")
	ctx = shared.WithTraceID(ctx, t.TraceID)
	m.cfg.Tracer.MarkProcessing(ctx, t.TraceID)

	findings := 0
	critical := 0
	var toolNames []string

	check := func(tool string, params map[string]any) {
		toolNames = append(toolNames, tool)
		result, err := m.cfg.Registry.Execute(ctx, t.TraceID, tool, params)
		if err != nil {
			m.logger.Warn("monitor check failed", "trace_id", t.TraceID, "tool", tool, "error", err)
			return
		}
		if m.cfg.Trigger == nil {
			return
		}
		for _, action := range m.cfg.Trigger.Evaluate(ctx, t.TraceID, tool, result) {
			findings++
			if action.Severity == "CRITICAL" {
				critical++
			}
		}
	}

	for _, flight := range m.cfg.Monitor.Flights {
		check("track-flight", map[string]any{"flight_number": flight})
	}
	for _, region := range m.cfg.Monitor.Regions {
		check("scan-geopolitical", map[string]any{"region": region})
	}
	for _, supplier := range m.cfg.Monitor.Suppliers {
		check("assess-supplier-risk", map[string]any{"supplier": supplier.Name})
	}

	m.cfg.Tracer.AddReasoningStep(ctx, t.TraceID, trace.ReasoningStep{
		Agent:      "monitor",
		Thought:    fmt.Sprintf("sweep checked %d entities, %d findings (%d critical)", len(toolNames), findings, critical),
		ToolNames:  toolNames,
		DurationMS: time.Since(start).Milliseconds(),
	})

	summary := fmt.Sprintf("monitoring sweep: %d checks, %d findings, %d critical", len(toolNames), findings, critical)
	m.cfg.Tracer.CompleteTrace(ctx, t.TraceID, summary)

	if critical > 0 && m.cfg.Bus != nil {
		m.cfg.Bus.Publish(bus.TopicMonitorAlert, bus.MonitorAlertEvent{
			Findings: findings,
			Critical: critical,
			Summary:  summary,
		})
	}
	m.logger.Info("monitor sweep complete",
		"trace_id", t.TraceID, "checks", len(toolNames), "findings", findings, "critical", critical)
}
