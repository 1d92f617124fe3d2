package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/chainwatch/internal/bus"
	"github.com/basket/chainwatch/internal/config"
	"github.com/basket/chainwatch/internal/otel"
	"github.com/basket/chainwatch/internal/persistence"
	"github.com/basket/chainwatch/internal/shared"
	"github.com/basket/chainwatch/internal/trace"
)

var actionCounter, _ = otel.Meter().Int64Counter("chainwatch.autonomous_actions")

// Autonomous action types.
const (
	ActionEscalation       = "ESCALATION"
	ActionNotification     = "NOTIFICATION"
	ActionFlightMonitoring = "FLIGHT_MONITORING_ACTIVATED"
	ActionVesselMonitoring = "VESSEL_MONITORING_ACTIVATED"
	ActionPortCongestion   = "PORT_CONGESTION_DETECTED"
	ActionHighRiskAlert    = "HIGH_RISK_ALERT"
)

// ActionStore is the subset of the persistence layer the trigger writes to.
type ActionStore interface {
	InsertAction(ctx context.Context, rec persistence.ActionRecord) error
}

// ActionTrigger evaluates tool results against threshold rules and emits
// autonomous actions. Every emitted action is persisted and published.
type ActionTrigger struct {
	store  ActionStore // may be nil in tests
	bus    *bus.Bus
	logger *slog.Logger

	mu         sync.RWMutex
	thresholds config.Thresholds
}

func NewActionTrigger(store ActionStore, eventBus *bus.Bus, logger *slog.Logger, thresholds config.Thresholds) *ActionTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionTrigger{
		store:      store,
		bus:        eventBus,
		logger:     logger,
		thresholds: thresholds,
	}
}

// SetThresholds swaps the threshold set, used by config hot reload.
func (at *ActionTrigger) SetThresholds(t config.Thresholds) {
	at.mu.Lock()
	at.thresholds = t
	at.mu.Unlock()
}

// Evaluate inspects one successful tool result and emits any actions whose
// predicates fire. Returns the emitted actions.
func (at *ActionTrigger) Evaluate(ctx context.Context, traceID, toolName string, result map[string]any) []persistence.ActionRecord {
	at.mu.RLock()
	thresholds := at.thresholds
	at.mu.RUnlock()

	var actions []persistence.ActionRecord

	switch toolName {
	case "track-flight":
		flight, _ := result["flight_number"].(string)
		actions = append(actions, at.emit(ctx, traceID, ActionFlightMonitoring, "MEDIUM",
			fmt.Sprintf("Monitoring activated for flight %s", flight), result))

		if delay := numberField(result, "delay_minutes"); delay > float64(thresholds.DelayMinutes) {
			actions = append(actions, at.emit(ctx, traceID, ActionHighRiskAlert, "HIGH",
				fmt.Sprintf("Flight %s delayed %d minutes, exceeds %d minute threshold",
					flight, int(delay), thresholds.DelayMinutes), result))
		}

	case "track-vessel":
		name, _ := result["vessel_name"].(string)
		actions = append(actions, at.emit(ctx, traceID, ActionVesselMonitoring, "MEDIUM",
			fmt.Sprintf("Monitoring activated for vessel %s", name), result))

		if vesselCongested(result) {
			actions = append(actions, at.emit(ctx, traceID, ActionPortCongestion, "HIGH",
				fmt.Sprintf("Vessel %s held at anchor or delayed near %s",
					name, stringField(result, "destination")), result))
		}

	case "analyze-risks":
		// Strict inequality: exposure exactly at the threshold does not escalate.
		if value := numberField(result, "total_value_at_risk"); value > thresholds.EscalationValueUSD {
			actions = append(actions, at.emit(ctx, traceID, ActionEscalation, "CRITICAL",
				fmt.Sprintf("Value at risk $%.2f exceeds $%.2f escalation threshold",
					value, thresholds.EscalationValueUSD), result))
		}
		if count := numberField(result, "high_risk_orders"); count > float64(thresholds.NotificationOrderCount) {
			actions = append(actions, at.emit(ctx, traceID, ActionNotification, "MEDIUM",
				fmt.Sprintf("%d high-risk orders exceed notification threshold of %d",
					int(count), thresholds.NotificationOrderCount), result))
		}

	case "scan-geopolitical":
		if critical := numberField(result, "critical_events"); critical > 0 {
			actions = append(actions, at.emit(ctx, traceID, ActionHighRiskAlert, "CRITICAL",
				fmt.Sprintf("%d critical events detected in %s",
					int(critical), stringField(result, "region")), result))
		}

	case "assess-supplier-risk":
		if score := numberField(result, "risk_score"); score > float64(thresholds.SupplierRiskScore) {
			severity := "HIGH"
			if score > float64(thresholds.SupplierCriticalScore) {
				severity = "CRITICAL"
			}
			actions = append(actions, at.emit(ctx, traceID, ActionHighRiskAlert, severity,
				fmt.Sprintf("Supplier %s risk score %.0f exceeds threshold %d",
					stringField(result, "supplier"), score, thresholds.SupplierRiskScore), result))
		}

	case "simulate-crisis":
		if impact := numberField(result, "estimated_impact_usd"); impact > thresholds.EscalationValueUSD {
			actions = append(actions, at.emit(ctx, traceID, ActionEscalation, "CRITICAL",
				fmt.Sprintf("Simulated %s impact $%.2f exceeds escalation threshold",
					stringField(result, "scenario"), impact), result))
		}

	case "predictive-analytics":
		if highRisk, _ := result["high_risk"].(bool); highRisk {
			actions = append(actions, at.emit(ctx, traceID, ActionHighRiskAlert, "HIGH",
				fmt.Sprintf("Predicted risk score %.0f for %s over %d days",
					numberField(result, "risk_score"), stringField(result, "target"),
					int(numberField(result, "horizon_days"))), result))
		}
	}

	return actions
}

// responseMarkers are the risk phrases that trigger an alert from the final
// response text, independent of any per-tool predicate.
var responseMarkers = []string{"critical", "high-risk"}

// EvaluateTrace runs the response-level rule over a finished trace. The
// per-tool rules fire while the loop executes; this pass inspects the
// aggregate response for risk markers the individual results may not carry.
func (at *ActionTrigger) EvaluateTrace(ctx context.Context, t *trace.Trace) []persistence.ActionRecord {
	if t == nil || t.Response == "" {
		return nil
	}
	text := strings.ToLower(t.Response)
	matched := ""
	for _, marker := range responseMarkers {
		if strings.Contains(text, marker) {
			matched = marker
			break
		}
	}
	if matched == "" {
		return nil
	}
	rec := at.emit(ctx, t.TraceID, ActionHighRiskAlert, "HIGH",
		"Response indicates critical or high-risk conditions",
		map[string]any{
			"marker":       matched,
			"response":     shared.Truncate(t.Response, 500),
			"tools_called": t.ToolsCalled,
		})
	return []persistence.ActionRecord{rec}
}

func (at *ActionTrigger) emit(ctx context.Context, traceID, actionType, severity, description string, details map[string]any) persistence.ActionRecord {
	rec := persistence.ActionRecord{
		ActionID:    uuid.NewString(),
		TraceID:     traceID,
		ActionType:  actionType,
		Description: description,
		Details:     marshalDetails(details),
		Severity:    severity,
		CreatedAt:   time.Now().UTC(),
	}
	if at.store != nil {
		if err := at.store.InsertAction(ctx, rec); err != nil {
			at.logger.Error("persist action failed", "trace_id", traceID, "action_type", actionType, "error", err)
		}
	}
	actionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("severity", severity),
	))
	if at.bus != nil {
		at.bus.Publish(bus.TopicActionEmitted, bus.ActionEmittedEvent{
			ActionID:    rec.ActionID,
			ActionType:  actionType,
			TraceID:     traceID,
			Description: description,
		})
	}
	at.logger.Info("autonomous action emitted",
		"trace_id", traceID, "action_type", actionType, "severity", severity)
	return rec
}

func vesselCongested(result map[string]any) bool {
	status := strings.ToLower(stringField(result, "status"))
	if strings.Contains(status, "anchor") {
		return true
	}
	for _, key := range []string{"status", "destination", "region"} {
		if strings.Contains(strings.ToLower(stringField(result, key)), "delay") {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func numberField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func marshalDetails(details map[string]any) string {
	if len(details) == 0 {
		return "{}"
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "{}"
	}
	return string(data)
}
