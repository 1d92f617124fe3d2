package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/basket/chainwatch/internal/config"
	"github.com/basket/chainwatch/internal/persistence"
	"github.com/basket/chainwatch/internal/trace"
)

// fakeActionStore captures emitted action records.
type fakeActionStore struct {
	mu      sync.Mutex
	actions []persistence.ActionRecord
}

func (f *fakeActionStore) InsertAction(_ context.Context, rec persistence.ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, rec)
	return nil
}

func newTestTrigger(store ActionStore) *ActionTrigger {
	return NewActionTrigger(store, nil, nil, config.Defaults().Thresholds)
}

func actionTypes(actions []persistence.ActionRecord) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ActionType)
	}
	return out
}

func hasAction(actions []persistence.ActionRecord, actionType string) bool {
	for _, a := range actions {
		if a.ActionType == actionType {
			return true
		}
	}
	return false
}

func TestFlightMonitoringAlwaysActivates(t *testing.T) {
	store := &fakeActionStore{}
	trigger := newTestTrigger(store)

	actions := trigger.Evaluate(context.Background(), "t1", "track-flight", map[string]any{
		"flight_number": "DHL456",
		"delay_minutes": 0,
	})
	if len(actions) != 1 || actions[0].ActionType != ActionFlightMonitoring {
		t.Fatalf("actions = %v, want only FLIGHT_MONITORING_ACTIVATED", actionTypes(actions))
	}
	if len(store.actions) != 1 {
		t.Fatalf("persisted %d actions, want 1", len(store.actions))
	}
}

func TestFlightDelayOverThresholdAlerts(t *testing.T) {
	trigger := newTestTrigger(nil)

	actions := trigger.Evaluate(context.Background(), "t1", "track-flight", map[string]any{
		"flight_number": "FDX134",
		"delay_minutes": 90,
	})
	if !hasAction(actions, ActionHighRiskAlert) {
		t.Fatalf("actions = %v, want HIGH_RISK_ALERT for 90 minute delay", actionTypes(actions))
	}

	// Exactly at the threshold does not alert.
	atThreshold := trigger.Evaluate(context.Background(), "t1", "track-flight", map[string]any{
		"flight_number": "UPS2901",
		"delay_minutes": 60,
	})
	if hasAction(atThreshold, ActionHighRiskAlert) {
		t.Fatalf("actions = %v, 60 minute delay must not alert", actionTypes(atThreshold))
	}
}

func TestEscalationThresholdIsStrict(t *testing.T) {
	trigger := newTestTrigger(nil)

	at := trigger.Evaluate(context.Background(), "t1", "analyze-risks", map[string]any{
		"total_value_at_risk": 50000.0,
		"high_risk_orders":    3,
	})
	if hasAction(at, ActionEscalation) {
		t.Fatalf("actions = %v, exactly $50,000 must not escalate", actionTypes(at))
	}

	over := trigger.Evaluate(context.Background(), "t1", "analyze-risks", map[string]any{
		"total_value_at_risk": 50000.01,
		"high_risk_orders":    3,
	})
	if !hasAction(over, ActionEscalation) {
		t.Fatalf("actions = %v, $50,000.01 must escalate", actionTypes(over))
	}
	for _, a := range over {
		if a.ActionType == ActionEscalation && a.Severity != "CRITICAL" {
			t.Fatalf("escalation severity = %s, want CRITICAL", a.Severity)
		}
	}
}

func TestNotificationOnOrderCount(t *testing.T) {
	trigger := newTestTrigger(nil)

	at := trigger.Evaluate(context.Background(), "t1", "analyze-risks", map[string]any{
		"total_value_at_risk": 1000.0,
		"high_risk_orders":    10,
	})
	if hasAction(at, ActionNotification) {
		t.Fatalf("actions = %v, exactly 10 orders must not notify", actionTypes(at))
	}

	over := trigger.Evaluate(context.Background(), "t1", "analyze-risks", map[string]any{
		"total_value_at_risk": 1000.0,
		"high_risk_orders":    11,
	})
	if !hasAction(over, ActionNotification) {
		t.Fatalf("actions = %v, 11 orders must notify", actionTypes(over))
	}
}

func TestVesselCongestionOnAnchor(t *testing.T) {
	trigger := newTestTrigger(nil)

	actions := trigger.Evaluate(context.Background(), "t1", "track-vessel", map[string]any{
		"vessel_name": "OOCL HAMBURG",
		"status":      "at anchor",
		"destination": "Rotterdam",
	})
	if !hasAction(actions, ActionVesselMonitoring) {
		t.Fatalf("actions = %v, want VESSEL_MONITORING_ACTIVATED", actionTypes(actions))
	}
	if !hasAction(actions, ActionPortCongestion) {
		t.Fatalf("actions = %v, anchored vessel must flag congestion", actionTypes(actions))
	}

	underway := trigger.Evaluate(context.Background(), "t1", "track-vessel", map[string]any{
		"vessel_name": "MAERSK DENVER",
		"status":      "underway",
		"destination": "Singapore",
	})
	if hasAction(underway, ActionPortCongestion) {
		t.Fatalf("actions = %v, underway vessel must not flag congestion", actionTypes(underway))
	}
}

func TestGeopoliticalCriticalEventsAlert(t *testing.T) {
	trigger := newTestTrigger(nil)

	actions := trigger.Evaluate(context.Background(), "t1", "scan-geopolitical", map[string]any{
		"region":          "Taiwan Strait",
		"critical_events": 2,
	})
	if !hasAction(actions, ActionHighRiskAlert) {
		t.Fatalf("actions = %v, want HIGH_RISK_ALERT", actionTypes(actions))
	}

	calm := trigger.Evaluate(context.Background(), "t1", "scan-geopolitical", map[string]any{
		"region":          "Baltic Sea",
		"critical_events": 0,
	})
	if len(calm) != 0 {
		t.Fatalf("actions = %v, want none for 0 critical events", actionTypes(calm))
	}
}

func TestSupplierRiskSeverityTiers(t *testing.T) {
	trigger := newTestTrigger(nil)

	high := trigger.Evaluate(context.Background(), "t1", "assess-supplier-risk", map[string]any{
		"supplier":   "Samsung",
		"risk_score": 75.0,
	})
	if len(high) != 1 || high[0].Severity != "HIGH" {
		t.Fatalf("actions = %+v, want one HIGH alert at score 75", high)
	}

	critical := trigger.Evaluate(context.Background(), "t1", "assess-supplier-risk", map[string]any{
		"supplier":   "TSMC",
		"risk_score": 95.0,
	})
	if len(critical) != 1 || critical[0].Severity != "CRITICAL" {
		t.Fatalf("actions = %+v, want one CRITICAL alert at score 95", critical)
	}

	low := trigger.Evaluate(context.Background(), "t1", "assess-supplier-risk", map[string]any{
		"supplier":   "Intel",
		"risk_score": 70.0,
	})
	if len(low) != 0 {
		t.Fatalf("actions = %v, score exactly 70 must not alert", actionTypes(low))
	}
}

func TestCrisisImpactEscalates(t *testing.T) {
	trigger := newTestTrigger(nil)

	actions := trigger.Evaluate(context.Background(), "t1", "simulate-crisis", map[string]any{
		"scenario":             "disruption in Taiwan",
		"estimated_impact_usd": 71550.0,
	})
	if !hasAction(actions, ActionEscalation) {
		t.Fatalf("actions = %v, want ESCALATION", actionTypes(actions))
	}
}

func TestSetThresholdsAppliesOnNextEvaluate(t *testing.T) {
	trigger := newTestTrigger(nil)

	result := map[string]any{"flight_number": "FDX134", "delay_minutes": 45}
	if hasAction(trigger.Evaluate(context.Background(), "t1", "track-flight", result), ActionHighRiskAlert) {
		t.Fatal("45 minute delay should not alert at the default 60 minute threshold")
	}

	lowered := config.Defaults().Thresholds
	lowered.DelayMinutes = 30
	trigger.SetThresholds(lowered)

	if !hasAction(trigger.Evaluate(context.Background(), "t1", "track-flight", result), ActionHighRiskAlert) {
		t.Fatal("45 minute delay should alert after lowering the threshold to 30")
	}
}

func TestEvaluateTraceResponseMarkers(t *testing.T) {
	store := &fakeActionStore{}
	trigger := newTestTrigger(store)

	cases := []struct {
		name     string
		response string
		want     int
	}{
		{"critical marker", "scan-geopolitical succeeded: 2 critical events in Taiwan Strait.", 1},
		{"high-risk marker", "high-risk exposure flagged for TSMC shipments.", 1},
		{"case insensitive", "CRITICAL congestion reported at anchorage.", 1},
		{"benign response", "track-flight succeeded. Executed 1 tool calls (1 succeeded, 0 failed).", 0},
		{"empty response", "", 0},
	}
	for _, tc := range cases {
		actions := trigger.EvaluateTrace(context.Background(), &trace.Trace{
			TraceID:  "t1",
			Response: tc.response,
		})
		if len(actions) != tc.want {
			t.Errorf("%s: emitted %v, want %d actions", tc.name, actionTypes(actions), tc.want)
			continue
		}
		if tc.want == 1 && actions[0].ActionType != ActionHighRiskAlert {
			t.Errorf("%s: action = %s, want HIGH_RISK_ALERT", tc.name, actions[0].ActionType)
		}
	}

	if trigger.EvaluateTrace(context.Background(), nil) != nil {
		t.Fatal("nil trace must emit nothing")
	}
}
