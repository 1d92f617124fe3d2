package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/chainwatch/internal/config"
	"github.com/basket/chainwatch/internal/persistence"
)

// Capability names for the risk tool family.
const (
	CapabilityRiskAnalysis = "risk-analysis"
	CapabilityCrisisSim    = "crisis-simulation"
	CapabilitySupplierRisk = "supplier-risk"
	CapabilityPrediction   = "predictive-analytics"
)

// OrderStore is the subset of the persistence layer the risk tools read.
type OrderStore interface {
	ListOrders(ctx context.Context, filter persistence.OrderFilter) ([]persistence.Order, error)
	InsertRiskPrediction(ctx context.Context, rec persistence.RiskPrediction) error
	ListRiskPredictions(ctx context.Context, target string, limit int) ([]persistence.RiskPrediction, error)
}

// severityMultipliers scale simulated crisis impact.
var severityMultipliers = map[string]float64{
	"mild":     0.3,
	"moderate": 0.6,
	"severe":   0.9,
}

var analyzeRisksSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"scope": {"type": "string"}
	},
	"additionalProperties": true
}`)

// NewAnalyzeRisksTool surveys open orders and reports aggregate exposure.
func NewAnalyzeRisksTool(store OrderStore, thresholds config.Thresholds) *Tool {
	return &Tool{
		Name:        "analyze-risks",
		Description: "Analyze open orders for aggregate supply chain risk exposure.",
		Capability:  CapabilityRiskAnalysis,
		Schema:      analyzeRisksSchema,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			filter := persistence.OrderFilter{}
			if scope, _ := params["scope"].(string); scope != "" {
				filter.Supplier = scope
			}
			orders, err := store.ListOrders(ctx, filter)
			if err != nil {
				return nil, fmt.Errorf("analyze-risks: %w", err)
			}

			var highRisk []persistence.Order
			var valueAtRisk float64
			for _, o := range orders {
				if o.RiskLevel == "high" || o.RiskLevel == "critical" {
					highRisk = append(highRisk, o)
					valueAtRisk += o.ValueUSD
				}
			}

			top := highRisk
			if len(top) > 5 {
				top = top[:5]
			}
			topOut := make([]map[string]any, 0, len(top))
			for _, o := range top {
				topOut = append(topOut, map[string]any{
					"order_id":   o.OrderID,
					"supplier":   o.Supplier,
					"value_usd":  o.ValueUSD,
					"risk_level": o.RiskLevel,
					"origin":     o.Origin,
				})
			}

			summary := "risk exposure nominal"
			if valueAtRisk > thresholds.EscalationValueUSD {
				summary = fmt.Sprintf("value at risk $%.2f exceeds escalation threshold", valueAtRisk)
			} else if len(highRisk) > thresholds.NotificationOrderCount {
				summary = fmt.Sprintf("%d high-risk orders exceed notification threshold", len(highRisk))
			}

			return map[string]any{
				"total_orders":           len(orders),
				"high_risk_orders":       len(highRisk),
				"total_value_at_risk":    valueAtRisk,
				"risk_summary":           summary,
				"top_risk_orders":        topOut,
				"escalation_recommended": valueAtRisk > thresholds.EscalationValueUSD,
			}, nil
		},
	}
}

var simulateCrisisSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"scenario": {"type": "string", "minLength": 3},
		"severity": {"type": "string", "enum": ["mild", "moderate", "severe"]}
	},
	"required": ["scenario"],
	"additionalProperties": true
}`)

// NewSimulateCrisisTool runs a what-if disruption against current orders.
func NewSimulateCrisisTool(store OrderStore, thresholds config.Thresholds) *Tool {
	return &Tool{
		Name:        "simulate-crisis",
		Description: "Simulate a disruption scenario and estimate financial impact on open orders.",
		Capability:  CapabilityCrisisSim,
		Schema:      simulateCrisisSchema,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			scenario, _ := params["scenario"].(string)
			severity, _ := params["severity"].(string)
			multiplier, ok := severityMultipliers[severity]
			if !ok {
				severity = "moderate"
				multiplier = severityMultipliers[severity]
			}

			orders, err := store.ListOrders(ctx, persistence.OrderFilter{})
			if err != nil {
				return nil, fmt.Errorf("simulate-crisis: %w", err)
			}

			var exposed float64
			var affected int
			scenarioLower := strings.ToLower(scenario)
			for _, o := range orders {
				if affectsOrder(scenarioLower, o) {
					exposed += o.ValueUSD
					affected++
				}
			}
			impact := exposed * multiplier

			recommendations := []string{"monitor affected lanes daily"}
			if impact > thresholds.CrisisImpactUSD {
				recommendations = append(recommendations,
					"diversify suppliers away from affected region",
					"pre-position safety stock for critical components")
			}
			if impact > thresholds.EscalationValueUSD {
				recommendations = append(recommendations, "escalate to supply chain leadership")
			}

			return map[string]any{
				"scenario":             scenario,
				"severity":             severity,
				"severity_multiplier":  multiplier,
				"affected_orders":      affected,
				"exposed_value_usd":    exposed,
				"estimated_impact_usd": impact,
				"recommendations":      recommendations,
			}, nil
		},
	}
}

// affectsOrder decides whether a scenario touches an order. Matching is
// keyword-based over origin, destination and supplier.
func affectsOrder(scenario string, o persistence.Order) bool {
	fields := strings.ToLower(o.Origin + " " + o.Destination + " " + o.Supplier)
	for _, token := range strings.Fields(scenario) {
		token = strings.Trim(token, "_-")
		if len(token) < 4 {
			continue
		}
		if strings.Contains(fields, token) {
			return true
		}
	}
	// Broad scenarios hit everything in transit.
	return strings.Contains(scenario, "global") || strings.Contains(scenario, "pandemic")
}

var assessSupplierSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"supplier": {"type": "string", "minLength": 2}
	},
	"required": ["supplier"],
	"additionalProperties": true
}`)

// NewAssessSupplierRiskTool scores a single supplier from order history and
// regional exposure.
func NewAssessSupplierRiskTool(store OrderStore, thresholds config.Thresholds, highRiskRegions []string) *Tool {
	return &Tool{
		Name:        "assess-supplier-risk",
		Description: "Score a supplier's risk from order history and regional exposure.",
		Capability:  CapabilitySupplierRisk,
		Schema:      assessSupplierSchema,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			supplier, _ := params["supplier"].(string)
			orders, err := store.ListOrders(ctx, persistence.OrderFilter{Supplier: supplier})
			if err != nil {
				return nil, fmt.Errorf("assess-supplier-risk: %w", err)
			}

			score := supplierRiskScore(supplier, orders, highRiskRegions)
			level := "low"
			switch {
			case score > float64(thresholds.SupplierCriticalScore):
				level = "critical"
			case score > float64(thresholds.SupplierRiskScore):
				level = "high"
			case score > 40:
				level = "medium"
			}

			var exposure float64
			for _, o := range orders {
				exposure += o.ValueUSD
			}

			return map[string]any{
				"supplier":      supplier,
				"risk_score":    score,
				"risk_level":    level,
				"open_orders":   len(orders),
				"exposure_usd":  exposure,
				"alert":         score > float64(thresholds.SupplierRiskScore),
				"critical":      score > float64(thresholds.SupplierCriticalScore),
				"scored_at_utc": time.Now().UTC().Format(time.RFC3339),
			}, nil
		},
	}
}

// supplierRiskScore is deterministic: base exposure plus order risk plus
// regional surcharge, capped at 100.
func supplierRiskScore(supplier string, orders []persistence.Order, highRiskRegions []string) float64 {
	score := 30.0
	inHighRisk := false
	for _, o := range orders {
		switch o.RiskLevel {
		case "critical":
			score += 15
		case "high":
			score += 10
		case "medium":
			score += 4
		}
		for _, region := range highRiskRegions {
			if strings.Contains(strings.ToLower(o.Origin), strings.ToLower(region)) {
				inHighRisk = true
			}
		}
	}
	if inHighRisk {
		score += 25
	}
	// Name-based regional hint covers suppliers with no open orders yet.
	lower := strings.ToLower(supplier)
	if strings.Contains(lower, "tsmc") || strings.Contains(lower, "taiwan") {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

var predictiveSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"target": {"type": "string", "minLength": 2},
		"horizon_days": {"type": "integer", "minimum": 1, "maximum": 90}
	},
	"required": ["target"],
	"additionalProperties": true
}`)

// NewPredictiveAnalyticsTool projects forward risk for a target and stores
// the prediction.
func NewPredictiveAnalyticsTool(store OrderStore, thresholds config.Thresholds, highRiskRegions []string) *Tool {
	return &Tool{
		Name:        "predictive-analytics",
		Description: "Project forward-looking risk for a supplier or region and store the prediction.",
		Capability:  CapabilityPrediction,
		Schema:      predictiveSchema,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			target, _ := params["target"].(string)
			horizon := 7
			if raw, ok := params["horizon_days"]; ok {
				switch v := raw.(type) {
				case float64:
					horizon = int(v)
				case int:
					horizon = v
				case json.Number:
					if n, err := v.Int64(); err == nil {
						horizon = int(n)
					}
				}
			}

			orders, err := store.ListOrders(ctx, persistence.OrderFilter{Supplier: target})
			if err != nil {
				return nil, fmt.Errorf("predictive-analytics: %w", err)
			}
			if len(orders) == 0 {
				// Region targets match on origin instead.
				all, err := store.ListOrders(ctx, persistence.OrderFilter{})
				if err != nil {
					return nil, fmt.Errorf("predictive-analytics: %w", err)
				}
				for _, o := range all {
					if strings.Contains(strings.ToLower(o.Origin), strings.ToLower(target)) {
						orders = append(orders, o)
					}
				}
			}

			base := supplierRiskScore(target, orders, highRiskRegions)
			// Longer horizons carry more uncertainty: drift the score up and
			// the confidence down.
			drift := float64(horizon) * 0.5
			score := base + drift
			if score > 100 {
				score = 100
			}
			confidence := 0.9 - float64(horizon)*0.01
			if confidence < 0.4 {
				confidence = 0.4
			}

			factors := riskFactors(orders, highRiskRegions)
			factorsJSON, _ := json.Marshal(factors)

			rec := persistence.RiskPrediction{
				PredictionID: uuid.NewString(),
				Target:       target,
				HorizonDays:  horizon,
				RiskScore:    score,
				Confidence:   confidence,
				Factors:      string(factorsJSON),
				CreatedAt:    time.Now().UTC(),
			}
			if err := store.InsertRiskPrediction(ctx, rec); err != nil {
				return nil, fmt.Errorf("predictive-analytics: store prediction: %w", err)
			}

			return map[string]any{
				"prediction_id": rec.PredictionID,
				"target":        target,
				"horizon_days":  horizon,
				"risk_score":    score,
				"confidence":    confidence,
				"factors":       factors,
				"high_risk":     score > float64(thresholds.SupplierRiskScore),
			}, nil
		},
	}
}

func riskFactors(orders []persistence.Order, highRiskRegions []string) []string {
	factorSet := map[string]struct{}{}
	for _, o := range orders {
		if o.RiskLevel == "high" || o.RiskLevel == "critical" {
			factorSet["elevated order risk levels"] = struct{}{}
		}
		for _, region := range highRiskRegions {
			if strings.Contains(strings.ToLower(o.Origin), strings.ToLower(region)) {
				factorSet["origin in high-risk region: "+region] = struct{}{}
			}
		}
	}
	if len(factorSet) == 0 {
		factorSet["no elevated factors detected"] = struct{}{}
	}
	factors := make([]string, 0, len(factorSet))
	for f := range factorSet {
		factors = append(factors, f)
	}
	sort.Strings(factors)
	return factors
}
