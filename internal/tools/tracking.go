package tools

import (
	"context"
	"encoding/json"

	"github.com/basket/chainwatch/internal/provider"
)

// Capability names shared by the tracking tools and the reasoning loop's
// once-per-trace accounting.
const (
	CapabilityFlight = "flight-tracking"
	CapabilityVessel = "vessel-tracking"
	CapabilityGeo    = "geopolitical"
)

var trackFlightSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"flight_number": {"type": "string", "minLength": 2}
	},
	"required": ["flight_number"],
	"additionalProperties": true
}`)

// NewTrackFlightTool builds the flight tracking tool on top of a provider
// chain.
func NewTrackFlightTool(chain *provider.Chain) *Tool {
	return &Tool{
		Name:        "track-flight",
		Description: "Track a cargo or commercial flight by flight number, including delay and financial impact.",
		Capability:  CapabilityFlight,
		Schema:      trackFlightSchema,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			result, providerName, err := chain.Execute(ctx, params)
			if err != nil {
				return nil, err
			}
			result["provider"] = providerName
			return result, nil
		},
	}
}

var trackVesselSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"mmsi": {"type": "string", "pattern": "^[0-9]{6,9}$"}
	},
	"required": ["mmsi"],
	"additionalProperties": true
}`)

// NewTrackVesselTool builds the vessel tracking tool.
func NewTrackVesselTool(chain *provider.Chain) *Tool {
	return &Tool{
		Name:        "track-vessel",
		Description: "Track a cargo vessel by MMSI, including position, status and destination.",
		Capability:  CapabilityVessel,
		Schema:      trackVesselSchema,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			result, providerName, err := chain.Execute(ctx, params)
			if err != nil {
				return nil, err
			}
			result["provider"] = providerName
			return result, nil
		},
	}
}

var scanGeoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"region": {"type": "string", "minLength": 2}
	},
	"required": ["region"],
	"additionalProperties": true
}`)

// NewScanGeopoliticalTool builds the geopolitical event scan tool.
func NewScanGeopoliticalTool(chain *provider.Chain) *Tool {
	return &Tool{
		Name:        "scan-geopolitical",
		Description: "Scan a region for geopolitical events that could disrupt supply routes.",
		Capability:  CapabilityGeo,
		Schema:      scanGeoSchema,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			result, providerName, err := chain.Execute(ctx, params)
			if err != nil {
				return nil, err
			}
			result["provider"] = providerName
			return result, nil
		},
	}
}
