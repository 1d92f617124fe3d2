package tools

import (
	"context"
	"encoding/json"

	"github.com/basket/chainwatch/internal/provider"
)

// CapabilitySearch names the search-intelligence capability for the loop's
// once-per-trace accounting.
const CapabilitySearch = "search"

var searchEventsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 2},
		"search_type": {
			"type": "string",
			"enum": ["supply_chain", "news", "vessel", "flight", "geopolitical"]
		}
	},
	"required": ["query"],
	"additionalProperties": true
}`)

// NewSearchEventsTool builds the search intelligence tool on top of a
// provider chain.
func NewSearchEventsTool(chain *provider.Chain) *Tool {
	return &Tool{
		Name:        "search-events",
		Description: "Search news and web sources for supply chain intelligence on a query, with relevance scoring and extracted insights.",
		Capability:  CapabilitySearch,
		Schema:      searchEventsSchema,
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
