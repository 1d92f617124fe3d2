package provider

import (
	"context"
	"errors"
	"testing"
)

func TestSerpAPIRequiresKey(t *testing.T) {
	p := NewSerpAPIProvider("", nil)
	_, err := p.Fetch(context.Background(), map[string]any{"query": "port congestion"})
	if KindOf(err) != KindUnconfigured {
		t.Fatalf("err = %v, want UNCONFIGURED", err)
	}
}

func TestNewsSearchRequiresKey(t *testing.T) {
	p := NewNewsSearchProvider("", nil)
	_, err := p.Fetch(context.Background(), map[string]any{"query": "port congestion"})
	if KindOf(err) != KindUnconfigured {
		t.Fatalf("err = %v, want UNCONFIGURED", err)
	}
}

func TestSerpAPIRequiresQuery(t *testing.T) {
	p := NewSerpAPIProvider("key", nil)
	_, err := p.Fetch(context.Background(), map[string]any{})
	if KindOf(err) != KindFatal {
		t.Fatalf("err = %v, want FATAL for missing query", err)
	}
}

func TestDemoSearchIsDeterministic(t *testing.T) {
	p := NewDemoSearchProvider()
	params := map[string]any{"query": "Taiwan Strait shipping"}

	first, err := p.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	second, err := p.Fetch(context.Background(), params)
	if err != nil {
		t.Fatalf("Fetch again: %v", err)
	}

	if first["total_results"] != 3 || second["total_results"] != 3 {
		t.Fatalf("total_results = %v / %v, want 3", first["total_results"], second["total_results"])
	}
	if first["search_type"] != "supply_chain" {
		t.Fatalf("search_type = %v, want supply_chain default", first["search_type"])
	}

	results := first["results"].([]map[string]any)
	if results[0]["relevance_score"] != 8.5 {
		t.Fatalf("top relevance = %v, want 8.5", results[0]["relevance_score"])
	}

	// The canned snippets carry one marker per insight category.
	insights := first["insights"].(map[string]any)
	for _, category := range []string{"disruption_indicators", "market_trends", "risk_factors"} {
		hits := insights[category].([]map[string]any)
		if len(hits) == 0 {
			t.Errorf("insights[%s] empty, want at least one hit", category)
		}
	}
}

func TestSearchChainFallsThroughToDemo(t *testing.T) {
	chain, err := NewChain("search", 0, nil,
		[]Provider{
			NewSerpAPIProvider("", nil),
			NewNewsSearchProvider("", nil),
		},
		NewDemoSearchProvider(),
	)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	result, providerName, err := chain.Execute(context.Background(), map[string]any{"query": "red sea reroute"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if providerName != "demo-search" {
		t.Fatalf("provider = %s, want demo-search after unconfigured rungs", providerName)
	}
	if result["query"] != "red sea reroute" {
		t.Fatalf("query = %v", result["query"])
	}
}

func TestEnhanceSearchQuery(t *testing.T) {
	cases := []struct {
		query      string
		searchType string
		want       string
	}{
		{"TSMC orders", "supply_chain", "TSMC orders supply chain logistics shipping freight"},
		{"Suez canal shipping rates", "supply_chain", "Suez canal shipping rates"},
		{"OOCL HAMBURG", "vessel", "OOCL HAMBURG ship vessel maritime port cargo"},
		{"chip shortage", "unknown-type", "chip shortage supply chain"},
	}
	for _, tc := range cases {
		if got := enhanceSearchQuery(tc.query, tc.searchType); got != tc.want {
			t.Errorf("enhanceSearchQuery(%q, %q) = %q, want %q", tc.query, tc.searchType, got, tc.want)
		}
	}
}

func TestSearchRelevance(t *testing.T) {
	// "port" in title: +2 query term, +0.5 keyword. "congestion" in both: +3.
	got := searchRelevance("Port congestion worsens", "Congestion delays cargo", "port congestion")
	if got != 6.0 {
		t.Fatalf("searchRelevance = %v, want 6.0", got)
	}
	if got := searchRelevance("Unrelated headline", "nothing to see", "port congestion"); got != 0 {
		t.Fatalf("searchRelevance = %v, want 0 for no overlap", got)
	}
}

func TestSearchInsightsOneHitPerCategory(t *testing.T) {
	results := []map[string]any{
		{"title": "Strike closes terminal", "snippet": "Dockworker strike and closure halt operations", "url": "u1"},
		{"title": "Freight price trends", "snippet": "Spot market demand shifts", "url": "u2"},
	}
	insights := searchInsights(results)

	disruptions := insights["disruption_indicators"].([]map[string]any)
	if len(disruptions) != 1 {
		t.Fatalf("disruption hits = %d, want 1 per matching result", len(disruptions))
	}
	if disruptions[0]["indicator"] != "strike" {
		t.Fatalf("indicator = %v, want first marker matched", disruptions[0]["indicator"])
	}
	trends := insights["market_trends"].([]map[string]any)
	if len(trends) != 1 {
		t.Fatalf("trend hits = %d, want 1", len(trends))
	}
	if len(insights["risk_factors"].([]map[string]any)) != 0 {
		t.Fatal("risk_factors should be empty for these results")
	}
}

func TestSearchChainAbortsOnFatal(t *testing.T) {
	chain, err := NewChain("search", 0, nil,
		[]Provider{NewSerpAPIProvider("key", nil)},
		NewDemoSearchProvider(),
	)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	// Missing query is fatal on the first rung; the chain must not fall
	// through to the demo provider.
	_, _, err = chain.Execute(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("Execute succeeded, want fatal abort")
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindFatal {
		t.Fatalf("err = %v, want wrapped FATAL", err)
	}
}
