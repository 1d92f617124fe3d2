package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/chainwatch/internal/provider"
)

func newSearchRegistry(t *testing.T) *Registry {
	t.Helper()
	chain, err := provider.NewChain(CapabilitySearch, 0, nil, nil, provider.NewDemoSearchProvider())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	reg := NewRegistry(nil, nil)
	if err := reg.Register(NewSearchEventsTool(chain)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestSearchEventsRejectsMissingQuery(t *testing.T) {
	reg := newSearchRegistry(t)
	_, err := reg.Execute(context.Background(), "t1", "search-events", map[string]any{})
	var invalid *InvalidParamsError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidParamsError", err)
	}
}

func TestSearchEventsRejectsBadSearchType(t *testing.T) {
	reg := newSearchRegistry(t)
	_, err := reg.Execute(context.Background(), "t1", "search-events", map[string]any{
		"query":       "chip shortage",
		"search_type": "everything",
	})
	var invalid *InvalidParamsError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidParamsError for enum violation", err)
	}
}

func TestSearchEventsReturnsScoredResults(t *testing.T) {
	reg := newSearchRegistry(t)
	result, err := reg.Execute(context.Background(), "t1", "search-events", map[string]any{
		"query":       "chip shortage",
		"search_type": "news",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["total_results"] != 3 {
		t.Fatalf("total_results = %v, want 3 demo results", result["total_results"])
	}
	if result["provider"] != "demo-search" {
		t.Fatalf("provider = %v, want demo-search", result["provider"])
	}
	if result["search_type"] != "news" {
		t.Fatalf("search_type = %v, want news", result["search_type"])
	}

	tool, ok := reg.Lookup("search-events")
	if !ok {
		t.Fatal("search-events not registered")
	}
	if tool.Capability != CapabilitySearch {
		t.Fatalf("capability = %s, want %s", tool.Capability, CapabilitySearch)
	}
}
