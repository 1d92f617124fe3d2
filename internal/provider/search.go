package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Search result payloads are normalized across providers: query, search_type,
// total_results, a results list with relevance scores, and extracted
// supply-chain insights.

// searchTypeTerms enriches a raw query with supply-chain context before it
// hits a general-purpose search engine.
var searchTypeTerms = map[string]string{
	"supply_chain": "supply chain logistics shipping freight",
	"news":         "supply chain news latest updates",
	"vessel":       "ship vessel maritime port cargo",
	"flight":       "flight aircraft aviation cargo freight",
	"geopolitical": "geopolitical disruption conflict strike sanctions",
}

func enhanceSearchQuery(query, searchType string) string {
	terms, ok := searchTypeTerms[searchType]
	if !ok {
		terms = "supply chain"
	}
	lower := strings.ToLower(query)
	for _, term := range strings.Fields(terms) {
		if strings.Contains(lower, term) {
			return query
		}
	}
	return query + " " + terms
}

// searchRelevance scores one result against the query: title hits weigh
// double, supply-chain keywords add a half point each.
func searchRelevance(title, snippet, query string) float64 {
	title = strings.ToLower(title)
	snippet = strings.ToLower(snippet)
	score := 0.0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(title, term) {
			score += 2.0
		}
		if strings.Contains(snippet, term) {
			score += 1.0
		}
	}
	content := title + " " + snippet
	for _, keyword := range []string{"supply chain", "logistics", "shipping", "port", "cargo", "freight"} {
		if strings.Contains(content, keyword) {
			score += 0.5
		}
	}
	return math.Round(score*100) / 100
}

var insightMarkers = []struct {
	category string
	markers  []string
}{
	{"disruption_indicators", []string{"delay", "strike", "closure", "disruption", "shortage", "congestion", "blocked"}},
	{"market_trends", []string{"growth", "increase", "decrease", "trend", "market", "demand", "price"}},
	{"risk_factors", []string{"risk", "threat", "warning", "alert", "concern", "crisis"}},
}

// searchInsights scans the top results for disruption, trend and risk
// markers. Each result contributes at most one hit per category.
func searchInsights(results []map[string]any) map[string]any {
	out := make(map[string]any, len(insightMarkers))
	for _, group := range insightMarkers {
		hits := []map[string]any{}
		for i, r := range results {
			if i >= 5 {
				break
			}
			content := strings.ToLower(stringParam(r, "title") + " " + stringParam(r, "snippet"))
			for _, marker := range group.markers {
				if strings.Contains(content, marker) {
					hits = append(hits, map[string]any{
						"indicator": marker,
						"source":    stringParam(r, "title"),
						"url":       stringParam(r, "url"),
					})
					break
				}
			}
		}
		out[group.category] = hits
	}
	return out
}

func searchResult(title, snippet, link, source, date, query string) map[string]any {
	return map[string]any{
		"title":           title,
		"snippet":         snippet,
		"url":             link,
		"source":          source,
		"date":            date,
		"relevance_score": searchRelevance(title, snippet, query),
	}
}

func searchPayload(query, searchType string, results []map[string]any, source string) map[string]any {
	return map[string]any{
		"query":         query,
		"search_type":   searchType,
		"total_results": len(results),
		"results":       results,
		"insights":      searchInsights(results),
		"data_source":   source,
	}
}

func searchTypeParam(params map[string]any) string {
	if t := stringParam(params, "search_type"); t != "" {
		return t
	}
	return "supply_chain"
}

// SerpAPIProvider runs the query through SerpAPI's Google engine. Needs an
// API key.
type SerpAPIProvider struct {
	apiKey string
	client *http.Client
}

func NewSerpAPIProvider(apiKey string, client *http.Client) *SerpAPIProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SerpAPIProvider{apiKey: apiKey, client: client}
}

func (p *SerpAPIProvider) Name() string { return "serpapi" }

func (p *SerpAPIProvider) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	if p.apiKey == "" {
		return nil, Unconfigured(p.Name(), "SERPAPI_API_KEY not set")
	}
	query := stringParam(params, "query")
	if query == "" {
		return nil, FatalErr(p.Name(), "query parameter required", nil)
	}
	searchType := searchTypeParam(params)

	endpoint := fmt.Sprintf(
		"https://serpapi.com/search?engine=google&q=%s&num=10&api_key=%s",
		url.QueryEscape(enhanceSearchQuery(query, searchType)), url.QueryEscape(p.apiKey),
	)
	if searchType == "news" {
		endpoint += "&tbm=nws"
	}

	type serpEntry struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
		Source  string `json:"source"`
		Date    string `json:"date"`
	}
	var body struct {
		OrganicResults []serpEntry `json:"organic_results"`
		NewsResults    []serpEntry `json:"news_results"`
	}
	if err := httpGetJSON(ctx, p.client, p.Name(), endpoint, &body); err != nil {
		return nil, err
	}

	raw := body.OrganicResults
	if searchType == "news" {
		raw = body.NewsResults
	}
	if len(raw) == 0 {
		return nil, NotFoundErr(p.Name(), "no results for "+query)
	}

	results := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		results = append(results, searchResult(e.Title, e.Snippet, e.Link, e.Source, e.Date, query))
	}
	return searchPayload(query, searchType, results, p.Name()), nil
}

// NewsSearchProvider runs the query through NewsAPI's everything endpoint.
// Needs an API key.
type NewsSearchProvider struct {
	apiKey string
	client *http.Client
}

func NewNewsSearchProvider(apiKey string, client *http.Client) *NewsSearchProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &NewsSearchProvider{apiKey: apiKey, client: client}
}

func (p *NewsSearchProvider) Name() string { return "newsapi-search" }

func (p *NewsSearchProvider) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	if p.apiKey == "" {
		return nil, Unconfigured(p.Name(), "NEWSAPI_API_KEY not set")
	}
	query := stringParam(params, "query")
	if query == "" {
		return nil, FatalErr(p.Name(), "query parameter required", nil)
	}
	searchType := searchTypeParam(params)

	endpoint := fmt.Sprintf(
		"https://newsapi.org/v2/everything?q=%s&sortBy=publishedAt&pageSize=10&language=en&apiKey=%s",
		url.QueryEscape(enhanceSearchQuery(query, "news")), url.QueryEscape(p.apiKey),
	)
	var body struct {
		Status   string `json:"status"`
		Articles []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			PublishedAt string `json:"publishedAt"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := httpGetJSON(ctx, p.client, p.Name(), endpoint, &body); err != nil {
		return nil, err
	}
	if body.Status != "ok" {
		return nil, TransientErr(p.Name(), "upstream status "+body.Status, nil)
	}
	if len(body.Articles) == 0 {
		return nil, NotFoundErr(p.Name(), "no results for "+query)
	}

	results := make([]map[string]any, 0, len(body.Articles))
	for _, a := range body.Articles {
		results = append(results, searchResult(a.Title, a.Description, a.URL, a.Source.Name, a.PublishedAt, query))
	}
	return searchPayload(query, searchType, results, p.Name()), nil
}

// DemoSearchProvider is the synthetic terminal provider for search. It never
// fails: every query gets three deterministic results whose snippets carry
// one marker per insight category.
type DemoSearchProvider struct{}

func NewDemoSearchProvider() *DemoSearchProvider { return &DemoSearchProvider{} }

func (p *DemoSearchProvider) Name() string    { return "demo-search" }
func (p *DemoSearchProvider) Synthetic() bool { return true }

func (p *DemoSearchProvider) Fetch(_ context.Context, params map[string]any) (map[string]any, error) {
	query := stringParam(params, "query")
	if query == "" {
		query = "global supply chain"
	}
	searchType := searchTypeParam(params)

	results := []map[string]any{
		{
			"title":           "Supply Chain Update: " + query,
			"snippet":         "Latest developments in " + query + " affecting global logistics, with carriers reporting congestion on key lanes.",
			"url":             "https://example.com/supply-chain-update",
			"source":          "demo",
			"date":            "",
			"relevance_score": 8.5,
		},
		{
			"title":           "Market Analysis: " + query + " impact",
			"snippet":         "Analysts track demand and price trends tied to " + query + " across transportation networks.",
			"url":             "https://example.com/market-analysis",
			"source":          "demo",
			"date":            "",
			"relevance_score": 7.2,
		},
		{
			"title":           "Risk Briefing: " + query,
			"snippet":         "Risk factors and warnings around " + query + " for supply chain planners.",
			"url":             "https://example.com/risk-briefing",
			"source":          "demo",
			"date":            "",
			"relevance_score": 6.8,
		},
	}
	return searchPayload(query, searchType, results, p.Name()), nil
}
