package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GDELTProvider queries the GDELT document API for recent events mentioning
// a region. No credentials required.
type GDELTProvider struct {
	client *http.Client
}

func NewGDELTProvider(client *http.Client) *GDELTProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GDELTProvider{client: client}
}

func (p *GDELTProvider) Name() string { return "gdelt" }

func (p *GDELTProvider) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	region := stringParam(params, "region")
	if region == "" {
		return nil, FatalErr(p.Name(), "region parameter required", nil)
	}

	query := url.QueryEscape(fmt.Sprintf("%s (conflict OR blockade OR sanctions OR disruption)", region))
	endpoint := fmt.Sprintf(
		"https://api.gdeltproject.org/api/v2/doc/doc?query=%s&mode=artlist&maxrecords=10&format=json",
		query,
	)
	var body struct {
		Articles []struct {
			Title    string `json:"title"`
			URL      string `json:"url"`
			SeenDate string `json:"seendate"`
			Domain   string `json:"domain"`
		} `json:"articles"`
	}
	if err := httpGetJSON(ctx, p.client, p.Name(), endpoint, &body); err != nil {
		return nil, err
	}
	if len(body.Articles) == 0 {
		return nil, NotFoundErr(p.Name(), "no recent events for "+region)
	}

	events := make([]map[string]any, 0, len(body.Articles))
	critical := 0
	for _, a := range body.Articles {
		severity := severityFromTitle(a.Title)
		if severity == "critical" {
			critical++
		}
		events = append(events, map[string]any{
			"title":    a.Title,
			"url":      a.URL,
			"date":     a.SeenDate,
			"source":   a.Domain,
			"severity": severity,
		})
	}
	return map[string]any{
		"region":          region,
		"events":          events,
		"critical_events": critical,
		"risk_level":      riskLevelFor(critical, len(events)),
		"data_source":     p.Name(),
	}, nil
}

// NewsAPIProvider queries NewsAPI for regional headlines. Needs an API key.
type NewsAPIProvider struct {
	apiKey string
	client *http.Client
}

func NewNewsAPIProvider(apiKey string, client *http.Client) *NewsAPIProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &NewsAPIProvider{apiKey: apiKey, client: client}
}

func (p *NewsAPIProvider) Name() string { return "newsapi" }

func (p *NewsAPIProvider) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	if p.apiKey == "" {
		return nil, Unconfigured(p.Name(), "NEWSAPI_API_KEY not set")
	}
	region := stringParam(params, "region")
	if region == "" {
		return nil, FatalErr(p.Name(), "region parameter required", nil)
	}

	endpoint := fmt.Sprintf(
		"https://newsapi.org/v2/everything?q=%s&sortBy=publishedAt&pageSize=10&apiKey=%s",
		url.QueryEscape(region+" supply chain"), url.QueryEscape(p.apiKey),
	)
	var body struct {
		Status   string `json:"status"`
		Articles []struct {
			Title       string `json:"title"`
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
		return nil, NotFoundErr(p.Name(), "no headlines for "+region)
	}

	events := make([]map[string]any, 0, len(body.Articles))
	critical := 0
	for _, a := range body.Articles {
		severity := severityFromTitle(a.Title)
		if severity == "critical" {
			critical++
		}
		events = append(events, map[string]any{
			"title":    a.Title,
			"url":      a.URL,
			"date":     a.PublishedAt,
			"source":   a.Source.Name,
			"severity": severity,
		})
	}
	return map[string]any{
		"region":          region,
		"events":          events,
		"critical_events": critical,
		"risk_level":      riskLevelFor(critical, len(events)),
		"data_source":     p.Name(),
	}, nil
}

func severityFromTitle(title string) string {
	lower := strings.ToLower(title)
	criticalMarkers := []string{"war", "attack", "blockade", "invasion", "missile", "strike", "closure"}
	for _, m := range criticalMarkers {
		if strings.Contains(lower, m) {
			return "critical"
		}
	}
	elevatedMarkers := []string{"sanctions", "tension", "protest", "shortage", "congestion", "delay"}
	for _, m := range elevatedMarkers {
		if strings.Contains(lower, m) {
			return "elevated"
		}
	}
	return "low"
}

func riskLevelFor(critical, total int) string {
	switch {
	case critical >= 2:
		return "critical"
	case critical == 1:
		return "high"
	case total >= 5:
		return "medium"
	default:
		return "low"
	}
}

type demoRegion struct {
	riskLevel string
	events    []map[string]any
}

var demoRegions = map[string]demoRegion{
	"taiwan strait": {
		riskLevel: "critical",
		events: []map[string]any{
			{"title": "Military exercises announced near Taiwan Strait shipping lanes", "severity": "critical", "source": "demo"},
			{"title": "Carriers reroute container traffic around exercise zone", "severity": "critical", "source": "demo"},
			{"title": "Semiconductor exporters warn of transit delays", "severity": "elevated", "source": "demo"},
		},
	},
	"red sea": {
		riskLevel: "critical",
		events: []map[string]any{
			{"title": "Attack reported on commercial vessel in southern Red Sea", "severity": "critical", "source": "demo"},
			{"title": "Insurers raise war risk premiums for Red Sea transits", "severity": "elevated", "source": "demo"},
		},
	},
	"suez canal": {
		riskLevel: "high",
		events: []map[string]any{
			{"title": "Convoy scheduling causes northbound congestion at Suez", "severity": "elevated", "source": "demo"},
			{"title": "Transit wait times double amid rerouted traffic", "severity": "elevated", "source": "demo"},
		},
	},
	"south china sea": {
		riskLevel: "high",
		events: []map[string]any{
			{"title": "Naval patrols increase near disputed shipping corridor", "severity": "critical", "source": "demo"},
		},
	},
}

// DemoGeoProvider is the synthetic terminal provider for geopolitical scans.
type DemoGeoProvider struct{}

func NewDemoGeoProvider() *DemoGeoProvider { return &DemoGeoProvider{} }

func (p *DemoGeoProvider) Name() string    { return "demo-geo" }
func (p *DemoGeoProvider) Synthetic() bool { return true }

func (p *DemoGeoProvider) Fetch(_ context.Context, params map[string]any) (map[string]any, error) {
	region := stringParam(params, "region")
	if region == "" {
		region = "global"
	}

	entry, known := demoRegions[strings.ToLower(strings.TrimSpace(region))]
	if !known {
		entry = demoRegion{
			riskLevel: "low",
			events: []map[string]any{
				{"title": "No significant disruptions reported for " + region, "severity": "low", "source": "demo"},
			},
		}
	}

	critical := 0
	for _, ev := range entry.events {
		if ev["severity"] == "critical" {
			critical++
		}
	}
	return map[string]any{
		"region":          region,
		"events":          entry.events,
		"critical_events": critical,
		"risk_level":      entry.riskLevel,
		"data_source":     p.Name(),
	}, nil
}
