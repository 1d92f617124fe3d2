package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"
)

// AISStreamProvider queries an AIS position feed over its REST snapshot
// endpoint. The streaming subscription lives in the monitor; tool calls only
// need the latest known position.
type AISStreamProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAISStreamProvider(apiKey string, client *http.Client) *AISStreamProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &AISStreamProvider{
		apiKey:  apiKey,
		baseURL: "https://api.aisstream.io/v0",
		client:  client,
	}
}

func (p *AISStreamProvider) Name() string { return "aisstream" }

func (p *AISStreamProvider) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	if p.apiKey == "" {
		return nil, Unconfigured(p.Name(), "AISSTREAM_API_KEY not set")
	}
	mmsi := stringParam(params, "mmsi")
	if mmsi == "" {
		return nil, FatalErr(p.Name(), "mmsi parameter required", nil)
	}

	var body struct {
		MMSI        string  `json:"mmsi"`
		Name        string  `json:"name"`
		ShipType    string  `json:"ship_type"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		SpeedKnots  float64 `json:"sog"`
		Heading     float64 `json:"heading"`
		NavStatus   string  `json:"nav_status"`
		Destination string  `json:"destination"`
	}
	endpoint := fmt.Sprintf("%s/vessels/%s?apikey=%s", p.baseURL, mmsi, p.apiKey)
	if err := httpGetJSON(ctx, p.client, p.Name(), endpoint, &body); err != nil {
		return nil, err
	}
	if body.MMSI == "" {
		return nil, NotFoundErr(p.Name(), "no position for mmsi "+mmsi)
	}

	return map[string]any{
		"mmsi":        body.MMSI,
		"vessel_name": body.Name,
		"vessel_type": body.ShipType,
		"lat":         body.Latitude,
		"lon":         body.Longitude,
		"speed_knots": body.SpeedKnots,
		"heading":     body.Heading,
		"status":      body.NavStatus,
		"destination": body.Destination,
		"data_source": p.Name(),
	}, nil
}

type demoVessel struct {
	name        string
	vesselType  string
	lat, lon    float64
	speedKnots  float64
	status      string
	destination string
	region      string
	etaHours    int
}

var demoVessels = map[string]demoVessel{
	"353136000": {
		name: "EVER FORTUNE", vesselType: "container ship",
		lat: 22.55, lon: 119.85, speedKnots: 14.2,
		status: "under way using engine", destination: "KAOHSIUNG",
		region: "Taiwan Strait", etaHours: 9,
	},
	"477995900": {
		name: "OOCL HAMBURG", vesselType: "container ship",
		lat: 29.95, lon: 32.55, speedKnots: 0.1,
		status: "at anchor", destination: "ROTTERDAM",
		region: "Suez Canal", etaHours: 168,
	},
	"636019825": {
		name: "MAERSK DENVER", vesselType: "container ship",
		lat: 14.55, lon: 42.95, speedKnots: 18.1,
		status: "under way using engine", destination: "JEDDAH",
		region: "Red Sea", etaHours: 22,
	},
}

var demoRoutes = []demoVessel{
	{name: "PACIFIC TRADER", vesselType: "bulk carrier", lat: 1.26, lon: 103.82, speedKnots: 11.0, status: "under way using engine", destination: "SINGAPORE", region: "Strait of Malacca", etaHours: 14},
	{name: "ATLANTIC COURIER", vesselType: "container ship", lat: 36.14, lon: -5.35, speedKnots: 16.4, status: "under way using engine", destination: "ALGECIRAS", region: "Strait of Gibraltar", etaHours: 6},
	{name: "NORTHERN STAR", vesselType: "ro-ro cargo", lat: 51.95, lon: 4.05, speedKnots: 0.0, status: "moored", destination: "ROTTERDAM", region: "North Sea", etaHours: 0},
}

// DemoVesselProvider is the synthetic terminal provider for vessel tracking.
// Unknown MMSIs map deterministically onto a small set of plausible routes.
type DemoVesselProvider struct{}

func NewDemoVesselProvider() *DemoVesselProvider { return &DemoVesselProvider{} }

func (p *DemoVesselProvider) Name() string    { return "demo-vessel" }
func (p *DemoVesselProvider) Synthetic() bool { return true }

func (p *DemoVesselProvider) Fetch(_ context.Context, params map[string]any) (map[string]any, error) {
	mmsi := strings.TrimSpace(stringParam(params, "mmsi"))
	if mmsi == "" {
		mmsi = "000000000"
	}

	v, known := demoVessels[mmsi]
	if !known {
		h := fnv.New32a()
		_, _ = h.Write([]byte(mmsi))
		v = demoRoutes[int(h.Sum32())%len(demoRoutes)]
	}

	return map[string]any{
		"mmsi":        mmsi,
		"vessel_name": v.name,
		"vessel_type": v.vesselType,
		"lat":         v.lat,
		"lon":         v.lon,
		"speed_knots": v.speedKnots,
		"status":      v.status,
		"destination": v.destination,
		"region":      v.region,
		"eta_hours":   v.etaHours,
		"data_source": p.Name(),
	}, nil
}
