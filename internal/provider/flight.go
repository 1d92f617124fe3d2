package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// cargoPrefixes identify freighter operators for financial impact estimates.
var cargoPrefixes = []string{"FDX", "UPS", "DHL", "CX", "LH"}

const (
	cargoImpactPerHourUSD      = 5000.0
	commercialImpactPerHourUSD = 1000.0
)

func isCargoFlight(flightNumber string) bool {
	upper := strings.ToUpper(flightNumber)
	for _, prefix := range cargoPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// delayImpactUSD estimates the financial impact of a delay.
func delayImpactUSD(flightNumber string, delayMinutes int) float64 {
	if delayMinutes <= 0 {
		return 0
	}
	hours := float64(delayMinutes) / 60.0
	if isCargoFlight(flightNumber) {
		return hours * cargoImpactPerHourUSD
	}
	return hours * commercialImpactPerHourUSD
}

// AviationStackProvider queries the AviationStack flights API.
type AviationStackProvider struct {
	apiKey string
	client *http.Client
}

func NewAviationStackProvider(apiKey string, client *http.Client) *AviationStackProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &AviationStackProvider{apiKey: apiKey, client: client}
}

func (p *AviationStackProvider) Name() string { return "aviationstack" }

func (p *AviationStackProvider) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	if p.apiKey == "" {
		return nil, Unconfigured(p.Name(), "AVIATIONSTACK_API_KEY not set")
	}
	flightNumber := stringParam(params, "flight_number")
	if flightNumber == "" {
		return nil, FatalErr(p.Name(), "flight_number parameter required", nil)
	}

	endpoint := fmt.Sprintf(
		"https://api.aviationstack.com/v1/flights?access_key=%s&flight_iata=%s&limit=1",
		url.QueryEscape(p.apiKey), url.QueryEscape(flightNumber),
	)
	var body struct {
		Data []struct {
			FlightStatus string `json:"flight_status"`
			Airline      struct {
				Name string `json:"name"`
			} `json:"airline"`
			Departure struct {
				Airport string `json:"airport"`
				IATA    string `json:"iata"`
				Delay   int    `json:"delay"`
			} `json:"departure"`
			Arrival struct {
				Airport string `json:"airport"`
				IATA    string `json:"iata"`
			} `json:"arrival"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, p.client, p.Name(), endpoint, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, NotFoundErr(p.Name(), "flight not found: "+flightNumber)
	}

	f := body.Data[0]
	delay := f.Departure.Delay
	return map[string]any{
		"flight_number":        strings.ToUpper(flightNumber),
		"airline":              f.Airline.Name,
		"status":               f.FlightStatus,
		"origin":               f.Departure.Airport,
		"origin_iata":          f.Departure.IATA,
		"destination":          f.Arrival.Airport,
		"destination_iata":     f.Arrival.IATA,
		"delay_minutes":        delay,
		"is_cargo":             isCargoFlight(flightNumber),
		"financial_impact_usd": delayImpactUSD(flightNumber, delay),
		"data_source":          p.Name(),
	}, nil
}

// OpenSkyProvider queries the OpenSky state vectors API. No credentials
// needed, but it only knows airborne aircraft, so ground delays read as
// not found.
type OpenSkyProvider struct {
	client *http.Client
}

func NewOpenSkyProvider(client *http.Client) *OpenSkyProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OpenSkyProvider{client: client}
}

func (p *OpenSkyProvider) Name() string { return "opensky" }

func (p *OpenSkyProvider) Fetch(ctx context.Context, params map[string]any) (map[string]any, error) {
	flightNumber := stringParam(params, "flight_number")
	if flightNumber == "" {
		return nil, FatalErr(p.Name(), "flight_number parameter required", nil)
	}

	var body struct {
		States [][]any `json:"states"`
	}
	if err := httpGetJSON(ctx, p.client, p.Name(), "https://opensky-network.org/api/states/all", &body); err != nil {
		return nil, err
	}

	want := strings.ToUpper(strings.TrimSpace(flightNumber))
	for _, state := range body.States {
		if len(state) < 12 {
			continue
		}
		callsign, _ := state[1].(string)
		if strings.ToUpper(strings.TrimSpace(callsign)) != want {
			continue
		}
		lon, _ := state[5].(float64)
		lat, _ := state[6].(float64)
		velocity, _ := state[9].(float64)
		return map[string]any{
			"flight_number":        want,
			"status":               "airborne",
			"lat":                  lat,
			"lon":                  lon,
			"velocity_ms":          velocity,
			"delay_minutes":        0,
			"is_cargo":             isCargoFlight(want),
			"financial_impact_usd": 0.0,
			"data_source":          p.Name(),
		}, nil
	}
	return nil, NotFoundErr(p.Name(), "no airborne state for "+want)
}

// demoFlight is a deterministic entry for the synthetic flight provider.
type demoFlight struct {
	airline     string
	status      string
	origin      string
	originIATA  string
	destination string
	destIATA    string
	delay       int
}

var demoFlights = map[string]demoFlight{
	"FDX134": {
		airline: "FedEx Express", status: "delayed",
		origin: "Taiwan Taoyuan International", originIATA: "TPE",
		destination: "Memphis International", destIATA: "MEM",
		delay: 90,
	},
	"FDX789": {
		airline: "FedEx Express", status: "active",
		origin: "Shanghai Pudong International", originIATA: "PVG",
		destination: "Memphis International", destIATA: "MEM",
		delay: 0,
	},
	"UPS2901": {
		airline: "UPS Airlines", status: "delayed",
		origin: "Louisville Muhammad Ali International", originIATA: "SDF",
		destination: "Cologne Bonn", destIATA: "CGN",
		delay: 75,
	},
	"DHL456": {
		airline: "DHL Aviation", status: "active",
		origin: "Leipzig/Halle", originIATA: "LEJ",
		destination: "Hong Kong International", destIATA: "HKG",
		delay: 0,
	},
}

// DemoFlightProvider is the synthetic terminal provider for flight tracking.
// It never fails: unknown flights get a plausible on-time record.
type DemoFlightProvider struct{}

func NewDemoFlightProvider() *DemoFlightProvider { return &DemoFlightProvider{} }

func (p *DemoFlightProvider) Name() string    { return "demo-flight" }
func (p *DemoFlightProvider) Synthetic() bool { return true }

func (p *DemoFlightProvider) Fetch(_ context.Context, params map[string]any) (map[string]any, error) {
	flightNumber := strings.ToUpper(stringParam(params, "flight_number"))
	if flightNumber == "" {
		flightNumber = "UNKNOWN"
	}

	f, known := demoFlights[flightNumber]
	if !known {
		f = demoFlight{
			airline: "Unknown Carrier", status: "scheduled",
			origin: "Unknown", destination: "Unknown",
			delay: 0,
		}
		if isCargoFlight(flightNumber) {
			f.airline = "Cargo Carrier"
			f.status = "active"
		}
	}

	return map[string]any{
		"flight_number":        flightNumber,
		"airline":              f.airline,
		"status":               f.status,
		"origin":               f.origin,
		"origin_iata":          f.originIATA,
		"destination":          f.destination,
		"destination_iata":     f.destIATA,
		"delay_minutes":        f.delay,
		"is_cargo":             isCargoFlight(flightNumber),
		"financial_impact_usd": delayImpactUSD(flightNumber, f.delay),
		"data_source":          p.Name(),
	}, nil
}
