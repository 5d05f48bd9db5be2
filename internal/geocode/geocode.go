// Package geocode resolves free-text addresses to coordinates via the
// Google Maps Geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const defaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// Geocoder looks up coordinates for addresses. It is best-effort: any
// failure reports ok=false and never an error.
type Geocoder struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a geocoder. An empty API key yields a geocoder whose lookups
// always report not-ok.
func New(apiKey string, logger *slog.Logger) *Geocoder {
	return &Geocoder{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Configured reports whether an API key is set.
func (g *Geocoder) Configured() bool {
	return g.apiKey != ""
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Lookup resolves an address to (lat, lng). Empty addresses, a missing API
// key, and any transport or parse failure report ok=false.
func (g *Geocoder) Lookup(ctx context.Context, address string) (lat, lng float64, ok bool) {
	if address == "" || !g.Configured() {
		return 0, 0, false
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("Geocoding request failed.", "address", address, "error", err)
		return 0, 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("Geocoding request rejected.", "address", address, "status", resp.StatusCode)
		return 0, 0, false
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		g.logger.Warn("Geocoding response unreadable.", "address", address, "error", err)
		return 0, 0, false
	}
	if decoded.Status != "OK" || len(decoded.Results) == 0 {
		return 0, 0, false
	}

	loc := decoded.Results[0].Geometry.Location
	return loc.Lat, loc.Lng, true
}
