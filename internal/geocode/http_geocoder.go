package geocode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/campus-rides/internal/models"
)

// HTTPGeocoder queries a Nominatim-style search endpoint. It is optional:
// when no endpoint is configured, or a lookup fails, callers fall back to
// Resolve so the dashboards always get a coordinate.
type HTTPGeocoder struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPGeocoder(endpoint string) *HTTPGeocoder {
	return &HTTPGeocoder{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Lookup resolves a place name to coordinates via the configured endpoint.
func (g *HTTPGeocoder) Lookup(name string) (models.Coord, error) {
	q := url.Values{"q": {name}, "format": {"json"}, "limit": {"1"}}
	resp, err := g.Client.Get(g.Endpoint + "?" + q.Encode())
	if err != nil {
		return models.Coord{}, err
	}
	defer resp.Body.Close()
	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Coord{}, err
	}
	if len(out) == 0 {
		return models.Coord{}, fmt.Errorf("geocode: no result for %q", name)
	}
	lat, err := strconv.ParseFloat(out[0].Lat, 64)
	if err != nil {
		return models.Coord{}, err
	}
	lon, err := strconv.ParseFloat(out[0].Lon, 64)
	if err != nil {
		return models.Coord{}, err
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}

// Destination picks the best available coordinate for a named dropoff:
// the HTTP lookup when a geocoder is configured and succeeds, the
// deterministic hash offset otherwise.
func Destination(g *HTTPGeocoder, pickup models.Coord, name string) models.Coord {
	if g != nil && g.Endpoint != "" {
		if c, err := g.Lookup(name); err == nil {
			return c
		}
	}
	return Resolve(pickup, name)
}
