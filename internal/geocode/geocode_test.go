package geocode

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/campus-rides/internal/models"
)

var campusGate = models.Coord{Lat: 28.6139, Lon: 77.2090}

func TestResolveDeterministic(t *testing.T) {
	names := []string{"Library", "Hostel B", "Main Gate", "", "Sports Complex"}
	for _, name := range names {
		a := Resolve(campusGate, name)
		b := Resolve(campusGate, name)
		if a != b {
			t.Fatalf("Resolve(%q) not deterministic: %+v vs %+v", name, a, b)
		}
	}
}

func TestResolveOffsetBounds(t *testing.T) {
	// recovering the offset by subtraction loses a few ulps, so the lower
	// bound check needs slack ("x" lands exactly on 0.005)
	const eps = 1e-9
	names := []string{"Library", "Hostel B", "Main Gate", "Canteen", "Auditorium", "x"}
	for _, name := range names {
		c := Resolve(campusGate, name)
		dLat := math.Abs(c.Lat - campusGate.Lat)
		dLon := math.Abs(c.Lon - campusGate.Lon)
		if dLat < 0.005-eps || dLat >= 0.02 {
			t.Fatalf("Resolve(%q) lat offset %f out of [0.005, 0.02)", name, dLat)
		}
		if dLon < 0.005-eps || dLon >= 0.02 {
			t.Fatalf("Resolve(%q) lon offset %f out of [0.005, 0.02)", name, dLon)
		}
	}
}

func TestResolveDistinctNamesUsuallyDiverge(t *testing.T) {
	a := Resolve(campusGate, "Library")
	b := Resolve(campusGate, "Hostel B")
	if a == b {
		t.Fatalf("expected different coordinates for different names")
	}
}

func TestDestinationFallsBackWithoutGeocoder(t *testing.T) {
	got := Destination(nil, campusGate, "Library")
	want := Resolve(campusGate, "Library")
	if got != want {
		t.Fatalf("expected pseudo-geocode fallback, got %+v want %+v", got, want)
	}
}

func TestDestinationUsesHTTPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "Library" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
		}
		json.NewEncoder(w).Encode([]map[string]string{{"lat": "28.7000", "lon": "77.1000"}})
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL)
	got := Destination(g, campusGate, "Library")
	if got.Lat != 28.7 || got.Lon != 77.1 {
		t.Fatalf("unexpected lookup result %+v", got)
	}
}

func TestDestinationFallsBackOnLookupError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 500)
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL)
	got := Destination(g, campusGate, "Library")
	if got != Resolve(campusGate, "Library") {
		t.Fatalf("expected fallback coordinates, got %+v", got)
	}
}
