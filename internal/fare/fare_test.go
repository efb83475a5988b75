package fare

import (
	"math"
	"testing"

	"github.com/example/campus-rides/internal/models"
)

func TestDistanceZeroForIdenticalPoints(t *testing.T) {
	p := models.Coord{Lat: 28.6139, Lon: 77.2090}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	pol := DefaultPolicy()
	if f := pol.Estimate(p, p); f != pol.Base {
		t.Fatalf("expected base fare %d, got %d", pol.Base, f)
	}
}

func TestFareSymmetry(t *testing.T) {
	pol := DefaultPolicy()
	pairs := [][2]models.Coord{
		{{Lat: 28.6139, Lon: 77.2090}, {Lat: 28.6079, Lon: 77.2190}},
		{{Lat: 0, Lon: 0}, {Lat: 0.1, Lon: 0.1}},
		{{Lat: -33.86, Lon: 151.20}, {Lat: -33.91, Lon: 151.25}},
	}
	for _, pr := range pairs {
		if pol.Estimate(pr[0], pr[1]) != pol.Estimate(pr[1], pr[0]) {
			t.Fatalf("fare not symmetric for %+v", pr)
		}
	}
}

func TestCampusScenario(t *testing.T) {
	pickup := models.Coord{Lat: 28.6139, Lon: 77.2090}
	dropoff := models.Coord{Lat: 28.6079, Lon: 77.2190}
	d := DistanceKm(pickup, dropoff)
	if math.Abs(d-1.298) > 0.01 {
		t.Fatalf("expected ~1.30 km, got %f", d)
	}
	pol := DefaultPolicy()
	if got := pol.Estimate(pickup, dropoff); got != 39 {
		t.Fatalf("fare = %d, want 39", got)
	}
}

func TestEstimateMinutesFloorsAtOne(t *testing.T) {
	pol := DefaultPolicy()
	a := models.Coord{Lat: 28.6139, Lon: 77.2090}
	b := models.Coord{Lat: 28.6140, Lon: 77.2091}
	if m := pol.EstimateMinutes(a, b); m < 1 {
		t.Fatalf("expected at least 1 minute, got %d", m)
	}
	if m := pol.EstimateMinutes(a, a); m != 0 {
		t.Fatalf("identical points should estimate 0, got %d", m)
	}
}
