package fare

import (
	"math"

	"github.com/example/campus-rides/internal/models"
)

// Policy holds the fare constants. Amounts are whole currency units.
type Policy struct {
	Base     int64
	PerKm    int64
	SpeedKmh float64
}

// DefaultPolicy is the canonical campus tariff.
func DefaultPolicy() Policy {
	return Policy{Base: 20, PerKm: 15, SpeedKmh: 20}
}

// DistanceKm returns the trip distance in kilometres as a flat-grid degree
// approximation; longitude convergence is ignored. The published fare
// estimates are defined in terms of this formula, not great-circle distance.
func DistanceKm(a, b models.Coord) float64 {
	const kmPerDegree = 111.32
	dLat := b.Lat - a.Lat
	dLon := b.Lon - a.Lon
	return math.Sqrt(dLat*dLat+dLon*dLon) * kmPerDegree
}

// Estimate returns the fare for a trip between two points: base charge plus
// the rounded per-km component. Identical points yield the base fare.
func (p Policy) Estimate(a, b models.Coord) int64 {
	return p.Base + int64(math.Round(DistanceKm(a, b)*float64(p.PerKm)))
}

// EstimateMinutes returns the rounded trip time at the policy's average
// speed. Distinct points never estimate below one minute.
func (p Policy) EstimateMinutes(a, b models.Coord) int {
	speed := p.SpeedKmh
	if speed <= 0 {
		speed = 20
	}
	km := DistanceKm(a, b)
	if km == 0 {
		return 0
	}
	min := int(math.Round(km / speed * 60))
	if min < 1 {
		min = 1
	}
	return min
}
