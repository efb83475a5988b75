package geocode

import "github.com/example/campus-rides/internal/models"

// Resolve fabricates stable coordinates for a destination name by hashing
// the name into a bounded offset from the pickup point. It stands in for a
// real geocoding lookup: the same name always maps to the same spot, which
// is all the dashboards need. Offsets land in [0.005, 0.02) degrees on each
// axis, a few hundred metres to ~2 km on campus scales.
func Resolve(pickup models.Coord, name string) models.Coord {
	var h int32
	for _, r := range name {
		h = h*31 + int32(r)
	}
	u := uint32(h)

	latMag := 0.005 + float64(u&0x3ff)/1024.0*0.015
	lonMag := 0.005 + float64((u>>10)&0x3ff)/1024.0*0.015
	latSign, lonSign := 1.0, 1.0
	if (u>>20)&1 == 1 {
		latSign = -1
	}
	if (u>>21)&1 == 1 {
		lonSign = -1
	}
	return models.Coord{
		Lat: pickup.Lat + latSign*latMag,
		Lon: pickup.Lon + lonSign*lonMag,
	}
}
