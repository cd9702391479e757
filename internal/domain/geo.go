package domain

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusKm is the mean Earth radius used for every distance.
	EarthRadiusKm = 6371.0

	// DefaultRadius is the search radius in meters when a caller gives none.
	DefaultRadius = 500
)

// Point is a WGS-84 latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Locatable is a record that may carry a position. ok is false when the
// record's coordinates are missing or unusable.
type Locatable interface {
	Position() (p Point, ok bool)
}

// Warning describes a record that was skipped rather than failing the request.
type Warning struct {
	Index  int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("record %d: %s", w.Index, w.Reason)
}

// IsCRS reports whether lat/lon fall in the legal WGS-84 ranges. NaN fails.
func IsCRS(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Haversine returns the great-circle distance between a and b in meters.
// Inputs are assumed valid; check them with IsCRS first.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h)) * 1000
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// FilterWithin keeps the records within radius meters of center (inclusive),
// preserving input order. Records without a usable position are skipped and
// reported as warnings. When annotate is non-nil it receives each surviving
// record with its distance and returns the record to keep.
func FilterWithin[R Locatable](records []R, center Point, radius float64, annotate func(R, float64) R) ([]R, []Warning) {
	kept := make([]R, 0)
	var warnings []Warning

	for i, r := range records {
		pos, ok := r.Position()
		if !ok {
			warnings = append(warnings, Warning{Index: i, Reason: "missing or invalid coordinates"})
			continue
		}
		d := Haversine(center, pos)
		if d > radius {
			continue
		}
		if annotate != nil {
			r = annotate(r, d)
		}
		kept = append(kept, r)
	}
	return kept, warnings
}

// NearbyStops returns the stops within radius meters of center.
func NearbyStops(stops []StopRecord, center Point, radius float64) ([]StopRecord, []Warning) {
	return FilterWithin(stops, center, radius, nil)
}

// NearbyBuses returns the buses within radius meters of center, each tagged
// with its distance in the distancia attribute.
func NearbyBuses(buses []BusLocation, center Point, radius float64) ([]BusLocation, []Warning) {
	return FilterWithin(buses, center, radius, func(b BusLocation, d float64) BusLocation {
		b.Distancia = &d
		return b
	})
}

// validPosition rejects non-finite and out-of-range coordinates coming from a feed.
func validPosition(lat, lon float64) (Point, bool) {
	if !isFinite(lat) || !isFinite(lon) || !IsCRS(lat, lon) {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}
