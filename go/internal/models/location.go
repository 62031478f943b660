package models

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// Location is a last-known geographic position and when it was reported.
type Location struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// IsZero reports whether the location was never set.
func (l Location) IsZero() bool {
	return l.At.IsZero() && l.Lat == 0 && l.Lng == 0
}

// Age returns how long ago the location was reported.
func (l Location) Age(now time.Time) time.Duration {
	return now.Sub(l.At)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
