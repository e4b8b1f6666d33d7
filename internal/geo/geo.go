// Package geo holds the small geographic helpers shared by discovery and
// the stores: bounding boxes, distance math and address normalization.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BBox is a geographic bounding box (south, west, north, east), matching the
// Overpass QL bbox order.
type BBox struct {
	South float64 `mapstructure:"south" json:"south"`
	West  float64 `mapstructure:"west" json:"west"`
	North float64 `mapstructure:"north" json:"north"`
	East  float64 `mapstructure:"east" json:"east"`
}

// ParseBBox parses "south,west,north,east".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("parse bbox component %q: %w", p, err)
		}
		vals[i] = v
	}
	b := BBox{South: vals[0], West: vals[1], North: vals[2], East: vals[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

// Validate checks ordering and coordinate ranges.
func (b BBox) Validate() error {
	if b.South >= b.North {
		return fmt.Errorf("bbox south (%v) must be below north (%v)", b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("bbox west (%v) must be left of east (%v)", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 || b.West < -180 || b.East > 180 {
		return fmt.Errorf("bbox out of range: %+v", b)
	}
	return nil
}

// Contains reports whether the point falls inside the box.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// String renders the Overpass bbox form.
func (b BBox) String() string {
	return fmt.Sprintf("%v,%v,%v,%v", b.South, b.West, b.North, b.East)
}

// NormalizeAddress produces the dedup key for an address: lower-cased,
// trimmed, inner whitespace collapsed.
func NormalizeAddress(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0088
	rad := math.Pi / 180
	dlat := (lat2 - lat1) * rad
	dlon := (lon2 - lon1) * rad
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
