// Package model defines core domain types shared across the library.
package model

import "fmt"

// GeoPoint is one sample of a recorded track. Elevation is in meters;
// HasElevation distinguishes "zero meters" from "not recorded".
type GeoPoint struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Elevation    float64 `json:"elevation,omitempty"`
	HasElevation bool    `json:"has_elevation,omitempty"`
}

type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// String representation matching the dashboard's bbox query format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

func (b BBox) Intersects(o BBox) bool {
	return b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat &&
		b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon
}

// Extend grows the box to include the point. The zero BBox is not a valid
// starting value; use NewBBox for the first point.
func (b BBox) Extend(lat, lon float64) BBox {
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
	return b
}

func NewBBox(lat, lon float64) BBox {
	return BBox{MinLat: lat, MinLon: lon, MaxLat: lat, MaxLon: lon}
}

// LoadCandidate is one loadable item as reported by the database layer.
// Read-only to this library.
type LoadCandidate struct {
	ID           string
	SourcePath   string
	PriorityHint float64
	// Bounds is the candidate's known extent, used for viewport scoring.
	// Nil when the extent is unknown (candidate never scores the
	// viewport bonus).
	Bounds *BBox
}

// Loadable reports whether the candidate has a source the loader can fetch.
func (c LoadCandidate) Loadable() bool { return c.SourcePath != "" }

// TrackMetadata carries the metrics derived from parsed geometry.
type TrackMetadata struct {
	PointCount    int     `json:"point_count"`
	TrackCount    int     `json:"track_count"`
	Bounds        BBox    `json:"bounds"`
	TotalDistance float64 `json:"total_distance"` // meters
	ElevationGain float64 `json:"elevation_gain"` // meters, sum of positive deltas
	ElevationLoss float64 `json:"elevation_loss"` // meters, absolute sum of negative deltas
	MinElevation  float64 `json:"min_elevation"`
	MaxElevation  float64 `json:"max_elevation"`
	Checksum      uint64  `json:"checksum"` // xxhash of the raw payload
}

// Progress is the loader's externally visible progress snapshot.
type Progress struct {
	Loaded       int      `json:"loaded"`
	Total        int      `json:"total"`
	Percentage   int      `json:"percentage"`
	CurrentBatch []string `json:"current_batch,omitempty"`
	IsComplete   bool     `json:"is_complete"`
}
