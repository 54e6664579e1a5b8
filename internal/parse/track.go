// Package parse converts raw track exports into geometry and derived
// metrics, and runs that work off the caller's critical path.
//
// The raw format is the dashboard's track export: one point per line as
// "lat,lon" or "lat,lon,elevation", '#' starting a comment line, and a
// blank line separating tracks within one file.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/alpineops/trailcache/internal/core/model"
	"github.com/alpineops/trailcache/internal/geo"
)

var ErrNoPoints = errors.New("no usable points in payload")

// Result is the outcome of parsing one item. Err is nil on success.
type Result struct {
	ID       string
	Geometry [][]model.GeoPoint
	Meta     model.TrackMetadata
	Err      error
}

func (r Result) Success() bool { return r.Err == nil }

// fallbackEntrySize is the conservative size estimate used when
// serialization fails during accounting.
const fallbackEntrySize = 64 << 10

// ParseTrack parses raw track text into per-track point sequences and
// derived metrics. A payload with zero usable points fails with
// ErrNoPoints; individual malformed lines are skipped.
func ParseTrack(id, raw string) Result {
	geom := parseGeometry(raw)

	total := 0
	for _, seg := range geom {
		total += len(seg)
	}
	if total == 0 {
		return Result{ID: id, Err: fmt.Errorf("parse %q: %w", id, ErrNoPoints)}
	}

	return Result{
		ID:       id,
		Geometry: geom,
		Meta:     computeMetadata(geom, total, raw),
	}
}

func parseGeometry(raw string) [][]model.GeoPoint {
	var geom [][]model.GeoPoint
	var cur []model.GeoPoint

	flush := func() {
		if len(cur) > 0 {
			geom = append(geom, cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		p, ok := parsePoint(line)
		if !ok {
			continue
		}
		cur = append(cur, p)
	}
	flush()
	return geom
}

func parsePoint(line string) (model.GeoPoint, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return model.GeoPoint{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return model.GeoPoint{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return model.GeoPoint{}, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.GeoPoint{}, false
	}
	p := model.GeoPoint{Lat: lat, Lon: lon}
	if len(fields) >= 3 {
		if ele, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64); err == nil {
			p.Elevation = ele
			p.HasElevation = true
		}
	}
	return p, true
}

func computeMetadata(geom [][]model.GeoPoint, total int, raw string) model.TrackMetadata {
	meta := model.TrackMetadata{
		PointCount: total,
		TrackCount: len(geom),
		Checksum:   xxhash.Sum64String(raw),
	}

	first := true
	haveEle := false
	for _, seg := range geom {
		for i, p := range seg {
			if first {
				meta.Bounds = model.NewBBox(p.Lat, p.Lon)
				first = false
			} else {
				meta.Bounds = meta.Bounds.Extend(p.Lat, p.Lon)
			}

			if p.HasElevation {
				if !haveEle {
					meta.MinElevation, meta.MaxElevation = p.Elevation, p.Elevation
					haveEle = true
				} else {
					if p.Elevation < meta.MinElevation {
						meta.MinElevation = p.Elevation
					}
					if p.Elevation > meta.MaxElevation {
						meta.MaxElevation = p.Elevation
					}
				}
			}

			if i == 0 {
				continue
			}
			prev := seg[i-1]
			meta.TotalDistance += geo.Haversine(prev.Lat, prev.Lon, p.Lat, p.Lon)
			if prev.HasElevation && p.HasElevation {
				d := p.Elevation - prev.Elevation
				if d > 0 {
					meta.ElevationGain += d
				} else {
					meta.ElevationLoss += -d
				}
			}
		}
	}
	return meta
}

// EstimateSize approximates the serialized size of a result for cache
// accounting. Serialization failure degrades to a fixed conservative
// estimate and is never propagated.
func EstimateSize(r *Result) (int64, error) {
	b, err := json.Marshal(struct {
		Geometry [][]model.GeoPoint
		Meta     model.TrackMetadata
	}{r.Geometry, r.Meta})
	if err != nil {
		return fallbackEntrySize, fmt.Errorf("estimate size for %q: %w", r.ID, err)
	}
	return int64(len(b)), nil
}
