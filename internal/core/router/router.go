// Package router wires the ops endpoints: cache stats, loader progress,
// track lookups and tile passthrough.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alpineops/trailcache/internal/cache/sizedcache"
	"github.com/alpineops/trailcache/internal/cache/tilecache"
	"github.com/alpineops/trailcache/internal/core/model"
	"github.com/alpineops/trailcache/internal/core/observability"
	"github.com/alpineops/trailcache/internal/loader"
)

// Deps are the collaborators the handlers read from. Candidates returns
// the current snapshot from the database layer.
type Deps struct {
	Logger     *slog.Logger
	Loader     *loader.Loader
	Tiles      *tilecache.Cache
	Candidates func() []model.LoadCandidate
	PreloadRad int
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Mount registers every ops route on r.
func Mount(r chi.Router, d Deps) {
	r.Get("/stats", instrument("/stats", d.handleStats))
	r.Get("/progress", instrument("/progress", d.handleProgress))
	r.Get("/tracks/{id}", instrument("/tracks/{id}", d.handleTrack))
	r.Get("/tiles/{z}/{x}/{y}", instrument("/tiles/{z}/{x}/{y}", d.handleTile))
	r.Post("/viewport", instrument("/viewport", d.handleViewport))
	r.Post("/selected", instrument("/selected", d.handleSelected))
}

func (d Deps) handleStats(w http.ResponseWriter, _ *http.Request) {
	type statsResp struct {
		Tracks   sizedcache.Stats  `json:"tracks"`
		Tiles    sizedcache.Stats  `json:"tiles"`
		State    string            `json:"loader_state"`
		Progress model.Progress    `json:"progress"`
		Failures map[string]string `json:"failures,omitempty"`
	}
	writeJSON(w, http.StatusOK, statsResp{
		Tracks:   d.Loader.CacheStats(),
		Tiles:    d.Tiles.Stats(),
		State:    d.Loader.State().String(),
		Progress: d.Loader.Progress(),
		Failures: d.Loader.Failures(),
	})
}

func (d Deps) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Loader.Progress())
}

func (d Deps) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var found *model.LoadCandidate
	for _, c := range d.Candidates() {
		if c.ID == id {
			found = &c
			break
		}
	}
	if found == nil {
		http.Error(w, "unknown track id", http.StatusNotFound)
		return
	}

	d.Loader.MarkViewed(id)

	res, ok := d.Loader.Lookup(*found)
	if !ok {
		// not loaded yet; the drive loop will pick it up with its new
		// recency bonus
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading"})
		return
	}

	type trackResp struct {
		ID       string              `json:"id"`
		Geometry [][]model.GeoPoint  `json:"geometry"`
		Meta     model.TrackMetadata `json:"metadata"`
	}
	writeJSON(w, http.StatusOK, trackResp{ID: res.ID, Geometry: res.Geometry, Meta: res.Meta})
}

func (d Deps) handleTile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errZ != nil || errX != nil || errY != nil {
		http.Error(w, "tile coordinates must be integers", http.StatusBadRequest)
		return
	}

	t, err := d.Tiles.GetTile(r.Context(), z, x, y)
	if err != nil {
		d.Logger.Warn("tile fetch failed", "z", z, "x", x, "y", y, "err", err.Error())
		http.Error(w, "tile unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}

	// snapshot before triggering preload: an eviction racing this request
	// may release the buffer under us
	data := t.Data()

	if r.URL.Query().Get("preload") == "1" {
		rad := d.PreloadRad
		if rad < 1 {
			rad = 1
		}
		d.Tiles.PreloadAround(r.Context(), z, x, y, rad)
	}

	writeTile(w, t.ContentType, data)
}

func writeTile(w http.ResponseWriter, contentType string, data []byte) {
	if data == nil {
		http.Error(w, "tile no longer available", http.StatusServiceUnavailable)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func (d Deps) handleViewport(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("bbox"))
	if raw == "" {
		d.Loader.SetViewport(nil)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	bb, err := ParseBBox(raw)
	if err != nil {
		http.Error(w, "invalid bbox: "+err.Error(), http.StatusBadRequest)
		return
	}
	d.Loader.SetViewport(&bb)
	w.WriteHeader(http.StatusNoContent)
}

func (d Deps) handleSelected(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	var ids []string
	if raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	d.Loader.SetSelected(ids)
	w.WriteHeader(http.StatusNoContent)
}

// ParseBBox parses "minLat,minLon,maxLat,maxLon".
func ParseBBox(s string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected minLat,minLon,maxLat,maxLon")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("component %d: %w", i+1, err)
		}
		vals[i] = f
	}
	bb := model.BBox{MinLat: vals[0], MinLon: vals[1], MaxLat: vals[2], MaxLon: vals[3]}
	if bb.MinLat > bb.MaxLat || bb.MinLon > bb.MaxLon {
		return model.BBox{}, errors.New("min corner exceeds max corner")
	}
	if bb.MinLat < -90 || bb.MaxLat > 90 || bb.MinLon < -180 || bb.MaxLon > 180 {
		return model.BBox{}, errors.New("coordinates out of range")
	}
	return bb, nil
}
