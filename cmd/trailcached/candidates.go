package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/alpineops/trailcache/internal/core/model"
)

// candidateIndex is the stand-in for the database layer: a JSON file
// listing every loadable track. Snapshot() hands the loader a read-only
// copy per call.
type candidateIndex struct {
	mu   sync.RWMutex
	list []model.LoadCandidate
}

type indexEntry struct {
	ID           string      `json:"id"`
	SourcePath   string      `json:"source_path"`
	PriorityHint float64     `json:"priority_hint,omitempty"`
	Bounds       *model.BBox `json:"bounds,omitempty"`
}

func loadCandidateIndex(path string) (*candidateIndex, error) {
	idx := &candidateIndex{}
	if path == "" {
		return idx, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index %q: %w", path, err)
	}
	var entries []indexEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode index %q: %w", path, err)
	}

	list := make([]model.LoadCandidate, 0, len(entries))
	for _, e := range entries {
		list = append(list, model.LoadCandidate{
			ID:           e.ID,
			SourcePath:   e.SourcePath,
			PriorityHint: e.PriorityHint,
			Bounds:       e.Bounds,
		})
	}
	idx.list = list
	return idx, nil
}

func (i *candidateIndex) Snapshot() []model.LoadCandidate {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]model.LoadCandidate(nil), i.list...)
}
