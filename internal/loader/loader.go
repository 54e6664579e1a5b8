// Package loader drives progressive, priority-ordered loading of track
// candidates into the bounded cache.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alpineops/trailcache/internal/cache/keys"
	"github.com/alpineops/trailcache/internal/cache/sizedcache"
	"github.com/alpineops/trailcache/internal/core/model"
	"github.com/alpineops/trailcache/internal/core/observability"
	mylog "github.com/alpineops/trailcache/internal/logger"
	"github.com/alpineops/trailcache/internal/parse"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Weights are the documented scoring defaults; the zero value takes them
// all.
type Weights struct {
	Viewport     float64 // candidate extent intersects the viewport
	Selected     float64 // candidate is selected in the UI
	RecencyMax   float64 // viewed just now
	RecencyDecay float64 // bonus lost per hour since last viewed
	Loadable     float64 // candidate has a source path at all
}

func (w *Weights) fill() {
	if w.Viewport == 0 {
		w.Viewport = 1000
	}
	if w.Selected == 0 {
		w.Selected = 500
	}
	if w.RecencyMax == 0 {
		w.RecencyMax = 100
	}
	if w.RecencyDecay == 0 {
		w.RecencyDecay = 10
	}
	if w.Loadable == 0 {
		w.Loadable = 10
	}
}

type Config struct {
	BatchSize int
	Weights   Weights
}

// recentCap bounds the recently-viewed table; entries older than the
// recency-bonus horizon score zero anyway.
const recentCap = 512

// Loader owns one loading session over a candidate snapshot. LoadNextBatch
// must be driven from a single goroutine (the owner's debounce loop);
// MarkViewed, Progress and the setters are safe from other goroutines.
type Loader struct {
	logger   *slog.Logger
	pipeline *parse.Pipeline
	source   TrackSource
	cache    *sizedcache.Cache[*parse.Result]
	cfg      Config

	mu         sync.Mutex
	state      State
	candidates []model.LoadCandidate
	viewport   *model.BBox
	selected   map[string]struct{}
	recent     *expirable.LRU[string, time.Time]
	loadedIDs  map[string]struct{}
	failed     map[string]string // id -> last error, retryable
	noRetry    map[string]struct{}
	progress   model.Progress

	now func() time.Time
}

func New(logger *slog.Logger, pipeline *parse.Pipeline, source TrackSource,
	cache *sizedcache.Cache[*parse.Result], cfg Config) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	cfg.Weights.fill()

	horizon := time.Duration(cfg.Weights.RecencyMax/cfg.Weights.RecencyDecay) * time.Hour
	return &Loader{
		logger:    logger,
		pipeline:  pipeline,
		source:    source,
		cache:     cache,
		cfg:       cfg,
		selected:  map[string]struct{}{},
		recent:    expirable.NewLRU[string, time.Time](recentCap, nil, horizon),
		loadedIDs: map[string]struct{}{},
		failed:    map[string]string{},
		noRetry:   map[string]struct{}{},
		now:       time.Now,
	}
}

// SetCandidates replaces the candidate snapshot. New work re-opens a
// completed session.
func (l *Loader) SetCandidates(cs []model.LoadCandidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append([]model.LoadCandidate(nil), cs...)
	l.reopenLocked()
}

func (l *Loader) SetViewport(v *model.BBox) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewport = v
	l.reopenLocked()
}

func (l *Loader) SetSelected(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		l.selected[id] = struct{}{}
	}
	l.reopenLocked()
}

func (l *Loader) reopenLocked() {
	if l.state == StateComplete {
		l.state = StateIdle
	}
}

// MarkViewed records a view for recency scoring. It never triggers
// loading by itself.
func (l *Loader) MarkViewed(id string) {
	if id == "" {
		return
	}
	l.recent.Add(id, l.now())
}

// MarkFailedPermanently takes an id out of the retry rotation.
func (l *Loader) MarkFailedPermanently(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.noRetry[id] = struct{}{}
}

// Reset starts a new loading session: loaded set, failures and progress
// are cleared. Cached payloads stay cached.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadedIDs = map[string]struct{}{}
	l.failed = map[string]string{}
	l.noRetry = map[string]struct{}{}
	l.progress = model.Progress{}
	l.state = StateIdle
}

func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Failures returns the last error per id for candidates that are still
// eligible for retry.
func (l *Loader) Failures() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.failed))
	for id, msg := range l.failed {
		out[id] = msg
	}
	return out
}

func (l *Loader) Progress() model.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.progress
	p.CurrentBatch = append([]string(nil), l.progress.CurrentBatch...)
	return p
}

// ComputePriority scores one candidate against the current viewport,
// selection and view recency.
func (l *Loader) ComputePriority(c model.LoadCandidate) float64 {
	l.mu.Lock()
	viewport := l.viewport
	_, isSelected := l.selected[c.ID]
	l.mu.Unlock()

	var score float64
	if viewport != nil && c.Bounds != nil && viewport.Intersects(*c.Bounds) {
		score += l.cfg.Weights.Viewport
	}
	if isSelected {
		score += l.cfg.Weights.Selected
	}
	if ts, ok := l.recent.Get(c.ID); ok {
		hours := l.now().Sub(ts).Hours()
		score += math.Max(0, l.cfg.Weights.RecencyMax-l.cfg.Weights.RecencyDecay*hours)
	}
	if c.Loadable() {
		score += l.cfg.Weights.Loadable
	}
	return score + c.PriorityHint
}

// NextBatch returns the highest-priority unprocessed loadable candidates,
// at most batchSize of them, id order breaking score ties.
func (l *Loader) NextBatch(batchSize int) []model.LoadCandidate {
	if batchSize <= 0 {
		batchSize = l.cfg.BatchSize
	}

	l.mu.Lock()
	candidates := l.candidates
	loaded := l.loadedIDs
	noRetry := l.noRetry
	l.mu.Unlock()

	var eligible []model.LoadCandidate
	seen := map[string]struct{}{}
	for _, c := range candidates {
		if !c.Loadable() {
			continue
		}
		if _, done := loaded[c.ID]; done {
			continue
		}
		if _, skip := noRetry[c.ID]; skip {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		eligible = append(eligible, c)
	}

	sort.Slice(eligible, func(i, j int) bool {
		si, sj := l.ComputePriority(eligible[i]), l.ComputePriority(eligible[j])
		if si != sj {
			return si > sj
		}
		return eligible[i].ID < eligible[j].ID
	})

	if len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}
	return eligible
}

// LoadNextBatch runs one fetch-and-parse cycle. It is a no-op while a
// batch is in flight; with nothing left to do it transitions to Complete.
// Returns true when it did work.
func (l *Loader) LoadNextBatch(ctx context.Context) bool {
	l.mu.Lock()
	if l.state == StateLoading {
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	batch := l.NextBatch(l.cfg.BatchSize)

	l.mu.Lock()
	if l.state == StateLoading { // raced with another owner call
		l.mu.Unlock()
		return false
	}
	if len(batch) == 0 {
		l.state = StateComplete
		l.recomputeProgressLocked()
		l.mu.Unlock()
		return false
	}
	l.state = StateLoading
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.ID
	}
	l.progress.CurrentBatch = ids
	l.mu.Unlock()

	results := l.runBatch(ctx, batch)

	l.mu.Lock()
	defer l.mu.Unlock()

	failures := 0
	for i, res := range results {
		if res.Err != nil {
			failures++
			l.failed[res.ID] = res.Err.Error()
			l.logger.WarnContext(mylog.WithItemID(ctx, res.ID),
				"candidate failed to load", "err", res.Err.Error())
			continue
		}
		l.store(batch[i], res)
		l.loadedIDs[res.ID] = struct{}{}
		delete(l.failed, res.ID)
	}

	switch {
	case failures == 0:
		observability.IncLoaderBatch("ok")
	case failures == len(results):
		observability.IncLoaderBatch("failed")
	default:
		observability.IncLoaderBatch("partial")
	}

	l.recomputeProgressLocked()
	if l.progress.IsComplete {
		l.state = StateComplete
	} else {
		l.state = StateIdle
	}
	return true
}

// runBatch fetches payloads concurrently, then parses them as one batch.
// Every item settles: fetch errors become per-item failed results.
func (l *Loader) runBatch(ctx context.Context, batch []model.LoadCandidate) []parse.Result {
	raws := make([]string, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, c := range batch {
		wg.Add(1)
		go func(i int, c model.LoadCandidate) {
			defer wg.Done()
			raw, err := l.source.FetchTrack(ctx, c.SourcePath)
			if err != nil {
				errs[i] = fmt.Errorf("fetch %q: %w", c.SourcePath, err)
				return
			}
			raws[i] = raw
		}(i, c)
	}
	wg.Wait()

	items := make([]parse.Item, 0, len(batch))
	idx := make([]int, 0, len(batch))
	for i, c := range batch {
		if errs[i] != nil {
			continue
		}
		items = append(items, parse.Item{ID: c.ID, Raw: raws[i]})
		idx = append(idx, i)
	}

	parsed := l.pipeline.ParseBatch(ctx, items)

	results := make([]parse.Result, len(batch))
	for i, c := range batch {
		if errs[i] != nil {
			results[i] = parse.Result{ID: c.ID, Err: errs[i]}
		}
	}
	for j, res := range parsed {
		results[idx[j]] = res
	}
	return results
}

// store caches a successful result, weighted by the candidate's current
// priority so in-view and selected tracks outlive background fill.
// Caller holds l.mu; the cache itself is only ever written from the
// owner's drive goroutine.
func (l *Loader) store(c model.LoadCandidate, res parse.Result) {
	size, err := parse.EstimateSize(&res)
	if err != nil {
		// conservative estimate already applied; accounting stays sound
		l.logger.Warn("size estimation failed", "id", res.ID, "err", err.Error())
	}

	priority := 1 + c.PriorityHint
	if priority <= 0 {
		priority = 1
	}
	if !l.cache.Put(keys.Track(c.ID, c.SourcePath), &res, size, priority) {
		l.logger.Warn("result larger than cache budget, not cached",
			"id", res.ID, "size", size)
	}
	observability.SetCacheBytes("track", l.cache.SizeBytes())
}

// Lookup returns the cached parse result for a candidate, if present.
// The loader is the cache's single-writer boundary: every cache access
// goes through l.mu, so Lookup is safe from any goroutine.
func (l *Loader) Lookup(c model.LoadCandidate) (*parse.Result, bool) {
	l.mu.Lock()
	res, ok := l.cache.Get(keys.Track(c.ID, c.SourcePath))
	l.mu.Unlock()
	if ok {
		observability.IncCacheHit("track")
	} else {
		observability.IncCacheMiss("track")
	}
	return res, ok
}

func (l *Loader) CacheStats() sizedcache.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Stats()
}

// SweepCache runs the cache's periodic maintenance. Driven by the
// owner's sweep timer.
func (l *Loader) SweepCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Sweep()
	observability.SetCacheBytes("track", l.cache.SizeBytes())
}

// recomputeProgressLocked rebuilds the progress snapshot after a batch
// settles; the in-flight batch list is cleared. Caller holds l.mu.
func (l *Loader) recomputeProgressLocked() {
	loadable := 0
	seen := map[string]struct{}{}
	for _, c := range l.candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		if c.Loadable() {
			loadable++
		}
	}

	loaded := len(l.loadedIDs)
	p := model.Progress{
		Loaded:     loaded,
		Total:      len(seen),
		IsComplete: loaded >= loadable,
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(100 * float64(loaded) / float64(p.Total)))
		observability.SetLoaderProgress(float64(loaded) / float64(p.Total))
	} else {
		observability.SetLoaderProgress(1)
	}
	l.progress = p
}
