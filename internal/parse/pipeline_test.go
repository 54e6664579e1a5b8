package parse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipeline_ParseDeliversResult(t *testing.T) {
	p := NewPipeline(discardLogger(), 2, 16, time.Second)
	defer p.Close()

	res := p.Parse(context.Background(), "run-1", descentRaw)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.ID != "run-1" || res.Meta.PointCount != 3 {
		t.Fatalf("res = %+v", res)
	}
}

func TestPipeline_ParseErrorIsPerItem(t *testing.T) {
	p := NewPipeline(discardLogger(), 2, 16, time.Second)
	defer p.Close()

	res := p.Parse(context.Background(), "empty", "# nothing here\n")
	if !errors.Is(res.Err, ErrNoPoints) {
		t.Fatalf("err = %v, want ErrNoPoints", res.Err)
	}
}

func TestPipeline_TimeoutAbandonsWait(t *testing.T) {
	p := NewPipeline(discardLogger(), 1, 16, 20*time.Millisecond)
	defer p.Close()

	release := make(chan struct{})
	p.parseFn = func(id, raw string) Result {
		<-release
		return Result{ID: id}
	}

	res := p.Parse(context.Background(), "slow", "46.0,7.0\n")
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", res.Err)
	}

	// pending entry must be gone so the id is reusable
	p.mu.Lock()
	_, still := p.pending["slow"]
	p.mu.Unlock()
	if still {
		t.Fatal("pending entry not cleaned up after timeout")
	}

	close(release)
}

func TestPipeline_DuplicateSubmitRejected(t *testing.T) {
	p := NewPipeline(discardLogger(), 1, 16, time.Second)
	defer p.Close()

	release := make(chan struct{})
	p.parseFn = func(id, raw string) Result {
		<-release
		return Result{ID: id}
	}

	ch, err := p.Submit("dup", "46.0,7.0\n")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	if _, err := p.Submit("dup", "46.0,7.0\n"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("second submit err = %v, want ErrDuplicateRequest", err)
	}

	close(release)
	select {
	case res := <-ch:
		if res.ID != "dup" {
			t.Fatalf("res = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("first submit never resolved")
	}
}

func TestPipeline_QueueFull(t *testing.T) {
	p := NewPipeline(discardLogger(), 1, 1, time.Second)
	defer p.Close()

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	p.parseFn = func(id, raw string) Result {
		started <- struct{}{}
		<-release
		return Result{ID: id}
	}

	// first job occupies the worker, second fills the queue
	if _, err := p.Submit("a", "x"); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	<-started
	if _, err := p.Submit("b", "x"); err != nil {
		t.Fatalf("submit b: %v", err)
	}

	if _, err := p.Submit("c", "x"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("submit c err = %v, want ErrQueueFull", err)
	}

	// the rejected id must not linger in the pending table
	p.mu.Lock()
	_, still := p.pending["c"]
	p.mu.Unlock()
	if still {
		t.Fatal("rejected submit left a pending entry")
	}

	close(release)
}

func TestParseBatch_AllSettledPreservesOrder(t *testing.T) {
	p := NewPipeline(discardLogger(), 4, 32, time.Second)
	defer p.Close()

	items := []Item{
		{ID: "a", Raw: "46.0,7.0\n46.1,7.1\n"},
		{ID: "b", Raw: "# broken\n"},
		{ID: "c", Raw: "45.0,6.0\n45.1,6.1\n"},
	}
	results := p.ParseBatch(context.Background(), items)

	if len(results) != 3 {
		t.Fatalf("len(results)=%d", len(results))
	}
	for i, it := range items {
		if results[i].ID != it.ID {
			t.Fatalf("results[%d].ID=%q, want %q", i, results[i].ID, it.ID)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("good items failed: %v / %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, ErrNoPoints) {
		t.Fatalf("results[1].Err = %v, want ErrNoPoints", results[1].Err)
	}
}

func TestParseBatch_DeterministicAcrossCompletionOrder(t *testing.T) {
	p := NewPipeline(discardLogger(), 4, 64, time.Second)
	defer p.Close()

	var mu sync.Mutex
	ids := []string{"r1", "r2", "r3", "r4", "r5"}

	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id, Raw: "46.0,7.0\n46.1,7.1\n"}
	}

	// run the same batch a few times; the settled id set must not vary
	var runs [][]string
	for range 3 {
		results := p.ParseBatch(context.Background(), items)
		var ok []string
		mu.Lock()
		for _, r := range results {
			if r.Err == nil {
				ok = append(ok, r.ID)
			}
		}
		mu.Unlock()
		sort.Strings(ok)
		runs = append(runs, ok)
	}
	for i := 1; i < len(runs); i++ {
		if len(runs[i]) != len(runs[0]) {
			t.Fatalf("run %d settled %d ids, run 0 settled %d", i, len(runs[i]), len(runs[0]))
		}
		for j := range runs[i] {
			if runs[i][j] != runs[0][j] {
				t.Fatalf("run %d differs at %d: %v vs %v", i, j, runs[i], runs[0])
			}
		}
	}
}

func TestPipeline_SubmitAfterClose(t *testing.T) {
	p := NewPipeline(discardLogger(), 1, 4, time.Second)
	p.Close()

	if _, err := p.Submit("x", "46.0,7.0\n"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
