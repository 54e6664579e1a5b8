package parse

import (
	"errors"
	"math"
	"testing"
)

func almostEq(t *testing.T, got, want, eps float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Fatalf("got=%g want=%g (eps=%g)", got, want, eps)
	}
}

const descentRaw = `# piste nord, morning export
46.000000,7.000000,2500
46.010000,7.000000,2450
46.020000,7.000000,2470
`

func TestParseTrack_MetricsOnDescent(t *testing.T) {
	res := ParseTrack("run-1", descentRaw)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	if res.Meta.PointCount != 3 || res.Meta.TrackCount != 1 {
		t.Fatalf("points=%d tracks=%d", res.Meta.PointCount, res.Meta.TrackCount)
	}

	// two legs of 0.01 degrees latitude each on the 6371km sphere
	almostEq(t, res.Meta.TotalDistance, 2*1111.949, 0.5)
	almostEq(t, res.Meta.ElevationGain, 20, 1e-9)
	almostEq(t, res.Meta.ElevationLoss, 50, 1e-9)
	almostEq(t, res.Meta.MinElevation, 2450, 1e-9)
	almostEq(t, res.Meta.MaxElevation, 2500, 1e-9)

	b := res.Meta.Bounds
	if b.MinLat != 46.0 || b.MaxLat != 46.02 || b.MinLon != 7.0 || b.MaxLon != 7.0 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestParseTrack_MultipleTracksSplitOnBlankLine(t *testing.T) {
	raw := "46.0,7.0\n46.1,7.1\n\n45.0,6.0\n45.1,6.1\n"
	res := ParseTrack("x", raw)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Meta.TrackCount != 2 {
		t.Fatalf("tracks=%d, want 2", res.Meta.TrackCount)
	}
	if len(res.Geometry[0]) != 2 || len(res.Geometry[1]) != 2 {
		t.Fatalf("segment lengths: %d, %d", len(res.Geometry[0]), len(res.Geometry[1]))
	}
}

func TestParseTrack_DistanceNotCountedAcrossTrackGap(t *testing.T) {
	joined := ParseTrack("j", "46.0,7.0\n46.1,7.0\n")
	split := ParseTrack("s", "46.0,7.0\n\n46.1,7.0\n")
	if split.Err != nil || joined.Err != nil {
		t.Fatalf("errors: %v / %v", joined.Err, split.Err)
	}
	if split.Meta.TotalDistance != 0 {
		t.Fatalf("distance across gap = %g, want 0", split.Meta.TotalDistance)
	}
	if joined.Meta.TotalDistance == 0 {
		t.Fatal("joined track should accumulate distance")
	}
}

func TestParseTrack_SkipsMalformedLinesAndComments(t *testing.T) {
	raw := "# header\n46.0,7.0,2400\nnot,a,point\n91.5,7.0\n46.1,bad\n46.1,7.1,2300\n"
	res := ParseTrack("x", raw)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Meta.PointCount != 2 {
		t.Fatalf("points=%d, want 2 (malformed skipped)", res.Meta.PointCount)
	}
}

func TestParseTrack_ElevationOptional(t *testing.T) {
	res := ParseTrack("x", "46.0,7.0\n46.1,7.1\n")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Meta.ElevationGain != 0 || res.Meta.ElevationLoss != 0 {
		t.Fatalf("gain/loss without elevation: %g/%g",
			res.Meta.ElevationGain, res.Meta.ElevationLoss)
	}
	if res.Geometry[0][0].HasElevation {
		t.Fatal("HasElevation set without elevation field")
	}
}

func TestParseTrack_NoPointsFailsWithoutPanic(t *testing.T) {
	for _, raw := range []string{"", "# only comments\n", "garbage\nmore garbage\n"} {
		res := ParseTrack("empty", raw)
		if res.Err == nil {
			t.Fatalf("raw %q: expected error", raw)
		}
		if !errors.Is(res.Err, ErrNoPoints) {
			t.Fatalf("raw %q: err = %v, want ErrNoPoints", raw, res.Err)
		}
		if res.Success() {
			t.Fatal("Success() true on failure")
		}
	}
}

func TestParseTrack_ChecksumDistinguishesPayloads(t *testing.T) {
	a := ParseTrack("x", "46.0,7.0\n46.1,7.1\n")
	b := ParseTrack("x", "46.0,7.0\n46.1,7.2\n")
	if a.Meta.Checksum == b.Meta.Checksum {
		t.Fatal("checksums collide for different payloads")
	}
}

func TestEstimateSize_GrowsWithGeometry(t *testing.T) {
	small := ParseTrack("s", "46.0,7.0\n46.1,7.1\n")
	big := ParseTrack("b", descentRaw+"\n46.03,7.0,2460\n46.04,7.0,2440\n")

	szSmall, err := EstimateSize(&small)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	szBig, err := EstimateSize(&big)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if szSmall <= 0 || szBig <= szSmall {
		t.Fatalf("sizes: small=%d big=%d", szSmall, szBig)
	}
}
