package observability

import (
	"testing"
)

func TestStageWindowSnapshotStats(t *testing.T) {
	w := newHeartbeatStageWindow(64)
	for _, ms := range []float64{1, 2, 3, 4, 5} {
		w.Observe("claim_dispatch", ms)
	}
	w.Observe("", 10)
	w.Observe("claim_dispatch", -1)

	snap := w.Snapshot()
	if snap.WindowSize != 64 {
		t.Fatalf("window size = %d, want 64", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Stage != "claim_dispatch" || st.Samples != 5 {
		t.Fatalf("stage = %+v, want claim_dispatch with 5 samples", st)
	}
	if st.LastMS != 5 || st.AvgMS != 3 || st.P50MS != 3 {
		t.Fatalf("stats = last %v avg %v p50 %v, want 5 3 3", st.LastMS, st.AvgMS, st.P50MS)
	}
	if st.TargetP95MS != 100 {
		t.Fatalf("target p95 = %v, want 100", st.TargetP95MS)
	}
}

func TestStageWindowOverwritesOldestSample(t *testing.T) {
	w := newHeartbeatStageWindow(4)
	for i := 0; i < 8; i++ {
		w.Observe("tick_total", float64(i))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Samples != 4 {
		t.Fatalf("samples = %d, want window cap 4", st.Samples)
	}
	// Only 4, 5, 6, 7 survive the wraparound.
	if st.AvgMS != 5.5 {
		t.Fatalf("avg = %v, want 5.5", st.AvgMS)
	}
}

func TestStageWindowIndicators(t *testing.T) {
	w := newHeartbeatStageWindow(16)
	w.ObserveIndicator("interactive_slot_reserved")
	w.ObserveIndicator("interactive_slot_reserved")
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	if len(snap.Indicators) != 1 {
		t.Fatalf("indicators = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "interactive_slot_reserved" || snap.Indicators[0].Count != 2 {
		t.Fatalf("indicator = %+v, want interactive_slot_reserved x2", snap.Indicators[0])
	}
}

func TestQuantileInterpolates(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	if got := quantile(sorted, 0.5); got != 25 {
		t.Fatalf("quantile(0.5) = %v, want 25", got)
	}
	if got := quantile(sorted, 0); got != 10 {
		t.Fatalf("quantile(0) = %v, want 10", got)
	}
	if got := quantile(sorted, 1); got != 40 {
		t.Fatalf("quantile(1) = %v, want 40", got)
	}
	if got := quantile(nil, 0.9); got != 0 {
		t.Fatalf("quantile(nil) = %v, want 0", got)
	}
}
