package session

import (
	"testing"
)

func TestManagerCapacityGate(t *testing.T) {
	m := NewManager(2)

	first, err := m.Start("task-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	second, err := m.Start("task-2")
	if err != nil {
		t.Fatalf("Start() second error = %v", err)
	}
	if m.AvailableSlots() != 0 {
		t.Fatalf("AvailableSlots() = %d, want 0", m.AvailableSlots())
	}

	if _, err := m.Start("task-3"); err != ErrCapacityExceeded {
		t.Fatalf("Start() at capacity error = %v, want ErrCapacityExceeded", err)
	}

	m.End(first.ID)
	if m.AvailableSlots() != 1 {
		t.Fatalf("AvailableSlots() after release = %d, want 1", m.AvailableSlots())
	}
	if _, err := m.Start("task-3"); err != nil {
		t.Fatalf("Start() after release error = %v", err)
	}
	if m.LiveCount() != 2 {
		t.Fatalf("LiveCount() = %d, want 2", m.LiveCount())
	}
	if _, err := m.Get(second.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestManagerEndIsIdempotent(t *testing.T) {
	m := NewManager(1)
	sess, err := m.Start("task-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	m.End(sess.ID)
	m.End(sess.ID)
	m.End("never-existed")

	if m.LiveCount() != 0 {
		t.Fatalf("LiveCount() = %d, want 0 after double release", m.LiveCount())
	}
	if m.AvailableSlots() != 1 {
		t.Fatalf("AvailableSlots() = %d, want 1", m.AvailableSlots())
	}
}

func TestManagerDefaultsToOneSlot(t *testing.T) {
	m := NewManager(0)
	if m.MaxConcurrent() != 1 {
		t.Fatalf("MaxConcurrent() = %d, want 1", m.MaxConcurrent())
	}
}

func TestManagerLiveOldestFirst(t *testing.T) {
	m := NewManager(3)
	for _, task := range []string{"a", "b", "c"} {
		if _, err := m.Start(task); err != nil {
			t.Fatalf("Start(%s) error = %v", task, err)
		}
	}

	live := m.Live()
	if len(live) != 3 {
		t.Fatalf("Live() returned %d sessions, want 3", len(live))
	}
	for i := 1; i < len(live); i++ {
		if live[i].StartedAt.Before(live[i-1].StartedAt) {
			t.Fatalf("Live() not sorted oldest first")
		}
	}
}

func TestWatchdogSweepCountsAndResets(t *testing.T) {
	m := NewManager(2)
	var sweeps []int
	m.SetWatchdogSweepHook(func(flagged int) {
		sweeps = append(sweeps, flagged)
	})

	sess, err := m.Start("task-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	m.reportLongRunning(0)
	m.End(sess.ID)
	m.reportLongRunning(0)

	want := []int{1, 0}
	if len(sweeps) != len(want) {
		t.Fatalf("sweeps = %v, want %v", sweeps, want)
	}
	for i := range want {
		if sweeps[i] != want[i] {
			t.Fatalf("sweeps = %v, want %v", sweeps, want)
		}
	}
}
