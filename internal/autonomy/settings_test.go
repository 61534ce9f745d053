package autonomy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsBudgetClamped(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{3, 3},
		{20, 20},
		{100, 20},
	}
	for _, tt := range tests {
		s := testSettings()
		s.HourlyBudget = tt.in
		if got := s.normalized().HourlyBudget; got != tt.want {
			t.Fatalf("normalized budget for %d = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSettingsNormalizedDefaults(t *testing.T) {
	s := Settings{Enabled: true, HourlyBudget: 2}.normalized()
	if s.MaxConcurrentMissions != 1 {
		t.Fatalf("MaxConcurrentMissions = %d, want 1", s.MaxConcurrentMissions)
	}
	if s.InteractiveQueueBlockThreshold != 1 {
		t.Fatalf("InteractiveQueueBlockThreshold = %d, want 1", s.InteractiveQueueBlockThreshold)
	}
	if len(s.Scope) == 0 {
		t.Fatalf("Scope is empty, want default scope")
	}
}

func TestProviderUpdateNormalizes(t *testing.T) {
	p := NewSettingsProvider(testSettings(), "")
	updated := p.Update(Settings{Enabled: true, HourlyBudget: 99, MinEV: 2})
	if updated.HourlyBudget != MaxHourlyBudget {
		t.Fatalf("updated budget = %d, want clamped to %d", updated.HourlyBudget, MaxHourlyBudget)
	}
	if p.Current().MinEV != 2 {
		t.Fatalf("Current().MinEV = %v, want 2", p.Current().MinEV)
	}
}

func TestProviderLoadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autonomy.yaml")
	content := []byte("enabled: true\nhourly_budget: 50\nmin_ev: 1.5\nrequire_low_risk: false\nscope: [perf]\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write settings file: %v", err)
	}

	p := NewSettingsProvider(DefaultSettings(), path)
	s := p.Current()
	if s.HourlyBudget != MaxHourlyBudget {
		t.Fatalf("budget from file = %d, want clamped to %d", s.HourlyBudget, MaxHourlyBudget)
	}
	if s.MinEV != 1.5 {
		t.Fatalf("min_ev from file = %v, want 1.5", s.MinEV)
	}
	if s.RequireLowRisk {
		t.Fatalf("require_low_risk = true, want false from file")
	}
	if len(s.Scope) != 1 || s.Scope[0] != CategoryPerf {
		t.Fatalf("scope from file = %v, want [perf]", s.Scope)
	}
}

func TestProviderKeepsDefaultsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	p := NewSettingsProvider(DefaultSettings(), path)
	if p.Current().HourlyBudget != DefaultSettings().HourlyBudget {
		t.Fatalf("budget = %d, want default when file missing", p.Current().HourlyBudget)
	}
}

func TestSettingsInScope(t *testing.T) {
	s := testSettings()
	if !s.inScope(CategoryPerf) {
		t.Fatalf("inScope(perf) = false, want true")
	}
	if s.inScope(CategoryOther) {
		t.Fatalf("inScope(other) = true, want false")
	}
}
