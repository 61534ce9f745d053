package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.QueueCoalesceWindow != 10*time.Second {
		t.Fatalf("QueueCoalesceWindow = %s, want 10s", cfg.QueueCoalesceWindow)
	}
	if cfg.MaxConcurrent != 4 || cfg.MaxTasksPerHeartbeat != 3 {
		t.Fatalf("concurrency defaults = (%d, %d), want (4, 3)", cfg.MaxConcurrent, cfg.MaxTasksPerHeartbeat)
	}
	if len(cfg.BusinessDays) != 5 {
		t.Fatalf("BusinessDays = %v, want Mon-Fri", cfg.BusinessDays)
	}
	if !cfg.AutonomyEnabled || cfg.AutonomyHourlyBudget != 3 {
		t.Fatalf("autonomy defaults = (%v, %d), want (true, 3)", cfg.AutonomyEnabled, cfg.AutonomyHourlyBudget)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", "127.0.0.1:9999")
	t.Setenv("QUEUE_COALESCE_WINDOW", "45s")
	t.Setenv("SCHEDULER_MAX_CONCURRENT", "8")
	t.Setenv("SCHEDULER_BUSINESS_DAYS", "mon, wed ,fri")
	t.Setenv("AUTONOMY_ENABLED", "false")
	t.Setenv("AUTONOMY_MIN_EV", "2.5")
	t.Setenv("AUTONOMY_SCOPE", "perf, infra")
	t.Setenv("AUDIT_MAX_BYTES", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:9999" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.QueueCoalesceWindow != 45*time.Second {
		t.Fatalf("QueueCoalesceWindow = %s, want 45s", cfg.QueueCoalesceWindow)
	}
	if cfg.MaxConcurrent != 8 {
		t.Fatalf("MaxConcurrent = %d, want 8", cfg.MaxConcurrent)
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	if len(cfg.BusinessDays) != len(want) {
		t.Fatalf("BusinessDays = %v, want %v", cfg.BusinessDays, want)
	}
	for i, day := range want {
		if cfg.BusinessDays[i] != day {
			t.Fatalf("BusinessDays[%d] = %v, want %v", i, cfg.BusinessDays[i], day)
		}
	}
	if cfg.AutonomyEnabled {
		t.Fatal("AutonomyEnabled = true, want false")
	}
	if cfg.AutonomyMinEV != 2.5 {
		t.Fatalf("AutonomyMinEV = %v, want 2.5", cfg.AutonomyMinEV)
	}
	if len(cfg.AutonomyScope) != 2 || cfg.AutonomyScope[0] != "perf" || cfg.AutonomyScope[1] != "infra" {
		t.Fatalf("AutonomyScope = %v, want [perf infra]", cfg.AutonomyScope)
	}
	if cfg.AuditMaxBytes != 1024 {
		t.Fatalf("AuditMaxBytes = %d, want 1024", cfg.AuditMaxBytes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"bad duration", "SCHEDULER_ACTIVE_INTERVAL", "soon", "SCHEDULER_ACTIVE_INTERVAL"},
		{"bad int", "SCHEDULER_MAX_CONCURRENT", "many", "SCHEDULER_MAX_CONCURRENT"},
		{"bad bool", "AUTONOMY_ENABLED", "maybe", "AUTONOMY_ENABLED"},
		{"bad weekday", "SCHEDULER_BUSINESS_DAYS", "mon,blursday", "unknown weekday"},
		{"zero window", "QUEUE_COALESCE_WINDOW", "0s", "must be positive"},
		{"zero concurrency", "SCHEDULER_MAX_CONCURRENT", "0", "must be positive"},
		{"budget over cap", "AUTONOMY_HOURLY_BUDGET", "21", "AUTONOMY_HOURLY_BUDGET"},
		{"start hour range", "SCHEDULER_BUSINESS_START_HOUR", "24", "SCHEDULER_BUSINESS_START_HOUR"},
		{"end before start", "SCHEDULER_BUSINESS_END_HOUR", "9", "SCHEDULER_BUSINESS_END_HOUR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil, want %q failure", tc.key)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
