package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the execution core daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string

	QueueCoalesceWindow time.Duration

	MaxConcurrent            int
	MaxTasksPerHeartbeat     int
	ActiveInterval           time.Duration
	IdleInterval             time.Duration
	OffHoursInterval         time.Duration
	BusinessStartHour        int
	BusinessEndHour          int
	BusinessDays             []time.Weekday
	MaintenanceBacklogCap    int
	SessionWatchdogInterval  time.Duration
	SessionWatchdogThreshold time.Duration

	AutonomyEnabled               bool
	AutonomyHourlyBudget          int
	AutonomyMinEV                 float64
	AutonomyRequireLowRisk        bool
	AutonomyMaxConcurrentMissions int
	AutonomyInteractiveBlock      int
	AutonomyMaxCandidates         int
	AutonomyScope                 []string
	AutonomySettingsPath          string
	AutonomyCandidatesPath        string
	AutonomyPlanInterval          time.Duration

	AuditPath     string
	AuditMaxBytes int64
	ArtifactDir   string

	OpsShell        string
	OpsWorkdir      string
	QueuePruneEvery time.Duration
	QueueRetention  time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                      envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:              envOrDefault("APP_METRICS_NAMESPACE", "otto"),
		AllowAnyOrigin:                false,
		DatabaseURL:                   stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:               15 * time.Second,
		QueueCoalesceWindow:           10 * time.Second,
		MaxConcurrent:                 4,
		MaxTasksPerHeartbeat:          3,
		ActiveInterval:                15 * time.Second,
		IdleInterval:                  2 * time.Minute,
		OffHoursInterval:              10 * time.Minute,
		BusinessStartHour:             9,
		BusinessEndHour:               18,
		BusinessDays:                  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		MaintenanceBacklogCap:         5,
		SessionWatchdogInterval:       30 * time.Second,
		SessionWatchdogThreshold:      10 * time.Minute,
		AutonomyEnabled:               true,
		AutonomyHourlyBudget:          3,
		AutonomyMinEV:                 1.0,
		AutonomyRequireLowRisk:        true,
		AutonomyMaxConcurrentMissions: 2,
		AutonomyInteractiveBlock:      3,
		AutonomyMaxCandidates:         25,
		AutonomyScope:                 []string{"perf", "bugfix"},
		AutonomySettingsPath:          stringsTrimSpace("AUTONOMY_SETTINGS_PATH"),
		AutonomyCandidatesPath:        stringsTrimSpace("AUTONOMY_CANDIDATES_PATH"),
		AutonomyPlanInterval:          time.Hour,
		AuditPath:                     envOrDefault("AUDIT_PATH", "data/audit.jsonl"),
		AuditMaxBytes:                 16 << 20,
		ArtifactDir:                   envOrDefault("AUDIT_ARTIFACT_DIR", "data/artifacts"),
		OpsShell:                      envOrDefault("OPS_SHELL", "/bin/sh"),
		OpsWorkdir:                    stringsTrimSpace("OPS_WORKDIR"),
		QueuePruneEvery:               time.Hour,
		QueueRetention:                24 * time.Hour,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueCoalesceWindow, err = durationFromEnv("QUEUE_COALESCE_WINDOW", cfg.QueueCoalesceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrent, err = intFromEnv("SCHEDULER_MAX_CONCURRENT", cfg.MaxConcurrent)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTasksPerHeartbeat, err = intFromEnv("SCHEDULER_MAX_TASKS_PER_HEARTBEAT", cfg.MaxTasksPerHeartbeat)
	if err != nil {
		return Config{}, err
	}
	cfg.ActiveInterval, err = durationFromEnv("SCHEDULER_ACTIVE_INTERVAL", cfg.ActiveInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleInterval, err = durationFromEnv("SCHEDULER_IDLE_INTERVAL", cfg.IdleInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.OffHoursInterval, err = durationFromEnv("SCHEDULER_OFF_HOURS_INTERVAL", cfg.OffHoursInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.BusinessStartHour, err = intFromEnv("SCHEDULER_BUSINESS_START_HOUR", cfg.BusinessStartHour)
	if err != nil {
		return Config{}, err
	}
	cfg.BusinessEndHour, err = intFromEnv("SCHEDULER_BUSINESS_END_HOUR", cfg.BusinessEndHour)
	if err != nil {
		return Config{}, err
	}
	cfg.BusinessDays, err = weekdaysFromEnv("SCHEDULER_BUSINESS_DAYS", cfg.BusinessDays)
	if err != nil {
		return Config{}, err
	}
	cfg.MaintenanceBacklogCap, err = intFromEnv("SCHEDULER_MAINTENANCE_BACKLOG_CAP", cfg.MaintenanceBacklogCap)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionWatchdogInterval, err = durationFromEnv("SCHEDULER_WATCHDOG_INTERVAL", cfg.SessionWatchdogInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionWatchdogThreshold, err = durationFromEnv("SCHEDULER_WATCHDOG_THRESHOLD", cfg.SessionWatchdogThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AutonomyEnabled, err = boolFromEnv("AUTONOMY_ENABLED", cfg.AutonomyEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.AutonomyHourlyBudget, err = intFromEnv("AUTONOMY_HOURLY_BUDGET", cfg.AutonomyHourlyBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.AutonomyMinEV, err = floatFromEnv("AUTONOMY_MIN_EV", cfg.AutonomyMinEV)
	if err != nil {
		return Config{}, err
	}
	cfg.AutonomyRequireLowRisk, err = boolFromEnv("AUTONOMY_REQUIRE_LOW_RISK", cfg.AutonomyRequireLowRisk)
	if err != nil {
		return Config{}, err
	}
	cfg.AutonomyMaxConcurrentMissions, err = intFromEnv("AUTONOMY_MAX_CONCURRENT_MISSIONS", cfg.AutonomyMaxConcurrentMissions)
	if err != nil {
		return Config{}, err
	}
	cfg.AutonomyInteractiveBlock, err = intFromEnv("AUTONOMY_INTERACTIVE_BLOCK_THRESHOLD", cfg.AutonomyInteractiveBlock)
	if err != nil {
		return Config{}, err
	}
	cfg.AutonomyMaxCandidates, err = intFromEnv("AUTONOMY_MAX_CANDIDATES", cfg.AutonomyMaxCandidates)
	if err != nil {
		return Config{}, err
	}
	if scope := stringsTrimSpace("AUTONOMY_SCOPE"); scope != "" {
		cfg.AutonomyScope = splitCSV(scope)
	}
	cfg.AutonomyPlanInterval, err = durationFromEnv("AUTONOMY_PLAN_INTERVAL", cfg.AutonomyPlanInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AuditMaxBytes, err = int64FromEnv("AUDIT_MAX_BYTES", cfg.AuditMaxBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.QueuePruneEvery, err = durationFromEnv("QUEUE_PRUNE_EVERY", cfg.QueuePruneEvery)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueRetention, err = durationFromEnv("QUEUE_RETENTION", cfg.QueueRetention)
	if err != nil {
		return Config{}, err
	}

	if cfg.QueueCoalesceWindow <= 0 {
		return Config{}, fmt.Errorf("QUEUE_COALESCE_WINDOW must be positive")
	}
	if cfg.MaxConcurrent <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_MAX_CONCURRENT must be positive")
	}
	if cfg.MaxTasksPerHeartbeat <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_MAX_TASKS_PER_HEARTBEAT must be positive")
	}
	if cfg.BusinessStartHour < 0 || cfg.BusinessStartHour > 23 {
		return Config{}, fmt.Errorf("SCHEDULER_BUSINESS_START_HOUR must be in [0,23]")
	}
	if cfg.BusinessEndHour <= cfg.BusinessStartHour || cfg.BusinessEndHour > 24 {
		return Config{}, fmt.Errorf("SCHEDULER_BUSINESS_END_HOUR must be in (start,24]")
	}
	if cfg.AutonomyHourlyBudget < 0 || cfg.AutonomyHourlyBudget > 20 {
		return Config{}, fmt.Errorf("AUTONOMY_HOURLY_BUDGET must be in [0,20]")
	}
	if cfg.AutonomyMaxConcurrentMissions <= 0 {
		return Config{}, fmt.Errorf("AUTONOMY_MAX_CONCURRENT_MISSIONS must be positive")
	}
	if cfg.AutonomyInteractiveBlock <= 0 {
		return Config{}, fmt.Errorf("AUTONOMY_INTERACTIVE_BLOCK_THRESHOLD must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func weekdaysFromEnv(key string, fallback []time.Weekday) ([]time.Weekday, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	names := map[string]time.Weekday{
		"sun": time.Sunday, "sunday": time.Sunday,
		"mon": time.Monday, "monday": time.Monday,
		"tue": time.Tuesday, "tuesday": time.Tuesday,
		"wed": time.Wednesday, "wednesday": time.Wednesday,
		"thu": time.Thursday, "thursday": time.Thursday,
		"fri": time.Friday, "friday": time.Friday,
		"sat": time.Saturday, "saturday": time.Saturday,
	}
	out := make([]time.Weekday, 0, 7)
	for _, part := range splitCSV(v) {
		day, ok := names[strings.ToLower(part)]
		if !ok {
			return nil, fmt.Errorf("%s parse error: unknown weekday %q", key, part)
		}
		out = append(out, day)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s parse error: no weekdays", key)
	}
	return out, nil
}
