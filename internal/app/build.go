package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/otto/internal/audit"
	"github.com/antoniostano/otto/internal/autonomy"
	"github.com/antoniostano/otto/internal/config"
	"github.com/antoniostano/otto/internal/events"
	"github.com/antoniostano/otto/internal/execution"
	"github.com/antoniostano/otto/internal/handlers"
	"github.com/antoniostano/otto/internal/httpapi"
	"github.com/antoniostano/otto/internal/jobs"
	"github.com/antoniostano/otto/internal/observability"
	"github.com/antoniostano/otto/internal/queue"
	"github.com/antoniostano/otto/internal/scheduler"
	"github.com/antoniostano/otto/internal/session"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Queue     *queue.Queue
	Sessions  *session.Manager
	Scheduler *scheduler.Scheduler
	Planner   *autonomy.Planner
	Settings  *autonomy.SettingsProvider
	Metrics   *observability.Metrics
	Bus       *events.Bus

	// Cleanup should be called on shutdown to release external resources (DB, audit log, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	bus := events.NewBus()

	queueStore, err := queue.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("queue store init failed: %w", err)
	}

	q := queue.New(cfg.QueueCoalesceWindow)
	q.SetStore(queueStore)
	q.SetChangeHook(func(item queue.Item, coalesced bool, readyDepth int) {
		publishItemEvent(bus, metrics, item, coalesced)
		metrics.QueueDepth.Set(float64(readyDepth))
	})

	restored, err := q.Restore(ctx)
	if err != nil {
		closeStore(queueStore)
		return nil, fmt.Errorf("queue restore failed: %w", err)
	}
	if restored > 0 {
		log.Printf("queue restore: reloaded %d non-terminal item(s)", restored)
	}

	sessions := session.NewManager(cfg.MaxConcurrent)
	sessions.SetLongRunningHook(func(sess session.Session, age time.Duration) {
		log.Printf("long-running session: id=%s task=%s age=%s", sess.ID, sess.TaskID, age.Round(time.Second))
	})
	sessions.SetWatchdogSweepHook(func(flagged int) {
		metrics.LongRunningSessions.Set(float64(flagged))
	})

	sink, err := buildAuditSink(cfg)
	if err != nil {
		closeStore(queueStore)
		return nil, err
	}

	ledger, err := autonomy.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		closeStore(queueStore)
		_ = sink.Close()
		return nil, fmt.Errorf("autonomy store init failed: %w", err)
	}

	settings := autonomy.NewSettingsProvider(autonomySettings(cfg), cfg.AutonomySettingsPath)

	planner := autonomy.NewPlanner(q, ledger, settings)
	planner.SetRunningMissionsFunc(func() int { return q.RunningByType(autonomy.TaskTypeMission) })
	planner.SetInteractivePendingFunc(q.PendingInteractive)
	planner.SetDecisionHook(func(d autonomy.Decision) {
		metrics.AutonomyDecisions.WithLabelValues(string(d.Reason)).Inc()
		bus.Publish(events.Event{
			Type:     events.EventAutonomyDecision,
			Decision: string(d.Decision),
			Reason:   string(d.Reason),
			Detail:   d.CandidateRef,
		})
	})
	planner.SetWindowHook(func(w autonomy.Window) {
		left := w.Budget - w.Consumed
		if left < 0 {
			left = 0
		}
		metrics.AutonomyBudgetLeft.Set(float64(left))
	})
	if cfg.AutonomyCandidatesPath != "" {
		planner.AddSource(autonomy.NewFileSource("file", cfg.AutonomyCandidatesPath))
	}

	runner := execution.NewRunner(cfg.OpsShell, cfg.OpsWorkdir)

	registry := handlers.NewRegistry()
	registry.Register(handlers.TaskTypeCommand, handlers.NewCommandHandler(runner, cfg.ArtifactDir))
	registry.Register(handlers.TaskTypeQueuePrune, handlers.NewQueuePruneHandler(q, cfg.QueueRetention))
	registry.Register(handlers.TaskTypeChatReply, handlers.NewChatReplyHandler(nil))
	registry.Register(handlers.TaskTypeAutonomyPlan, handlers.NewAutonomyPlanHandler(planner))
	registry.Register(autonomy.TaskTypeMission, handlers.NewMissionHandler(nil))

	source := jobs.NewSource(q)
	if err := registerJobs(source, cfg); err != nil {
		closeStore(queueStore)
		_ = sink.Close()
		_ = ledger.Close()
		return nil, err
	}

	schedStore, err := scheduler.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		closeStore(queueStore)
		_ = sink.Close()
		_ = ledger.Close()
		return nil, fmt.Errorf("scheduler store init failed: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		ActiveInterval:       cfg.ActiveInterval,
		IdleInterval:         cfg.IdleInterval,
		OffHoursInterval:     cfg.OffHoursInterval,
		MaxTasksPerHeartbeat: cfg.MaxTasksPerHeartbeat,
		BusinessStartHour:    cfg.BusinessStartHour,
		BusinessEndHour:      cfg.BusinessEndHour,
		BusinessDays:         businessDays(cfg.BusinessDays),
		BacklogCaps: map[string]int{
			handlers.TaskTypeQueuePrune:   cfg.MaintenanceBacklogCap,
			handlers.TaskTypeAutonomyPlan: cfg.MaintenanceBacklogCap,
		},
	}, q, sessions, registry)
	sched.SetJobSource(source)
	sched.SetAuditSink(sink)
	sched.SetMetrics(metrics)
	sched.SetBus(bus)
	sched.SetStore(schedStore)

	api := httpapi.New(cfg, q, sessions, sched, planner, settings, ledger, metrics, bus)

	cleanup := func() error {
		var errs []string
		if err := sink.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := ledger.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if schedStore != nil {
			if err := schedStore.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if queueStore != nil {
			if err := queueStore.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Queue:     q,
		Sessions:  sessions,
		Scheduler: sched,
		Planner:   planner,
		Settings:  settings,
		Metrics:   metrics,
		Bus:       bus,
		Cleanup:   cleanup,
	}, nil
}

func closeStore(s queue.Store) {
	if s != nil {
		_ = s.Close()
	}
}

func publishItemEvent(bus *events.Bus, metrics *observability.Metrics, item queue.Item, coalesced bool) {
	evt := events.Event{
		ItemID:    item.ID,
		DedupeKey: item.DedupeKey,
		TaskType:  item.Payload.TaskType,
		Priority:  item.Priority.String(),
	}
	switch {
	case coalesced:
		evt.Type = events.EventItemCoalesced
		metrics.QueueItems.WithLabelValues("coalesced").Inc()
	case item.Status == queue.StatusQueued:
		evt.Type = events.EventItemEnqueued
		metrics.QueueItems.WithLabelValues("enqueued").Inc()
	case item.Status == queue.StatusRunning:
		evt.Type = events.EventItemClaimed
	case item.Status == queue.StatusDone:
		evt.Type = events.EventItemDone
	case item.Status == queue.StatusFailed:
		evt.Type = events.EventItemFailed
		evt.Reason = item.FailReason
	default:
		return
	}
	bus.Publish(evt)
}

func buildAuditSink(cfg config.Config) (audit.Sink, error) {
	if strings.TrimSpace(cfg.AuditPath) == "" {
		return audit.NopSink{}, nil
	}
	sink, err := audit.NewFileSink(cfg.AuditPath, cfg.AuditMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("audit sink init failed: %w", err)
	}
	return sink, nil
}

func registerJobs(source *jobs.Source, cfg config.Config) error {
	if err := source.Register(jobs.Job{
		Name:     "queue-prune",
		TaskType: handlers.TaskTypeQueuePrune,
		Priority: queue.PriorityP2,
		Kind:     jobs.KindInterval,
		Every:    cfg.QueuePruneEvery,
	}); err != nil {
		return fmt.Errorf("register queue-prune job: %w", err)
	}
	if cfg.AutonomyEnabled {
		if err := source.Register(jobs.Job{
			Name:     "autonomy-plan",
			TaskType: handlers.TaskTypeAutonomyPlan,
			Priority: queue.PriorityP2,
			Kind:     jobs.KindInterval,
			Every:    cfg.AutonomyPlanInterval,
		}); err != nil {
			return fmt.Errorf("register autonomy-plan job: %w", err)
		}
	}
	return nil
}

func autonomySettings(cfg config.Config) autonomy.Settings {
	scope := make([]autonomy.Category, 0, len(cfg.AutonomyScope))
	for _, s := range cfg.AutonomyScope {
		scope = append(scope, autonomy.Category(s))
	}
	return autonomy.Settings{
		Enabled:                        cfg.AutonomyEnabled,
		HourlyBudget:                   cfg.AutonomyHourlyBudget,
		MinEV:                          cfg.AutonomyMinEV,
		RequireLowRisk:                 cfg.AutonomyRequireLowRisk,
		Scope:                          scope,
		MaxConcurrentMissions:          cfg.AutonomyMaxConcurrentMissions,
		InteractiveQueueBlockThreshold: cfg.AutonomyInteractiveBlock,
		MaxCandidates:                  cfg.AutonomyMaxCandidates,
	}
}

func businessDays(days []time.Weekday) map[time.Weekday]bool {
	out := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		out[d] = true
	}
	return out
}
