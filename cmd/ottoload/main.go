package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/antoniostano/otto/internal/app"
	"github.com/antoniostano/otto/internal/config"
	"github.com/antoniostano/otto/internal/events"
	"github.com/antoniostano/otto/internal/handlers"
	"github.com/antoniostano/otto/internal/queue"
)

type options struct {
	bursts           int
	burstSize        int
	duplicates       int
	interactiveRatio float64
	heartbeatStorm   int
	burstDelay       time.Duration
	settleTimeout    time.Duration
	verbose          bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ottoload: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ottoload: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var burstDelayMS int
	var settleTimeoutMS int

	flag.IntVar(&cfg.bursts, "bursts", 10, "number of enqueue bursts")
	flag.IntVar(&cfg.burstSize, "burst-size", 20, "distinct items per burst")
	flag.IntVar(&cfg.duplicates, "duplicates", 3, "duplicate submissions per item within a burst")
	flag.Float64Var(&cfg.interactiveRatio, "interactive-ratio", 0.25, "fraction of items marked interactive")
	flag.IntVar(&cfg.heartbeatStorm, "heartbeat-storm", 50, "extra heartbeat requests fired during each burst")
	flag.IntVar(&burstDelayMS, "burst-delay-ms", 100, "delay between bursts in milliseconds")
	flag.IntVar(&settleTimeoutMS, "settle-timeout-ms", 30000, "timeout waiting for all items to finalize in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print burst progress")
	flag.Parse()

	if cfg.bursts <= 0 {
		return options{}, fmt.Errorf("bursts must be > 0")
	}
	if cfg.burstSize <= 0 {
		return options{}, fmt.Errorf("burst-size must be > 0")
	}
	if cfg.duplicates < 1 {
		cfg.duplicates = 1
	}
	if cfg.interactiveRatio < 0 || cfg.interactiveRatio > 1 {
		return options{}, fmt.Errorf("interactive-ratio must be in [0,1]")
	}
	if cfg.heartbeatStorm < 0 {
		cfg.heartbeatStorm = 0
	}
	if burstDelayMS < 0 {
		burstDelayMS = 0
	}
	if settleTimeoutMS < 1000 {
		settleTimeoutMS = 1000
	}
	cfg.burstDelay = time.Duration(burstDelayMS) * time.Millisecond
	cfg.settleTimeout = time.Duration(settleTimeoutMS) * time.Millisecond
	return cfg, nil
}

// tracker correlates bus events per item so the enqueue_to_claim and
// enqueue_to_finalize spans can be reported as percentiles.
type tracker struct {
	mu         sync.Mutex
	enqueuedAt map[string]time.Time
	claimedAt  map[string]time.Time
	claim      []time.Duration
	finalize   []time.Duration
	coalesced  int
	done       int
	failed     int
}

func newTracker() *tracker {
	return &tracker{
		enqueuedAt: make(map[string]time.Time),
		claimedAt:  make(map[string]time.Time),
	}
}

func (t *tracker) observe(evt events.Event) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	switch evt.Type {
	case events.EventItemEnqueued:
		t.enqueuedAt[evt.ItemID] = now
	case events.EventItemCoalesced:
		t.coalesced++
	case events.EventItemClaimed:
		if start, ok := t.enqueuedAt[evt.ItemID]; ok {
			t.claimedAt[evt.ItemID] = now
			t.claim = append(t.claim, now.Sub(start))
		}
	case events.EventItemDone, events.EventItemFailed:
		if evt.Type == events.EventItemFailed {
			t.failed++
		} else {
			t.done++
		}
		if start, ok := t.enqueuedAt[evt.ItemID]; ok {
			t.finalize = append(t.finalize, now.Sub(start))
		}
	}
}

func (t *tracker) finalized() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done + t.failed
}

func run(cfg options) error {
	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// In-process soak: no external stores, no audit file, tight cadence.
	appCfg.DatabaseURL = ""
	appCfg.AuditPath = ""
	appCfg.AutonomyEnabled = false
	appCfg.ActiveInterval = 50 * time.Millisecond
	appCfg.IdleInterval = 200 * time.Millisecond
	appCfg.MaxConcurrent = 8
	appCfg.MaxTasksPerHeartbeat = 8
	appCfg.QueueCoalesceWindow = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := app.Build(ctx, appCfg)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer func() { _ = result.Cleanup() }()

	track := newTracker()
	eventCh, unsubscribe := result.Bus.Subscribe()
	defer unsubscribe()
	go func() {
		for evt := range eventCh {
			track.observe(evt)
		}
	}()

	result.Scheduler.Start(ctx)

	total := cfg.bursts * cfg.burstSize
	started := time.Now()
	for burst := 0; burst < cfg.bursts; burst++ {
		for i := 0; i < cfg.burstSize; i++ {
			dedupeKey := fmt.Sprintf("load:%d:%d", burst, i)
			interactive := float64(i%cfg.burstSize) < cfg.interactiveRatio*float64(cfg.burstSize)
			data, _ := json.Marshal(map[string]string{
				"message": fmt.Sprintf("burst %d item %d", burst, i),
			})
			for d := 0; d < cfg.duplicates; d++ {
				if _, err := result.Queue.Enqueue(queue.EnqueueRequest{
					DedupeKey: dedupeKey,
					Priority:  queue.PriorityP1,
					Payload: queue.Payload{
						TaskType:    handlers.TaskTypeChatReply,
						Interactive: interactive,
						Data:        data,
					},
				}); err != nil {
					return fmt.Errorf("enqueue %s: %w", dedupeKey, err)
				}
			}
		}
		for s := 0; s < cfg.heartbeatStorm; s++ {
			result.Scheduler.Heartbeat()
		}
		if cfg.verbose {
			fmt.Printf("ottoload: burst %d/%d enqueued (depth=%d)\n", burst+1, cfg.bursts, result.Queue.ReadyDepth())
		}
		if cfg.burstDelay > 0 && burst < cfg.bursts-1 {
			time.Sleep(cfg.burstDelay)
		}
	}

	if err := awaitSettle(track, total, cfg.settleTimeout, result.Scheduler.Heartbeat); err != nil {
		return err
	}
	elapsed := time.Since(started)

	result.Scheduler.Stop()
	result.Scheduler.Drain()

	report(track, total, cfg, elapsed)
	return nil
}

func awaitSettle(track *tracker, total int, timeout time.Duration, heartbeat func()) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if track.finalized() >= total {
			return nil
		}
		heartbeat()
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out: %d/%d items finalized after %s", track.finalized(), total, timeout)
}

func report(track *tracker, total int, cfg options, elapsed time.Duration) {
	track.mu.Lock()
	defer track.mu.Unlock()

	expectedDuplicates := total * (cfg.duplicates - 1)
	fmt.Printf("ottoload: items=%d duplicates=%d coalesced=%d done=%d failed=%d elapsed=%s\n",
		total, expectedDuplicates, track.coalesced, track.done, track.failed, elapsed.Round(time.Millisecond))
	fmt.Printf("ottoload: throughput=%.1f items/s\n", float64(total)/elapsed.Seconds())
	printPercentiles("enqueue_to_claim", track.claim)
	printPercentiles("enqueue_to_finalize", track.finalize)
}

func printPercentiles(label string, samples []time.Duration) {
	if len(samples) == 0 {
		fmt.Printf("ottoload: %-18s no samples\n", label)
		return
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	fmt.Printf("ottoload: %-18s n=%d p50=%s p95=%s p99=%s max=%s\n",
		label, len(sorted),
		quantile(sorted, 0.50).Round(time.Microsecond),
		quantile(sorted, 0.95).Round(time.Microsecond),
		quantile(sorted, 0.99).Round(time.Microsecond),
		sorted[len(sorted)-1].Round(time.Microsecond))
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[hi]-sorted[lo]))
}
