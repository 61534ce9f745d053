package autonomy

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	MaxHourlyBudget = 20
	defaultBudget   = 3
)

// Settings are the planner's admission-control knobs. HourlyBudget is
// clamped to [0,20] wherever settings enter the system.
type Settings struct {
	Enabled                        bool       `yaml:"enabled" json:"enabled"`
	HourlyBudget                   int        `yaml:"hourly_budget" json:"hourly_budget"`
	MinEV                          float64    `yaml:"min_ev" json:"min_ev"`
	RequireLowRisk                 bool       `yaml:"require_low_risk" json:"require_low_risk"`
	Scope                          []Category `yaml:"scope" json:"scope"`
	MaxConcurrentMissions          int        `yaml:"max_concurrent_missions" json:"max_concurrent_missions"`
	InteractiveQueueBlockThreshold int        `yaml:"interactive_queue_block_threshold" json:"interactive_queue_block_threshold"`
	MaxCandidates                  int        `yaml:"max_candidates" json:"max_candidates"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:                        true,
		HourlyBudget:                   defaultBudget,
		MinEV:                          1.0,
		RequireLowRisk:                 true,
		Scope:                          []Category{CategoryPerf, CategoryBugfix},
		MaxConcurrentMissions:          2,
		InteractiveQueueBlockThreshold: 3,
		MaxCandidates:                  25,
	}
}

func (s Settings) normalized() Settings {
	if s.HourlyBudget < 0 {
		s.HourlyBudget = 0
	}
	if s.HourlyBudget > MaxHourlyBudget {
		s.HourlyBudget = MaxHourlyBudget
	}
	if s.MaxConcurrentMissions <= 0 {
		s.MaxConcurrentMissions = 1
	}
	if s.InteractiveQueueBlockThreshold <= 0 {
		s.InteractiveQueueBlockThreshold = 1
	}
	if s.MaxCandidates <= 0 {
		s.MaxCandidates = 25
	}
	if len(s.Scope) == 0 {
		s.Scope = []Category{CategoryPerf, CategoryBugfix}
	}
	return s
}

func (s Settings) inScope(category Category) bool {
	for _, c := range s.Scope {
		if c == category {
			return true
		}
	}
	return false
}

// SettingsProvider serves the current settings and optionally hot-reloads
// them from a YAML file when it changes on disk.
type SettingsProvider struct {
	mu      sync.RWMutex
	current Settings
	path    string
}

func NewSettingsProvider(base Settings, path string) *SettingsProvider {
	p := &SettingsProvider{
		current: base.normalized(),
		path:    strings.TrimSpace(path),
	}
	if p.path != "" {
		if err := p.reload(); err != nil {
			log.Printf("autonomy settings: initial load failed, using defaults: %v", err)
		}
	}
	return p
}

func (p *SettingsProvider) Current() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Update replaces the settings in place (control-plane writes).
func (p *SettingsProvider) Update(s Settings) Settings {
	normalized := s.normalized()
	p.mu.Lock()
	p.current = normalized
	p.mu.Unlock()
	return normalized
}

func (p *SettingsProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse settings file: %w", err)
	}
	normalized := s.normalized()
	p.mu.Lock()
	p.current = normalized
	p.mu.Unlock()
	log.Printf("autonomy settings reloaded: enabled=%t budget=%d min_ev=%.2f", normalized.Enabled, normalized.HourlyBudget, normalized.MinEV)
	return nil
}

// Watch reloads the settings file whenever it is written. Editors replace
// files on save, so the watch is on the parent directory and filters by name.
func (p *SettingsProvider) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch settings dir %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != filepath.Clean(p.path) {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.reload(); err != nil {
					log.Printf("autonomy settings reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("settings watcher error: %v", err)
			}
		}
	}()
	return nil
}
