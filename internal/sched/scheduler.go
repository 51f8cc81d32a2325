package sched

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"macro-service/internal/engine"
	"macro-service/internal/store"

	"github.com/robfig/cron/v3"
)

// FireFunc is called when a registered trigger fires.
type FireFunc func(ctx context.Context, macroID int64, triggerKind string)

// Scheduler registers macro triggers and fires them. Time triggers run on a
// cron runner with custom schedules; network and clipboard triggers fire
// from events pushed in through HandleNetworkEvent and HandleClipboardEvent.
// Manual triggers have no registration.
type Scheduler struct {
	repo *store.Repo
	fire FireFunc
	cron *cron.Cron

	mu        sync.Mutex
	cronIDs   map[int64][]cron.EntryID // macroID -> cron entries
	network   map[int64][]string       // macroID -> trigger_on filters
	clipboard map[int64]struct{}
}

func New(repo *store.Repo, fire FireFunc) *Scheduler {
	return &Scheduler{
		repo:      repo,
		fire:      fire,
		cron:      cron.New(),
		cronIDs:   map[int64][]cron.EntryID{},
		network:   map[int64][]string{},
		clipboard: map[int64]struct{}{},
	}
}

// Start registers every enabled macro's triggers and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	macros, err := s.repo.ListEnabledMacros(ctx)
	if err != nil {
		return err
	}
	for _, m := range macros {
		if err := s.RegisterMacro(ctx, m.ID); err != nil {
			slog.Warn("trigger registration failed", "macro_id", m.ID, "error", err)
		}
	}
	s.cron.Start()
	slog.Info("scheduler started", "macros", len(macros))
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RegisterMacro registers all enabled triggers of one macro, replacing any
// previous registration.
func (s *Scheduler) RegisterMacro(ctx context.Context, macroID int64) error {
	s.UnregisterMacro(macroID)

	triggers, err := s.repo.ListTriggersByMacro(ctx, macroID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range triggers {
		if !t.Enabled {
			continue
		}
		switch t.Type {
		case engine.TriggerTime:
			s.registerTimeTrigger(macroID, t)
		case engine.TriggerNetwork:
			var cfg engine.NetworkTriggerConfig
			if err := json.Unmarshal(t.Config, &cfg); err != nil {
				slog.Warn("invalid network trigger config", "trigger_id", t.ID, "error", err)
				continue
			}
			s.network[macroID] = append(s.network[macroID], cfg.TriggerOn)
		case engine.TriggerClipboard:
			s.clipboard[macroID] = struct{}{}
		case engine.TriggerManual:
			// Fired through the API only.
		default:
			slog.Warn("unknown trigger type", "trigger_id", t.ID, "type", t.Type)
		}
	}
	return nil
}

func (s *Scheduler) registerTimeTrigger(macroID int64, t store.Trigger) {
	var cfg engine.TimeTriggerConfig
	if err := json.Unmarshal(t.Config, &cfg); err != nil {
		slog.Warn("invalid time trigger config", "trigger_id", t.ID, "error", err)
		return
	}
	schedule := scheduleFor(cfg, time.Now())
	if schedule == nil {
		slog.Warn("time trigger can never fire, skipping", "trigger_id", t.ID, "mode", cfg.Mode)
		return
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.dispatch(macroID, engine.TriggerTime)
	}))
	s.cronIDs[macroID] = append(s.cronIDs[macroID], id)
	slog.Info("time trigger registered", "macro_id", macroID, "trigger_id", t.ID, "mode", cfg.Mode)
}

// UnregisterMacro removes every registration for the macro.
func (s *Scheduler) UnregisterMacro(macroID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.cronIDs[macroID] {
		s.cron.Remove(id)
	}
	delete(s.cronIDs, macroID)
	delete(s.network, macroID)
	delete(s.clipboard, macroID)
}

// HandleNetworkEvent fires macros whose network triggers match a transition
// like "wifi_connected". "network_disconnected" also matches
// "wifi_disconnected" filters.
func (s *Scheduler) HandleNetworkEvent(transition string) {
	s.mu.Lock()
	var matched []int64
	for macroID, filters := range s.network {
		for _, f := range filters {
			if networkMatches(f, transition) {
				matched = append(matched, macroID)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, id := range matched {
		s.dispatch(id, engine.TriggerNetwork)
	}
}

func networkMatches(filter, transition string) bool {
	if filter == transition {
		return true
	}
	return filter == "wifi_disconnected" && transition == "network_disconnected"
}

// HandleClipboardEvent fires every macro with a clipboard trigger.
func (s *Scheduler) HandleClipboardEvent() {
	s.mu.Lock()
	macros := make([]int64, 0, len(s.clipboard))
	for id := range s.clipboard {
		macros = append(macros, id)
	}
	s.mu.Unlock()

	for _, id := range macros {
		s.dispatch(id, engine.TriggerClipboard)
	}
}

func (s *Scheduler) dispatch(macroID int64, kind string) {
	if s.fire == nil {
		slog.Warn("trigger fired with no callback registered", "macro_id", macroID, "kind", kind)
		return
	}
	go s.fire(context.Background(), macroID, kind)
}
