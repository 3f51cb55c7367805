// Package engine wires C1-C8 together behind a single façade. Each
// component receives the components it needs as constructor arguments,
// so none of them imports this package; Engine is the only concrete type
// that imports all of them, and Facade is the read-only view of it that
// collaborators such as the web dashboard depend on.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/config"
	"github.com/omniscan/mediasync/internal/events"
	"github.com/omniscan/mediasync/internal/health"
	"github.com/omniscan/mediasync/internal/library"
	"github.com/omniscan/mediasync/internal/mediaserver"
	"github.com/omniscan/mediasync/internal/metrics"
	"github.com/omniscan/mediasync/internal/notify"
	"github.com/omniscan/mediasync/internal/scheduler"
	"github.com/omniscan/mediasync/internal/stuck"
	"github.com/omniscan/mediasync/internal/sweep"
)

// Facade is the narrow read-only view of the engine that collaborators
// (the dashboard's web.Backend) depend on instead of *Engine.
type Facade interface {
	Sections() []mediaserver.Section
	Client() mediaserver.Client
	Index() *library.Index
	Stuck() *stuck.Tracker
	Scheduler() *scheduler.Scheduler
	Config() *config.Config
}

// Engine is C9: it owns every component and exposes the three operations
// collaborators (the filesystem watcher adapter, the web dashboard, the
// CLI) are allowed to call.
type Engine struct {
	cfg *config.Config
	log *logrus.Entry

	client    mediaserver.Client
	index     *library.Index
	stuck     *stuck.Tracker
	health    *health.Verifier
	notifier  *notify.Notifier
	scheduler *scheduler.Scheduler
	processor *events.Processor
	sweep     *sweep.Engine

	watcherActive atomic.Bool
}

// New constructs every component from cfg.
func New(cfg *config.Config, log *logrus.Entry) (*Engine, error) {
	client, err := mediaserver.New(cfg, log)
	if err != nil {
		return nil, err
	}

	stuckTracker, err := stuck.Open(cfg.StuckDBPath, 3, log.WithField("component", "stuck"))
	if err != nil {
		return nil, err
	}

	healthVerifier := health.New(health.Options{
		IgnoreSamples: cfg.IgnoreSamples,
		MinDuration:   cfg.MinDuration,
		ProbeTimeout:  cfg.ScanTimeout,
	}, stuckTracker, log.WithField("component", "health"))

	idx := library.New(client)
	if len(cfg.LibraryOverrides) > 0 {
		idx.SetSections(overrideSections(cfg.LibraryOverrides))
		log.WithField("count", len(cfg.LibraryOverrides)).Info("seeded library sections from libraries.yaml override")
	}
	notifier := notify.New(cfg.DiscordWebhookURL, cfg.NotificationsEnabled, log.WithField("component", "notify"))

	sched := scheduler.New(client, notifier, scheduler.Options{
		Debounce:     cfg.ScanDebounce,
		DryRun:       cfg.DryRun,
		Workers:      cfg.ScanWorkers,
		PendingGauge: func(n int) { metrics.PendingScans.Set(float64(n)) },
	}, log.WithField("component", "scheduler"))

	e := &Engine{
		cfg:       cfg,
		log:       log,
		client:    client,
		index:     idx,
		stuck:     stuckTracker,
		health:    healthVerifier,
		notifier:  notifier,
		scheduler: sched,
	}

	e.processor = events.New(idx, stuckTracker, healthVerifier, sched, cfg, log.WithField("component", "events"))
	e.sweep = sweep.New(client, idx, stuckTracker, healthVerifier, sched, notifier, cfg, e.IsWatching, log.WithField("component", "sweep"))

	return e, nil
}

// Start begins the scheduler's background tick loop. Collaborators
// (daemon main) are expected to call this once at startup.
func (e *Engine) Start(ctx context.Context) {
	e.scheduler.Start(ctx)
}

// Stop drains the scheduler's background work.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.stuck.Close()
}

// SubmitFileEvent is the entry point for filesystem-event adapters (C6).
func (e *Engine) SubmitFileEvent(kind events.Kind, path string) {
	e.processor.SubmitFileEvent(kind, path)
}

// TriggerFullSweep is the entry point for scheduled/manual sweeps (C7).
func (e *Engine) TriggerFullSweep(ctx context.Context) (*sweep.RunStats, error) {
	return e.sweep.RunSweep(ctx)
}

// CheckFileHealth is the entry point for ad-hoc health checks (C4).
func (e *Engine) CheckFileHealth(ctx context.Context, path string) health.Result {
	return e.health.Check(ctx, path)
}

// SetWatching records whether a live filesystem watcher is active, which
// the sweep engine consults to decide whether to retain the library
// cache after a run.
func (e *Engine) SetWatching(active bool) {
	e.watcherActive.Store(active)
}

// IsWatching reports the last value set by SetWatching.
func (e *Engine) IsWatching() bool {
	return e.watcherActive.Load()
}

// The accessors below satisfy Facade for read-only collaborators (the
// dashboard) without handing out the concrete Engine type.

func (e *Engine) Sections() []mediaserver.Section { return e.index.Sections() }
func (e *Engine) Client() mediaserver.Client      { return e.client }
func (e *Engine) Index() *library.Index           { return e.index }
func (e *Engine) Stuck() *stuck.Tracker           { return e.stuck }
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }
func (e *Engine) Config() *config.Config          { return e.cfg }

var _ Facade = (*Engine)(nil)

// overrideSections converts a libraries.yaml override list into Sections,
// falling back to the override's position as an ID when none is given.
func overrideSections(overrides []config.LibraryOverride) []mediaserver.Section {
	out := make([]mediaserver.Section, 0, len(overrides))
	for i, o := range overrides {
		id := o.ID
		if id == "" {
			id = fmt.Sprintf("override-%d", i)
		}
		out = append(out, mediaserver.Section{
			ID:    id,
			Title: o.Title,
			Kind:  mediaserver.Kind(o.Kind),
			Roots: o.Roots,
		})
	}
	return out
}
