// Package sweep implements C7, the full-tree reconciliation sweep: a
// parallel walk of every configured scan root that finds files the
// remote server does not yet know about and enrolls their folders for
// refresh, guarded against mass-deletion false positives.
package sweep

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/omniscan/mediasync/internal/config"
	"github.com/omniscan/mediasync/internal/errs"
	"github.com/omniscan/mediasync/internal/health"
	"github.com/omniscan/mediasync/internal/library"
	"github.com/omniscan/mediasync/internal/mediaserver"
	"github.com/omniscan/mediasync/internal/metrics"
	"github.com/omniscan/mediasync/internal/scheduler"
	"github.com/omniscan/mediasync/internal/stuck"
)

// RunStats summarizes one sweep invocation.
type RunStats struct {
	RunID          string
	Scanned        int
	TotalMissing   int
	StuckCount     int
	CorruptCount   int
	BrokenSymlinks int
	MissingByLib   map[string][]string
	Aborted        bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Notifier is the narrow interface the sweep engine needs from C8.
type Notifier interface {
	SweepSummary(ctx context.Context, runID string, scanned, missing, stuck, corrupt int, duration time.Duration)
	MassDeletionAborted(ctx context.Context, runID string, missing, threshold int)
}

// WatcherActive reports whether a live filesystem watcher is currently
// running, deciding whether the library cache should be dropped after a
// sweep (SPEC_FULL.md §4.7 step 6).
type WatcherActive func() bool

// Engine is C7, the SweepEngine.
type Engine struct {
	client    mediaserver.Client
	index     *library.Index
	stuck     *stuck.Tracker
	health    *health.Verifier
	scheduler *scheduler.Scheduler
	notifier  Notifier
	cfg       *config.Config
	log       *logrus.Entry
	watcherOn WatcherActive

	group singleflight.Group
}

// New builds a sweep Engine.
func New(client mediaserver.Client, idx *library.Index, st *stuck.Tracker, hv *health.Verifier, sch *scheduler.Scheduler, notifier Notifier, cfg *config.Config, watcherOn WatcherActive, log *logrus.Entry) *Engine {
	if watcherOn == nil {
		watcherOn = func() bool { return false }
	}
	return &Engine{
		client: client, index: idx, stuck: st, health: hv, scheduler: sch,
		notifier: notifier, cfg: cfg, log: log, watcherOn: watcherOn,
	}
}

type folderKey struct {
	sectionID string
	folder    string
}

// RunSweep runs a full reconciliation sweep. Concurrent callers are
// coalesced via singleflight: if a sweep is already running, the caller
// waits for and receives that same run's stats rather than starting a
// second one. The stats are returned alongside any error, so an aborted
// run still reports its counts.
func (e *Engine) RunSweep(ctx context.Context) (*RunStats, error) {
	v, err, _ := e.group.Do("sweep", func() (interface{}, error) {
		return e.run(ctx)
	})
	stats, _ := v.(*RunStats)
	return stats, err
}

func (e *Engine) run(ctx context.Context) (*RunStats, error) {
	runID := uuid.NewString()
	log := e.log.WithField("run", runID)
	stats := &RunStats{RunID: runID, MissingByLib: map[string][]string{}, StartedAt: time.Now()}

	e.index.Clear()
	if err := e.client.Connect(ctx, true); err != nil {
		return stats, err
	}
	sections, err := e.client.ListSections(ctx)
	if err != nil {
		return stats, err
	}
	e.index.SetSections(sections)
	for _, s := range sections {
		if err := e.index.Rebuild(ctx, s); err != nil {
			log.WithError(err).WithField("section", s.Title).Warn("failed to pre-cache section")
		}
	}

	var limiter *rate.Limiter
	if e.cfg.ScanDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.cfg.ScanDelay), 1)
	}

	var mu sync.Mutex
	pending := make(map[folderKey]mediaserver.Section)

	workers := e.cfg.ScanWorkers
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, root := range e.cfg.ScanDirectories {
		entries, err := os.ReadDir(root)
		if err != nil {
			log.WithError(err).WithField("root", root).Warn("failed to read scan root")
			continue
		}
		for _, entry := range entries {
			top := filepath.Join(root, entry.Name())
			wg.Add(1)
			sem <- struct{}{}
			go func(p string) {
				defer wg.Done()
				defer func() { <-sem }()
				e.walkSubtree(ctx, p, limiter, stats, pending, &mu)
			}(top)
		}
	}
	wg.Wait()

	if e.cfg.AbortOnMassDeletion && stats.TotalMissing > e.cfg.DeletionThreshold {
		stats.Aborted = true
		e.notifier.MassDeletionAborted(ctx, runID, stats.TotalMissing, e.cfg.DeletionThreshold)
		stats.FinishedAt = time.Now()
		return stats, errs.ErrMassDeletion
	}

	keys := make([]folderKey, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].folder < keys[j].folder })
	for _, k := range keys {
		section := pending[k]
		e.scheduler.Enroll(ctx, section, k.folder, scheduler.Added, "", section.Title, true)
	}

	stats.FinishedAt = time.Now()
	metrics.ScanDurationSeconds.Observe(stats.FinishedAt.Sub(stats.StartedAt).Seconds())
	e.notifier.SweepSummary(ctx, runID, stats.Scanned, stats.TotalMissing, stats.StuckCount, stats.CorruptCount, stats.FinishedAt.Sub(stats.StartedAt))

	if !e.watcherOn() {
		e.index.Clear()
	}
	return stats, nil
}

func (e *Engine) walkSubtree(ctx context.Context, root string, limiter *rate.Limiter, stats *RunStats, pending map[folderKey]mediaserver.Section, mu *sync.Mutex) {
	cutoff := time.Now().AddDate(0, 0, -e.cfg.ScanSinceDays)
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint: the original tool logs and continues past per-entry errors
		}
		if d.IsDir() {
			if e.cfg.IncrementalScan {
				if info, statErr := d.Info(); statErr == nil && info.ModTime().Before(cutoff) {
					return filepath.SkipDir
				}
			}
			if e.ignoredDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		e.processFile(ctx, path, limiter, stats, pending, mu)
		return nil
	})
}

func (e *Engine) ignoredDir(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range e.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (e *Engine) processFile(ctx context.Context, path string, limiter *rate.Limiter, stats *RunStats, pending map[folderKey]mediaserver.Section, mu *sync.Mutex) {
	if !e.cfg.MediaExtensions[strings.ToLower(filepath.Ext(path))] {
		return
	}
	base := filepath.Base(path)
	for _, pattern := range e.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return
		}
	}

	if limiter != nil {
		_ = limiter.Wait(ctx)
	}

	mu.Lock()
	stats.Scanned++
	mu.Unlock()
	metrics.ScannedFilesTotal.Inc()

	section, ok := e.index.Resolve(path)
	if !ok {
		return
	}
	if e.index.Contains(section.ID, path) {
		return
	}

	if e.health != nil && e.cfg.HealthCheck {
		res := e.health.Check(ctx, path)
		if res.Kind == health.Corrupt || res.Kind == health.Timeout || res.Kind == health.ErrorKnd {
			mu.Lock()
			stats.CorruptCount++
			mu.Unlock()
			metrics.ScanErrorsTotal.Inc()
			e.stuck.AppendEvent("sweep-health", path, string(res.Kind)+": "+res.Reason)
			return
		}
	}

	giveUp, err := e.stuck.RecordAttempt(path)
	if err != nil {
		e.log.WithError(err).Warn("failed to record attempt during sweep")
		return
	}
	if giveUp {
		mu.Lock()
		stats.StuckCount++
		mu.Unlock()
		return
	}

	mu.Lock()
	stats.TotalMissing++
	stats.MissingByLib[section.Title] = append(stats.MissingByLib[section.Title], path)
	target := scheduler.TargetPath(e.index.IsRoot(section.ID, filepath.Dir(path)), path)
	pending[folderKey{sectionID: section.ID, folder: target}] = section
	mu.Unlock()
	metrics.MissingFilesTotal.Inc()
}
