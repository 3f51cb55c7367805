// Package scheduler implements C5, the debounced, folder-keyed scan
// scheduler. Instead of a single global debounce timer gating one
// refresh, it keeps a per-(section,folder) map of last-event times that
// one 1s ticker sweeps, so many folders debounce independently.
package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/mediaserver"
	"github.com/omniscan/mediasync/internal/metrics"
)

// ChangeKind distinguishes additions from deletions within a pending
// folder's accumulated change set.
type ChangeKind int

const (
	Added ChangeKind = iota
	Deleted
)

// FolderSummary describes one ready folder for a grouped/bulk
// notification.
type FolderSummary struct {
	SectionTitle string
	Folder       string
	Added        []string
	Deleted      []string
}

// Notifier is the narrow interface the scheduler needs from C8.
type Notifier interface {
	FolderUpdate(ctx context.Context, summary FolderSummary)
	BulkUpdate(ctx context.Context, summaries []FolderSummary)
}

type pendingKey struct {
	sectionID string
	folder    string
}

type pendingEntry struct {
	lastEvent    time.Time
	added        []string
	deleted      []string
	libraryTitle string
	section      mediaserver.Section
}

// Scheduler is C5, the ScanScheduler.
type Scheduler struct {
	client   mediaserver.Client
	notifier Notifier
	log      *logrus.Entry

	debounce    time.Duration
	dryRun      bool
	idleTimeout time.Duration

	mu      sync.Mutex
	pending map[pendingKey]*pendingEntry

	sectionLocksMu sync.Mutex
	sectionLocks   map[string]*sync.Mutex

	tasks  chan dispatchTask
	stopCh chan struct{}
	wg     sync.WaitGroup

	pendingGauge func(n int)
}

type dispatchTask struct {
	section mediaserver.Section
	folder  string
}

// Options configures a Scheduler.
type Options struct {
	Debounce     time.Duration
	DryRun       bool
	Workers      int
	IdleTimeout  time.Duration // WaitForSectionIdle budget, default 600s
	PendingGauge func(n int)   // optional metrics hook
}

// New builds a Scheduler. Call Start to begin its background loops.
func New(client mediaserver.Client, notifier Notifier, opts Options, log *logrus.Entry) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 600 * time.Second
	}
	if opts.PendingGauge == nil {
		opts.PendingGauge = func(int) {}
	}
	s := &Scheduler{
		client:       client,
		notifier:     notifier,
		log:          log,
		debounce:     opts.Debounce,
		dryRun:       opts.DryRun,
		idleTimeout:  opts.IdleTimeout,
		pending:      make(map[pendingKey]*pendingEntry),
		sectionLocks: make(map[string]*sync.Mutex),
		tasks:        make(chan dispatchTask, 256),
		stopCh:       make(chan struct{}),
		pendingGauge: opts.PendingGauge,
	}
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.dispatchWorker()
	}
	return s
}

// Start runs the 1s-cadence tick loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and dispatch workers, draining best-effort.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	close(s.tasks)
	s.wg.Wait()
}

// TargetPath decides whether a refresh should name the file itself (flat
// root) or its parent folder.
func TargetPath(isRoot bool, filePath string) string {
	if isRoot {
		return filePath
	}
	return filepath.Dir(filePath)
}

// Enroll records an event for (section, targetPath). When force is true
// the debounce window is bypassed and the folder is dispatched
// immediately, used by manual UI/CLI triggers.
func (s *Scheduler) Enroll(ctx context.Context, section mediaserver.Section, targetPath string, kind ChangeKind, filePath, libraryTitle string, force bool) {
	if force {
		s.emitAndDispatch(ctx, []FolderSummary{{
			SectionTitle: libraryTitle,
			Folder:       targetPath,
			Added:        enrollList(kind, Added, filePath),
			Deleted:      enrollList(kind, Deleted, filePath),
		}}, []dispatchTask{{section: section, folder: targetPath}})
		return
	}

	key := pendingKey{sectionID: section.ID, folder: targetPath}
	s.mu.Lock()
	entry, ok := s.pending[key]
	if !ok {
		entry = &pendingEntry{libraryTitle: libraryTitle, section: section}
		s.pending[key] = entry
	}
	entry.lastEvent = time.Now()
	switch kind {
	case Added:
		entry.added = append(entry.added, filePath)
	case Deleted:
		entry.deleted = append(entry.deleted, filePath)
	}
	n := len(s.pending)
	s.mu.Unlock()
	s.pendingGauge(n)
}

func enrollList(kind, want ChangeKind, filePath string) []string {
	if kind == want {
		return []string{filePath}
	}
	return nil
}

// tick collects every pending entry whose debounce window has elapsed,
// removes them, and dispatches + notifies.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	var ready []FolderSummary
	var tasks []dispatchTask

	s.mu.Lock()
	for key, entry := range s.pending {
		if now.Sub(entry.lastEvent) < s.debounce {
			continue
		}
		ready = append(ready, FolderSummary{
			SectionTitle: entry.libraryTitle,
			Folder:       key.folder,
			Added:        entry.added,
			Deleted:      entry.deleted,
		})
		tasks = append(tasks, dispatchTask{section: entry.section, folder: key.folder})
		delete(s.pending, key)
	}
	n := len(s.pending)
	s.mu.Unlock()
	s.pendingGauge(n)

	if len(ready) == 0 {
		return
	}
	s.emitAndDispatch(ctx, ready, tasks)
}

func (s *Scheduler) emitAndDispatch(ctx context.Context, ready []FolderSummary, tasks []dispatchTask) {
	go func() {
		if len(ready) == 1 {
			s.notifier.FolderUpdate(ctx, ready[0])
		} else {
			s.notifier.BulkUpdate(ctx, ready)
		}
	}()
	for _, task := range tasks {
		select {
		case s.tasks <- task:
		default:
			s.log.WithField("folder", task.folder).Warn("dispatch queue full, running inline")
			s.dispatch(ctx, task)
		}
	}
}

func (s *Scheduler) dispatchWorker() {
	defer s.wg.Done()
	for task := range s.tasks {
		s.dispatch(context.Background(), task)
	}
}

func (s *Scheduler) sectionLock(id string) *sync.Mutex {
	s.sectionLocksMu.Lock()
	defer s.sectionLocksMu.Unlock()
	l, ok := s.sectionLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.sectionLocks[id] = l
	}
	return l
}

// dispatch issues the refresh for one (section, folder) pair. Acquiring
// the per-section lock before RequestRefresh/WaitForSectionIdle is what
// guarantees at most one refresh in flight per section at a time, while
// leaving different sections free to dispatch concurrently.
func (s *Scheduler) dispatch(ctx context.Context, task dispatchTask) {
	if s.dryRun {
		s.log.WithFields(logrus.Fields{"section": task.section.Title, "folder": task.folder}).Info("dry run: would refresh")
		return
	}
	lock := s.sectionLock(task.section.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.client.RequestRefresh(ctx, task.section, task.folder); err != nil {
		s.log.WithError(err).WithField("folder", task.folder).Warn("refresh request failed")
		metrics.ScanErrorsTotal.Inc()
		return
	}
	metrics.TriggeredScansTotal.Inc()
	if err := s.client.WaitForSectionIdle(ctx, task.section, s.idleTimeout); err != nil {
		s.log.WithError(err).WithField("section", task.section.Title).Warn("wait for section idle failed")
	}
}

// Pending returns the number of folders currently debouncing, for
// metrics/diagnostics.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
