// Package events implements C6, the per-file event processor that turns
// raw filesystem notifications into scheduler enrollments.
package events

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/config"
	"github.com/omniscan/mediasync/internal/health"
	"github.com/omniscan/mediasync/internal/library"
	"github.com/omniscan/mediasync/internal/scheduler"
	"github.com/omniscan/mediasync/internal/stuck"
)

// Kind enumerates the filesystem event types the processor accepts.
type Kind int

const (
	Created Kind = iota
	Moved
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Moved:
		return "moved"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Processor is C6, the EventProcessor.
type Processor struct {
	index     *library.Index
	stuck     *stuck.Tracker
	health    *health.Verifier
	scheduler *scheduler.Scheduler
	cfg       *config.Config
	log       *logrus.Entry

	sem chan struct{}

	// reappearDelay is how long a deletion waits before re-checking
	// existence, matching the original handle_deletion's sleep(2).
	reappearDelay time.Duration
}

// New builds a Processor backed by the given components.
func New(idx *library.Index, st *stuck.Tracker, hv *health.Verifier, sch *scheduler.Scheduler, cfg *config.Config, log *logrus.Entry) *Processor {
	workers := cfg.ScanWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Processor{
		index:         idx,
		stuck:         st,
		health:        hv,
		scheduler:     sch,
		cfg:           cfg,
		log:           log,
		sem:           make(chan struct{}, workers),
		reappearDelay: 2 * time.Second,
	}
}

// SubmitFileEvent dispatches kind's handling to a bounded worker pool and
// returns immediately.
func (p *Processor) SubmitFileEvent(kind Kind, path string) {
	go func() {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		ctx := context.Background()
		switch kind {
		case Created, Moved:
			p.handleCreatedOrMoved(ctx, path)
		case Deleted:
			p.handleDeleted(ctx, path)
		}
	}()
}

// isIgnored matches fnmatch-style glob patterns against both the
// basename and the full path, matching the original is_ignored check.
// Glob matching over an ignore-pattern list is a narrow enough concern
// that path/filepath.Match (stdlib) is used directly rather than adding
// a dedicated globbing dependency — see DESIGN.md.
func (p *Processor) isIgnored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range p.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func (p *Processor) isMediaFile(path string) bool {
	return p.cfg.MediaExtensions[strings.ToLower(filepath.Ext(path))]
}

func (p *Processor) isBrokenSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	_, err = os.Stat(path)
	return err != nil
}

func (p *Processor) scanRootFor(path string) (string, bool) {
	clean := filepath.Clean(path)
	for _, root := range p.cfg.ScanDirectories {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

func (p *Processor) handleCreatedOrMoved(ctx context.Context, path string) {
	if p.isIgnored(path) || !p.isMediaFile(path) {
		return
	}
	if p.cfg.SymlinkCheck && p.isBrokenSymlink(path) {
		return
	}
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		p.stuck.AppendEvent("created", path, "corrupt: 0 bytes")
		return
	}

	section, ok := p.index.Resolve(path)
	if !ok {
		p.log.WithField("path", path).Debug("no section owns this path, dropping")
		return
	}

	if contained, _ := p.index.ContainsOrProbe(ctx, section, path); contained {
		if err := p.stuck.Clear(path); err != nil {
			p.log.WithError(err).Warn("failed to clear stuck entry")
		}
		return
	}

	if p.health != nil && p.cfg.HealthCheck {
		res := p.health.Check(ctx, path)
		if res.Kind == health.Corrupt || res.Kind == health.Timeout || res.Kind == health.ErrorKnd {
			p.stuck.AppendEvent("health", path, string(res.Kind)+": "+res.Reason)
			return
		}
		if res.Kind == health.Ignored {
			return
		}
	}

	giveUp, err := p.stuck.RecordAttempt(path)
	if err != nil {
		p.log.WithError(err).Warn("failed to record attempt")
		return
	}
	if giveUp {
		p.stuck.AppendEvent("stuck", path, "exceeded retry budget")
		return
	}

	p.index.Add(section.ID, path)
	target := scheduler.TargetPath(p.index.IsRoot(section.ID, filepath.Dir(path)), path)
	p.scheduler.Enroll(ctx, section, target, scheduler.Added, path, section.Title, false)
}

func (p *Processor) handleDeleted(ctx context.Context, path string) {
	if p.isIgnored(path) || !p.isMediaFile(path) {
		return
	}
	if _, err := os.Stat(path); err == nil {
		// Already reappeared before we even got to look.
		return
	}

	root, ok := p.scanRootFor(path)
	if ok {
		if _, err := os.Stat(root); err != nil {
			p.log.WithField("root", root).Warn("scan root unreachable, discarding deletion event (mount failure)")
			p.stuck.AppendEvent("deleted", path, "mount failure")
			return
		}
	}

	time.Sleep(p.reappearDelay)

	if _, err := os.Stat(path); err == nil {
		// Reappeared: transient glitch, not a real deletion.
		return
	}

	section, ok := p.index.Resolve(path)
	if !ok {
		return
	}
	p.index.Remove(section.ID, path)
	target := scheduler.TargetPath(p.index.IsRoot(section.ID, filepath.Dir(path)), path)
	p.scheduler.Enroll(ctx, section, target, scheduler.Deleted, path, section.Title, false)
}
