// Package watch adapts the filesystem to the engine's SubmitFileEvent
// entry point. It is a collaborator: it imports internal/engine, never
// the other way around. It walks every subdirectory once at startup to
// register watches, adds new directories as they appear, and hands each
// file event to the engine, whose scheduler does the debouncing.
package watch

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/events"
	"github.com/omniscan/mediasync/internal/metrics"
)

// Submitter is the narrow slice of engine.Engine the watcher needs.
type Submitter interface {
	SubmitFileEvent(kind events.Kind, path string)
	SetWatching(active bool)
}

// Watcher bridges fsnotify to Submitter.
type Watcher struct {
	fsw   *fsnotify.Watcher
	sub   Submitter
	log   *logrus.Entry
	roots []string
	done  chan struct{}
}

// New creates a Watcher rooted at roots. Call Start to begin delivering
// events.
func New(sub Submitter, roots []string, log *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fsw: fsw, sub: sub, log: log, roots: roots, done: make(chan struct{})}, nil
}

// Start registers watches on every directory under the configured roots
// and begins the event-consuming goroutine.
func (w *Watcher) Start() error {
	for _, root := range w.roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	w.sub.SetWatching(true)
	go w.loop()
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.log.WithError(err).WithField("path", path).Warn("walk error while registering watches")
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.log.WithError(err).WithField("path", path).Warn("failed to watch directory")
			} else {
				metrics.WatchedDirectories.Inc()
			}
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("fsnotify error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.WithError(err).WithField("path", ev.Name).Warn("failed to watch new directory")
			}
			return
		}
		w.sub.SubmitFileEvent(events.Created, ev.Name)
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the file's old name when it is moved or
		// renamed away; the new name arrives separately as its own Create
		// event (handled above). Only the destination is processed, per
		// Design Note #1: the source is never delivered as a deletion.
	case ev.Op&fsnotify.Remove != 0:
		w.sub.SubmitFileEvent(events.Deleted, ev.Name)
	}
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	close(w.done)
	w.sub.SetWatching(false)
	metrics.WatchedDirectories.Set(0)
	return w.fsw.Close()
}
