// Package library maintains an in-memory mirror of what the remote media
// server believes it has indexed, and resolves filesystem paths to the
// library section that owns them.
package library

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/omniscan/mediasync/internal/mediaserver"
)

type rootEntry struct {
	path      string
	sectionID string
}

// Index is C2, the LibraryIndex. Safe for concurrent use.
//
// Membership updates are applied optimistically: a file just enrolled for
// a refresh is added to the set immediately, before the remote server has
// actually re-scanned it. This is a deliberate trade-off (see
// SPEC_FULL.md §9) that suppresses duplicate enrollments for the same
// file within one debounce window; a Rebuild from the server is always
// the eventual source of truth.
type Index struct {
	client mediaserver.Client
	group  singleflight.Group

	mu       sync.RWMutex
	sections map[string]mediaserver.Section
	roots    []rootEntry // sorted by descending path length for longest-prefix match
	sets     map[string]map[string]struct{}
}

// New builds an Index backed by client for Rebuild calls.
func New(client mediaserver.Client) *Index {
	return &Index{
		client:   client,
		sections: make(map[string]mediaserver.Section),
		sets:     make(map[string]map[string]struct{}),
	}
}

func normalize(path string) string {
	return filepath.Clean(path)
}

// SetSections replaces the known section/root set. Existing per-section
// membership sets for sections that still exist are preserved; sets for
// sections that disappeared are dropped.
func (idx *Index) SetSections(sections []mediaserver.Section) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	newSections := make(map[string]mediaserver.Section, len(sections))
	newRoots := make([]rootEntry, 0, len(sections)*2)
	newSets := make(map[string]map[string]struct{}, len(sections))
	for _, s := range sections {
		newSections[s.ID] = s
		for _, r := range s.Roots {
			newRoots = append(newRoots, rootEntry{path: normalize(r), sectionID: s.ID})
		}
		if existing, ok := idx.sets[s.ID]; ok {
			newSets[s.ID] = existing
		} else {
			newSets[s.ID] = make(map[string]struct{})
		}
	}
	sort.Slice(newRoots, func(i, j int) bool {
		return len(newRoots[i].path) > len(newRoots[j].path)
	})
	idx.sections = newSections
	idx.roots = newRoots
	idx.sets = newSets
}

// Resolve returns the section owning path via longest-prefix match over
// section roots, or ok=false if no root covers it.
func (idx *Index) Resolve(path string) (section mediaserver.Section, ok bool) {
	clean := normalize(path)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, r := range idx.roots {
		if isWithin(clean, r.path) {
			return idx.sections[r.sectionID], true
		}
	}
	return mediaserver.Section{}, false
}

func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// IsRoot reports whether path is exactly one of sectionID's roots.
func (idx *Index) IsRoot(sectionID, path string) bool {
	clean := normalize(path)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, r := range idx.roots {
		if r.sectionID == sectionID && r.path == clean {
			return true
		}
	}
	return false
}

// Contains reports whether path is present in sectionID's cached set.
// It also returns false when the section is entirely unpopulated (empty
// set); Populated tells "known absent" apart from "needs a Rebuild", and
// callers that need the server-side fallback call ContainsOrProbe instead.
func (idx *Index) Contains(sectionID, path string) bool {
	clean := normalize(path)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set, ok := idx.sets[sectionID]
	if !ok {
		return false
	}
	_, found := set[clean]
	return found
}

// Populated reports whether sectionID's set currently holds at least one
// path. A set emptied by Clear counts as unpopulated.
func (idx *Index) Populated(sectionID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set, ok := idx.sets[sectionID]
	return ok && len(set) > 0
}

// ContainsOrProbe checks the cache first; on a cold/miss result for an
// unpopulated section it falls back to asking the server directly, per
// SPEC_FULL.md §4.2.
func (idx *Index) ContainsOrProbe(ctx context.Context, section mediaserver.Section, path string) (bool, error) {
	if idx.Contains(section.ID, path) {
		return true, nil
	}
	if idx.Populated(section.ID) {
		return false, nil
	}
	return idx.client.ProbePath(ctx, section, path)
}

// Add optimistically inserts path into sectionID's set.
func (idx *Index) Add(sectionID, path string) {
	clean := normalize(path)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.sets[sectionID]
	if !ok {
		set = make(map[string]struct{})
		idx.sets[sectionID] = set
	}
	set[clean] = struct{}{}
}

// Remove optimistically deletes path from sectionID's set.
func (idx *Index) Remove(sectionID, path string) {
	clean := normalize(path)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if set, ok := idx.sets[sectionID]; ok {
		delete(set, clean)
	}
}

// Rebuild replaces sectionID's set from the server. Concurrent callers
// for the same section are coalesced onto a single in-flight fetch via
// singleflight, so a burst of Rebuild calls only costs one remote fetch.
func (idx *Index) Rebuild(ctx context.Context, section mediaserver.Section) error {
	_, err, _ := idx.group.Do(section.ID, func() (interface{}, error) {
		paths, err := idx.client.EnumerateIndexedPaths(ctx, section)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(paths))
		for _, p := range paths {
			set[normalize(p)] = struct{}{}
		}
		idx.mu.Lock()
		idx.sets[section.ID] = set
		idx.mu.Unlock()
		return nil, nil
	})
	return err
}

// Clear drops every cached section set (but keeps section/root metadata),
// used by SweepEngine at the start of a run and by the engine when no
// watcher remains active after a sweep.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id := range idx.sets {
		idx.sets[id] = make(map[string]struct{})
	}
}

// Sections returns the currently known sections.
func (idx *Index) Sections() []mediaserver.Section {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]mediaserver.Section, 0, len(idx.sections))
	for _, s := range idx.sections {
		out = append(out, s)
	}
	return out
}
