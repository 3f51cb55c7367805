package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omniscan/mediasync/internal/events"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	events   []events.Kind
	paths    []string
	watching bool
}

func (r *recordingSubmitter) SubmitFileEvent(kind events.Kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	r.paths = append(r.paths, path)
}
func (r *recordingSubmitter) SetWatching(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watching = active
}
func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func TestWatcherDetectsCreatedFile(t *testing.T) {
	root := t.TempDir()
	sub := &recordingSubmitter{}
	w, err := New(sub, []string{root}, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	path := filepath.Join(root, "new.mkv")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	require.Eventually(t, func() bool { return sub.count() > 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherTracksNewDirectories(t *testing.T) {
	root := t.TempDir()
	sub := &recordingSubmitter{}
	w, err := New(sub, []string{root}, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	sub2 := filepath.Join(root, "Season 01")
	require.NoError(t, os.Mkdir(sub2, 0o755))
	time.Sleep(100 * time.Millisecond) // allow the new directory to be registered

	path := filepath.Join(sub2, "ep1.mkv")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	require.Eventually(t, func() bool { return sub.count() > 0 }, 2*time.Second, 20*time.Millisecond)
}
