package engine

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omniscan/mediasync/internal/config"
	"github.com/omniscan/mediasync/internal/events"
)

func TestNewWiresAllComponents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MediaContainer":{}}`))
	}))
	defer srv.Close()

	root := t.TempDir()
	cfg := &config.Config{
		ServerType:      config.ServerPlex,
		PlexURL:         srv.URL,
		PlexToken:       "tok",
		ScanDirectories: []string{root},
		MediaExtensions: map[string]bool{".mkv": true},
		ScanWorkers:     2,
		StuckDBPath:     filepath.Join(t.TempDir(), "stuck.db"),
	}

	e, err := New(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	defer e.Stop()

	require.NotNil(t, e.Index())
	require.NotNil(t, e.Stuck())
	require.NotNil(t, e.Scheduler())
	require.Equal(t, cfg, e.Config())

	// Submitting an event for a non-media file must be a safe no-op.
	e.SubmitFileEvent(events.Created, filepath.Join(root, "notes.txt"))
}
