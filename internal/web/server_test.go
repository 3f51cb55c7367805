package web

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omniscan/mediasync/internal/config"
	"github.com/omniscan/mediasync/internal/events"
	"github.com/omniscan/mediasync/internal/library"
	"github.com/omniscan/mediasync/internal/mediaserver"
	"github.com/omniscan/mediasync/internal/scheduler"
	"github.com/omniscan/mediasync/internal/stuck"
	"github.com/omniscan/mediasync/internal/sweep"
)

type stubClient struct{}

func (stubClient) Connect(ctx context.Context, retry bool) error { return nil }
func (stubClient) ListSections(ctx context.Context) ([]mediaserver.Section, error) {
	return nil, nil
}
func (stubClient) EnumerateIndexedPaths(ctx context.Context, section mediaserver.Section) ([]string, error) {
	return nil, nil
}
func (stubClient) ProbePath(ctx context.Context, section mediaserver.Section, path string) (bool, error) {
	return false, nil
}
func (stubClient) RequestRefresh(ctx context.Context, section mediaserver.Section, path string) error {
	return nil
}
func (stubClient) WaitForSectionIdle(ctx context.Context, section mediaserver.Section, timeout time.Duration) error {
	return nil
}

type fakeNotifier struct{}

func (fakeNotifier) FolderUpdate(ctx context.Context, s scheduler.FolderSummary) {}
func (fakeNotifier) BulkUpdate(ctx context.Context, s []scheduler.FolderSummary) {}

type fakeBackend struct {
	idx *library.Index
	st  *stuck.Tracker
	sch *scheduler.Scheduler
	cfg *config.Config
}

func (f *fakeBackend) Sections() []mediaserver.Section { return f.idx.Sections() }
func (f *fakeBackend) Client() mediaserver.Client      { return stubClient{} }
func (f *fakeBackend) Index() *library.Index           { return f.idx }
func (f *fakeBackend) Stuck() *stuck.Tracker           { return f.st }
func (f *fakeBackend) Scheduler() *scheduler.Scheduler { return f.sch }
func (f *fakeBackend) Config() *config.Config          { return f.cfg }
func (f *fakeBackend) TriggerFullSweep(ctx context.Context) (*sweep.RunStats, error) {
	return &sweep.RunStats{RunID: "test"}, nil
}
// SubmitFileEvent stands in for the engine's created-event path, which
// optimistically adds the file to its section's index.
func (f *fakeBackend) SubmitFileEvent(kind events.Kind, path string) {
	if sec, ok := f.idx.Resolve(path); ok && kind == events.Created {
		f.idx.Add(sec.ID, path)
	}
}

func newTestBackend(t *testing.T) *fakeBackend {
	t.Helper()
	st, err := stuck.Open(filepath.Join(t.TempDir(), "s.db"), 3, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	sch := scheduler.New(stubClient{}, fakeNotifier{}, scheduler.Options{Debounce: time.Hour}, logrus.NewEntry(logrus.New()))
	t.Cleanup(sch.Stop)
	return &fakeBackend{
		idx: library.New(stubClient{}),
		st:  st,
		sch: sch,
		cfg: &config.Config{WebUsername: "admin", WebPassword: "secret"},
	}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	backend := newTestBackend(t)
	s, err := Start("127.0.0.1:0", backend, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	defer s.Close()

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStuckRequiresAuth(t *testing.T) {
	backend := newTestBackend(t)
	s, err := Start("127.0.0.1:0", backend, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	defer s.Close()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/stuck", s.Addr()))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", fmt.Sprintf("http://%s/api/stuck", s.Addr()), nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClearHistoryEmptiesEventLog(t *testing.T) {
	backend := newTestBackend(t)
	require.NoError(t, backend.st.AppendEvent("health", "/movies/a.mkv", "corrupt: 0 bytes"))

	s, err := Start("127.0.0.1:0", backend, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	defer s.Close()

	before, err := backend.st.History(50, 0, "")
	require.NoError(t, err)
	require.Len(t, before, 1)

	req, _ := http.NewRequest("POST", fmt.Sprintf("http://%s/api/history/clear", s.Addr()), nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	after, err := backend.st.History(50, 0, "")
	require.NoError(t, err)
	require.Empty(t, after)
}
