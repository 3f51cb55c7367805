package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omniscan/mediasync/internal/mediaserver"
)

type fakeClient struct {
	mu        sync.Mutex
	refreshes []string
}

func (f *fakeClient) Connect(ctx context.Context, retry bool) error { return nil }
func (f *fakeClient) ListSections(ctx context.Context) ([]mediaserver.Section, error) {
	return nil, nil
}
func (f *fakeClient) EnumerateIndexedPaths(ctx context.Context, section mediaserver.Section) ([]string, error) {
	return nil, nil
}
func (f *fakeClient) ProbePath(ctx context.Context, section mediaserver.Section, path string) (bool, error) {
	return false, nil
}
func (f *fakeClient) RequestRefresh(ctx context.Context, section mediaserver.Section, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, path)
	return nil
}
func (f *fakeClient) WaitForSectionIdle(ctx context.Context, section mediaserver.Section, timeout time.Duration) error {
	return nil
}
func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshes)
}

type fakeNotifier struct {
	mu     sync.Mutex
	folder []FolderSummary
	bulk   [][]FolderSummary
}

func (n *fakeNotifier) FolderUpdate(ctx context.Context, s FolderSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.folder = append(n.folder, s)
}
func (n *fakeNotifier) BulkUpdate(ctx context.Context, s []FolderSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bulk = append(n.bulk, s)
}
func (n *fakeNotifier) folderCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.folder)
}

func testSection() mediaserver.Section {
	return mediaserver.Section{ID: "1", Title: "Movies"}
}

func TestEnrollDebouncesToSingleRefresh(t *testing.T) {
	client := &fakeClient{}
	notifier := &fakeNotifier{}
	s := New(client, notifier, Options{Debounce: 50 * time.Millisecond, Workers: 2}, logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	sec := testSection()
	for i := 0; i < 5; i++ {
		s.Enroll(ctx, sec, "/media/movies/Foo", Added, "/media/movies/Foo/f.mkv", "Movies", false)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return client.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return notifier.folderCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEnrollForceBypassesDebounce(t *testing.T) {
	client := &fakeClient{}
	notifier := &fakeNotifier{}
	s := New(client, notifier, Options{Debounce: time.Hour, Workers: 2}, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	sec := testSection()
	s.Enroll(ctx, sec, "/media/movies/Foo", Added, "/media/movies/Foo/f.mkv", "Movies", true)

	require.Eventually(t, func() bool { return client.count() == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()
}

func TestTargetPath(t *testing.T) {
	require.Equal(t, "/media/movies/solo.mkv", TargetPath(true, "/media/movies/solo.mkv"))
	require.Equal(t, "/media/movies/Foo", TargetPath(false, "/media/movies/Foo/f.mkv"))
}
