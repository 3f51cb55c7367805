package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omniscan/mediasync/internal/mediaserver"
)

type stubClient struct {
	enumerated map[string][]string
	probeHit   map[string]bool
}

func (s *stubClient) Connect(ctx context.Context, retry bool) error { return nil }
func (s *stubClient) ListSections(ctx context.Context) ([]mediaserver.Section, error) {
	return nil, nil
}
func (s *stubClient) EnumerateIndexedPaths(ctx context.Context, section mediaserver.Section) ([]string, error) {
	return s.enumerated[section.ID], nil
}
func (s *stubClient) ProbePath(ctx context.Context, section mediaserver.Section, path string) (bool, error) {
	return s.probeHit[path], nil
}
func (s *stubClient) RequestRefresh(ctx context.Context, section mediaserver.Section, path string) error {
	return nil
}
func (s *stubClient) WaitForSectionIdle(ctx context.Context, section mediaserver.Section, timeout time.Duration) error {
	return nil
}

func testSections() []mediaserver.Section {
	return []mediaserver.Section{
		{ID: "1", Title: "Movies", Kind: mediaserver.KindMovie, Roots: []string{"/media/movies"}},
		{ID: "2", Title: "Shows", Kind: mediaserver.KindShow, Roots: []string{"/media/shows"}},
	}
}

func TestResolveLongestPrefix(t *testing.T) {
	idx := New(&stubClient{})
	idx.SetSections([]mediaserver.Section{
		{ID: "1", Title: "All", Roots: []string{"/media"}},
		{ID: "2", Title: "Anime", Roots: []string{"/media/anime"}},
	})
	sec, ok := idx.Resolve("/media/anime/Show/ep1.mkv")
	require.True(t, ok)
	require.Equal(t, "2", sec.ID)

	sec, ok = idx.Resolve("/media/movie/film.mkv")
	require.True(t, ok)
	require.Equal(t, "1", sec.ID)

	_, ok = idx.Resolve("/other/film.mkv")
	require.False(t, ok)
}

func TestIsRoot(t *testing.T) {
	idx := New(&stubClient{})
	idx.SetSections(testSections())
	require.True(t, idx.IsRoot("1", "/media/movies"))
	require.False(t, idx.IsRoot("1", "/media/movies/Foo"))
}

func TestRebuildCoalescesConcurrentCallers(t *testing.T) {
	client := &stubClient{enumerated: map[string][]string{"1": {"/media/movies/a.mkv"}}}
	idx := New(client)
	idx.SetSections(testSections())
	sec, _ := idx.Resolve("/media/movies/a.mkv")

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { done <- idx.Rebuild(context.Background(), sec) }()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
	require.True(t, idx.Contains("1", "/media/movies/a.mkv"))
}

func TestOptimisticAddRemove(t *testing.T) {
	idx := New(&stubClient{})
	idx.SetSections(testSections())
	idx.Add("1", "/media/movies/new.mkv")
	require.True(t, idx.Contains("1", "/media/movies/new.mkv"))
	idx.Remove("1", "/media/movies/new.mkv")
	require.False(t, idx.Contains("1", "/media/movies/new.mkv"))
}

func TestContainsOrProbeFallsBackWhenUnpopulated(t *testing.T) {
	client := &stubClient{probeHit: map[string]bool{"/media/movies/a.mkv": true}}
	idx := New(client)
	idx.SetSections(testSections())
	sec, _ := idx.Resolve("/media/movies/a.mkv")

	ok, err := idx.ContainsOrProbe(context.Background(), sec, "/media/movies/a.mkv")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClearResetsSets(t *testing.T) {
	idx := New(&stubClient{})
	idx.SetSections(testSections())
	idx.Add("1", "/media/movies/a.mkv")
	idx.Clear()
	require.False(t, idx.Contains("1", "/media/movies/a.mkv"))
}
