package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/omniscan/mediasync/internal/scheduler"
)

func TestTruncateLeavesShortStringsAlone(t *testing.T) {
	require.Equal(t, "hello", truncate("hello", 10))
}

func TestTruncateEllipsizesLongStrings(t *testing.T) {
	got := truncate(strings.Repeat("a", 300), maxTitleLen)
	require.Len(t, got, maxTitleLen)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestRewriteFolderNameSeason(t *testing.T) {
	require.Equal(t, "My Show - Season 01", rewriteFolderName("/media/shows/My Show/Season 01"))
	require.Equal(t, "Foo", rewriteFolderName("/media/movies/Foo"))
}

func TestColorForCombinations(t *testing.T) {
	require.Equal(t, colorGold, colorFor(1, 1))
	require.Equal(t, colorGreen, colorFor(1, 0))
	require.Equal(t, colorRed, colorFor(0, 1))
	require.Equal(t, colorBlue, colorFor(0, 0))
}

func TestSendAppliesFallbackWhenOversized(t *testing.T) {
	var mu sync.Mutex
	var captured wirePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(204)
	}))
	defer srv.Close()

	n := New(srv.URL, true, logrus.NewEntry(logrus.New()))
	bigField := Field{Name: "Added", Value: strings.Repeat("x", 7000)}
	n.Send(context.Background(), Embed{Title: "t", Description: strings.Repeat("y", 5000), Fields: []Field{bigField, {Name: "Deleted", Value: "z"}}})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured.Embeds, 1)
	require.LessOrEqual(t, embedLength(captured.Embeds[0]), maxTotalLen)
	require.Len(t, captured.Embeds[0].Fields, 1)
}

func TestSendNoopWhenDisabled(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	n := New(srv.URL, false, logrus.NewEntry(logrus.New()))
	n.Send(context.Background(), Embed{Title: "t"})
	require.False(t, called)
}

func TestFolderUpdateSendsSingleEmbed(t *testing.T) {
	var captured wirePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(204)
	}))
	defer srv.Close()
	n := New(srv.URL, true, logrus.NewEntry(logrus.New()))
	n.FolderUpdate(context.Background(), scheduler.FolderSummary{SectionTitle: "Movies", Folder: "/media/movies/Foo", Added: []string{"f.mkv"}})
	require.Len(t, captured.Embeds, 1)
	require.Contains(t, captured.Embeds[0].Title, "Foo")
}
