package mediaserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestJellyfinClient(t *testing.T, handler http.HandlerFunc) (*jellyfinEmbyClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := &jellyfinEmbyClient{
		baseURL: srv.URL,
		apiKey:  "testkey",
		http:    retryablehttp.NewClient(),
		log:     logrus.NewEntry(logrus.New()),
	}
	c.http.Logger = nil
	return c, srv
}

func TestJellyfinListSections(t *testing.T) {
	c, _ := newTestJellyfinClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Library/VirtualFolders", r.URL.Path)
		require.Equal(t, "testkey", r.Header.Get("X-Emby-Token"))
		w.Write([]byte(`[{"Name":"Movies","ItemId":"1","CollectionType":"movies","Locations":["/movies"]}]`))
	})
	sections, err := c.ListSections(context.Background())
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, KindMovie, sections[0].Kind)
	require.Equal(t, []string{"/movies"}, sections[0].Roots)
}

func TestJellyfinRequestRefreshPostsExpectedBody(t *testing.T) {
	var gotBody string
	c, _ := newTestJellyfinClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/Library/Media/Updated", r.URL.Path)
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(204)
	})
	err := c.RequestRefresh(context.Background(), Section{ID: "1"}, "/movies/Foo")
	require.NoError(t, err)
	require.Contains(t, gotBody, `"Path":"/movies/Foo"`)
}

func TestJellyfinWaitForSectionIdleIsNoop(t *testing.T) {
	c := &jellyfinEmbyClient{}
	require.NoError(t, c.WaitForSectionIdle(context.Background(), Section{ID: "1"}, 0))
}
