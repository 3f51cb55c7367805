// Package mediaserver abstracts the remote media-indexing server. Two
// concrete backends (Plex, and the Jellyfin/Emby pair, which share one
// wire protocol) implement the same Client interface so the rest of the
// engine never branches on server type.
package mediaserver

import (
	"context"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/config"
)

// Kind categorizes a Section the way the engine needs to, not the way the
// remote server necessarily names it.
type Kind string

const (
	KindMovie Kind = "movie"
	KindShow  Kind = "show"
	KindOther Kind = "other"
)

// Section is a logical library on the remote server with one or more
// filesystem roots.
type Section struct {
	ID    string
	Title string
	Kind  Kind
	Roots []string
}

// Client is the façade every backend implements.
type Client interface {
	// Connect establishes (or re-establishes) a session. When retry is
	// true it backs off exponentially (5s doubling, capped at 300s)
	// instead of returning the first error.
	Connect(ctx context.Context, retry bool) error

	// ListSections returns every library the server knows about.
	ListSections(ctx context.Context) ([]Section, error)

	// EnumerateIndexedPaths returns every media file path the server
	// currently has indexed for section, as one complete slice.
	EnumerateIndexedPaths(ctx context.Context, section Section) ([]string, error)

	// ProbePath asks the server directly whether path is indexed.
	ProbePath(ctx context.Context, section Section, path string) (bool, error)

	// RequestRefresh asks the server to rescan path (a file or folder)
	// within section.
	RequestRefresh(ctx context.Context, section Section, path string) error

	// WaitForSectionIdle blocks until no refresh is active for section,
	// or timeout elapses.
	WaitForSectionIdle(ctx context.Context, section Section, timeout time.Duration) error
}

// New builds the Client matching cfg.ServerType.
func New(cfg *config.Config, log *logrus.Entry) (Client, error) {
	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.RetryMax = 4
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 10 * time.Second

	switch cfg.ServerType {
	case config.ServerPlex:
		return &plexClient{
			baseURL: cfg.PlexURL,
			token:   cfg.PlexToken,
			http:    httpClient,
			log:     log.WithField("backend", "plex"),
		}, nil
	case config.ServerJellyfin, config.ServerEmby:
		return &jellyfinEmbyClient{
			baseURL: cfg.ServerURL,
			apiKey:  cfg.APIKey,
			http:    httpClient,
			log:     log.WithField("backend", string(cfg.ServerType)),
		}, nil
	default:
		return nil, errUnknownServerType(cfg.ServerType)
	}
}

func errUnknownServerType(t config.ServerType) error {
	return &unknownServerTypeError{t: t}
}

type unknownServerTypeError struct{ t config.ServerType }

func (e *unknownServerTypeError) Error() string {
	return "mediaserver: unknown server type " + string(e.t)
}

// connectWithBackoff is shared by both backends: exponential backoff
// starting at 5s, doubling, capped at 300s, matching the original
// connect_to_plex loop.
func connectWithBackoff(ctx context.Context, retry bool, attempt func() error) error {
	if !retry {
		return attempt()
	}
	delay := 5 * time.Second
	const maxDelay = 300 * time.Second
	for {
		err := attempt()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func newRequest(ctx context.Context, method, url string) (*retryablehttp.Request, error) {
	return retryablehttp.NewRequestWithContext(ctx, method, url, nil)
}
