package mediaserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/errs"
)

type plexClient struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	log     *logrus.Entry
}

func (c *plexClient) Connect(ctx context.Context, retry bool) error {
	return connectWithBackoff(ctx, retry, func() error {
		req, err := newRequest(ctx, "GET", c.endpoint("/identity"))
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.log.WithError(err).Warn("plex connect failed")
			return fmt.Errorf("%w: %v", errs.ErrTransient, err)
		}
		defer resp.Body.Close()
		return nil
	})
}

func (c *plexClient) endpoint(path string) string {
	u, _ := url.Parse(c.baseURL)
	u.Path = filepath.Join(u.Path, path)
	q := u.Query()
	q.Set("X-Plex-Token", c.token)
	u.RawQuery = q.Encode()
	return u.String()
}

type plexDirectory struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Location []struct {
		Path string `json:"path"`
	} `json:"Location"`
}

type plexSectionsResponse struct {
	MediaContainer struct {
		Directory []plexDirectory `json:"Directory"`
	} `json:"MediaContainer"`
}

func (c *plexClient) ListSections(ctx context.Context) ([]Section, error) {
	req, err := newRequest(ctx, "GET", c.endpoint("/library/sections"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: listing sections: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	var parsed plexSectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding sections: %v", errs.ErrTransient, err)
	}
	sections := make([]Section, 0, len(parsed.MediaContainer.Directory))
	for _, d := range parsed.MediaContainer.Directory {
		roots := make([]string, 0, len(d.Location))
		for _, loc := range d.Location {
			roots = append(roots, loc.Path)
		}
		sections = append(sections, Section{
			ID:    d.Key,
			Title: d.Title,
			Kind:  plexKind(d.Type),
			Roots: roots,
		})
	}
	return sections, nil
}

func plexKind(t string) Kind {
	switch t {
	case "movie":
		return KindMovie
	case "show":
		return KindShow
	default:
		return KindOther
	}
}

type plexMetadataItem struct {
	Media []struct {
		Part []struct {
			File string `json:"file"`
		} `json:"Part"`
	} `json:"Media"`
}

type plexMetadataResponse struct {
	MediaContainer struct {
		Metadata []plexMetadataItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

// EnumerateIndexedPaths walks a section's "all" listing (for show-kind
// sections, its episode listing), extracting every Part.file path Plex
// currently believes it has indexed.
func (c *plexClient) EnumerateIndexedPaths(ctx context.Context, section Section) ([]string, error) {
	u, _ := url.Parse(c.endpoint(fmt.Sprintf("/library/sections/%s/all", section.ID)))
	if section.Kind == KindShow {
		q := u.Query()
		q.Set("type", "4")
		u.RawQuery = q.Encode()
	}
	req, err := newRequest(ctx, "GET", u.String())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerating %s: %v", errs.ErrTransient, section.Title, err)
	}
	defer resp.Body.Close()

	var parsed plexMetadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", errs.ErrTransient, section.Title, err)
	}
	var out []string
	for _, item := range parsed.MediaContainer.Metadata {
		for _, media := range item.Media {
			for _, part := range media.Part {
				if part.File != "" {
					out = append(out, filepath.Clean(part.File))
				}
			}
		}
	}
	return out, nil
}

func (c *plexClient) ProbePath(ctx context.Context, section Section, path string) (bool, error) {
	paths, err := c.EnumerateIndexedPaths(ctx, section)
	if err != nil {
		return false, err
	}
	clean := filepath.Clean(path)
	for _, p := range paths {
		if p == clean {
			return true, nil
		}
	}
	return false, nil
}

func (c *plexClient) RequestRefresh(ctx context.Context, section Section, path string) error {
	endpoint := fmt.Sprintf("/library/sections/%s/refresh", section.ID)
	u, _ := url.Parse(c.endpoint(endpoint))
	q := u.Query()
	q.Set("path", path)
	u.RawQuery = q.Encode()

	req, err := newRequest(ctx, "GET", u.String())
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: requesting refresh for %s: %v", errs.ErrTransient, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: refresh for %s returned %d", errs.ErrTransient, path, resp.StatusCode)
	}
	return nil
}

type plexActivitiesResponse struct {
	MediaContainer struct {
		Activity []struct {
			Type    string `json:"type"`
			Context string `json:"Context"`
		} `json:"Activity"`
	} `json:"MediaContainer"`
}

// WaitForSectionIdle polls /activities until no library.refresh.section
// activity remains for section, or timeout elapses.
func (c *plexClient) WaitForSectionIdle(ctx context.Context, section Section, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	const pollInterval = 5 * time.Second
	for time.Now().Before(deadline) {
		active, err := c.sectionHasActiveRefresh(ctx, section)
		if err != nil {
			return err
		}
		if !active {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("%w: timed out waiting for section %s to go idle", errs.ErrTransient, section.ID)
}

func (c *plexClient) sectionHasActiveRefresh(ctx context.Context, section Section) (bool, error) {
	req, err := newRequest(ctx, "GET", c.endpoint("/activities"))
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: polling activities: %v", errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	var parsed plexActivitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("%w: decoding activities: %v", errs.ErrTransient, err)
	}
	for _, a := range parsed.MediaContainer.Activity {
		if a.Type == "library.refresh.section" && a.Context == section.ID {
			return true, nil
		}
	}
	return false, nil
}
