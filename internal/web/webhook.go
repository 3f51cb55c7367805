package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/events"
	"github.com/omniscan/mediasync/internal/scheduler"
)

// webhookWaitTimeout is how long the handler waits for a path to appear
// on disk before giving up, to absorb network-mount latency between the
// *arr app writing the webhook and the file landing on a shared volume.
const webhookWaitTimeout = 30 * time.Second

// webhookPollInterval is how often the handler re-stats a pending path
// while waiting for it to appear.
const webhookPollInterval = 500 * time.Millisecond

// webhookHandler accepts arbitrary JSON from Sonarr/Radarr-style *arr
// apps and extracts a filesystem path from whichever field the sender
// populated, then feeds it into the same event pipeline a filesystem
// watch event would use.
func webhookHandler(backend Backend, log *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		paths := extractWebhookPaths(payload)
		if len(paths) == 0 {
			log.WithField("payload", payload).Warn("webhook: no path found in payload")
			w.WriteHeader(http.StatusAccepted)
			return
		}

		for _, p := range paths {
			go resolveAndSubmit(backend, log, p)
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// extractWebhookPaths pulls candidate filesystem paths out of a decoded
// webhook body, in the order the *arr family of apps is known to send
// them: a flat "path"/"paths" field, or nested under movie/series/
// episode payloads.
func extractWebhookPaths(payload map[string]interface{}) []string {
	var out []string
	if s, ok := payload["path"].(string); ok && s != "" {
		out = append(out, s)
	}
	if list, ok := payload["paths"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	out = append(out, nestedString(payload, "movie", "folderPath")...)
	out = append(out, nestedString(payload, "movieFile", "path")...)
	out = append(out, nestedString(payload, "series", "path")...)
	out = append(out, nestedString(payload, "episodeFile", "path")...)
	if s, ok := payload["sourcePath"].(string); ok && s != "" {
		out = append(out, s)
	}
	if s, ok := payload["destPath"].(string); ok && s != "" {
		out = append(out, s)
	}
	return out
}

func nestedString(payload map[string]interface{}, outer, inner string) []string {
	obj, ok := payload[outer].(map[string]interface{})
	if !ok {
		return nil
	}
	if s, ok := obj[inner].(string); ok && s != "" {
		return []string{s}
	}
	return nil
}

// resolveAndSubmit waits for path to appear on disk, then feeds it into
// the event pipeline. A directory is force-enrolled directly against the
// scheduler since it carries no single health/stuck state of its own; a
// file goes through the normal created-event path. If the path never
// appears it falls back to the parent directory, unless that parent is
// itself a section root (too broad to force-refresh blindly).
func resolveAndSubmit(backend Backend, log *logrus.Entry, path string) {
	deadline := time.Now().Add(webhookWaitTimeout)
	for {
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				forceEnrollDir(backend, log, path)
			} else {
				backend.SubmitFileEvent(events.Created, path)
			}
			return
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(webhookPollInterval)
	}

	parent := filepath.Dir(path)
	section, ok := backend.Index().Resolve(parent)
	if !ok {
		log.WithField("path", path).Warn("webhook: path never appeared and parent resolves to no section")
		return
	}
	if backend.Index().IsRoot(section.ID, parent) {
		log.WithField("path", path).Warn("webhook: path never appeared; refusing to force-refresh a section root")
		return
	}
	backend.Scheduler().Enroll(context.Background(), section, parent, scheduler.Added, "", section.Title, true)
}

func forceEnrollDir(backend Backend, log *logrus.Entry, dir string) {
	section, ok := backend.Index().Resolve(dir)
	if !ok {
		log.WithField("path", dir).Warn("webhook: directory resolves to no known section")
		return
	}
	backend.Scheduler().Enroll(context.Background(), section, dir, scheduler.Added, "", section.Title, true)
}
