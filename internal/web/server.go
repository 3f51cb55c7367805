// Package web is the dashboard collaborator: a thin HTTP surface over
// internal/engine's Facade plus TriggerFullSweep. It never exports
// anything C1-C8 import — the dependency runs one way, exactly like the
// teacher's own cmd/serve-mp4/web.go sits on top of Catalog/Crawler
// without either depending back on it.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kr/pretty"
	"github.com/maruel/panicparse/v2/stack/webstack"
	"github.com/maruel/serve-dir/loghttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/omniscan/mediasync/internal/engine"
	"github.com/omniscan/mediasync/internal/events"
	"github.com/omniscan/mediasync/internal/metrics"
	"github.com/omniscan/mediasync/internal/sweep"
)

// Backend is what the dashboard needs from the engine: the read-only
// façade plus the write operations (manual sweep trigger, webhook event
// ingestion) the dashboard/webhook surface is allowed to invoke.
type Backend interface {
	engine.Facade
	TriggerFullSweep(ctx context.Context) (*sweep.RunStats, error)
	SubmitFileEvent(kind events.Kind, path string)
}

// Server is the dashboard's HTTP listener.
type Server struct {
	h   http.Server
	ln  net.Listener
	hub *logHub
}

// Start builds the routing table and begins serving on bind.
func Start(bind string, backend Backend, log *logrus.Entry) (*Server, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	hub := newLogHub()
	log.Logger.AddHook(hub)

	mux := http.NewServeMux()
	auth := basicAuth(backend.Config().WebUsername, backend.Config().WebPassword)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug", webstack.SnapshotHandler)

	mux.HandleFunc("/api/history", auth(historyHandler(backend)))
	mux.HandleFunc("/api/history/clear", auth(clearHistoryHandler(backend)))
	mux.HandleFunc("/api/stuck", auth(stuckHandler(backend)))
	mux.HandleFunc("/api/stuck/clear", auth(clearStuckHandler(backend)))
	mux.HandleFunc("/api/scan", auth(scanHandler(backend)))
	mux.HandleFunc("/api/sections", auth(sectionsHandler(backend)))
	mux.HandleFunc("/ws/logs", auth(hub.serveWS))
	mux.HandleFunc("/api/webhook", webhookHandler(backend, log))

	s := &Server{
		h:   http.Server{Handler: &loghttp.Handler{Handler: mux}},
		ln:  ln,
		hub: hub,
	}
	go s.h.Serve(ln)
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close shuts the dashboard down.
func (s *Server) Close() error { return s.h.Close() }

func basicAuth(username, password string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next(w, r)
				return
			}
			u, p, ok := r.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="mediasync"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func historyHandler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		limit := atoiDefault(q.Get("limit"), 50)
		offset := atoiDefault(q.Get("offset"), 0)
		events, err := backend.Stuck().History(limit, offset, q.Get("search"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	}
}

func clearHistoryHandler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := backend.Stuck().ClearEvents(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func stuckHandler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		entries, err := backend.Stuck().ListStuck()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	}
}

func clearStuckHandler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := backend.Stuck().ClearAll(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func scanHandler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
		defer cancel()
		stats, err := backend.TriggerFullSweep(ctx)
		if err != nil && stats == nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	}
}

func sectionsHandler(backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		pretty.Fprintf(w, "%# v\n", backend.Sections())
	}
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// logHub fans log lines out to connected websocket clients and doubles
// as a logrus.Hook.
type logHub struct {
	upgrader websocket.Upgrader
	add      chan *websocket.Conn
	remove   chan *websocket.Conn
	lines    chan string
}

func newLogHub() *logHub {
	h := &logHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		add:      make(chan *websocket.Conn),
		remove:   make(chan *websocket.Conn),
		lines:    make(chan string, 256),
	}
	go h.run()
	return h
}

func (h *logHub) run() {
	conns := map[*websocket.Conn]struct{}{}
	for {
		select {
		case c := <-h.add:
			conns[c] = struct{}{}
		case c := <-h.remove:
			delete(conns, c)
		case line := <-h.lines:
			for c := range conns {
				if err := c.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
					delete(conns, c)
				}
			}
		}
	}
}

func (h *logHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.add <- conn
	defer func() { h.remove <- conn; conn.Close() }()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Levels satisfies logrus.Hook.
func (h *logHub) Levels() []logrus.Level { return logrus.AllLevels }

// Fire satisfies logrus.Hook.
func (h *logHub) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	select {
	case h.lines <- line:
	default:
	}
	return nil
}
