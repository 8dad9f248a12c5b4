// Package api serves the read-only query and alert management HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/potwatch/potwatch/internal/alert"
	"github.com/potwatch/potwatch/internal/metrics"
	"github.com/potwatch/potwatch/internal/model"
	"github.com/potwatch/potwatch/internal/store"
)

// Server exposes sessions, log entries, alerts, and stats over HTTP.
type Server struct {
	store   *store.Store
	alerts  *alert.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	http    *http.Server

	// searchCaseSensitive is the default for log search when the request
	// does not say.
	searchCaseSensitive bool
}

// NewServer builds the server and its routes.
func NewServer(addr string, st *store.Store, alerts *alert.Engine, m *metrics.Metrics, searchCaseSensitive bool, logger *slog.Logger) *Server {
	s := &Server{
		store:               st,
		alerts:              alerts,
		metrics:             m,
		logger:              logger,
		searchCaseSensitive: searchCaseSensitive,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{id}", s.handleSession)
		r.Get("/logs", s.handleLogs)
		r.Get("/alerts", s.handleAlerts)
		r.Post("/alerts/{index}/ack", s.handleAlertAck)
		r.Post("/alerts/clear", s.handleAlertsClear)
		r.Get("/stats", s.handleStats)
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessions lists sessions, filterable by src_ip, username, and active
// state, newest last. limit keeps the most recent N.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	var sessions []model.Session
	switch {
	case r.URL.Query().Get("src_ip") != "":
		sessions = s.store.SessionsBySourceIP(r.URL.Query().Get("src_ip"))
	case r.URL.Query().Get("username") != "":
		sessions = s.store.SessionsByUsername(r.URL.Query().Get("username"))
	case r.URL.Query().Get("active") == "true":
		sessions = s.store.ActiveSessions()
	default:
		sessions = s.store.Sessions()
	}
	sessions = tail(sessions, queryInt(r, "limit", 0))

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := s.store.Session(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// handleLogs lists log entries with one filter at a time plus an optional
// time range and limit. q searches command, username, and password text.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var entries []model.LogEntry
	switch {
	case q.Get("session") != "":
		entries = s.store.LogEntriesBySession(q.Get("session"))
	case q.Get("event_type") != "":
		entries = s.store.LogEntriesByEventType(model.EventType(q.Get("event_type")))
	case q.Get("src_ip") != "":
		entries = s.store.LogEntriesBySourceIP(q.Get("src_ip"))
	case q.Get("username") != "":
		entries = s.store.LogEntriesByUsername(q.Get("username"))
	case q.Get("q") != "":
		caseSensitive := s.searchCaseSensitive
		if raw := q.Get("case_sensitive"); raw != "" {
			caseSensitive = raw == "true"
		}
		entries = s.store.SearchLogEntries(q.Get("q"), caseSensitive)
	default:
		entries = s.store.LogEntries()
	}

	since, sinceOK := queryTime(r, "since")
	until, untilOK := queryTime(r, "until")
	if sinceOK || untilOK {
		if !sinceOK {
			since = time.Time{}
		}
		if !untilOK {
			until = time.Now().UTC()
		}
		filtered := entries[:0:0]
		for _, e := range entries {
			if !e.Timestamp.Before(since) && !e.Timestamp.After(until) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	entries = tail(entries, queryInt(r, "limit", 0))

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	unackedOnly := r.URL.Query().Get("unacked") == "true"
	alerts := s.alerts.Alerts(unackedOnly)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid alert index")
		return
	}
	if err := s.alerts.Acknowledge(index); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleAlertsClear(w http.ResponseWriter, r *http.Request) {
	var removed int
	if r.URL.Query().Get("acknowledged_only") == "true" {
		removed = s.alerts.ClearAcknowledged()
	} else {
		removed = s.alerts.ClearAll()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// handleStats summarizes the store contents.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totalAlerts, unacked := s.alerts.Count()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"log_entries":      s.store.LogEntryCount(),
		"sessions":         s.store.SessionCount(),
		"active_sessions":  len(s.store.ActiveSessions()),
		"unique_ips":       len(s.store.UniqueSourceIPs()),
		"unique_usernames": len(s.store.UniqueUsernames()),
		"unique_passwords": len(s.store.UniquePasswords()),
		"alerts":           totalAlerts,
		"unacked_alerts":   unacked,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func queryTime(r *http.Request, key string) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// tail keeps the most recent n items when n is positive.
func tail[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
