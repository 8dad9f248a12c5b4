// Package store holds the bounded in-memory collections of log entries and
// sessions, with FIFO eviction and indexed read views.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/potwatch/potwatch/internal/model"
)

// ErrNotFound is returned when updating a session id that is not resident.
var ErrNotFound = errors.New("session not found")

// Store is the single source of truth for live honeypot state. One
// reader-writer lock guards everything so eviction stays atomic; readers
// (API handlers, stats) take the read lock, the aggregator takes the write
// lock for one record's read-modify-write at a time.
//
// Capacity limits are enforced synchronously inside each insert: eviction is
// FIFO by insertion order, never by last access or risk.
type Store struct {
	mu sync.RWMutex

	logEntries map[string]model.LogEntry
	sessions   map[string]model.Session

	// Insertion-order indices backing chronological reads and FIFO pruning.
	logEntryIDs []string
	sessionIDs  []string

	maxLogs     int
	maxSessions int

	// Derived uniqueness sets. They only grow, except on Clear.
	uniqueIPs       map[string]struct{}
	uniqueUsernames map[string]struct{}
	uniquePasswords map[string]struct{}

	logger *slog.Logger
}

// New creates a store with the given capacity ceilings.
func New(maxLogs, maxSessions int, logger *slog.Logger) *Store {
	logger.Info("initializing data store", "max_logs", maxLogs, "max_sessions", maxSessions)
	return &Store{
		logEntries:      make(map[string]model.LogEntry),
		sessions:        make(map[string]model.Session),
		maxLogs:         maxLogs,
		maxSessions:     maxSessions,
		uniqueIPs:       make(map[string]struct{}),
		uniqueUsernames: make(map[string]struct{}),
		uniquePasswords: make(map[string]struct{}),
		logger:          logger,
	}
}

// AddLogEntry ingests one entry, updates the uniqueness sets, and prunes the
// oldest entries if the ceiling is exceeded.
func (s *Store) AddLogEntry(entry model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.SrcIP != "" {
		s.uniqueIPs[entry.SrcIP] = struct{}{}
	}
	if entry.Username != "" {
		s.uniqueUsernames[entry.Username] = struct{}{}
	}
	if entry.Password != "" {
		s.uniquePasswords[entry.Password] = struct{}{}
	}

	s.logEntryIDs = append(s.logEntryIDs, entry.ID)
	s.logEntries[entry.ID] = entry

	s.pruneLogEntries()
}

// LogEntry returns one entry by id.
func (s *Store) LogEntry(id string) (model.LogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.logEntries[id]
	return entry, ok
}

// LogEntries returns all entries in chronological (insertion) order.
func (s *Store) LogEntries() []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLogEntries(func(model.LogEntry) bool { return true })
}

// LogEntriesBySession returns the entries attributed to one connection id.
func (s *Store) LogEntriesBySession(sessionID string) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLogEntries(func(e model.LogEntry) bool { return e.Session == sessionID })
}

// LogEntriesByEventType returns the entries of one event kind.
func (s *Store) LogEntriesByEventType(t model.EventType) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLogEntries(func(e model.LogEntry) bool { return e.EventType == t })
}

// LogEntriesByTimeRange returns entries with start <= timestamp <= end.
func (s *Store) LogEntriesByTimeRange(start, end time.Time) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLogEntries(func(e model.LogEntry) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	})
}

// LogEntriesBySourceIP returns entries originating from one source address.
func (s *Store) LogEntriesBySourceIP(srcIP string) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLogEntries(func(e model.LogEntry) bool { return e.SrcIP == srcIP })
}

// LogEntriesByUsername returns entries carrying one username.
func (s *Store) LogEntriesByUsername(username string) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLogEntries(func(e model.LogEntry) bool { return e.Username == username })
}

// SearchLogEntries matches keyword against command, username, and password
// text, optionally case-sensitive.
func (s *Store) SearchLogEntries(keyword string, caseSensitive bool) []model.LogEntry {
	if !caseSensitive {
		keyword = strings.ToLower(keyword)
	}
	match := func(field string) bool {
		if field == "" {
			return false
		}
		if !caseSensitive {
			field = strings.ToLower(field)
		}
		return strings.Contains(field, keyword)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLogEntries(func(e model.LogEntry) bool {
		return match(e.Command) || match(e.Username) || match(e.Password)
	})
}

// AddSession inserts a new session and prunes the oldest if over capacity.
func (s *Store) AddSession(session model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionIDs = append(s.sessionIDs, session.ID)
	s.sessions[session.ID] = session

	s.pruneSessions()
}

// UpdateSession replaces a resident session. Returns ErrNotFound when the id
// is not in the store (the caller typically falls back to AddSession).
func (s *Store) UpdateSession(session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

// Session returns one session by id.
func (s *Store) Session(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Sessions returns all sessions in chronological (insertion) order.
func (s *Store) Sessions() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectSessions(func(model.Session) bool { return true })
}

// ActiveSessions returns sessions whose end time is unset.
func (s *Store) ActiveSessions() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectSessions(func(sess model.Session) bool { return sess.EndTime == nil })
}

// SessionsBySourceIP returns sessions from one source address.
func (s *Store) SessionsBySourceIP(srcIP string) []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectSessions(func(sess model.Session) bool { return sess.SrcIP == srcIP })
}

// SessionsByUsername returns sessions authenticated (or attempted) as one
// username.
func (s *Store) SessionsByUsername(username string) []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectSessions(func(sess model.Session) bool {
		return sess.User != nil && sess.User.Username == username
	})
}

// SessionsByTimeRange returns sessions that started or ended inside the range.
func (s *Store) SessionsByTimeRange(start, end time.Time) []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectSessions(func(sess model.Session) bool {
		if !sess.StartTime.Before(start) && !sess.StartTime.After(end) {
			return true
		}
		if sess.EndTime != nil && !sess.EndTime.Before(start) && !sess.EndTime.After(end) {
			return true
		}
		return false
	})
}

// UniqueSourceIPs returns a copy of the source-IP uniqueness set.
func (s *Store) UniqueSourceIPs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.uniqueIPs)
}

// UniqueUsernames returns a copy of the username uniqueness set.
func (s *Store) UniqueUsernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.uniqueUsernames)
}

// UniquePasswords returns a copy of the password uniqueness set.
func (s *Store) UniquePasswords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.uniquePasswords)
}

// LogEntryCount returns the number of resident log entries.
func (s *Store) LogEntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logEntries)
}

// SessionCount returns the number of resident sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Clear removes everything, including the uniqueness sets.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logEntries = make(map[string]model.LogEntry)
	s.sessions = make(map[string]model.Session)
	s.logEntryIDs = nil
	s.sessionIDs = nil
	s.uniqueIPs = make(map[string]struct{})
	s.uniqueUsernames = make(map[string]struct{})
	s.uniquePasswords = make(map[string]struct{})

	s.logger.Debug("cleared all data from store")
}

// collectLogEntries walks the chronological index under a held lock.
func (s *Store) collectLogEntries(keep func(model.LogEntry) bool) []model.LogEntry {
	var out []model.LogEntry
	for _, id := range s.logEntryIDs {
		if entry, ok := s.logEntries[id]; ok && keep(entry) {
			out = append(out, entry)
		}
	}
	return out
}

// collectSessions walks the chronological index under a held lock.
func (s *Store) collectSessions(keep func(model.Session) bool) []model.Session {
	var out []model.Session
	for _, id := range s.sessionIDs {
		if session, ok := s.sessions[id]; ok && keep(session) {
			out = append(out, session)
		}
	}
	return out
}

// pruneLogEntries evicts oldest-first until under the ceiling. Runs inside
// the insert's critical section.
func (s *Store) pruneLogEntries() {
	for len(s.logEntries) > s.maxLogs && len(s.logEntryIDs) > 0 {
		oldest := s.logEntryIDs[0]
		s.logEntryIDs = s.logEntryIDs[1:]
		delete(s.logEntries, oldest)
		s.logger.Debug("pruned oldest log entry", "id", oldest)
	}
}

// pruneSessions evicts oldest-first until under the ceiling, independent of
// whether the session is finalized.
func (s *Store) pruneSessions() {
	for len(s.sessions) > s.maxSessions && len(s.sessionIDs) > 0 {
		oldest := s.sessionIDs[0]
		s.sessionIDs = s.sessionIDs[1:]
		delete(s.sessions, oldest)
		s.logger.Debug("pruned oldest session", "id", oldest)
	}
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}
