// Package session aggregates parsed log entries into stateful session
// records and finalizes sessions on disconnect or timeout.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/potwatch/potwatch/internal/bus"
	"github.com/potwatch/potwatch/internal/metrics"
	"github.com/potwatch/potwatch/internal/model"
	"github.com/potwatch/potwatch/internal/risk"
	"github.com/potwatch/potwatch/internal/store"
)

const (
	// DefaultTimeout is how long after its start a session without a
	// disconnect is considered abandoned.
	DefaultTimeout = 30 * time.Minute
	// DefaultSweepInterval is how often the timeout sweep runs.
	DefaultSweepInterval = 60 * time.Second
)

// Manager folds log entries into session records. All mutation goes through
// Process, which performs a read-modify-write against the store and
// republishes the updated session on the bus.
type Manager struct {
	store         *store.Store
	scorer        *risk.Scorer
	eventBus      *bus.Bus
	events        <-chan bus.Event
	cancelSub     func()
	metrics       *metrics.Metrics
	logger        *slog.Logger
	timeout       time.Duration
	sweepInterval time.Duration
}

// New creates a session manager and subscribes it to the bus, so entries
// published before Run starts are not lost. metrics may be nil.
func New(st *store.Store, scorer *risk.Scorer, eventBus *bus.Bus, m *metrics.Metrics, timeout, sweepInterval time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	events, cancel := eventBus.Subscribe()
	return &Manager{
		store:         st,
		scorer:        scorer,
		eventBus:      eventBus,
		events:        events,
		cancelSub:     cancel,
		metrics:       m,
		logger:        logger,
		timeout:       timeout,
		sweepInterval: sweepInterval,
	}
}

// Run consumes log entry events from the bus and sweeps for timed-out
// sessions until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	defer m.cancelSub()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	m.logger.Info("session manager started",
		"timeout", m.timeout.String(),
		"sweep_interval", m.sweepInterval.String())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session manager stopping")
			return
		case event, ok := <-m.events:
			if !ok {
				return
			}
			if event.Kind == bus.KindLogEntry && event.LogEntry != nil {
				m.Process(event.LogEntry)
			}
		case <-ticker.C:
			m.SweepTimeouts(time.Now().UTC())
		}
	}
}

// Process folds one log entry into its session. Entries without a session id
// are ignored. Calling Process twice with the same entry appends duplicate
// commands and files; upstream delivers each entry once.
func (m *Manager) Process(entry *model.LogEntry) {
	if entry.Session == "" {
		return
	}
	start := time.Now()

	session, found := m.store.Session(entry.Session)
	if !found {
		session = m.newSession(entry)
	}

	m.applyEntry(&session, entry)
	m.rescore(&session)
	m.upsert(session, found)

	if m.metrics != nil {
		m.metrics.ObserveEntryProcessingDuration(time.Since(start).Seconds())
	}
}

// SweepTimeouts finalizes every active session whose age, measured from its
// start time, exceeds the timeout. Returns the number of sessions closed.
func (m *Manager) SweepTimeouts(now time.Time) int {
	closed := 0
	for _, session := range m.store.ActiveSessions() {
		if now.Sub(session.StartTime) <= m.timeout {
			continue
		}
		end := now
		session.EndTime = &end
		session.DurationSeconds = uint64(end.Sub(session.StartTime) / time.Second)
		m.rescore(&session)
		if err := m.store.UpdateSession(session); err != nil {
			continue
		}
		closed++
		m.logger.Info("session timed out",
			"session", session.ID,
			"src_ip", session.SrcIP,
			"age", now.Sub(session.StartTime).String())
		if m.metrics != nil {
			m.metrics.IncSessionsClosed()
		}
		m.publish(session)
	}
	m.updateGauges()
	return closed
}

// newSession constructs a session record from the first entry seen for its
// id, with placeholder addressing until a connect event fills it in.
func (m *Manager) newSession(entry *model.LogEntry) model.Session {
	session := model.Session{
		ID:        entry.Session,
		StartTime: entry.Timestamp,
		SrcIP:     "0.0.0.0",
		DstIP:     "0.0.0.0",
	}
	if entry.SrcIP != "" {
		session.SrcIP = entry.SrcIP
	}
	session.SrcPort = entry.SrcPort
	if entry.DstIP != "" {
		session.DstIP = entry.DstIP
	}
	session.DstPort = entry.DstPort
	session.Protocol = model.ProtocolForPort(session.DstPort)
	return session
}

// applyEntry mutates the session per the entry's event kind.
func (m *Manager) applyEntry(session *model.Session, entry *model.LogEntry) {
	switch entry.EventType {
	case model.EventConnect:
		// Several honeypot events map here (connect, kex, version) and
		// most carry only a subset of the addressing; fill in what the
		// event has without clobbering what an earlier event set.
		if entry.SrcIP != "" {
			session.SrcIP = entry.SrcIP
		}
		if entry.SrcPort != 0 {
			session.SrcPort = entry.SrcPort
		}
		if entry.DstIP != "" {
			session.DstIP = entry.DstIP
		}
		if entry.DstPort != 0 {
			session.DstPort = entry.DstPort
			session.Protocol = model.ProtocolForPort(session.DstPort)
		}
		if v, ok := entry.Fields["version"].(string); ok {
			session.ClientVersion = v
		}

	case model.EventDisconnect:
		end := entry.Timestamp
		session.EndTime = &end
		if end.After(session.StartTime) {
			session.DurationSeconds = uint64(end.Sub(session.StartTime) / time.Second)
		}
		if m.metrics != nil {
			m.metrics.IncSessionsClosed()
		}

	case model.EventLoginSuccess, model.EventLoginFailed, model.EventLoginAttempt:
		m.applyAuth(session, entry)

	case model.EventCommand:
		// Success/failure notifications can arrive without command text;
		// only real input grows the command history.
		if entry.Command == "" {
			break
		}
		cmd := model.Command{
			Command:   entry.Command,
			Timestamp: entry.Timestamp,
			Success:   true,
		}
		if ok, isBool := entry.Fields["success"].(bool); isBool {
			cmd.Success = ok
		}
		if out, isStr := entry.Fields["output"].(string); isStr {
			cmd.Output = out
		}
		session.Commands = append(session.Commands, cmd)

	case model.EventFileUpload, model.EventFileDownload:
		if entry.File != nil {
			session.Files = append(session.Files, *entry.File)
		}

	case model.EventKeyAuth:
		user := model.User{
			Username:  entry.Username,
			LoginTime: entry.Timestamp,
		}
		if fp, ok := entry.Fields["fingerprint"].(string); ok {
			user.KeyFingerprint = fp
		}
		if ok, isBool := entry.Fields["success"].(bool); isBool {
			user.LoginSuccess = ok
		}
		m.stickyUser(session, user)
	}

	// TTY log path and its hash ride along on several event kinds;
	// last write wins.
	if tty, ok := entry.Fields["ttylog"].(string); ok {
		session.TTYLog = tty
	}
	if sum, ok := entry.Fields["shasum"].(string); ok {
		session.Shasum = sum
	}
}

// applyAuth records a credential attempt with sticky semantics.
func (m *Manager) applyAuth(session *model.Session, entry *model.LogEntry) {
	user := model.User{
		Username:     entry.Username,
		Password:     entry.Password,
		LoginSuccess: entry.EventType == model.EventLoginSuccess,
		LoginTime:    entry.Timestamp,
	}
	m.stickyUser(session, user)
}

// stickyUser overwrites the session's user only when there is none yet, or
// when the new record is a success and the existing one is not. A successful
// login is never displaced by a later failure.
func (m *Manager) stickyUser(session *model.Session, user model.User) {
	if session.User == nil || (user.LoginSuccess && !session.User.LoginSuccess) {
		session.User = &user
	}
}

// rescore recomputes the risk assessment after any mutation.
func (m *Manager) rescore(session *model.Session) {
	session.RiskScore = m.scorer.Score(session)
	session.Malicious = session.RiskScore >= risk.MaliciousThreshold
	session.MalwareFamily = m.scorer.MalwareFamily(session)
}

// upsert writes the session back and publishes the update.
func (m *Manager) upsert(session model.Session, existed bool) {
	if existed {
		if err := m.store.UpdateSession(session); err != nil {
			// Evicted between read and write; reinsert.
			m.store.AddSession(session)
		}
	} else {
		m.store.AddSession(session)
		m.logger.Debug("session opened", "session", session.ID, "src_ip", session.SrcIP)
		if m.metrics != nil {
			m.metrics.IncSessionsOpened()
		}
	}
	m.updateGauges()
	m.publish(session)
}

func (m *Manager) publish(session model.Session) {
	m.eventBus.Publish(bus.Event{Kind: bus.KindSessionUpdate, Session: &session})
}

func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetActiveSessions(len(m.store.ActiveSessions()))
	m.metrics.SetSessionsInStore(m.store.SessionCount())
	m.metrics.SetLogEntriesInStore(m.store.LogEntryCount())
}
