// Package alert watches the event stream for noteworthy activity and keeps
// the resulting alert list with acknowledgement state.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/potwatch/potwatch/internal/bus"
	"github.com/potwatch/potwatch/internal/metrics"
	"github.com/potwatch/potwatch/internal/model"
	"github.com/potwatch/potwatch/internal/risk"
)

// HighRiskThreshold is the session risk score at or above which a high-risk
// alert fires.
const HighRiskThreshold = 80

// ErrIndexOutOfRange is returned when acknowledging a nonexistent alert.
var ErrIndexOutOfRange = errors.New("alert index out of range")

// Config selects which triggers are armed and their parameters.
type Config struct {
	OnLoginSuccess       bool
	OnFileUpload         bool
	OnSuspiciousCommand  bool
	OnNewSourceIP        bool
	OnBlacklistedIP      bool
	OnHighRisk           bool
	SuspiciousSubstrings []string
	IPBlacklist          []string
	IPWhitelist          []string
	DedupeSize           int
}

// Engine evaluates log entries and session updates against the armed
// triggers. Alerts are appended in arrival order and deduplicated by kind
// and subject through a bounded LRU, so a repeat offender does not flood
// the list.
type Engine struct {
	mu       sync.RWMutex
	alerts   []model.Alert
	knownIPs map[string]struct{}

	cfg       Config
	blacklist []netip.Prefix
	whitelist []netip.Prefix
	dedupe    *lru.Cache[string, struct{}]

	eventBus  *bus.Bus
	events    <-chan bus.Event
	cancelSub func()
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine creates an alert engine and subscribes it to the bus, so events
// published before Run starts are not lost. Invalid blacklist or whitelist
// entries are logged and skipped. metrics may be nil.
func NewEngine(cfg Config, eventBus *bus.Bus, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 1024
	}
	dedupe, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("creating dedupe cache: %w", err)
	}

	events, cancel := eventBus.Subscribe()
	e := &Engine{
		alerts:    make([]model.Alert, 0),
		knownIPs:  make(map[string]struct{}),
		cfg:       cfg,
		dedupe:    dedupe,
		eventBus:  eventBus,
		events:    events,
		cancelSub: cancel,
		metrics:   m,
		logger:    logger,
	}
	e.blacklist = parsePrefixes(cfg.IPBlacklist, "blacklist", logger)
	e.whitelist = parsePrefixes(cfg.IPWhitelist, "whitelist", logger)
	return e, nil
}

// parsePrefixes accepts CIDR prefixes and bare addresses.
func parsePrefixes(entries []string, listName string, logger *slog.Logger) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, prefix)
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			logger.Warn("skipping invalid IP entry", "list", listName, "entry", raw)
			continue
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

// Run consumes bus events until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer e.cancelSub()

	e.logger.Info("alert engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert engine stopping")
			return
		case event, ok := <-e.events:
			if !ok {
				return
			}
			switch event.Kind {
			case bus.KindLogEntry:
				if event.LogEntry != nil {
					e.EvaluateEntry(event.LogEntry)
				}
			case bus.KindSessionUpdate:
				if event.Session != nil {
					e.EvaluateSession(event.Session)
				}
			}
		}
	}
}

// EvaluateEntry checks one log entry against the per-entry triggers.
func (e *Engine) EvaluateEntry(entry *model.LogEntry) {
	if entry.SrcIP != "" {
		e.checkSourceIP(entry)
	}

	switch entry.EventType {
	case model.EventLoginSuccess:
		if e.cfg.OnLoginSuccess {
			e.raise(model.Alert{
				Kind:      model.AlertLoginSuccess,
				Timestamp: entry.Timestamp,
				Message:   fmt.Sprintf("successful login as %q from %s", entry.Username, entry.SrcIP),
				SessionID: entry.Session,
				Username:  entry.Username,
				SrcIP:     entry.SrcIP,
			}, entry.Session+":"+entry.Username)
		}
	case model.EventFileUpload:
		if e.cfg.OnFileUpload && entry.File != nil {
			e.raise(model.Alert{
				Kind:      model.AlertFileUpload,
				Timestamp: entry.Timestamp,
				Message:   fmt.Sprintf("file %q uploaded from %s", entry.File.Filename, entry.SrcIP),
				SessionID: entry.Session,
				SrcIP:     entry.SrcIP,
				Filename:  entry.File.Filename,
				Shasum:    entry.File.Shasum,
			}, entry.Session+":"+entry.File.Filename)
		}
	case model.EventCommand:
		if e.cfg.OnSuspiciousCommand && entry.Command != "" {
			e.checkCommand(entry)
		}
	}
}

// checkCommand matches the configured substrings plus the builtin malicious
// command patterns.
func (e *Engine) checkCommand(entry *model.LogEntry) {
	suspicious := risk.IsCommandMalicious(entry.Command)
	if !suspicious {
		lower := strings.ToLower(entry.Command)
		for _, sub := range e.cfg.SuspiciousSubstrings {
			if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
				suspicious = true
				break
			}
		}
	}
	if !suspicious {
		return
	}
	e.raise(model.Alert{
		Kind:      model.AlertSuspiciousCommand,
		Timestamp: entry.Timestamp,
		Message:   fmt.Sprintf("suspicious command from %s: %s", entry.SrcIP, entry.Command),
		SessionID: entry.Session,
		SrcIP:     entry.SrcIP,
		Command:   entry.Command,
	}, entry.Session+":"+entry.Command)
}

// checkSourceIP handles the new-IP and blacklist triggers. The known-IP set
// only grows; clearing alerts does not forget an address.
func (e *Engine) checkSourceIP(entry *model.LogEntry) {
	e.mu.Lock()
	_, seen := e.knownIPs[entry.SrcIP]
	if !seen {
		e.knownIPs[entry.SrcIP] = struct{}{}
	}
	e.mu.Unlock()

	if e.cfg.OnNewSourceIP && !seen {
		e.raise(model.Alert{
			Kind:      model.AlertNewSourceIP,
			Timestamp: entry.Timestamp,
			Message:   fmt.Sprintf("first connection from %s", entry.SrcIP),
			SessionID: entry.Session,
			SrcIP:     entry.SrcIP,
		}, entry.SrcIP)
	}

	if e.cfg.OnBlacklistedIP && e.isBlacklisted(entry.SrcIP) {
		e.raise(model.Alert{
			Kind:      model.AlertBlacklistedIP,
			Timestamp: entry.Timestamp,
			Message:   fmt.Sprintf("connection from blacklisted address %s", entry.SrcIP),
			SessionID: entry.Session,
			SrcIP:     entry.SrcIP,
		}, entry.SrcIP)
	}
}

// isBlacklisted reports whether an address matches the blacklist and is not
// excused by the whitelist. Unparseable addresses never match.
func (e *Engine) isBlacklisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range e.whitelist {
		if prefix.Contains(addr) {
			return false
		}
	}
	for _, prefix := range e.blacklist {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// EvaluateSession raises a high-risk alert when a session's score crosses
// the threshold. One alert per session.
func (e *Engine) EvaluateSession(session *model.Session) {
	if !e.cfg.OnHighRisk || session.RiskScore < HighRiskThreshold {
		return
	}
	username := ""
	if session.User != nil {
		username = session.User.Username
	}
	e.raise(model.Alert{
		Kind:      model.AlertHighRisk,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("session %s from %s reached risk score %d", session.ID, session.SrcIP, session.RiskScore),
		SessionID: session.ID,
		Username:  username,
		SrcIP:     session.SrcIP,
		RiskScore: session.RiskScore,
		Reason:    riskReason(session),
	}, session.ID)
}

// riskReason summarizes what made the session risky.
func riskReason(session *model.Session) string {
	var reasons []string
	if session.User != nil && session.User.LoginSuccess {
		reasons = append(reasons, "successful login")
	}
	malicious := 0
	for _, cmd := range session.Commands {
		if risk.IsCommandMalicious(cmd.Command) {
			malicious++
		}
	}
	if malicious > 0 {
		reasons = append(reasons, fmt.Sprintf("%d malicious commands", malicious))
	} else if len(session.Commands) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d commands", len(session.Commands)))
	}
	if len(session.Files) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d file transfers", len(session.Files)))
	}
	if session.MalwareFamily != "" {
		reasons = append(reasons, "pattern: "+session.MalwareFamily)
	}
	if len(reasons) == 0 {
		return "risk threshold exceeded"
	}
	return strings.Join(reasons, ", ")
}

// raise appends an alert unless an identical kind and subject was raised
// recently.
func (e *Engine) raise(alert model.Alert, subject string) {
	key := createDedupeKey(alert.Kind, subject)
	if _, dup := e.dedupe.Get(key); dup {
		return
	}
	e.dedupe.Add(key, struct{}{})

	e.mu.Lock()
	e.alerts = append(e.alerts, alert)
	e.mu.Unlock()

	e.logger.Info("alert raised", "kind", string(alert.Kind), "message", alert.Message)
	if e.metrics != nil {
		e.metrics.IncAlertsRaised(string(alert.Kind))
	}
	e.eventBus.Publish(bus.Event{Kind: bus.KindAlert, Alert: &alert})
}

// createDedupeKey builds the LRU key for one alert occurrence.
func createDedupeKey(kind model.AlertKind, subject string) string {
	return string(kind) + ":" + subject
}

// Alerts returns the alert list in arrival order. When unackedOnly is set,
// acknowledged alerts are skipped; indexes into the full list are reported
// alongside so acknowledgement still works on a filtered view.
func (e *Engine) Alerts(unackedOnly bool) []model.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if unackedOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Count returns total and unacknowledged alert counts.
func (e *Engine) Count() (total, unacked int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total = len(e.alerts)
	for _, a := range e.alerts {
		if !a.Acknowledged {
			unacked++
		}
	}
	return total, unacked
}

// Acknowledge marks the alert at index (into the full list) as handled.
func (e *Engine) Acknowledge(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.alerts) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	e.alerts[index].Acknowledged = true
	return nil
}

// ClearAcknowledged drops acknowledged alerts and returns how many were
// removed.
func (e *Engine) ClearAcknowledged() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.alerts[:0]
	removed := 0
	for _, a := range e.alerts {
		if a.Acknowledged {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	e.alerts = kept
	return removed
}

// ClearAll drops every alert. The known-IP set is preserved.
func (e *Engine) ClearAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.alerts)
	e.alerts = e.alerts[:0]
	return n
}
