package model

import (
	"encoding/json"
	"time"
)

// EventType classifies one honeypot log line into the closed taxonomy the
// rest of the pipeline understands. Unrecognized upstream event ids map to
// EventUnknown rather than failing, so a honeypot upgrade never breaks
// ingestion.
type EventType string

const (
	EventConnect      EventType = "connect"
	EventDisconnect   EventType = "disconnect"
	EventLoginAttempt EventType = "login.attempt"
	EventLoginSuccess EventType = "login.success"
	EventLoginFailed  EventType = "login.failed"
	EventCommand      EventType = "command"
	EventFileUpload   EventType = "file.upload"
	EventFileDownload EventType = "file.download"
	EventKeyAuth      EventType = "key.auth"
	EventTCPForward   EventType = "tcp.forward"
	EventUnknown      EventType = "unknown"
)

// Display returns a human-readable label for the event type.
func (t EventType) Display() string {
	switch t {
	case EventConnect:
		return "Connect"
	case EventDisconnect:
		return "Disconnect"
	case EventLoginAttempt:
		return "Login Attempt"
	case EventLoginSuccess:
		return "Login Success"
	case EventLoginFailed:
		return "Login Failed"
	case EventCommand:
		return "Command"
	case EventFileUpload:
		return "File Upload"
	case EventFileDownload:
		return "File Download"
	case EventKeyAuth:
		return "Key Auth"
	case EventTCPForward:
		return "TCP Forward"
	default:
		return "Unknown"
	}
}

// LogEntry is the normalized representation of one honeypot log line. It is
// immutable once constructed by the parser; the store owns it after ingest.
type LogEntry struct {
	// ID is generated at parse time and is independent of any id carried
	// in the source line.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	// Session is the honeypot connection id, empty when the line carried none.
	Session  string `json:"session,omitempty"`
	SrcIP    string `json:"src_ip,omitempty"`
	SrcPort  uint16 `json:"src_port,omitempty"`
	DstIP    string `json:"dst_ip,omitempty"`
	DstPort  uint16 `json:"dst_port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Command  string `json:"command,omitempty"`
	// File is only present for upload/download events that carried a filename.
	File *FileTransfer `json:"file,omitempty"`
	// Fields preserves every source field not consumed into a named member,
	// so nothing the honeypot emits is silently dropped.
	Fields map[string]any `json:"fields,omitempty"`
	// Raw is the original line, kept verbatim for detail display and
	// re-analysis.
	Raw json.RawMessage `json:"raw"`
}

// FileTransferDirection indicates which way a file crossed the honeypot.
type FileTransferDirection string

const (
	DirectionUpload   FileTransferDirection = "upload"
	DirectionDownload FileTransferDirection = "download"
)

// FileTransfer describes one file observed moving through a session.
type FileTransfer struct {
	Filename  string                `json:"filename"`
	LocalPath string                `json:"local_path,omitempty"`
	Size      uint64                `json:"size,omitempty"`
	Shasum    string                `json:"shasum,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Direction FileTransferDirection `json:"direction"`
	// Executable is set by the enhanced parser based on the filename extension.
	Executable bool `json:"executable"`
	// Malware is set when the file hash matches the bad-hash prefix check.
	Malware bool `json:"malware"`
}

// User records the authentication outcome of a session. It is "sticky": once
// a successful login is recorded, later failed attempts do not replace it,
// but a later success after failures does.
type User struct {
	Username       string    `json:"username"`
	Password       string    `json:"password,omitempty"`
	KeyFingerprint string    `json:"key_fingerprint,omitempty"`
	LoginSuccess   bool      `json:"login_success"`
	LoginTime      time.Time `json:"login_time"`
}

// Command records one command executed inside a session, in arrival order.
// Commands are never deduplicated or merged.
type Command struct {
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Output    string    `json:"output,omitempty"`
}

// Session is the reconstructed state of one honeypot connection, aggregated
// from many log entries. Its identity (the connection id) is stable for its
// entire life; EndTime, once set, is never cleared.
type Session struct {
	ID        string     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	SrcIP     string     `json:"src_ip"`
	SrcPort   uint16     `json:"src_port"`
	DstIP     string     `json:"dst_ip"`
	DstPort   uint16     `json:"dst_port"`
	// Protocol is derived from the destination port (SSH, Telnet, Unknown).
	Protocol      string `json:"protocol"`
	ClientVersion string `json:"client_version,omitempty"`
	User          *User  `json:"user,omitempty"`
	// DurationSeconds is computed when the session closes.
	DurationSeconds uint64         `json:"duration_seconds,omitempty"`
	Commands        []Command      `json:"commands,omitempty"`
	Files           []FileTransfer `json:"files,omitempty"`
	// TTYLog is the honeypot's terminal recording path, last-write-wins.
	TTYLog string `json:"tty_log,omitempty"`
	Shasum string `json:"shasum,omitempty"`
	// Malicious mirrors RiskScore crossing the malicious threshold.
	Malicious bool `json:"malicious"`
	RiskScore int  `json:"risk_score"`
	// MalwareFamily is a best-effort label (e.g. "Mirai-like"), empty when
	// no known family matched.
	MalwareFamily string `json:"malware_family,omitempty"`
}

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	return s.EndTime == nil
}

// ProtocolForPort maps a honeypot destination port to a transport label.
func ProtocolForPort(port uint16) string {
	switch port {
	case 22, 2222:
		return "SSH"
	case 23, 2223:
		return "Telnet"
	default:
		return "Unknown"
	}
}

// AlertKind tags the trigger that produced an alert.
type AlertKind string

const (
	AlertLoginSuccess      AlertKind = "login-success"
	AlertFileUpload        AlertKind = "file-upload"
	AlertSuspiciousCommand AlertKind = "suspicious-command"
	AlertNewSourceIP       AlertKind = "new-source-ip"
	AlertBlacklistedIP     AlertKind = "blacklisted-ip"
	AlertHighRisk          AlertKind = "high-risk"
)

// Alert is one detection raised by the alert engine. Alerts are never removed
// automatically; only the explicit acknowledge/clear operations touch them.
type Alert struct {
	Kind         AlertKind `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	Acknowledged bool      `json:"acknowledged"`

	SessionID string `json:"session_id,omitempty"`
	Username  string `json:"username,omitempty"`
	SrcIP     string `json:"src_ip,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
	Command   string `json:"command,omitempty"`
	RiskScore int    `json:"risk_score,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
