// Package parser converts raw honeypot log lines (one JSON object per line,
// Cowrie wire format) into normalized LogEntry records.
package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/potwatch/potwatch/internal/model"
)

// ErrorKind distinguishes the ways a log line can fail to parse.
type ErrorKind string

const (
	// KindMalformedJSON means the line was not valid JSON at all.
	KindMalformedJSON ErrorKind = "malformed-json"
	// KindMissingField means a mandatory field (eventid, timestamp) was
	// absent or of the wrong type.
	KindMissingField ErrorKind = "missing-field"
	// KindBadTimestamp means the timestamp field was present but not a
	// valid RFC3339 string.
	KindBadTimestamp ErrorKind = "bad-timestamp"
)

// ParseError describes why a single line was rejected. Parse errors are
// always local: the caller logs them and moves on to the next line.
type ParseError struct {
	Kind  ErrorKind
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse %s: field %q: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *ParseError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	pe, ok := err.(*ParseError)
	return ok && pe.Kind == kind
}

// consumedFields are the source keys lifted into named LogEntry members.
// Everything else lands in the open Fields bag.
var consumedFields = map[string]struct{}{
	"id": {}, "timestamp": {}, "eventid": {}, "session": {},
	"src_ip": {}, "src_port": {}, "dst_ip": {}, "dst_port": {},
	"username": {}, "password": {}, "input": {},
}

// Analyzer parses Cowrie honeypot log lines. Parsing is a pure function of
// the input line; the Analyzer itself only carries the static eventid table.
type Analyzer struct {
	eventTypes map[string]model.EventType
}

// NewAnalyzer creates a log analyzer with the Cowrie eventid mapping.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		eventTypes: map[string]model.EventType{
			"cowrie.session.connect":       model.EventConnect,
			"cowrie.session.closed":        model.EventDisconnect,
			"cowrie.login.success":         model.EventLoginSuccess,
			"cowrie.login.failed":          model.EventLoginFailed,
			"cowrie.client.kex":            model.EventConnect,
			"cowrie.client.version":        model.EventConnect,
			"cowrie.command.input":         model.EventCommand,
			"cowrie.command.success":       model.EventCommand,
			"cowrie.session.file_download": model.EventFileDownload,
			"cowrie.session.file_upload":   model.EventFileUpload,
			"cowrie.client.fingerprint":    model.EventKeyAuth,
			"cowrie.direct-tcpip.request":  model.EventTCPForward,
			"cowrie.direct-tcpip.data":     model.EventTCPForward,
		},
	}
}

// Parse converts one JSON log line into a LogEntry. The returned entry gets
// a freshly generated id; the original line survives verbatim in Raw.
func (a *Analyzer) Parse(line string) (*model.LogEntry, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return nil, &ParseError{Kind: KindMalformedJSON, Err: err}
	}

	eventType, err := a.resolveEventType(obj)
	if err != nil {
		return nil, err
	}

	timestamp, err := extractTimestamp(obj)
	if err != nil {
		return nil, err
	}

	entry := &model.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: timestamp,
		EventType: eventType,
		Session:   stringField(obj, "session"),
		SrcIP:     stringField(obj, "src_ip"),
		SrcPort:   portField(obj, "src_port"),
		DstIP:     stringField(obj, "dst_ip"),
		DstPort:   portField(obj, "dst_port"),
		Username:  stringField(obj, "username"),
		Password:  stringField(obj, "password"),
		Command:   stringField(obj, "input"),
		Fields:    extraFields(obj),
		Raw:       json.RawMessage(line),
	}
	entry.File = a.fileInfo(obj, eventType, timestamp)

	return entry, nil
}

// resolveEventType looks up the eventid in the static table. Unrecognized
// event ids map to EventUnknown; only a missing or non-string eventid is an
// error.
func (a *Analyzer) resolveEventType(obj map[string]any) (model.EventType, error) {
	name, ok := obj["eventid"].(string)
	if !ok {
		return "", &ParseError{Kind: KindMissingField, Field: "eventid", Err: fmt.Errorf("missing or not a string")}
	}
	if t, ok := a.eventTypes[name]; ok {
		return t, nil
	}
	return model.EventUnknown, nil
}

func extractTimestamp(obj map[string]any) (time.Time, error) {
	raw, ok := obj["timestamp"].(string)
	if !ok {
		return time.Time{}, &ParseError{Kind: KindMissingField, Field: "timestamp", Err: fmt.Errorf("missing or not a string")}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &ParseError{Kind: KindBadTimestamp, Field: "timestamp", Err: err}
	}
	return ts.UTC(), nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// portField accepts both native JSON numbers and numeric strings, which the
// honeypot emits interchangeably.
func portField(obj map[string]any, key string) uint16 {
	switch v := obj[key].(type) {
	case float64:
		if v >= 0 && v <= 65535 {
			return uint16(v)
		}
	case string:
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			return uint16(n)
		}
	}
	return 0
}

func extraFields(obj map[string]any) map[string]any {
	fields := make(map[string]any)
	for key, val := range obj {
		if _, consumed := consumedFields[key]; !consumed {
			fields[key] = val
		}
	}
	return fields
}

// fileInfo extracts a file-transfer descriptor for upload/download events.
// A filename is mandatory for the descriptor; without one the event still
// parses, it just carries no file.
func (a *Analyzer) fileInfo(obj map[string]any, eventType model.EventType, ts time.Time) *model.FileTransfer {
	if eventType != model.EventFileUpload && eventType != model.EventFileDownload {
		return nil
	}
	filename := stringField(obj, "filename")
	if filename == "" {
		return nil
	}

	direction := model.DirectionDownload
	if eventType == model.EventFileUpload {
		direction = model.DirectionUpload
	}

	transfer := &model.FileTransfer{
		Filename:  filename,
		LocalPath: stringField(obj, "outfile"),
		Shasum:    stringField(obj, "shasum"),
		Timestamp: ts,
		Direction: direction,
	}
	if size, ok := obj["size"].(float64); ok && size > 0 {
		transfer.Size = uint64(size)
	}
	return transfer
}
