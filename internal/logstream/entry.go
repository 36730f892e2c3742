// ABOUTME: Log entry and status types for the job log stream, plus the wire
// ABOUTME: frame decoding for JSON frames delivered over the channel.

package logstream

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a log entry.
type Kind string

// Entry kinds carried on the wire.
const (
	KindLog    Kind = "log"
	KindStatus Kind = "status"
	KindInfo   Kind = "info"
	KindError  Kind = "error"
	KindSystem Kind = "system"
)

// Entry is a single item in a job's log output.
type Entry struct {
	Kind      Kind   `json:"kind"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

// dedupKey is the identity used for duplicate suppression: two entries with
// the same message and timestamp are the same entry, regardless of how often
// a reconnect or historical replay delivers them.
func (e Entry) dedupKey() string {
	return e.Message + "\x00" + e.Timestamp
}

// Connectivity statuses. Job lifecycle statuses (SUCCEEDED, FAILED, ...)
// arrive from the server as-is and share the same status field.
const (
	StatusIdle         = "IDLE"
	StatusConnecting   = "CONNECTING"
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
	StatusError        = "ERROR"

	// StatusCompleted is the generic terminal value used when a channel
	// closes normally without ever reporting a specific job status.
	StatusCompleted = "COMPLETED"
)

// terminalStatuses are job statuses after which no further events arrive.
// A channel observing a job in one of these must never reconnect.
var terminalStatuses = map[string]bool{
	"SUCCEEDED":     true,
	"FAILED":        true,
	"STOPPED":       true,
	"CANCELLED":     true,
	StatusCompleted: true,
}

// IsTerminal reports whether status is a job completion status.
func IsTerminal(status string) bool {
	return terminalStatuses[status]
}

// frame is the JSON wire format delivered by the log channel.
type frame struct {
	Type    string `json:"type"`
	Payload struct {
		Message  string `json:"message"`
		TS       string `json:"ts"`
		Status   string `json:"status"`
		ExitCode *int   `json:"exit_code"`
	} `json:"payload"`
}

// decodeFrame parses a wire frame into an Entry. Unknown frame types are
// rejected so malformed frames can be logged and dropped without tearing
// down the channel.
func decodeFrame(data []byte) (Entry, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Entry{}, fmt.Errorf("decoding log frame: %w", err)
	}

	switch Kind(f.Type) {
	case KindLog, KindStatus, KindInfo, KindError, KindSystem:
	default:
		return Entry{}, fmt.Errorf("unknown log frame type %q", f.Type)
	}

	return Entry{
		Kind:      Kind(f.Type),
		Timestamp: f.Payload.TS,
		Message:   f.Payload.Message,
		Status:    f.Payload.Status,
		ExitCode:  f.Payload.ExitCode,
	}, nil
}
