package models

import "time"

// BusyState is the single activity flag of a session.
type BusyState int

const (
	Idle BusyState = iota
	ExtractingFiles
	AwaitingService
)

func (b BusyState) String() string {
	switch b {
	case Idle:
		return "idle"
	case ExtractingFiles:
		return "extracting_files"
	case AwaitingService:
		return "awaiting_service"
	default:
		return "unknown"
	}
}

func (b BusyState) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// PendingFile is a queued upload as exposed to readers, without its bytes.
type PendingFile struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Attempts  int    `json:"attempts"`
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID            string        `json:"session_id"`
	Transcript    []ChatTurn    `json:"transcript"`
	AnalyzedFiles []FileRecord  `json:"analyzed_files"`
	PendingFiles  []PendingFile `json:"pending_files"`
	LastError     string        `json:"last_error,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	Busy          BusyState     `json:"busy"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (b *BusyState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "extracting_files":
		*b = ExtractingFiles
	case "awaiting_service":
		*b = AwaitingService
	default:
		*b = Idle
	}
	return nil
}
