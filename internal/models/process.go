package models

import "time"

// ProcessHandle identifies a managed server process. It exists only while
// the process runs.
type ProcessHandle struct {
	PID           int       `json:"pid"`
	RunID         string    `json:"run_id"`
	ArgsSignature string    `json:"args_signature"`
	StartedAt     time.Time `json:"started_at"`
}
