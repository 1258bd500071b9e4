package server

import (
	"errors"
	"fmt"
)

var (
	ErrProcessLookup  = errors.New("process lookup failed")
	ErrAlreadyRunning = errors.New("server already running")

	errProcessGone = errors.New("process already exited")
)

// Reasons a run record cannot be resolved to a live pid
const (
	ReasonNoRecord = "no run record"
	ReasonStale    = "stale run record"
)

// ProcessLookupError is returned when the serving process cannot be located
type ProcessLookupError struct {
	Reason  string
	PID     int
	RunFile string
}

func (e *ProcessLookupError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("cannot locate server process: %s (pid %d, %s)", e.Reason, e.PID, e.RunFile)
	}
	return fmt.Sprintf("cannot locate server process: %s (%s)", e.Reason, e.RunFile)
}

func (e *ProcessLookupError) Is(target error) bool { return target == ErrProcessLookup }
