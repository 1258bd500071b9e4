package backup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool        = errors.New("external tool failed")
	ErrArtifactNotFound    = errors.New("backup artifact not found")
	ErrInvalidArtifactName = errors.New("invalid backup artifact name")
)

// ExternalToolFailure is returned when the dump or restore tool exits
// non-zero or writes anything to stderr. The captured output is in the
// error log under CorrelationID.
type ExternalToolFailure struct {
	Op            string
	CorrelationID string
	LogPath       string
	Stderr        string
	Err           error
}

func (e *ExternalToolFailure) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if s := firstLine(e.Stderr); s != "" {
		msg += ": " + s
	}
	if e.CorrelationID != "" {
		msg += fmt.Sprintf(" (error id %s in %s)", e.CorrelationID, e.LogPath)
	}
	return msg
}

func (e *ExternalToolFailure) Unwrap() error { return e.Err }

func (e *ExternalToolFailure) Is(target error) bool { return target == ErrExternalTool }

// ArtifactNotFoundError is returned when a referenced artifact does not
// exist at the destination
type ArtifactNotFoundError struct {
	Name        string
	Destination string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("backup %s not found at %s destination", e.Name, e.Destination)
}

func (e *ArtifactNotFoundError) Is(target error) bool { return target == ErrArtifactNotFound }

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
