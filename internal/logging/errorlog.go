package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// ErrorLog appends correlation-tagged error blocks to a plain text file so
// that a short id surfaced to the caller can be grepped later:
//
//	<error id="..." datetime="...">
//	raw captured output
//	</error id="..." datetime="...">
type ErrorLog struct {
	path   string
	sentry bool
	mu     sync.Mutex
	now    func() time.Time
}

// Entry is a recorded error block
type Entry struct {
	ID      string
	Path    string
	Message string
}

// NewErrorLog creates an error log writing to path. When sentryDSN is not
// empty, recorded entries are also reported to Sentry.
func NewErrorLog(path, sentryDSN string) (*ErrorLog, error) {
	el := &ErrorLog{path: path, now: time.Now}

	if strings.TrimSpace(sentryDSN) != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: sentryDSN}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		el.sentry = true
	}

	return el, nil
}

// Path returns the file the blocks are written to
func (el *ErrorLog) Path() string {
	return el.path
}

// Record writes raw under a fresh correlation id. Empty input writes nothing
// and returns a zero Entry.
func (el *ErrorLog) Record(context, raw string) (Entry, error) {
	if strings.TrimSpace(raw) == "" {
		return Entry{}, nil
	}

	id := uuid.New().String()
	open := fmt.Sprintf("<error id=\"%s\" datetime=\"%s\">", id, el.now().Format(time.RFC3339))
	block := "\n\n" + open + "\n" + strings.TrimRight(raw, "\n") + "\n</" + open[1:] + "\n"

	el.mu.Lock()
	defer el.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(el.path), 0755); err != nil {
		return Entry{}, fmt.Errorf("failed to create logs directory: %w", err)
	}

	f, err := os.OpenFile(el.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to open error log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(block); err != nil {
		return Entry{}, fmt.Errorf("failed to write error log: %w", err)
	}

	L().Error("error_recorded", "id", id, "context", context, "error_log", el.path)

	if el.sentry {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("correlation_id", id)
			scope.SetTag("context", context)
			sentry.CaptureMessage(context + ": " + raw)
		})
	}

	return Entry{ID: id, Path: el.path, Message: raw}, nil
}

// Flush waits for queued Sentry events, if any.
func (el *ErrorLog) Flush(timeout time.Duration) {
	if el.sentry {
		sentry.Flush(timeout)
	}
}
