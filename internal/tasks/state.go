// Package tasks tracks the progress of long-running jobs (uploads, backups,
// restores) so that a client can poll or stream a single record per task.
package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// State is the lifecycle position of a task
type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Terminal reports whether no further updates may follow s
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrTaskFinished          = errors.New("task already finished")
	ErrMalformedTaskResponse = errors.New("malformed task response")
)

// HTTPStatus carries the status line of the response a Record was read from
type HTTPStatus struct {
	StatusCode   int    `json:"status_code"`
	StatusReason string `json:"status_reason"`
}

// Record is the externally visible state of a task.
// 0 <= Current <= Total holds for every record a reporter produces.
type Record struct {
	State   State       `json:"state"`
	Status  string      `json:"status"`
	Current int         `json:"current"`
	Total   int         `json:"total"`
	HTTP    *HTTPStatus `json:"http,omitempty"`

	Kind string `json:"-"`
}

// MalformedTaskResponseError is returned when a task status body cannot be
// decoded and the server did not report an internal error.
type MalformedTaskResponseError struct {
	StatusCode int
	Err        error
}

func (e *MalformedTaskResponseError) Error() string {
	return fmt.Sprintf("malformed task response (status %d): %v", e.StatusCode, e.Err)
}

func (e *MalformedTaskResponseError) Unwrap() error { return e.Err }

func (e *MalformedTaskResponseError) Is(target error) bool {
	return target == ErrMalformedTaskResponse
}

// wireRecord accepts current/total as numbers or numeric strings
type wireRecord struct {
	State   State   `json:"state"`
	Status  string  `json:"status"`
	Current flexInt `json:"current"`
	Total   flexInt `json:"total"`
}

type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*f = flexInt(n)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(int(n))
	return nil
}

// ParseTaskResponse converts a task status response into a Record. An
// undecodable body from a 500 response becomes a synthesized failure record.
func ParseTaskResponse(statusCode int, reason string, body []byte) (Record, error) {
	httpStatus := &HTTPStatus{StatusCode: statusCode, StatusReason: reason}

	var wire wireRecord
	if err := json.Unmarshal(body, &wire); err != nil {
		if statusCode != http.StatusInternalServerError {
			return Record{}, &MalformedTaskResponseError{StatusCode: statusCode, Err: err}
		}
		return Record{
			State:   StateFailure,
			Status:  "Internal server error",
			Current: 0,
			Total:   100,
			HTTP:    httpStatus,
		}, nil
	}

	return Record{
		State:   wire.State,
		Status:  wire.Status,
		Current: int(wire.Current),
		Total:   int(wire.Total),
		HTTP:    httpStatus,
	}, nil
}
