package watcher

import (
	"time"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
)

// Status is the outcome of the most recent poll.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is what a watcher publishes after each step of a poll. A State is
// never modified once published; readers may keep it as long as they like.
type State struct {
	Status Status
	// Message is a short label for the status, e.g. "Authentication failed".
	Message string
	// Err is the poll failure when Status is StatusError.
	Err error
	// Snapshot and Summary come from the last successful poll. They're nil
	// after a failed poll.
	Snapshot *monitor.Snapshot
	Summary  *monitor.Summary
	// Alert is what the reminder engine decided on the last successful poll.
	Alert remind.AlertKind
	// AnnounceErr is set when Alert fired but delivery failed. The snapshot
	// still stands.
	AnnounceErr error
	UpdatedAt   time.Time
}

// Detail is a one-line description of Err, or "".
func (s State) Detail() string {
	return errors.Summarize(s.Err)
}

var statusMessages = map[string]string{
	errors.ErrAuth:      "Authentication failed",
	errors.ErrTimeout:   "Timed out",
	errors.ErrSSH:       "Connection failed",
	errors.ErrExec:      "nvidia-smi failed",
	errors.ErrMalformed: "Unreadable nvidia-smi output",
	errors.ErrSchema:    "Unexpected nvidia-smi columns",
	errors.ErrEmpty:     "No GPUs reported",
	errors.ErrConfig:    "Bad server config",
}

// MessageFor maps a poll error to its status label.
func MessageFor(err error) string {
	if msg, ok := statusMessages[errors.CodeOf(err)]; ok {
		return msg
	}
	return "Poll failed"
}

func idleState() *State {
	return &State{Status: StatusIdle, Message: "Not polled yet"}
}
