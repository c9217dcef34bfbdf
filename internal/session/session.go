// Package session drives the class-session lifecycle of a kiosk: configure,
// start, periodic countdown and end.
//
// The countdown is always derived from the absolute end time kept in the
// session store, so a restarted process or a late tick recomputes the same
// remaining time instead of decrementing a local counter.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classkiosk/internal/attendance"
)

// Phase is the lifecycle state of a class session.
type Phase int

const (
	Configuring Phase = iota
	Running
	Ended
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Ended:
		return "ended"
	default:
		return "configuring"
	}
}

// MarshalText lets phases appear by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

var (
	// ErrRunning rejects operations that need a session that is not running.
	ErrRunning = errors.New("class session is running")
	// ErrNotRunning rejects ending a session that never started.
	ErrNotRunning = errors.New("class session is not running")
	// ErrNotConfigured rejects starting an ended session before it is configured again.
	ErrNotConfigured = errors.New("class session must be configured before it can start")
	// ErrTitleRequired is returned by Start when no class title is set.
	ErrTitleRequired = &ValidationError{Field: "title", Reason: "class title is required"}
)

// ValidationError reports caller input the controller refuses.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Settings are the teacher-chosen parameters of a session.
type Settings struct {
	Title             string `json:"title"`
	DurationMinutes   int    `json:"duration_minutes"`
	ExpectedHeadcount int    `json:"expected_headcount"`
}

// Validate checks the numeric bounds. An empty title is allowed until Start.
func (s Settings) Validate() error {
	if s.DurationMinutes < 1 {
		return &ValidationError{Field: "duration_minutes", Reason: "must be at least 1"}
	}
	if s.ExpectedHeadcount < 0 {
		return &ValidationError{Field: "expected_headcount", Reason: "must not be negative"}
	}
	return nil
}

// State is a read-only view of the controller.
type State struct {
	Phase            Phase      `json:"phase"`
	SessionID        string     `json:"session_id,omitempty"`
	Settings         Settings   `json:"settings"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Archiver persists the report of an ended session.
type Archiver interface {
	SaveReport(ctx context.Context, rep attendance.Report) error
}

// Roster is the part of the roster aggregator the controller drives.
type Roster interface {
	SnapshotAndFreeze(ctx context.Context) ([]string, error)
	Reset(ctx context.Context) error
}
