package attendance

import (
	"encoding/json"
	"time"

	"classkiosk/internal/queue"
)

// Event statuses and types understood by the roster.
const (
	EventTypeAttendance = "attendance"
	StatusPresent       = "present"
)

// Student identifies the card holder in an inbound event.
type Student struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Year       string `json:"year"`
	Department string `json:"department"`
}

// Event is the message a card reader emits for each tap.
type Event struct {
	Type      string   `json:"type"`
	Success   bool     `json:"success"`
	Status    string   `json:"status"`
	Student   *Student `json:"student,omitempty"`
	Timestamp string   `json:"timestamp"`
	Message   string   `json:"message"`
}

// CountsAsPresent reports whether the event may add a record to the roster.
func (e Event) CountsAsPresent() bool {
	return e.Type == EventTypeAttendance &&
		e.Success &&
		e.Status == StatusPresent &&
		e.Student != nil &&
		e.Student.ID != ""
}

// Feedback is what the kiosk shows for the most recent tap.
type Feedback struct {
	Outcome   string   `json:"outcome"`
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Student   *Student `json:"student,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Record is one check-in kept in the roster.
type Record struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Year       string `json:"year"`
	Department string `json:"department"`
	Timestamp  string `json:"timestamp"`
}

// Stats summarises the roster against the expected headcount.
type Stats struct {
	Present int `json:"present"`
	Total   int `json:"total"`
	Rate    int `json:"rate"`
}

// Report is the frozen result of an ended class session.
type Report struct {
	SessionID         string    `json:"session_id"`
	Title             string    `json:"title"`
	DurationMinutes   int       `json:"duration_minutes"`
	ExpectedHeadcount int       `json:"expected_headcount"`
	StudentIDs        []string  `json:"student_ids"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// Stats computes the attendance rate of the report.
func (r Report) Stats() Stats {
	return CurrentStats(len(r.StudentIDs), r.ExpectedHeadcount)
}

// Rows renders the report as export rows.
func (r Report) Rows() [][]string {
	return ExportRows(r.Title, r.ExpectedHeadcount, r.StudentIDs)
}

// ReportSummary is a list entry of the archive.
type ReportSummary struct {
	SessionID         string    `json:"session_id"`
	Title             string    `json:"title"`
	ExpectedHeadcount int       `json:"expected_headcount"`
	Present           int       `json:"present"`
	Rate              int       `json:"rate"`
	EndedAt           time.Time `json:"ended_at"`
}

// NewMessage wraps an event for the queue.
func NewMessage(evt Event) (queue.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return queue.Message{}, err
	}
	return queue.Message{Type: queue.MessageTypeAttendance, Body: body}, nil
}
