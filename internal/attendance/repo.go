package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"classkiosk/internal/store"
)

// Repository archives ended session reports in Postgres or SQLite.
type Repository struct {
	db      *sql.DB
	dialect string
}

// NewRepository creates a repo for the given store dialect.
func NewRepository(db *sql.DB, dialect string) *Repository {
	return &Repository{db: db, dialect: dialect}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_reports (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL,
		duration_minutes   INTEGER NOT NULL,
		expected_headcount INTEGER NOT NULL,
		present            INTEGER NOT NULL,
		started_at_ms      BIGINT NOT NULL,
		ended_at_ms        BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_report_students (
		session_id TEXT NOT NULL REFERENCES session_reports(id),
		position   INTEGER NOT NULL,
		student_id TEXT NOT NULL,
		PRIMARY KEY (session_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_reports_ended ON session_reports(ended_at_ms)`,
}

// Migrate creates the archive tables.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ErrNoSessionID is returned when a report without a session id is archived.
var ErrNoSessionID = errors.New("report has no session id")

// SaveReport stores a report and its ordered student ids.
func (r *Repository) SaveReport(ctx context.Context, rep Report) error {
	if rep.SessionID == "" {
		return ErrNoSessionID
	}
	if rep.EndedAt.IsZero() {
		rep.EndedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_reports (id, title, duration_minutes, expected_headcount, present, started_at_ms, ended_at_ms)
		VALUES (`+r.placeholders(1, 7)+`)
	`, rep.SessionID, rep.Title, rep.DurationMinutes, rep.ExpectedHeadcount, len(rep.StudentIDs),
		toMillis(rep.StartedAt), toMillis(rep.EndedAt))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	insertStudent := `INSERT INTO session_report_students (session_id, position, student_id) VALUES (` + r.placeholders(1, 3) + `)`
	for i, id := range rep.StudentIDs {
		if _, err := tx.ExecContext(ctx, insertStudent, rep.SessionID, i, id); err != nil {
			return fmt.Errorf("insert report student: %w", err)
		}
	}
	return tx.Commit()
}

// GetReport returns a report by session id, or nil when it does not exist.
func (r *Repository) GetReport(ctx context.Context, sessionID string) (*Report, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, duration_minutes, expected_headcount, started_at_ms, ended_at_ms
		FROM session_reports WHERE id = `+r.ph(1), sessionID)
	var (
		rep              Report
		startMs, endedMs int64
	)
	if err := row.Scan(&rep.SessionID, &rep.Title, &rep.DurationMinutes, &rep.ExpectedHeadcount, &startMs, &endedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rep.StartedAt = fromMillis(startMs)
	rep.EndedAt = fromMillis(endedMs)

	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM session_report_students
		WHERE session_id = `+r.ph(1)+`
		ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rep.StudentIDs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rep.StudentIDs = append(rep.StudentIDs, id)
	}
	return &rep, rows.Err()
}

// ListReports returns archived reports, most recently ended first.
func (r *Repository) ListReports(ctx context.Context, limit, offset int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, expected_headcount, present, ended_at_ms
		FROM session_reports
		ORDER BY ended_at_ms DESC
		LIMIT `+r.ph(1)+` OFFSET `+r.ph(2), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []ReportSummary{}
	for rows.Next() {
		var (
			s       ReportSummary
			endedMs int64
		)
		if err := rows.Scan(&s.SessionID, &s.Title, &s.ExpectedHeadcount, &s.Present, &endedMs); err != nil {
			return nil, err
		}
		s.EndedAt = fromMillis(endedMs)
		s.Rate = CurrentStats(s.Present, s.ExpectedHeadcount).Rate
		res = append(res, s)
	}
	return res, rows.Err()
}

// ph returns the n-th bind placeholder for the dialect.
func (r *Repository) ph(n int) string {
	if r.dialect == store.DialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

func (r *Repository) placeholders(from, to int) string {
	parts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		parts = append(parts, r.ph(i))
	}
	return strings.Join(parts, ", ")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
