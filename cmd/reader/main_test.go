package main

import (
	"testing"
	"time"

	"classkiosk/internal/attendance"
)

func TestBuildEvent(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC)
	student := attendance.Student{ID: "12561526516256", Name: "田中 太郎", Year: "2年", Department: "情報工学科"}

	evt := buildEvent(student, true, attendance.StatusPresent, at)
	if !evt.CountsAsPresent() {
		t.Errorf("successful tap should count as present: %+v", evt)
	}
	if evt.Timestamp != "2026-10-19T09:15:00.000Z" {
		t.Errorf("timestamp: got %q", evt.Timestamp)
	}

	failed := buildEvent(student, false, attendance.StatusPresent, at)
	if failed.CountsAsPresent() || failed.Student != nil {
		t.Errorf("failed tap should carry no student: %+v", failed)
	}
}

func TestTapRequiresID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"tap"})
	root.SilenceErrors = true
	if err := root.Execute(); err == nil {
		t.Errorf("tap without --id should fail")
	}
}
