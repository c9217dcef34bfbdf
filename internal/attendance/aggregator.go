package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"classkiosk/internal/metrics"
	"classkiosk/internal/store"
)

// isoMillis matches the timestamps card readers send.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Outcome tells what an attendance event did to the roster.
type Outcome int

const (
	Applied Outcome = iota
	Duplicate
	Ignored
	Frozen
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Frozen:
		return "frozen"
	default:
		return "ignored"
	}
}

// Messages shown for a tap when the reader sent none, or when the roster
// overrides what the reader said.
const (
	MessageRecorded   = "出席が記録されました"
	MessageDuplicate  = "既に出席登録済みです"
	MessageClosed     = "出席受付は終了しました"
	MessageUnreadable = "カードが認識できませんでした"
	MessageNotCounted = "出席として記録されませんでした"
)

// Aggregator keeps the deduplicated roster of the current session in the
// session store, newest check-in first. Every change goes through
// store.Update so an API process and a worker can share one store.
type Aggregator struct {
	store   store.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAggregator creates an aggregator over s. m may be nil.
func NewAggregator(s store.Store, m *metrics.Metrics) *Aggregator {
	return &Aggregator{store: s, metrics: m, now: time.Now}
}

// OnAttendanceEvent adds the event's student to the roster unless the event is
// not a successful "present" tap, the student is already listed or the roster
// is frozen. Duplicates are dropped silently: the first check-in wins.
// Every attendance tap, counted or not, replaces the last feedback.
func (a *Aggregator) OnAttendanceEvent(ctx context.Context, evt Event) (Outcome, error) {
	ts := evt.Timestamp
	if ts == "" {
		ts = a.now().UTC().Format(isoMillis)
	}

	if !evt.CountsAsPresent() {
		a.metrics.Event(Ignored.String())
		if evt.Type != EventTypeAttendance {
			return Ignored, nil
		}
		raw, err := json.Marshal(feedbackFor(evt, Ignored, ts))
		if err != nil {
			return Ignored, err
		}
		if err := a.store.Set(ctx, store.KeyLastEvent, string(raw)); err != nil {
			return Ignored, fmt.Errorf("write feedback: %w", err)
		}
		return Ignored, nil
	}

	var (
		outcome Outcome
		present int
	)
	err := a.store.Update(ctx, func(tx store.Txn) error {
		outcome = Applied
		if v, _ := tx.Get(store.KeyRosterFrozen); v == "1" {
			outcome = Frozen
		} else {
			records := decodeRoster(tx.Get(store.KeyRoster))
			for _, r := range records {
				if r.ID == evt.Student.ID {
					outcome = Duplicate
					break
				}
			}
			if outcome == Applied {
				rec := Record{
					ID:         evt.Student.ID,
					Name:       evt.Student.Name,
					Year:       evt.Student.Year,
					Department: evt.Student.Department,
					Timestamp:  ts,
				}
				records = append([]Record{rec}, records...)
				raw, err := json.Marshal(records)
				if err != nil {
					return err
				}
				tx.Set(store.KeyRoster, string(raw))
				present = len(records)
			}
		}
		raw, err := json.Marshal(feedbackFor(evt, outcome, ts))
		if err != nil {
			return err
		}
		tx.Set(store.KeyLastEvent, string(raw))
		return nil
	}, store.KeyRoster, store.KeyRosterFrozen, store.KeyLastEvent)
	if err != nil {
		return Ignored, fmt.Errorf("update roster: %w", err)
	}

	a.metrics.Event(outcome.String())
	if outcome == Applied {
		a.metrics.SetPresent(present)
	}
	return outcome, nil
}

// Records returns the roster, newest first.
func (a *Aggregator) Records(ctx context.Context) ([]Record, error) {
	raw, ok, err := a.store.Get(ctx, store.KeyRoster)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return decodeRoster(raw, ok), nil
}

// Stats derives the running statistics from the roster size.
func (a *Aggregator) Stats(ctx context.Context, expected int) (Stats, error) {
	records, err := a.Records(ctx)
	if err != nil {
		return Stats{}, err
	}
	return CurrentStats(len(records), expected), nil
}

// SnapshotAndFreeze returns the student ids in roster order and makes the
// roster read-only until Reset. The snapshot and the flag are written in
// one update, so no event can land in between.
func (a *Aggregator) SnapshotAndFreeze(ctx context.Context) ([]string, error) {
	var ids []string
	err := a.store.Update(ctx, func(tx store.Txn) error {
		records := decodeRoster(tx.Get(store.KeyRoster))
		ids = make([]string, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		tx.Set(store.KeyRosterFrozen, "1")
		return nil
	}, store.KeyRoster, store.KeyRosterFrozen)
	if err != nil {
		return nil, fmt.Errorf("freeze roster: %w", err)
	}
	return ids, nil
}

// Frozen reports whether the roster is read-only.
func (a *Aggregator) Frozen(ctx context.Context) (bool, error) {
	v, _, err := a.store.Get(ctx, store.KeyRosterFrozen)
	if err != nil {
		return false, fmt.Errorf("read roster flag: %w", err)
	}
	return v == "1", nil
}

// Reset empties and unfreezes the roster for a new session and forgets the
// last feedback.
func (a *Aggregator) Reset(ctx context.Context) error {
	err := a.store.Update(ctx, func(tx store.Txn) error {
		tx.Remove(store.KeyRoster)
		tx.Remove(store.KeyRosterFrozen)
		tx.Remove(store.KeyLastEvent)
		return nil
	}, store.KeyRoster, store.KeyRosterFrozen, store.KeyLastEvent)
	if err != nil {
		return fmt.Errorf("reset roster: %w", err)
	}
	a.metrics.SetPresent(0)
	return nil
}

// LastFeedback returns the result of the most recent attendance tap.
func (a *Aggregator) LastFeedback(ctx context.Context) (Feedback, bool, error) {
	raw, ok, err := a.store.Get(ctx, store.KeyLastEvent)
	if err != nil {
		return Feedback{}, false, fmt.Errorf("read feedback: %w", err)
	}
	if !ok || raw == "" {
		return Feedback{}, false, nil
	}
	var fb Feedback
	if err := json.Unmarshal([]byte(raw), &fb); err != nil {
		log.Printf("feedback unreadable, ignoring: %v", err)
		return Feedback{}, false, nil
	}
	return fb, true, nil
}

func feedbackFor(evt Event, o Outcome, ts string) Feedback {
	fb := Feedback{
		Outcome:   o.String(),
		Success:   evt.Success,
		Student:   evt.Student,
		Timestamp: ts,
	}
	switch {
	case o == Applied:
		fb.Message = orDefault(evt.Message, MessageRecorded)
	case o == Duplicate:
		fb.Message = MessageDuplicate
	case o == Frozen:
		fb.Message = MessageClosed
	case !evt.Success:
		fb.Message = orDefault(evt.Message, MessageUnreadable)
	default:
		fb.Message = orDefault(evt.Message, MessageNotCounted)
	}
	return fb
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// decodeRoster parses a stored roster. A malformed value counts as an empty
// roster.
func decodeRoster(raw string, ok bool) []Record {
	if !ok || raw == "" {
		return []Record{}
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		log.Printf("roster unreadable, starting empty: %v", err)
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}
	return records
}

// CurrentStats computes present/total and the rounded attendance percentage.
func CurrentStats(present, total int) Stats {
	rate := 0
	if total > 0 {
		rate = int(math.Round(float64(present) / float64(total) * 100))
	}
	return Stats{Present: present, Total: total, Rate: rate}
}
