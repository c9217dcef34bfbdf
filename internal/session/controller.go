package session

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classkiosk/internal/attendance"
	"classkiosk/internal/metrics"
	"classkiosk/internal/scheduler"
	"classkiosk/internal/store"
)

const (
	defaultDurationMinutes = 30
	defaultTickInterval    = time.Second
	tickTimeout            = 5 * time.Second
)

// Controller owns one kiosk's class session. All methods are safe for
// concurrent use; they are serialised by a single mutex.
type Controller struct {
	mu       sync.Mutex
	store    store.Store
	roster   Roster
	clock    Clock
	sched    scheduler.Scheduler
	interval time.Duration
	archive  Archiver
	metrics  *metrics.Metrics

	phase     Phase
	settings  Settings
	sessionID string
	startedAt time.Time
	endMs     int64
	remaining int64
	report    *attendance.Report

	task scheduler.Task
	// generation invalidates ticks of cancelled tasks that are still in flight.
	generation uint64
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithTickInterval sets the countdown cadence.
func WithTickInterval(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.interval = d
		}
	}
}

// WithArchiver stores every ended report.
func WithArchiver(a Archiver) Option { return func(ctl *Controller) { ctl.archive = a } }

// WithMetrics records transitions and remaining time.
func WithMetrics(m *metrics.Metrics) Option { return func(ctl *Controller) { ctl.metrics = m } }

// WithDefaultDuration sets the duration offered before the first Configure.
func WithDefaultDuration(minutes int) Option {
	return func(ctl *Controller) {
		if minutes >= 1 {
			ctl.settings.DurationMinutes = minutes
		}
	}
}

// New creates a controller in the Configuring phase. Call Restore once to pick
// up a session that was running before the process started.
func New(s store.Store, roster Roster, sched scheduler.Scheduler, opts ...Option) *Controller {
	c := &Controller{
		store:    s,
		roster:   roster,
		clock:    SystemClock{},
		sched:    sched,
		interval: defaultTickInterval,
		phase:    Configuring,
		settings: Settings{DurationMinutes: defaultDurationMinutes},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure sets the parameters of the next session. It empties the roster
// and drops the report of a previous session. Refused while running.
func (c *Controller) Configure(ctx context.Context, st Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Running {
		return ErrRunning
	}
	st.Title = strings.TrimSpace(st.Title)
	if err := st.Validate(); err != nil {
		return err
	}
	if err := c.roster.Reset(ctx); err != nil {
		return err
	}
	if err := c.store.Set(ctx, store.KeyHeadcount, strconv.Itoa(st.ExpectedHeadcount)); err != nil {
		return fmt.Errorf("persist headcount: %w", err)
	}

	if c.phase == Ended {
		c.metrics.Transition(Configuring.String())
	}
	c.phase = Configuring
	c.settings = st
	c.sessionID = ""
	c.startedAt = time.Time{}
	c.report = nil
	return nil
}

// Start begins the configured session and schedules the countdown.
// The session keys are written one by one; a failure part way leaves the
// keys written so far in place.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case Running:
		return ErrRunning
	case Ended:
		return ErrNotConfigured
	}
	if c.settings.Title == "" {
		return ErrTitleRequired
	}

	now := c.clock.Now()
	endMs := now.UnixMilli() + int64(c.settings.DurationMinutes)*60_000
	id := uuid.NewString()

	writes := []struct{ key, value string }{
		{store.KeyTitle, c.settings.Title},
		{store.KeyDuration, strconv.Itoa(c.settings.DurationMinutes)},
		{store.KeyEndMs, strconv.FormatInt(endMs, 10)},
		{store.KeyRunning, "1"},
		{store.KeyHeadcount, strconv.Itoa(c.settings.ExpectedHeadcount)},
		{store.KeySessionID, id},
	}
	for _, w := range writes {
		if err := c.store.Set(ctx, w.key, w.value); err != nil {
			return fmt.Errorf("persist %s: %w", w.key, err)
		}
	}

	c.phase = Running
	c.sessionID = id
	c.startedAt = now
	c.endMs = endMs
	c.remaining = int64(c.settings.DurationMinutes) * 60
	c.schedule()

	c.metrics.Transition(Running.String())
	c.metrics.SetRemaining(c.remaining)
	log.Printf("class session %s started: %q for %d min", id, c.settings.Title, c.settings.DurationMinutes)
	return nil
}

// Tick recomputes the remaining time from the stored end time and ends the
// session once it reaches zero. It is a no-op unless the session is running.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickLocked(ctx)
}

func (c *Controller) tickLocked(ctx context.Context) error {
	if c.phase != Running {
		return nil
	}
	end := c.endMs
	v, ok, err := c.store.Get(ctx, store.KeyEndMs)
	switch {
	case err != nil:
		log.Printf("read session end failed, using last known: %v", err)
	case ok:
		if parsed, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			end = parsed
		}
	}
	c.endMs = end
	c.remaining = remainingSeconds(end, c.clock.Now())
	c.metrics.SetRemaining(c.remaining)
	if c.remaining > 0 {
		return nil
	}
	_, err = c.endLocked(ctx)
	return err
}

// End freezes the roster into a report and clears the session keys, keeping
// the headcount as the default for the next session. Ending an ended session
// returns the same report.
func (c *Controller) End(ctx context.Context) (attendance.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endLocked(ctx)
}

func (c *Controller) endLocked(ctx context.Context) (attendance.Report, error) {
	switch c.phase {
	case Ended:
		return *c.report, nil
	case Configuring:
		return attendance.Report{}, ErrNotRunning
	}

	ids, err := c.roster.SnapshotAndFreeze(ctx)
	if err != nil {
		// stay running so the next tick retries
		return attendance.Report{}, fmt.Errorf("snapshot roster: %w", err)
	}

	c.stopTask()
	rep := attendance.Report{
		SessionID:         c.sessionID,
		Title:             c.settings.Title,
		DurationMinutes:   c.settings.DurationMinutes,
		ExpectedHeadcount: c.settings.ExpectedHeadcount,
		StudentIDs:        ids,
		StartedAt:         c.startedAt.UTC(),
		EndedAt:           c.clock.Now().UTC(),
	}
	c.phase = Ended
	c.report = &rep
	c.endMs = 0
	c.remaining = 0

	for _, key := range []string{store.KeyRunning, store.KeyEndMs, store.KeyTitle, store.KeyDuration, store.KeySessionID} {
		if err := c.store.Remove(ctx, key); err != nil {
			log.Printf("clear %s failed: %v", key, err)
		}
	}
	if c.archive != nil {
		if err := c.archive.SaveReport(ctx, rep); err != nil {
			log.Printf("archive report %s failed: %v", rep.SessionID, err)
		}
	}

	c.metrics.Transition(Ended.String())
	c.metrics.SetRemaining(0)
	log.Printf("class session %s ended: %d of %d present", rep.SessionID, len(ids), rep.ExpectedHeadcount)
	return rep, nil
}

// Restore rebuilds the controller from the session store after a restart.
// A running session whose end lies in the past is ended immediately.
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Running {
		return nil
	}
	if n, ok := c.readInt(ctx, store.KeyHeadcount); ok && n >= 0 {
		c.settings.ExpectedHeadcount = n
	}
	if v, ok, err := c.store.Get(ctx, store.KeyTitle); err == nil && ok {
		c.settings.Title = v
	}
	if n, ok := c.readInt(ctx, store.KeyDuration); ok && n >= 1 {
		c.settings.DurationMinutes = n
	}

	flag, _, err := c.store.Get(ctx, store.KeyRunning)
	if err != nil {
		return fmt.Errorf("read running flag: %w", err)
	}
	raw, ok, err := c.store.Get(ctx, store.KeyEndMs)
	if err != nil {
		return fmt.Errorf("read session end: %w", err)
	}
	if flag != "1" || !ok {
		return nil
	}
	endMs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("stored session end %q unreadable, no session restored", raw)
		return nil
	}
	id, _, _ := c.store.Get(ctx, store.KeySessionID)
	if id == "" {
		id = uuid.NewString()
		if err := c.store.Set(ctx, store.KeySessionID, id); err != nil {
			log.Printf("persist restored session id failed: %v", err)
		}
	}
	c.phase = Running
	c.sessionID = id
	c.endMs = endMs
	c.startedAt = time.UnixMilli(endMs - int64(c.settings.DurationMinutes)*60_000)
	c.remaining = remainingSeconds(endMs, c.clock.Now())

	// scheduled before ending so a failed end is retried by the next tick
	c.schedule()
	if c.remaining == 0 {
		log.Printf("class session %s expired while offline", id)
		_, err := c.endLocked(ctx)
		return err
	}
	c.metrics.SetRemaining(c.remaining)
	log.Printf("class session %s restored with %ds left", id, c.remaining)
	return nil
}

// State returns a snapshot of the controller. The remaining time of a running
// session is computed against the clock at call time.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{Phase: c.phase, SessionID: c.sessionID, Settings: c.settings}
	if c.phase == Running {
		ends := time.UnixMilli(c.endMs).UTC()
		st.EndsAt = &ends
		st.RemainingSeconds = remainingSeconds(c.endMs, c.clock.Now())
	}
	return st
}

// Report returns the frozen report of the ended session.
func (c *Controller) Report() (attendance.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return attendance.Report{}, false
	}
	return *c.report, true
}

// Close cancels the countdown. The session keys stay in the store so a later
// Restore can resume it.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTask()
}

func (c *Controller) schedule() {
	c.stopTask()
	gen := c.generation
	task, err := c.sched.Every(c.interval, func() { c.scheduledTick(gen) })
	if err != nil {
		log.Printf("schedule countdown failed: %v", err)
		return
	}
	c.task = task
}

func (c *Controller) scheduledTick(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	if err := c.tickLocked(ctx); err != nil {
		log.Printf("countdown tick failed: %v", err)
	}
}

func (c *Controller) stopTask() {
	if c.task != nil {
		c.task.Stop()
		c.task = nil
	}
	c.generation++
}

func (c *Controller) readInt(ctx context.Context, key string) (int, bool) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// remainingSeconds is max(0, floor((endMs-now)/1000)).
func remainingSeconds(endMs int64, now time.Time) int64 {
	diff := endMs - now.UnixMilli()
	if diff <= 0 {
		return 0
	}
	return diff / 1000
}
