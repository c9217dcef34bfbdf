// Package scheduler runs cancellable periodic tasks.
package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a handle to a scheduled job. Once Stop returns no new run starts;
// a run already in flight may still finish.
type Task interface {
	Stop()
}

// Scheduler starts periodic tasks.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (Task, error)
}

// Cron schedules constant-delay jobs on a shared cron runner.
// Intervals below one second are rounded up by cron.
type Cron struct {
	c *cron.Cron
}

// NewCron creates and starts a runner. Overlapping runs of the same job are skipped.
func NewCron() *Cron {
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	c.Start()
	return &Cron{c: c}
}

// Every registers fn to run once per interval.
func (s *Cron) Every(interval time.Duration, fn func()) (Task, error) {
	id := s.c.Schedule(cron.Every(interval), cron.FuncJob(fn))
	return &cronTask{c: s.c, id: id}, nil
}

// Stop halts the runner and waits for running jobs.
func (s *Cron) Stop() {
	<-s.c.Stop().Done()
}

type cronTask struct {
	once sync.Once
	c    *cron.Cron
	id   cron.EntryID
}

func (t *cronTask) Stop() {
	t.once.Do(func() { t.c.Remove(t.id) })
}

// Manual is a Scheduler driven by explicit Fire calls; used by tests and tools
// that need deterministic ticks.
type Manual struct {
	mu    sync.Mutex
	next  int
	tasks map[int]func()
}

// NewManual creates an idle manual scheduler.
func NewManual() *Manual {
	return &Manual{tasks: make(map[int]func())}
}

func (m *Manual) Every(_ time.Duration, fn func()) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.tasks[id] = fn
	return &manualTask{m: m, id: id}, nil
}

// Fire runs every active task once.
func (m *Manual) Fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.tasks))
	for _, fn := range m.tasks {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Active reports how many tasks are scheduled.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type manualTask struct {
	m  *Manual
	id int
}

func (t *manualTask) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	delete(t.m.tasks, t.id)
}
