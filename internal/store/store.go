package store

import (
	"context"
	"sync"
)

// Session store keys shared by the session controller and the roster aggregator.
const (
	KeyTitle        = "classTitle"
	KeyDuration     = "classTimer"
	KeyEndMs        = "classTimerEnd"
	KeyRunning      = "classTimerStarted"
	KeyHeadcount    = "totalStudents"
	KeyRoster       = "registeredStudents"
	KeyRosterFrozen = "rosterFrozen"
	KeySessionID    = "sessionId"
	KeyLastEvent    = "lastAttendanceEvent"
)

// Store is the string key-value contract behind a kiosk session.
// A missing key is reported with ok == false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Update runs fn against the current values of keys and applies its
	// writes only if no other writer touched those keys in between. fn may
	// run more than once and must not have side effects outside the Txn.
	Update(ctx context.Context, fn func(Txn) error, keys ...string) error
}

// Txn is the view an Update function gets of its keys. Writes are buffered
// and applied together once fn returns nil.
type Txn interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

type txn struct {
	values map[string]string
	writes map[string]*string // nil removes the key
}

func newTxn() *txn {
	return &txn{values: make(map[string]string), writes: make(map[string]*string)}
}

func (t *txn) Get(key string) (string, bool) {
	if w, ok := t.writes[key]; ok {
		if w == nil {
			return "", false
		}
		return *w, true
	}
	v, ok := t.values[key]
	return v, ok
}

func (t *txn) Set(key, value string) { t.writes[key] = &value }

func (t *txn) Remove(key string) { t.writes[key] = nil }

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Update(_ context.Context, fn func(Txn) error, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := newTxn()
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			t.values[k] = v
		}
	}
	if err := fn(t); err != nil {
		return err
	}
	for k, v := range t.writes {
		if v == nil {
			delete(m.data, k)
		} else {
			m.data[k] = *v
		}
	}
	return nil
}
