package attendance

import (
	"context"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"classkiosk/internal/store"
)

func newSharedRedisStore(t *testing.T) *store.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisStore(client, "test:")
}

// interleavingStore runs between once, after the first Update has read its
// keys and before it commits, the way a second process would.
type interleavingStore struct {
	store.Store
	between func()
}

func (s *interleavingStore) Update(ctx context.Context, fn func(store.Txn) error, keys ...string) error {
	return s.Store.Update(ctx, func(tx store.Txn) error {
		if f := s.between; f != nil {
			s.between = nil
			f()
		}
		return fn(tx)
	}, keys...)
}

func TestWorkerEventRacingReset(t *testing.T) {
	ctx := context.Background()
	shared := newSharedRedisStore(t)
	api := NewAggregator(shared, nil)
	if _, err := api.OnAttendanceEvent(ctx, presentEvent("OLD", "")); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	ws := &interleavingStore{Store: shared}
	ws.between = func() {
		if err := api.Reset(ctx); err != nil {
			t.Errorf("Reset failed: %v", err)
		}
	}
	worker := NewAggregator(ws, nil)

	got, err := worker.OnAttendanceEvent(ctx, presentEvent("NEW", ""))
	if err != nil {
		t.Fatalf("worker event: %v", err)
	}
	if got != Applied {
		t.Errorf("outcome: got %v, want applied", got)
	}
	if ids := rosterIDs(t, api); !reflect.DeepEqual(ids, []string{"NEW"}) {
		t.Errorf("roster after reset of previous session: got %v, want [NEW]", ids)
	}
}

func TestWorkerEventRacingFreeze(t *testing.T) {
	ctx := context.Background()
	shared := newSharedRedisStore(t)
	api := NewAggregator(shared, nil)
	if _, err := api.OnAttendanceEvent(ctx, presentEvent("A1", "")); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	var snapshot []string
	ws := &interleavingStore{Store: shared}
	ws.between = func() {
		ids, err := api.SnapshotAndFreeze(ctx)
		if err != nil {
			t.Errorf("SnapshotAndFreeze failed: %v", err)
		}
		snapshot = ids
	}
	worker := NewAggregator(ws, nil)

	got, err := worker.OnAttendanceEvent(ctx, presentEvent("A2", ""))
	if err != nil {
		t.Fatalf("worker event: %v", err)
	}
	if got != Frozen {
		t.Errorf("outcome: got %v, want frozen", got)
	}
	if !reflect.DeepEqual(snapshot, []string{"A1"}) {
		t.Errorf("snapshot: got %v, want [A1]", snapshot)
	}
	if ids := rosterIDs(t, api); !reflect.DeepEqual(ids, snapshot) {
		t.Errorf("frozen roster changed: got %v, snapshot %v", ids, snapshot)
	}
}

func TestAggregatorOverRedis(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(newSharedRedisStore(t), nil)
	for _, id := range []string{"S1", "S2", "S1"} {
		if _, err := a.OnAttendanceEvent(ctx, presentEvent(id, "")); err != nil {
			t.Fatalf("event %s: %v", id, err)
		}
	}
	if ids := rosterIDs(t, a); !reflect.DeepEqual(ids, []string{"S2", "S1"}) {
		t.Errorf("roster: got %v, want [S2 S1]", ids)
	}
}
