package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:"), mr
}

func TestStoreBackends(t *testing.T) {
	redisStore, _ := newTestRedisStore(t)
	backends := map[string]Store{
		"memory": NewMemory(),
		"redis":  redisStore,
	}
	for name, s := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := s.Get(ctx, KeyTitle); err != nil || ok {
				t.Fatalf("Get on empty store: ok=%v err=%v, want missing", ok, err)
			}
			if err := s.Set(ctx, KeyTitle, "数学"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			v, ok, err := s.Get(ctx, KeyTitle)
			if err != nil || !ok || v != "数学" {
				t.Fatalf("Get: got (%q, %v, %v), want (%q, true, nil)", v, ok, err, "数学")
			}
			if err := s.Remove(ctx, KeyTitle); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if _, ok, _ := s.Get(ctx, KeyTitle); ok {
				t.Errorf("key still present after Remove")
			}
			if err := s.Remove(ctx, KeyTitle); err != nil {
				t.Errorf("Remove of missing key: %v", err)
			}
		})
	}
}

func TestUpdateBackends(t *testing.T) {
	redisStore, _ := newTestRedisStore(t)
	backends := map[string]Store{
		"memory": NewMemory(),
		"redis":  redisStore,
	}
	for name, s := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Set(ctx, KeyRoster, "old")
			_ = s.Set(ctx, KeyRosterFrozen, "1")

			err := s.Update(ctx, func(tx Txn) error {
				if v, ok := tx.Get(KeyRoster); !ok || v != "old" {
					t.Errorf("txn read: got (%q, %v)", v, ok)
				}
				tx.Set(KeyRoster, "new")
				tx.Remove(KeyRosterFrozen)
				if v, _ := tx.Get(KeyRoster); v != "new" {
					t.Errorf("txn should see its own write, got %q", v)
				}
				if _, ok := tx.Get(KeyRosterFrozen); ok {
					t.Errorf("txn should see its own remove")
				}
				return nil
			}, KeyRoster, KeyRosterFrozen)
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if v, _, _ := s.Get(ctx, KeyRoster); v != "new" {
				t.Errorf("roster after update: got %q, want %q", v, "new")
			}
			if _, ok, _ := s.Get(ctx, KeyRosterFrozen); ok {
				t.Errorf("flag still present after update")
			}

			boom := errors.New("boom")
			err = s.Update(ctx, func(tx Txn) error {
				tx.Set(KeyRoster, "discarded")
				return boom
			}, KeyRoster)
			if !errors.Is(err, boom) {
				t.Fatalf("Update error: got %v, want %v", err, boom)
			}
			if v, _, _ := s.Get(ctx, KeyRoster); v != "new" {
				t.Errorf("failed update must not write, got %q", v)
			}
		})
	}
}

func TestRedisUpdateRetriesOnConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	_ = s.Set(ctx, KeyRoster, "a")

	calls := 0
	err := s.Update(ctx, func(tx Txn) error {
		calls++
		if calls == 1 {
			// another client writes between our read and our commit
			if err := s.Set(ctx, KeyRoster, "b"); err != nil {
				t.Fatalf("concurrent Set failed: %v", err)
			}
		}
		v, _ := tx.Get(KeyRoster)
		tx.Set(KeyRoster, v+"+")
		return nil
	}, KeyRoster)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("update function ran %d times, want 2", calls)
	}
	if v, _, _ := s.Get(ctx, KeyRoster); v != "b+" {
		t.Errorf("roster: got %q, want %q", v, "b+")
	}
}

func TestRedisStoreUsesPrefix(t *testing.T) {
	s, mr := newTestRedisStore(t)
	if err := s.Set(context.Background(), KeyHeadcount, "40"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := mr.Get("test:" + KeyHeadcount)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if got != "40" {
		t.Errorf("raw value: got %q, want %q", got, "40")
	}
}

func TestRedisHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr())
	defer r.Close()
	if !r.Healthy(context.Background()) {
		t.Errorf("expected healthy redis")
	}
	var nilRedis *Redis
	if nilRedis.Healthy(context.Background()) {
		t.Errorf("nil redis reported healthy")
	}
}

func TestNewSQLiteMemory(t *testing.T) {
	db, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer db.Close()
	if db.Dialect != DialectSQLite {
		t.Errorf("dialect: got %q, want %q", db.Dialect, DialectSQLite)
	}
}
