package infra

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Precisa de um Redis real: REDIS_ADDR=localhost:6379 go test ./...
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisWindowStore_RecordReleasePrune(t *testing.T) {
	rdb := newTestRedis(t)
	prefix := "test:" + uuid.NewString()
	s := NewRedisWindowStore(rdb, 60*time.Second, 10*time.Second, WithWindowPrefix(prefix))
	ctx := context.Background()

	var last int
	for i := 0; i < 5; i++ {
		st, err := s.Record(ctx, "10.0.0.1", t0.Add(time.Duration(i)*3*time.Second))
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		last = st.Count
		if st.Active != i+1 {
			t.Fatalf("expected active=%d, got %d", i+1, st.Active)
		}
	}
	if last != 5 {
		t.Fatalf("expected count=5, got %d", last)
	}

	for i := 0; i < 7; i++ {
		if err := s.Release(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	res, err := s.Prune(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if res.Evicted != 1 || res.Tracked != 0 || res.Trimmed != 5 {
		t.Fatalf("unexpected prune result %+v", res)
	}

	st, err := s.Record(ctx, "10.0.0.1", t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if st.Count != 1 || st.Active != 1 {
		t.Fatalf("expected fresh window after eviction, got %+v", st)
	}
	_ = rdb.Del(ctx, s.windowKey("10.0.0.1"), s.activeKey(), s.clientsKey()).Err()
}

func TestRedisSink_Write(t *testing.T) {
	rdb := newTestRedis(t)
	prefix := "test:" + uuid.NewString()
	s := NewRedisSink(rdb, WithSinkPrefix(prefix), WithSinkStreamMaxLen(10))
	ctx := context.Background()

	rec := sampleRecord()
	if err := s.Write(ctx, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	n, err := rdb.XLen(ctx, prefix+":stream").Result()
	if err != nil || n != 1 {
		t.Fatalf("expected 1 stream entry, got %d err=%v", n, err)
	}
	total, err := rdb.HGet(ctx, prefix+":total", "DosFam").Int64()
	if err != nil || total != 1 {
		t.Fatalf("expected DosFam total=1, got %d err=%v", total, err)
	}

	keys, _ := rdb.Keys(ctx, prefix+":*").Result()
	if len(keys) > 0 {
		_ = rdb.Del(ctx, keys...).Err()
	}
}

func TestRedisWindowStore_TrimBoundaryMicroseconds(t *testing.T) {
	rdb := newTestRedis(t)
	prefix := "test:" + uuid.NewString()
	s := NewRedisWindowStore(rdb, 60*time.Second, 10*time.Second, WithWindowPrefix(prefix))
	ctx := context.Background()
	first := time.Date(2026, 4, 10, 8, 0, 0, 123457000, time.UTC)

	// exatamente no limite da janela: continua contando
	_, _ = s.Record(ctx, "edge", first)
	st, err := s.Record(ctx, "edge", first.Add(60*time.Second))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if st.Count != 2 {
		t.Fatalf("entry at the window boundary must be kept, got count=%d", st.Count)
	}

	// 1µs depois do limite: sai da janela
	_, _ = s.Record(ctx, "past", first)
	st, err = s.Record(ctx, "past", first.Add(60*time.Second+time.Microsecond))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if st.Count != 1 {
		t.Fatalf("entry 1µs before the window must be trimmed, got count=%d", st.Count)
	}

	_ = rdb.Del(ctx, s.windowKey("edge"), s.windowKey("past"), s.activeKey(), s.clientsKey()).Err()
}

func TestRedisWindowStore_UndoLostRecord(t *testing.T) {
	rdb := newTestRedis(t)
	prefix := "test:" + uuid.NewString()
	s := NewRedisWindowStore(rdb, 60*time.Second, 10*time.Second, WithWindowPrefix(prefix))
	ctx := context.Background()

	members := []string{"m1", "m2"}
	s.newMember = func() string {
		m := members[0]
		members = members[1:]
		return m
	}

	if _, err := s.Record(ctx, "10.0.0.2", t0); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := s.Record(ctx, "10.0.0.2", t0.Add(time.Second)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// resposta do segundo Record perdida: desfaz só ele
	if err := s.undo(ctx, "10.0.0.2", "m2"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if err := s.undo(ctx, "10.0.0.2", "m2"); err != nil {
		t.Fatalf("undo: %v", err)
	}

	active, err := rdb.HGet(ctx, s.activeKey(), "10.0.0.2").Int()
	if err != nil || active != 1 {
		t.Fatalf("expected active=1 after undo, got %d err=%v", active, err)
	}
	n, err := rdb.ZCard(ctx, s.windowKey("10.0.0.2")).Result()
	if err != nil || n != 1 {
		t.Fatalf("expected one entry after undo, got %d err=%v", n, err)
	}

	_ = rdb.Del(ctx, s.windowKey("10.0.0.2"), s.activeKey(), s.clientsKey()).Err()
}

func TestRedisWindowStore_RecordErrorUndoesWrite(t *testing.T) {
	rdb := newTestRedis(t)
	prefix := "test:" + uuid.NewString()
	s := NewRedisWindowStore(rdb, 60*time.Second, 10*time.Second, WithWindowPrefix(prefix))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Record(ctx, "10.0.0.3", t0); err == nil {
		t.Fatalf("expected error with cancelled context")
	}

	bg := context.Background()
	if n, _ := rdb.HGet(bg, s.activeKey(), "10.0.0.3").Int(); n != 0 {
		t.Fatalf("failed Record must not leave an active connection, got %d", n)
	}
	_ = rdb.Del(bg, s.windowKey("10.0.0.3"), s.activeKey(), s.clientsKey()).Err()
}
