package storage

import (
	"context"
	"testing"
	"time"

	"github.com/quadgate/statekeep/pkg/fsm"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := NewPool(PoolConfig{DSN: "file::memory:?cache=shared", DriverName: "sqlite3"}, nil)
	if err != nil {
		t.Fatalf("open test pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestTransitionStoreInsertBatchAndDedup(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	if err := pool.ReplicateSchema(ctx, CreateTransitionLogDDL()); err != nil {
		t.Fatalf("replicate schema: %v", err)
	}

	store := NewTransitionStore(pool)
	rec := fsm.TransitionRecord{
		MachineID:           "order-1",
		MachineType:         "order",
		Version:             1,
		StateBefore:         "created",
		StateAfter:          "paid",
		EventType:           "pay",
		Timestamp:           time.Now(),
		MachineOnlineStatus: true,
		IdempotencyKey:      "abc123",
	}
	if err := store.InsertBatch(ctx, []fsm.TransitionRecord{rec}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	// Re-inserting the same (machine_id, version) must be a no-op, not an error
	// (spec.md §6: "(machine_id, version) is unique").
	if err := store.InsertBatch(ctx, []fsm.TransitionRecord{rec}); err != nil {
		t.Fatalf("insert duplicate batch: %v", err)
	}

	tables, err := pool.ListTables(ctx)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	found := false
	for _, name := range tables {
		if name == TransitionLogTable {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s among tables, got %v", TransitionLogTable, tables)
	}
}

func TestInsertRegistryEvents(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	if err := pool.ReplicateSchema(ctx, CreateTransitionLogDDL()); err != nil {
		t.Fatalf("replicate schema: %v", err)
	}
	store := NewTransitionStore(pool)
	rows := []RegistryEventRow{
		{MachineID: "order-1", EventType: "CREATE", Timestamp: time.Now().UnixMilli()},
	}
	if err := store.InsertRegistryEvents(ctx, rows); err != nil {
		t.Fatalf("insert registry events: %v", err)
	}
}
