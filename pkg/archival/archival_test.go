package archival

import (
	"context"
	"testing"
	"time"

	"github.com/quadgate/statekeep/pkg/graph"
	"github.com/quadgate/statekeep/pkg/storage"
)

const orderTable = "archival_orders"

func openPool(t *testing.T, dsn string) *storage.Pool {
	t.Helper()
	p, err := storage.NewPool(storage.DefaultPoolConfig(dsn, "sqlite3"), nil)
	if err != nil {
		t.Fatalf("open pool %s: %v", dsn, err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func newTestMapper() *graph.Mapper {
	m := graph.NewMapper("?")
	m.RegisterSchema("order", graph.TableSchema{
		Table: orderTable,
		Columns: []graph.Column{
			{Name: "id", GoField: "ID", PrimaryKey: true},
			{Name: "current_state", GoField: "State"},
			{Name: "created_at", GoField: "CreatedAt"},
		},
	})
	return m
}

func createOrderTable(t *testing.T, p *storage.Pool) {
	t.Helper()
	err := p.ReplicateSchema(context.Background(), []string{
		`CREATE TABLE IF NOT EXISTS ` + orderTable + ` (
			id TEXT PRIMARY KEY,
			current_state TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func insertOrder(t *testing.T, p *storage.Pool, id, state string, createdAt int64) {
	t.Helper()
	_, err := p.ExecContext(context.Background(),
		"INSERT INTO "+orderTable+" (id, current_state, created_at) VALUES (?, ?, ?)", id, state, createdAt)
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
}

func countRows(t *testing.T, p *storage.Pool, table string) int {
	t.Helper()
	row := p.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table)
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestArchiveMovesRowFromActiveToHistory(t *testing.T) {
	active := openPool(t, "file:archival_active1?mode=memory&cache=shared")
	history := openPool(t, "file:archival_history1?mode=memory&cache=shared")
	createOrderTable(t, active)
	createOrderTable(t, history)
	insertOrder(t, active, "ord-1", "paid", time.Now().UnixMilli())

	a := New(Config{Active: active, History: history, Mapper: newTestMapper()})
	if err := a.Archive(context.Background(), "order", orderTable, "id", "ord-1"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	if n := countRows(t, active, orderTable); n != 0 {
		t.Fatalf("active rows = %d, want 0", n)
	}
	if n := countRows(t, history, orderTable); n != 1 {
		t.Fatalf("history rows = %d, want 1", n)
	}
}

func TestScanAndArchiveFinalsMovesOnlyFinalRows(t *testing.T) {
	active := openPool(t, "file:archival_active2?mode=memory&cache=shared")
	history := openPool(t, "file:archival_history2?mode=memory&cache=shared")
	createOrderTable(t, active)
	createOrderTable(t, history)
	insertOrder(t, active, "ord-final", "shipped", time.Now().UnixMilli())
	insertOrder(t, active, "ord-live", "created", time.Now().UnixMilli())

	a := New(Config{
		Active: active, History: history, Mapper: newTestMapper(),
		FinalStates: []string{"shipped"},
	})
	moved, err := a.ScanAndArchiveFinals(context.Background(), "order", orderTable, "id")
	if err != nil {
		t.Fatalf("scan and archive: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	if n := countRows(t, active, orderTable); n != 1 {
		t.Fatalf("active rows = %d, want 1 (only the live order left)", n)
	}
	if n := countRows(t, history, orderTable); n != 1 {
		t.Fatalf("history rows = %d, want 1", n)
	}
}

func TestEnforceRetentionDeletesOldRowsOnly(t *testing.T) {
	history := openPool(t, "file:archival_history3?mode=memory&cache=shared")
	createOrderTable(t, history)
	old := time.Now().AddDate(0, 0, -10).UnixMilli()
	recent := time.Now().UnixMilli()
	insertOrder(t, history, "ord-old", "shipped", old)
	insertOrder(t, history, "ord-recent", "shipped", recent)

	a := New(Config{History: history, Mapper: newTestMapper(), RetentionDays: 5})
	affected, err := a.EnforceRetention(context.Background(), orderTable, "created_at")
	if err != nil {
		t.Fatalf("enforce retention: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}
	if n := countRows(t, history, orderTable); n != 1 {
		t.Fatalf("history rows = %d, want 1 (only the recent order left)", n)
	}
}

func TestEnforceRetentionNoopWhenDisabled(t *testing.T) {
	history := openPool(t, "file:archival_history4?mode=memory&cache=shared")
	createOrderTable(t, history)
	insertOrder(t, history, "ord-1", "shipped", time.Now().AddDate(0, 0, -1000).UnixMilli())

	a := New(Config{History: history, Mapper: newTestMapper(), RetentionDays: 0})
	affected, err := a.EnforceRetention(context.Background(), orderTable, "created_at")
	if err != nil {
		t.Fatalf("enforce retention: %v", err)
	}
	if affected != 0 {
		t.Fatalf("affected = %d, want 0 when retention disabled", affected)
	}
}
