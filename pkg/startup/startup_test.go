package startup

import (
	"context"
	"testing"

	"github.com/quadgate/statekeep/pkg/storage"
)

func openPool(t *testing.T, name string) *storage.Pool {
	t.Helper()
	p, err := storage.NewPool(storage.DefaultPoolConfig(
		"file:startup-"+name+"?mode=memory&cache=shared", "sqlite3"), nil)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCheckOK(t *testing.T) {
	active := openPool(t, "ok-active")
	history := openPool(t, "ok-history")
	ddl := []string{`CREATE TABLE IF NOT EXISTS calls (id TEXT PRIMARY KEY)`}
	if err := active.ReplicateSchema(context.Background(), ddl); err != nil {
		t.Fatalf("replicate active: %v", err)
	}
	if err := history.ReplicateSchema(context.Background(), ddl); err != nil {
		t.Fatalf("replicate history: %v", err)
	}

	res := Check(context.Background(), active, history, []string{"calls"})
	if res.Reason != OK || res.Err != nil {
		t.Fatalf("Check = %+v, want OK", res)
	}
	if res.ExitCode() != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode())
	}
}

func TestCheckSchemaMismatch(t *testing.T) {
	active := openPool(t, "mismatch-active")
	history := openPool(t, "mismatch-history")

	res := Check(context.Background(), active, history, []string{"calls"})
	if res.Reason != SchemaMismatch {
		t.Fatalf("Reason = %v, want SchemaMismatch", res.Reason)
	}
	if res.ExitCode() != 4 {
		t.Fatalf("ExitCode = %d, want 4", res.ExitCode())
	}
}

func TestCheckUnreachable(t *testing.T) {
	active := openPool(t, "unreachable-active")
	history := openPool(t, "unreachable-history")
	active.Close()

	res := Check(context.Background(), active, history, nil)
	if res.Reason != Unreachable {
		t.Fatalf("Reason = %v, want Unreachable", res.Reason)
	}
	if res.ExitCode() != 3 {
		t.Fatalf("ExitCode = %d, want 3", res.ExitCode())
	}
}
