// Package startup implements the pre-serve probe spec.md §6 requires of
// any CLI wrapper: reachability of both storage pools and the expected
// table shape, so the process fails fast with the right exit code
// (0/2/3/4) instead of accepting events against a half-provisioned
// database. Grounded on the teacher's cmd/enterprise/main.go handleReady
// readiness check, generalized from an HTTP probe into a startup gate.
package startup

import (
	"context"
	"fmt"

	"github.com/quadgate/statekeep/pkg/storage"
)

// Reason classifies why Check failed, so main can map it onto spec.md
// §6's exit codes without string-matching an error message.
type Reason int

const (
	// OK: the probe passed.
	OK Reason = iota
	// Unreachable: a pool could not be pinged (exit code 3).
	Unreachable
	// SchemaMismatch: a pool is reachable but missing an expected table
	// (exit code 4).
	SchemaMismatch
)

// Result is what Check returns; Err is nil only when Reason == OK.
type Result struct {
	Reason Reason
	Err    error
}

// ExitCode maps a Result onto spec.md §6's CLI exit codes. Callers should
// only consult this when Reason != OK; config errors (exit 2) are caught
// earlier by config.RuntimeConfig.Validate and never reach Check.
func (r Result) ExitCode() int {
	switch r.Reason {
	case Unreachable:
		return 3
	case SchemaMismatch:
		return 4
	default:
		return 0
	}
}

// Check pings active and history and confirms every table in
// expectedTables exists in both, per the ambient schema every
// RegisterMachine call replicates.
func Check(ctx context.Context, active, history *storage.Pool, expectedTables []string) Result {
	if err := active.Ping(ctx); err != nil {
		return Result{Reason: Unreachable, Err: fmt.Errorf("active storage unreachable: %w", err)}
	}
	if err := history.Ping(ctx); err != nil {
		return Result{Reason: Unreachable, Err: fmt.Errorf("history storage unreachable: %w", err)}
	}

	for _, pool := range []*storage.Pool{active, history} {
		tables, err := pool.ListTables(ctx)
		if err != nil {
			return Result{Reason: Unreachable, Err: fmt.Errorf("list tables: %w", err)}
		}
		have := make(map[string]bool, len(tables))
		for _, t := range tables {
			have[t] = true
		}
		for _, want := range expectedTables {
			if !have[want] {
				return Result{Reason: SchemaMismatch, Err: fmt.Errorf("expected table %q not found", want)}
			}
		}
	}

	return Result{Reason: OK}
}
