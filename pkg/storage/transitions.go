package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quadgate/statekeep/pkg/errs"
	"github.com/quadgate/statekeep/pkg/fsm"
)

// TransitionLogTable is the append-only observability table's name
// (spec.md §6 "Transition log table").
const TransitionLogTable = "transition_log"

// RegistryEventTable is the registry lifecycle table's name (spec.md §6
// "Registry event table").
const RegistryEventTable = "registry_event"

// CreateTransitionLogDDL returns the statements needed to create the
// transition log and registry event tables, for ReplicateSchema or a
// first-run migration. Inserts are append-only; (machine_id, version) is
// unique per spec.md §6.
func CreateTransitionLogDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + TransitionLogTable + ` (
			machine_id TEXT NOT NULL,
			machine_type TEXT NOT NULL,
			version INTEGER NOT NULL,
			run_id TEXT,
			correlation_id TEXT,
			debug_session_id TEXT,
			state_before TEXT NOT NULL,
			state_after TEXT NOT NULL,
			event_type TEXT NOT NULL,
			transition_duration_ns INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			machine_online_status INTEGER NOT NULL,
			state_offline_status INTEGER NOT NULL,
			registry_status TEXT,
			idempotency_key TEXT NOT NULL,
			event_payload_json BLOB,
			event_parameters_json BLOB,
			context_before_json BLOB,
			context_after_json BLOB,
			PRIMARY KEY (machine_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + RegistryEventTable + ` (
			machine_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			reason TEXT,
			event_timestamp INTEGER NOT NULL
		)`,
	}
}

// TransitionStore appends fsm.TransitionRecord rows — the write side C4's
// batch logger flushes into.
type TransitionStore struct {
	pool *Pool
}

// NewTransitionStore wraps pool for transition-log writes.
func NewTransitionStore(pool *Pool) *TransitionStore {
	return &TransitionStore{pool: pool}
}

// InsertBatch writes records in one transaction — the unit C4's batch
// logger flushes at (spec.md C4 "coalesce per-transition history rows into
// batched writes").
func (s *TransitionStore) InsertBatch(ctx context.Context, records []fsm.TransitionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "begin transition batch", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (
			machine_id, machine_type, version, run_id, correlation_id, debug_session_id,
			state_before, state_after, event_type, transition_duration_ns, timestamp,
			machine_online_status, state_offline_status, registry_status, idempotency_key,
			event_payload_json, event_parameters_json, context_before_json, context_after_json
		) VALUES (%s)
		ON CONFLICT (machine_id, version) DO NOTHING`,
		TransitionLogTable, placeholderList(s.pool, 19),
	)
	for _, r := range records {
		_, err := tx.ExecContext(ctx, query,
			r.MachineID, r.MachineType, r.Version, r.RunID, r.CorrelationID, r.DebugSessionID,
			string(r.StateBefore), string(r.StateAfter), string(r.EventType), r.TransitionDuration.Nanoseconds(), r.Timestamp.UnixMilli(),
			r.MachineOnlineStatus, r.StateOfflineStatus, r.RegistryStatus, r.IdempotencyKey,
			r.EventPayloadJSON, r.EventParametersJSON, r.ContextBeforeJSON, r.ContextAfterJSON,
		)
		if err != nil {
			tx.Rollback()
			return errs.Wrap(errs.CodePersistenceTransient, "insert transition record", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "commit transition batch", err)
	}
	return nil
}

// RegistryEventRow mirrors spec.md §6's registry event table.
type RegistryEventRow struct {
	MachineID string
	EventType string // CREATE, REMOVE, REHYDRATE, EVICT, ERROR
	Reason    string
	Timestamp int64
}

// InsertRegistryEvents writes registry lifecycle rows in one transaction —
// C4's second batch logger.
func (s *TransitionStore) InsertRegistryEvents(ctx context.Context, rows []RegistryEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "begin registry event batch", err)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (machine_id, event_type, reason, event_timestamp) VALUES (%s)",
		RegistryEventTable, placeholderList(s.pool, 4),
	)
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row.MachineID, row.EventType, row.Reason, row.Timestamp); err != nil {
			tx.Rollback()
			return errs.Wrap(errs.CodePersistenceTransient, "insert registry event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "commit registry event batch", err)
	}
	return nil
}

// ScanFinalCandidates returns rows from table whose current_state column is
// one of finalStates — the query archival's startup sweep runs (spec.md C5
// "scan active DB for already-final machines").
func (s *TransitionStore) ScanFinalCandidates(ctx context.Context, table string, finalStates []string) (*sql.Rows, error) {
	values := make([]interface{}, len(finalStates))
	for i, v := range finalStates {
		values[i] = v
	}
	return s.pool.ScanByColumnIn(ctx, table, "current_state", values, []string{"id", "current_state", "created_at"})
}

func placeholderList(p *Pool, n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ", "
		}
		out += p.placeholder(i)
	}
	return out
}
