// Package archival implements history archival (spec.md C5): on machine
// completion, move the full entity graph from the active database to the
// history database; on startup, scan the active database for already-final
// machines and move them; enforce retention on the history database.
// Grounded on pkg/db's pool-pair pattern (one Pool per database, the same
// shape the teacher uses for any multi-tenant deployment) and on
// pkg/appendlog's copy-then-seal discipline for move semantics.
package archival

import (
	"context"
	"fmt"
	"time"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/errs"
	"github.com/quadgate/statekeep/pkg/graph"
	"github.com/quadgate/statekeep/pkg/storage"
)

// Config wires the active/history pools, the mapper that knows every
// entity type's schema, and the tables to sweep.
type Config struct {
	Active        *storage.Pool
	History       *storage.Pool
	Mapper        *graph.Mapper
	EntityTypes   []string // table-owning entity types to move/sweep
	FinalStates   []string
	RetentionDays int
	Logger        corelog.Logger
}

// Archiver moves completed machines' rows from active to history, and
// enforces retention on history.
type Archiver struct {
	cfg    Config
	logger corelog.Logger
}

// New constructs an Archiver.
func New(cfg Config) *Archiver {
	if cfg.Logger == nil {
		cfg.Logger = corelog.NewDefault()
	}
	return &Archiver{cfg: cfg, logger: cfg.Logger}
}

// Archive moves machineID's full entity graph from active to history —
// copy then delete, so a crash mid-move leaves the row duplicated rather
// than lost; ArchivalFailure (spec.md §7) leaves active rows in place for
// the next pass to retry. The history insert is ON CONFLICT (pkColumn)
// DO NOTHING: a history row already present under the same primary key is
// kept as it is, and versions are not compared.
func (a *Archiver) Archive(ctx context.Context, entityType, table, pkColumn, machineID string) error {
	row, err := a.cfg.Mapper.LoadGraph(ctx, a.cfg.Active, entityType, machineID)
	if err != nil {
		return errs.Wrap(errs.CodeArchivalFailure, fmt.Sprintf("load %s %s for archival", entityType, machineID), err)
	}

	if err := copyRow(ctx, a.cfg.History, pkColumn, table, row); err != nil {
		return errs.Wrap(errs.CodeArchivalFailure, fmt.Sprintf("copy %s %s to history", entityType, machineID), err)
	}

	if err := a.cfg.Active.DeleteByID(ctx, table, pkColumn, machineID); err != nil {
		return errs.Wrap(errs.CodeArchivalFailure, fmt.Sprintf("delete %s %s from active", entityType, machineID), err)
	}
	return nil
}

func copyRow(ctx context.Context, history *storage.Pool, pkColumn, table string, row map[string]interface{}) error {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	args := make([]interface{}, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		args[i] = row[c]
		placeholders[i] = history.Placeholder(i + 1)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, join(cols), join(placeholders), pkColumn,
	)
	_, err := history.ExecContext(ctx, query, args...)
	return err
}

func join(parts []string) string {
	out := ""
	for i, s := range parts {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// ScanAndArchiveFinals runs at startup: it finds active-DB rows whose
// current_state is one of FinalStates and moves each one (spec.md C5 "on
// startup: scan active DB for already-final machines and move them").
func (a *Archiver) ScanAndArchiveFinals(ctx context.Context, entityType, table, pkColumn string) (int, error) {
	store := storage.NewTransitionStore(a.cfg.Active)
	rows, err := store.ScanFinalCandidates(ctx, table, a.cfg.FinalStates)
	if err != nil {
		return 0, errs.Wrap(errs.CodeArchivalFailure, "scan final candidates", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, state string
		var createdAt int64
		if err := rows.Scan(&id, &state, &createdAt); err != nil {
			return 0, errs.Wrap(errs.CodeArchivalFailure, "scan final candidate row", err)
		}
		ids = append(ids, id)
	}

	moved := 0
	for _, id := range ids {
		if err := a.Archive(ctx, entityType, table, pkColumn, id); err != nil {
			a.logger.Errorf("archival: failed to move %s %s: %v", entityType, id, err)
			continue
		}
		moved++
	}
	return moved, nil
}

// EnforceRetention deletes history rows older than RetentionDays (spec.md
// §8 testable property 7: "no history row with createdAt < now -
// retentionDays survives a retention pass").
func (a *Archiver) EnforceRetention(ctx context.Context, table, createdAtColumn string) (int64, error) {
	if a.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -a.cfg.RetentionDays).UnixMilli()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < %s", table, createdAtColumn, a.cfg.History.Placeholder(1))
	result, err := a.cfg.History.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.CodePersistenceTransient, "enforce retention", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
