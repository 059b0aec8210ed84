// Package graph implements the entity-context graph mapper (spec.md C2):
// it maps a machine's persisting entity and its related objects onto a
// relational schema, and back, without resorting to reflection-driven
// annotation scanning. Grounded on the teacher's pkg/db connection-pool
// pattern for the SQL execution shape, generalized per spec.md §9's
// redesign flag against annotation-driven sharding: callers register an
// explicit TableSchema per entity type instead of relying on struct tags
// discovered by reflection.
package graph

import (
	"context"
	"database/sql"
	"fmt"
)

// Execer is the minimal SQL surface graph needs. *sql.DB, *sql.Tx and this
// repo's storage.Pool all satisfy it — graph never imports storage.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Column describes one mapped field.
type Column struct {
	Name       string
	GoField    string
	PrimaryKey bool
}

// TableSchema is the explicit, hand-declared mapping for one entity type —
// the replacement for reflection-driven annotation scanning (spec.md §9).
type TableSchema struct {
	Table   string
	Columns []Column
}

// PrimaryKeyColumn returns the schema's primary key column name, or "" if
// none is declared.
func (s TableSchema) PrimaryKeyColumn() string {
	for _, c := range s.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}

func (s TableSchema) columnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// snapshotExtractor turns an entity value into a column-name -> value map
// for persistence, replacing the reflection-based snapshot enrichment
// spec.md §9 flags for removal. Registered once per entity type name via
// RegisterExtractor.
type snapshotExtractor func(entity interface{}) (map[string]interface{}, error)

// Mapper owns the registered schemas and extractors for every entity type
// a ContextGraph may contain.
type Mapper struct {
	schemas     map[string]TableSchema
	extractors  map[string]snapshotExtractor
	placeholder func(position int) string
}

// NewMapper constructs a Mapper. placeholderStyle selects the parameter
// syntax of the target driver: "?" for sqlite3/mysql, "$" for pgx/lib/pq.
func NewMapper(placeholderStyle string) *Mapper {
	ph := func(i int) string { return "?" }
	if placeholderStyle == "$" {
		ph = func(i int) string { return fmt.Sprintf("$%d", i) }
	}
	return &Mapper{
		schemas:     make(map[string]TableSchema),
		extractors:  make(map[string]snapshotExtractor),
		placeholder: ph,
	}
}

// RegisterSchema declares entityType's table layout.
func (m *Mapper) RegisterSchema(entityType string, schema TableSchema) {
	m.schemas[entityType] = schema
}

// RegisterExtractor declares how to snapshot entityType's Go value into a
// column map.
func (m *Mapper) RegisterExtractor(entityType string, fn func(entity interface{}) (map[string]interface{}, error)) {
	m.extractors[entityType] = fn
}

// Graph is one machine's persisting entity plus whatever related context
// objects its definition declares (spec.md §3.1 ContextGraph).
type Graph struct {
	MachineID string
	Root      Node
	Related   []Node
}

// Snapshot pairs a persisting entity with its owning machine's current
// state name. Callers that want a "current_state" column populated wrap
// their entity in a Snapshot before building a Node; a registered
// extractor that cares about state type-asserts its input to Snapshot,
// falling back to the raw entity for callers that don't.
type Snapshot struct {
	Entity interface{}
	State  string
}

// Node pairs an entity value with the entity-type name its schema and
// extractor are registered under.
type Node struct {
	EntityType string
	Entity     interface{}
}

// PersistGraph upserts every node in g using its registered schema and
// extractor (spec.md C2 "persistGraph").
func (m *Mapper) PersistGraph(ctx context.Context, ex Execer, g Graph) error {
	nodes := append([]Node{g.Root}, g.Related...)
	for _, n := range nodes {
		if err := m.persistNode(ctx, ex, g.MachineID, n); err != nil {
			return fmt.Errorf("persist %s for machine %s: %w", n.EntityType, g.MachineID, err)
		}
	}
	return nil
}

func (m *Mapper) persistNode(ctx context.Context, ex Execer, machineID string, n Node) error {
	schema, ok := m.schemas[n.EntityType]
	if !ok {
		return fmt.Errorf("no schema registered for entity type %q", n.EntityType)
	}
	extract, ok := m.extractors[n.EntityType]
	if !ok {
		return fmt.Errorf("no extractor registered for entity type %q", n.EntityType)
	}
	values, err := extract(n.Entity)
	if err != nil {
		return err
	}
	return m.upsert(ctx, ex, schema, values)
}

// upsert performs an insert-or-replace keyed on the schema's primary key
// (spec.md C3 "upsert" — graph builds the statement itself and runs it
// through Execer).
func (m *Mapper) upsert(ctx context.Context, ex Execer, schema TableSchema, values map[string]interface{}) error {
	pk := schema.PrimaryKeyColumn()
	if pk == "" {
		return fmt.Errorf("table %s: no primary key column declared", schema.Table)
	}
	cols := schema.columnNames()
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	assignments := make([]string, 0, len(cols))
	for i, c := range cols {
		placeholders[i] = m.placeholder(i + 1)
		args[i] = values[c]
		if c != pk {
			assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		schema.Table, join(cols), join(placeholders), pk, join(assignments),
	)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// LoadGraph reads back g's root entity by machineID, and fails if the row
// is absent (spec.md C2 "loadGraph").
func (m *Mapper) LoadGraph(ctx context.Context, ex Execer, entityType, machineID string) (map[string]interface{}, error) {
	schema, ok := m.schemas[entityType]
	if !ok {
		return nil, fmt.Errorf("no schema registered for entity type %q", entityType)
	}
	pk := schema.PrimaryKeyColumn()
	cols := schema.columnNames()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", join(cols), schema.Table, pk, m.placeholder(1))
	row := ex.QueryRowContext(ctx, query, machineID)

	dest := make([]interface{}, len(cols))
	scanTargets := make([]interface{}, len(cols))
	for i := range dest {
		scanTargets[i] = &dest[i]
	}
	if err := row.Scan(scanTargets...); err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		result[c] = dest[i]
	}
	return result, nil
}

// ValidateConsistency checks that every related node's schema declares a
// primary key, catching a misconfigured definition at startup rather than
// at the first failed write (spec.md C2 "validateConsistency").
func (m *Mapper) ValidateConsistency(entityTypes []string) error {
	for _, t := range entityTypes {
		schema, ok := m.schemas[t]
		if !ok {
			return fmt.Errorf("entity type %q has no registered schema", t)
		}
		if schema.PrimaryKeyColumn() == "" {
			return fmt.Errorf("entity type %q: table %s declares no primary key column", t, schema.Table)
		}
		if _, ok := m.extractors[t]; !ok {
			return fmt.Errorf("entity type %q has no registered snapshot extractor", t)
		}
	}
	return nil
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
