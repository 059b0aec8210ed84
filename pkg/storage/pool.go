// Package storage implements the persistence adapter (spec.md C3): a
// driver-agnostic connection pool plus the data-movement primitives
// deleteById, scanByColumnIn, replicateSchema, listTables and
// createDatabase (upsert is built and run by graph.Mapper). Grounded on pkg/db/pool.go's HikariCP-style
// wrapper over database/sql, generalized to cover three registered
// drivers instead of one hardcoded DSN.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/errs"
)

// PoolConfig configures a Pool the way pkg/db.PoolConfig configures the
// teacher's HikariCP-style pool.
type PoolConfig struct {
	DSN             string
	DriverName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig mirrors pkg/db.DefaultPoolConfig's HikariCP-like
// defaults.
func DefaultPoolConfig(dsn, driverName string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Pool wraps *sql.DB with the engine operations spec.md C3 names.
type Pool struct {
	db     *sql.DB
	config PoolConfig
	logger corelog.Logger
}

// driverDialect maps storage's three supported drivers to jackc/pgx's
// stdlib adapter name and lib/pq's, leaving mattn/go-sqlite3 untouched;
// "postgres" is accepted as an alias for pgx's stdlib driver name "pgx".
func driverDialect(name string) string {
	switch name {
	case "postgres", "pgx":
		return "pgx"
	case "lib/pq", "postgres-lib-pq":
		return "postgres"
	default:
		return name
	}
}

// NewPool opens and pings a connection pool, failing fast on a bad DSN or
// an unreachable database (spec.md §6 exit code 3 "storage unreachable").
func NewPool(config PoolConfig, logger corelog.Logger) (*Pool, error) {
	if config.DSN == "" {
		return nil, errs.New(errs.CodeConfigurationError, "DSN cannot be empty")
	}
	if config.DriverName == "" {
		return nil, errs.New(errs.CodeConfigurationError, "driver name cannot be empty")
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 25
	}
	if logger == nil {
		logger = corelog.NewDefault()
	}

	db, err := sql.Open(driverDialect(config.DriverName), config.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.CodePersistenceFatal, "open database", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.CodePersistenceFatal, "ping database", err)
	}

	return &Pool{db: db, config: config, logger: logger}, nil
}

// DB returns the underlying *sql.DB, satisfying graph.Execer.
func (p *Pool) DB() *sql.DB { return p.db }

func (p *Pool) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

func (p *Pool) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Pool) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Close releases the pool's connections.
func (p *Pool) Close() error { return p.db.Close() }

// Ping checks connectivity without issuing a query.
func (p *Pool) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Stats exposes database/sql's pool counters for metrics (C3 <-> metrics).
func (p *Pool) Stats() sql.DBStats { return p.db.Stats() }

// CreateDatabase issues a CREATE DATABASE statement against an
// administrative connection — spec.md C3 "createDatabase". No package in
// this module calls it.
func (p *Pool) CreateDatabase(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", name))
	if err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "create database "+name, err)
	}
	return nil
}

// ListTables returns the names of tables currently present, driver-specific
// per information_schema vs. sqlite_master (spec.md C3 "listTables").
func (p *Pool) ListTables(ctx context.Context) ([]string, error) {
	var query string
	switch driverDialect(p.config.DriverName) {
	case "sqlite3":
		query = "SELECT name FROM sqlite_master WHERE type = 'table'"
	default:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'"
	}
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.CodePersistenceTransient, "list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.CodePersistenceTransient, "scan table name", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ReplicateSchema runs ddl against this pool, used to keep the active and
// history databases structurally in sync (spec.md C3 "replicateSchema").
func (p *Pool) ReplicateSchema(ctx context.Context, ddl []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "begin schema replication", err)
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return errs.Wrap(errs.CodePersistenceFatal, "replicate schema statement", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "commit schema replication", err)
	}
	return nil
}

// DeleteByID removes the row identified by id from table, keyed on
// pkColumn (spec.md C3 "deleteById").
func (p *Pool) DeleteByID(ctx context.Context, table, pkColumn string, id interface{}) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, pkColumn, p.placeholder(1))
	_, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return errs.Wrap(errs.CodePersistenceTransient, "delete by id", err)
	}
	return nil
}

// ScanByColumnIn selects every row of table whose column is one of values
// (spec.md C3 "scanByColumnIn" — used by archival's scan-and-archive-finals
// sweep).
func (p *Pool) ScanByColumnIn(ctx context.Context, table, column string, values []interface{}, scanCols []string) (*sql.Rows, error) {
	if len(values) == 0 {
		return nil, errs.New(errs.CodeConfigurationError, "scanByColumnIn requires at least one value")
	}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = p.placeholder(i + 1)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", join(scanCols), table, column, join(placeholders))
	rows, err := p.db.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, errs.Wrap(errs.CodePersistenceTransient, "scan by column in", err)
	}
	return rows, nil
}

// Placeholder returns this pool's dialect-specific bind-parameter marker
// for the given 1-based position ("?" for sqlite3/mysql, "$N" for
// postgres), for callers outside this package that build their own SQL
// (archival's cross-pool copy).
func (p *Pool) Placeholder(position int) string { return p.placeholder(position) }

func (p *Pool) placeholder(position int) string {
	switch driverDialect(p.config.DriverName) {
	case "pgx", "postgres":
		return fmt.Sprintf("$%d", position)
	default:
		return "?"
	}
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
