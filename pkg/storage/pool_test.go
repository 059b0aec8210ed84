package storage

import (
	"testing"
	"time"
)

func TestDefaultPoolConfig(t *testing.T) {
	config := DefaultPoolConfig("test-dsn", "sqlite3")

	if config.DSN != "test-dsn" {
		t.Errorf("DSN = %v, want test-dsn", config.DSN)
	}
	if config.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %v, want 25", config.MaxOpenConns)
	}
	if config.MaxIdleConns != 5 {
		t.Errorf("MaxIdleConns = %v, want 5", config.MaxIdleConns)
	}
	if config.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 5m", config.ConnMaxLifetime)
	}
}

func TestNewPoolRejectsEmptyDSN(t *testing.T) {
	_, err := NewPool(PoolConfig{DriverName: "sqlite3"}, nil)
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestNewPoolRejectsEmptyDriver(t *testing.T) {
	_, err := NewPool(PoolConfig{DSN: ":memory:"}, nil)
	if err == nil {
		t.Fatal("expected error for empty driver name")
	}
}

func TestPlaceholderStyleByDriver(t *testing.T) {
	pgPool := &Pool{config: PoolConfig{DriverName: "postgres"}}
	if got := pgPool.placeholder(2); got != "$2" {
		t.Errorf("postgres placeholder(2) = %q, want $2", got)
	}

	sqlitePool := &Pool{config: PoolConfig{DriverName: "sqlite3"}}
	if got := sqlitePool.placeholder(2); got != "?" {
		t.Errorf("sqlite3 placeholder(2) = %q, want ?", got)
	}
}
