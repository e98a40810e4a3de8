// Package persistence is the control plane's durable relational store:
// agents, tasks, task dependencies, pools, webhooks and their delivery
// log, and the append-only audit log.
package persistence

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/002_embeddings.sql
var migration002 string

// DB wraps a pooled sqlite connection with the migration runner. It
// uses the pure-Go modernc.org/sqlite driver rather than cgo's
// mattn/go-sqlite3, so the whole module stays cgo-free.
type DB struct {
	conn *sql.DB
}

// Open creates (or reuses) the sqlite file at path, tunes the
// connection pool, and brings the schema up to date.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// Core pool sized for steady-state load; overflow connections queue
	// rather than error out under a burst.
	conn.SetMaxOpenConns(60)
	conn.SetMaxIdleConns(20)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return db, nil
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	var version int
	err := d.conn.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version < 2 {
		log.Println("[PERSISTENCE] migrating to schema v2: knowledge_entries table")
		if _, err := d.conn.Exec(migration002); err != nil {
			return fmt.Errorf("apply migration 002: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) withTx(fn func(*sql.Tx) error) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
