package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LatestSchemaVersion is the schema version a store must reach after
// startup migrations. The embedded schema.sql is the full v9 DDL; the
// migration list below upgrades older brain files in place.
const LatestSchemaVersion = 9

type migration struct {
	version int
	name    string
	up      func(ctx context.Context, tx *sql.Tx) error
}

// Migrations are forward-only and additive. Each runs in its own
// transaction and records itself in schema_version.
var migrations = []migration{
	{1, "base_graph", migrateBaseGraph},
	{2, "synapse_indexes", execAll(
		`CREATE INDEX IF NOT EXISTS idx_synapses_source ON synapses(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_synapses_target ON synapses(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_synapses_pair ON synapses(source_id, target_id)`,
	)},
	{3, "fiber_conductivity", addColumns("fibers",
		column{"conductivity", "REAL NOT NULL DEFAULT 1.0"},
		column{"last_conducted", "TEXT"},
	)},
	{4, "fiber_pathway", addColumns("fibers",
		column{"pathway", "TEXT NOT NULL DEFAULT '[]'"},
	)},
	{5, "neuron_content_hash", migrateContentHash},
	{6, "maturations", execAll(
		`CREATE TABLE IF NOT EXISTS maturations (
			fiber_id TEXT PRIMARY KEY REFERENCES fibers(id) ON DELETE CASCADE,
			stage TEXT NOT NULL DEFAULT 'stm',
			reinforcement_count INTEGER NOT NULL DEFAULT 0,
			reinforcement_days TEXT NOT NULL DEFAULT '[]',
			stage_entered_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_maturations_stage ON maturations(stage)`,
	)},
	{7, "co_activations", execAll(
		`CREATE TABLE IF NOT EXISTS co_activations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			neuron_a TEXT NOT NULL,
			neuron_b TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			CHECK (neuron_a < neuron_b)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coact_pair ON co_activations(neuron_a, neuron_b, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_coact_time ON co_activations(occurred_at)`,
	)},
	{8, "action_events", execAll(
		`CREATE TABLE IF NOT EXISTS action_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			action TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			occurred_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_session ON action_events(session_id, occurred_at)`,
	)},
	{9, "fiber_validity_window", addColumns("fibers",
		column{"time_start", "TEXT"},
		column{"time_end", "TEXT"},
	)},
}

// Migrate brings the database to LatestSchemaVersion. A fresh file gets
// the embedded v9 schema in one shot; an older file replays the pending
// migrations in order.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	fresh := current == 0
	if fresh {
		if ok, err := tableExists(ctx, db, "neurons"); err != nil {
			return err
		} else if ok {
			// Pre-versioning file: replay everything additively.
			fresh = false
		}
	}

	if fresh {
		return bootstrapLatest(ctx, db)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// bootstrapLatest applies the full embedded schema and records every
// migration as applied.
func bootstrapLatest(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func migrateBaseGraph(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS brain (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS neurons (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			canonical_content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_neurons_identity ON neurons(type, canonical_content)`,
		`CREATE TABLE IF NOT EXISTS neuron_states (
			neuron_id TEXT PRIMARY KEY REFERENCES neurons(id) ON DELETE CASCADE,
			activation_level REAL NOT NULL DEFAULT 0,
			access_frequency INTEGER NOT NULL DEFAULT 0,
			last_activated TEXT,
			decay_rate REAL NOT NULL DEFAULT 0.1,
			firing_threshold REAL NOT NULL DEFAULT 0.3,
			refractory_until TEXT,
			refractory_period_ms INTEGER NOT NULL DEFAULT 500,
			homeostatic_target REAL NOT NULL DEFAULT 0.5,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS synapses (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			weight REAL NOT NULL,
			direction TEXT NOT NULL DEFAULT 'uni',
			metadata TEXT NOT NULL DEFAULT '{}',
			reinforced_count INTEGER NOT NULL DEFAULT 0,
			last_activated TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fibers (
			id TEXT PRIMARY KEY,
			anchor_neuron_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			salience REAL NOT NULL DEFAULT 0,
			auto_tags TEXT NOT NULL DEFAULT '[]',
			agent_tags TEXT NOT NULL DEFAULT '[]',
			frequency INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fiber_neurons (
			fiber_id TEXT NOT NULL REFERENCES fibers(id) ON DELETE CASCADE,
			neuron_id TEXT NOT NULL,
			PRIMARY KEY (fiber_id, neuron_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fiber_neurons_neuron ON fiber_neurons(neuron_id)`,
		`CREATE TABLE IF NOT EXISTS fiber_synapses (
			fiber_id TEXT NOT NULL REFERENCES fibers(id) ON DELETE CASCADE,
			synapse_id TEXT NOT NULL,
			PRIMARY KEY (fiber_id, synapse_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateContentHash(ctx context.Context, tx *sql.Tx) error {
	if err := addColumns("neurons", column{"content_hash", "INTEGER"})(ctx, tx); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_neurons_hash ON neurons(content_hash)`)
	return err
}

type column struct {
	name string
	ddl  string
}

// addColumns is the additive ALTER helper: columns already present (a file
// bootstrapped at a later schema) are skipped.
func addColumns(table string, cols ...column) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, col := range cols {
			exists, err := columnExists(ctx, tx, table, col.name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.ddl)
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func execAll(stmts ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, col string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}
