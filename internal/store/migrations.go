package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/model"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id          TEXT    PRIMARY KEY,
    applied_at  INTEGER NOT NULL
);`

// Migrations is the ordered schema history of the local queue. Entries are
// append-only: never edit or reorder an applied migration, add a new one.
var Migrations = []model.Migration{
	{
		ID: "0001_create_token",
		SQL: `
-- Cached access token (at most one row)
CREATE TABLE IF NOT EXISTS token (
    token       TEXT    NOT NULL PRIMARY KEY,
    expires_at  INTEGER NOT NULL
);`,
	},
	{
		ID: "0002_create_data",
		SQL: `
-- Sensor readings queue
CREATE TABLE IF NOT EXISTS data (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    value       REAL    NOT NULL
);`,
	},
	{
		ID: "0003_create_logs",
		SQL: `
-- Diagnostic log (append-only)
CREATE TABLE IF NOT EXISTS logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    message     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs(ts);`,
	},
	{
		ID: "0004_data_add_out_current",
		SQL: `
ALTER TABLE data ADD COLUMN value_out REAL;
ALTER TABLE data ADD COLUMN value_current REAL;`,
	},
	{
		ID: "0005_data_add_synced",
		SQL: `
ALTER TABLE data ADD COLUMN synced INTEGER NOT NULL DEFAULT 0;`,
	},
	{
		ID: "0006_data_pending_index",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_data_ts ON data(ts, id);
CREATE INDEX IF NOT EXISTS idx_data_synced_ts ON data(synced, ts, id);`,
	},
}

// Migrate applies every migration not yet recorded in the ledger, in
// ascending ID order, inside a single transaction that also records each
// applied ID. It returns the IDs applied by this call; an empty result means
// the schema was already current.
//
// A failing script rolls back the whole batch. The schema is then in the
// state it was before the call, and the caller must not continue.
func Migrate(ctx context.Context, db *sql.DB, migrations []model.Migration, now time.Time) ([]string, error) {
	ordered := slices.Clone(migrations)
	slices.SortFunc(ordered, func(a, b model.Migration) int {
		return strings.Compare(a.ID, b.ID)
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i].ID == ordered[i-1].ID {
			return nil, fmt.Errorf("duplicate migration id %q", ordered[i].ID)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("beginning migration", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ledgerSchema); err != nil {
		return nil, storageErr("creating migration ledger", err)
	}

	applied, err := appliedIDs(ctx, tx)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range ordered {
		if applied[m.ID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return nil, storageErr(fmt.Sprintf("applying migration %s", m.ID), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (id, applied_at) VALUES (?, ?)`,
			m.ID, now.UnixNano(),
		); err != nil {
			return nil, storageErr(fmt.Sprintf("recording migration %s", m.ID), err)
		}
		ran = append(ran, m.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("committing migrations", err)
	}
	return ran, nil
}

func appliedIDs(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, storageErr("reading migration ledger", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scanning migration ledger", err)
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("reading migration ledger", err)
	}
	return applied, nil
}
