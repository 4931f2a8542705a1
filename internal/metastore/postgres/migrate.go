package postgres

import (
	"database/sql"

	_ "github.com/lib/pq" // register driver for the one-shot bootstrap connection

	"github.com/pkg/errors"
)

// bootstrapSchema creates the three tables this package owns. Bootstrap
// opens a short-lived database/sql connection run once at startup,
// separate from the pooled pgx connection used for every other query in
// this package.
const bootstrapSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
	task_id              TEXT PRIMARY KEY,
	last_sequence_value  TEXT,
	last_run_at          TIMESTAMPTZ,
	last_row_count       BIGINT,
	in_progress          BOOLEAN NOT NULL DEFAULT false,
	cancel_requested     BOOLEAN NOT NULL DEFAULT false,
	progress_current     BIGINT NOT NULL DEFAULT 0,
	progress_total       BIGINT NOT NULL DEFAULT 0,
	progress_phase       TEXT NOT NULL DEFAULT '',
	started_at           TIMESTAMPTZ,
	error                TEXT NOT NULL DEFAULT '',
	last_embedded_path   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_run (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL,
	datasource_id TEXT NOT NULL,
	mode          TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	row_count     BIGINT,
	error         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sync_run_task_id_started_at_idx ON sync_run (task_id, started_at DESC);

CREATE TABLE IF NOT EXISTS sync_lock (
	group_key  TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Bootstrap creates sync_state, sync_run, and sync_lock if they don't
// already exist. It opens its own short-lived plain database/sql
// connection for this one-time DDL, separate from the pooled connection
// used for steady-state traffic. Datasource and sync_task are created
// and owned externally and are never touched here.
func Bootstrap(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return errors.Wrap(err, "metastore: open bootstrap connection")
	}
	defer db.Close()

	if _, err := db.Exec(bootstrapSchema); err != nil {
		return errors.Wrap(err, "metastore: apply bootstrap schema")
	}
	return nil
}
