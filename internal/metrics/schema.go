package metrics

import (
	"database/sql"

	"codeberg.org/mutker/thermobeacon/internal/errors"
	"codeberg.org/mutker/thermobeacon/internal/logger"
)

const (
	SchemaVersion = 1

	// SQL statements derived from schema
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS reports (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp_ms INTEGER NOT NULL CHECK (typeof(timestamp_ms) = 'integer'),
	       reason       TEXT    NOT NULL,
	       seq          INTEGER NOT NULL CHECK (typeof(seq) = 'integer'),
	       count        INTEGER NOT NULL CHECK (count >= 0),
	       mean_c       REAL    NOT NULL,
	       latest_c     REAL    NOT NULL,
	       supply_mv    REAL    NOT NULL,
	       threshold_c  REAL    NOT NULL,
	       alert        INTEGER NOT NULL CHECK (alert IN (0, 1)),
	       published    INTEGER NOT NULL CHECK (published IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS reports_timestamp ON reports (timestamp_ms);`

	insertReportSQL = `
    INSERT INTO reports (
        timestamp_ms, reason, seq, count,
        mean_c, latest_c, supply_mv, threshold_c,
        alert, published
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`

	latestVersionSQL = `SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`

	tableExistsSQL = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`
)

// InitSchema creates the report tables and records the current version.
func InitSchema(db *sql.DB, log logger.Logger) error {
	err := withTx(db, log, func(tx *sql.Tx) error {
		if _, err := tx.Exec(createTablesSQL); err != nil {
			return schemaError(ErrSchemaInitFailed, "create_tables", err)
		}
		if _, err := tx.Exec(insertVersionSQL, SchemaVersion); err != nil {
			return schemaError(ErrSchemaInitFailed, "record_version", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("Report schema initialized")

	return nil
}

// withTx runs fn in a transaction and commits if it succeeds.
func withTx(db *sql.DB, log logger.Logger, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}
	return nil
}

func schemaError(code errors.ErrorCode, phase string, err error) error {
	return errors.New().WithData(code, struct {
		Phase string
		Error string
	}{
		Phase: phase,
		Error: err.Error(),
	})
}

// GetSchemaVersion returns the recorded schema version, zero for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := TableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	err = db.QueryRow(latestVersionSQL).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, schemaError(ErrSchemaValidationFailed, "get_version", err)
	}

	return version, nil
}

func TableExists(db *sql.DB, table string) (bool, error) {
	var exists bool
	if err := db.QueryRow(tableExistsSQL, table).Scan(&exists); err != nil {
		return false, schemaError(ErrSchemaValidationFailed, "table_exists:"+table, err)
	}
	return exists, nil
}
