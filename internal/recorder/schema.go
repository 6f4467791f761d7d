package recorder

import (
	"database/sql"

	"github.com/openventio/ventcore/internal/errors"
	"github.com/openventio/ventcore/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       seq            INTEGER PRIMARY KEY,
	       timestamp      INTEGER NOT NULL,
	       state          TEXT NOT NULL,
	       command        REAL NOT NULL,
	       setpoint       REAL NOT NULL,
	       active_alarms  INTEGER NOT NULL,
	       ticks          INTEGER NOT NULL,
	       overruns       INTEGER NOT NULL,
	       sensor_invalid INTEGER NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshot_samples (
	       seq     INTEGER NOT NULL,
	       channel TEXT NOT NULL,
	       value   REAL NOT NULL,
	       valid   INTEGER NOT NULL CHECK (valid IN (0, 1)),
	       PRIMARY KEY (seq, channel)
	   );`

	insertSnapshotSQL = `
    INSERT INTO snapshots (
        seq, timestamp, state, command, setpoint,
        active_alarms, ticks, overruns, sensor_invalid
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSampleSQL = `
    INSERT INTO snapshot_samples (seq, channel, value, valid)
    VALUES (?, ?, ?, ?)`
)

// InitSchema creates the database schema with the current version
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitRecorder, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(errors.ErrInitRecorder, err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.Wrap(errors.ErrInitRecorder, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(errors.ErrInitRecorder, err)
	}
	committed = true

	logger.Info().Int("version", SchemaVersion).Msg("Recorder schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 when uninitialized
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInitRecorder, err)
	}

	return version, nil
}

func tableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.Wrap(errors.ErrInitRecorder, err)
	}
	return exists, nil
}
