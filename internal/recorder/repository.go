package recorder

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openventio/ventcore/internal/engine"
	"github.com/openventio/ventcore/internal/errors"
	"github.com/openventio/ventcore/internal/logger"
)

type repository struct {
	db            *sql.DB
	cfg           Config
	mu            sync.Mutex
	buffer        []*engine.Snapshot
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.WithData(errors.ErrInitRecorder, "empty database path")
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitRecorder, err)
	}

	// Open database with specific pragmas for better performance and safety
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitRecorder, err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if version == 0 {
		if err := InitSchema(db); err != nil {
			db.Close()
			return nil, err
		}
	} else if version != SchemaVersion {
		db.Close()
		return nil, errFactory.WithData(errors.ErrInitRecorder, version)
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Snapshot recorder initialized")

	repo := &repository{
		db:            db,
		cfg:           cfg,
		buffer:        make([]*engine.Snapshot, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(snapshot *engine.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, snapshot)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Close() error {
	errFactory := errors.New()

	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	if r.flushTicker == nil {
		r.mu.Lock()
		r.flush()
		r.mu.Unlock()
	}

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(errors.ErrCloseRecorder, err)
	}

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(errors.ErrCloseRecorder, err)
	}

	logger.Info().Msg("Snapshot recorder closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			r.flush()
			r.mu.Unlock()
			return
		}
	}
}

func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(errors.ErrRecordFailed, err)
	}

	snapStmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		rollback(tx)
		return errFactory.Wrap(errors.ErrRecordFailed, err)
	}
	defer snapStmt.Close()

	sampleStmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		rollback(tx)
		return errFactory.Wrap(errors.ErrRecordFailed, err)
	}
	defer sampleStmt.Close()

	for _, snapshot := range r.buffer {
		if _, err := snapStmt.Exec(
			int64(snapshot.Seq),
			snapshot.Time.Unix(),
			snapshot.State.String(),
			snapshot.Command,
			snapshot.Setpoint,
			int64(len(snapshot.Alarms)),
			int64(snapshot.Counters.Ticks),
			int64(snapshot.Counters.Overruns),
			int64(snapshot.Counters.SensorInvalid),
		); err != nil {
			rollback(tx)
			return errFactory.Wrap(errors.ErrRecordFailed, err)
		}

		for channel, sample := range snapshot.Latest {
			if _, err := sampleStmt.Exec(
				int64(snapshot.Seq),
				channel,
				sample.Value,
				int64(boolToInt(sample.Valid)),
			); err != nil {
				rollback(tx)
				return errFactory.Wrap(errors.ErrRecordFailed, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(errors.ErrRecordFailed, err)
	}

	logger.Debug().Int("records", len(r.buffer)).Msg("Flushed snapshots to database")
	r.buffer = r.buffer[:0]

	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error().Err(err).Msg("Failed to roll back transaction")
	}
}
