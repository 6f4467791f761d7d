// Package recorder persists published snapshots to sqlite. It is the durable
// logging collaborator on the consumer side of the snapshot interface and
// runs entirely off the real-time path.
package recorder

import (
	"context"
	"time"

	"github.com/openventio/ventcore/internal/engine"
	"github.com/openventio/ventcore/internal/errors"
	"github.com/openventio/ventcore/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config) (Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// If recording is disabled, return a no-op collector
	if !cfg.Enabled {
		logger.Debug().Msg("Snapshot recording disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to create snapshot repository")
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, snapshot *engine.Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(errors.ErrRecordFailed)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrRecordFailed, ctx.Err())
	default:
		if err := s.repo.Record(snapshot); err != nil {
			return err
		}
	}

	return nil
}

func (s *service) Close() error {
	return s.repo.Close()
}

// No-op implementation
func (*noopCollector) Record(_ context.Context, _ *engine.Snapshot) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}

// Consume pairs the collector with an engine: it paces itself to newly
// published snapshots and records each one, skipping ahead when it falls
// behind. The engine is never blocked by the recorder. Returns when ctx is
// cancelled.
func Consume(ctx context.Context, c Collector, eng *engine.Engine, waitTimeout time.Duration) {
	var lastSeq uint64

	for {
		if ctx.Err() != nil {
			return
		}

		snapshot, err := eng.WaitForNext(waitTimeout)
		if err != nil {
			continue
		}
		if snapshot == nil || snapshot.Seq == lastSeq {
			continue
		}
		lastSeq = snapshot.Seq

		if err := c.Record(ctx, snapshot); err != nil {
			logger.Warn().Err(err).Msg("Failed to record snapshot")
		}
	}
}
