// Package sensor provides the sample source implementations the engine polls
// each tick: simulated channels backed by the physics model and replay
// channels cycling recorded series.
package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/errors"
	"github.com/openventio/ventcore/internal/sim"
)

// Simulated reads one quantity from the lung model, optionally with additive
// measurement noise.
type Simulated struct {
	name  string
	read  func() float64
	noise float64
	rng   *rand.Rand
	mu    sync.Mutex
}

// NewSimulated wires a named channel to one of the lung model's quantities.
func NewSimulated(name string, lung *sim.Lung, noise float64, seed int64) (*Simulated, error) {
	errFactory := errors.New()

	var read func() float64
	switch name {
	case "pressure":
		read = lung.Pressure
	case "volume":
		read = lung.Volume
	case "flow_in":
		read = lung.FlowIn
	case "flow_out":
		read = lung.FlowOut
	case "fio2":
		read = lung.FiO2
	default:
		return nil, errFactory.WithData(errors.ErrUnknownSource, name)
	}

	return &Simulated{
		name:  name,
		read:  read,
		noise: noise,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

func (s *Simulated) Name() string {
	return s.name
}

func (s *Simulated) Poll(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{Time: time.Now()}, errors.New().Wrap(errors.ErrSensorTimeout, err)
	}

	value := s.read()
	if s.noise > 0 {
		s.mu.Lock()
		value += s.rng.NormFloat64() * s.noise
		s.mu.Unlock()
	}

	return Reading{Value: value, Time: time.Now(), Valid: true}, nil
}

// Replay cycles through a recorded series, one value per poll.
type Replay struct {
	name   string
	series []float64
	mu     sync.Mutex
	next   int
}

// NewReplay creates a replay source over a recorded series.
func NewReplay(name string, series []float64) (*Replay, error) {
	if len(series) == 0 {
		return nil, errors.New().WithData(errors.ErrUnknownSource, name+": empty replay series")
	}

	return &Replay{name: name, series: series}, nil
}

func (r *Replay) Name() string {
	return r.name
}

func (r *Replay) Poll(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{Time: time.Now()}, errors.New().Wrap(errors.ErrSensorTimeout, err)
	}

	r.mu.Lock()
	value := r.series[r.next]
	r.next = (r.next + 1) % len(r.series)
	r.mu.Unlock()

	return Reading{Value: value, Time: time.Now(), Valid: true}, nil
}

// FromConfig builds the configured sources against the given lung model.
// Source bindings are resolved once here, never per tick.
func FromConfig(channels []config.Channel, lung *sim.Lung, seed int64) ([]Source, error) {
	errFactory := errors.New()

	sources := make([]Source, 0, len(channels))
	for i, ch := range channels {
		switch ch.Source {
		case "simulated":
			src, err := NewSimulated(ch.Name, lung, ch.Noise, seed+int64(i))
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		case "replay":
			series, err := loadSeries(ch.Replay)
			if err != nil {
				return nil, err
			}
			src, err := NewReplay(ch.Name, series)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		default:
			return nil, errFactory.WithData(errors.ErrUnknownSource, ch.Name+": "+ch.Source)
		}
	}

	return sources, nil
}
