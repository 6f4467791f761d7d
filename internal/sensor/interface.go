package sensor

import (
	"context"
	"time"
)

// Reading is one polled sensor value. Valid is false when the source could
// not produce a trustworthy reading this tick.
type Reading struct {
	Value float64
	Time  time.Time
	Valid bool
}

// Source abstracts one physical or simulated sensor channel. Poll must return
// within the deadline carried by ctx; the coordinator treats a deadline
// overrun or error as an invalid reading for that tick.
type Source interface {
	Name() string
	Poll(ctx context.Context) (Reading, error)
}
