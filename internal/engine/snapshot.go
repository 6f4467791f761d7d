package engine

import (
	"time"

	"github.com/openventio/ventcore/internal/alarm"
	"github.com/openventio/ventcore/internal/waveform"
)

// Counters accumulate per-tick fault and progress counts over the engine's
// lifetime. Transient faults show up here instead of propagating upward.
type Counters struct {
	Ticks          uint64
	Overruns       uint64
	SensorInvalid  uint64
	SensorTimeouts uint64
	ControlFaults  uint64
	ActuatorFaults uint64
}

// Snapshot is the immutable, versioned aggregate published once per tick.
// Consumers only ever hold read-only references to the most recently
// completed snapshot; a snapshot is never mutated after publication.
type Snapshot struct {
	Seq      uint64
	State    State
	Time     time.Time
	Latest   map[string]waveform.Sample
	Command  float64
	Setpoint float64
	Alarms   []alarm.Record
	Counters Counters
}
