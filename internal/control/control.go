// Package control implements the fixed-cadence PID loop that turns the
// measured process variable into an actuator command.
package control

import (
	"sync"
	"time"

	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/errors"
)

// State is the loop's internal accumulator state, exposed read-only for
// snapshots and telemetry.
type State struct {
	Setpoint    float64
	Integral    float64
	PrevError   float64
	Derivative  float64
	LastCommand float64
	LastUpdate  time.Time
	Enabled     bool
}

// Loop computes actuator commands from the process variable. All methods are
// called from the coordinator goroutine; the mutex only guards the State
// accessor used by consumers.
type Loop struct {
	mu  sync.Mutex
	cfg config.Control

	setpoint   float64
	integral   float64
	prevError  float64
	derivative float64
	primed     bool
	enabled    bool

	lastCommand float64
	lastUpdate  time.Time
}

// NewLoop creates a control loop from the configured gains and clamps.
// The loop starts enabled with the last-known-safe command set to the
// configured safe value.
func NewLoop(cfg config.Control) *Loop {
	return &Loop{
		cfg:         cfg,
		setpoint:    cfg.Setpoint,
		enabled:     true,
		lastCommand: cfg.SafeCommand,
	}
}

// Step advances the loop by dt and returns the clamped actuator command.
// On invalid input (non-positive dt, invalid process variable, disabled loop)
// it returns the last-known-safe command and a control-fault error instead of
// producing an unstable output.
func (l *Loop) Step(pv float64, valid bool, dt time.Duration) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	errFactory := errors.New()

	if !l.enabled {
		return l.lastCommand, errFactory.WithData(errors.ErrControlFault, "loop disabled")
	}
	if dt <= 0 {
		return l.lastCommand, errFactory.WithData(errors.ErrControlFault, "non-positive dt")
	}
	if !valid {
		return l.lastCommand, errFactory.WithData(errors.ErrControlFault, "invalid process variable")
	}

	dts := dt.Seconds()
	err := l.setpoint - pv

	l.integral = clamp(l.integral+err*dts, -l.cfg.IntegralLimit, l.cfg.IntegralLimit)

	// Derivative from the change in error, low-passed so a single noisy
	// sample cannot spike the command.
	if l.primed {
		raw := (err - l.prevError) / dts
		l.derivative += l.cfg.DerivativeSmooth * (raw - l.derivative)
	}
	l.prevError = err
	l.primed = true

	command := l.cfg.Kp*err + l.cfg.Ki*l.integral + l.cfg.Kd*l.derivative
	command = clamp(command, l.cfg.OutputMin, l.cfg.OutputMax)

	l.lastCommand = command
	l.lastUpdate = time.Now()

	return command, nil
}

// SetSetpoint changes the target and resets the accumulated error state,
// since integral and derivative history belong to the previous target.
func (l *Loop) SetSetpoint(setpoint float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setpoint = setpoint
	l.reset()
}

// Enable re-arms the loop after a fault, starting from clean accumulators.
func (l *Loop) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled = true
	l.reset()
}

// Disable stops the loop from producing new commands; Step returns the
// last-known-safe command until re-enabled.
func (l *Loop) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled = false
	l.lastCommand = l.cfg.SafeCommand
	l.reset()
}

// SafeCommand returns the configured actuator-safe command.
func (l *Loop) SafeCommand() float64 {
	return l.cfg.SafeCommand
}

// State returns a copy of the loop's current internal state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return State{
		Setpoint:    l.setpoint,
		Integral:    l.integral,
		PrevError:   l.prevError,
		Derivative:  l.derivative,
		LastCommand: l.lastCommand,
		LastUpdate:  l.lastUpdate,
		Enabled:     l.enabled,
	}
}

func (l *Loop) reset() {
	l.integral = 0
	l.prevError = 0
	l.derivative = 0
	l.primed = false
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
