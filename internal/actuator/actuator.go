// Package actuator abstracts the device the control loop commands: a
// proportional valve on the inspiratory side in the real system, the lung
// model's valve in simulation.
package actuator

import (
	"sync"

	"github.com/openventio/ventcore/internal/sim"
)

// Actuator applies control commands. Apply and ApplySafe must return quickly;
// the coordinator calls them inside the tick budget.
type Actuator interface {
	// Apply drives the actuator with the given command.
	Apply(command float64) error
	// ApplySafe drives the actuator to its defined safe state. Used on
	// fail-safe entry and during shutdown.
	ApplySafe() error
	// LastCommand returns the most recently applied command.
	LastCommand() float64
}

// SimValve drives the lung model's inspiratory valve with the flow the
// commanded current would admit.
type SimValve struct {
	mu          sync.Mutex
	lung        *sim.Lung
	safeCommand float64
	lastCommand float64
}

// NewSimValve creates the simulated valve with the configured safe command.
func NewSimValve(lung *sim.Lung, safeCommand float64) *SimValve {
	return &SimValve{
		lung:        lung,
		safeCommand: safeCommand,
	}
}

func (v *SimValve) Apply(command float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lung.SetFlowIn(sim.PropValveFlow(command))
	v.lastCommand = command
	return nil
}

func (v *SimValve) ApplySafe() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lung.SetFlowIn(sim.PropValveFlow(v.safeCommand))
	v.lung.SetFlowOut(0)
	v.lastCommand = v.safeCommand
	return nil
}

func (v *SimValve) LastCommand() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastCommand
}
