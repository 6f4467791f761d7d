// Package sim provides a balloon-lung physics model used to exercise the
// engine without hardware. Pressure follows the two-balloon equation; volume
// integrates the difference between inspiratory and expiratory flow.
package sim

import (
	"math"
	"math/rand"
	"sync"
)

const (
	maxVolume = 6.0 // liters
	minVolume = 1.5 // liters, balloon starts slightly inflated
	pressureK = 40.0
	basePress = 0.0
	maxFlow   = 2.0 // l/s, nothing in the circuit is faster
	leakRC    = 5.0 // seconds
)

// Lung simulates the pneumatic load: a leaky elastic balloon fed by a
// proportional valve and vented by a solenoid.
type Lung struct {
	mu sync.Mutex

	leak bool
	rng  *rand.Rand

	qIn      float64
	qOut     float64
	volume   float64
	pressure float64

	temperature float64
	humidity    float64
	fio2        float64
}

// NewLung creates a lung model. When leak is true the balloon deflates toward
// its resting volume with a fixed time constant.
func NewLung(leak bool, seed int64) *Lung {
	return &Lung{
		leak:        leak,
		rng:         rand.New(rand.NewSource(seed)),
		volume:      minVolume,
		temperature: 37,
		humidity:    90,
		fio2:        60,
	}
}

// SetFlowIn sets the inspiratory valve flow in l/s, clamped to a safe range.
func (l *Lung) SetFlowIn(q float64) {
	l.mu.Lock()
	l.qIn = clamp(q, 0, maxFlow)
	l.mu.Unlock()
}

// SetFlowOut sets the expiratory valve demand. Actual expiratory flow scales
// with the pressure difference across the valve.
func (l *Lung) SetFlowOut(q float64) {
	l.mu.Lock()
	conductance := 0.05 * clamp(q, 0, maxFlow)
	l.qOut = l.pressure * conductance
	l.mu.Unlock()
}

// Advance steps the simulation by dt seconds.
func (l *Lung) Advance(dt float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dt <= 0 || dt >= 1 {
		// A stalled loop produces no meaningful physics step.
		return
	}

	l.volume += (l.qIn - l.qOut) * dt
	if l.volume < minVolume {
		l.volume = minVolume
	}
	if l.volume > maxVolume {
		l.volume = maxVolume
	}

	if l.leak {
		s := dt / (leakRC + dt)
		l.volume += s * (minVolume - l.volume)
	}

	// Two-balloon equation via the balloon radius.
	r := math.Cbrt(3 * l.volume / (4 * math.Pi))
	r0 := math.Cbrt(3 * minVolume / (4 * math.Pi))
	l.pressure = basePress + (pressureK/(r0*r0*r))*(1-math.Pow(r0/r, 6))

	// Slow physiological drift modelled as an Ornstein-Uhlenbeck process.
	l.temperature = l.ou(l.temperature, dt, 37, 0.3, 1)
	l.fio2 = l.ou(l.fio2, dt, 60, 5, 1)
	l.humidity = math.Min(l.ou(l.humidity, dt, 90, 5, 1), 100)
}

// Pressure returns the current airway pressure in cmH2O.
func (l *Lung) Pressure() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pressure
}

// Volume returns the current lung volume in liters.
func (l *Lung) Volume() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume
}

// FlowIn returns the current inspiratory flow in l/s.
func (l *Lung) FlowIn() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.qIn
}

// FlowOut returns the current expiratory flow in l/s.
func (l *Lung) FlowOut() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.qOut
}

// FiO2 returns the simulated oxygen fraction in percent.
func (l *Lung) FiO2() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fio2
}

// Reset returns the balloon to its resting state.
func (l *Lung) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.qIn = 0
	l.qOut = 0
	l.volume = minVolume
	l.pressure = 0
}

func (l *Lung) ou(value, dt, mu, sigma, tau float64) float64 {
	dt = math.Max(dt, 0.001)
	sigmaBis := sigma * math.Sqrt(2/tau)
	return value + dt*(-(value-mu)/tau) + sigmaBis*math.Sqrt(dt)*l.rng.NormFloat64()
}

// PropValveFlow maps a proportional-valve command current, in mA, to the flow
// it admits in l/s. Curve taken from a typical proportional valve datasheet.
func PropValveFlow(command float64) float64 {
	if command < 0 {
		return 0
	}
	if command > 160 {
		return 1.72 // valve fully open, ~100 l/min
	}
	return 1.0 * (math.Tanh(0.03*(command-130)) + 1)
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
