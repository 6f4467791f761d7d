// Package engine implements the coordinator loop: the fixed-period driver
// that polls sample sources, advances the control loop, evaluates alarms and
// publishes consistent snapshots to consumers.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/openventio/ventcore/internal/actuator"
	"github.com/openventio/ventcore/internal/alarm"
	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/control"
	"github.com/openventio/ventcore/internal/errors"
	"github.com/openventio/ventcore/internal/logger"
	"github.com/openventio/ventcore/internal/sensor"
	"github.com/openventio/ventcore/internal/waveform"
)

// Engine runs the sample → control → alarm → publish sequence at a fixed
// period on its own goroutine. All mutable loop state is owned by that
// goroutine; consumers interact only through the published snapshots and the
// explicit Acknowledge/Reset signals.
type Engine struct {
	cfg      *config.Config
	sources  []sensor.Source
	act      actuator.Actuator
	loop     *control.Loop
	eval     *alarm.Evaluator
	buffers  map[string]*waveform.Buffer
	channels []string

	// Loop-goroutine state.
	state       State
	seq         uint64
	counters    Counters
	lastTick    time.Time
	overrunRun  int
	onTimeRun   int
	invalidRuns map[string]int
	lastReading map[string]waveform.Sample
	lastCommand float64

	resetRequested atomic.Bool

	snap   atomic.Pointer[Snapshot]
	notify atomic.Pointer[chan struct{}]
}

// New builds an engine from its collaborators. Sources and the actuator are
// resolved once here; nothing is re-dispatched per tick.
func New(cfg *config.Config, sources []sensor.Source, act actuator.Actuator) (*Engine, error) {
	errFactory := errors.New()

	if len(sources) == 0 {
		return nil, errFactory.WithData(errors.ErrInitEngine, "no sample sources configured")
	}

	eval, err := alarm.NewEvaluator(cfg.Alarms)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		sources:     sources,
		act:         act,
		loop:        control.NewLoop(cfg.Control),
		eval:        eval,
		buffers:     make(map[string]*waveform.Buffer, len(sources)),
		invalidRuns: make(map[string]int, len(sources)),
		lastReading: make(map[string]waveform.Sample, len(sources)),
		lastCommand: cfg.Control.SafeCommand,
	}

	for _, src := range sources {
		name := src.Name()
		e.buffers[name] = waveform.NewBuffer(cfg.BufferCapacity)
		e.channels = append(e.channels, name)
	}

	if _, ok := e.buffers[cfg.Control.Channel]; !ok {
		return nil, errFactory.WithData(errors.ErrInvalidChannel, cfg.Control.Channel)
	}

	ch := make(chan struct{})
	e.notify.Store(&ch)
	e.publish(time.Now())

	return e, nil
}

// Run drives the loop until ctx is cancelled. The shutdown signal is observed
// at the tick boundary; the final tick completes and the actuator is left in
// its safe state before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickPeriod())
	defer ticker.Stop()

	logger.Info().
		Str("tick_period", e.cfg.TickPeriod().String()).
		Int("channels", len(e.sources)).
		Bool("monitor", e.cfg.Monitor).
		Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// tick performs one full coordinator cycle. Split from Run so the sequence
// can be driven with synthetic timestamps in tests.
func (e *Engine) tick(now time.Time) {
	if e.state == Stopped {
		return
	}

	if e.resetRequested.Swap(false) {
		e.applyReset()
	}

	tickStart := time.Now()
	e.counters.Ticks++

	dt := e.cfg.TickPeriod()
	if !e.lastTick.IsZero() {
		if measured := now.Sub(e.lastTick); measured > 0 {
			dt = measured
		}
	}
	e.lastTick = now

	e.pollSources(now)
	e.checkSensorHealth()

	command := e.stepControl(dt)
	e.applyCommand(command)

	alarms := e.eval.Evaluate(now, e.view(), command)

	e.observeDeadline(time.Since(tickStart))
	e.advanceState()

	e.publishWith(now, command, alarms)
}

// pollSources reads every registered channel within the bounded sensor
// deadline. Timeouts and failed reads become invalid samples for the tick;
// only valid samples enter the waveform buffers.
func (e *Engine) pollSources(now time.Time) {
	for _, src := range e.sources {
		name := src.Name()
		reading, err := e.pollOne(src)

		sample := waveform.Sample{
			Time:    now,
			Channel: name,
			Value:   reading.Value,
			Valid:   reading.Valid && err == nil,
		}
		e.lastReading[name] = sample

		if !sample.Valid {
			e.counters.SensorInvalid++
			if errors.HasCode(err, errors.ErrSensorTimeout) {
				e.counters.SensorTimeouts++
			}
			e.invalidRuns[name]++
			continue
		}

		e.invalidRuns[name] = 0
		e.buffers[name].Push(sample)
	}
}

// pollOne enforces the per-poll deadline. A source that fails to return in
// time is treated as invalid for this tick; the result of the abandoned poll
// is discarded when it eventually arrives.
func (e *Engine) pollOne(src sensor.Source) (sensor.Reading, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SensorTimeout())
	defer cancel()

	type result struct {
		reading sensor.Reading
		err     error
	}
	done := make(chan result, 1)

	go func() {
		r, err := src.Poll(ctx)
		done <- result{r, err}
	}()

	select {
	case r := <-done:
		return r.reading, r.err
	case <-ctx.Done():
		return sensor.Reading{}, errors.New().Wrap(errors.ErrSensorTimeout, ctx.Err())
	}
}

// checkSensorHealth escalates sustained per-channel invalidity to fail-safe
// once it crosses the configured tolerance.
func (e *Engine) checkSensorHealth() {
	for _, name := range e.channels {
		run := e.invalidRuns[name]
		if run >= e.cfg.SensorTolerance {
			e.eval.SetCondition(AlarmSensorFault, alarm.Critical, true, float64(run))
			e.enterFailSafe("sensor invalid past tolerance: " + name)
			return
		}
	}
}

// stepControl advances the PID loop unless the engine is in fail-safe, in
// which case the safe command is held and no new commands are computed.
func (e *Engine) stepControl(dt time.Duration) float64 {
	if e.state == FailSafe {
		return e.loop.SafeCommand()
	}

	pv, ok := e.lastReading[e.cfg.Control.Channel]
	valid := ok && pv.Valid

	command, err := e.loop.Step(pv.Value, valid, dt)
	if err != nil {
		e.counters.ControlFaults++
		e.eval.SetCondition(AlarmControl, alarm.Caution, true, pv.Value)
		return command // last-known-safe command
	}

	e.eval.SetCondition(AlarmControl, alarm.Caution, false, 0)
	return command
}

// applyCommand drives the actuator. In monitor mode commands are computed and
// published but never applied. An apply failure forces fail-safe.
func (e *Engine) applyCommand(command float64) {
	e.lastCommand = command

	if e.cfg.Monitor || e.state == FailSafe {
		return
	}

	if err := e.act.Apply(command); err != nil {
		e.counters.ActuatorFaults++
		appErr := errors.New().Wrap(errors.ErrActuatorFault, err)
		logger.ErrorWithCode(appErr).Msg("")
		e.enterFailSafe("actuator apply failed")
	}
}

// observeDeadline classifies the finished tick as on-time or overrun and
// keeps the consecutive-run counters the state machine works from.
func (e *Engine) observeDeadline(elapsed time.Duration) {
	if elapsed > e.cfg.DeadlineBudget() {
		e.counters.Overruns++
		e.overrunRun++
		e.onTimeRun = 0
		logger.Debug().
			Str("elapsed", elapsed.String()).
			Int("consecutive", e.overrunRun).
			Msg("Tick overrun")
		return
	}

	e.overrunRun = 0
	e.onTimeRun++
}

// advanceState applies the coordinator state transitions after each tick.
func (e *Engine) advanceState() {
	switch e.state {
	case Starting:
		if e.overrunRun >= e.cfg.FailSafeAfter {
			e.enterFailSafe("consecutive overruns past threshold")
		} else if e.overrunRun == 0 {
			e.state = Running
		}
	case Running:
		if e.overrunRun >= e.cfg.FailSafeAfter {
			e.enterFailSafe("consecutive overruns past threshold")
		} else if e.overrunRun >= e.cfg.DegradedAfter {
			e.state = OverrunDegraded
			e.eval.SetCondition(AlarmOverrun, alarm.Caution, true, float64(e.overrunRun))
			logger.Warn().Int("consecutive", e.overrunRun).Msg("Entering degraded mode")
		}
	case OverrunDegraded:
		if e.overrunRun >= e.cfg.FailSafeAfter {
			e.enterFailSafe("consecutive overruns past threshold")
		} else if e.onTimeRun >= e.cfg.RecoverAfter {
			e.state = Running
			e.eval.SetCondition(AlarmOverrun, alarm.Caution, false, 0)
			logger.Info().Msg("Recovered from degraded mode")
		}
	case FailSafe, Stopped:
		// FailSafe exits only through an explicit reset; Stopped is final.
	}
}

// enterFailSafe commands the actuator to its safe value, raises the critical
// alarm and halts further control commands. Acquisition and publication
// continue so the display keeps showing live data.
func (e *Engine) enterFailSafe(reason string) {
	if e.state == FailSafe {
		return
	}

	e.state = FailSafe
	e.loop.Disable()
	e.lastCommand = e.loop.SafeCommand()

	if err := e.act.ApplySafe(); err != nil {
		e.counters.ActuatorFaults++
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrActuatorFault, err)).Msg("")
	}

	e.eval.SetCondition(AlarmFailSafe, alarm.Critical, true, 0)
	logger.Error().Str("reason", reason).Msg("Entering fail-safe")
}

// applyReset handles the external reset signal at the tick boundary.
// Recovery from fail-safe is never automatic.
func (e *Engine) applyReset() {
	if e.state != FailSafe {
		return
	}

	e.eval.SetCondition(AlarmFailSafe, alarm.Critical, false, 0)
	e.eval.SetCondition(AlarmSensorFault, alarm.Critical, false, 0)
	e.loop.Enable()
	e.overrunRun = 0
	e.onTimeRun = 0
	for name := range e.invalidRuns {
		e.invalidRuns[name] = 0
	}
	e.state = Starting
	logger.Info().Msg("Reset from fail-safe")
}

// shutdown completes the final tick obligations: the actuator is left in its
// safe state and a terminal snapshot is published.
func (e *Engine) shutdown() {
	if e.state != FailSafe && !e.cfg.Monitor {
		if err := e.act.ApplySafe(); err != nil {
			logger.ErrorWithCode(errors.New().Wrap(errors.ErrActuatorFault, err)).Msg("")
		}
	}
	e.state = Stopped
	e.lastCommand = e.loop.SafeCommand()
	e.publish(time.Now())
	logger.Info().Msg("Engine stopped")
}

// Reset requests recovery from fail-safe. The request is observed at the next
// tick boundary; it is ignored in any other state.
func (e *Engine) Reset() {
	e.resetRequested.Store(true)
}

// Acknowledge marks an active alarm as seen. The active flag is untouched;
// the alarm clears only when its condition resolves.
func (e *Engine) Acknowledge(kind string) bool {
	return e.eval.Acknowledge(kind)
}

// Waveform returns a copy of the buffered history for one channel, oldest
// sample first. Returns nil for unknown channels.
func (e *Engine) Waveform(channel string) []waveform.Sample {
	buf, ok := e.buffers[channel]
	if !ok {
		return nil
	}
	return buf.Snapshot()
}

// Latest returns the most recently published snapshot. Never nil and never
// blocking: before the first tick it is the empty initial snapshot.
func (e *Engine) Latest() *Snapshot {
	return e.snap.Load()
}

// WaitForNext blocks until a snapshot newer than the current one is published
// or the timeout elapses. Consumers use it to pace themselves to new data
// without polling; the real-time loop never waits for them.
func (e *Engine) WaitForNext(timeout time.Duration) (*Snapshot, error) {
	ch := *e.notify.Load()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return e.snap.Load(), nil
	case <-timer.C:
		return nil, errors.New().New(errors.ErrWaitTimeout)
	}
}

type channelView struct {
	e *Engine
}

func (v channelView) Latest(channel string) (waveform.Sample, bool) {
	s, ok := v.e.lastReading[channel]
	return s, ok
}

func (v channelView) Recent(channel string, n int) []waveform.Sample {
	buf, ok := v.e.buffers[channel]
	if !ok {
		return nil
	}
	return buf.Tail(n)
}

func (e *Engine) view() alarm.ChannelView {
	return channelView{e}
}

func (e *Engine) publish(now time.Time) {
	e.publishWith(now, e.lastCommand, e.eval.Active())
}

// publishWith swaps in a freshly built snapshot and wakes waiting consumers.
// Publication is a single atomic pointer store; readers never contend with
// the loop.
func (e *Engine) publishWith(now time.Time, command float64, alarms []alarm.Record) {
	latest := make(map[string]waveform.Sample, len(e.lastReading))
	for name, s := range e.lastReading {
		latest[name] = s
	}

	snapshot := &Snapshot{
		Seq:      e.seq,
		State:    e.state,
		Time:     now,
		Latest:   latest,
		Command:  command,
		Setpoint: e.loop.State().Setpoint,
		Alarms:   alarms,
		Counters: e.counters,
	}
	e.seq++

	e.snap.Store(snapshot)

	next := make(chan struct{})
	prev := e.notify.Swap(&next)
	close(*prev)
}
