package control_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/control"
	"github.com/openventio/ventcore/internal/errors"
)

func testControlConfig() config.Control {
	return config.Control{
		Channel:          "pressure",
		Setpoint:         50,
		Kp:               0.5,
		Ki:               0,
		Kd:               0,
		IntegralLimit:    10,
		OutputMin:        0,
		OutputMax:        100,
		SafeCommand:      0,
		DerivativeSmooth: 0.5,
	}
}

// A proportional-only loop driving a first-order plant must close the gap to
// the setpoint monotonically, without overshoot.
func TestProportionalConvergesMonotonically(t *testing.T) {
	loop := control.NewLoop(testControlConfig())
	dt := 10 * time.Millisecond

	pv := 0.0
	prevGap := math.Abs(50 - pv)

	for i := 0; i < 200; i++ {
		cmd, err := loop.Step(pv, true, dt)
		require.NoError(t, err)

		// First-order plant: the command pushes the process variable
		// toward the setpoint proportionally.
		pv += cmd * dt.Seconds()

		gap := math.Abs(50 - pv)
		assert.LessOrEqual(t, gap, prevGap, "tick %d", i)
		prevGap = gap
	}

	assert.Less(t, prevGap, 50.0*0.95, "loop made no progress toward setpoint")
}

func TestZeroErrorProducesMinimumCommand(t *testing.T) {
	loop := control.NewLoop(testControlConfig())

	cmd, err := loop.Step(50, true, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cmd)
}

func TestIntegralClampPreventsWindup(t *testing.T) {
	cfg := testControlConfig()
	cfg.Kp = 0
	cfg.Ki = 1
	loop := control.NewLoop(cfg)

	// Hold a large error for far longer than the clamp allows.
	for i := 0; i < 1000; i++ {
		_, err := loop.Step(0, true, 100*time.Millisecond)
		require.NoError(t, err)
	}

	state := loop.State()
	assert.Equal(t, cfg.IntegralLimit, state.Integral)

	cmd, err := loop.Step(0, true, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, cfg.Ki*cfg.IntegralLimit, cmd)
}

func TestOutputClamp(t *testing.T) {
	cfg := testControlConfig()
	cfg.Kp = 1000
	loop := control.NewLoop(cfg)

	cmd, err := loop.Step(0, true, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, cfg.OutputMax, cmd)

	cmd, err = loop.Step(200, true, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, cfg.OutputMin, cmd)
}

func TestFaultReturnsLastKnownSafeCommand(t *testing.T) {
	loop := control.NewLoop(testControlConfig())
	dt := 10 * time.Millisecond

	good, err := loop.Step(30, true, dt)
	require.NoError(t, err)
	require.Greater(t, good, 0.0)

	// Invalid process variable.
	cmd, err := loop.Step(0, false, dt)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrControlFault))
	assert.Equal(t, good, cmd)

	// Non-positive dt.
	cmd, err = loop.Step(30, true, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrControlFault))
	assert.Equal(t, good, cmd)
}

func TestDisabledLoopHoldsSafeCommand(t *testing.T) {
	cfg := testControlConfig()
	cfg.SafeCommand = 1.5
	loop := control.NewLoop(cfg)

	_, err := loop.Step(30, true, 10*time.Millisecond)
	require.NoError(t, err)

	loop.Disable()

	cmd, err := loop.Step(30, true, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 1.5, cmd)

	loop.Enable()
	_, err = loop.Step(30, true, 10*time.Millisecond)
	assert.NoError(t, err)
}

func TestSetSetpointResetsAccumulators(t *testing.T) {
	cfg := testControlConfig()
	cfg.Ki = 1
	cfg.Kd = 1
	loop := control.NewLoop(cfg)

	for i := 0; i < 10; i++ {
		_, err := loop.Step(float64(i), true, 10*time.Millisecond)
		require.NoError(t, err)
	}

	state := loop.State()
	require.NotZero(t, state.Integral)

	loop.SetSetpoint(20)

	state = loop.State()
	assert.Equal(t, 20.0, state.Setpoint)
	assert.Zero(t, state.Integral)
	assert.Zero(t, state.Derivative)
	assert.Zero(t, state.PrevError)
}

// The derivative term is low-passed, so a single-sample spike in the process
// variable must not move the command as far as the raw derivative would.
func TestDerivativeSmoothing(t *testing.T) {
	cfg := testControlConfig()
	cfg.Kp = 0
	cfg.Kd = 1
	cfg.DerivativeSmooth = 0.1
	cfg.OutputMin = -1e9
	cfg.OutputMax = 1e9
	loop := control.NewLoop(cfg)

	dt := 10 * time.Millisecond
	_, err := loop.Step(50, true, dt)
	require.NoError(t, err)

	// Spike: error jumps by 10 in one tick. Raw derivative would be 1000.
	cmd, err := loop.Step(40, true, dt)
	require.NoError(t, err)
	assert.InDelta(t, 100, cmd, 1e-9)
}
