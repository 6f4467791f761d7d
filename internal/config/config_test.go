package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ventcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.TickPeriodMs)
	assert.Equal(t, 100, cfg.BufferCapacity)
	assert.Equal(t, 5, cfg.SensorTimeoutMs)
	assert.Equal(t, 5, cfg.SensorTolerance)
	assert.Equal(t, 3, cfg.DegradedAfter)
	assert.Equal(t, 10, cfg.FailSafeAfter)
	assert.Equal(t, 5, cfg.RecoverAfter)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Telemetry)

	assert.Equal(t, "pressure", cfg.Control.Channel)
	assert.Equal(t, 80.0, cfg.Control.Kp)
	assert.Equal(t, 5.0, cfg.Control.Setpoint)

	assert.Equal(t, 10*time.Millisecond, cfg.TickPeriod())
	assert.Equal(t, 10*time.Millisecond, cfg.DeadlineBudget(), "budget defaults to the tick period")
	assert.Equal(t, 5*time.Millisecond, cfg.SensorTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
tick_period_ms = 20
deadline_budget_ms = 15
sensor_timeout_ms = 8
telemetry = true
database = "/tmp/vent.db"

[control]
channel = "pressure"
setpoint = 12.5
kp = 40.0
ki = 0.5

[[channels]]
name = "pressure"
source = "simulated"
noise = 0.1

[[channels]]
name = "flow_in"
source = "simulated"

[[alarms]]
name = "pressure_high"
channel = "pressure"
kind = "threshold_high"
severity = "critical"
activate = 60.0
deactivate = 55.0
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.TickPeriodMs)
	assert.Equal(t, 15*time.Millisecond, cfg.DeadlineBudget())
	assert.True(t, cfg.Telemetry)
	assert.Equal(t, "/tmp/vent.db", cfg.TelemetryDB)
	assert.Equal(t, 12.5, cfg.Control.Setpoint)
	assert.Equal(t, 0.5, cfg.Control.Ki)

	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "pressure", cfg.Channels[0].Name)
	assert.Equal(t, 0.1, cfg.Channels[0].Noise)

	require.Len(t, cfg.Alarms, 1)
	assert.Equal(t, "pressure_high", cfg.Alarms[0].Name)
}

func TestEnvConfigPathOverrides(t *testing.T) {
	path := writeConfig(t, "tick_period_ms = 25\nsensor_timeout_ms = 5\n")
	t.Setenv("VENTCORE_CONFIG", path)

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.TickPeriodMs)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "tick_period_ms = [not toml")

	_, err := config.Load(path, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg := &config.Config{
			TickPeriodMs:    10,
			BufferCapacity:  100,
			SensorTimeoutMs: 5,
			SensorTolerance: 5,
			DegradedAfter:   3,
			FailSafeAfter:   10,
			RecoverAfter:    5,
			Control: config.Control{
				Channel:          "pressure",
				Kp:               80,
				OutputMax:        100,
				DerivativeSmooth: 0.5,
			},
		}
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("sensor timeout must fit inside the tick", func(t *testing.T) {
		cfg := base()
		cfg.SensorTimeoutMs = 10
		assert.Error(t, cfg.Validate())
	})

	t.Run("failsafe threshold must exceed degraded threshold", func(t *testing.T) {
		cfg := base()
		cfg.FailSafeAfter = 3
		assert.Error(t, cfg.Validate())
	})

	t.Run("output range must be ordered", func(t *testing.T) {
		cfg := base()
		cfg.Control.OutputMax = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("safe command must be applicable", func(t *testing.T) {
		cfg := base()
		cfg.Control.SafeCommand = 200
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate channels rejected", func(t *testing.T) {
		cfg := base()
		cfg.Channels = []config.Channel{
			{Name: "pressure", Source: "simulated"},
			{Name: "pressure", Source: "simulated"},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("control channel must exist", func(t *testing.T) {
		cfg := base()
		cfg.Channels = []config.Channel{{Name: "flow_in", Source: "simulated"}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidChannel))
	})

	t.Run("alarm hysteresis direction checked", func(t *testing.T) {
		cfg := base()
		cfg.Channels = []config.Channel{{Name: "pressure", Source: "simulated"}}
		cfg.Alarms = []config.AlarmRule{{
			Name: "pressure_high", Channel: "pressure", Kind: "threshold_high",
			Severity: "critical", Activate: 60, Deactivate: 65,
		}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidRule))
	})

	t.Run("alarm channel must exist", func(t *testing.T) {
		cfg := base()
		cfg.Channels = []config.Channel{{Name: "pressure", Source: "simulated"}}
		cfg.Alarms = []config.AlarmRule{{
			Name: "spo2_low", Channel: "spo2", Kind: "threshold_low",
			Severity: "caution", Activate: 90, Deactivate: 92,
		}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown alarm kind rejected", func(t *testing.T) {
		cfg := base()
		cfg.Alarms = []config.AlarmRule{{
			Name: "odd", Channel: "pressure", Kind: "median", Severity: "caution",
		}}
		assert.Error(t, cfg.Validate())
	})
}
