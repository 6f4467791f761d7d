package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/openventio/ventcore/internal/errors"
)

const (
	DefaultLogLevel = "info"

	defaultTickPeriodMs     = 10
	defaultBufferCapacity   = 100
	defaultSensorTimeoutMs  = 5
	defaultSensorTolerance  = 5
	defaultDegradedAfter    = 3
	defaultFailSafeAfter    = 10
	defaultRecoverAfter     = 5
	defaultIntegralLimit    = 100.0
	defaultOutputMax        = 100.0
	defaultDerivativeSmooth = 0.5
)

// Config is the immutable startup configuration of the engine.
// Hot reload is deliberately unsupported; changing any value requires
// re-initialization by the operator.
type Config struct {
	TickPeriodMs     int  `mapstructure:"tick_period_ms"`
	DeadlineBudgetMs int  `mapstructure:"deadline_budget_ms"`
	BufferCapacity   int  `mapstructure:"buffer_capacity"`
	SensorTimeoutMs  int  `mapstructure:"sensor_timeout_ms"`
	SensorTolerance  int  `mapstructure:"sensor_tolerance"`
	DegradedAfter    int  `mapstructure:"degraded_after"`
	FailSafeAfter    int  `mapstructure:"failsafe_after"`
	RecoverAfter     int  `mapstructure:"recover_after"`
	Monitor          bool `mapstructure:"monitor"`
	Debug            bool `mapstructure:"debug"`
	Verbose          bool `mapstructure:"verbose"`

	LogLevel string `mapstructure:"log_level"`

	Telemetry   bool   `mapstructure:"telemetry"`
	TelemetryDB string `mapstructure:"database"`

	Control  Control     `mapstructure:"control"`
	Channels []Channel   `mapstructure:"channels"`
	Alarms   []AlarmRule `mapstructure:"alarms"`
}

// Control holds the PID gains, clamps and the actuator-safe command.
type Control struct {
	Channel          string  `mapstructure:"channel"`
	Setpoint         float64 `mapstructure:"setpoint"`
	Kp               float64 `mapstructure:"kp"`
	Ki               float64 `mapstructure:"ki"`
	Kd               float64 `mapstructure:"kd"`
	IntegralLimit    float64 `mapstructure:"integral_limit"`
	OutputMin        float64 `mapstructure:"output_min"`
	OutputMax        float64 `mapstructure:"output_max"`
	SafeCommand      float64 `mapstructure:"safe_command"`
	DerivativeSmooth float64 `mapstructure:"derivative_smooth"`
}

// Channel binds a named waveform channel to a sample source.
type Channel struct {
	Name   string  `mapstructure:"name"`
	Source string  `mapstructure:"source"`
	Replay string  `mapstructure:"replay"`
	Noise  float64 `mapstructure:"noise"`
}

// AlarmRule describes one patient-safety alarm condition.
type AlarmRule struct {
	Name          string  `mapstructure:"name"`
	Channel       string  `mapstructure:"channel"`
	Kind          string  `mapstructure:"kind"`
	Severity      string  `mapstructure:"severity"`
	Activate      float64 `mapstructure:"activate"`
	Deactivate    float64 `mapstructure:"deactivate"`
	RateLimit     float64 `mapstructure:"rate_limit"`
	MinDurationMs int     `mapstructure:"min_duration_ms"`
}

// TickPeriod returns the configured tick period as a duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodMs) * time.Millisecond
}

// DeadlineBudget returns the per-tick deadline budget as a duration.
func (c *Config) DeadlineBudget() time.Duration {
	if c.DeadlineBudgetMs <= 0 {
		return c.TickPeriod()
	}
	return time.Duration(c.DeadlineBudgetMs) * time.Millisecond
}

// SensorTimeout returns the bounded per-poll wait.
func (c *Config) SensorTimeout() time.Duration {
	return time.Duration(c.SensorTimeoutMs) * time.Millisecond
}

// Load reads configuration from file, environment and bound flags.
// Precedence, lowest to highest: defaults, config file, VENTCORE_* env, flags.
// An explicit configPath overrides the search path; the VENTCORE_CONFIG
// environment variable overrides both.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("ventcore")
	v.SetConfigType("toml")
	v.AddConfigPath("/etc")
	v.AddConfigPath(".")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix("VENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := envConfigPath(); path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envConfigPath() string {
	v := viper.New()
	v.SetEnvPrefix("VENTCORE")
	v.AutomaticEnv()
	return v.GetString("config")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_period_ms", defaultTickPeriodMs)
	v.SetDefault("deadline_budget_ms", 0)
	v.SetDefault("buffer_capacity", defaultBufferCapacity)
	v.SetDefault("sensor_timeout_ms", defaultSensorTimeoutMs)
	v.SetDefault("sensor_tolerance", defaultSensorTolerance)
	v.SetDefault("degraded_after", defaultDegradedAfter)
	v.SetDefault("failsafe_after", defaultFailSafeAfter)
	v.SetDefault("recover_after", defaultRecoverAfter)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", "/var/lib/ventcore/telemetry.db")

	v.SetDefault("control.channel", "pressure")
	v.SetDefault("control.setpoint", 5.0)
	v.SetDefault("control.kp", 80.0)
	v.SetDefault("control.ki", 0.0)
	v.SetDefault("control.kd", 0.0)
	v.SetDefault("control.integral_limit", defaultIntegralLimit)
	v.SetDefault("control.output_min", 0.0)
	v.SetDefault("control.output_max", defaultOutputMax)
	v.SetDefault("control.safe_command", 0.0)
	v.SetDefault("control.derivative_smooth", defaultDerivativeSmooth)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.TickPeriodMs <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "tick_period_ms must be positive")
	}
	if c.BufferCapacity <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "buffer_capacity must be positive")
	}
	if c.SensorTimeoutMs <= 0 || c.SensorTimeoutMs >= c.TickPeriodMs {
		return errFactory.WithData(errors.ErrInvalidConfig, "sensor_timeout_ms must be positive and shorter than the tick period")
	}
	if c.SensorTolerance <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "sensor_tolerance must be positive")
	}
	if c.DegradedAfter <= 0 || c.RecoverAfter <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "degraded_after and recover_after must be positive")
	}
	if c.FailSafeAfter <= c.DegradedAfter {
		return errFactory.WithData(errors.ErrInvalidConfig, "failsafe_after must exceed degraded_after")
	}

	if err := c.Control.validate(); err != nil {
		return err
	}

	channels := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, "channel without a name")
		}
		if channels[ch.Name] {
			return errFactory.WithData(errors.ErrInvalidConfig, "duplicate channel "+ch.Name)
		}
		channels[ch.Name] = true
	}

	if len(c.Channels) > 0 && !channels[c.Control.Channel] {
		return errFactory.WithData(errors.ErrInvalidChannel, c.Control.Channel)
	}

	for i := range c.Alarms {
		if err := c.Alarms[i].validate(channels); err != nil {
			return err
		}
	}

	return nil
}

func (ct Control) validate() error {
	errFactory := errors.New()

	if ct.OutputMax <= ct.OutputMin {
		return errFactory.WithData(errors.ErrInvalidConfig, "control output_max must exceed output_min")
	}
	if ct.SafeCommand < ct.OutputMin || ct.SafeCommand > ct.OutputMax {
		return errFactory.WithData(errors.ErrInvalidConfig, "control safe_command outside output range")
	}
	if ct.IntegralLimit < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "control integral_limit must not be negative")
	}
	if ct.DerivativeSmooth < 0 || ct.DerivativeSmooth > 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "control derivative_smooth must be within [0, 1]")
	}

	return nil
}

func (r AlarmRule) validate(channels map[string]bool) error {
	errFactory := errors.New()

	if r.Name == "" {
		return errFactory.WithData(errors.ErrInvalidRule, "rule without a name")
	}
	if len(channels) > 0 && !channels[r.Channel] {
		return errFactory.WithData(errors.ErrInvalidChannel, r.Name+": "+r.Channel)
	}

	switch r.Kind {
	case "threshold_high":
		if r.Deactivate >= r.Activate {
			return errFactory.WithData(errors.ErrInvalidRule, r.Name+": deactivate must be below activate")
		}
	case "threshold_low":
		if r.Deactivate <= r.Activate {
			return errFactory.WithData(errors.ErrInvalidRule, r.Name+": deactivate must be above activate")
		}
	case "rate":
		if r.RateLimit <= 0 {
			return errFactory.WithData(errors.ErrInvalidRule, r.Name+": rate_limit must be positive")
		}
	default:
		return errFactory.WithData(errors.ErrInvalidRule, r.Name+": unknown kind "+r.Kind)
	}

	switch r.Severity {
	case "advisory", "caution", "critical":
	default:
		return errFactory.WithData(errors.ErrInvalidRule, r.Name+": unknown severity "+r.Severity)
	}

	if r.MinDurationMs < 0 {
		return errFactory.WithData(errors.ErrInvalidRule, r.Name+": min_duration_ms must not be negative")
	}

	return nil
}
