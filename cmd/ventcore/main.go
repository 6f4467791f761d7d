package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openventio/ventcore/internal/actuator"
	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/engine"
	"github.com/openventio/ventcore/internal/errors"
	"github.com/openventio/ventcore/internal/logger"
	"github.com/openventio/ventcore/internal/pid"
	"github.com/openventio/ventcore/internal/recorder"
	"github.com/openventio/ventcore/internal/sensor"
	"github.com/openventio/ventcore/internal/sim"
)

const version = "0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "ventcore",
	Short:   "Real-time acquisition, control and alarm engine",
	Long:    "ventcore runs the supervisory core of a ventilator bench setup: it samples sensor channels at a fixed cadence, drives the inspiratory valve through a PID loop, evaluates patient-safety alarms and publishes waveform snapshots for display and logging.",
	Version: version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.Flags().Bool("monitor", false, "acquire and alarm only, never drive the actuator")
	rootCmd.Flags().Bool("debug", false, "enable debug logging")
	rootCmd.Flags().Bool("verbose", false, "enable verbose logging")
	rootCmd.Flags().Bool("telemetry", false, "record snapshots to the telemetry database")
	rootCmd.Flags().String("database", "", "path to the telemetry database")
	rootCmd.Flags().Bool("leak", false, "simulate a leaky lung")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		logger.Init(false, true, logger.IsService())
		logger.Error().Err(err).Msg("Failed to load config")
		return err
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			logger.Error().Msg("Another instance is already running")
		}
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	leak, _ := cmd.Flags().GetBool("leak")
	lung := sim.NewLung(leak, time.Now().UnixNano())

	channels := cfg.Channels
	if len(channels) == 0 {
		channels = defaultChannels()
		cfg.Channels = channels
	}

	sources, err := sensor.FromConfig(channels, lung, time.Now().UnixNano())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build sample sources")
		return err
	}

	valve := actuator.NewSimValve(lung, cfg.Control.SafeCommand)

	eng, err := engine.New(cfg, sources, valve)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize engine")
		return err
	}

	collector, err := recorder.NewService(recorder.Config{
		DBPath:       cfg.TelemetryDB,
		Enabled:      cfg.Telemetry,
		BatchSize:    64,
		BatchTimeout: 5,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize snapshot recorder")
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close snapshot recorder")
		}
	}()

	go recorder.Consume(ctx, collector, eng, time.Second)
	go runSim(ctx, lung, cfg.TickPeriod())

	if err := eng.Run(ctx); err != nil {
		return errors.New().Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

// runSim advances the lung physics in lockstep with the tick period so the
// simulated sensors have fresh values to report.
func runSim(ctx context.Context, lung *sim.Lung, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			lung.Advance(now.Sub(last).Seconds())
			last = now
		}
	}
}

func defaultChannels() []config.Channel {
	return []config.Channel{
		{Name: "pressure", Source: "simulated", Noise: 0.1},
		{Name: "flow_in", Source: "simulated"},
		{Name: "flow_out", Source: "simulated"},
	}
}
