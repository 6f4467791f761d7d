package recorder

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/engine"
	"github.com/openventio/ventcore/internal/sensor"
	"github.com/openventio/ventcore/internal/waveform"
)

func testSnapshot(seq uint64) *engine.Snapshot {
	return &engine.Snapshot{
		Seq:   seq,
		State: engine.Running,
		Time:  time.Unix(1700000000, 0),
		Latest: map[string]waveform.Sample{
			"pressure": {Channel: "pressure", Value: 5.2, Valid: true},
			"flow_in":  {Channel: "flow_in", Value: 0.8, Valid: true},
		},
		Command:  42,
		Setpoint: 5,
		Counters: engine.Counters{Ticks: seq},
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Enabled = true
	cfg.DBPath = ""
	assert.Error(t, cfg.Validate())
}

func TestDisabledServiceIsNoop(t *testing.T) {
	c, err := NewService(Config{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, c.Record(context.Background(), testSnapshot(1)))
	assert.NoError(t, c.Close())
}

func TestServiceRejectsNilSnapshot(t *testing.T) {
	cfg := Config{
		DBPath:    filepath.Join(t.TempDir(), "telemetry.db"),
		Enabled:   true,
		BatchSize: 8,
	}
	c, err := NewService(cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Error(t, c.Record(context.Background(), nil))
}

func TestRepositoryRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	repo, err := NewRepository(Config{
		DBPath:    dbPath,
		Enabled:   true,
		BatchSize: 2,
	})
	require.NoError(t, err)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, repo.Record(testSnapshot(seq)))
	}
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var snapshots int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&snapshots))
	assert.Equal(t, 3, snapshots)

	var samples int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM snapshot_samples").Scan(&samples))
	assert.Equal(t, 6, samples)

	var state string
	var command float64
	require.NoError(t, db.QueryRow(
		"SELECT state, command FROM snapshots WHERE seq = 2").Scan(&state, &command))
	assert.Equal(t, "running", state)
	assert.Equal(t, 42.0, command)

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestRepositoryReopensExistingSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	cfg := Config{DBPath: dbPath, Enabled: true, BatchSize: 1}

	repo, err := NewRepository(cfg)
	require.NoError(t, err)
	require.NoError(t, repo.Record(testSnapshot(1)))
	require.NoError(t, repo.Close())

	repo, err = NewRepository(cfg)
	require.NoError(t, err)
	require.NoError(t, repo.Record(testSnapshot(2)))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var snapshots int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&snapshots))
	assert.Equal(t, 2, snapshots)
}

// countingCollector counts records without persisting them.
type countingCollector struct {
	records atomic.Int64
}

func (c *countingCollector) Record(_ context.Context, _ *engine.Snapshot) error {
	c.records.Add(1)
	return nil
}

func (c *countingCollector) Close() error { return nil }

type constantSource struct{ name string }

func (s constantSource) Name() string { return s.name }

func (s constantSource) Poll(_ context.Context) (sensor.Reading, error) {
	return sensor.Reading{Value: 5, Time: time.Now(), Valid: true}, nil
}

type nullActuator struct{ last float64 }

func (a *nullActuator) Apply(command float64) error {
	a.last = command
	return nil
}

func (a *nullActuator) ApplySafe() error {
	a.last = 0
	return nil
}

func (a *nullActuator) LastCommand() float64 { return a.last }

func TestConsumeSkipsDuplicateSequences(t *testing.T) {
	cfg := &config.Config{
		TickPeriodMs:    5,
		BufferCapacity:  16,
		SensorTimeoutMs: 2,
		SensorTolerance: 5,
		DegradedAfter:   3,
		FailSafeAfter:   10,
		RecoverAfter:    5,
		Control: config.Control{
			Channel:   "pressure",
			Setpoint:  5,
			Kp:        1,
			OutputMax: 100,
		},
	}
	eng, err := engine.New(cfg, []sensor.Source{constantSource{"pressure"}}, &nullActuator{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	collector := &countingCollector{}
	consumeDone := make(chan struct{})
	go func() {
		Consume(ctx, collector, eng, 20*time.Millisecond)
		close(consumeDone)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-consumeDone:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancel")
	}

	recorded := collector.records.Load()
	assert.Greater(t, recorded, int64(0))

	// The consumer paces itself per published snapshot; it can skip ticks
	// when behind but must never see more snapshots than were published.
	assert.LessOrEqual(t, recorded, int64(eng.Latest().Seq))
}
