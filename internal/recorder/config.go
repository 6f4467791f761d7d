package recorder

import "github.com/openventio/ventcore/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/ventcore/telemetry.db"
	defaultBatchSize    = 64
	defaultBatchTimeout = 5 // seconds
)

type Config struct {
	DBPath       string
	Enabled      bool
	BatchSize    int
	BatchTimeout int
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if the recorder is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(errors.ErrInitRecorder)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
