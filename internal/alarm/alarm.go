// Package alarm evaluates patient-safety alarm conditions against the live
// signal and maintains the set of active alarm records.
package alarm

import (
	"time"

	"github.com/google/uuid"

	"github.com/openventio/ventcore/internal/errors"
)

// Severity orders alarms for display priority. Higher severities never
// suppress lower ones; every active record stays visible.
type Severity int

const (
	Advisory Severity = iota + 1
	Caution
	Critical
)

func (s Severity) String() string {
	switch s {
	case Advisory:
		return "advisory"
	case Caution:
		return "caution"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a configured severity name.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "advisory":
		return Advisory, nil
	case "caution":
		return Caution, nil
	case "critical":
		return Critical, nil
	default:
		return 0, errors.New().WithData(errors.ErrInvalidRule, "unknown severity "+name)
	}
}

// Record is one alarm instance. Acknowledgement marks the record as seen but
// never clears it; only resolution of the underlying condition does.
type Record struct {
	ID           uuid.UUID
	Kind         string
	Severity     Severity
	Active       bool
	RaisedAt     time.Time
	ClearedAt    time.Time
	Acknowledged bool
	Value        float64
}
