package alarm

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openventio/ventcore/internal/config"
	"github.com/openventio/ventcore/internal/waveform"
)

const loggedLimit = 128

// ChannelView is the read access the evaluator needs into the waveform
// history. Implemented by the engine over its per-channel buffers.
type ChannelView interface {
	Latest(channel string) (waveform.Sample, bool)
	Recent(channel string, n int) []waveform.Sample
}

type ruleState struct {
	cfg         config.AlarmRule
	severity    Severity
	minDuration time.Duration

	pending      bool
	pendingSince time.Time
	record       *Record
}

// Evaluator holds the configured rules plus coordinator-raised system
// conditions. It is driven once per tick from the coordinator goroutine;
// the mutex guards the consumer-facing accessors.
type Evaluator struct {
	mu     sync.Mutex
	rules  []*ruleState
	system map[string]*Record
	logged []Record
}

// NewEvaluator builds an evaluator from the configured rules.
func NewEvaluator(rules []config.AlarmRule) (*Evaluator, error) {
	e := &Evaluator{
		system: make(map[string]*Record),
	}

	for _, rc := range rules {
		severity, err := ParseSeverity(rc.Severity)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, &ruleState{
			cfg:         rc,
			severity:    severity,
			minDuration: time.Duration(rc.MinDurationMs) * time.Millisecond,
		})
	}

	return e, nil
}

// Evaluate checks every rule against the current signal and returns the full
// set of active records ranked by severity, then age. The command argument is
// accepted so rules can be extended to actuator demand; none of the built-in
// kinds use it yet.
func (e *Evaluator) Evaluate(now time.Time, view ChannelView, _ float64) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rs := range e.rules {
		e.checkRule(rs, now, view)
	}

	return e.activeLocked()
}

func (e *Evaluator) checkRule(rs *ruleState, now time.Time, view ChannelView) {
	triggered, cleared, value, ok := ruleCondition(rs.cfg, view)
	if !ok {
		// No usable signal this tick; retain current state.
		return
	}

	if rs.record != nil {
		rs.record.Value = value
		// Hysteresis: deactivate only once the distinct clear threshold is
		// crossed, and immediately when it is.
		if cleared {
			rs.record.Active = false
			rs.record.ClearedAt = now
			e.appendLogged(*rs.record)
			rs.record = nil
			rs.pending = false
		}
		return
	}

	if !triggered {
		rs.pending = false
		return
	}

	if rs.minDuration > 0 {
		if !rs.pending {
			rs.pending = true
			rs.pendingSince = now
			return
		}
		if now.Sub(rs.pendingSince) < rs.minDuration {
			return
		}
	}

	rs.pending = false
	rs.record = &Record{
		ID:       uuid.New(),
		Kind:     rs.cfg.Name,
		Severity: rs.severity,
		Active:   true,
		RaisedAt: now,
		Value:    value,
	}
}

// ruleCondition reports whether the rule's trigger and clear conditions hold
// for the current signal. ok is false when the channel has no valid sample to
// judge by.
func ruleCondition(cfg config.AlarmRule, view ChannelView) (triggered, cleared bool, value float64, ok bool) {
	switch cfg.Kind {
	case "threshold_high":
		s, found := view.Latest(cfg.Channel)
		if !found || !s.Valid {
			return false, false, 0, false
		}
		return s.Value >= cfg.Activate, s.Value <= cfg.Deactivate, s.Value, true

	case "threshold_low":
		s, found := view.Latest(cfg.Channel)
		if !found || !s.Valid {
			return false, false, 0, false
		}
		return s.Value <= cfg.Activate, s.Value >= cfg.Deactivate, s.Value, true

	case "rate":
		recent := view.Recent(cfg.Channel, 2)
		if len(recent) < 2 || !recent[0].Valid || !recent[1].Valid {
			return false, false, 0, false
		}
		dt := recent[1].Time.Sub(recent[0].Time).Seconds()
		if dt <= 0 {
			return false, false, 0, false
		}
		rate := (recent[1].Value - recent[0].Value) / dt
		if rate < 0 {
			rate = -rate
		}
		clearBelow := cfg.Deactivate
		if clearBelow <= 0 || clearBelow >= cfg.RateLimit {
			clearBelow = cfg.RateLimit
		}
		return rate >= cfg.RateLimit, rate < clearBelow, rate, true

	default:
		return false, false, 0, false
	}
}

// SetCondition raises or resolves a coordinator-owned condition such as
// fail-safe entry, sustained sensor invalidity or overrun degradation. It
// shares the Record type with rule alarms so consumers see one alarm surface.
func (e *Evaluator) SetCondition(kind string, severity Severity, active bool, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.system[kind]
	if active {
		if rec == nil {
			e.system[kind] = &Record{
				ID:       uuid.New(),
				Kind:     kind,
				Severity: severity,
				Active:   true,
				RaisedAt: time.Now(),
				Value:    value,
			}
			return
		}
		rec.Value = value
		return
	}

	if rec != nil {
		rec.Active = false
		rec.ClearedAt = time.Now()
		e.appendLogged(*rec)
		delete(e.system, kind)
	}
}

// Acknowledge marks an active alarm as seen without clearing it. Returns
// false if no active record matches the kind.
func (e *Evaluator) Acknowledge(kind string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rs := range e.rules {
		if rs.record != nil && rs.record.Kind == kind {
			rs.record.Acknowledged = true
			return true
		}
	}
	if rec, ok := e.system[kind]; ok {
		rec.Acknowledged = true
		return true
	}

	return false
}

// Active returns the currently active records ranked by severity, then age.
func (e *Evaluator) Active() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

// Logged returns resolved alarms, most recent last, bounded in length.
func (e *Evaluator) Logged() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Record, len(e.logged))
	copy(out, e.logged)
	return out
}

func (e *Evaluator) activeLocked() []Record {
	var out []Record
	for _, rs := range e.rules {
		if rs.record != nil {
			out = append(out, *rs.record)
		}
	}
	for _, rec := range e.system {
		out = append(out, *rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if !out[i].RaisedAt.Equal(out[j].RaisedAt) {
			return out[i].RaisedAt.Before(out[j].RaisedAt)
		}
		return out[i].Kind < out[j].Kind
	})

	return out
}

func (e *Evaluator) appendLogged(rec Record) {
	e.logged = append(e.logged, rec)
	if len(e.logged) > loggedLimit {
		e.logged = e.logged[len(e.logged)-loggedLimit:]
	}
}
