package engine

// State is the coordinator's operating state.
type State int

const (
	Starting State = iota
	Running
	OverrunDegraded
	FailSafe
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case OverrunDegraded:
		return "overrun_degraded"
	case FailSafe:
		return "fail_safe"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Alarm kinds raised by the coordinator itself, alongside the configured
// signal rules.
const (
	AlarmFailSafe    = "fail_safe"
	AlarmSensorFault = "sensor_fault"
	AlarmOverrun     = "tick_overrun"
	AlarmControl     = "control_fault"
)
