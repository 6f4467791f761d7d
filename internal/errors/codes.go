package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrBindFlags     ErrorCode = "bind_flags_failed"

	// Acquisition errors
	ErrSensorInvalid ErrorCode = "sensor_invalid"
	ErrSensorTimeout ErrorCode = "sensor_timeout"
	ErrUnknownSource ErrorCode = "unknown_sample_source"

	// Control errors
	ErrControlFault ErrorCode = "control_fault"

	// Coordinator errors
	ErrTickOverrun   ErrorCode = "tick_overrun"
	ErrActuatorFault ErrorCode = "actuator_fault"
	ErrEngineStopped ErrorCode = "engine_stopped"
	ErrWaitTimeout   ErrorCode = "snapshot_wait_timeout"
	ErrInitEngine    ErrorCode = "init_engine_failed"
	ErrMainLoop      ErrorCode = "main_loop_failed"

	// Alarm errors
	ErrUnknownAlarm   ErrorCode = "unknown_alarm_kind"
	ErrInvalidRule    ErrorCode = "invalid_alarm_rule"
	ErrInvalidChannel ErrorCode = "unknown_channel"

	// Recorder errors
	ErrInitRecorder  ErrorCode = "init_recorder_failed"
	ErrRecordFailed  ErrorCode = "record_snapshot_failed"
	ErrCloseRecorder ErrorCode = "close_recorder_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:        "Internal error occurred",
	ErrInvalidArgument: "Invalid argument provided",
	ErrAlreadyRunning:  "Another instance is already running",
	ErrInvalidConfig:   "Invalid configuration",
	ErrReadConfig:      "Failed to read configuration",
	ErrBindFlags:       "Failed to bind flags",
	ErrSensorInvalid:   "Sensor reading failed validity check",
	ErrSensorTimeout:   "Sensor poll exceeded deadline",
	ErrUnknownSource:   "Unknown sample source type",
	ErrControlFault:    "Control loop received invalid inputs",
	ErrTickOverrun:     "Tick exceeded deadline budget",
	ErrActuatorFault:   "Actuator command failed",
	ErrEngineStopped:   "Engine is not running",
	ErrWaitTimeout:     "Timed out waiting for next snapshot",
	ErrInitEngine:      "Failed to initialize engine",
	ErrMainLoop:        "Error in main loop",
	ErrUnknownAlarm:    "No rule found for alarm kind",
	ErrInvalidRule:     "Invalid alarm rule definition",
	ErrInvalidChannel:  "Rule references unknown channel",
	ErrInitRecorder:    "Failed to initialize snapshot recorder",
	ErrRecordFailed:    "Failed to record snapshot",
	ErrCloseRecorder:   "Failed to close snapshot recorder",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
