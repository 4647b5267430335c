package bus

// Event types published by the core. Payload fields are documented in the
// constant comments; timestamps are unix seconds unless noted.
const (
	// EventTemperatureCurrent carries a sensor reading: {temp, timestamp}.
	EventTemperatureCurrent = "temperature_current"

	// EventTempSettingChanged carries a thermostat setting change:
	// {setting, value, timestamp}. Published by the settings store on
	// restore, by the timer service, and by anything acting on behalf of
	// the user. The controller applies all setting changes through this
	// one event.
	EventTempSettingChanged = "temp_setting_changed"

	// EventHeaterActivated / EventHeaterDeactivated mark relay commands:
	// {temp, setpoint, timestamp}.
	EventHeaterActivated   = "heater_activated"
	EventHeaterDeactivated = "heater_deactivated"

	// EventTimerStart / EventTimerEnd mark bounded-heat timer lifecycle:
	// {action, timestamp}.
	EventTimerStart = "thermostat_timer_start"
	EventTimerEnd   = "thermostat_timer_end"

	// EventSafetyViolation is published when a condition crosses its
	// threshold: {condition, severity, status}.
	EventSafetyViolation = "safety_violation"

	// EventSensorError reports a failed temperature read: {error, timestamp}.
	EventSensorError = "sensor_error"

	// EventHardwareError reports a failed relay command: {op, error, timestamp}.
	EventHardwareError = "hardware_error"
)

// Setting names carried in EventTempSettingChanged payloads.
const (
	SettingSetpoint         = "SETPOINT"
	SettingCycleDelay       = "CYCLE_DELAY"
	SettingMinRunTime       = "MIN_RUN_TIME"
	SettingTempDifferential = "TEMP_DIFFERENTIAL"
	SettingHeaterMode       = "HEATER_MODE"
)
