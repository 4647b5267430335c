package settings

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
)

// Persisted file names, one setting per file so a single corrupt file never
// blocks restoring the others.
const (
	FileSetpoint         = "setpoint.json"
	FileCycleDelay       = "cycle_delay.json"
	FileMinRunTime       = "min_run_time.json"
	FileTempDifferential = "temp_differential.json"
	FileHeaterMode       = "heater_mode.json"
)

// Allowed setpoint range in °F.
const (
	MinSetpoint = 50.0
	MaxSetpoint = 90.0
)

// Heater mode values carried in HEATER_MODE setting changes.
const (
	ModeOff  = "off"
	ModeHeat = "heat"
)

// ValidationError reports a rejected setting value. The prior value is
// retained and no state changes.
type ValidationError struct {
	Setting string
	Value   any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings: invalid %s value: %v", e.Setting, e.Value)
}

// settingDef binds an event setting name to its file, JSON field, and
// validation rule.
type settingDef struct {
	name     string
	file     string
	field    string
	unit     string
	validate func(any) error
}

func validateNumber(name string, min func(float64) bool) func(any) error {
	return func(v any) error {
		n, ok := toFloat(v)
		if !ok || !min(n) {
			return &ValidationError{Setting: name, Value: v}
		}
		return nil
	}
}

var settingDefs = []settingDef{
	{
		name:  bus.SettingSetpoint,
		file:  FileSetpoint,
		field: "setpoint",
		unit:  "°F",
		validate: validateNumber(bus.SettingSetpoint, func(n float64) bool {
			return n >= MinSetpoint && n <= MaxSetpoint
		}),
	},
	{
		name:  bus.SettingCycleDelay,
		file:  FileCycleDelay,
		field: "cycle_delay",
		unit:  "s",
		validate: validateNumber(bus.SettingCycleDelay, func(n float64) bool {
			return n >= 0
		}),
	},
	{
		name:  bus.SettingMinRunTime,
		file:  FileMinRunTime,
		field: "min_run_time",
		unit:  "s",
		validate: validateNumber(bus.SettingMinRunTime, func(n float64) bool {
			return n >= 0
		}),
	},
	{
		name:  bus.SettingTempDifferential,
		file:  FileTempDifferential,
		field: "temp_differential",
		unit:  "°F",
		validate: validateNumber(bus.SettingTempDifferential, func(n float64) bool {
			return n > 0
		}),
	},
	{
		name:  bus.SettingHeaterMode,
		file:  FileHeaterMode,
		field: "heater_mode",
		validate: func(v any) error {
			mode, ok := v.(string)
			if !ok || (mode != ModeOff && mode != ModeHeat) {
				return &ValidationError{Setting: bus.SettingHeaterMode, Value: v}
			}
			return nil
		},
	},
}

func defByName(name string) *settingDef {
	for i := range settingDefs {
		if settingDefs[i].name == name {
			return &settingDefs[i]
		}
	}
	return nil
}

// Files returns the list of setting file names the manager owns.
func Files() []string {
	files := make([]string, len(settingDefs))
	for i, def := range settingDefs {
		files[i] = def.file
	}
	return files
}

// Validate checks a setting value against its rule. Unknown settings are
// invalid.
func Validate(name string, value any) error {
	def := defByName(name)
	if def == nil {
		return &ValidationError{Setting: name, Value: value}
	}
	return def.validate(value)
}

// Manager persists accepted setting changes and republishes persisted
// settings at boot. Storage format and runtime application are decoupled:
// the manager never touches the controller, it only writes files and
// publishes temp_setting_changed events.
type Manager struct {
	store  *Store
	events *bus.Bus
	now    func() time.Time

	mu      sync.Mutex
	current map[string]any
}

// NewManager creates a Manager over store, publishing to events.
func NewManager(store *Store, events *bus.Bus) *Manager {
	return &Manager{
		store:   store,
		events:  events,
		now:     time.Now,
		current: make(map[string]any),
	}
}

// SetClock injects a clock for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Start subscribes the manager to setting-change events. Call after the
// controller has subscribed so the in-memory value is applied before the
// save is attempted.
func (m *Manager) Start() bool {
	return m.events.Subscribe(bus.EventTempSettingChanged, m.handleChange)
}

// Current returns the last accepted value for a setting name.
func (m *Manager) Current(name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.current[name]
	return v, ok
}

// handleChange validates and persists one setting change. A rejected value
// is returned as an error (counted by the bus) with no state change.
func (m *Manager) handleChange(event bus.Event) error {
	name, _ := event.Payload["setting"].(string)
	value := event.Payload["value"]

	def := defByName(name)
	if def == nil {
		return &ValidationError{Setting: name, Value: value}
	}
	if err := def.validate(value); err != nil {
		return err
	}

	timestamp, ok := toFloat(event.Payload["timestamp"])
	if !ok {
		timestamp = float64(m.now().Unix())
	}

	if !m.store.SaveState(map[string]any{
		def.field:   value,
		"timestamp": timestamp,
	}, def.file) {
		return fmt.Errorf("settings: save %s failed", def.file)
	}

	m.mu.Lock()
	old, had := m.current[name]
	m.current[name] = value
	m.mu.Unlock()

	if had {
		log.Printf("settings: %s changed from %v%s to %v%s", name, old, def.unit, value, def.unit)
	} else {
		log.Printf("settings: %s set to %v%s", name, value, def.unit)
	}
	return nil
}

// RestoreAll loads every known setting file independently and republishes
// each valid value as a temp_setting_changed event, so the controller
// applies it through its normal code path. A missing or corrupt file only
// skips that one setting.
func (m *Manager) RestoreAll() int {
	restored := 0
	for _, def := range settingDefs {
		if m.restore(def) {
			restored++
		}
	}
	return restored
}

func (m *Manager) restore(def settingDef) bool {
	data := m.store.LoadState(def.file)
	if data == nil {
		log.Printf("settings: no saved %s", def.name)
		return false
	}

	value, ok := data[def.field]
	if !ok {
		log.Printf("settings: %s missing %q field", def.file, def.field)
		return false
	}
	if err := def.validate(value); err != nil {
		log.Printf("settings: %v", err)
		return false
	}

	timestamp := data["timestamp"]
	m.events.Publish(bus.EventTempSettingChanged, map[string]any{
		"setting":   def.name,
		"value":     value,
		"timestamp": timestamp,
	})
	log.Printf("settings: restored %s = %v%s", def.name, value, def.unit)
	return true
}
