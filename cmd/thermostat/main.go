// Command thermostat runs the garage heater controller: it samples the
// temperature sensor, drives the heater relay through hysteresis control,
// and persists settings and timed-heat state across restarts.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
	"github.com/sweeney/garage-thermostat/internal/config"
	"github.com/sweeney/garage-thermostat/internal/relay"
	"github.com/sweeney/garage-thermostat/internal/safety"
	"github.com/sweeney/garage-thermostat/internal/sensor"
	"github.com/sweeney/garage-thermostat/internal/settings"
	"github.com/sweeney/garage-thermostat/internal/status"
	"github.com/sweeney/garage-thermostat/internal/thermostat"
	"github.com/sweeney/garage-thermostat/internal/timer"
)

// initAttempts is how many times hardware setup is retried before giving up.
const initAttempts = 3

func main() {
	configPath := flag.String("config", "/etc/thermostat/config.yaml", "YAML config path (empty for defaults)")
	dataDir := flag.String("data-dir", "", "Override the persisted-state directory")
	relayPin := flag.Int("relay-pin", -1, "Override the BCM relay pin")
	sensorPath := flag.String("sensor", "", "Override the sysfs temperature file")
	printState := flag.Bool("print-state", false, "Print current sensor and relay state and exit")
	timedHeat := flag.Duration("timed-heat", 0, "Start a timed heating run of this duration on boot")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *relayPin >= 0 {
		cfg.RelayPin = *relayPin
	}
	if *sensorPath != "" {
		cfg.SensorPath = *sensorPath
	}

	if err := run(cfg, *printState, *timedHeat); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, printState bool, timedHeat time.Duration) error {
	// Initialize the relay, retrying in case the GPIO chip is slow to
	// appear after boot.
	rly, err := initRelay(cfg.RelayPin)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer rly.Close()

	reader := sensor.NewFileReader(cfg.SensorPath)
	defer reader.Close()

	// Print state mode
	if printState {
		temp, err := reader.ReadFahrenheit()
		if err != nil {
			return fmt.Errorf("read sensor: %w", err)
		}
		on, err := rly.IsActive()
		if err != nil {
			return fmt.Errorf("read relay: %w", err)
		}
		fmt.Printf("temperature: %.1f°F, heater: %s\n", temp, onOff(on))
		return nil
	}

	events := bus.New()

	store, err := settings.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init settings store: %w", err)
	}

	// The controller subscribes before the settings manager so restored
	// values are applied in memory before they are re-persisted.
	ctrl := thermostat.New(events, rly, thermostat.DefaultSettings())
	if err := ctrl.Start(); err != nil {
		return err
	}

	manager := settings.NewManager(store, events)
	if !manager.Start() {
		return fmt.Errorf("init settings manager: subscribe failed")
	}
	restored := manager.RestoreAll()
	log.Printf("restored %d persisted settings from %s", restored, cfg.DataDir)

	timers := timer.New(store, events)
	timers.SetPollInterval(cfg.TimerPoll())
	if timers.Resume() {
		log.Printf("resumed timed heat, %v remaining", timers.Remaining())
	}
	if timedHeat > 0 {
		if timers.Start(timedHeat) {
			log.Printf("started timed heat for %v", timedHeat)
		}
	}

	// External edits to the settings files are picked up live.
	watcher, err := settings.NewWatcher(store, manager, events)
	if err != nil {
		log.Printf("settings watcher unavailable: %v", err)
	} else {
		watcher.Start()
		defer watcher.Close()
	}

	// Sensor freshness is tracked here and shared with the safety monitor.
	var sensorMu sync.Mutex
	lastGood := time.Now()
	markGood := func(t time.Time) {
		sensorMu.Lock()
		lastGood = t
		sensorMu.Unlock()
	}
	sinceGood := func() time.Duration {
		sensorMu.Lock()
		defer sensorMu.Unlock()
		return time.Since(lastGood)
	}

	monitor := safety.New(events)
	monitor.SetCheckInterval(cfg.SafetyInterval())
	monitor.RegisterEmergencyStop(ctrl.EmergencyShutdown)
	monitor.RegisterEmergencyStop(timers.Stop)
	monitor.AddCondition("over_temperature", func() bool {
		temp, ok := ctrl.CurrentTemp()
		if !ok {
			return true // staleness is its own condition
		}
		return temp < cfg.MaxSafeTemp
	}, safety.SeverityCritical, 3, nil)
	monitor.AddCondition("sensor_stale", func() bool {
		return sinceGood() < cfg.SensorStaleAfter()
	}, safety.SeverityHigh, 1, nil)
	monitor.AddCondition("relay_readback", func() bool {
		_, err := rly.IsActive()
		return err == nil
	}, safety.SeverityMedium, 1, nil)

	tracker := status.NewTracker(time.Now(), status.Config{
		SensorPollMs:  cfg.SensorPoll().Milliseconds(),
		SafetyCheckMs: cfg.SafetyInterval().Milliseconds(),
		HeartbeatMs:   cfg.Heartbeat().Milliseconds(),
		RelayPin:      cfg.RelayPin,
		SensorPath:    cfg.SensorPath,
		DataDir:       cfg.DataDir,
	})
	updateTracker(tracker, ctrl, monitor, timers, rly, events)
	log.Printf("%s", status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", ""))

	log.Printf("started: poll=%v safety=%v data=%s pin=%d",
		cfg.SensorPoll(), cfg.SafetyInterval(), cfg.DataDir, cfg.RelayPin)

	sensorTicker := time.NewTicker(cfg.SensorPoll())
	defer sensorTicker.Stop()
	safetyTicker := time.NewTicker(cfg.SafetyInterval())
	defer safetyTicker.Stop()

	var heartbeat <-chan time.Time
	if cfg.Heartbeat() > 0 {
		hb := time.NewTicker(cfg.Heartbeat())
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		reader:   reader,
		relay:    rly,
		events:   events,
		ctrl:     ctrl,
		monitor:  monitor,
		timers:   timers,
		tracker:  tracker,
		markGood: markGood,
		now:      time.Now,
	}, sensorTicker.C, safetyTicker.C, heartbeat, sigCh)
}

// loopDeps bundles the run loop collaborators so tests can substitute fakes.
type loopDeps struct {
	reader   sensor.Reader
	relay    relay.Relay
	events   *bus.Bus
	ctrl     *thermostat.Controller
	monitor  *safety.Monitor
	timers   *timer.Service
	tracker  *status.Tracker
	markGood func(time.Time)
	now      func() time.Time
}

func runLoop(d loopDeps, sensorTick, safetyTick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.ctrl.Shutdown()
			updateTracker(d.tracker, d.ctrl, d.monitor, d.timers, d.relay, d.events)
			log.Printf("%s", status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName))
			return nil

		case <-sensorTick:
			t := d.now()
			temp, err := d.reader.ReadFahrenheit()
			if err != nil {
				log.Printf("sensor read error: %v", err)
				d.events.Publish(bus.EventSensorError, map[string]any{
					"error":     err.Error(),
					"timestamp": t.Unix(),
				})
				continue
			}
			d.markGood(t)
			d.events.Publish(bus.EventTemperatureCurrent, map[string]any{
				"temp":      temp,
				"timestamp": t.Unix(),
			})
			updateTracker(d.tracker, d.ctrl, d.monitor, d.timers, d.relay, d.events)

		case <-safetyTick:
			d.monitor.CheckSafety()
			updateTracker(d.tracker, d.ctrl, d.monitor, d.timers, d.relay, d.events)

		case <-heartbeat:
			updateTracker(d.tracker, d.ctrl, d.monitor, d.timers, d.relay, d.events)
			log.Printf("%s", status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", ""))
		}
	}
}

func updateTracker(tracker *status.Tracker, ctrl *thermostat.Controller, monitor *safety.Monitor, timers *timer.Service, rly relay.Relay, events *bus.Bus) {
	var tempPtr *float64
	if temp, ok := ctrl.CurrentTemp(); ok {
		tempPtr = &temp
	}
	on, err := rly.IsActive()
	if err != nil {
		on = false
	}
	cfg := ctrl.Settings()
	tracker.Update(string(ctrl.State()), string(cfg.Mode), on, tempPtr, cfg.Setpoint)
	tracker.SetSafety(string(monitor.Status()), monitor.Active())
	tracker.SetTimer(timers.Running(), timers.Remaining())
	tracker.SetBusStats(events.Stats())
}

// initRelay claims the relay line, retrying briefly; on a garage controller
// the GPIO character device can lag the daemon at boot.
func initRelay(pin int) (relay.Relay, error) {
	var lastErr error
	for attempt := 1; attempt <= initAttempts; attempt++ {
		rly, err := relay.NewRealRelay(pin)
		if err == nil {
			return rly, nil
		}
		lastErr = err
		log.Printf("relay init attempt %d/%d failed: %v", attempt, initAttempts, err)
		if attempt < initAttempts {
			time.Sleep(time.Second)
		}
	}
	return nil, lastErr
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
