// Package timer runs the bounded "heat for N hours" countdown. The deadline
// is persisted so a reboot resumes against the original absolute end time; a
// timer that expired while the power was out must never retroactively heat.
package timer

import (
	"log"
	"sync"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
	"github.com/sweeney/garage-thermostat/internal/settings"
)

// File is the persisted timer state file.
const File = "timer.json"

// DefaultPollInterval is how often the countdown compares now to the
// deadline. Coarse on purpose: the deadline is absolute, not tick-counted.
const DefaultPollInterval = 5 * time.Second

// Service persists and polls a single heating countdown. Starting a new
// timer supersedes a running one: each poll loop carries a generation
// number and exits quietly once it is stale.
type Service struct {
	store  *settings.Store
	events *bus.Bus

	mu           sync.Mutex
	now          func() time.Time
	pollInterval time.Duration
	generation   int
	endTime      time.Time
	running      bool
}

// New creates a Service over the given store and bus.
func New(store *settings.Store, events *bus.Bus) *Service {
	return &Service{
		store:        store,
		events:       events,
		now:          time.Now,
		pollInterval: DefaultPollInterval,
	}
}

// SetClock injects a clock for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetPollInterval overrides the poll cadence.
func (s *Service) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	s.pollInterval = d
	s.mu.Unlock()
}

// Start begins a countdown of the given duration: persists the deadline,
// enables heating through the normal setting-change path, and starts the
// poll loop. A running timer is superseded.
func (s *Service) Start(duration time.Duration) bool {
	if duration <= 0 {
		return false
	}

	s.mu.Lock()
	now := s.now()
	endTime := now.Add(duration)

	// Persist before superseding anything: a failed save must leave a
	// previously running countdown untouched, or its expiry would never
	// disable the heater.
	if !s.store.SaveState(map[string]any{
		"end_time":      float64(endTime.Unix()),
		"duration_secs": duration.Seconds(),
		"created_at":    float64(now.Unix()),
	}, File) {
		s.mu.Unlock()
		return false
	}

	s.endTime = endTime
	s.generation++
	gen := s.generation
	s.running = true
	interval := s.pollInterval
	s.mu.Unlock()

	log.Printf("timer: heating for %v (until %s)", duration, endTime.Format(time.RFC3339))
	s.events.Publish(bus.EventTimerStart, map[string]any{
		"action":    "enable",
		"timestamp": float64(now.Unix()),
	})
	s.publishMode(settings.ModeHeat, now)

	go s.poll(gen, endTime, interval)
	return true
}

// Resume restores a persisted timer at boot. A still-valid deadline resumes
// the poll loop with the remaining duration unchanged; an expired one is
// deleted and heating is explicitly disabled rather than resumed.
func (s *Service) Resume() bool {
	data := s.store.LoadState(File)
	if data == nil {
		return false
	}

	endUnix, ok := floatField(data, "end_time")
	if !ok {
		log.Printf("timer: invalid timer state, deleting")
		s.store.DeleteState(File)
		return false
	}

	s.mu.Lock()
	now := s.now()
	endTime := time.Unix(int64(endUnix), 0)
	if !endTime.After(now) {
		s.mu.Unlock()
		log.Printf("timer: expired during outage, not re-enabling heat")
		s.store.DeleteState(File)
		s.expireEvents(now)
		return false
	}

	s.endTime = endTime
	s.generation++
	gen := s.generation
	s.running = true
	interval := s.pollInterval
	s.mu.Unlock()

	log.Printf("timer: resuming with %v remaining", endTime.Sub(now).Round(time.Second))
	go s.poll(gen, endTime, interval)
	return true
}

// Stop cancels a running timer, deletes its state, and disables heating.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.generation++ // stale poll loops exit on their next tick
	s.running = false
	now := s.now()
	s.mu.Unlock()

	s.store.DeleteState(File)
	log.Printf("timer: stopped")
	s.expireEvents(now)
}

// Running reports whether a countdown is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Remaining returns the time left on the countdown, zero when idle.
func (s *Service) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	remaining := s.endTime.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// poll compares now to the absolute deadline until expiry or supersession.
func (s *Service) poll(gen int, endTime time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return // superseded by a newer timer or a stop
		}
		now := s.now()
		if now.Before(endTime) {
			s.mu.Unlock()
			continue
		}
		s.running = false
		// Delete under the lock so a concurrent Start cannot persist a
		// new deadline between this loop's expiry check and the delete.
		s.store.DeleteState(File)
		s.mu.Unlock()

		log.Printf("timer: expired")
		s.expireEvents(now)
		return
	}
}

// expireEvents publishes the end-of-timer event and the mode-disable
// setting change that turns heating off through the normal path.
func (s *Service) expireEvents(now time.Time) {
	s.events.Publish(bus.EventTimerEnd, map[string]any{
		"action":    "disable",
		"timestamp": float64(now.Unix()),
	})
	s.publishMode(settings.ModeOff, now)
}

func (s *Service) publishMode(mode string, now time.Time) {
	s.events.Publish(bus.EventTempSettingChanged, map[string]any{
		"setting":   bus.SettingHeaterMode,
		"value":     mode,
		"timestamp": float64(now.Unix()),
	})
}

func floatField(data map[string]any, key string) (float64, bool) {
	switch n := data[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
