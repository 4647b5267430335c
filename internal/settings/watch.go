package settings

import (
	"log"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/sweeney/garage-thermostat/internal/bus"
)

// Watcher picks up setting files rewritten by external collaborators (the
// debug console or a settings API write the same files this store owns) and
// republishes the changed values as temp_setting_changed events.
type Watcher struct {
	store   *Store
	manager *Manager
	events  *bus.Bus
	watcher *fsnotify.Watcher
	done    chan struct{}
	started bool
}

// NewWatcher creates a Watcher over the store directory.
func NewWatcher(store *Store, manager *Manager, events *bus.Bus) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.Dir()); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		store:   store,
		manager: manager,
		events:  events,
		watcher: fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.started = true
	go w.loop()
}

// Close stops watching. Only the loop goroutine closes done, so it is
// awaited only when Start actually ran.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.handleFile(filepath.Base(event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("settings: watcher error: %v", err)
		}
	}
}

// handleFile reloads one changed setting file. Our own atomic saves also
// land here (the rename produces a Create event), so the loaded value is
// compared against the manager's current value and only genuinely new
// values are republished — otherwise every save would echo forever.
func (w *Watcher) handleFile(name string) {
	if strings.HasSuffix(name, ".tmp") {
		return
	}

	var def *settingDef
	for i := range settingDefs {
		if settingDefs[i].file == name {
			def = &settingDefs[i]
			break
		}
	}
	if def == nil {
		return // timer.json and anything else is not ours to echo
	}

	data := w.store.LoadState(name)
	if data == nil {
		return // mid-write or corrupt; the next event will retry
	}
	value, ok := data[def.field]
	if !ok {
		return
	}
	if err := def.validate(value); err != nil {
		log.Printf("settings: watcher: %v", err)
		return
	}

	if current, ok := w.manager.Current(def.name); ok && sameValue(current, value) {
		return
	}

	log.Printf("settings: %s changed on disk, applying %v%s", def.name, value, def.unit)
	w.events.Publish(bus.EventTempSettingChanged, map[string]any{
		"setting":   def.name,
		"value":     value,
		"timestamp": data["timestamp"],
	})
}

// sameValue compares a held value with a JSON-decoded one. Numbers decode
// as float64 regardless of how they were published, so numeric values are
// compared as floats.
func sameValue(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}
