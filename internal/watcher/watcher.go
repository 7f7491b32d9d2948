// Package watcher monitors the daemon configuration file and signals when
// it should be reloaded.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a single configuration file. Editors typically
// produce bursts of writes (or a rename-over), so changes are debounced:
// the file must be quiet for the debounce interval before a reload fires.
type ConfigWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration

	mu      sync.Mutex
	dirtyAt time.Time

	reloads chan struct{}
	errors  chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for the given config file path. The file does not
// need to exist yet; its directory is watched, so creating the file later
// also triggers a reload.
func New(path string, debounce time.Duration) (*ConfigWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &ConfigWatcher{
		fsWatcher: fsWatcher,
		path:      abs,
		debounce:  debounce,
		reloads:   make(chan struct{}, 1),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
	return w, nil
}

// Reloads returns the channel that fires when the config file has settled
// after a change.
func (w *ConfigWatcher) Reloads() <-chan struct{} {
	return w.reloads
}

// Errors returns the channel of watcher errors.
func (w *ConfigWatcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching.
func (w *ConfigWatcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *ConfigWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	return w.fsWatcher.Close()
}

func (w *ConfigWatcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.dirtyAt = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *ConfigWatcher) debounceLoop() {
	defer w.wg.Done()

	interval := w.debounce / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.mu.Lock()
			fire := !w.dirtyAt.IsZero() && now.Sub(w.dirtyAt) >= w.debounce
			if fire {
				w.dirtyAt = time.Time{}
			}
			w.mu.Unlock()

			if fire {
				select {
				case w.reloads <- struct{}{}:
				default:
					// A reload is already pending; coalesce.
				}
			}
		}
	}
}
