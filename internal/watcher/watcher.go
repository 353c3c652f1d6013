// Package watcher monitors directories for dropped enroll/verify request
// files and emits them once they've stopped changing, for decdidctl's demo
// daemon mode.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event names a request file that has been stable for at least the
// debounce interval and is ready to be read and processed.
type Event struct {
	Path      string
	Size      int64
	Timestamp time.Time
}

// Watcher monitors directories for new or modified request files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	interval  time.Duration

	state   map[string]time.Time
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher over paths with the given debounce interval.
func New(paths []string, interval time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		paths:     paths,
		interval:  interval,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of stabilized request files.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch-loop errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching all configured paths.
func (w *Watcher) Start() error {
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return err
		}

		if !info.IsDir() {
			return &os.PathError{Op: "watch", Path: absPath, Err: os.ErrInvalid}
		}

		if err := w.fsWatcher.Add(absPath); err != nil {
			return err
		}

		entries, err := os.ReadDir(absPath)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				w.trackFile(filepath.Join(absPath, entry.Name()))
			}
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop gracefully shuts the watcher down, draining its goroutines first.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

func (w *Watcher) trackFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.stateMu.Lock()
	w.state[path] = info.ModTime()
	w.stateMu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			w.stateMu.Lock()
			w.state[event.Name] = time.Now()
			w.stateMu.Unlock()

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

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.checkStableFiles(now)
		}
	}
}

// tickInterval polls at a quarter of the debounce interval, capped to
// [100ms, 1s] so very short test intervals still converge quickly.
func (w *Watcher) tickInterval() time.Duration {
	t := w.interval / 4
	if t < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	if t > time.Second {
		return time.Second
	}
	return t
}

func (w *Watcher) checkStableFiles(now time.Time) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	threshold := now.Add(-w.interval)

	for path, lastMod := range w.state {
		if lastMod.Before(threshold) {
			info, err := os.Stat(path)
			if err != nil {
				select {
				case w.errors <- err:
				default:
				}
				delete(w.state, path)
				continue
			}

			event := Event{Path: path, Size: info.Size(), Timestamp: now}
			select {
			case w.events <- event:
				delete(w.state, path)
			default:
			}
		}
	}
}

// WatchedPaths returns the list of directories being watched.
func (w *Watcher) WatchedPaths() []string {
	return w.paths
}

// TrackedFiles returns the current number of files awaiting stabilization.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}
