package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last detected write
// before reloading, coalescing the burst of events a single save
// typically produces into one reload.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reloads a Config from disk whenever its backing file changes,
// invoking onChange with the freshly loaded value. Reload errors (a
// transient read failure, invalid YAML mid-write) are reported to
// onError and do not stop watching.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Watch starts watching configFile for changes and returns a Watcher the
// caller must Close. onChange is never called concurrently with itself.
func Watch(ctx context.Context, configFile string, debounce time.Duration, onChange func(*Config), onError func(error)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(configFile)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{path: configFile, debounce: debounce, watcher: fsw, cancel: cancel}

	w.wg.Add(1)
	go w.run(wctx, onChange, onError)
	return w, nil
}

func (w *Watcher) run(ctx context.Context, onChange func(*Config), onError func(error)) {
	defer w.wg.Done()
	defer w.watcher.Close()

	absTarget, err := filepath.Abs(w.path)
	if err != nil {
		absTarget = w.path
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil {
				eventPath = event.Name
			}
			if eventPath != absTarget {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			cfg, err := Load(w.path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(cfg)
		}
	}
}

// Close stops watching and waits for the internal goroutine to exit.
func (w *Watcher) Close() error {
	w.cancel()
	w.wg.Wait()
	return nil
}
