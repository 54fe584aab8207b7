package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads messages.yaml on change.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	onChange func(*Config)
	logger   *log.Logger
}

// WatchFile starts watching path for writes and invokes onChange with the
// freshly loaded (and env-overridden) Config each time it changes. Caller
// must call Close when done. logger may be nil.
func WatchFile(path string, onChange func(*Config), logger *log.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, path: path, onChange: onChange, logger: logger}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadWithEnv(w.path)
			if err != nil {
				w.logf("config: reload of %s failed: %v", w.path, err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logf("config: watch error: %v", err)
		}
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
