package config

// file: internal/config/watcher.go

import (
	"github.com/fsnotify/fsnotify"

	"github.com/fastrpc/fast/internal/fasterror"
	"github.com/fastrpc/fast/internal/logging"
)

// Watcher reloads a Settings file on write, the same fsnotify-driven
// pattern codesjoy-yggdrasil's file config source uses. It is optional:
// constructing a client or server from a static *Settings never requires
// one.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	logger logging.Logger
	done   chan struct{}
}

// WatchFile starts watching path for writes, invoking onChange with the
// freshly reloaded Settings (or the reload error) after each write event.
// Call Close to stop watching.
func WatchFile(path string, logger logging.Logger, onChange func(*Settings, error)) (*Watcher, error) {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fasterror.Wrap(err, fasterror.CategoryMisc, "", "failed to create config watcher", nil)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fasterror.Wrap(err, fasterror.CategoryMisc, "", "failed to watch config file", map[string]any{
			"path": path,
		})
	}

	w := &Watcher{fsw: fsw, path: path, logger: logger.WithField("component", "config_watcher"), done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func(*Settings, error)) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("config file changed", "path", event.Name, "op", event.Op.String())
			settings, err := Load(w.path)
			onChange(settings, err)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err.Error())
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
