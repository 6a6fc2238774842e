// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	vnc "github.com/tenthirtyam/anyvnc"
)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Watch calls fn with the reloaded configuration after path is written,
// created or renamed into place. Reload errors are passed to fn with a nil
// configuration. The directory is watched so editors that replace the file
// are noticed.
func Watch(path string, debounce time.Duration, logger vnc.Logger, fn func(*Config, error)) (*Watcher, error) {
	path = filepath.Clean(path)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, vnc.WrapError("config.Watch", vnc.ErrConfiguration, "failed to create watcher", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, vnc.WrapError("config.Watch", vnc.ErrConfiguration, "failed to watch "+path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger = vnc.OrNoOp(logger)

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	reload := func() {
		select {
		case <-w.done:
			return
		default:
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("failed to reload configuration", vnc.Field{Key: "path", Value: path}, vnc.Field{Key: "error", Value: err})
		}
		fn(cfg, err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, reload)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn("configuration watcher error", vnc.Field{Key: "error", Value: err})
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

// Close stops watching. A reload already in progress may still call fn.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
