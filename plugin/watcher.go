// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package plugin

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	vnc "github.com/tenthirtyam/anyvnc"
)

// DefaultDebounce is how long a watcher waits for a burst of file events to
// settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to the modules of a native plugin directory.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Watch calls onChange once per settled burst of events that create, write,
// remove or rename a module file in dir.
func Watch(dir string, debounce time.Duration, logger vnc.Logger, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, vnc.WrapError("plugin.Watch", vnc.ErrPlugin, "failed to create watcher", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, vnc.WrapError("plugin.Watch", vnc.ErrPlugin, "failed to watch "+dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger = vnc.OrNoOp(logger)

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
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
				if !IsModuleFile(event.Name) || event.Op == fsnotify.Chmod {
					continue
				}
				logger.Debug("plugin module changed", vnc.Field{Key: "path", Value: event.Name}, vnc.Field{Key: "op", Value: event.Op.String()})
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					select {
					case <-w.done:
					default:
						onChange()
					}
				})
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn("plugin watcher error", vnc.Field{Key: "error", Value: err})
			case <-w.done:
				return
			}
		}
	}()
	return w, nil
}

// Close stops the watcher. Pending notifications are dropped.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
