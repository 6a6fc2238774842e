// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package server

import (
	"context"
	"errors"
	"sync"
	"time"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// DefaultRetryInterval is the pause after a failed run.
const DefaultRetryInterval = time.Second

// Runner runs a fresh Server again and again on a background goroutine
// until it is stopped.
type Runner struct {
	loader *plugin.Loader

	// RetryInterval is the pause after a run that failed or ended sooner
	// than the interval.
	RetryInterval time.Duration

	mu      sync.Mutex
	cfg     Config
	current *Server
	stop    chan struct{}
	done    chan struct{}
}

// NewRunner returns a stopped runner.
func NewRunner(loader *plugin.Loader, cfg Config) *Runner {
	return &Runner{
		loader:        loader,
		cfg:           cfg.withDefaults(),
		RetryInterval: DefaultRetryInterval,
	}
}

func (r *Runner) logger() vnc.Logger { return r.cfg.Logger }

// Running reports whether the runner goroutine is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *Runner) runningLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Config returns the configuration used for the next run.
func (r *Runner) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// SetConfig replaces the configuration. It fails while running.
func (r *Runner) SetConfig(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runningLocked() {
		return vnc.NewVNCError("Runner.SetConfig", vnc.ErrState, "cannot reconfigure a running server", nil)
	}
	r.cfg = cfg.withDefaults()
	return nil
}

// SetPort changes the port. It fails while running.
func (r *Runner) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return vnc.NewVNCError("Runner.SetPort", vnc.ErrValidation, "port out of range", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runningLocked() {
		return vnc.NewVNCError("Runner.SetPort", vnc.ErrState, "cannot change the port of a running server", nil)
	}
	r.cfg.Port = port
	return nil
}

// SetPassword changes the password. It fails while running.
func (r *Runner) SetPassword(password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runningLocked() {
		return vnc.NewVNCError("Runner.SetPassword", vnc.ErrState, "cannot change the password of a running server", nil)
	}
	r.cfg.Password = password
	return nil
}

// Start launches the runner goroutine.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runningLocked() {
		return vnc.NewVNCError("Runner.Start", vnc.ErrState, "server is already running", nil)
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)
	return nil
}

// Stop asks the runner to finish. It returns immediately, is idempotent and
// may be called from any goroutine. Use Wait to join.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	if r.current != nil {
		r.current.Quit()
	}
}

// Restart makes the current run return so that the next one assembles the
// plugins again.
func (r *Runner) Restart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Quit()
	}
}

// Wait blocks until the runner goroutine exits or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop(stop, done chan struct{}) {
	defer close(done)
	for {
		r.mu.Lock()
		select {
		case <-stop:
			r.mu.Unlock()
			return
		default:
		}
		srv := New(r.loader, r.cfg)
		r.current = srv
		r.mu.Unlock()

		started := time.Now()
		err := srv.Run()

		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()

		switch {
		case errors.Is(err, ErrRestartRequired):
			r.logger().Info("restarting server")
			continue
		case err != nil:
			r.logger().Warn("server run failed", vnc.Field{Key: "error", Value: err})
		case time.Since(started) >= r.RetryInterval:
			continue
		}

		select {
		case <-stop:
			return
		case <-time.After(r.RetryInterval):
		}
	}
}
