// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package changelog

import (
	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
)

// Engine is a capture source that records changes in a log. Changes, Size
// and Framebuffer may only be used between Lock and Unlock.
type Engine interface {
	Start() error
	Stop() error
	Lock()
	Unlock()
	Changes() Changes
	Size() capability.Size

	// Framebuffer returns RGBX pixels with a stride of Size().Width*4.
	Framebuffer() []byte
}

// Publisher is implemented by engines that stage pixels away from the
// framebuffer. Publish copies the staged pixels of rect into Framebuffer
// and runs with the engine locked.
type Publisher interface {
	Publish(rect capability.Rectangle)
}

// ScreenLister is implemented by engines that know the physical displays.
type ScreenLister interface {
	AvailableScreens() capability.Screens
}

// Framebuffer adapts an Engine to capability.Framebuffer.
type Framebuffer struct {
	engine   Engine
	reader   *Reader
	logger   vnc.Logger
	size     capability.Size
	appended uint64
	started  bool
}

// New returns a framebuffer over engine. The engine starts in Initialize.
func New(engine Engine) *Framebuffer {
	return &Framebuffer{engine: engine, logger: &vnc.NoOpLogger{}}
}

// Initialize starts the engine.
func (f *Framebuffer) Initialize(host capability.Host) error {
	if host != nil {
		f.logger = vnc.OrNoOp(host.Logger())
	}
	if err := f.engine.Start(); err != nil {
		return vnc.WrapError("changelog.Initialize", vnc.ErrCapture, "failed to start capture engine", err)
	}
	f.started = true

	f.engine.Lock()
	defer f.engine.Unlock()
	f.size = f.engine.Size()
	f.reader = NewReader(f.engine.Changes().Counter(), f.logger)
	f.appended = appended(f.engine.Changes())
	return nil
}

// Data returns the engine's framebuffer. Its pixels change only during
// Update; an engine that changes geometry replaces the slice.
func (f *Framebuffer) Data() []byte {
	f.engine.Lock()
	defer f.engine.Unlock()
	return f.engine.Framebuffer()
}

func (f *Framebuffer) Size() capability.Size { return f.size }

// Update replays the records logged since the previous call. When the log
// wrapped past unread records the whole screen is reported instead.
func (f *Framebuffer) Update(visitor capability.RectangleVisitor) capability.UpdateFlags {
	if !f.started {
		return capability.UpdateInitializing
	}

	f.engine.Lock()
	defer f.engine.Unlock()

	size := f.engine.Size()
	if !size.IsValid() {
		return capability.UpdateRequiresRestart
	}
	if size != f.size {
		f.logger.Info("capture size changed", vnc.Field{Key: "from", Value: f.size.String()}, vnc.Field{Key: "to", Value: size.String()})
		f.size = size
		f.reader.Reset(f.engine.Changes())
		f.appended = appended(f.engine.Changes())
		return capability.UpdateSizeChanged
	}

	publisher, _ := f.engine.(Publisher)
	changes := f.engine.Changes()
	if overrun(changes, f.appended) {
		// Some records were overwritten before they were read, so their
		// rectangles are unknown.
		f.logger.Debug("change log overrun, refreshing the whole screen")
		full := capability.Rectangle{Right: size.Width - 1, Bottom: size.Height - 1}
		if publisher != nil {
			publisher.Publish(full)
		}
		visitor(full)
		f.reader.Reset(changes)
		f.appended = appended(changes)
		return 0
	}
	f.reader.Replay(changes, func(rect capability.Rectangle) {
		clipped, ok := rect.Clip(size)
		if !ok {
			return
		}
		if publisher != nil {
			publisher.Publish(clipped)
		}
		visitor(clipped)
	})
	f.appended = appended(changes)
	return 0
}

// AvailableScreens returns the engine's displays, or the captured area when
// the engine does not list them.
func (f *Framebuffer) AvailableScreens() capability.Screens {
	if lister, ok := f.engine.(ScreenLister); ok {
		return lister.AvailableScreens()
	}
	return capability.Screens{{Size: f.size, ColorDepth: 24}}
}

// Close stops the engine.
func (f *Framebuffer) Close() error {
	if !f.started {
		return nil
	}
	f.started = false
	if err := f.engine.Stop(); err != nil {
		return vnc.WrapError("changelog.Close", vnc.ErrCapture, "failed to stop capture engine", err)
	}
	return nil
}

func appended(changes Changes) uint64 {
	if c, ok := changes.(AppendCounter); ok {
		return c.Appended()
	}
	return 0
}

// overrun reports whether a full capacity or more was appended since the
// reader last saw the log at the count seen.
func overrun(changes Changes, seen uint64) bool {
	c, ok := changes.(AppendCounter)
	if !ok {
		return false
	}
	n := c.Appended()
	return n < seen || n-seen >= uint64(changes.Capacity())
}
