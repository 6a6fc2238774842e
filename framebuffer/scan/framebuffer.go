// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package scan

import (
	"time"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
)

// Capture session defaults.
const (
	DefaultStartupTimeout = 5 * time.Second
	startupPollInterval   = 100 * time.Millisecond
)

// Source is a capture session. Capture returns nil without an error while
// the session has no frame yet. Frames are only read until the next Capture.
type Source interface {
	Acquire() error
	Capture() (*Frame, error)
	Release() error
}

// ScreenLister is implemented by sources that know the physical displays.
type ScreenLister interface {
	AvailableScreens() capability.Screens
}

// Framebuffer adapts a Source to capability.Framebuffer.
type Framebuffer struct {
	source   Source
	differ   Differ
	logger   vnc.Logger
	acquired bool

	// StartupTimeout bounds how long Initialize waits for the first frame.
	StartupTimeout time.Duration
}

// New returns a framebuffer over source. The session is acquired in Initialize.
func New(source Source) *Framebuffer {
	return &Framebuffer{
		source:         source,
		logger:         &vnc.NoOpLogger{},
		StartupTimeout: DefaultStartupTimeout,
	}
}

// Initialize acquires the capture session and waits for its first frame.
func (f *Framebuffer) Initialize(host capability.Host) error {
	if host != nil {
		f.logger = vnc.OrNoOp(host.Logger())
	}
	if err := f.source.Acquire(); err != nil {
		return vnc.WrapError("scan.Initialize", vnc.ErrCapture, "failed to acquire capture session", err)
	}
	f.acquired = true

	deadline := time.Now().Add(f.StartupTimeout)
	for {
		flags := f.Update(func(capability.Rectangle) {})
		switch {
		case flags.Has(capability.UpdateRequiresRestart):
			_ = f.Close()
			return vnc.NewVNCError("scan.Initialize", vnc.ErrCapture, "capture source delivered an invalid frame", nil)
		case !flags.Has(capability.UpdateInitializing):
			f.logger.Info("capture started", vnc.Field{Key: "size", Value: f.differ.Size().String()})
			return nil
		case time.Now().After(deadline):
			_ = f.Close()
			return vnc.NewVNCError("scan.Initialize", vnc.ErrTimeout, "no frame within "+f.StartupTimeout.String(), nil)
		}
		time.Sleep(startupPollInterval)
	}
}

func (f *Framebuffer) Data() []byte { return f.differ.Data() }

func (f *Framebuffer) Size() capability.Size { return f.differ.Size() }

// Update captures one frame and reports the changed rectangles.
func (f *Framebuffer) Update(visitor capability.RectangleVisitor) capability.UpdateFlags {
	if !f.acquired {
		return capability.UpdateInitializing
	}
	frame, err := f.source.Capture()
	if err != nil {
		f.logger.Warn("capture failed", vnc.Field{Key: "error", Value: err})
		return capability.UpdateRequiresRestart
	}
	if frame == nil {
		return capability.UpdateInitializing
	}

	result, rects, err := f.differ.Apply(frame)
	switch result {
	case InvalidSize:
		f.logger.Error("invalid capture frame",
			vnc.Field{Key: "width", Value: frame.Width},
			vnc.Field{Key: "height", Value: frame.Height},
			vnc.Field{Key: "error", Value: err})
		return capability.UpdateRequiresRestart
	case SizeChanged, Rotated:
		f.logger.Info("capture geometry changed",
			vnc.Field{Key: "result", Value: result.String()},
			vnc.Field{Key: "size", Value: f.differ.Size().String()})
		return capability.UpdateSizeChanged
	case Updated:
		for _, r := range rects {
			visitor(r)
		}
	}
	return 0
}

// AvailableScreens returns the source's displays, or the captured area when
// the source does not list them.
func (f *Framebuffer) AvailableScreens() capability.Screens {
	if lister, ok := f.source.(ScreenLister); ok {
		return lister.AvailableScreens()
	}
	return capability.Screens{{Size: f.differ.Size(), ColorDepth: 24}}
}

// Close releases the capture session.
func (f *Framebuffer) Close() error {
	if !f.acquired {
		return nil
	}
	f.acquired = false
	if err := f.source.Release(); err != nil {
		return vnc.WrapError("scan.Close", vnc.ErrCapture, "failed to release capture session", err)
	}
	return nil
}
