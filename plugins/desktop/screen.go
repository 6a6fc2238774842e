// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package desktop

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/framebuffer/scan"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// display captures one physical display.
type display struct {
	index   int
	count   func() int
	bounds  func(int) image.Rectangle
	capture func(image.Rectangle) (*image.RGBA, error)
}

func newDisplay(index int) display {
	return display{
		index:   index,
		count:   screenshot.NumActiveDisplays,
		bounds:  screenshot.GetDisplayBounds,
		capture: screenshot.CaptureRect,
	}
}

func (d display) active() error {
	if n := d.count(); d.index < 0 || d.index >= n {
		return fmt.Errorf("display %d is not active (%d active)", d.index, n)
	}
	return nil
}

func (d display) grab() (*image.RGBA, error) {
	if err := d.active(); err != nil {
		return nil, err
	}
	return d.capture(d.bounds(d.index))
}

// screens lists the active displays with the captured one first.
func (d display) screens() capability.Screens {
	n := d.count()
	out := make(capability.Screens, 0, n)
	add := func(i int) {
		b := d.bounds(i)
		out = append(out, capability.Screen{Size: capability.Size{Width: b.Dx(), Height: b.Dy()}, ColorDepth: 24})
	}
	if d.index >= 0 && d.index < n {
		add(d.index)
	}
	for i := 0; i < n; i++ {
		if i != d.index {
			add(i)
		}
	}
	return out
}

// screenSource is a scan.Source that captures whole frames.
type screenSource struct {
	display display
}

func (s *screenSource) Acquire() error {
	return s.display.active()
}

func (s *screenSource) Capture() (*scan.Frame, error) {
	img, err := s.display.grab()
	if err != nil {
		return nil, err
	}
	return &scan.Frame{
		Data:   img.Pix,
		Stride: img.Stride,
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
		Format: scan.FormatRGBA8888,
	}, nil
}

func (s *screenSource) Release() error { return nil }

func (s *screenSource) AvailableScreens() capability.Screens {
	return s.display.screens()
}

// ScreenFramebuffer captures a display and diffs consecutive frames.
type ScreenFramebuffer struct {
	*scan.Framebuffer
}

// NewScreenFramebuffer captures the display with the given index.
func NewScreenFramebuffer(index int) *ScreenFramebuffer {
	return newScreenFramebuffer(newDisplay(index))
}

func newScreenFramebuffer(d display) *ScreenFramebuffer {
	return &ScreenFramebuffer{Framebuffer: scan.New(&screenSource{display: d})}
}

func (f *ScreenFramebuffer) Identity() plugin.Identity {
	return identity(ScreenFramebufferUID, "ScreenFramebuffer", "Polling screen capture",
		plugin.ProvidesDefaultImplementation)
}
