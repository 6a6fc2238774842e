// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package dummy

import (
	"image/color"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// Framebuffer is an in-memory RGBX screen.
type Framebuffer struct {
	base
	data    []byte
	size    capability.Size
	dirty   []capability.Rectangle
	resized bool
	restart bool
}

// NewFramebuffer returns a black framebuffer of DefaultSize.
func NewFramebuffer() *Framebuffer {
	f := &Framebuffer{}
	f.resize(DefaultSize)
	return f
}

func (f *Framebuffer) Identity() plugin.Identity {
	return identity(FramebufferUID, "DummyFramebuffer", "In-memory framebuffer")
}

func (f *Framebuffer) Initialize(host capability.Host) error {
	f.initialize(host, "DummyFramebuffer")
	f.log().Debug("initialized", vnc.Field{Key: "size", Value: f.Size().String()})
	return nil
}

func (f *Framebuffer) Data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

func (f *Framebuffer) Size() capability.Size {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Fill paints rect, clipped to the screen, and queues it for the next Update.
func (f *Framebuffer) Fill(rect capability.Rectangle, c color.RGBA) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clipped, ok := rect.Clip(f.size)
	if !ok {
		return
	}
	stride := f.size.Width * 4
	for y := clipped.Top; y <= clipped.Bottom; y++ {
		for x := clipped.Left; x <= clipped.Right; x++ {
			o := y*stride + x*4
			f.data[o], f.data[o+1], f.data[o+2], f.data[o+3] = c.R, c.G, c.B, 0xff
		}
	}
	f.dirty = append(f.dirty, clipped)
}

// Resize replaces the screen with a black one of the given size. The next
// Update reports UpdateSizeChanged.
func (f *Framebuffer) Resize(size capability.Size) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resize(size)
	f.resized = true
}

func (f *Framebuffer) resize(size capability.Size) {
	f.size = size
	f.data = make([]byte, max(size.Width*size.Height*4, 0))
	f.dirty = nil
}

// RequestRestart makes the next Update report UpdateRequiresRestart.
func (f *Framebuffer) RequestRestart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restart = true
}

func (f *Framebuffer) Update(visitor capability.RectangleVisitor) capability.UpdateFlags {
	f.mu.Lock()
	switch {
	case f.restart:
		f.restart = false
		f.mu.Unlock()
		return capability.UpdateRequiresRestart
	case f.resized:
		f.resized = false
		f.mu.Unlock()
		return capability.UpdateSizeChanged
	}
	dirty := f.dirty
	f.dirty = nil
	f.mu.Unlock()

	for _, r := range dirty {
		visitor(r)
	}
	return 0
}

func (f *Framebuffer) AvailableScreens() capability.Screens {
	return capability.Screens{{Size: f.Size(), ColorDepth: 24}}
}
