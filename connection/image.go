// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package connection

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/tenthirtyam/anyvnc/capability"
)

func (c *Connection) allocateImage(width, height int) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c.imgMu.Lock()
	c.image = img
	c.imgMu.Unlock()
}

// copyRegion copies r of src into the local image.
func (c *Connection) copyRegion(src *image.RGBA, r image.Rectangle) {
	if src == nil {
		return
	}
	c.imgMu.Lock()
	defer c.imgMu.Unlock()
	if c.image == nil {
		return
	}
	r = r.Intersect(c.image.Bounds()).Intersect(src.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(c.image, r, src, r.Min, draw.Src)
}

// Image returns a copy of the remote screen, or nil before the first
// framebuffer allocation.
func (c *Connection) Image() *image.RGBA {
	c.imgMu.RLock()
	defer c.imgMu.RUnlock()
	if c.image == nil {
		return nil
	}
	out := image.NewRGBA(c.image.Bounds())
	copy(out.Pix, c.image.Pix)
	return out
}

// FramebufferSize returns the size of the remote screen.
func (c *Connection) FramebufferSize() capability.Size {
	c.imgMu.RLock()
	defer c.imgMu.RUnlock()
	if c.image == nil {
		return capability.Size{}
	}
	return capability.Size{Width: c.image.Rect.Dx(), Height: c.image.Rect.Dy()}
}

// SetScaledSize sets the size ScaledImage scales to.
func (c *Connection) SetScaledSize(size capability.Size) {
	c.scaledMu.Lock()
	defer c.scaledMu.Unlock()
	if c.scaledSize != size {
		c.scaledSize = size
		c.scaledDirty.Store(true)
	}
}

// ScaledImage returns the remote screen scaled to the size given to
// SetScaledSize. It is rebuilt only after the screen or the size changed and
// is nil until a complete framebuffer update arrived.
func (c *Connection) ScaledImage() *image.RGBA {
	c.scaledMu.Lock()
	defer c.scaledMu.Unlock()

	if c.terminate.Load() || c.FramebufferState() != FramebufferValid || !c.scaledSize.IsValid() {
		return c.scaled
	}
	if !c.scaledDirty.CompareAndSwap(true, false) && c.scaled != nil {
		return c.scaled
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.scaledSize.Width, c.scaledSize.Height))
	c.imgMu.RLock()
	if c.image != nil {
		draw.BiLinear.Scale(dst, dst.Bounds(), c.image, c.image.Bounds(), draw.Src, nil)
	}
	c.imgMu.RUnlock()
	c.scaled = dst
	return dst
}
