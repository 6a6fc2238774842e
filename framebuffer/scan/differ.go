// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package scan captures the screen from sources that deliver whole frames.
// Each frame is converted into an RGBX framebuffer row by row while the
// changed region of every row is tracked and merged into rectangles.
package scan

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/tenthirtyam/anyvnc/capability"
)

// PixelFormat is the memory layout of a source frame.
type PixelFormat int

const (
	FormatRGBA8888 PixelFormat = iota
	FormatRGBX8888
	FormatRGB888
	// FormatRGB565 holds little-endian 16 bit pixels, red in the top bits.
	FormatRGB565
)

// BytesPerPixel returns the size of one source pixel.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB888:
		return 3
	case FormatRGB565:
		return 2
	default:
		return 4
	}
}

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA8888"
	case FormatRGBX8888:
		return "RGBX8888"
	case FormatRGB888:
		return "RGB888"
	case FormatRGB565:
		return "RGB565"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Frame is one captured image. Stride is the distance between rows in bytes.
type Frame struct {
	Data   []byte
	Stride int
	Width  int
	Height int
	Format PixelFormat
}

func (f *Frame) validate() error {
	switch f.Format {
	case FormatRGBA8888, FormatRGBX8888, FormatRGB888, FormatRGB565:
	default:
		return fmt.Errorf("unsupported pixel format %v", f.Format)
	}
	if f.Stride < f.Width*f.Format.BytesPerPixel() {
		return fmt.Errorf("stride %d too small for %d pixels of %v", f.Stride, f.Width, f.Format)
	}
	if need := (f.Height-1)*f.Stride + f.Width*f.Format.BytesPerPixel(); len(f.Data) < need {
		return fmt.Errorf("frame holds %d bytes, need %d", len(f.Data), need)
	}
	return nil
}

// Result is the outcome of Differ.Apply.
type Result int

const (
	// Unchanged means the frame equals the framebuffer.
	Unchanged Result = iota
	// Updated means rectangles were reported.
	Updated
	// InvalidSize means the frame has no pixels.
	InvalidSize
	// SizeChanged means the framebuffer was reallocated for a new geometry.
	SizeChanged
	// Rotated means width and height swapped and the framebuffer was reshaped.
	Rotated
)

func (r Result) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case InvalidSize:
		return "invalid-size"
	case SizeChanged:
		return "size-changed"
	case Rotated:
		return "rotated"
	default:
		return "unknown"
	}
}

// Differ keeps an RGBX copy of the last frame. The X byte is always 0xff, so
// the buffer can be viewed as opaque RGBA.
type Differ struct {
	data    []byte
	size    capability.Size
	hashes  []uint64
	row     []byte
	pending []capability.Rectangle
}

// Data returns the framebuffer. It is replaced when Apply reports a new geometry.
func (d *Differ) Data() []byte { return d.data }

// Size returns the framebuffer geometry, zero before the first frame.
func (d *Differ) Size() capability.Size { return d.size }

// Apply converts frame into the framebuffer. For Updated it returns the
// changed rectangles in row order; they are only valid until the next call.
// A geometry change clears the framebuffer, refills it from frame and
// reports no rectangles.
func (d *Differ) Apply(frame *Frame) (Result, []capability.Rectangle, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return InvalidSize, nil, nil
	}
	if err := frame.validate(); err != nil {
		return InvalidSize, nil, err
	}

	size := capability.Size{Width: frame.Width, Height: frame.Height}
	switch {
	case d.data == nil:
		d.allocate(size)
	case size == d.size:
	case size == d.size.Transposed():
		d.reshape(size)
		d.convert(frame)
		return Rotated, nil, nil
	default:
		d.allocate(size)
		d.convert(frame)
		return SizeChanged, nil, nil
	}

	if rects := d.convert(frame); len(rects) > 0 {
		return Updated, rects, nil
	}
	return Unchanged, nil, nil
}

func (d *Differ) allocate(size capability.Size) {
	d.size = size
	d.data = make([]byte, size.Width*size.Height*4)
	d.row = make([]byte, size.Width*4)
	d.hashes = make([]uint64, size.Height)
	d.resetHashes()
}

// reshape keeps the buffer, whose length is unchanged by a rotation.
func (d *Differ) reshape(size capability.Size) {
	d.size = size
	clear(d.data)
	d.row = make([]byte, size.Width*4)
	d.hashes = make([]uint64, size.Height)
	d.resetHashes()
}

func (d *Differ) resetHashes() {
	clear(d.row)
	zero := xxhash.Sum64(d.row)
	for y := range d.hashes {
		d.hashes[y] = zero
	}
}

// convert copies every row of frame into the framebuffer and returns the
// merged changed rectangles.
func (d *Differ) convert(frame *Frame) []capability.Rectangle {
	width := d.size.Width
	stride := width * 4
	rects := d.pending[:0]
	current := capability.InvalidRectangle()

	for y := 0; y < d.size.Height; y++ {
		convertRow(d.row, frame.Data[y*frame.Stride:], width, frame.Format)

		minX, maxX := -1, -1
		if h := xxhash.Sum64(d.row); h != d.hashes[y] {
			d.hashes[y] = h
			dst := d.data[y*stride : (y+1)*stride]
			for x := 0; x < width; x++ {
				o := x * 4
				if d.row[o] != dst[o] || d.row[o+1] != dst[o+1] || d.row[o+2] != dst[o+2] || d.row[o+3] != dst[o+3] {
					if minX < 0 {
						minX = x
					}
					maxX = x
				}
			}
			copy(dst, d.row)
		}

		switch {
		case minX >= 0 && current.IsValid():
			current.Left = min(current.Left, minX)
			current.Right = max(current.Right, maxX)
			current.Bottom = y
		case minX >= 0:
			current = capability.Rectangle{Left: minX, Top: y, Right: maxX, Bottom: y}
		case current.IsValid():
			rects = append(rects, current)
			current = capability.InvalidRectangle()
		}
	}
	if current.IsValid() {
		rects = append(rects, current)
	}
	d.pending = rects
	return rects
}

func convertRow(dst, src []byte, width int, format PixelFormat) {
	switch format {
	case FormatRGBA8888, FormatRGBX8888:
		for x := 0; x < width; x++ {
			o := x * 4
			dst[o], dst[o+1], dst[o+2], dst[o+3] = src[o], src[o+1], src[o+2], 0xff
		}
	case FormatRGB888:
		for x := 0; x < width; x++ {
			s, o := x*3, x*4
			dst[o], dst[o+1], dst[o+2], dst[o+3] = src[s], src[s+1], src[s+2], 0xff
		}
	case FormatRGB565:
		for x := 0; x < width; x++ {
			p := binary.LittleEndian.Uint16(src[x*2:])
			r, g, b := byte(p>>11), byte(p>>5)&0x3f, byte(p)&0x1f
			o := x * 4
			dst[o], dst[o+1], dst[o+2], dst[o+3] = r<<3|r>>2, g<<2|g>>4, b<<3|b>>2, 0xff
		}
	}
}
