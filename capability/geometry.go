// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package capability

import "fmt"

// Point is a screen position in pixels.
type Point struct {
	X int
	Y int
}

// Size is a width and height in pixels.
type Size struct {
	Width  int
	Height int
}

// IsValid reports whether both dimensions are positive.
func (s Size) IsValid() bool {
	return s.Width > 0 && s.Height > 0
}

// Transposed returns the size with width and height swapped.
func (s Size) Transposed() Size {
	return Size{Width: s.Height, Height: s.Width}
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Rectangle is a screen region whose four edges are all inclusive: a single
// pixel at (3, 4) is {3, 4, 3, 4}.
type Rectangle struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// InvalidRectangle returns the rectangle with every edge at -1.
func InvalidRectangle() Rectangle {
	return Rectangle{Left: -1, Top: -1, Right: -1, Bottom: -1}
}

// IsValid reports whether every edge is non-negative.
func (r Rectangle) IsValid() bool {
	return r.Left >= 0 && r.Top >= 0 && r.Right >= 0 && r.Bottom >= 0
}

// Width returns Right-Left+1.
func (r Rectangle) Width() int {
	return r.Right - r.Left + 1
}

// Height returns Bottom-Top+1.
func (r Rectangle) Height() int {
	return r.Bottom - r.Top + 1
}

// Contains reports whether r lies inside a screen of size s.
func (r Rectangle) Contains(s Size) bool {
	return r.IsValid() && r.Left <= r.Right && r.Top <= r.Bottom &&
		r.Right < s.Width && r.Bottom < s.Height
}

// Clip returns the part of r inside a screen of size s. ok is false when
// nothing remains.
func (r Rectangle) Clip(s Size) (clipped Rectangle, ok bool) {
	clipped = Rectangle{
		Left:   max(r.Left, 0),
		Top:    max(r.Top, 0),
		Right:  min(r.Right, s.Width-1),
		Bottom: min(r.Bottom, s.Height-1),
	}
	if clipped.Left > clipped.Right || clipped.Top > clipped.Bottom {
		return InvalidRectangle(), false
	}
	return clipped, true
}

// Wire converts r to origin plus extent, the form used by the RFB protocol.
func (r Rectangle) Wire() (x, y, width, height int) {
	return r.Left, r.Top, r.Width(), r.Height()
}

// RectangleFromWire converts an origin plus extent into an inclusive Rectangle.
func RectangleFromWire(x, y, width, height int) Rectangle {
	return Rectangle{Left: x, Top: y, Right: x + width - 1, Bottom: y + height - 1}
}

func (r Rectangle) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Left, r.Top, r.Right, r.Bottom)
}

// Screen describes one physical display.
type Screen struct {
	Size       Size
	ColorDepth int
}

// Screens lists displays; index 0 is the primary one. Only the primary
// screen is exported by the server.
type Screens []Screen

// Primary returns the first screen, or the zero Screen for an empty list.
func (s Screens) Primary() Screen {
	if len(s) == 0 {
		return Screen{}
	}
	return s[0]
}
