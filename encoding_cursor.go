// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"image"
	"io"
)

// CursorPseudoEncoding (-239) carries the cursor image so the client can draw
// the pointer locally. The rectangle position is the hotspot.
type CursorPseudoEncoding struct{}

// Type returns EncodingCursor.
func (*CursorPseudoEncoding) Type() int32 {
	return EncodingCursor
}

// IsPseudo reports true.
func (*CursorPseudoEncoding) IsPseudo() bool {
	return true
}

// Read decodes the pixels and the 1 bit transparency mask, then reports the
// shape through ClientHooks.CursorShape.
func (*CursorPseudoEncoding) Read(c *ClientConn, rect Rectangle, r io.Reader) error {
	width, height := int(rect.Width), int(rect.Height)
	pixels, err := readPixels(c, r, width*height)
	if err != nil {
		return encodingError("CursorPseudoEncoding.Read", "failed to read cursor pixels", err)
	}
	maskStride := (width + 7) / 8
	mask := make([]byte, maskStride*height)
	if _, err := io.ReadFull(r, mask); err != nil {
		return encodingError("CursorPseudoEncoding.Read", "failed to read cursor mask", err)
	}

	shape := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask[y*maskStride+x/8]&(0x80>>(x%8)) == 0 {
				continue
			}
			shape.SetRGBA(x, y, pixels[y*width+x])
		}
	}

	if c.hooks.CursorShape != nil {
		c.hooks.CursorShape(int(rect.X), int(rect.Y), shape)
	}
	return nil
}

// PointerPosPseudoEncoding (-232) reports where the server's pointer is.
type PointerPosPseudoEncoding struct{}

// Type returns EncodingPointerPos.
func (*PointerPosPseudoEncoding) Type() int32 {
	return EncodingPointerPos
}

// IsPseudo reports true.
func (*PointerPosPseudoEncoding) IsPseudo() bool {
	return true
}

// Read has no payload; the position is the rectangle origin.
func (*PointerPosPseudoEncoding) Read(c *ClientConn, rect Rectangle, _ io.Reader) error {
	if c.hooks.CursorPosition != nil {
		c.hooks.CursorPosition(int(rect.X), int(rect.Y))
	}
	return nil
}
