// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
)

// CopyRectEncoding (type 1) copies a region of the framebuffer the client already holds.
type CopyRectEncoding struct{}

// Type returns EncodingCopyRect.
func (*CopyRectEncoding) Type() int32 {
	return EncodingCopyRect
}

// Read copies from the source position in the payload to rect. Overlapping
// source and destination regions are handled.
func (*CopyRectEncoding) Read(c *ClientConn, rect Rectangle, r io.Reader) error {
	var src [4]byte
	if _, err := io.ReadFull(r, src[:]); err != nil {
		return encodingError("CopyRectEncoding.Read", "failed to read source position", err)
	}
	srcX := int(binary.BigEndian.Uint16(src[0:2]))
	srcY := int(binary.BigEndian.Uint16(src[2:4]))

	fb := c.Framebuffer()
	width, height := int(rect.Width), int(rect.Height)
	if !image.Rect(srcX, srcY, srcX+width, srcY+height).In(fb.Rect) {
		return encodingError("CopyRectEncoding.Read",
			fmt.Sprintf("source (%d,%d %dx%d) outside framebuffer", srcX, srcY, width, height), nil)
	}

	// Copy through a scratch buffer so overlapping regions stay intact.
	rowBytes := width * 4
	scratch := make([]byte, rowBytes*height)
	for y := 0; y < height; y++ {
		offset := fb.PixOffset(srcX, srcY+y)
		copy(scratch[y*rowBytes:], fb.Pix[offset:offset+rowBytes])
	}
	for y := 0; y < height; y++ {
		offset := fb.PixOffset(int(rect.X), int(rect.Y)+y)
		copy(fb.Pix[offset:offset+rowBytes], scratch[y*rowBytes:(y+1)*rowBytes])
	}
	return nil
}
