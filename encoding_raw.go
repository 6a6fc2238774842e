// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// RawEncoding is the uncompressed encoding (type 0). Pixels arrive left to
// right, top to bottom, in the negotiated pixel format.
type RawEncoding struct{}

// Type returns EncodingRaw.
func (*RawEncoding) Type() int32 {
	return EncodingRaw
}

// Read paints rect row by row.
func (*RawEncoding) Read(c *ClientConn, rect Rectangle, r io.Reader) error {
	fb := c.Framebuffer()
	codec := c.pixelDecoder()
	width, height := int(rect.Width), int(rect.Height)
	row := make([]byte, width*codec.bpp)

	for y := 0; y < height; y++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return encodingError("RawEncoding.Read", "failed to read pixel data", err)
		}
		offset := fb.PixOffset(int(rect.X), int(rect.Y)+y)
		dst := fb.Pix[offset : offset+width*4]
		for x := 0; x < width; x++ {
			col := codec.decode(row[x*codec.bpp:])
			dst[x*4] = col.R
			dst[x*4+1] = col.G
			dst[x*4+2] = col.B
			dst[x*4+3] = 0xff
		}
	}
	return nil
}
