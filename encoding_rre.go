// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxRRESubrectangles caps the subrectangle count of one RRE rectangle.
const maxRRESubrectangles = 1 << 20

// RREEncoding (type 2) paints a background color followed by solid subrectangles.
type RREEncoding struct{}

// Type returns EncodingRRE.
func (*RREEncoding) Type() int32 {
	return EncodingRRE
}

// Read paints the background and every subrectangle, relative to rect.
func (*RREEncoding) Read(c *ClientConn, rect Rectangle, r io.Reader) error {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return encodingError("RREEncoding.Read", "failed to read subrectangle count", err)
	}
	if count > maxRRESubrectangles {
		return encodingError("RREEncoding.Read", fmt.Sprintf("too many subrectangles: %d", count), nil)
	}

	background, err := readPixel(c, r)
	if err != nil {
		return encodingError("RREEncoding.Read", "failed to read background pixel", err)
	}
	fb := c.Framebuffer()
	fillRect(fb, int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height), background)

	var geometry [8]byte
	for i := uint32(0); i < count; i++ {
		fg, err := readPixel(c, r)
		if err != nil {
			return encodingError("RREEncoding.Read", fmt.Sprintf("failed to read subrectangle %d color", i), err)
		}
		if _, err := io.ReadFull(r, geometry[:]); err != nil {
			return encodingError("RREEncoding.Read", fmt.Sprintf("failed to read subrectangle %d", i), err)
		}
		sx := int(binary.BigEndian.Uint16(geometry[0:2]))
		sy := int(binary.BigEndian.Uint16(geometry[2:4]))
		sw := int(binary.BigEndian.Uint16(geometry[4:6]))
		sh := int(binary.BigEndian.Uint16(geometry[6:8]))
		if sx+sw > int(rect.Width) || sy+sh > int(rect.Height) {
			return encodingError("RREEncoding.Read",
				fmt.Sprintf("subrectangle %d (%d,%d %dx%d) outside rectangle", i, sx, sy, sw, sh), nil)
		}
		fillRect(fb, int(rect.X)+sx, int(rect.Y)+sy, sw, sh, fg)
	}
	return nil
}
