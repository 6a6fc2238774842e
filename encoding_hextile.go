// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"image/color"
	"io"
)

// Hextile subencoding flags.
const (
	HextileRaw                 = 1
	HextileBackgroundSpecified = 2
	HextileForegroundSpecified = 4
	HextileAnySubrects         = 8
	HextileSubrectsColoured    = 16

	hextileTileSize = 16
)

// HextileEncoding (type 5) splits the rectangle into 16x16 tiles, each raw
// or described by background, foreground and subrectangles.
type HextileEncoding struct{}

// Type returns EncodingHextile.
func (*HextileEncoding) Type() int32 {
	return EncodingHextile
}

// Read decodes every tile of rect. Background and foreground carry over
// between tiles as the encoding requires.
func (*HextileEncoding) Read(c *ClientConn, rect Rectangle, r io.Reader) error {
	fb := c.Framebuffer()
	var background, foreground color.RGBA
	var flag [1]byte

	for ty := 0; ty < int(rect.Height); ty += hextileTileSize {
		th := min(hextileTileSize, int(rect.Height)-ty)
		for tx := 0; tx < int(rect.Width); tx += hextileTileSize {
			tw := min(hextileTileSize, int(rect.Width)-tx)
			x, y := int(rect.X)+tx, int(rect.Y)+ty

			if _, err := io.ReadFull(r, flag[:]); err != nil {
				return encodingError("HextileEncoding.Read", "failed to read tile flags", err)
			}
			flags := flag[0]

			if flags&HextileRaw != 0 {
				pixels, err := readPixels(c, r, tw*th)
				if err != nil {
					return encodingError("HextileEncoding.Read", "failed to read raw tile", err)
				}
				for i, px := range pixels {
					fb.SetRGBA(x+i%tw, y+i/tw, px)
				}
				continue
			}

			if flags&HextileBackgroundSpecified != 0 {
				px, err := readPixel(c, r)
				if err != nil {
					return encodingError("HextileEncoding.Read", "failed to read tile background", err)
				}
				background = px
			}
			fillRect(fb, x, y, tw, th, background)

			if flags&HextileForegroundSpecified != 0 {
				px, err := readPixel(c, r)
				if err != nil {
					return encodingError("HextileEncoding.Read", "failed to read tile foreground", err)
				}
				foreground = px
			}
			if flags&HextileAnySubrects == 0 {
				continue
			}

			var count [1]byte
			if _, err := io.ReadFull(r, count[:]); err != nil {
				return encodingError("HextileEncoding.Read", "failed to read subrectangle count", err)
			}
			var geometry [2]byte
			for i := 0; i < int(count[0]); i++ {
				col := foreground
				if flags&HextileSubrectsColoured != 0 {
					px, err := readPixel(c, r)
					if err != nil {
						return encodingError("HextileEncoding.Read", "failed to read subrectangle color", err)
					}
					col = px
				}
				if _, err := io.ReadFull(r, geometry[:]); err != nil {
					return encodingError("HextileEncoding.Read", "failed to read subrectangle geometry", err)
				}
				sx, sy := int(geometry[0]>>4), int(geometry[0]&0x0f)
				sw, sh := int(geometry[1]>>4)+1, int(geometry[1]&0x0f)+1
				if sx+sw > tw || sy+sh > th {
					return encodingError("HextileEncoding.Read",
						fmt.Sprintf("subrectangle (%d,%d %dx%d) outside %dx%d tile", sx, sy, sw, sh, tw, th), nil)
				}
				fillRect(fb, x+sx, y+sy, sw, sh, col)
			}
		}
	}
	return nil
}
