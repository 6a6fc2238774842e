// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"image"
	"image/color"
	"io"
)

// Encoding type numbers from RFC 6143 and the RFB pseudo-encoding registry.
const (
	EncodingRaw         int32 = 0
	EncodingCopyRect    int32 = 1
	EncodingRRE         int32 = 2
	EncodingHextile     int32 = 5
	EncodingPointerPos  int32 = -232
	EncodingDesktopSize int32 = -223
	EncodingCursor      int32 = -239
)

// Encoding decodes one rectangle of a framebuffer update.
type Encoding interface {
	Type() int32

	// Read consumes the rectangle payload from r and applies it to c.
	Read(c *ClientConn, rect Rectangle, r io.Reader) error
}

// PseudoEncoding marks encodings that carry metadata instead of pixels.
type PseudoEncoding interface {
	Encoding
	IsPseudo() bool
}

func isPseudo(enc Encoding) bool {
	p, ok := enc.(PseudoEncoding)
	return ok && p.IsPseudo()
}

// readPixels reads count wire pixels and returns them as colors.
func readPixels(c *ClientConn, r io.Reader, count int) ([]color.RGBA, error) {
	codec := c.pixelDecoder()
	buf := make([]byte, count*codec.bpp)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]color.RGBA, count)
	for i := range out {
		out[i] = codec.decode(buf[i*codec.bpp:])
	}
	return out, nil
}

// readPixel reads a single wire pixel.
func readPixel(c *ClientConn, r io.Reader) (color.RGBA, error) {
	codec := c.pixelDecoder()
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:codec.bpp]); err != nil {
		return color.RGBA{}, err
	}
	return codec.decode(buf[:codec.bpp]), nil
}

// fillRect paints a solid rectangle clipped to img.
func fillRect(img *image.RGBA, x, y, width, height int, col color.RGBA) {
	rect := image.Rect(x, y, x+width, y+height).Intersect(img.Rect)
	if rect.Empty() {
		return
	}
	px := [4]byte{col.R, col.G, col.B, col.A}
	for row := rect.Min.Y; row < rect.Max.Y; row++ {
		offset := img.PixOffset(rect.Min.X, row)
		line := img.Pix[offset : offset+rect.Dx()*4]
		for i := 0; i < len(line); i += 4 {
			copy(line[i:i+4], px[:])
		}
	}
}
