// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
)

// PixelFormat describes how pixel values are laid out on the wire.
type PixelFormat struct {
	// BPP (bits-per-pixel) specifies how many bits are used to represent each pixel.
	BPP uint8

	// Depth specifies the number of useful bits within each pixel value.
	Depth uint8

	// BigEndian determines the byte order for multi-byte pixel values.
	BigEndian bool

	// TrueColor selects direct RGB values (true) or indices into a color map (false).
	TrueColor bool

	RedMax   uint16
	GreenMax uint16
	BlueMax  uint16

	// The shifts move each component to the least significant bits.
	RedShift   uint8
	GreenShift uint8
	BlueShift  uint8
}

// PixelFormatRGBX is the native 32 bpp format of the engines: depth 24,
// little-endian, red in the lowest byte. In memory each pixel is the byte
// sequence R, G, B, X.
var PixelFormatRGBX = PixelFormat{
	BPP:        32,
	Depth:      24,
	TrueColor:  true,
	RedMax:     255,
	GreenMax:   255,
	BlueMax:    255,
	RedShift:   0,
	GreenShift: 8,
	BlueShift:  16,
}

// PixelFormat16BitRGB565 is a 16 bpp true color format.
var PixelFormat16BitRGB565 = PixelFormat{
	BPP:        16,
	Depth:      16,
	TrueColor:  true,
	RedMax:     31,
	GreenMax:   63,
	BlueMax:    31,
	RedShift:   11,
	GreenShift: 5,
	BlueShift:  0,
}

// PixelFormat8BitIndexed is an 8 bpp color map format.
var PixelFormat8BitIndexed = PixelFormat{
	BPP:   8,
	Depth: 8,
}

const pixelFormatSize = 16

// readPixelFormat parses the 16 byte wire structure (RFC 6143 7.4).
func readPixelFormat(r io.Reader, pf *PixelFormat) error {
	var raw [pixelFormatSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return networkError("readPixelFormat", "failed to read pixel format data", err)
	}
	decodePixelFormat(raw[:], pf)
	return nil
}

func decodePixelFormat(raw []byte, pf *PixelFormat) {
	*pf = PixelFormat{
		BPP:       raw[0],
		Depth:     raw[1],
		BigEndian: raw[2] != 0,
		TrueColor: raw[3] != 0,
	}
	if pf.TrueColor {
		pf.RedMax = binary.BigEndian.Uint16(raw[4:6])
		pf.GreenMax = binary.BigEndian.Uint16(raw[6:8])
		pf.BlueMax = binary.BigEndian.Uint16(raw[8:10])
		pf.RedShift = raw[10]
		pf.GreenShift = raw[11]
		pf.BlueShift = raw[12]
	}
}

// writePixelFormat encodes pf into its 16 byte wire structure.
func writePixelFormat(pf *PixelFormat) []byte {
	raw := make([]byte, pixelFormatSize)
	raw[0] = pf.BPP
	raw[1] = pf.Depth
	if pf.BigEndian {
		raw[2] = 1
	}
	if pf.TrueColor {
		raw[3] = 1
		binary.BigEndian.PutUint16(raw[4:6], pf.RedMax)
		binary.BigEndian.PutUint16(raw[6:8], pf.GreenMax)
		binary.BigEndian.PutUint16(raw[8:10], pf.BlueMax)
		raw[10] = pf.RedShift
		raw[11] = pf.GreenShift
		raw[12] = pf.BlueShift
	}
	return raw
}

// PixelFormatValidationError describes the first field of a PixelFormat that failed validation.
type PixelFormatValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *PixelFormatValidationError) Error() string {
	return fmt.Sprintf("pixel format validation failed for field %s: %s (value: %v)",
		e.Field, e.Message, e.Value)
}

// Validate checks that pf is a format both engines can encode and decode.
func (pf *PixelFormat) Validate() error {
	switch pf.BPP {
	case 8, 16, 32:
	default:
		return &PixelFormatValidationError{Field: "BPP", Value: pf.BPP, Message: "bits per pixel must be 8, 16, or 32"}
	}
	if pf.Depth == 0 || pf.Depth > pf.BPP {
		return &PixelFormatValidationError{Field: "Depth", Value: pf.Depth,
			Message: fmt.Sprintf("color depth must be between 1 and %d", pf.BPP)}
	}
	if !pf.TrueColor {
		return nil
	}
	if pf.RedMax == 0 && pf.GreenMax == 0 && pf.BlueMax == 0 {
		return &PixelFormatValidationError{Field: "ColorMax",
			Value:   fmt.Sprintf("R:%d G:%d B:%d", pf.RedMax, pf.GreenMax, pf.BlueMax),
			Message: "all color maximums cannot be zero in true color mode"}
	}
	for _, s := range []struct {
		name  string
		shift uint8
	}{{"RedShift", pf.RedShift}, {"GreenShift", pf.GreenShift}, {"BlueShift", pf.BlueShift}} {
		if s.shift >= pf.BPP {
			return &PixelFormatValidationError{Field: s.name, Value: s.shift,
				Message: fmt.Sprintf("shift exceeds maximum for %d-bit pixels", pf.BPP)}
		}
	}
	return nil
}

// BytesPerPixel returns BPP/8.
func (pf *PixelFormat) BytesPerPixel() int {
	return int(pf.BPP) / 8
}

func (pf *PixelFormat) byteOrder() binary.ByteOrder {
	if pf.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// pixelCodec converts between wire pixels in one PixelFormat and 8 bit RGB.
type pixelCodec struct {
	pf       PixelFormat
	order    binary.ByteOrder
	bpp      int
	colorMap *ColorMap
}

func newPixelCodec(pf PixelFormat, colorMap *ColorMap) *pixelCodec {
	return &pixelCodec{pf: pf, order: pf.byteOrder(), bpp: pf.BytesPerPixel(), colorMap: colorMap}
}

func (pc *pixelCodec) raw(b []byte) uint32 {
	switch pc.bpp {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(pc.order.Uint16(b))
	default:
		return pc.order.Uint32(b)
	}
}

func scaleTo8(v uint32, max uint16) uint8 {
	if max == 0 {
		return 0
	}
	return uint8((v * 255) / uint32(max)) // #nosec G115 - v <= max
}

// decode returns the opaque color of the wire pixel at the start of b.
func (pc *pixelCodec) decode(b []byte) color.RGBA {
	p := pc.raw(b)
	if !pc.pf.TrueColor {
		if pc.colorMap == nil {
			return color.RGBA{A: 0xff}
		}
		c := pc.colorMap.Get(uint8(p)) // #nosec G115 - 8 bpp index
		return color.RGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8), A: 0xff}
	}
	return color.RGBA{
		R: scaleTo8((p>>pc.pf.RedShift)&uint32(pc.pf.RedMax), pc.pf.RedMax),
		G: scaleTo8((p>>pc.pf.GreenShift)&uint32(pc.pf.GreenMax), pc.pf.GreenMax),
		B: scaleTo8((p>>pc.pf.BlueShift)&uint32(pc.pf.BlueMax), pc.pf.BlueMax),
		A: 0xff,
	}
}

// encode writes r, g, b as one wire pixel at the start of dst. Indexed
// formats receive the 3-3-2 palette index.
func (pc *pixelCodec) encode(dst []byte, r, g, b uint8) {
	var p uint32
	if pc.pf.TrueColor {
		p = (uint32(r)*uint32(pc.pf.RedMax)/255)<<pc.pf.RedShift |
			(uint32(g)*uint32(pc.pf.GreenMax)/255)<<pc.pf.GreenShift |
			(uint32(b)*uint32(pc.pf.BlueMax)/255)<<pc.pf.BlueShift
	} else {
		p = uint32(r>>5)<<5 | uint32(g>>5)<<2 | uint32(b>>6)
	}
	switch pc.bpp {
	case 1:
		dst[0] = uint8(p) // #nosec G115 - 8 bpp
	case 2:
		pc.order.PutUint16(dst, uint16(p)) // #nosec G115 - 16 bpp
	default:
		pc.order.PutUint32(dst, p)
	}
}
