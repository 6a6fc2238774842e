// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Server to client message types.
const (
	serverFramebufferUpdate  uint8 = 0
	serverSetColorMapEntries uint8 = 1
	serverBell               uint8 = 2
	serverCutText            uint8 = 3
)

// rectangleHeaderSize is x, y, width, height and encoding type.
const rectangleHeaderSize = 12

// ServerMessage handles one server to client message type. Read consumes the
// message body; the type byte has already been read.
type ServerMessage interface {
	Type() uint8
	Read(c *ClientConn, r io.Reader) error
}

// Rectangle is a framebuffer region in RFB wire form: origin plus size.
type Rectangle struct {
	X      uint16
	Y      uint16
	Width  uint16
	Height uint16
}

// Area returns Width*Height.
func (r Rectangle) Area() int {
	return int(r.Width) * int(r.Height)
}

// FramebufferUpdateMessage (type 0) carries rectangles of pixel data and pseudo-encodings.
type FramebufferUpdateMessage struct{}

// Type returns the message type.
func (*FramebufferUpdateMessage) Type() uint8 {
	return serverFramebufferUpdate
}

// Read decodes every rectangle, reporting painted regions through
// ClientHooks.RegionUpdated and the end of the update through UpdateFinished.
func (*FramebufferUpdateMessage) Read(c *ClientConn, r io.Reader) error {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return networkError("FramebufferUpdateMessage.Read", "failed to read update header", err)
	}
	count := int(binary.BigEndian.Uint16(header[1:3]))
	if count > MaxRectanglesPerUpdate {
		return protocolError("FramebufferUpdateMessage.Read",
			fmt.Sprintf("too many rectangles: %d (max %d)", count, MaxRectanglesPerUpdate), nil)
	}

	var raw [rectangleHeaderSize]byte
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return networkError("FramebufferUpdateMessage.Read", fmt.Sprintf("failed to read rectangle %d header", i), err)
		}
		rect := Rectangle{
			X:      binary.BigEndian.Uint16(raw[0:2]),
			Y:      binary.BigEndian.Uint16(raw[2:4]),
			Width:  binary.BigEndian.Uint16(raw[4:6]),
			Height: binary.BigEndian.Uint16(raw[6:8]),
		}
		encType := int32(binary.BigEndian.Uint32(raw[8:12])) // #nosec G115 - two's complement on the wire

		enc, ok := c.encodings[encType]
		if !ok {
			return unsupportedError("FramebufferUpdateMessage.Read",
				fmt.Sprintf("server used unrequested encoding %d", encType), nil)
		}

		pseudo := isPseudo(enc)
		if !pseudo {
			width, height := c.FramebufferSize()
			if err := validateRectangle(rect, width, height); err != nil {
				return err
			}
		}

		if err := enc.Read(c, rect, r); err != nil {
			return err
		}
		if !pseudo && rect.Area() > 0 {
			c.hooks.regionUpdated(int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height))
		}
	}

	c.hooks.updateFinished()
	return nil
}

// SetColorMapEntriesMessage (type 1) updates the palette of indexed pixel formats.
type SetColorMapEntriesMessage struct{}

// Type returns the message type.
func (*SetColorMapEntriesMessage) Type() uint8 {
	return serverSetColorMapEntries
}

// Read stores the entries in the connection's color map.
func (*SetColorMapEntriesMessage) Read(c *ClientConn, r io.Reader) error {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return networkError("SetColorMapEntriesMessage.Read", "failed to read header", err)
	}
	first := binary.BigEndian.Uint16(header[1:3])
	count := int(binary.BigEndian.Uint16(header[3:5]))

	data := make([]byte, count*6)
	if _, err := io.ReadFull(r, data); err != nil {
		return networkError("SetColorMapEntriesMessage.Read", "failed to read color entries", err)
	}
	colors := make([]Color, count)
	for i := range colors {
		colors[i] = Color{
			R: binary.BigEndian.Uint16(data[i*6:]),
			G: binary.BigEndian.Uint16(data[i*6+2:]),
			B: binary.BigEndian.Uint16(data[i*6+4:]),
		}
	}
	return c.colorMap.SetRange(first, colors)
}

// BellMessage (type 2) rings the client's bell.
type BellMessage struct{}

// Type returns the message type.
func (*BellMessage) Type() uint8 {
	return serverBell
}

// Read has no body.
func (*BellMessage) Read(c *ClientConn, _ io.Reader) error {
	if c.hooks.Bell != nil {
		c.hooks.Bell()
	}
	return nil
}

// ServerCutTextMessage (type 3) carries the server's clipboard text in Latin-1.
type ServerCutTextMessage struct{}

// Type returns the message type.
func (*ServerCutTextMessage) Type() uint8 {
	return serverCutText
}

// Read reports the sanitized text through ClientHooks.ClipboardText.
func (*ServerCutTextMessage) Read(c *ClientConn, r io.Reader) error {
	var header [7]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return networkError("ServerCutTextMessage.Read", "failed to read header", err)
	}
	length := binary.BigEndian.Uint32(header[3:7])
	if length > MaxServerClipboardLength {
		return protocolError("ServerCutTextMessage.Read",
			fmt.Sprintf("cut text too long: %d bytes (max %d)", length, MaxServerClipboardLength), nil)
	}
	text := make([]byte, length)
	if _, err := io.ReadFull(r, text); err != nil {
		return networkError("ServerCutTextMessage.Read", "failed to read text", err)
	}
	if c.hooks.ClipboardText != nil {
		c.hooks.ClipboardText(latin1ToString(text))
	}
	return nil
}
