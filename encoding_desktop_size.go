// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// DesktopSizePseudoEncoding (-223) announces a new framebuffer size in the
// width and height of the rectangle.
type DesktopSizePseudoEncoding struct{}

// Type returns EncodingDesktopSize.
func (*DesktopSizePseudoEncoding) Type() int32 {
	return EncodingDesktopSize
}

// IsPseudo reports true.
func (*DesktopSizePseudoEncoding) IsPseudo() bool {
	return true
}

// Read reallocates the framebuffer, which calls ClientHooks.AllocateFramebuffer again.
func (*DesktopSizePseudoEncoding) Read(c *ClientConn, rect Rectangle, _ io.Reader) error {
	width, height := int(rect.Width), int(rect.Height)
	if err := validateFramebufferDimensions(width, height); err != nil {
		return err
	}
	c.logger.Info("desktop resized", Field{Key: "width", Value: width}, Field{Key: "height", Value: height})
	return c.allocateFramebuffer(width, height)
}
