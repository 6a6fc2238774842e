// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"strings"
	"unicode"
)

// Wire limits shared by the client and server engines.
const (
	MaxDimension             = 32768
	MaxClipboardLength       = 1024 * 1024
	MaxServerClipboardLength = 10 * 1024 * 1024
	MaxRectanglesPerUpdate   = 10000
	MaxEncodingsPerRequest   = 1024
	Latin1MaxCodePoint       = 255
	maxDesktopNameLength     = 1 << 16
	maxReasonLength          = 1 << 16
)

const protocolVersionLength = 12

// ProtocolVersion is a negotiated RFB minor version. The major version is always 3.
type ProtocolVersion int

const (
	ProtocolVersion33 ProtocolVersion = 3
	ProtocolVersion37 ProtocolVersion = 7
	ProtocolVersion38 ProtocolVersion = 8
)

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("RFB 003.%03d\n", int(v))
}

// parseProtocolVersion parses a 12 byte "RFB xxx.yyy\n" message and maps it
// onto the closest version both engines implement.
func parseProtocolVersion(msg []byte) (ProtocolVersion, error) {
	if len(msg) != protocolVersionLength {
		return 0, validationError("parseProtocolVersion",
			fmt.Sprintf("protocol version must be exactly %d characters, got %d", protocolVersionLength, len(msg)), nil)
	}
	s := string(msg)
	if !strings.HasPrefix(s, "RFB ") || s[11] != '\n' || s[7] != '.' {
		return 0, validationError("parseProtocolVersion", fmt.Sprintf("malformed protocol version %q", s), nil)
	}
	var major, minor int
	if _, err := fmt.Sscanf(s[4:11], "%03d.%03d", &major, &minor); err != nil {
		return 0, validationError("parseProtocolVersion", fmt.Sprintf("malformed protocol version %q", s), err)
	}
	if major != 3 || minor < 3 {
		return 0, unsupportedError("parseProtocolVersion", fmt.Sprintf("unsupported protocol version %d.%d", major, minor), nil)
	}
	switch {
	case minor >= 8:
		return ProtocolVersion38, nil
	case minor == 7:
		return ProtocolVersion37, nil
	default:
		return ProtocolVersion33, nil
	}
}

// validateFramebufferDimensions rejects zero and oversized framebuffers.
func validateFramebufferDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return validationError("validateFramebufferDimensions",
			fmt.Sprintf("framebuffer dimensions must be positive, got %dx%d", width, height), nil)
	}
	if width > MaxDimension || height > MaxDimension {
		return validationError("validateFramebufferDimensions",
			fmt.Sprintf("framebuffer dimensions too large: %dx%d (max %d)", width, height, MaxDimension), nil)
	}
	return nil
}

// validateRectangle checks that a wire rectangle lies inside a fbWidth x fbHeight framebuffer.
func validateRectangle(r Rectangle, fbWidth, fbHeight int) error {
	if int(r.X)+int(r.Width) > fbWidth || int(r.Y)+int(r.Height) > fbHeight {
		return validationError("validateRectangle",
			fmt.Sprintf("rectangle (%d,%d,%d,%d) exceeds framebuffer bounds (%d,%d)",
				r.X, r.Y, r.Width, r.Height, fbWidth, fbHeight), nil)
	}
	return nil
}

// latin1ToString decodes ISO 8859-1 text.
func latin1ToString(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return sanitizeText(string(runes))
}

// stringToLatin1 encodes text as ISO 8859-1. Code points above 255 are an error.
func stringToLatin1(op, text string) ([]byte, error) {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r > Latin1MaxCodePoint {
			return nil, validationError(op, fmt.Sprintf("character %q cannot be represented in Latin-1", r), nil)
		}
		out = append(out, byte(r))
	}
	return out, nil
}

// sanitizeText keeps tabs and line breaks, replaces other control characters
// with spaces, and unprintable runes with U+FFFD.
func sanitizeText(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 32:
			return ' '
		case unicode.IsPrint(r):
			return r
		default:
			return '\uFFFD'
		}
	}, text)
}
