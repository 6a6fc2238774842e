// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"testing"
)

func TestValidation_ProtocolVersion(t *testing.T) {
	tests := []struct {
		msg  string
		want ProtocolVersion
		code ErrorCode
		ok   bool
	}{
		{"RFB 003.008\n", ProtocolVersion38, 0, true},
		{"RFB 003.889\n", ProtocolVersion38, 0, true},
		{"RFB 003.007\n", ProtocolVersion37, 0, true},
		{"RFB 003.005\n", ProtocolVersion33, 0, true},
		{"RFB 003.003\n", ProtocolVersion33, 0, true},
		{"RFB 003.002\n", 0, ErrUnsupported, false},
		{"RFB 004.000\n", 0, ErrUnsupported, false},
		{"RFB 003.8\n", 0, ErrValidation, false},
		{"XYZ 003.008\n", 0, ErrValidation, false},
		{"RFB 003.008 ", 0, ErrValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got, err := parseProtocolVersion([]byte(tt.msg))
			if tt.ok {
				if err != nil || got != tt.want {
					t.Errorf("parseProtocolVersion() = %v, %v, want %v", got, err, tt.want)
				}
				return
			}
			if !IsVNCError(err, tt.code) {
				t.Errorf("parseProtocolVersion() error = %v, want code %v", err, tt.code)
			}
		})
	}
	if got := ProtocolVersion37.String(); got != "RFB 003.007\n" {
		t.Errorf("String() = %q", got)
	}
}

func TestValidation_FramebufferDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		ok            bool
	}{
		{"typical", 1920, 1080, true},
		{"largest", MaxDimension, MaxDimension, true},
		{"zero width", 0, 10, false},
		{"negative height", 10, -1, false},
		{"too wide", MaxDimension + 1, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFramebufferDimensions(tt.width, tt.height)
			if (err == nil) != tt.ok {
				t.Errorf("validateFramebufferDimensions(%d, %d) = %v", tt.width, tt.height, err)
			}
		})
	}
}

func TestValidation_Rectangle(t *testing.T) {
	tests := []struct {
		name string
		rect Rectangle
		ok   bool
	}{
		{"inside", Rectangle{X: 0, Y: 0, Width: 64, Height: 48}, true},
		{"touches edge", Rectangle{X: 60, Y: 40, Width: 4, Height: 8}, true},
		{"past right", Rectangle{X: 60, Y: 0, Width: 5, Height: 1}, false},
		{"past bottom", Rectangle{X: 0, Y: 48, Width: 1, Height: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateRectangle(tt.rect, 64, 48); (err == nil) != tt.ok {
				t.Errorf("validateRectangle(%+v) = %v", tt.rect, err)
			}
		})
	}
}

func TestValidation_Latin1(t *testing.T) {
	if got := latin1ToString([]byte{'c', 'a', 'f', 0xe9, 0x07, '\n'}); got != "café \n" {
		t.Errorf("latin1ToString() = %q", got)
	}

	b, err := stringToLatin1("op", "naïve")
	if err != nil || string(b) != "na\xefve" {
		t.Errorf("stringToLatin1() = %q, %v", b, err)
	}
	if _, err := stringToLatin1("op", "snow ☃"); !IsVNCError(err, ErrValidation) {
		t.Errorf("stringToLatin1() error = %v, want validation", err)
	}
}

func TestValidation_SanitizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"tab\tand\r\nbreaks", "tab\tand\r\nbreaks"},
		{"bell\x07", "bell "},
		{"del\u007f", "del�"},
	}
	for _, tt := range tests {
		if got := sanitizeText(tt.in); got != tt.want {
			t.Errorf("sanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
