// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package desktop provides the device plugins for a real desktop session:
// screen capture through kbinani/screenshot, input injection through
// robotgo and clipboard access through atotto/clipboard.
//
// Two framebuffers are offered. ScreenFramebuffer polls whole frames and
// diffs them row by row; it is the default. TileFramebuffer runs a capture
// goroutine that hashes 64x64 tiles and logs changed tiles, and is selected
// by UID.
package desktop

import (
	"github.com/google/uuid"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// Plugin UIDs.
var (
	ScreenFramebufferUID = uuid.MustParse("5d1e7a64-3c2b-4f8e-a0b9-7c6d5e4f3a21")
	TileFramebufferUID   = uuid.MustParse("8f2c4b6a-1d3e-4a5b-9c7d-2e1f0a9b8c76")
	KeyboardUID          = uuid.MustParse("c3a9e5d1-7b2f-4c8a-b6e4-0d9f1a2b3c45")
	PointingDeviceUID    = uuid.MustParse("e7b1c9d3-5a2e-4f6b-8d0c-3a4b5c6d7e89")
	ClipboardUID         = uuid.MustParse("2b4d6f81-9a3c-4e5d-a7f9-1c3e5a7b9d02")
)

func identity(uid uuid.UUID, name, description string, flags plugin.Flags) plugin.Identity {
	return plugin.Identity{
		UID:         uid,
		Version:     plugin.Version{Major: 1, Minor: 0},
		Name:        name,
		Description: description,
		Vendor:      "AnyVNC Community",
		Copyright:   "Ryan Johnson",
		Flags:       flags,
	}
}

// Register adds the desktop plugins to registry.
func Register(registry *plugin.Registry) error {
	modules := []struct {
		name string
		ctor plugin.Constructor
	}{
		{"desktop-screen-framebuffer", func() plugin.Plugin { return NewScreenFramebuffer(0) }},
		{"desktop-tile-framebuffer", func() plugin.Plugin { return NewTileFramebuffer(0) }},
		{"desktop-keyboard", func() plugin.Plugin { return NewKeyboard() }},
		{"desktop-pointing-device", func() plugin.Plugin { return NewPointingDevice() }},
		{"desktop-clipboard", func() plugin.Plugin { return NewClipboard() }},
	}
	for _, m := range modules {
		if err := registry.Register(m.name, m.ctor); err != nil {
			return err
		}
	}
	return nil
}

func hostLogger(host capability.Host, name string) vnc.Logger {
	if host == nil {
		return &vnc.NoOpLogger{}
	}
	return vnc.OrNoOp(host.Logger()).With(vnc.Field{Key: "plugin", Value: name})
}
