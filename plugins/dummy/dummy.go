// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package dummy provides device plugins that touch no hardware. The
// framebuffer is an in-memory image that can be painted, and the input
// devices log and record what they receive. They are used for headless
// testing and as the --dummy device set of the CLI.
package dummy

import (
	"sync"

	"github.com/google/uuid"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// Plugin UIDs.
var (
	FramebufferUID    = uuid.MustParse("379e2a94-767f-4785-b6bc-63064a43b8b0")
	KeyboardUID       = uuid.MustParse("a16ca339-7495-4de0-8e84-affa7e861ff0")
	PointingDeviceUID = uuid.MustParse("ebcd5400-56ad-4d49-b26a-bec73b8196cd")
	ClipboardUID      = uuid.MustParse("5b0f6c1e-2d8a-4c53-9e0b-7a4d2f1c8e36")
)

// DefaultSize is the resolution of a new dummy framebuffer.
var DefaultSize = capability.Size{Width: 100, Height: 100}

func identity(uid uuid.UUID, name, description string) plugin.Identity {
	return plugin.Identity{
		UID:         uid,
		Version:     plugin.Version{Major: 1, Minor: 0},
		Name:        name,
		Description: description,
		Vendor:      "AnyVNC Community",
		Copyright:   "Ryan Johnson",
	}
}

// Register adds the dummy plugins to registry.
func Register(registry *plugin.Registry) error {
	modules := []struct {
		name string
		ctor plugin.Constructor
	}{
		{"dummy-framebuffer", func() plugin.Plugin { return NewFramebuffer() }},
		{"dummy-keyboard", func() plugin.Plugin { return NewKeyboard() }},
		{"dummy-pointing-device", func() plugin.Plugin { return NewPointingDevice() }},
		{"dummy-clipboard", func() plugin.Plugin { return NewClipboard() }},
	}
	for _, m := range modules {
		if err := registry.Register(m.name, m.ctor); err != nil {
			return err
		}
	}
	return nil
}

// base holds what every dummy device shares.
type base struct {
	mu     sync.Mutex
	logger vnc.Logger
	closed bool
}

func (b *base) initialize(host capability.Host, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &vnc.NoOpLogger{}
	if host != nil {
		b.logger = vnc.OrNoOp(host.Logger()).With(vnc.Field{Key: "plugin", Value: name})
	}
	b.closed = false
}

func (b *base) log() vnc.Logger {
	if b.logger == nil {
		return &vnc.NoOpLogger{}
	}
	return b.logger
}

func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called since the last Initialize.
func (b *base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
