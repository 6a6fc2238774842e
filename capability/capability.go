// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package capability defines the contracts implemented by AnyVNC plugins:
// the four server devices, the protocol backend and the user interface.
package capability

import (
	"strings"
	"time"

	vnc "github.com/tenthirtyam/anyvnc"
)

// Contract names one capability interface.
type Contract int

const (
	ContractFramebuffer Contract = iota
	ContractKeyboard
	ContractPointingDevice
	ContractClipboard
	ContractServerBackend
	ContractUserInterface
)

func (c Contract) String() string {
	switch c {
	case ContractFramebuffer:
		return "framebuffer"
	case ContractKeyboard:
		return "keyboard"
	case ContractPointingDevice:
		return "pointing-device"
	case ContractClipboard:
		return "clipboard"
	case ContractServerBackend:
		return "server-backend"
	case ContractUserInterface:
		return "user-interface"
	default:
		return "unknown"
	}
}

// Contracts returns every contract the value v satisfies.
func Contracts(v any) []Contract {
	var out []Contract
	if _, ok := v.(Framebuffer); ok {
		out = append(out, ContractFramebuffer)
	}
	if _, ok := v.(Keyboard); ok {
		out = append(out, ContractKeyboard)
	}
	if _, ok := v.(PointingDevice); ok {
		out = append(out, ContractPointingDevice)
	}
	if _, ok := v.(Clipboard); ok {
		out = append(out, ContractClipboard)
	}
	if _, ok := v.(ServerBackend); ok {
		out = append(out, ContractServerBackend)
	}
	if _, ok := v.(UserInterface); ok {
		out = append(out, ContractUserInterface)
	}
	return out
}

// JoinContracts formats contracts as a comma separated list.
func JoinContracts(contracts []Contract) string {
	names := make([]string, len(contracts))
	for i, c := range contracts {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

// Host is what a server exposes to the plugins it initializes.
type Host interface {
	Port() int
	Password() string
	DesktopName() string
	Framebuffer() Framebuffer
	Keyboard() Keyboard
	PointingDevice() PointingDevice
	Clipboard() Clipboard
	Logger() vnc.Logger
}

// Initializer is implemented by every plugin a server initializes.
type Initializer interface {
	Initialize(host Host) error
}

// UpdateFlags reports the outcome of Framebuffer.Update.
type UpdateFlags uint32

const (
	// UpdateInitializing means the capture source has not produced a frame yet.
	UpdateInitializing UpdateFlags = 1 << iota
	// UpdateSizeChanged means Data and Size now describe a different geometry.
	UpdateSizeChanged
	// UpdateRequiresRestart means the framebuffer cannot continue and the server must re-assemble.
	UpdateRequiresRestart
)

// Has reports whether every bit of flag is set.
func (f UpdateFlags) Has(flag UpdateFlags) bool {
	return f&flag == flag
}

func (f UpdateFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f.Has(UpdateInitializing) {
		parts = append(parts, "initializing")
	}
	if f.Has(UpdateSizeChanged) {
		parts = append(parts, "size-changed")
	}
	if f.Has(UpdateRequiresRestart) {
		parts = append(parts, "requires-restart")
	}
	return strings.Join(parts, "|")
}

// RectangleVisitor receives one changed region.
type RectangleVisitor func(Rectangle)

// Framebuffer captures the screen into a 32 bit RGBX buffer with a stride of width*4.
type Framebuffer interface {
	Initializer

	// Data returns the pixel buffer. It stays valid until the next Update
	// that reports UpdateSizeChanged.
	Data() []byte
	Size() Size

	// Update refreshes Data and reports every changed region to visitor.
	Update(visitor RectangleVisitor) UpdateFlags

	AvailableScreens() Screens
	Close() error
}

// Keyboard injects key events given as X11 keysyms.
type Keyboard interface {
	Initializer
	SynthesizeKeyEvent(keysym uint32, down bool)
	Close() error
}

// Button is a pointing device button.
type Button int

const (
	ButtonLeft Button = iota
	ButtonMiddle
	ButtonRight
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonMiddle:
		return "middle"
	case ButtonRight:
		return "right"
	default:
		return "unknown"
	}
}

// PointingDevice injects pointer motion, buttons and wheel steps.
type PointingDevice interface {
	Initializer
	Move(pos Point)
	PressButton(button Button)
	ReleaseButton(button Button)
	ScrollUp()
	ScrollDown()
	Close() error
}

// Clipboard receives remote clipboard text.
type Clipboard interface {
	Initializer
	SetText(text string)
	Close() error
}

// ServerBackend bridges the devices to a remote framebuffer protocol.
type ServerBackend interface {
	Initializer

	// HandleFramebufferUpdate pulls changes from the framebuffer. It reports
	// whether anything was marked modified, and the framebuffer's flags.
	HandleFramebufferUpdate() (bool, UpdateFlags)

	HasConnectedClients() bool
	HasPendingClientUpdateRequests() bool

	// ProcessEvents services clients for up to timeout and reports false
	// once the backend can no longer run.
	ProcessEvents(timeout time.Duration) bool

	Shutdown() error
}

// UserInterface is the entry point of an application built from plugins.
type UserInterface interface {
	// Run executes the interface with command line arguments and returns the exit code.
	Run(args []string) int
}
