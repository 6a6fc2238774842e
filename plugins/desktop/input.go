// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package desktop

import (
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/go-vgo/robotgo"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// injector performs OS input. robotInjector is the real one.
type injector interface {
	KeyToggle(key string, down bool) error
	Move(x, y int)
	ButtonToggle(button string, down bool) error
	Scroll(steps int)
}

type robotInjector struct{}

func upDown(down bool) string {
	if down {
		return "down"
	}
	return "up"
}

func (robotInjector) KeyToggle(key string, down bool) error {
	return robotgo.KeyToggle(key, upDown(down))
}

func (robotInjector) Move(x, y int) { robotgo.Move(x, y) }

func (robotInjector) ButtonToggle(button string, down bool) error {
	return robotgo.Toggle(button, upDown(down))
}

func (robotInjector) Scroll(steps int) { robotgo.Scroll(0, steps) }

// keysymNames maps X11 keysyms without a printable character to robotgo
// key names.
var keysymNames = map[uint32]string{
	0xff08: "backspace",
	0xff09: "tab",
	0xff0d: "enter",
	0xff13: "pause",
	0xff14: "scrolllock",
	0xff1b: "esc",
	0xff50: "home",
	0xff51: "left",
	0xff52: "up",
	0xff53: "right",
	0xff54: "down",
	0xff55: "pageup",
	0xff56: "pagedown",
	0xff57: "end",
	0xff61: "printscreen",
	0xff63: "insert",
	0xff67: "menu",
	0xff7f: "numlock",
	0xff8d: "enter",
	0xffe1: "lshift",
	0xffe2: "rshift",
	0xffe3: "lctrl",
	0xffe4: "rctrl",
	0xffe5: "capslock",
	0xffe7: "lcmd",
	0xffe8: "rcmd",
	0xffe9: "lalt",
	0xffea: "ralt",
	0xffeb: "lcmd",
	0xffec: "rcmd",
	0xffff: "delete",
}

// KeyName returns the robotgo key name for an X11 keysym.
func KeyName(keysym uint32) (string, bool) {
	if name, ok := keysymNames[keysym]; ok {
		return name, true
	}
	switch {
	case keysym >= 0xffbe && keysym <= 0xffc9:
		return fmt.Sprintf("f%d", keysym-0xffbe+1), true
	case keysym >= 0xffb0 && keysym <= 0xffb9:
		return fmt.Sprintf("num%d", keysym-0xffb0), true
	case keysym == 0x20:
		return "space", true
	case keysym >= 'A' && keysym <= 'Z':
		// Shift arrives as its own key event.
		return string(rune(keysym + 'a' - 'A')), true
	case keysym > 0x20 && keysym < 0x7f:
		return string(rune(keysym)), true
	}
	return "", false
}

// Keyboard injects key events through robotgo.
type Keyboard struct {
	mu     sync.Mutex
	inject injector
	logger vnc.Logger
}

func NewKeyboard() *Keyboard { return &Keyboard{inject: robotInjector{}, logger: &vnc.NoOpLogger{}} }

func (k *Keyboard) Identity() plugin.Identity {
	return identity(KeyboardUID, "DesktopKeyboard", "Keyboard input through robotgo",
		plugin.ProvidesDefaultImplementation)
}

func (k *Keyboard) Initialize(host capability.Host) error {
	k.logger = hostLogger(host, "DesktopKeyboard")
	return nil
}

func (k *Keyboard) SynthesizeKeyEvent(keysym uint32, down bool) {
	name, ok := KeyName(keysym)
	if !ok {
		k.logger.Debug("unmapped keysym", vnc.Field{Key: "keysym", Value: fmt.Sprintf("0x%04x", keysym)})
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.inject.KeyToggle(name, down); err != nil {
		k.logger.Warn("key injection failed", vnc.Field{Key: "key", Value: name}, vnc.Field{Key: "error", Value: err})
	}
}

func (k *Keyboard) Close() error { return nil }

// PointingDevice injects pointer events through robotgo.
type PointingDevice struct {
	mu     sync.Mutex
	inject injector
	logger vnc.Logger
}

func NewPointingDevice() *PointingDevice {
	return &PointingDevice{inject: robotInjector{}, logger: &vnc.NoOpLogger{}}
}

func (p *PointingDevice) Identity() plugin.Identity {
	return identity(PointingDeviceUID, "DesktopPointingDevice", "Pointer input through robotgo",
		plugin.ProvidesDefaultImplementation)
}

func (p *PointingDevice) Initialize(host capability.Host) error {
	p.logger = hostLogger(host, "DesktopPointingDevice")
	return nil
}

func (p *PointingDevice) Move(pos capability.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inject.Move(pos.X, pos.Y)
}

func (p *PointingDevice) PressButton(button capability.Button)   { p.toggle(button, true) }
func (p *PointingDevice) ReleaseButton(button capability.Button) { p.toggle(button, false) }

func (p *PointingDevice) toggle(button capability.Button, down bool) {
	name := button.String()
	if name == "unknown" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.inject.ButtonToggle(name, down); err != nil {
		p.logger.Warn("button injection failed", vnc.Field{Key: "button", Value: name}, vnc.Field{Key: "error", Value: err})
	}
}

func (p *PointingDevice) ScrollUp()   { p.scroll(1) }
func (p *PointingDevice) ScrollDown() { p.scroll(-1) }

func (p *PointingDevice) scroll(steps int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inject.Scroll(steps)
}

func (p *PointingDevice) Close() error { return nil }

// Clipboard writes remote cut text to the system clipboard.
type Clipboard struct {
	write  func(string) error
	logger vnc.Logger
}

func NewClipboard() *Clipboard {
	return &Clipboard{write: clipboard.WriteAll, logger: &vnc.NoOpLogger{}}
}

func (c *Clipboard) Identity() plugin.Identity {
	return identity(ClipboardUID, "DesktopClipboard", "System clipboard",
		plugin.ProvidesDefaultImplementation)
}

func (c *Clipboard) Initialize(host capability.Host) error {
	c.logger = hostLogger(host, "DesktopClipboard")
	if clipboard.Unsupported {
		c.logger.Warn("system clipboard is not available")
	}
	return nil
}

func (c *Clipboard) SetText(text string) {
	if err := c.write(text); err != nil {
		c.logger.Warn("clipboard write failed", vnc.Field{Key: "error", Value: err})
	}
}

func (c *Clipboard) Close() error { return nil }
