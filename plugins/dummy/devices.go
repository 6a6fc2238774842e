// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package dummy

import (
	"fmt"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// KeyEvent is a key event received by Keyboard.
type KeyEvent struct {
	Keysym uint32
	Down   bool
}

// Keyboard records key events.
type Keyboard struct {
	base
	events []KeyEvent
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

func (k *Keyboard) Identity() plugin.Identity {
	return identity(KeyboardUID, "DummyKeyboard", "Recording keyboard")
}

func (k *Keyboard) Initialize(host capability.Host) error {
	k.initialize(host, "DummyKeyboard")
	return nil
}

func (k *Keyboard) SynthesizeKeyEvent(keysym uint32, down bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.log().Debug("key event", vnc.Field{Key: "keysym", Value: fmt.Sprintf("0x%04x", keysym)}, vnc.Field{Key: "down", Value: down})
	k.events = append(k.events, KeyEvent{Keysym: keysym, Down: down})
}

// Events returns the recorded key events.
func (k *Keyboard) Events() []KeyEvent {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]KeyEvent(nil), k.events...)
}

// PointerEvent is one call received by PointingDevice, rendered as text
// such as "move 3,4", "press left" or "scroll up".
type PointerEvent string

// PointingDevice records pointer calls.
type PointingDevice struct {
	base
	events []PointerEvent
	pos    capability.Point
}

func NewPointingDevice() *PointingDevice { return &PointingDevice{} }

func (p *PointingDevice) Identity() plugin.Identity {
	return identity(PointingDeviceUID, "DummyPointingDevice", "Recording pointing device")
}

func (p *PointingDevice) Initialize(host capability.Host) error {
	p.initialize(host, "DummyPointingDevice")
	return nil
}

func (p *PointingDevice) record(ev PointerEvent) {
	p.log().Debug("pointer event", vnc.Field{Key: "event", Value: string(ev)})
	p.events = append(p.events, ev)
}

func (p *PointingDevice) Move(pos capability.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.record(PointerEvent(fmt.Sprintf("move %d,%d", pos.X, pos.Y)))
}

func (p *PointingDevice) PressButton(button capability.Button) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(PointerEvent("press " + button.String()))
}

func (p *PointingDevice) ReleaseButton(button capability.Button) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(PointerEvent("release " + button.String()))
}

func (p *PointingDevice) ScrollUp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll up")
}

func (p *PointingDevice) ScrollDown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll down")
}

// Position returns the last position passed to Move.
func (p *PointingDevice) Position() capability.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Events returns the recorded calls.
func (p *PointingDevice) Events() []PointerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PointerEvent(nil), p.events...)
}

// Clipboard stores the last text it received.
type Clipboard struct {
	base
	text string
}

func NewClipboard() *Clipboard { return &Clipboard{} }

func (c *Clipboard) Identity() plugin.Identity {
	return identity(ClipboardUID, "DummyClipboard", "In-memory clipboard")
}

func (c *Clipboard) Initialize(host capability.Host) error {
	c.initialize(host, "DummyClipboard")
	return nil
}

func (c *Clipboard) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log().Debug("clipboard text", vnc.Field{Key: "length", Value: len(text)})
	c.text = text
}

// Text returns the stored text.
func (c *Clipboard) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}
