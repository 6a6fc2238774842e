// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package connection

import vnc "github.com/tenthirtyam/anyvnc"

// Event is an input event queued for the server. Events are sent from the
// connection's worker in the order they were queued.
type Event interface {
	fire(engine Engine) error
	name() string
}

// PointerEvent moves the remote pointer with Buttons held.
type PointerEvent struct {
	X, Y    int
	Buttons vnc.ButtonMask
}

func (e PointerEvent) fire(engine Engine) error {
	return engine.PointerEvent(e.Buttons, clampUint16(e.X), clampUint16(e.Y))
}

func (PointerEvent) name() string { return "pointer" }

// KeyEvent presses or releases an X11 keysym.
type KeyEvent struct {
	Key  uint32
	Down bool
}

func (e KeyEvent) fire(engine Engine) error {
	return engine.KeyEvent(e.Key, e.Down)
}

func (KeyEvent) name() string { return "key" }

// ClipboardEvent sends local clipboard text to the server.
type ClipboardEvent struct {
	Text string
}

func (e ClipboardEvent) fire(engine Engine) error {
	return engine.CutText(e.Text)
}

func (ClipboardEvent) name() string { return "clipboard" }

func clampUint16(v int) uint16 {
	return uint16(min(max(v, 0), 0xffff)) // #nosec G115 - clamped above
}

// Enqueue queues ev for the worker and reports whether it was accepted.
// Events are dropped unless the connection is Connected. wake interrupts an
// update interval wait so the event goes out immediately.
func (c *Connection) Enqueue(ev Event, wake bool) bool {
	if ev == nil || c.State() != StateConnected {
		return false
	}

	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()

	if wake {
		c.wakeUp()
	}
	return true
}

// SendPointerEvent queues a pointer event and wakes the worker.
func (c *Connection) SendPointerEvent(x, y int, buttons vnc.ButtonMask) bool {
	return c.Enqueue(PointerEvent{X: x, Y: y, Buttons: buttons}, true)
}

// SendKeyEvent queues a key event and wakes the worker.
func (c *Connection) SendKeyEvent(key uint32, down bool) bool {
	return c.Enqueue(KeyEvent{Key: key, Down: down}, true)
}

// SendClipboardText queues clipboard text and wakes the worker.
func (c *Connection) SendClipboardText(text string) bool {
	return c.Enqueue(ClipboardEvent{Text: text}, true)
}

// QueueEmpty reports whether every queued event has been sent.
func (c *Connection) QueueEmpty() bool {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue) == 0
}

// sendEvents drains the queue. The lock is released while an event fires.
func (c *Connection) sendEvents(engine Engine) {
	c.queueMu.Lock()
	for len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		if !c.terminate.Load() {
			if err := ev.fire(engine); err != nil {
				c.logger.Debug("failed to send event", vnc.Field{Key: "event", Value: ev.name()}, vnc.Field{Key: "error", Value: err})
			}
		}

		c.queueMu.Lock()
	}
	c.queueMu.Unlock()
}
