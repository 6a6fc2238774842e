// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package backend

import (
	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
)

// Wheel steps arrive as buttons 4 and 5.
const (
	wheelUp   = vnc.Button4
	wheelDown = vnc.Button5
)

// pointerState is the last pointer event of one client.
type pointerState struct {
	mask  vnc.ButtonMask
	x, y  int
	moved bool
}

var pointerButtons = []struct {
	mask   vnc.ButtonMask
	button capability.Button
}{
	{vnc.ButtonLeft, capability.ButtonLeft},
	{vnc.ButtonMiddle, capability.ButtonMiddle},
	{vnc.ButtonRight, capability.ButtonRight},
}

// translatePointer turns an RFB pointer event into device calls: a move when
// the position changed, a press or release for every button whose bit
// flipped, and one scroll step for each wheel bit set.
func translatePointer(dev capability.PointingDevice, last *pointerState, mask vnc.ButtonMask, x, y int) {
	if !last.moved || x != last.x || y != last.y {
		dev.Move(capability.Point{X: x, Y: y})
	}

	for _, b := range pointerButtons {
		switch down, wasDown := mask&b.mask != 0, last.mask&b.mask != 0; {
		case down && !wasDown:
			dev.PressButton(b.button)
		case !down && wasDown:
			dev.ReleaseButton(b.button)
		}
	}

	if mask&wheelUp != 0 {
		dev.ScrollUp()
	}
	if mask&wheelDown != 0 {
		dev.ScrollDown()
	}

	last.mask, last.x, last.y, last.moved = mask, x, y, true
}
