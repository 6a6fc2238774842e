// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"sync"
)

// ColorMapSize is the number of entries in an RFB color map.
const ColorMapSize = 256

// Color is one color map entry with 16 bit components.
type Color struct {
	R, G, B uint16
}

// ColorMap is the palette used by indexed pixel formats. It is safe for concurrent use.
type ColorMap struct {
	mu      sync.RWMutex
	entries [ColorMapSize]Color
}

// NewColorMap returns a color map holding a grayscale ramp.
func NewColorMap() *ColorMap {
	cm := &ColorMap{}
	for i := range cm.entries {
		v := uint16(i) << 8
		cm.entries[i] = Color{R: v, G: v, B: v}
	}
	return cm
}

// Get returns the entry at index.
func (cm *ColorMap) Get(index uint8) Color {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.entries[index]
}

// SetRange replaces entries starting at first.
func (cm *ColorMap) SetRange(first uint16, colors []Color) error {
	if int(first)+len(colors) > ColorMapSize {
		return validationError("ColorMap.SetRange",
			fmt.Sprintf("range %d+%d exceeds color map size %d", first, len(colors), ColorMapSize), nil)
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	copy(cm.entries[first:], colors)
	return nil
}

// palette332 returns the palette matching the 3-3-2 indices written by pixelCodec.encode.
func palette332() []Color {
	colors := make([]Color, ColorMapSize)
	for i := range colors {
		r := uint32(i>>5) & 0x7
		g := uint32(i>>2) & 0x7
		b := uint32(i) & 0x3
		colors[i] = Color{R: uint16(r * 0xffff / 7), G: uint16(g * 0xffff / 7), B: uint16(b * 0xffff / 3)}
	}
	return colors
}
