// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package dummy

import (
	"image/color"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

func TestRegister_ProvidesEveryDevice(t *testing.T) {
	registry := plugin.NewRegistry()
	if err := Register(registry); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	loader := plugin.NewLoader(nil, registry)

	tests := []struct {
		name   string
		locate func() (any, error)
		uid    uuid.UUID
	}{
		{"framebuffer", func() (any, error) { return plugin.Locate[capability.Framebuffer](loader, FramebufferUID) }, FramebufferUID},
		{"keyboard", func() (any, error) { return plugin.Locate[capability.Keyboard](loader, KeyboardUID) }, KeyboardUID},
		{"pointing device", func() (any, error) { return plugin.Locate[capability.PointingDevice](loader, PointingDeviceUID) }, PointingDeviceUID},
		{"clipboard", func() (any, error) { return plugin.Locate[capability.Clipboard](loader, ClipboardUID) }, ClipboardUID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.locate()
			if err != nil {
				t.Fatalf("Locate() error = %v", err)
			}
			if got := v.(plugin.Plugin).Identity().UID; got != tt.uid {
				t.Errorf("UID = %v, want %v", got, tt.uid)
			}
		})
	}

	if err := Register(registry); err == nil {
		t.Error("second Register() error = nil, want duplicate error")
	}
}

func TestFramebuffer_FillAndUpdate(t *testing.T) {
	fb := NewFramebuffer()
	if err := fb.Initialize(nil); err != nil {
		t.Fatal(err)
	}
	if fb.Size() != DefaultSize || len(fb.Data()) != 100*100*4 {
		t.Fatalf("Size() = %v, len(Data()) = %d", fb.Size(), len(fb.Data()))
	}

	fb.Fill(capability.Rectangle{Left: 95, Top: 0, Right: 120, Bottom: 1}, color.RGBA{R: 1, G: 2, B: 3})
	fb.Fill(capability.Rectangle{Left: 200, Top: 200, Right: 210, Bottom: 210}, color.RGBA{})

	var rects []capability.Rectangle
	if flags := fb.Update(func(r capability.Rectangle) { rects = append(rects, r) }); flags != 0 {
		t.Errorf("Update() flags = %v", flags)
	}
	if want := []capability.Rectangle{{Left: 95, Top: 0, Right: 99, Bottom: 1}}; !reflect.DeepEqual(rects, want) {
		t.Errorf("rects = %v, want %v", rects, want)
	}
	o := (1*100 + 99) * 4
	if got := fb.Data()[o : o+4]; !reflect.DeepEqual(got, []byte{1, 2, 3, 0xff}) {
		t.Errorf("pixel = %v", got)
	}
	if flags := fb.Update(func(r capability.Rectangle) { t.Errorf("unexpected rect %v", r) }); flags != 0 {
		t.Errorf("idle Update() = %v", flags)
	}
}

func TestFramebuffer_Flags(t *testing.T) {
	fb := NewFramebuffer()
	fb.Resize(capability.Size{Width: 20, Height: 10})
	if flags := fb.Update(func(capability.Rectangle) {}); flags != capability.UpdateSizeChanged {
		t.Errorf("Update() after Resize = %v", flags)
	}
	if got := fb.AvailableScreens().Primary().Size; got != fb.Size() {
		t.Errorf("AvailableScreens() = %v, want %v", got, fb.Size())
	}
	fb.RequestRestart()
	if flags := fb.Update(func(capability.Rectangle) {}); flags != capability.UpdateRequiresRestart {
		t.Errorf("Update() after RequestRestart = %v", flags)
	}
	if flags := fb.Update(func(capability.Rectangle) {}); flags != 0 {
		t.Errorf("Update() = %v, restart must be reported once", flags)
	}
}

func TestDevices_Record(t *testing.T) {
	kbd := NewKeyboard()
	kbd.SynthesizeKeyEvent(0xff0d, true)
	kbd.SynthesizeKeyEvent(0xff0d, false)
	if want := []KeyEvent{{0xff0d, true}, {0xff0d, false}}; !reflect.DeepEqual(kbd.Events(), want) {
		t.Errorf("Keyboard.Events() = %v", kbd.Events())
	}

	ptr := NewPointingDevice()
	ptr.Move(capability.Point{X: 3, Y: 4})
	ptr.PressButton(capability.ButtonLeft)
	ptr.ReleaseButton(capability.ButtonLeft)
	ptr.ScrollUp()
	ptr.ScrollDown()
	want := []PointerEvent{"move 3,4", "press left", "release left", "scroll up", "scroll down"}
	if !reflect.DeepEqual(ptr.Events(), want) {
		t.Errorf("PointingDevice.Events() = %v, want %v", ptr.Events(), want)
	}
	if ptr.Position() != (capability.Point{X: 3, Y: 4}) {
		t.Errorf("Position() = %v", ptr.Position())
	}

	clip := NewClipboard()
	clip.SetText("hello")
	if clip.Text() != "hello" {
		t.Errorf("Text() = %q", clip.Text())
	}
	if clip.Closed() {
		t.Error("Closed() = true before Close")
	}
	_ = clip.Close()
	if !clip.Closed() {
		t.Error("Closed() = false after Close")
	}
}
