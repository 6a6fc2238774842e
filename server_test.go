// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// solid returns an RGBX framebuffer filled with col.
func solid(width, height int, col color.RGBA) []byte {
	fb := make([]byte, width*height*4)
	for i := 0; i < len(fb); i += 4 {
		fb[i], fb[i+1], fb[i+2] = col.R, col.G, col.B
	}
	return fb
}

func setPixel(fb []byte, width, x, y int, col color.RGBA) {
	i := (y*width + x) * 4
	fb[i], fb[i+1], fb[i+2] = col.R, col.G, col.B
}

// startServer serves cfg on a loopback port and runs the event loop until cleanup.
func startServer(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	addr, err := srv.ListenAndServe("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenAndServe() error = %v", err)
	}
	go func() {
		for srv.ProcessEvents(10 * time.Millisecond) {
		}
	}()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv, addr.String()
}

// pump handles server messages on c until done reports true.
func pump(t *testing.T, c *ClientConn, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the server")
		}
		ok, err := c.WaitForMessage(50 * time.Millisecond)
		if err != nil {
			t.Fatalf("WaitForMessage() error = %v", err)
		}
		if ok {
			if err := c.HandleMessage(); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}
		}
	}
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a server hook")
		var zero T
		return zero
	}
}

func connect(t *testing.T, addr string, hooks ClientHooks, opts ...ClientOption) *ClientConn {
	t.Helper()
	c := NewClient(addr, hooks, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServer_NewServerValidates(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"zero size", ServerConfig{Width: 0, Height: 4, Framebuffer: solid(1, 4, red)}},
		{"short framebuffer", ServerConfig{Width: 4, Height: 4, Framebuffer: solid(4, 2, red)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.cfg); !IsVNCError(err, ErrValidation) {
				t.Errorf("NewServer() error = %v, want a validation error", err)
			}
		})
	}
}

func TestServer_FullUpdateInEveryPixelFormat(t *testing.T) {
	fb := solid(4, 2, red)
	setPixel(fb, 4, 1, 1, blue)

	tests := []struct {
		name string
		pf   PixelFormat
	}{
		{"rgbx", PixelFormatRGBX},
		{"rgb565", PixelFormat16BitRGB565},
		{"indexed", PixelFormat8BitIndexed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, addr := startServer(t, ServerConfig{Width: 4, Height: 2, Framebuffer: fb, DesktopName: "test desk"})
			updates := 0
			c := connect(t, addr, ClientHooks{UpdateFinished: func() { updates++ }}, WithPixelFormat(tt.pf))

			if got := c.DesktopName(); got != "test desk" {
				t.Errorf("DesktopName() = %q", got)
			}
			if err := c.FramebufferUpdateRequest(false, 0, 0, 4, 2); err != nil {
				t.Fatalf("FramebufferUpdateRequest() error = %v", err)
			}
			pump(t, c, func() bool { return updates == 1 })

			img := c.Framebuffer()
			if img.RGBAAt(0, 0) != red || img.RGBAAt(1, 1) != blue || img.RGBAAt(3, 1) != red {
				t.Errorf("framebuffer = % x", img.Pix)
			}
		})
	}
}

func TestServer_PasswordAuthentication(t *testing.T) {
	_, addr := startServer(t, ServerConfig{Width: 2, Height: 2, Framebuffer: solid(2, 2, red), Password: "secret"})

	connect(t, addr, ClientHooks{Password: func() string { return "secret" }})

	c := NewClient(addr, ClientHooks{Password: func() string { return "guess" }})
	if err := c.Connect(context.Background()); !IsVNCError(err, ErrAuthentication) {
		t.Errorf("Connect() with wrong password error = %v, want an authentication error", err)
	}
}

func TestServer_RejectedClientIsDisconnected(t *testing.T) {
	_, addr := startServer(t, ServerConfig{
		Width:       2,
		Height:      2,
		Framebuffer: solid(2, 2, red),
		Hooks:       ServerHooks{NewClient: func(*ServerClient) bool { return false }},
	})
	// The server may drop the connection while Connect is still writing.
	c := NewClient(addr, ClientHooks{})
	if err := c.Connect(context.Background()); err != nil {
		if !IsVNCError(err, ErrNetwork) {
			t.Errorf("Connect() error = %v, want a network error", err)
		}
		return
	}
	defer c.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.WaitForMessage(50 * time.Millisecond); err != nil {
			if !IsVNCError(err, ErrNetwork) {
				t.Errorf("WaitForMessage() error = %v, want a network error", err)
			}
			return
		}
	}
	t.Fatal("rejected client stayed connected")
}

func TestServer_InputAndClipboard(t *testing.T) {
	type pointer struct {
		mask ButtonMask
		x, y int
	}
	keys := make(chan uint32, 4)
	pointers := make(chan pointer, 4)
	texts := make(chan string, 4)
	srv, addr := startServer(t, ServerConfig{
		Width:       4,
		Height:      2,
		Framebuffer: solid(4, 2, green),
		Hooks: ServerHooks{
			KeyEvent: func(_ *ServerClient, keysym uint32, down bool) {
				if down {
					keys <- keysym
				}
			},
			PointerEvent: func(_ *ServerClient, mask ButtonMask, x, y int) { pointers <- pointer{mask, x, y} },
			CutText:      func(_ *ServerClient, text string) { texts <- text },
		},
	})

	var bells int
	var clipboard string
	updates := 0
	c := connect(t, addr, ClientHooks{
		UpdateFinished: func() { updates++ },
		Bell:           func() { bells++ },
		ClipboardText:  func(text string) { clipboard = text },
	})
	if err := c.FramebufferUpdateRequest(false, 0, 0, 4, 2); err != nil {
		t.Fatal(err)
	}
	pump(t, c, func() bool { return updates == 1 })

	if err := c.KeyEvent(0xff0d, true); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, keys); got != 0xff0d {
		t.Errorf("KeyEvent hook saw %#x", got)
	}
	if err := c.PointerEvent(ButtonLeft|ButtonRight, 3, 1); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, pointers); got != (pointer{ButtonLeft | ButtonRight, 3, 1}) {
		t.Errorf("PointerEvent hook saw %+v", got)
	}
	if err := c.CutText("café"); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, texts); got != "café" {
		t.Errorf("CutText hook saw %q", got)
	}
	if !srv.HasClients() {
		t.Error("HasClients() = false with a client connected")
	}

	srv.SendCutText("naïve ☃")
	srv.Bell()
	pump(t, c, func() bool { return bells == 1 && clipboard != "" })
	if clipboard != "naïve ?" {
		t.Errorf("ClipboardText = %q, want %q", clipboard, "naïve ?")
	}
}

func TestServer_IncrementalAndResize(t *testing.T) {
	srv, addr := startServer(t, ServerConfig{Width: 4, Height: 2, Framebuffer: solid(4, 2, red)})

	var regions []image.Rectangle
	var allocated []image.Point
	updates := 0
	c := connect(t, addr, ClientHooks{
		UpdateFinished:      func() { updates++ },
		RegionUpdated:       func(x, y, w, h int) { regions = append(regions, image.Rect(x, y, x+w, y+h)) },
		AllocateFramebuffer: func(w, h int) bool { allocated = append(allocated, image.Pt(w, h)); return true },
	}, WithEncodings(&DesktopSizePseudoEncoding{}))

	if err := c.FramebufferUpdateRequest(false, 0, 0, 4, 2); err != nil {
		t.Fatal(err)
	}
	pump(t, c, func() bool { return updates == 1 })

	next := solid(4, 2, red)
	setPixel(next, 4, 2, 1, white)
	if err := srv.SetFramebuffer(next, 4, 2); err != nil {
		t.Fatalf("SetFramebuffer() error = %v", err)
	}
	srv.MarkRectModified(2, 1, 1, 1)
	regions = nil
	if err := c.FramebufferUpdateRequest(true, 0, 0, 4, 2); err != nil {
		t.Fatal(err)
	}
	pump(t, c, func() bool { return updates == 2 })
	if len(regions) != 1 || regions[0] != image.Rect(2, 1, 3, 2) {
		t.Errorf("incremental update painted %v", regions)
	}
	if c.Framebuffer().RGBAAt(2, 1) != white {
		t.Error("modified pixel not sent")
	}

	if err := srv.SetFramebuffer(solid(8, 4, green), 8, 4); err != nil {
		t.Fatalf("SetFramebuffer() error = %v", err)
	}
	for _, sc := range srv.Clients() {
		if !sc.SupportsEncoding(EncodingDesktopSize) {
			t.Error("client did not announce DesktopSize support")
		}
		sc.SetNewFramebufferSizePending()
	}
	if err := c.FramebufferUpdateRequest(true, 0, 0, 4, 2); err != nil {
		t.Fatal(err)
	}
	pump(t, c, func() bool { return updates == 3 })
	if w, h := c.FramebufferSize(); w != 8 || h != 4 {
		t.Fatalf("FramebufferSize() = %dx%d, want 8x4", w, h)
	}
	if got := allocated[len(allocated)-1]; got != image.Pt(8, 4) {
		t.Errorf("last allocation = %v", got)
	}
	if c.Framebuffer().RGBAAt(7, 3) != green {
		t.Error("resized framebuffer not repainted")
	}
}

func TestServer_WebSocketTransport(t *testing.T) {
	srv, err := NewServer(ServerConfig{Width: 2, Height: 2, Framebuffer: solid(2, 2, red)})
	if err != nil {
		t.Fatal(err)
	}
	wl, err := ListenWebSocket("127.0.0.1:0", "/websockify", nil, nil)
	if err != nil {
		t.Fatalf("ListenWebSocket() error = %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(wl) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+wl.Addr().String()+"/websockify", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if kind != websocket.BinaryMessage || string(msg) != ProtocolVersion38.String() {
		t.Errorf("first message = %d %q", kind, msg)
	}

	_ = ws.Close()
	if err := srv.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := receive(t, served); err != nil {
		t.Errorf("Serve() = %v after Shutdown", err)
	}
}
