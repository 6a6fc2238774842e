// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package backend implements the RFB protocol backend plugin on top of the
// vnc.Server engine.
package backend

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// UID identifies the RFB backend plugin.
var UID = uuid.MustParse("1c3d8c6e-7f0a-4b7e-9a55-0f7d2c4e9b21")

// Options configure the listeners of an RFB backend.
type Options struct {
	// ListenHost is the interface the TCP listener binds to; empty means all.
	ListenHost string

	// WebSocketAddress enables a WebSocket listener for browser viewers.
	WebSocketAddress string
	WebSocketPath    string

	// AllowedOrigins lists the Origin headers accepted by the WebSocket
	// listener. "*" accepts any origin.
	AllowedOrigins []string
}

// Register adds the RFB backend to registry. Every instance uses opts.
func Register(registry *plugin.Registry, opts Options) error {
	return registry.Register("rfb-backend", func() plugin.Plugin { return New(opts) })
}

// RFB serves the host's framebuffer to RFB viewers and feeds their input
// into the host's devices. Its hooks run inside ProcessEvents.
type RFB struct {
	opts   Options
	host   capability.Host
	logger vnc.Logger
	engine *vnc.Server
	addr   net.Addr
	ws     *vnc.WebSocketListener
	wg     sync.WaitGroup

	pointers map[uint64]*pointerState
}

// New returns an RFB backend that listens once initialized.
func New(opts Options) *RFB {
	return &RFB{opts: opts, logger: &vnc.NoOpLogger{}, pointers: make(map[uint64]*pointerState)}
}

func (b *RFB) Identity() plugin.Identity {
	return plugin.Identity{
		UID:         UID,
		Version:     plugin.Version{Major: 1, Minor: 0},
		Name:        "RfbServerBackend",
		Description: "RFB 3.8 server backend",
		Vendor:      "AnyVNC Community",
		Copyright:   "Ryan Johnson",
		Flags:       plugin.ProvidesDefaultImplementation,
	}
}

// Initialize creates the engine for the host's framebuffer and starts
// listening on the host's port.
func (b *RFB) Initialize(host capability.Host) error {
	b.host = host
	b.logger = vnc.OrNoOp(host.Logger()).With(vnc.Field{Key: "plugin", Value: "rfb"})

	fb := host.Framebuffer()
	if fb == nil {
		return vnc.NewVNCError("backend.Initialize", vnc.ErrPlugin, "host has no framebuffer", nil)
	}
	size := fb.Size()
	engine, err := vnc.NewServer(vnc.ServerConfig{
		Width:        size.Width,
		Height:       size.Height,
		Framebuffer:  fb.Data(),
		DesktopName:  host.DesktopName(),
		Password:     host.Password(),
		AlwaysShared: true,
		Logger:       b.logger,
		Hooks: vnc.ServerHooks{
			NewClient:    b.handleNewClient,
			ClientGone:   b.handleClientGone,
			KeyEvent:     b.handleKeyEvent,
			PointerEvent: b.handlePointerEvent,
			CutText:      b.handleCutText,
		},
	})
	if err != nil {
		return err
	}

	addr, err := engine.ListenAndServe(net.JoinHostPort(b.opts.ListenHost, strconv.Itoa(host.Port())))
	if err != nil {
		_ = engine.Shutdown()
		return err
	}
	b.engine = engine
	b.addr = addr

	if b.opts.WebSocketAddress != "" {
		ws, err := vnc.ListenWebSocket(b.opts.WebSocketAddress, b.opts.WebSocketPath, b.originAllowed, b.logger)
		if err != nil {
			_ = engine.Shutdown()
			b.engine = nil
			return err
		}
		b.ws = ws
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := engine.Serve(ws); err != nil {
				b.logger.Warn("websocket listener stopped", vnc.Field{Key: "error", Value: err})
			}
		}()
	}

	engine.MarkRectModified(0, 0, size.Width, size.Height)
	return nil
}

func (b *RFB) originAllowed(origin string) bool {
	for _, allowed := range b.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Addr returns the bound TCP address, nil before Initialize.
func (b *RFB) Addr() net.Addr { return b.addr }

// WebSocketAddr returns the bound WebSocket address, nil when disabled.
func (b *RFB) WebSocketAddr() net.Addr {
	if b.ws == nil {
		return nil
	}
	return b.ws.Addr()
}

// HandleFramebufferUpdate marks every changed framebuffer region modified
// and announces size changes to the clients.
func (b *RFB) HandleFramebufferUpdate() (bool, capability.UpdateFlags) {
	fb := b.host.Framebuffer()
	modified := false
	flags := fb.Update(func(r capability.Rectangle) {
		x, y, w, h := r.Wire()
		b.engine.MarkRectModified(x, y, w, h)
		modified = true
	})

	if flags.Has(capability.UpdateSizeChanged) {
		size := fb.Size()
		if err := b.engine.SetFramebuffer(fb.Data(), size.Width, size.Height); err != nil {
			b.logger.Error("failed to resize framebuffer", vnc.Field{Key: "size", Value: size.String()}, vnc.Field{Key: "error", Value: err})
			return false, flags | capability.UpdateRequiresRestart
		}
		for _, c := range b.engine.Clients() {
			c.SetNewFramebufferSizePending()
		}
		b.engine.MarkRectModified(0, 0, size.Width, size.Height)
		modified = true
	}
	return modified, flags
}

func (b *RFB) HasConnectedClients() bool {
	return b.engine != nil && b.engine.HasClients()
}

func (b *RFB) HasPendingClientUpdateRequests() bool {
	return b.engine != nil && b.engine.HasPendingUpdateRequests()
}

// ProcessEvents services the clients for up to timeout.
func (b *RFB) ProcessEvents(timeout time.Duration) bool {
	if b.engine == nil {
		return false
	}
	return b.engine.ProcessEvents(timeout)
}

// Shutdown disconnects every client and closes the listeners.
func (b *RFB) Shutdown() error {
	if b.engine == nil {
		return nil
	}
	err := b.engine.Shutdown()
	if b.ws != nil {
		if wsErr := b.ws.Close(); wsErr != nil && err == nil {
			err = wsErr
		}
	}
	b.wg.Wait()
	b.engine = nil
	return err
}

func (b *RFB) handleNewClient(c *vnc.ServerClient) bool {
	b.pointers[c.ID()] = &pointerState{}
	b.logger.Info("new client connection", vnc.Field{Key: "remote", Value: c.RemoteAddr().String()})
	return true
}

func (b *RFB) handleClientGone(c *vnc.ServerClient) {
	delete(b.pointers, c.ID())
	b.logger.Info("client gone", vnc.Field{Key: "remote", Value: c.RemoteAddr().String()})
}

func (b *RFB) handleKeyEvent(_ *vnc.ServerClient, keysym uint32, down bool) {
	if kbd := b.host.Keyboard(); kbd != nil {
		kbd.SynthesizeKeyEvent(keysym, down)
	}
}

func (b *RFB) handleCutText(_ *vnc.ServerClient, text string) {
	if clip := b.host.Clipboard(); clip != nil {
		clip.SetText(text)
	}
}

func (b *RFB) handlePointerEvent(c *vnc.ServerClient, mask vnc.ButtonMask, x, y int) {
	dev := b.host.PointingDevice()
	if dev == nil {
		return
	}
	last, ok := b.pointers[c.ID()]
	if !ok {
		last = &pointerState{}
		b.pointers[c.ID()] = last
	}
	translatePointer(dev, last, mask, x, y)
}
