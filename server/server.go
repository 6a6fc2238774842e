// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package server assembles a VNC server from plugins and drives it.
//
// A Server picks one framebuffer, keyboard, pointing device, clipboard and
// protocol backend through a plugin.Loader, then polls the framebuffer for
// changes and lets the backend service its clients until Quit is called,
// the screen geometry changes or the framebuffer asks for a restart. A
// Runner repeats that cycle until it is stopped.
package server

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// Polling defaults.
const (
	// IdleTimeout is how long the backend waits for client activity while
	// nobody is connected.
	IdleTimeout = 100 * time.Millisecond
	// NonIdleTimeout is the wait between framebuffer polls while clients are
	// connected.
	NonIdleTimeout = 5 * time.Millisecond
	DefaultPort    = 5900
)

// ErrRestartRequired is returned by Run when the framebuffer cannot go on
// and the server has to be assembled again.
var ErrRestartRequired = vnc.NewVNCError("server.Run", vnc.ErrCapture, "framebuffer requires a restart", nil)

// UIDs selects a plugin per slot. uuid.Nil lets the loader choose.
type UIDs struct {
	Framebuffer    uuid.UUID
	Keyboard       uuid.UUID
	PointingDevice uuid.UUID
	Clipboard      uuid.UUID
	Backend        uuid.UUID
}

// Config configures a Server.
type Config struct {
	Port           int
	Password       string
	DesktopName    string
	UIDs           UIDs
	IdleTimeout    time.Duration
	NonIdleTimeout time.Duration
	Logger         vnc.Logger
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.DesktopName == "" {
		c.DesktopName = vnc.DefaultDesktopName
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = IdleTimeout
	}
	if c.NonIdleTimeout <= 0 {
		c.NonIdleTimeout = NonIdleTimeout
	}
	c.Logger = vnc.OrNoOp(c.Logger)
	return c
}

// Server runs one assembly of plugins. It implements capability.Host for
// the plugins it initializes.
type Server struct {
	loader *plugin.Loader
	cfg    Config
	logger vnc.Logger
	quit   atomic.Bool

	framebuffer    capability.Framebuffer
	keyboard       capability.Keyboard
	pointingDevice capability.PointingDevice
	clipboard      capability.Clipboard
	backend        capability.ServerBackend
}

// New returns a server that assembles its plugins from loader.
func New(loader *plugin.Loader, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		loader: loader,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

func (s *Server) Port() int                                 { return s.cfg.Port }
func (s *Server) Password() string                          { return s.cfg.Password }
func (s *Server) DesktopName() string                       { return s.cfg.DesktopName }
func (s *Server) Framebuffer() capability.Framebuffer       { return s.framebuffer }
func (s *Server) Keyboard() capability.Keyboard             { return s.keyboard }
func (s *Server) PointingDevice() capability.PointingDevice { return s.pointingDevice }
func (s *Server) Clipboard() capability.Clipboard           { return s.clipboard }
func (s *Server) Logger() vnc.Logger                        { return s.logger }

// Quit makes Run return after its current poll. It may be called from any
// goroutine, more than once, and before Run.
func (s *Server) Quit() {
	s.quit.Store(true)
}

func (s *Server) quitting() bool {
	return s.quit.Load()
}

// Run assembles the plugins and serves until Quit, a change of the screen
// geometry or ErrRestartRequired. Every plugin is released before Run
// returns. A Server runs at most once.
//
// Only the primary screen is compared against the framebuffer size, so
// multi-screen framebuffers are not supported.
func (s *Server) Run() error {
	defer s.teardown()
	if err := s.assemble(); err != nil {
		return err
	}
	s.logger.Info("server running",
		vnc.Field{Key: "port", Value: s.cfg.Port},
		vnc.Field{Key: "size", Value: s.framebuffer.Size().String()})

	for !s.quitting() && s.framebuffer.Size() == s.framebuffer.AvailableScreens().Primary().Size {
		timeout := s.cfg.IdleTimeout
		if s.backend.HasConnectedClients() {
			if _, flags := s.backend.HandleFramebufferUpdate(); flags.Has(capability.UpdateRequiresRestart) {
				s.logger.Warn("framebuffer requires a restart")
				return ErrRestartRequired
			}
			timeout = s.cfg.NonIdleTimeout
		}
		if !s.backend.ProcessEvents(timeout) {
			return vnc.NewVNCError("server.Run", vnc.ErrState, "protocol backend stopped", nil)
		}
	}

	if !s.quitting() {
		s.logger.Info("screen geometry changed",
			vnc.Field{Key: "framebuffer", Value: s.framebuffer.Size().String()},
			vnc.Field{Key: "screen", Value: s.framebuffer.AvailableScreens().Primary().Size.String()})
	}
	return nil
}

func (s *Server) assemble() error {
	var err error
	ids := s.cfg.UIDs
	if s.framebuffer, err = plugin.CreateAndInitialize[capability.Framebuffer](s.loader, ids.Framebuffer, s); err != nil {
		return err
	}
	if s.keyboard, err = plugin.CreateAndInitialize[capability.Keyboard](s.loader, ids.Keyboard, s); err != nil {
		return err
	}
	if s.pointingDevice, err = plugin.CreateAndInitialize[capability.PointingDevice](s.loader, ids.PointingDevice, s); err != nil {
		return err
	}
	if s.clipboard, err = plugin.CreateAndInitialize[capability.Clipboard](s.loader, ids.Clipboard, s); err != nil {
		return err
	}
	if s.backend, err = plugin.CreateAndInitialize[capability.ServerBackend](s.loader, ids.Backend, s); err != nil {
		return err
	}
	return nil
}

// teardown releases the slots in reverse order of assembly.
func (s *Server) teardown() {
	if s.backend != nil {
		if err := s.backend.Shutdown(); err != nil {
			s.logger.Warn("failed to shut down protocol backend", vnc.Field{Key: "error", Value: err})
		}
		s.backend = nil
	}
	if s.clipboard != nil {
		s.closeDevice("clipboard", s.clipboard)
		s.clipboard = nil
	}
	if s.pointingDevice != nil {
		s.closeDevice("pointing device", s.pointingDevice)
		s.pointingDevice = nil
	}
	if s.keyboard != nil {
		s.closeDevice("keyboard", s.keyboard)
		s.keyboard = nil
	}
	if s.framebuffer != nil {
		s.closeDevice("framebuffer", s.framebuffer)
		s.framebuffer = nil
	}
}

func (s *Server) closeDevice(name string, device interface{ Close() error }) {
	if err := device.Close(); err != nil {
		s.logger.Warn("failed to close "+name, vnc.Field{Key: "error", Value: err})
	}
}
