// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package connection implements a reconnecting RFB viewer connection.
//
// A Connection owns one worker goroutine. The worker connects, pumps server
// messages into a local image, sends queued input events and reconnects
// whenever the session ends, until Stop is called.
//
//	conn := connection.New(connection.Config{
//		Host:     "192.168.1.10",
//		Password: "secret",
//		Observer: connection.Observer{
//			FramebufferUpdateComplete: func() { log.Println("frame") },
//		},
//	})
//	conn.Start()
//	defer conn.Close()
package connection

import (
	"context"
	"image"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
)

// Connection timing.
const (
	ThreadTerminationTimeout         = 30 * time.Second
	ConnectTimeout                   = 5 * time.Second
	ConnectionRetryInterval          = time.Second
	MessageWaitTimeout               = 500 * time.Millisecond
	FastFramebufferUpdateInterval    = 100 * time.Millisecond
	FramebufferUpdateWatchdogTimeout = 10 * time.Second
	DefaultPort                      = 5900
)

// State is the connection's position in its lifecycle.
type State int32

const (
	StateNone State = iota
	StateDisconnected
	StateConnecting
	StateHostOffline
	StateServiceUnreachable
	StateAuthenticationFailed
	StateConnectionFailed
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHostOffline:
		return "host-offline"
	case StateServiceUnreachable:
		return "service-unreachable"
	case StateAuthenticationFailed:
		return "authentication-failed"
	case StateConnectionFailed:
		return "connection-failed"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// FramebufferState tracks whether the local image holds server content.
type FramebufferState int32

const (
	FramebufferInvalid FramebufferState = iota
	// FramebufferInitialized means the image is allocated but no update arrived yet.
	FramebufferInitialized
	// FramebufferValid means at least one complete update was received.
	FramebufferValid
)

// Engine is the client protocol engine driven by the worker. *vnc.ClientConn
// implements it. Close may be called from another goroutine while a read
// blocks, and more than once.
type Engine interface {
	Connect(ctx context.Context) error
	WaitForMessage(timeout time.Duration) (bool, error)
	HandleMessage() error
	FramebufferUpdateRequest(incremental bool, x, y, width, height uint16) error
	KeyEvent(keysym uint32, down bool) error
	PointerEvent(mask vnc.ButtonMask, x, y uint16) error
	CutText(text string) error
	Framebuffer() *image.RGBA
	FramebufferSize() (width, height int)
	Close() error
}

// EngineFactory builds a fresh engine for one connection attempt.
type EngineFactory func(address string, hooks vnc.ClientHooks, quality Quality, logger vnc.Logger) Engine

// NewClientEngine is the default EngineFactory, backed by vnc.ClientConn.
func NewClientEngine(address string, hooks vnc.ClientHooks, quality Quality, logger vnc.Logger) Engine {
	return vnc.NewClient(address, hooks,
		vnc.WithEncodings(quality.Encodings()...),
		vnc.WithConnectTimeout(ConnectTimeout),
		vnc.WithLogger(logger),
	)
}

// Observer receives connection events. Every callback is optional and runs
// on the worker goroutine.
type Observer struct {
	StateChanged              func(State)
	FramebufferSizeChanged    func(width, height int)
	ImageUpdated              func(x, y, width, height int)
	FramebufferUpdateComplete func()
	CursorPosChanged          func(x, y int)
	CursorShapeUpdated        func(shape *image.RGBA, hotX, hotY int)
	ClipboardText             func(text string)
	ConnectionPrepared        func()
	ConnectionEstablished     func()
}

// Config configures a Connection.
type Config struct {
	Host     string
	Port     int
	Password string
	Quality  Quality

	// UpdateInterval throttles framebuffer updates. Zero requests updates as
	// fast as the server delivers them.
	UpdateInterval time.Duration

	// RetryInterval is the delay between connection attempts when
	// UpdateInterval is zero.
	RetryInterval time.Duration

	Observer      Observer
	EngineFactory EngineFactory
	Logger        vnc.Logger
}

// Connection is a reconnecting viewer connection.
type Connection struct {
	observer      Observer
	factory       EngineFactory
	logger        vnc.Logger
	quality       Quality
	retryInterval time.Duration

	mu       sync.Mutex
	host     string
	port     int
	password string

	updateInterval atomic.Int64
	state          atomic.Int32
	fbState        atomic.Int32
	terminate      atomic.Bool
	restart        atomic.Bool
	reachable      atomic.Bool
	scaledDirty    atomic.Bool
	started        atomic.Bool

	imgMu      sync.RWMutex
	image      *image.RGBA
	scaledMu   sync.Mutex
	scaled     *image.RGBA
	scaledSize capability.Size

	queueMu sync.Mutex
	queue   []Event

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	// Owned by the worker.
	engine          Engine
	watchdog        time.Time
	watchdogTimeout time.Duration
	updateFinished  bool
}

// New returns a stopped connection for cfg.
func New(cfg Config) *Connection {
	if cfg.EngineFactory == nil {
		cfg.EngineFactory = NewClientEngine
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = ConnectionRetryInterval
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		observer:        cfg.Observer,
		factory:         cfg.EngineFactory,
		logger:          vnc.OrNoOp(cfg.Logger),
		quality:         cfg.Quality,
		retryInterval:   cfg.RetryInterval,
		watchdogTimeout: FramebufferUpdateWatchdogTimeout,
		port:            cfg.Port,
		password:        cfg.Password,
		wake:            make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	c.updateInterval.Store(int64(cfg.UpdateInterval))
	c.SetHost(cfg.Host)
	return c
}

// SetHost sets the server host for the next connection attempt. A
// "host:port" value also sets the port.
func (c *Connection) SetHost(host string) {
	name, port := parseHost(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = name
	if port >= 0 {
		c.port = port
	}
}

// SetPort sets the server port for the next connection attempt. Negative
// values are ignored.
func (c *Connection) SetPort(port int) {
	if port < 0 {
		return
	}
	c.mu.Lock()
	c.port = port
	c.mu.Unlock()
}

// SetPassword sets the password for the next authentication.
func (c *Connection) SetPassword(password string) {
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
}

// Host returns the normalized host name.
func (c *Connection) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// Port returns the server port.
func (c *Connection) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

func (c *Connection) address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

func (c *Connection) currentPassword() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.password
}

// SetUpdateInterval changes the framebuffer update throttle and wakes the
// worker so the new interval applies at once.
func (c *Connection) SetUpdateInterval(interval time.Duration) {
	c.updateInterval.Store(int64(interval))
	c.wakeUp()
}

// UpdateInterval returns the framebuffer update throttle.
func (c *Connection) UpdateInterval() time.Duration {
	return time.Duration(c.updateInterval.Load())
}

// State returns the current connection state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// FramebufferState returns the state of the local image.
func (c *Connection) FramebufferState() FramebufferState {
	return FramebufferState(c.fbState.Load())
}

// IsConnected reports whether the connection is up and not being stopped.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected && !c.terminate.Load()
}

func (c *Connection) setState(state State) {
	if State(c.state.Swap(int32(state))) == state {
		return
	}
	c.logger.Debug("state changed", vnc.Field{Key: "state", Value: state.String()})
	if c.observer.StateChanged != nil {
		c.observer.StateChanged(state)
	}
}

// Start launches the worker. Calling Start again has no effect.
func (c *Connection) Start() {
	if c.terminate.Load() || !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run()
}

// Restart drops the current session; the worker reconnects immediately.
func (c *Connection) Restart() {
	c.restart.Store(true)
	c.wakeUp()
}

// Stop asks the worker to exit. It returns without waiting and is safe to
// call more than once, from any goroutine. Hooks become no-ops and queued
// events are discarded.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.terminate.Store(true)
		c.cancel()

		c.scaledMu.Lock()
		c.scaled = nil
		c.scaledMu.Unlock()

		c.wakeUp()
	})
}

// Close stops the worker and waits up to ThreadTerminationTimeout for it to
// exit.
func (c *Connection) Close() error {
	return c.closeWithin(ThreadTerminationTimeout)
}

func (c *Connection) closeWithin(timeout time.Duration) error {
	c.Stop()
	if !c.started.Load() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
		c.logger.Error("connection worker is hanging", vnc.Field{Key: "host", Value: c.Host()})
		return vnc.NewVNCError("Connection.Close", vnc.ErrTimeout, "worker did not terminate in time", nil)
	}
}

// Done is closed once the worker has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) wakeUp() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// sleep waits for d, a wake signal or Stop.
func (c *Connection) sleep(d time.Duration) {
	if d <= 0 || c.terminate.Load() {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.wake:
	case <-c.ctx.Done():
	}
}
