// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ButtonMask represents the state of pointer buttons in a VNC pointer event.
type ButtonMask uint8

// Button mask constants for standard mouse buttons and scroll wheel events.
const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	Button4
	Button5
	Button6
	Button7
	Button8
)

// Client engine defaults.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	clientReadBufferSize  = 64 * 1024
)

// Client to server message types.
const (
	clientSetPixelFormat           uint8 = 0
	clientSetEncodings             uint8 = 2
	clientFramebufferUpdateRequest uint8 = 3
	clientKeyEvent                 uint8 = 4
	clientPointerEvent             uint8 = 5
	clientCutText                  uint8 = 6
)

// ClientHooks are the callbacks through which a ClientConn reports protocol
// events. Every hook is optional and runs on the goroutine that calls
// Connect or HandleMessage.
type ClientHooks struct {
	// ServerReachable runs once the TCP connection is established, before the handshake.
	ServerReachable func()

	// Password supplies the password for VNC authentication.
	Password func() string

	// AllocateFramebuffer runs after ServerInit and after every desktop resize.
	// Returning false aborts the connection.
	AllocateFramebuffer func(width, height int) bool

	// RegionUpdated runs after a rectangle has been painted into Framebuffer.
	RegionUpdated func(x, y, width, height int)

	// UpdateFinished runs after the last rectangle of a framebuffer update.
	UpdateFinished func()

	// CursorPosition reports the remote pointer position.
	CursorPosition func(x, y int)

	// CursorShape reports a new cursor image with its hotspot. Transparent
	// pixels have zero alpha.
	CursorShape func(hotX, hotY int, shape *image.RGBA)

	// ClipboardText reports server cut text.
	ClipboardText func(text string)

	// Bell reports a bell message.
	Bell func()
}

func (h *ClientHooks) serverReachable() {
	if h.ServerReachable != nil {
		h.ServerReachable()
	}
}

func (h *ClientHooks) password() string {
	if h.Password != nil {
		return h.Password()
	}
	return ""
}

func (h *ClientHooks) allocateFramebuffer(width, height int) bool {
	if h.AllocateFramebuffer != nil {
		return h.AllocateFramebuffer(width, height)
	}
	return true
}

func (h *ClientHooks) regionUpdated(x, y, width, height int) {
	if h.RegionUpdated != nil {
		h.RegionUpdated(x, y, width, height)
	}
}

func (h *ClientHooks) updateFinished() {
	if h.UpdateFinished != nil {
		h.UpdateFinished()
	}
}

// ClientConfig configures a ClientConn.
type ClientConfig struct {
	// Shared asks the server to leave other clients connected.
	Shared bool

	// Encodings lists the encodings to request in preference order. Raw is
	// always understood, even when not listed.
	Encodings []Encoding

	// PixelFormat is requested from the server after ServerInit.
	PixelFormat PixelFormat

	// PreferredSecurity orders the security types to try. Nil uses the server's order.
	PreferredSecurity []uint8

	// AuthRegistry supplies the authentication methods. When nil, None is
	// registered, plus VNC authentication fed by ClientHooks.Password.
	AuthRegistry *AuthRegistry

	Logger         Logger
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// ReadTimeout bounds reading the rest of a message once its first byte
	// has arrived.
	ReadTimeout time.Duration
}

// ClientOption represents a functional option for configuring a VNC client connection.
type ClientOption func(*ClientConfig)

// WithShared sets the ClientInit shared flag.
func WithShared(shared bool) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Shared = shared
	}
}

// WithEncodings sets the encodings to request in preference order.
func WithEncodings(encs ...Encoding) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Encodings = encs
	}
}

// WithPixelFormat sets the pixel format requested from the server.
func WithPixelFormat(pf PixelFormat) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.PixelFormat = pf
	}
}

// WithPreferredSecurity sets the order in which security types are tried.
func WithPreferredSecurity(types ...uint8) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.PreferredSecurity = types
	}
}

// WithAuthRegistry sets a custom authentication registry for the client.
func WithAuthRegistry(registry *AuthRegistry) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.AuthRegistry = registry
	}
}

// WithLogger sets the logger used by the connection.
func WithLogger(logger Logger) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Logger = logger
	}
}

// WithConnectTimeout bounds the TCP dial and the handshake.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.ConnectTimeout = timeout
	}
}

// WithWriteTimeout bounds every client message write.
func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.WriteTimeout = timeout
	}
}

// WithReadTimeout bounds HandleMessage. Zero disables the bound.
func WithReadTimeout(timeout time.Duration) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.ReadTimeout = timeout
	}
}

// ClientConn is a polling RFB client. One goroutine drives it through
// Connect, WaitForMessage and HandleMessage; the message sending methods are
// safe to call from any goroutine.
type ClientConn struct {
	address string
	hooks   ClientHooks
	config  ClientConfig
	logger  Logger

	conn    net.Conn
	br      *bufio.Reader
	writeMu sync.Mutex
	closed  atomic.Bool

	mu          sync.RWMutex
	fb          *image.RGBA
	desktopName string
	pixelFormat PixelFormat
	version     ProtocolVersion

	codec     *pixelCodec
	colorMap  *ColorMap
	encodings map[int32]Encoding
	messages  map[uint8]ServerMessage
}

// NewClient prepares a connection to address ("host:port"). No network
// traffic happens until Connect.
//
// Example:
//
//	hooks := vnc.ClientHooks{
//		Password: func() string { return "secret" },
//		UpdateFinished: func() { log.Println("frame complete") },
//	}
//	conn := vnc.NewClient("127.0.0.1:5900", hooks, vnc.WithEncodings(&vnc.HextileEncoding{}))
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	defer conn.Close()
func NewClient(address string, hooks ClientHooks, opts ...ClientOption) *ClientConn {
	cfg := ClientConfig{
		Shared:         true,
		PixelFormat:    PixelFormatRGBX,
		ConnectTimeout: DefaultConnectTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		ReadTimeout:    DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.Logger = OrNoOp(cfg.Logger)

	c := &ClientConn{
		address:  address,
		hooks:    hooks,
		config:   cfg,
		logger:   cfg.Logger.With(Field{Key: "remote", Value: address}),
		colorMap: NewColorMap(),
	}

	if c.config.AuthRegistry == nil {
		registry := NewAuthRegistry()
		registry.Register(SecurityTypeVNC, func() ClientAuth { return NewPasswordAuth(c.hooks.password()) })
		c.config.AuthRegistry = registry
	}

	c.encodings = map[int32]Encoding{EncodingRaw: &RawEncoding{}}
	for _, enc := range cfg.Encodings {
		c.encodings[enc.Type()] = enc
	}
	c.messages = make(map[uint8]ServerMessage)
	for _, msg := range []ServerMessage{
		&FramebufferUpdateMessage{},
		&SetColorMapEntriesMessage{},
		&BellMessage{},
		&ServerCutTextMessage{},
	} {
		c.messages[msg.Type()] = msg
	}
	return c
}

// Connect dials the server and performs the RFB handshake: version and
// security negotiation, authentication, ClientInit and ServerInit. It then
// requests the configured pixel format and encodings and allocates the
// framebuffer.
//
// ServerReachable runs as soon as the TCP connection exists, so a caller can
// tell an unreachable host from a failed handshake. Authentication failures
// are reported as ErrAuthentication errors.
func (c *ClientConn) Connect(ctx context.Context) error {
	if c.conn != nil {
		return stateError("ClientConn.Connect", "connection already established", nil)
	}

	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return networkError("ClientConn.Connect", "failed to connect to "+c.address, err)
	}
	c.conn = conn
	c.hooks.serverReachable()
	c.logger.Debug("TCP connection established")

	deadline := time.Now().Add(c.config.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		c.closed.Store(true)
		return err
	}
	_ = conn.SetDeadline(time.Time{})
	c.br = bufio.NewReaderSize(conn, clientReadBufferSize)

	if err := c.SetPixelFormat(c.config.PixelFormat); err != nil {
		_ = c.Close()
		return err
	}
	if err := c.SetEncodings(c.config.Encodings); err != nil {
		_ = c.Close()
		return err
	}

	width, height := c.FramebufferSize()
	c.logger.Info("connected",
		Field{Key: "desktop", Value: c.DesktopName()},
		Field{Key: "width", Value: width},
		Field{Key: "height", Value: height},
		Field{Key: "version", Value: int(c.version)})
	return nil
}

func (c *ClientConn) handshake(ctx context.Context) error {
	var versionMsg [protocolVersionLength]byte
	if _, err := io.ReadFull(c.conn, versionMsg[:]); err != nil {
		return networkError("ClientConn.handshake", "failed to read protocol version", err)
	}
	version, err := parseProtocolVersion(versionMsg[:])
	if err != nil {
		return err
	}
	if _, err := io.WriteString(c.conn, version.String()); err != nil {
		return networkError("ClientConn.handshake", "failed to send protocol version", err)
	}
	c.version = version

	auth, err := c.negotiateSecurity(ctx, version)
	if err != nil {
		return err
	}
	if err := auth.Handshake(ctx, c.conn); err != nil {
		return err
	}
	if version >= ProtocolVersion38 || auth.SecurityType() != SecurityTypeNone {
		if err := c.readSecurityResult(version); err != nil {
			return err
		}
	}

	shared := uint8(0)
	if c.config.Shared {
		shared = 1
	}
	if _, err := c.conn.Write([]byte{shared}); err != nil {
		return networkError("ClientConn.handshake", "failed to send ClientInit", err)
	}
	return c.readServerInit()
}

func (c *ClientConn) negotiateSecurity(ctx context.Context, version ProtocolVersion) (ClientAuth, error) {
	var offered []uint8
	if version >= ProtocolVersion37 {
		var count [1]byte
		if _, err := io.ReadFull(c.conn, count[:]); err != nil {
			return nil, networkError("ClientConn.negotiateSecurity", "failed to read security type count", err)
		}
		if count[0] == 0 {
			return nil, authenticationError("ClientConn.negotiateSecurity", "server refused connection: "+c.readReason(), nil)
		}
		offered = make([]uint8, count[0])
		if _, err := io.ReadFull(c.conn, offered); err != nil {
			return nil, networkError("ClientConn.negotiateSecurity", "failed to read security types", err)
		}
	} else {
		var securityType uint32
		if err := binary.Read(c.conn, binary.BigEndian, &securityType); err != nil {
			return nil, networkError("ClientConn.negotiateSecurity", "failed to read security type", err)
		}
		if securityType == uint32(SecurityTypeInvalid) {
			return nil, authenticationError("ClientConn.negotiateSecurity", "server refused connection: "+c.readReason(), nil)
		}
		if securityType > 255 {
			return nil, unsupportedError("ClientConn.negotiateSecurity", fmt.Sprintf("unknown security type %d", securityType), nil)
		}
		offered = []uint8{uint8(securityType)}
	}

	auth, err := c.config.AuthRegistry.Negotiate(ctx, offered, c.config.PreferredSecurity)
	if err != nil {
		return nil, err
	}
	if version >= ProtocolVersion37 {
		if _, err := c.conn.Write([]byte{auth.SecurityType()}); err != nil {
			return nil, networkError("ClientConn.negotiateSecurity", "failed to send security type", err)
		}
	}
	c.logger.Debug("security type negotiated", Field{Key: "method", Value: auth.String()})
	return auth, nil
}

func (c *ClientConn) readSecurityResult(version ProtocolVersion) error {
	var result uint32
	if err := binary.Read(c.conn, binary.BigEndian, &result); err != nil {
		return networkError("ClientConn.readSecurityResult", "failed to read security result", err)
	}
	if result == 0 {
		return nil
	}
	reason := "authentication failed"
	if version >= ProtocolVersion38 {
		reason = c.readReason()
	}
	return authenticationError("ClientConn.readSecurityResult", reason, nil)
}

// readReason reads a length-prefixed failure reason. Errors yield a placeholder.
func (c *ClientConn) readReason() string {
	var length uint32
	if err := binary.Read(c.conn, binary.BigEndian, &length); err != nil {
		return "unknown reason"
	}
	if length > maxReasonLength {
		return "unknown reason"
	}
	reason := make([]byte, length)
	if _, err := io.ReadFull(c.conn, reason); err != nil {
		return "unknown reason"
	}
	return latin1ToString(reason)
}

func (c *ClientConn) readServerInit() error {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return networkError("ClientConn.readServerInit", "failed to read framebuffer size", err)
	}
	width := int(binary.BigEndian.Uint16(header[0:2]))
	height := int(binary.BigEndian.Uint16(header[2:4]))
	if err := validateFramebufferDimensions(width, height); err != nil {
		return err
	}

	var serverFormat PixelFormat
	if err := readPixelFormat(c.conn, &serverFormat); err != nil {
		return err
	}

	var nameLength uint32
	if err := binary.Read(c.conn, binary.BigEndian, &nameLength); err != nil {
		return networkError("ClientConn.readServerInit", "failed to read desktop name length", err)
	}
	if nameLength > maxDesktopNameLength {
		return protocolError("ClientConn.readServerInit", fmt.Sprintf("desktop name too long: %d bytes", nameLength), nil)
	}
	name := make([]byte, nameLength)
	if _, err := io.ReadFull(c.conn, name); err != nil {
		return networkError("ClientConn.readServerInit", "failed to read desktop name", err)
	}

	c.mu.Lock()
	c.desktopName = latin1ToString(name)
	c.pixelFormat = serverFormat
	c.codec = newPixelCodec(serverFormat, c.colorMap)
	c.mu.Unlock()

	return c.allocateFramebuffer(width, height)
}

// allocateFramebuffer replaces the local image and notifies the hook.
func (c *ClientConn) allocateFramebuffer(width, height int) error {
	c.mu.Lock()
	c.fb = image.NewRGBA(image.Rect(0, 0, width, height))
	c.mu.Unlock()
	if !c.hooks.allocateFramebuffer(width, height) {
		return stateError("ClientConn.allocateFramebuffer", fmt.Sprintf("framebuffer %dx%d rejected", width, height), nil)
	}
	return nil
}

// WaitForMessage waits up to timeout for the next server message. It reports
// false without error when the timeout expires first.
func (c *ClientConn) WaitForMessage(timeout time.Duration) (bool, error) {
	if c.br == nil || c.closed.Load() {
		return false, stateError("ClientConn.WaitForMessage", "connection is not established", nil)
	}
	if c.br.Buffered() > 0 {
		return true, nil
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, err := c.br.Peek(1)
	_ = c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}
		return false, networkError("ClientConn.WaitForMessage", "connection lost", err)
	}
	return true, nil
}

// HandleMessage reads and dispatches exactly one server message. A server
// that stalls mid-message fails it with ErrTimeout after ReadTimeout.
func (c *ClientConn) HandleMessage() error {
	if c.br == nil || c.closed.Load() {
		return stateError("ClientConn.HandleMessage", "connection is not established", nil)
	}
	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}
	msgType, err := c.br.ReadByte()
	if err != nil {
		return networkError("ClientConn.HandleMessage", "failed to read message type", err)
	}
	msg, ok := c.messages[msgType]
	if !ok {
		return unsupportedError("ClientConn.HandleMessage", fmt.Sprintf("unsupported server message type %d", msgType), nil)
	}
	err = msg.Read(c, c.br)
	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError("ClientConn.HandleMessage", fmt.Sprintf("server stalled in message type %d", msgType), err)
	}
	return err
}

func (c *ClientConn) write(op string, data []byte) error {
	if c.conn == nil || c.closed.Load() {
		return stateError(op, "connection is not established", nil)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if _, err := c.conn.Write(data); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return timeoutError(op, "write timed out", err)
		}
		return networkError(op, "failed to write message", err)
	}
	return nil
}

// FramebufferUpdateRequest asks for the given region. An incremental request
// only returns changes since the last update.
func (c *ClientConn) FramebufferUpdateRequest(incremental bool, x, y, width, height uint16) error {
	msg := make([]byte, 10)
	msg[0] = clientFramebufferUpdateRequest
	if incremental {
		msg[1] = 1
	}
	binary.BigEndian.PutUint16(msg[2:], x)
	binary.BigEndian.PutUint16(msg[4:], y)
	binary.BigEndian.PutUint16(msg[6:], width)
	binary.BigEndian.PutUint16(msg[8:], height)
	return c.write("ClientConn.FramebufferUpdateRequest", msg)
}

// KeyEvent sends a key press or release for an X11 keysym.
func (c *ClientConn) KeyEvent(keysym uint32, down bool) error {
	msg := make([]byte, 8)
	msg[0] = clientKeyEvent
	if down {
		msg[1] = 1
	}
	binary.BigEndian.PutUint32(msg[4:], keysym)
	return c.write("ClientConn.KeyEvent", msg)
}

// PointerEvent sends the pointer position and the buttons currently held.
func (c *ClientConn) PointerEvent(mask ButtonMask, x, y uint16) error {
	msg := make([]byte, 6)
	msg[0] = clientPointerEvent
	msg[1] = uint8(mask)
	binary.BigEndian.PutUint16(msg[2:], x)
	binary.BigEndian.PutUint16(msg[4:], y)
	return c.write("ClientConn.PointerEvent", msg)
}

// CutText sends clipboard text. The text must be representable in Latin-1.
func (c *ClientConn) CutText(text string) error {
	data, err := stringToLatin1("ClientConn.CutText", text)
	if err != nil {
		return err
	}
	if len(data) > MaxClipboardLength {
		return validationError("ClientConn.CutText",
			fmt.Sprintf("text too long: %d bytes (max %d)", len(data), MaxClipboardLength), nil)
	}
	msg := make([]byte, 8+len(data))
	msg[0] = clientCutText
	binary.BigEndian.PutUint32(msg[4:], uint32(len(data))) // #nosec G115 - bounded by MaxClipboardLength
	copy(msg[8:], data)
	return c.write("ClientConn.CutText", msg)
}

// SetEncodings tells the server which encodings the client accepts.
func (c *ClientConn) SetEncodings(encs []Encoding) error {
	if len(encs) > MaxEncodingsPerRequest {
		return validationError("ClientConn.SetEncodings", fmt.Sprintf("too many encodings: %d", len(encs)), nil)
	}
	msg := make([]byte, 4+4*len(encs))
	msg[0] = clientSetEncodings
	binary.BigEndian.PutUint16(msg[2:], uint16(len(encs))) // #nosec G115 - bounded above
	for i, enc := range encs {
		binary.BigEndian.PutUint32(msg[4+4*i:], uint32(enc.Type())) // #nosec G115 - two's complement on the wire
		c.encodings[enc.Type()] = enc
	}
	return c.write("ClientConn.SetEncodings", msg)
}

// SetPixelFormat switches the format of pixel data sent by the server.
func (c *ClientConn) SetPixelFormat(pf PixelFormat) error {
	if err := pf.Validate(); err != nil {
		return validationError("ClientConn.SetPixelFormat", "invalid pixel format", err)
	}
	msg := make([]byte, 4, 4+pixelFormatSize)
	msg[0] = clientSetPixelFormat
	msg = append(msg, writePixelFormat(&pf)...)
	if err := c.write("ClientConn.SetPixelFormat", msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.pixelFormat = pf
	c.codec = newPixelCodec(pf, c.colorMap)
	c.mu.Unlock()
	return nil
}

// Framebuffer returns the decoded remote screen. The image is written by
// HandleMessage; read it from hooks or from the goroutine driving the connection.
func (c *ClientConn) Framebuffer() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fb
}

// FramebufferSize returns the current remote screen size.
func (c *ClientConn) FramebufferSize() (width, height int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fb == nil {
		return 0, 0
	}
	return c.fb.Rect.Dx(), c.fb.Rect.Dy()
}

// DesktopName returns the name announced in ServerInit.
func (c *ClientConn) DesktopName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desktopName
}

// PixelFormat returns the pixel format currently in effect.
func (c *ClientConn) PixelFormat() PixelFormat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pixelFormat
}

// Close closes the network connection. It is safe to call more than once.
func (c *ClientConn) Close() error {
	if c.conn == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return networkError("ClientConn.Close", "failed to close connection", err)
	}
	c.logger.Debug("connection closed")
	return nil
}

func (c *ClientConn) pixelDecoder() *pixelCodec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codec
}
