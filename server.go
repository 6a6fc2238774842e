// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Server engine defaults.
const (
	DefaultDesktopName      = "AnyVNC"
	DefaultHandshakeTimeout = 10 * time.Second
	serverEventQueueSize    = 256
)

// ServerHooks are the callbacks through which a Server reports client
// activity. They all run on the goroutine calling ProcessEvents.
type ServerHooks struct {
	// NewClient runs when a client finished the handshake. Returning false rejects it.
	NewClient func(c *ServerClient) bool

	// ClientGone runs after an accepted client disconnected.
	ClientGone func(c *ServerClient)

	KeyEvent     func(c *ServerClient, keysym uint32, down bool)
	PointerEvent func(c *ServerClient, mask ButtonMask, x, y int)
	CutText      func(c *ServerClient, text string)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Width, Height and Framebuffer describe the shared screen. The slice
	// holds RGBX pixels with a stride of Width*4 and is read, never written.
	Width       int
	Height      int
	Framebuffer []byte

	DesktopName string

	// Password enables VNC authentication when non-empty.
	Password string

	// AlwaysShared keeps existing clients connected when a client asks for exclusive access.
	AlwaysShared bool

	Logger           Logger
	Hooks            ServerHooks
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Server is a polling RFB server. Connections are accepted and read on
// background goroutines; all hooks and all updates happen in ProcessEvents.
type Server struct {
	cfg    ServerConfig
	logger Logger
	auth   ServerAuth

	mu        sync.Mutex
	fb        []byte
	width     int
	height    int
	clients   []*ServerClient
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}

	events          chan serverEvent
	done            chan struct{}
	closed          atomic.Bool
	clientCount     atomic.Int32
	pendingRequests atomic.Bool
	nextID          atomic.Uint64
	wg              sync.WaitGroup
}

// NewServer validates cfg and returns a server that is not yet listening.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := validateFramebufferDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if len(cfg.Framebuffer) < cfg.Width*cfg.Height*4 {
		return nil, validationError("NewServer",
			fmt.Sprintf("framebuffer holds %d bytes, need %d", len(cfg.Framebuffer), cfg.Width*cfg.Height*4), nil)
	}
	if cfg.DesktopName == "" {
		cfg.DesktopName = DefaultDesktopName
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	cfg.Logger = OrNoOp(cfg.Logger)

	return &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		auth:      newServerAuth(cfg.Password),
		fb:        cfg.Framebuffer,
		width:     cfg.Width,
		height:    cfg.Height,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
		events:    make(chan serverEvent, serverEventQueueSize),
		done:      make(chan struct{}),
	}, nil
}

// ListenAndServe listens on the TCP address and serves it in the background.
// It returns the bound address.
func (s *Server) ListenAndServe(address string) (net.Addr, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, networkError("Server.ListenAndServe", "failed to listen on "+address, err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(l); err != nil {
			s.logger.Error("listener stopped", Field{Key: "address", Value: l.Addr().String()}, Field{Key: "error", Value: err})
		}
	}()
	return l.Addr(), nil
}

// Serve accepts connections on l until l is closed or the server shuts down.
// It returns nil after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = l.Close()
		return stateError("Server.Serve", "server is shut down", nil)
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	}()

	s.logger.Info("listening", Field{Key: "address", Value: l.Addr().String()})
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return networkError("Server.Serve", "accept failed", err)
		}
		if !s.trackConn(conn) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	client := newServerClient(s, conn)
	if err := client.handshake(); err != nil {
		client.logger.Warn("handshake failed", Field{Key: "error", Value: err})
		return
	}
	if !s.post(serverEvent{kind: eventConnected, client: client}) {
		return
	}
	if err := client.readLoop(); err != nil && !s.closed.Load() {
		client.logger.Debug("client connection ended", Field{Key: "error", Value: err})
	}
	s.post(serverEvent{kind: eventGone, client: client})
}

// post queues ev for ProcessEvents. It reports false after Shutdown.
func (s *Server) post(ev serverEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// ProcessEvents sends due framebuffer updates, waits up to timeout for
// client activity and dispatches everything queued. It returns false once
// the server is shut down.
func (s *Server) ProcessEvents(timeout time.Duration) bool {
	if s.closed.Load() {
		return false
	}
	s.flushUpdates()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-s.events:
		s.dispatch(ev)
	case <-timer.C:
	case <-s.done:
		return false
	}

	// Only this goroutine receives, so len is a safe lower bound.
	for n := len(s.events); n > 0; n-- {
		s.dispatch(<-s.events)
	}

	s.flushUpdates()
	return !s.closed.Load()
}

func (s *Server) dispatch(ev serverEvent) {
	c := ev.client
	if ev.kind != eventConnected && !c.accepted {
		return
	}
	hooks := s.cfg.Hooks

	switch ev.kind {
	case eventConnected:
		if hooks.NewClient != nil && !hooks.NewClient(c) {
			c.logger.Info("client rejected")
			_ = c.Close()
			return
		}
		s.mu.Lock()
		if !c.shared && !s.cfg.AlwaysShared {
			for _, other := range s.clients {
				_ = other.Close()
			}
		}
		c.accepted = true
		s.clients = append(s.clients, c)
		s.mu.Unlock()
		s.clientCount.Add(1)
		c.logger.Info("client connected")

	case eventGone:
		s.mu.Lock()
		for i, other := range s.clients {
			if other == c {
				s.clients = append(s.clients[:i], s.clients[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		c.accepted = false
		s.clientCount.Add(-1)
		if hooks.ClientGone != nil {
			hooks.ClientGone(c)
		}
		c.logger.Info("client disconnected")

	case eventSetPixelFormat:
		s.mu.Lock()
		c.pf = ev.pf
		c.codec = newPixelCodec(ev.pf, nil)
		c.colorMapPending = !ev.pf.TrueColor
		s.mu.Unlock()

	case eventSetEncodings:
		s.mu.Lock()
		c.encodings = make(map[int32]bool, len(ev.encodings))
		for _, enc := range ev.encodings {
			c.encodings[enc] = true
		}
		s.mu.Unlock()

	case eventUpdateRequest:
		s.mu.Lock()
		rect := ev.rect.Intersect(image.Rect(0, 0, s.width, s.height))
		c.requested = c.requested.Union(rect)
		if !ev.incremental {
			c.modified = c.modified.Union(rect)
		}
		c.hasRequest = true
		s.mu.Unlock()

	case eventKey:
		if hooks.KeyEvent != nil {
			hooks.KeyEvent(c, ev.keysym, ev.down)
		}

	case eventPointer:
		if hooks.PointerEvent != nil {
			hooks.PointerEvent(c, ev.mask, ev.x, ev.y)
		}

	case eventCutText:
		if hooks.CutText != nil {
			hooks.CutText(c, ev.text)
		}
	}
	s.updatePending()
}

func (s *Server) updatePending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := false
	for _, c := range s.clients {
		if c.hasRequest {
			pending = true
			break
		}
	}
	s.pendingRequests.Store(pending)
}

type outgoing struct {
	client *ServerClient
	data   []byte
}

func (s *Server) flushUpdates() {
	s.mu.Lock()
	var out []outgoing
	for _, c := range s.clients {
		if data := s.buildUpdateLocked(c); len(data) > 0 {
			out = append(out, outgoing{client: c, data: data})
		}
	}
	s.mu.Unlock()

	for _, o := range out {
		if err := o.client.send(o.data); err != nil {
			o.client.logger.Debug("update failed", Field{Key: "error", Value: err})
			_ = o.client.Close()
		}
	}
	s.updatePending()
}

// buildUpdateLocked encodes the update due for c, if any. s.mu must be held.
func (s *Server) buildUpdateLocked(c *ServerClient) []byte {
	if !c.hasRequest {
		return nil
	}
	var buf []byte
	if c.colorMapPending {
		buf = appendColorMapEntries(buf, palette332())
		c.colorMapPending = false
	}

	bounds := image.Rect(0, 0, s.width, s.height)
	resize := c.newSizePending.Swap(false)
	var region image.Rectangle
	if resize {
		region = bounds
	} else {
		region = c.modified.Intersect(c.requested).Intersect(bounds)
		if region.Empty() {
			return buf
		}
	}

	count := uint16(1)
	announce := resize && c.encodings[EncodingDesktopSize]
	if announce {
		count++
	}
	buf = append(buf, serverFramebufferUpdate, 0, 0, 0)
	binary.BigEndian.PutUint16(buf[len(buf)-2:], count)
	if announce {
		buf = appendRectangleHeader(buf, image.Rect(0, 0, s.width, s.height), EncodingDesktopSize)
	}
	buf = appendRectangleHeader(buf, region, EncodingRaw)
	buf = s.appendRawLocked(buf, c, region)

	if resize || c.modified.In(region) {
		c.modified = image.Rectangle{}
	}
	c.requested = image.Rectangle{}
	c.hasRequest = false
	return buf
}

func appendRectangleHeader(buf []byte, r image.Rectangle, enc int32) []byte {
	var hdr [rectangleHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:], uint16(r.Min.X)) // #nosec G115 - bounded by MaxDimension
	binary.BigEndian.PutUint16(hdr[2:], uint16(r.Min.Y)) // #nosec G115 - bounded by MaxDimension
	binary.BigEndian.PutUint16(hdr[4:], uint16(r.Dx()))  // #nosec G115 - bounded by MaxDimension
	binary.BigEndian.PutUint16(hdr[6:], uint16(r.Dy()))  // #nosec G115 - bounded by MaxDimension
	binary.BigEndian.PutUint32(hdr[8:], uint32(enc))     // #nosec G115 - two's complement on the wire
	return append(buf, hdr[:]...)
}

// appendRawLocked encodes region of the framebuffer in the client's pixel format.
func (s *Server) appendRawLocked(buf []byte, c *ServerClient, region image.Rectangle) []byte {
	bpp := c.codec.bpp
	start := len(buf)
	buf = append(buf, make([]byte, region.Dx()*region.Dy()*bpp)...)
	dst := buf[start:]
	stride := s.width * 4
	native := c.pf == PixelFormatRGBX

	for y := region.Min.Y; y < region.Max.Y; y++ {
		row := s.fb[y*stride+region.Min.X*4 : y*stride+region.Max.X*4]
		if native {
			copy(dst, row)
			dst = dst[len(row):]
			continue
		}
		for i := 0; i < len(row); i += 4 {
			c.codec.encode(dst, row[i], row[i+1], row[i+2])
			dst = dst[bpp:]
		}
	}
	return buf
}

func appendColorMapEntries(buf []byte, colors []Color) []byte {
	buf = append(buf, serverSetColorMapEntries, 0, 0, 0, 0, 0)
	binary.BigEndian.PutUint16(buf[len(buf)-2:], uint16(len(colors))) // #nosec G115 - at most ColorMapSize
	for _, col := range colors {
		buf = binary.BigEndian.AppendUint16(buf, col.R)
		buf = binary.BigEndian.AppendUint16(buf, col.G)
		buf = binary.BigEndian.AppendUint16(buf, col.B)
	}
	return buf
}

// MarkRectModified records that the given region of the framebuffer changed.
// It is sent to every client on its next update request.
func (s *Server) MarkRectModified(x, y, width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := image.Rect(x, y, x+width, y+height).Intersect(image.Rect(0, 0, s.width, s.height))
	if r.Empty() {
		return
	}
	for _, c := range s.clients {
		c.modified = c.modified.Union(r)
	}
}

// SetFramebuffer replaces the shared screen. Callers announce a size change
// to clients through ServerClient.SetNewFramebufferSizePending.
func (s *Server) SetFramebuffer(data []byte, width, height int) error {
	if err := validateFramebufferDimensions(width, height); err != nil {
		return err
	}
	if len(data) < width*height*4 {
		return validationError("Server.SetFramebuffer",
			fmt.Sprintf("framebuffer holds %d bytes, need %d", len(data), width*height*4), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fb = data
	s.width = width
	s.height = height
	bounds := image.Rect(0, 0, width, height)
	for _, c := range s.clients {
		c.modified = c.modified.Intersect(bounds)
		c.requested = c.requested.Intersect(bounds)
	}
	return nil
}

// FramebufferSize returns the current screen size.
func (s *Server) FramebufferSize() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Clients returns the accepted clients in connection order.
func (s *Server) Clients() []*ServerClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ServerClient(nil), s.clients...)
}

// HasClients reports whether at least one client is connected.
func (s *Server) HasClients() bool {
	return s.clientCount.Load() > 0
}

// HasPendingUpdateRequests reports whether a client is waiting for an update.
func (s *Server) HasPendingUpdateRequests() bool {
	return s.pendingRequests.Load()
}

// Bell rings the bell on every client.
func (s *Server) Bell() {
	s.broadcast([]byte{serverBell})
}

// SendCutText sends clipboard text to every client. Characters outside
// Latin-1 are replaced with '?'.
func (s *Server) SendCutText(text string) {
	data := toLatin1Lossy(text)
	msg := make([]byte, 8, 8+len(data))
	msg[0] = serverCutText
	binary.BigEndian.PutUint32(msg[4:], uint32(len(data))) // #nosec G115 - bounded by string length
	s.broadcast(append(msg, data...))
}

func (s *Server) broadcast(msg []byte) {
	for _, c := range s.Clients() {
		if err := c.send(msg); err != nil {
			_ = c.Close()
		}
	}
}

// Shutdown closes every listener and connection and waits for the
// connection goroutines. It is safe to call more than once.
func (s *Server) Shutdown() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	listeners := make([]net.Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var firstErr error
	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) && firstErr == nil {
			firstErr = networkError("Server.Shutdown", "failed to close listener", err)
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()
	for _, c := range clients {
		if s.cfg.Hooks.ClientGone != nil {
			s.cfg.Hooks.ClientGone(c)
		}
	}
	s.clientCount.Store(0)
	s.pendingRequests.Store(false)
	s.logger.Info("server shut down")
	return firstErr
}

func toLatin1Lossy(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r > Latin1MaxCodePoint {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}
