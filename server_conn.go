// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type serverEventKind int

const (
	eventConnected serverEventKind = iota
	eventGone
	eventSetPixelFormat
	eventSetEncodings
	eventUpdateRequest
	eventKey
	eventPointer
	eventCutText
)

type serverEvent struct {
	kind   serverEventKind
	client *ServerClient

	pf          PixelFormat
	encodings   []int32
	incremental bool
	rect        image.Rectangle
	keysym      uint32
	down        bool
	mask        ButtonMask
	x, y        int
	text        string
}

// ServerClient is one viewer connected to a Server.
type ServerClient struct {
	server  *Server
	conn    net.Conn
	logger  Logger
	id      uint64
	version ProtocolVersion
	shared  bool

	writeMu   sync.Mutex
	closeOnce sync.Once

	newSizePending atomic.Bool

	// Owned by the ProcessEvents goroutine, guarded by server.mu.
	accepted        bool
	pf              PixelFormat
	codec           *pixelCodec
	colorMapPending bool
	encodings       map[int32]bool
	requested       image.Rectangle
	modified        image.Rectangle
	hasRequest      bool
}

func newServerClient(s *Server, conn net.Conn) *ServerClient {
	id := s.nextID.Add(1)
	return &ServerClient{
		server:    s,
		conn:      conn,
		id:        id,
		logger:    s.logger.With(Field{Key: "client", Value: id}, Field{Key: "remote", Value: conn.RemoteAddr().String()}),
		pf:        PixelFormatRGBX,
		codec:     newPixelCodec(PixelFormatRGBX, nil),
		encodings: map[int32]bool{EncodingRaw: true},
	}
}

// ID returns a number unique among the clients of one Server.
func (c *ServerClient) ID() uint64 {
	return c.id
}

// RemoteAddr returns the viewer's network address.
func (c *ServerClient) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Shared reports the ClientInit shared flag.
func (c *ServerClient) Shared() bool {
	return c.shared
}

// SetNewFramebufferSizePending makes the next update announce the new
// framebuffer size and resend the whole screen.
func (c *ServerClient) SetNewFramebufferSizePending() {
	c.newSizePending.Store(true)
}

// NewFramebufferSizePending reports whether a size announcement is queued.
func (c *ServerClient) NewFramebufferSizePending() bool {
	return c.newSizePending.Load()
}

// SupportsEncoding reports whether the client listed enc in SetEncodings.
func (c *ServerClient) SupportsEncoding(enc int32) bool {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.encodings[enc]
}

// Close disconnects the client. ClientGone runs from a later ProcessEvents.
func (c *ServerClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *ServerClient) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return networkError("ServerClient.send", "failed to write to client", err)
	}
	return nil
}

// handshake runs version and security negotiation, authentication, ClientInit and ServerInit.
func (c *ServerClient) handshake() error {
	s := c.server
	_ = c.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	if _, err := io.WriteString(c.conn, ProtocolVersion38.String()); err != nil {
		return networkError("ServerClient.handshake", "failed to send protocol version", err)
	}
	var versionMsg [protocolVersionLength]byte
	if _, err := io.ReadFull(c.conn, versionMsg[:]); err != nil {
		return networkError("ServerClient.handshake", "failed to read protocol version", err)
	}
	version, err := parseProtocolVersion(versionMsg[:])
	if err != nil {
		return err
	}
	c.version = version

	securityType := s.auth.SecurityType()
	if version >= ProtocolVersion37 {
		if _, err := c.conn.Write([]byte{1, securityType}); err != nil {
			return networkError("ServerClient.handshake", "failed to send security types", err)
		}
		var chosen [1]byte
		if _, err := io.ReadFull(c.conn, chosen[:]); err != nil {
			return networkError("ServerClient.handshake", "failed to read security type", err)
		}
		if chosen[0] != securityType {
			c.writeSecurityFailure(version, "security type not offered")
			return authenticationError("ServerClient.handshake",
				fmt.Sprintf("client chose security type %d, offered %d", chosen[0], securityType), nil)
		}
	} else {
		if err := binary.Write(c.conn, binary.BigEndian, uint32(securityType)); err != nil {
			return networkError("ServerClient.handshake", "failed to send security type", err)
		}
	}

	authErr := s.auth.Authenticate(c.conn)
	if version >= ProtocolVersion38 || securityType != SecurityTypeNone {
		if authErr != nil {
			c.writeSecurityFailure(version, "authentication failed")
			return authErr
		}
		if err := binary.Write(c.conn, binary.BigEndian, uint32(0)); err != nil {
			return networkError("ServerClient.handshake", "failed to send security result", err)
		}
	} else if authErr != nil {
		return authErr
	}

	var shared [1]byte
	if _, err := io.ReadFull(c.conn, shared[:]); err != nil {
		return networkError("ServerClient.handshake", "failed to read ClientInit", err)
	}
	c.shared = shared[0] != 0

	width, height := s.FramebufferSize()
	name := toLatin1Lossy(s.cfg.DesktopName)
	msg := make([]byte, 4, 4+pixelFormatSize+4+len(name))
	binary.BigEndian.PutUint16(msg[0:], uint16(width))  // #nosec G115 - bounded by MaxDimension
	binary.BigEndian.PutUint16(msg[2:], uint16(height)) // #nosec G115 - bounded by MaxDimension
	native := PixelFormatRGBX
	msg = append(msg, writePixelFormat(&native)...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(name))) // #nosec G115 - short string
	msg = append(msg, name...)
	if _, err := c.conn.Write(msg); err != nil {
		return networkError("ServerClient.handshake", "failed to send ServerInit", err)
	}
	c.logger.Debug("handshake complete", Field{Key: "version", Value: int(version)}, Field{Key: "shared", Value: c.shared})
	return nil
}

func (c *ServerClient) writeSecurityFailure(version ProtocolVersion, reason string) {
	msg := binary.BigEndian.AppendUint32(nil, 1)
	if version >= ProtocolVersion38 {
		msg = binary.BigEndian.AppendUint32(msg, uint32(len(reason))) // #nosec G115 - short string
		msg = append(msg, reason...)
	}
	_, _ = c.conn.Write(msg)
}

// readLoop parses client messages and posts them to the server until the
// connection fails or the server shuts down.
func (c *ServerClient) readLoop() error {
	br := bufio.NewReader(c.conn)
	s := c.server
	for {
		msgType, err := br.ReadByte()
		if err != nil {
			return networkError("ServerClient.readLoop", "failed to read message type", err)
		}

		ev := serverEvent{client: c}
		switch msgType {
		case clientSetPixelFormat:
			var body [3 + pixelFormatSize]byte
			if _, err := io.ReadFull(br, body[:]); err != nil {
				return networkError("ServerClient.readLoop", "failed to read SetPixelFormat", err)
			}
			ev.kind = eventSetPixelFormat
			decodePixelFormat(body[3:], &ev.pf)
			if err := ev.pf.Validate(); err != nil {
				return validationError("ServerClient.readLoop", "client requested an invalid pixel format", err)
			}

		case clientSetEncodings:
			var header [3]byte
			if _, err := io.ReadFull(br, header[:]); err != nil {
				return networkError("ServerClient.readLoop", "failed to read SetEncodings", err)
			}
			count := int(binary.BigEndian.Uint16(header[1:3]))
			if count > MaxEncodingsPerRequest {
				return protocolError("ServerClient.readLoop", fmt.Sprintf("too many encodings: %d", count), nil)
			}
			data := make([]byte, 4*count)
			if _, err := io.ReadFull(br, data); err != nil {
				return networkError("ServerClient.readLoop", "failed to read encodings", err)
			}
			ev.kind = eventSetEncodings
			ev.encodings = make([]int32, count)
			for i := range ev.encodings {
				ev.encodings[i] = int32(binary.BigEndian.Uint32(data[4*i:])) // #nosec G115 - two's complement on the wire
			}

		case clientFramebufferUpdateRequest:
			var body [9]byte
			if _, err := io.ReadFull(br, body[:]); err != nil {
				return networkError("ServerClient.readLoop", "failed to read FramebufferUpdateRequest", err)
			}
			x := int(binary.BigEndian.Uint16(body[1:3]))
			y := int(binary.BigEndian.Uint16(body[3:5]))
			w := int(binary.BigEndian.Uint16(body[5:7]))
			h := int(binary.BigEndian.Uint16(body[7:9]))
			ev.kind = eventUpdateRequest
			ev.incremental = body[0] != 0
			ev.rect = image.Rect(x, y, x+w, y+h)

		case clientKeyEvent:
			var body [7]byte
			if _, err := io.ReadFull(br, body[:]); err != nil {
				return networkError("ServerClient.readLoop", "failed to read KeyEvent", err)
			}
			ev.kind = eventKey
			ev.down = body[0] != 0
			ev.keysym = binary.BigEndian.Uint32(body[3:7])

		case clientPointerEvent:
			var body [5]byte
			if _, err := io.ReadFull(br, body[:]); err != nil {
				return networkError("ServerClient.readLoop", "failed to read PointerEvent", err)
			}
			ev.kind = eventPointer
			ev.mask = ButtonMask(body[0])
			ev.x = int(binary.BigEndian.Uint16(body[1:3]))
			ev.y = int(binary.BigEndian.Uint16(body[3:5]))

		case clientCutText:
			var header [7]byte
			if _, err := io.ReadFull(br, header[:]); err != nil {
				return networkError("ServerClient.readLoop", "failed to read ClientCutText", err)
			}
			length := binary.BigEndian.Uint32(header[3:7])
			if length > MaxClipboardLength {
				return protocolError("ServerClient.readLoop", fmt.Sprintf("cut text too long: %d bytes", length), nil)
			}
			text := make([]byte, length)
			if _, err := io.ReadFull(br, text); err != nil {
				return networkError("ServerClient.readLoop", "failed to read cut text", err)
			}
			ev.kind = eventCutText
			ev.text = latin1ToString(text)

		default:
			return unsupportedError("ServerClient.readLoop", fmt.Sprintf("unsupported client message type %d", msgType), nil)
		}

		if !s.post(ev) {
			return nil
		}
	}
}
