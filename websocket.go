// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketListener accepts RFB connections tunnelled in binary WebSocket
// messages, the transport used by browser viewers such as noVNC. It
// implements net.Listener so it can be handed to Server.Serve.
type WebSocketListener struct {
	ln       net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	conns    chan net.Conn
	done     chan struct{}
	once     sync.Once
	logger   Logger
}

// ListenWebSocket listens on address and upgrades requests for path.
// originAllowed filters the Origin header; nil accepts requests without an
// Origin header only.
func ListenWebSocket(address, path string, originAllowed func(string) bool, logger Logger) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, networkError("ListenWebSocket", "failed to listen on "+address, err)
	}
	if path == "" {
		path = "/"
	}

	wl := &WebSocketListener{
		ln:     ln,
		conns:  make(chan net.Conn),
		done:   make(chan struct{}),
		logger: OrNoOp(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  clientReadBufferSize,
			WriteBufferSize: clientReadBufferSize,
			Subprotocols:    []string{"binary"},
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, wl.handleUpgrade)
	wl.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := wl.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wl.logger.Error("websocket listener stopped", Field{Key: "error", Value: err})
		}
	}()
	return wl, nil
}

func (wl *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := wl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wl.logger.Warn("websocket upgrade failed", Field{Key: "remote", Value: r.RemoteAddr}, Field{Key: "error", Value: err})
		return
	}
	conn := &wsConn{ws: ws}
	select {
	case wl.conns <- conn:
	case <-wl.done:
		_ = conn.Close()
	}
}

// Accept waits for the next upgraded connection.
func (wl *WebSocketListener) Accept() (net.Conn, error) {
	select {
	case conn := <-wl.conns:
		return conn, nil
	case <-wl.done:
		return nil, net.ErrClosed
	}
}

// Close stops the HTTP server. Established connections stay open.
func (wl *WebSocketListener) Close() error {
	var err error
	wl.once.Do(func() {
		close(wl.done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = wl.http.Shutdown(ctx)
	})
	return err
}

// Addr returns the TCP address of the HTTP listener.
func (wl *WebSocketListener) Addr() net.Addr {
	return wl.ln.Addr()
}

// wsConn presents a WebSocket as a byte stream.
type wsConn struct {
	ws      *websocket.Conn
	reader  io.Reader
	readMu  sync.Mutex
	writeMu sync.Mutex
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		if c.reader == nil {
			messageType, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
