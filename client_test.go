// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// stallingPeer completes an RFB 3.8 handshake without security, writes tail
// and then sends nothing more until the client hangs up.
func stallingPeer(t *testing.T, tail []byte) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, protocolVersionLength)
		_, _ = io.WriteString(conn, "RFB 003.008\n")
		_, _ = io.ReadFull(conn, buf)
		_, _ = conn.Write([]byte{1, SecurityTypeNone})
		_, _ = io.ReadFull(conn, buf[:1])
		_, _ = conn.Write([]byte{0, 0, 0, 0})
		_, _ = io.ReadFull(conn, buf[:1])

		init := binary.BigEndian.AppendUint16(nil, 4)
		init = binary.BigEndian.AppendUint16(init, 4)
		init = append(init, writePixelFormat(&PixelFormatRGBX)...)
		init = binary.BigEndian.AppendUint32(init, 5)
		init = append(init, "stall"...)
		_, _ = conn.Write(init)
		_, _ = conn.Write(tail)

		_, _ = io.Copy(io.Discard, conn)
	}()
	return l.Addr().String()
}

func TestClient_HandleMessageTimesOutOnStalledServer(t *testing.T) {
	tests := []struct {
		name string
		tail []byte
	}{
		{"inside update header", []byte{serverFramebufferUpdate, 0}},
		{"inside rectangle header", []byte{serverFramebufferUpdate, 0, 0, 1, 0, 0, 0, 0}},
		{"inside cut text", []byte{serverCutText, 0, 0, 0, 0, 0, 0, 9, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := stallingPeer(t, tt.tail)
			c := NewClient(addr, ClientHooks{}, WithReadTimeout(100*time.Millisecond))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Connect(ctx); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			defer c.Close()
			if c.DesktopName() != "stall" {
				t.Errorf("DesktopName() = %q, want stall", c.DesktopName())
			}

			ready, err := c.WaitForMessage(5 * time.Second)
			if err != nil || !ready {
				t.Fatalf("WaitForMessage() = %v, %v, want a message", ready, err)
			}
			start := time.Now()
			err = c.HandleMessage()
			if !IsVNCError(err, ErrTimeout) {
				t.Fatalf("HandleMessage() error = %v, want ErrTimeout", err)
			}
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Errorf("HandleMessage() returned after %v", elapsed)
			}
		})
	}
}

func TestClient_ReadTimeoutDefaults(t *testing.T) {
	if c := NewClient("127.0.0.1:1", ClientHooks{}); c.config.ReadTimeout != DefaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", c.config.ReadTimeout, DefaultReadTimeout)
	}
	if c := NewClient("127.0.0.1:1", ClientHooks{}, WithReadTimeout(0)); c.config.ReadTimeout != 0 {
		t.Errorf("ReadTimeout = %v, want disabled", c.config.ReadTimeout)
	}
}
