// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package vnc implements the RFB 3.3, 3.7 and 3.8 protocol engines used by
// AnyVNC.
//
// The client engine, ClientConn, is driven by polling. One goroutine calls
// Connect, then alternates between WaitForMessage and HandleMessage; decoded
// pixels land in an *image.RGBA and every protocol event is reported through
// ClientHooks.
//
//	conn := vnc.NewClient("192.168.1.10:5900", vnc.ClientHooks{
//		Password:       func() string { return "secret" },
//		UpdateFinished: func() { fmt.Println("frame") },
//	}, vnc.WithEncodings(&vnc.CopyRectEncoding{}, &vnc.HextileEncoding{}))
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	defer conn.Close()
//	_ = conn.FramebufferUpdateRequest(false, 0, 0, 1920, 1080)
//	for {
//		ready, err := conn.WaitForMessage(500 * time.Millisecond)
//		if err != nil {
//			return err
//		}
//		if ready {
//			if err := conn.HandleMessage(); err != nil {
//				return err
//			}
//		}
//	}
//
// The server engine, Server, shares one RGBX framebuffer with every viewer.
// Connections are handshaken and read on their own goroutines, while hooks
// and updates run inside ProcessEvents, so the caller's devices are only
// ever touched from the goroutine running the server loop.
//
//	srv, err := vnc.NewServer(vnc.ServerConfig{
//		Width: 1024, Height: 768, Framebuffer: pixels,
//		Password: "secret",
//		Hooks: vnc.ServerHooks{
//			KeyEvent: func(c *vnc.ServerClient, keysym uint32, down bool) { ... },
//		},
//	})
//	if err != nil {
//		return err
//	}
//	if _, err := srv.ListenAndServe(":5900"); err != nil {
//		return err
//	}
//	for srv.ProcessEvents(100 * time.Millisecond) {
//		srv.MarkRectModified(0, 0, 1024, 768)
//	}
//
// WebSocketListener carries the same protocol over binary WebSocket
// messages for browser viewers.
//
// Errors returned by the package are *VNCError values; use IsVNCError and
// GetErrorCode to branch on the ErrorCode.
package vnc
