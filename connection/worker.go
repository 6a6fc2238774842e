// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package connection

import (
	"context"
	"image"
	"time"

	vnc "github.com/tenthirtyam/anyvnc"
)

func (c *Connection) run() {
	defer close(c.done)

	for !c.terminate.Load() {
		c.establish()
		c.handle()
		c.closeEngine()
	}
	c.logger.Debug("worker finished")
}

// establish retries until a session is up or the connection is stopped.
// A wake token left over from the previous session is discarded first.
func (c *Connection) establish() {
	select {
	case <-c.wake:
	default:
	}
	for !c.terminate.Load() && c.State() != StateConnected {
		c.setState(StateConnecting)
		c.restart.Store(false)
		c.fbState.Store(int32(FramebufferInvalid))
		c.reachable.Store(false)
		c.updateFinished = false

		address := c.address()
		c.engine = c.factory(address, c.hooks(), c.quality, c.logger)
		c.emit(c.observer.ConnectionPrepared)

		ctx, cancel := context.WithTimeout(c.ctx, ConnectTimeout)
		err := c.engine.Connect(ctx)
		cancel()

		if err == nil && !c.terminate.Load() {
			c.watchdog = time.Now()
			c.emit(c.observer.ConnectionEstablished)
			c.setState(StateConnected)
			c.logger.Info("connected", vnc.Field{Key: "address", Value: address})
			return
		}

		c.releaseEngine()
		if c.terminate.Load() {
			return
		}

		switch {
		case !c.reachable.Load():
			c.setState(StateHostOffline)
		case c.FramebufferState() == FramebufferInvalid:
			c.setState(StateAuthenticationFailed)
		default:
			c.setState(StateConnectionFailed)
		}
		c.logger.Debug("connection attempt failed", vnc.Field{Key: "address", Value: address}, vnc.Field{Key: "error", Value: err})

		if interval := c.UpdateInterval(); interval > 0 {
			c.sleep(interval)
		} else {
			c.sleep(c.retryInterval)
		}
	}
}

// handle runs the session loop until the session fails, a restart is
// requested or the connection is stopped.
func (c *Connection) handle() {
	engine := c.engine
	if engine == nil {
		return
	}
	// Stop closes the engine to unblock a read stuck in a stalled message.
	stop := context.AfterFunc(c.ctx, func() { _ = engine.Close() })
	defer stop()

	for c.State() == StateConnected && !c.terminate.Load() && !c.restart.Load() {
		start := time.Now()

		ready, err := c.engine.WaitForMessage(MessageWaitTimeout)
		if c.terminate.Load() || err != nil {
			c.logSessionEnd(err)
			return
		}
		for ready {
			if err := c.engine.HandleMessage(); err != nil {
				c.logSessionEnd(err)
				return
			}
			if ready, err = c.engine.WaitForMessage(0); err != nil {
				c.logSessionEnd(err)
				return
			}
		}

		c.sendEvents(c.engine)

		interval := c.UpdateInterval()
		remaining := interval - time.Since(start)
		fbState := c.FramebufferState()

		if fbState == FramebufferInitialized || time.Since(c.watchdog) >= max(2*interval, c.watchdogTimeout) {
			if err := c.requestUpdate(false); err != nil {
				c.logSessionEnd(err)
				return
			}
			c.sleep(FastFramebufferUpdateInterval - time.Since(start))
		} else if fbState == FramebufferValid && remaining > 0 && !c.terminate.Load() {
			c.sleep(remaining)
		}

		if c.updateFinished && c.FramebufferState() == FramebufferValid {
			c.updateFinished = false
			if err := c.requestUpdate(true); err != nil {
				c.logSessionEnd(err)
				return
			}
		}

		c.sendEvents(c.engine)
	}
}

func (c *Connection) requestUpdate(incremental bool) error {
	width, height := c.engine.FramebufferSize()
	return c.engine.FramebufferUpdateRequest(incremental, 0, 0, clampUint16(width), clampUint16(height))
}

func (c *Connection) logSessionEnd(err error) {
	if err != nil && !c.terminate.Load() {
		c.logger.Info("session ended", vnc.Field{Key: "error", Value: err})
	}
}

func (c *Connection) closeEngine() {
	c.releaseEngine()
	c.setState(StateDisconnected)
}

func (c *Connection) releaseEngine() {
	if c.engine == nil {
		return
	}
	if err := c.engine.Close(); err != nil {
		c.logger.Warn("failed to close engine", vnc.Field{Key: "error", Value: err})
	}
	c.engine = nil
}

func (c *Connection) emit(fn func()) {
	if fn != nil && !c.terminate.Load() {
		fn()
	}
}

// hooks returns the engine callbacks. They run on the worker goroutine and
// do nothing once the connection is stopped.
func (c *Connection) hooks() vnc.ClientHooks {
	return vnc.ClientHooks{
		ServerReachable: func() {
			c.reachable.Store(true)
		},
		Password: c.currentPassword,
		AllocateFramebuffer: func(width, height int) bool {
			if c.terminate.Load() {
				return false
			}
			c.allocateImage(width, height)
			c.fbState.Store(int32(FramebufferInitialized))
			if fn := c.observer.FramebufferSizeChanged; fn != nil {
				fn(width, height)
			}
			return true
		},
		RegionUpdated: func(x, y, width, height int) {
			if c.terminate.Load() || c.engine == nil {
				return
			}
			c.copyRegion(c.engine.Framebuffer(), image.Rect(x, y, x+width, y+height))
			if fn := c.observer.ImageUpdated; fn != nil {
				fn(x, y, width, height)
			}
		},
		UpdateFinished: func() {
			if c.terminate.Load() {
				return
			}
			c.watchdog = time.Now()
			c.fbState.Store(int32(FramebufferValid))
			c.scaledDirty.Store(true)
			c.updateFinished = true
			c.emit(c.observer.FramebufferUpdateComplete)
		},
		CursorPosition: func(x, y int) {
			if fn := c.observer.CursorPosChanged; fn != nil && !c.terminate.Load() {
				fn(x, y)
			}
		},
		CursorShape: func(hotX, hotY int, shape *image.RGBA) {
			if fn := c.observer.CursorShapeUpdated; fn != nil && !c.terminate.Load() {
				fn(shape, hotX, hotY)
			}
		},
		ClipboardText: func(text string) {
			if fn := c.observer.ClipboardText; fn != nil && text != "" && !c.terminate.Load() {
				fn(text)
			}
		},
	}
}
