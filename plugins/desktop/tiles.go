// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package desktop

import (
	"image"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-vgo/robotgo"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/framebuffer/changelog"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// Tile engine defaults.
const (
	TileSize            = 64
	DefaultTileInterval = 50 * time.Millisecond
	bytesPerPixel       = 4
)

// tileEngine is a changelog.Engine. A capture goroutine grabs the display,
// stages changed tiles and logs them as blits; Publish moves staged tiles
// into the framebuffer read by the server.
type tileEngine struct {
	grab     func() (*image.RGBA, error)
	pointer  func() (int, int)
	screens  func() capability.Screens
	interval time.Duration
	logger   vnc.Logger

	mu      sync.Mutex
	ring    *changelog.Ring
	size    capability.Size
	fb      []byte
	staged  []byte
	hashes  []uint64
	cols    int
	pointAt image.Point
	digest  *xxhash.Digest

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newTileEngine(d display, interval time.Duration) *tileEngine {
	return &tileEngine{
		grab:     d.grab,
		pointer:  robotgo.GetMousePos,
		screens:  d.screens,
		interval: interval,
		logger:   &vnc.NoOpLogger{},
		ring:     changelog.NewRing(changelog.MaxChanges),
		digest:   xxhash.New(),
		stop:     make(chan struct{}),
	}
}

// Start captures the first frame and launches the capture goroutine.
func (e *tileEngine) Start() error {
	img, err := e.grab()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.apply(img)
	e.mu.Unlock()

	if e.interval <= 0 {
		return nil
	}
	e.wg.Add(1)
	go e.loop()
	return nil
}

func (e *tileEngine) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.captureOnce(); err != nil {
				e.logger.Warn("tile capture failed", vnc.Field{Key: "error", Value: err})
			}
		}
	}
}

func (e *tileEngine) captureOnce() error {
	img, err := e.grab()
	if err != nil {
		return err
	}
	var x, y int
	if e.pointer != nil {
		x, y = e.pointer()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(img)
	if p := image.Pt(x, y); p != e.pointAt {
		e.pointAt = p
		e.ring.Append(changelog.Record{Kind: changelog.KindPointer, Rect: capability.Rectangle{Left: x, Top: y, Right: x, Bottom: y}})
	}
	return nil
}

// apply stages img. A new geometry replaces every buffer; otherwise each
// changed tile is staged and logged. Runs with the lock held.
func (e *tileEngine) apply(img *image.RGBA) {
	size := capability.Size{Width: img.Rect.Dx(), Height: img.Rect.Dy()}
	if size != e.size {
		e.size = size
		e.cols = (size.Width + TileSize - 1) / TileSize
		rows := (size.Height + TileSize - 1) / TileSize
		e.hashes = make([]uint64, e.cols*rows)
		if len(e.hashes) >= e.ring.Capacity() {
			// One full-screen change must fit in the log.
			e.ring = changelog.NewRing(len(e.hashes) + changelog.MaxChanges)
		}
		e.staged = make([]byte, size.Width*size.Height*bytesPerPixel)
		e.fb = make([]byte, len(e.staged))
		for i := range e.hashes {
			tile := e.tileRect(i)
			e.hashes[i] = e.hashTile(img, tile)
			e.stageTile(img, tile)
		}
		copy(e.fb, e.staged)
		return
	}

	for i := range e.hashes {
		tile := e.tileRect(i)
		h := e.hashTile(img, tile)
		if h == e.hashes[i] {
			continue
		}
		e.hashes[i] = h
		e.stageTile(img, tile)
		e.ring.Append(changelog.Record{Kind: changelog.KindBlit, Rect: tile})
	}
}

func (e *tileEngine) tileRect(i int) capability.Rectangle {
	x := (i % e.cols) * TileSize
	y := (i / e.cols) * TileSize
	return capability.Rectangle{
		Left:   x,
		Top:    y,
		Right:  min(x+TileSize, e.size.Width) - 1,
		Bottom: min(y+TileSize, e.size.Height) - 1,
	}
}

func (e *tileEngine) hashTile(img *image.RGBA, tile capability.Rectangle) uint64 {
	e.digest.Reset()
	for y := tile.Top; y <= tile.Bottom; y++ {
		off := img.PixOffset(img.Rect.Min.X+tile.Left, img.Rect.Min.Y+y)
		_, _ = e.digest.Write(img.Pix[off : off+tile.Width()*4])
	}
	return e.digest.Sum64()
}

// stageTile converts a tile of img to RGBX.
func (e *tileEngine) stageTile(img *image.RGBA, tile capability.Rectangle) {
	stride := e.size.Width * bytesPerPixel
	for y := tile.Top; y <= tile.Bottom; y++ {
		src := img.Pix[img.PixOffset(img.Rect.Min.X+tile.Left, img.Rect.Min.Y+y):]
		dst := e.staged[y*stride+tile.Left*bytesPerPixel:]
		for x := 0; x < tile.Width(); x++ {
			dst[x*4] = src[x*4]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4+2]
			dst[x*4+3] = 0xff
		}
	}
}

// Publish copies the staged pixels of rect into the framebuffer.
func (e *tileEngine) Publish(rect capability.Rectangle) {
	stride := e.size.Width * bytesPerPixel
	for y := rect.Top; y <= rect.Bottom; y++ {
		start := y*stride + rect.Left*bytesPerPixel
		end := start + rect.Width()*bytesPerPixel
		copy(e.fb[start:end], e.staged[start:end])
	}
}

func (e *tileEngine) Stop() error {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
	})
	return nil
}

func (e *tileEngine) Lock()   { e.mu.Lock() }
func (e *tileEngine) Unlock() { e.mu.Unlock() }

func (e *tileEngine) Changes() changelog.Changes { return e.ring }
func (e *tileEngine) Size() capability.Size      { return e.size }
func (e *tileEngine) Framebuffer() []byte        { return e.fb }

func (e *tileEngine) AvailableScreens() capability.Screens {
	if e.screens == nil {
		return capability.Screens{{Size: e.size, ColorDepth: 24}}
	}
	return e.screens()
}

// TileFramebuffer captures a display through a tile change log.
type TileFramebuffer struct {
	*changelog.Framebuffer
	engine *tileEngine
}

// NewTileFramebuffer captures the display with the given index every
// DefaultTileInterval.
func NewTileFramebuffer(index int) *TileFramebuffer {
	return newTileFramebuffer(newTileEngine(newDisplay(index), DefaultTileInterval))
}

func newTileFramebuffer(engine *tileEngine) *TileFramebuffer {
	return &TileFramebuffer{Framebuffer: changelog.New(engine), engine: engine}
}

func (f *TileFramebuffer) Identity() plugin.Identity {
	return identity(TileFramebufferUID, "TileFramebuffer", "Tile hashing change log capture", 0)
}

func (f *TileFramebuffer) Initialize(host capability.Host) error {
	f.engine.logger = hostLogger(host, "TileFramebuffer")
	return f.Framebuffer.Initialize(host)
}
