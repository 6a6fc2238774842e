// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package server

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// world is the state shared by the stub plugins of one test.
type world struct {
	mu sync.Mutex

	closed   []string
	timeouts []time.Duration
	inits    map[string]int

	port        int
	password    string
	desktopName string
	assembled   bool

	clients      bool
	restartAfter int
	screen       capability.Size
	onPoll       func(n int)
}

func newWorld() *world {
	return &world{inits: make(map[string]int), screen: capability.Size{Width: 64, Height: 48}}
}

func (w *world) close(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = append(w.closed, name)
	return nil
}

func (w *world) initialized(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inits[name]++
}

func (w *world) initCount(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inits[name]
}

func (w *world) closeOrder() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.closed...)
}

type stubFramebuffer struct{ w *world }

func (f *stubFramebuffer) Identity() plugin.Identity { return plugin.Identity{Name: "fb"} }
func (f *stubFramebuffer) Initialize(capability.Host) error {
	f.w.initialized("framebuffer")
	return nil
}
func (f *stubFramebuffer) Data() []byte                                              { return make([]byte, 64*48*4) }
func (f *stubFramebuffer) Size() capability.Size                                     { return capability.Size{Width: 64, Height: 48} }
func (f *stubFramebuffer) Update(capability.RectangleVisitor) capability.UpdateFlags { return 0 }
func (f *stubFramebuffer) AvailableScreens() capability.Screens {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return capability.Screens{{Size: f.w.screen, ColorDepth: 24}}
}
func (f *stubFramebuffer) Close() error { return f.w.close("framebuffer") }

type stubKeyboard struct{ w *world }

func (k *stubKeyboard) Identity() plugin.Identity        { return plugin.Identity{Name: "kbd"} }
func (k *stubKeyboard) Initialize(capability.Host) error { return nil }
func (k *stubKeyboard) SynthesizeKeyEvent(uint32, bool)  {}
func (k *stubKeyboard) Close() error                     { return k.w.close("keyboard") }

type stubPointer struct{ w *world }

func (p *stubPointer) Identity() plugin.Identity        { return plugin.Identity{Name: "ptr"} }
func (p *stubPointer) Initialize(capability.Host) error { return nil }
func (p *stubPointer) Move(capability.Point)            {}
func (p *stubPointer) PressButton(capability.Button)    {}
func (p *stubPointer) ReleaseButton(capability.Button)  {}
func (p *stubPointer) ScrollUp()                        {}
func (p *stubPointer) ScrollDown()                      {}
func (p *stubPointer) Close() error                     { return p.w.close("pointing-device") }

type stubClipboard struct{ w *world }

func (c *stubClipboard) Identity() plugin.Identity        { return plugin.Identity{Name: "clip"} }
func (c *stubClipboard) Initialize(capability.Host) error { return nil }
func (c *stubClipboard) SetText(string)                   {}
func (c *stubClipboard) Close() error                     { return c.w.close("clipboard") }

type stubBackend struct {
	w       *world
	polls   int
	updates int
}

func (b *stubBackend) Identity() plugin.Identity { return plugin.Identity{Name: "backend"} }

func (b *stubBackend) Initialize(host capability.Host) error {
	b.w.initialized("backend")
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	b.w.port = host.Port()
	b.w.password = host.Password()
	b.w.desktopName = host.DesktopName()
	b.w.assembled = host.Framebuffer() != nil && host.Keyboard() != nil &&
		host.PointingDevice() != nil && host.Clipboard() != nil && host.Logger() != nil
	return nil
}

func (b *stubBackend) HandleFramebufferUpdate() (bool, capability.UpdateFlags) {
	b.updates++
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	if b.w.restartAfter > 0 && b.updates >= b.w.restartAfter {
		return false, capability.UpdateRequiresRestart
	}
	return true, 0
}

func (b *stubBackend) HasConnectedClients() bool {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	return b.w.clients
}

func (b *stubBackend) HasPendingClientUpdateRequests() bool { return false }

func (b *stubBackend) ProcessEvents(timeout time.Duration) bool {
	b.polls++
	b.w.mu.Lock()
	b.w.timeouts = append(b.w.timeouts, timeout)
	onPoll := b.w.onPoll
	b.w.mu.Unlock()
	if onPoll != nil {
		onPoll(b.polls)
	}
	time.Sleep(time.Millisecond)
	return true
}

func (b *stubBackend) Shutdown() error { return b.w.close("backend") }

func newLoader(w *world, without ...string) *plugin.Loader {
	skip := make(map[string]bool)
	for _, name := range without {
		skip[name] = true
	}
	registry := plugin.NewRegistry()
	add := func(name string, ctor plugin.Constructor) {
		if !skip[name] {
			registry.MustRegister(name, ctor)
		}
	}
	add("framebuffer", func() plugin.Plugin { return &stubFramebuffer{w: w} })
	add("keyboard", func() plugin.Plugin { return &stubKeyboard{w: w} })
	add("pointing-device", func() plugin.Plugin { return &stubPointer{w: w} })
	add("clipboard", func() plugin.Plugin { return &stubClipboard{w: w} })
	add("backend", func() plugin.Plugin { return &stubBackend{w: w} })
	return plugin.NewLoader(nil, registry)
}

func runAsync(t *testing.T, srv *Server) error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- srv.Run() }()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		srv.Quit()
		t.Fatal("Run() did not return")
		return nil
	}
}

var shutdownOrder = []string{"backend", "clipboard", "pointing-device", "keyboard", "framebuffer"}

func TestServer_RunIdleThenQuit(t *testing.T) {
	w := newWorld()
	srv := New(newLoader(w), Config{Port: 5901, Password: "secret"})
	w.onPoll = func(n int) {
		if n == 3 {
			quitted := make(chan struct{})
			go func() {
				srv.Quit()
				close(quitted)
			}()
			<-quitted
		}
	}

	if err := runAsync(t, srv); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if w.port != 5901 || w.password != "secret" || w.desktopName != vnc.DefaultDesktopName {
		t.Errorf("backend saw port %d password %q name %q", w.port, w.password, w.desktopName)
	}
	if !w.assembled {
		t.Error("backend initialized before every device slot was filled")
	}
	if want := []time.Duration{IdleTimeout, IdleTimeout, IdleTimeout}; !reflect.DeepEqual(w.timeouts, want) {
		t.Errorf("poll timeouts = %v, want %v", w.timeouts, want)
	}
	if got := w.closeOrder(); !reflect.DeepEqual(got, shutdownOrder) {
		t.Errorf("shutdown order = %v, want %v", got, shutdownOrder)
	}
}

func TestServer_RestartRequired(t *testing.T) {
	w := newWorld()
	w.clients = true
	w.restartAfter = 2

	err := runAsync(t, New(newLoader(w), Config{}))
	if !errors.Is(err, ErrRestartRequired) {
		t.Fatalf("Run() error = %v, want ErrRestartRequired", err)
	}
	if want := []time.Duration{NonIdleTimeout}; !reflect.DeepEqual(w.timeouts, want) {
		t.Errorf("poll timeouts = %v, want %v", w.timeouts, want)
	}
	if got := w.closeOrder(); !reflect.DeepEqual(got, shutdownOrder) {
		t.Errorf("shutdown order = %v, want %v", got, shutdownOrder)
	}
}

func TestServer_AssemblyFailure(t *testing.T) {
	w := newWorld()
	err := runAsync(t, New(newLoader(w, "clipboard"), Config{}))
	if !errors.Is(err, plugin.ErrNotFound) {
		t.Fatalf("Run() error = %v, want ErrNotFound", err)
	}
	if want := []string{"pointing-device", "keyboard", "framebuffer"}; !reflect.DeepEqual(w.closeOrder(), want) {
		t.Errorf("released %v, want %v", w.closeOrder(), want)
	}
	if w.initCount("backend") != 0 {
		t.Error("backend initialized after a failed assembly")
	}
}

func TestServer_ScreenGeometryChange(t *testing.T) {
	w := newWorld()
	w.screen = capability.Size{Width: 48, Height: 64}
	if err := runAsync(t, New(newLoader(w), Config{})); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(w.timeouts) != 0 {
		t.Errorf("polled %d times with a mismatched screen", len(w.timeouts))
	}
}

func TestServer_QuitBeforeRun(t *testing.T) {
	w := newWorld()
	srv := New(newLoader(w), Config{})
	srv.Quit()
	srv.Quit()
	if err := runAsync(t, srv); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(w.timeouts) != 0 {
		t.Errorf("polled %d times after Quit", len(w.timeouts))
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	w := newWorld()
	r := NewRunner(newLoader(w), Config{Port: 5901})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(); !vnc.IsVNCError(err, vnc.ErrState) {
		t.Errorf("second Start() error = %v, want state error", err)
	}
	waitFor(t, "backend", func() bool { return w.initCount("backend") > 0 })

	if err := r.SetPort(5902); !vnc.IsVNCError(err, vnc.ErrState) {
		t.Errorf("SetPort() while running error = %v, want state error", err)
	}
	if err := r.SetPassword("x"); !vnc.IsVNCError(err, vnc.ErrState) {
		t.Errorf("SetPassword() while running error = %v, want state error", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()
	r.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if r.Running() {
		t.Error("Running() = true after Stop")
	}
	if err := r.SetPort(5902); err != nil {
		t.Errorf("SetPort() while stopped error = %v", err)
	}
	if r.Config().Port != 5902 {
		t.Errorf("Config().Port = %d, want 5902", r.Config().Port)
	}
	if got := w.closeOrder(); !reflect.DeepEqual(got, shutdownOrder) {
		t.Errorf("shutdown order = %v, want %v", got, shutdownOrder)
	}
}

func TestRunner_RetriesFailedAssembly(t *testing.T) {
	w := newWorld()
	r := NewRunner(newLoader(w, "keyboard"), Config{})
	r.RetryInterval = 20 * time.Millisecond

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second assembly", func() bool { return w.initCount("framebuffer") >= 2 })
	r.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestRunner_RestartReassembles(t *testing.T) {
	w := newWorld()
	r := NewRunner(newLoader(w), Config{})
	r.RetryInterval = 10 * time.Millisecond

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first assembly", func() bool { return w.initCount("backend") == 1 })
	r.Restart()
	waitFor(t, "second assembly", func() bool { return w.initCount("backend") >= 2 })
	r.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestRunner_WaitBeforeStart(t *testing.T) {
	r := NewRunner(plugin.NewLoader(nil), Config{})
	if err := r.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	r.Stop()
	r.Restart()
}
