// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
)

var (
	uidAlpha = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	uidBeta  = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	uidGamma = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	uidClip  = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
)

type stubKeyboard struct {
	id      Identity
	initErr error
	closed  *atomic.Int32
}

func (s *stubKeyboard) Identity() Identity                          { return s.id }
func (s *stubKeyboard) Initialize(capability.Host) error            { return s.initErr }
func (s *stubKeyboard) SynthesizeKeyEvent(keysym uint32, down bool) {}
func (s *stubKeyboard) Close() error {
	s.closed.Add(1)
	return nil
}

type stubClipboard struct {
	id     Identity
	closed *atomic.Int32
}

func (s *stubClipboard) Identity() Identity               { return s.id }
func (s *stubClipboard) Initialize(capability.Host) error { return nil }
func (s *stubClipboard) SetText(string)                   {}
func (s *stubClipboard) Close() error {
	s.closed.Add(1)
	return nil
}

type fixture struct {
	registry *Registry
	closed   atomic.Int32
	built    atomic.Int32
}

func (f *fixture) keyboard(name string, uid uuid.UUID, flags Flags) {
	f.registry.MustRegister(name, func() Plugin {
		f.built.Add(1)
		return &stubKeyboard{id: Identity{UID: uid, Name: name, Flags: flags}, closed: &f.closed}
	})
}

func (f *fixture) clipboard(name string, uid uuid.UUID) {
	f.registry.MustRegister(name, func() Plugin {
		f.built.Add(1)
		return &stubClipboard{id: Identity{UID: uid, Name: name}, closed: &f.closed}
	})
}

func newFixture() *fixture {
	return &fixture{registry: NewRegistry()}
}

func TestLocate_TierOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		uid   uuid.UUID
		want  string
	}{
		{
			name: "uid beats default",
			setup: func(f *fixture) {
				f.keyboard("alpha", uidAlpha, ProvidesDefaultImplementation)
				f.keyboard("beta", uidBeta, 0)
			},
			uid:  uidBeta,
			want: "beta",
		},
		{
			name: "default beats registration order",
			setup: func(f *fixture) {
				f.keyboard("alpha", uidAlpha, 0)
				f.keyboard("beta", uidBeta, ProvidesDefaultImplementation)
			},
			uid:  uuid.Nil,
			want: "beta",
		},
		{
			name: "unknown uid falls back to default",
			setup: func(f *fixture) {
				f.keyboard("alpha", uidAlpha, 0)
				f.keyboard("beta", uidBeta, ProvidesDefaultImplementation)
			},
			uid:  uidGamma,
			want: "beta",
		},
		{
			name: "first implementation without default",
			setup: func(f *fixture) {
				f.clipboard("clip", uidClip)
				f.keyboard("alpha", uidAlpha, 0)
				f.keyboard("beta", uidBeta, 0)
			},
			uid:  uuid.Nil,
			want: "alpha",
		},
		{
			name: "uid of another contract is ignored",
			setup: func(f *fixture) {
				f.clipboard("clip", uidClip)
				f.keyboard("alpha", uidAlpha, 0)
			},
			uid:  uidClip,
			want: "alpha",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			loader := NewLoader(nil, f.registry)

			for i := 0; i < 3; i++ {
				kbd, err := Locate[capability.Keyboard](loader, tt.uid)
				if err != nil {
					t.Fatalf("Locate() error = %v", err)
				}
				if got := kbd.(Plugin).Identity().Name; got != tt.want {
					t.Fatalf("Locate() attempt %d = %q, want %q", i, got, tt.want)
				}
				loader.Release(kbd)
			}
		})
	}
}

func TestLocate_ConstructsEachModuleOnce(t *testing.T) {
	f := newFixture()
	f.clipboard("clip", uidClip)
	f.keyboard("alpha", uidAlpha, 0)
	f.keyboard("beta", uidBeta, ProvidesDefaultImplementation)
	loader := NewLoader(nil, f.registry)

	kbd, err := Locate[capability.Keyboard](loader, uidGamma)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if got := f.built.Load(); got != 3 {
		t.Errorf("constructed %d instances, want 3", got)
	}
	if got := f.closed.Load(); got != 0 {
		t.Errorf("closed %d unselected candidates, want 0", got)
	}
	loader.Release(kbd)
	if got := f.closed.Load(); got != 1 {
		t.Errorf("Release() closed %d instances in total, want 1", got)
	}
}

func TestLocate_NotFound(t *testing.T) {
	f := newFixture()
	f.clipboard("clip", uidClip)
	loader := NewLoader(nil, f.registry)

	_, err := Locate[capability.Keyboard](loader, uidAlpha)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Locate() error = %v, want ErrNotFound", err)
	}
	if !vnc.IsVNCError(err, vnc.ErrPlugin) {
		t.Errorf("Locate() error code = %v, want plugin", vnc.GetErrorCode(err))
	}
	if f.built.Load() != 1 || f.closed.Load() != 0 {
		t.Errorf("built %d and closed %d candidates, want 1 and 0", f.built.Load(), f.closed.Load())
	}
}

type brokenHost struct{}

func (brokenHost) Modules() ([]Module, error) {
	return []Module{
		{Name: "broken", Open: func() (Constructor, error) { return nil, errors.New("bad module") }},
		{Name: "panics", Open: func() (Constructor, error) {
			return func() Plugin { panic("boom") }, nil
		}},
		{Name: "nil", Open: func() (Constructor, error) {
			return func() Plugin { return nil }, nil
		}},
	}, nil
}

type failingHost struct{}

func (failingHost) Modules() ([]Module, error) { return nil, errors.New("unreadable") }

func TestLocate_SkipsBrokenModules(t *testing.T) {
	f := newFixture()
	f.keyboard("alpha", uidAlpha, 0)
	loader := NewLoader(nil, failingHost{}, brokenHost{}, f.registry)

	kbd, err := Locate[capability.Keyboard](loader, uuid.Nil)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if got := kbd.(Plugin).Identity().Name; got != "alpha" {
		t.Errorf("Locate() = %q, want alpha", got)
	}
}

func TestCreateAndInitialize_ReleasesOnFailure(t *testing.T) {
	var closed atomic.Int32
	registry := NewRegistry()
	registry.MustRegister("failing", func() Plugin {
		return &stubKeyboard{id: Identity{Name: "failing"}, initErr: errors.New("no display"), closed: &closed}
	})
	loader := NewLoader(nil, registry)

	kbd, err := CreateAndInitialize[capability.Keyboard](loader, uuid.Nil, nil)
	if err == nil {
		t.Fatal("CreateAndInitialize() error = nil")
	}
	if kbd != nil {
		t.Errorf("CreateAndInitialize() returned instance %v", kbd)
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("CreateAndInitialize() error = %v, must not match ErrNotFound", err)
	}
	if closed.Load() != 1 {
		t.Errorf("instance closed %d times, want 1", closed.Load())
	}
}

func TestLoader_Plugins(t *testing.T) {
	f := newFixture()
	f.keyboard("alpha", uidAlpha, ProvidesDefaultImplementation)
	f.clipboard("clip", uidClip)
	loader := NewLoader(nil, f.registry)

	infos := loader.Plugins()
	if len(infos) != 2 {
		t.Fatalf("Plugins() returned %d entries, want 2", len(infos))
	}
	if infos[0].Identity.Name != "alpha" || infos[0].Module != "alpha" {
		t.Errorf("Plugins()[0] = %+v", infos[0])
	}
	if !reflect.DeepEqual(infos[1].Contracts, []capability.Contract{capability.ContractClipboard}) {
		t.Errorf("Plugins()[1].Contracts = %v", infos[1].Contracts)
	}
	if f.built.Load() != 2 || f.closed.Load() != 0 {
		t.Errorf("Plugins() built %d and closed %d instances, want 2 and 0", f.built.Load(), f.closed.Load())
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	ctor := func() Plugin { return nil }
	if err := r.Register("a", ctor); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("a", ctor); !vnc.IsVNCError(err, vnc.ErrPlugin) {
		t.Errorf("duplicate Register() error = %v, want plugin error", err)
	}
	if err := r.Register("", ctor); !vnc.IsVNCError(err, vnc.ErrValidation) {
		t.Errorf("Register(\"\") error = %v, want validation error", err)
	}
	if err := r.Register("b", nil); !vnc.IsVNCError(err, vnc.ErrValidation) {
		t.Errorf("Register(nil) error = %v, want validation error", err)
	}
	_ = r.Register("c", ctor)
	r.Unregister("a")
	r.Unregister("missing")
	if got := r.Names(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("Names() = %v, want [c]", got)
	}
}

func TestNativeHost_Modules(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta.so", "alpha.so", "libsupport.so", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.so"), 0o700); err != nil {
		t.Fatal(err)
	}

	modules, err := NewNativeHost(dir).Modules()
	if err != nil {
		t.Fatalf("Modules() error = %v", err)
	}
	var names []string
	for _, m := range modules {
		names = append(names, filepath.Base(m.Name))
	}
	if want := []string{"alpha.so", "zeta.so"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Modules() = %v, want %v", names, want)
	}

	missing, err := NewNativeHost(filepath.Join(dir, "missing")).Modules()
	if err != nil || len(missing) != 0 {
		t.Errorf("Modules() on missing dir = %v, %v, want none", missing, err)
	}
}

func TestNativeHost_OpenInvalidModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bogus.so"), []byte("not elf"), 0o600); err != nil {
		t.Fatal(err)
	}
	modules, err := NewNativeHost(dir).Modules()
	if err != nil || len(modules) != 1 {
		t.Fatalf("Modules() = %v, %v", modules, err)
	}
	if _, err := modules[0].Open(); !vnc.IsVNCError(err, vnc.ErrPlugin) {
		t.Errorf("Open() error = %v, want plugin error", err)
	}
}

func TestWatch_DebouncesModuleChanges(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan struct{}, 8)
	w, err := Watch(dir, 50*time.Millisecond, nil, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(filepath.Join(dir, "mod.so"), []byte{byte(i)}, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange was not called")
	}
	select {
	case <-fired:
		t.Error("onChange called more than once for one burst")
	case <-time.After(200 * time.Millisecond):
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
