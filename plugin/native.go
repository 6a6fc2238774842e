// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"

	vnc "github.com/tenthirtyam/anyvnc"
)

// ModuleExt is the file extension of native modules.
const ModuleExt = ".so"

// NativeHost lists the shared objects in a directory and opens them with
// the standard library plugin package.
//
// Files whose names start with "lib" are treated as support libraries and
// skipped. A Go plugin cannot be unloaded: once opened, a module stays
// mapped for the lifetime of the process, and reopening it returns the same
// handle.
type NativeHost struct {
	Dir string
}

// NewNativeHost returns a host for dir.
func NewNativeHost(dir string) *NativeHost {
	return &NativeHost{Dir: dir}
}

// DefaultDir returns the plugins directory next to the running executable.
func DefaultDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "plugins"
	}
	return filepath.Join(filepath.Dir(exe), "plugins")
}

// IsModuleFile reports whether a file name denotes a loadable module.
func IsModuleFile(name string) bool {
	base := filepath.Base(name)
	return filepath.Ext(base) == ModuleExt && !strings.HasPrefix(base, "lib")
}

// Modules implements Host. A missing directory yields no modules.
func (h *NativeHost) Modules() ([]Module, error) {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, vnc.WrapError("NativeHost.Modules", vnc.ErrPlugin, "failed to read "+h.Dir, err)
	}

	var modules []Module
	for _, e := range entries {
		if e.IsDir() || !IsModuleFile(e.Name()) {
			continue
		}
		path := filepath.Join(h.Dir, e.Name())
		modules = append(modules, Module{
			Name: path,
			Open: func() (Constructor, error) { return openNative(path) },
		})
	}
	return modules, nil
}

func openNative(path string) (Constructor, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, vnc.WrapError("NativeHost.Open", vnc.ErrPlugin, "failed to open "+path, err)
	}
	sym, err := p.Lookup(EntryPoint)
	if err != nil {
		return nil, vnc.WrapError("NativeHost.Open", vnc.ErrPlugin, path+" has no "+EntryPoint, err)
	}
	switch fn := sym.(type) {
	case func() Plugin:
		return fn, nil
	case *func() Plugin:
		return *fn, nil
	case *Constructor:
		return *fn, nil
	default:
		return nil, vnc.NewVNCError("NativeHost.Open", vnc.ErrPlugin,
			fmt.Sprintf("%s: %s has type %T", path, EntryPoint, sym), nil)
	}
}
