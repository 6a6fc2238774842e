// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package plugin

import (
	"sync"

	vnc "github.com/tenthirtyam/anyvnc"
)

// Registry is a Host backed by constructors registered at run time. It lists
// modules in registration order.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" {
		return vnc.NewVNCError("Registry.Register", vnc.ErrValidation, "module name is empty", nil)
	}
	if ctor == nil {
		return vnc.NewVNCError("Registry.Register", vnc.ErrValidation, "constructor for "+name+" is nil", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		return vnc.NewVNCError("Registry.Register", vnc.ErrPlugin, "module "+name+" is already registered", nil)
	}
	r.ctors[name] = ctor
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for init-time registration of built-in modules.
// It panics on error.
func (r *Registry) MustRegister(name string, ctor Constructor) {
	if err := r.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Unregister removes name. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; !exists {
		return
	}
	delete(r.ctors, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Names returns the registered module names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Modules implements Host.
func (r *Registry) Modules() ([]Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modules := make([]Module, 0, len(r.order))
	for _, name := range r.order {
		ctor := r.ctors[name]
		modules = append(modules, Module{
			Name: name,
			Open: func() (Constructor, error) { return ctor, nil },
		})
	}
	return modules, nil
}
