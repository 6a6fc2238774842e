// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package plugin

import (
	"fmt"
	"io"
	"reflect"

	"github.com/google/uuid"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
)

// Loader selects plugins from a list of hosts.
type Loader struct {
	hosts  []Host
	logger vnc.Logger
}

// NewLoader returns a loader scanning hosts in the given order.
func NewLoader(logger vnc.Logger, hosts ...Host) *Loader {
	return &Loader{hosts: hosts, logger: vnc.OrNoOp(logger)}
}

// Info describes a discoverable plugin.
type Info struct {
	Identity  Identity
	Module    string
	Contracts []capability.Contract
}

type qualifier func(Identity) bool

func qualifiers(uid uuid.UUID) []qualifier {
	tiers := make([]qualifier, 0, 3)
	if uid != uuid.Nil {
		tiers = append(tiers, func(id Identity) bool { return id.UID == uid })
	}
	return append(tiers,
		func(id Identity) bool { return id.Flags.Has(ProvidesDefaultImplementation) },
		func(Identity) bool { return true },
	)
}

// Locate returns a new instance of the first plugin implementing T, preferring
// the plugin with the given uid and then a default implementation. Pass
// uuid.Nil to skip the uid tier. Every module is constructed once per call and
// the candidates that are not selected are dropped without being closed. The
// caller owns the instance and releases it with Release.
func Locate[T any](l *Loader, uid uuid.UUID) (T, error) {
	var zero T
	contract := reflect.TypeFor[T]().String()

	type candidate struct {
		module string
		id     Identity
		v      T
	}
	var candidates []candidate
	for _, m := range l.modules() {
		p, ok := l.construct(m)
		if !ok {
			continue
		}
		if v, ok := any(p).(T); ok {
			candidates = append(candidates, candidate{module: m.Name, id: p.Identity(), v: v})
		}
	}

	for tier, qualifies := range qualifiers(uid) {
		for _, c := range candidates {
			if !qualifies(c.id) {
				continue
			}
			l.logger.Debug("plugin selected",
				vnc.Field{Key: "contract", Value: contract},
				vnc.Field{Key: "plugin", Value: c.id.Name},
				vnc.Field{Key: "module", Value: c.module},
				vnc.Field{Key: "tier", Value: tier})
			return c.v, nil
		}
	}
	return zero, vnc.NewVNCError(locateOp, vnc.ErrPlugin, "no plugin implements "+contract, nil)
}

// CreateAndInitialize locates an implementation of T and initializes it
// with host. An instance whose initialization fails is released.
func CreateAndInitialize[T capability.Initializer](l *Loader, uid uuid.UUID, host capability.Host) (T, error) {
	var zero T
	v, err := Locate[T](l, uid)
	if err != nil {
		return zero, err
	}
	if err := v.Initialize(host); err != nil {
		l.Release(v)
		return zero, vnc.WrapError("plugin.CreateAndInitialize", vnc.ErrPlugin,
			"failed to initialize "+reflect.TypeFor[T]().String(), err)
	}
	return v, nil
}

// Plugins lists every plugin the hosts can construct. The instances built
// to describe them are dropped without being closed.
func (l *Loader) Plugins() []Info {
	var infos []Info
	for _, m := range l.modules() {
		p, ok := l.construct(m)
		if !ok {
			continue
		}
		infos = append(infos, Info{
			Identity:  p.Identity(),
			Module:    m.Name,
			Contracts: capability.Contracts(p),
		})
	}
	return infos
}

// Release closes v when it implements io.Closer. Errors are logged.
func (l *Loader) Release(v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		l.logger.Warn("failed to release plugin", vnc.Field{Key: "error", Value: err})
	}
}

func (l *Loader) modules() []Module {
	var all []Module
	for _, h := range l.hosts {
		modules, err := h.Modules()
		if err != nil {
			l.logger.Warn("failed to list plugin modules", vnc.Field{Key: "error", Value: err})
			continue
		}
		all = append(all, modules...)
	}
	return all
}

// construct opens m and creates one instance. Failures are logged and
// reported as false.
func (l *Loader) construct(m Module) (p Plugin, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("plugin constructor panicked",
				vnc.Field{Key: "module", Value: m.Name}, vnc.Field{Key: "panic", Value: fmt.Sprint(r)})
			p, ok = nil, false
		}
	}()

	ctor, err := m.Open()
	if err != nil {
		l.logger.Warn("failed to open plugin module", vnc.Field{Key: "module", Value: m.Name}, vnc.Field{Key: "error", Value: err})
		return nil, false
	}
	if p = ctor(); p == nil {
		l.logger.Warn("plugin constructor returned nil", vnc.Field{Key: "module", Value: m.Name})
		return nil, false
	}
	return p, true
}
