// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package plugin discovers and instantiates the components an AnyVNC
// application is assembled from.
//
// A plugin is any value implementing Plugin. What it can do is decided by
// the capability interfaces it also implements, so a single module may
// provide a keyboard and a pointing device at the same time. Modules are
// listed by a Host: Registry for constructors compiled into the binary and
// NativeHost for shared objects built with -buildmode=plugin.
//
// Locate picks an implementation of a contract in three tiers. A plugin
// whose UID equals the requested one wins first, then a plugin flagged
// ProvidesDefaultImplementation, then any plugin implementing the contract.
// Within a tier hosts and modules are scanned in order, so the choice is
// deterministic for a given set of modules.
package plugin

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	vnc "github.com/tenthirtyam/anyvnc"
)

// EntryPoint is the symbol a native module exports. Its type must be
// func() plugin.Plugin.
const EntryPoint = "NewAnyVNCPlugin"

// Flags describe how a plugin takes part in selection.
type Flags uint32

const (
	// ProvidesDefaultImplementation marks a plugin as the preferred choice
	// for the contracts it implements when no UID is requested.
	ProvidesDefaultImplementation Flags = 1 << iota
)

// Has reports whether every bit of flag is set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	if f.Has(ProvidesDefaultImplementation) {
		return "default"
	}
	return "none"
}

// Version is a plugin release number.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Identity describes a plugin.
type Identity struct {
	UID         uuid.UUID
	Version     Version
	Name        string
	Description string
	Vendor      string
	Copyright   string
	Flags       Flags
}

func (id Identity) String() string {
	var b strings.Builder
	b.WriteString(id.Name)
	b.WriteString(" ")
	b.WriteString(id.Version.String())
	b.WriteString(" (")
	b.WriteString(id.UID.String())
	b.WriteString(")")
	return b.String()
}

// Plugin is implemented by every value a module constructs.
type Plugin interface {
	Identity() Identity
}

// Constructor creates a new plugin instance. It must not acquire resources:
// the loader builds candidates it may never select and drops them without
// calling Close. Resources belong in Initialize or the first use.
type Constructor func() Plugin

const locateOp = "plugin.Locate"

// ErrNotFound is matched, using errors.Is, by the error Locate returns when
// no module provides the requested contract.
var ErrNotFound = vnc.NewVNCError(locateOp, vnc.ErrPlugin, "no plugin found", nil)

// Module is one loadable unit listed by a Host.
type Module struct {
	// Name identifies the module in logs, a path for native modules.
	Name string

	// Open resolves the module's constructor.
	Open func() (Constructor, error)
}

// Host lists modules. The order of the result must be stable.
type Host interface {
	Modules() ([]Module, error)
}
