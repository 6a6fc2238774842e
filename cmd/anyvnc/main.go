// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Command anyvnc assembles the built-in and native plugins and runs the
// UserInterface plugin the loader selects.
package main

import (
	"fmt"
	"os"

	"github.com/tenthirtyam/anyvnc/backend"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/config"
	"github.com/tenthirtyam/anyvnc/internal/cli"
	"github.com/tenthirtyam/anyvnc/plugin"
	"github.com/tenthirtyam/anyvnc/plugins/desktop"
	"github.com/tenthirtyam/anyvnc/plugins/dummy"
)

// configEnv names the environment variable that overrides the
// configuration file path.
const configEnv = "ANYVNC_CONFIG"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	path := os.Getenv(configEnv)
	if path == "" {
		path = config.FileName
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	registry := plugin.NewRegistry()
	app := &cli.App{Registry: registry, ConfigPath: path}
	for _, register := range []func(*plugin.Registry) error{
		dummy.Register,
		desktop.Register,
		func(r *plugin.Registry) error { return backend.Register(r, cfg.BackendOptions()) },
		func(r *plugin.Registry) error { return cli.Register(r, app) },
	} {
		if err := register(registry); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	dir := cfg.PluginDir()
	if dir == "" {
		dir = plugin.DefaultDir()
	}
	app.Loader = plugin.NewLoader(logger, registry, plugin.NewNativeHost(dir))

	ui, err := plugin.Locate[capability.UserInterface](app.Loader, cfg.UserInterfaceUID())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return -1
	}
	defer app.Loader.Release(ui)
	return ui.Run(args)
}
