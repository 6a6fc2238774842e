// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package cli is the console UserInterface plugin. Its Run method executes a
// cobra command tree for serving a desktop, taking snapshots of a remote
// one and inspecting the available plugins.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tenthirtyam/anyvnc/backend"
	"github.com/tenthirtyam/anyvnc/config"
	"github.com/tenthirtyam/anyvnc/connection"
	"github.com/tenthirtyam/anyvnc/plugin"
)

// UID identifies the console plugin.
var UID = uuid.MustParse("7a3f9c2e-4b1d-4e8a-9f6c-5d2e1b0a3c47")

// Version is reported by the version command. Release builds set it with
// -ldflags "-X github.com/tenthirtyam/anyvnc/internal/cli.Version=...".
var Version = "dev"

// App is what the console needs from the program that registers it.
type App struct {
	// Registry receives the RFB backend built from each loaded
	// configuration. Optional.
	Registry *plugin.Registry

	Loader     *plugin.Loader
	ConfigPath string
	Stdout     io.Writer
	Stderr     io.Writer

	// EngineFactory overrides the client engine of snapshot connections.
	EngineFactory connection.EngineFactory
}

func (a *App) stdout() io.Writer {
	if a.Stdout == nil {
		return os.Stdout
	}
	return a.Stdout
}

func (a *App) stderr() io.Writer {
	if a.Stderr == nil {
		return os.Stderr
	}
	return a.Stderr
}

func (a *App) loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = a.ConfigPath
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// useBackend registers an RFB backend with the listener options of cfg,
// replacing the previous one.
func (a *App) useBackend(cfg *config.Config) error {
	if a.Registry == nil {
		return nil
	}
	a.Registry.Unregister(backendModule)
	return backend.Register(a.Registry, cfg.BackendOptions())
}

const backendModule = "rfb-backend"

// Console implements capability.UserInterface.
type Console struct {
	app *App
}

// New returns a console for app.
func New(app *App) *Console {
	return &Console{app: app}
}

// Register adds the console to registry.
func Register(registry *plugin.Registry, app *App) error {
	return registry.Register("cli", func() plugin.Plugin { return New(app) })
}

func (c *Console) Identity() plugin.Identity {
	return plugin.Identity{
		UID:         UID,
		Version:     plugin.Version{Major: 1, Minor: 0},
		Name:        "Console",
		Description: "Command line interface",
		Vendor:      "AnyVNC Community",
		Copyright:   "Ryan Johnson",
		Flags:       plugin.ProvidesDefaultImplementation,
	}
}

// Run executes the command line and returns the process exit code.
func (c *Console) Run(args []string) int {
	root := c.newRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(c.app.stderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *Console) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "anyvnc",
		Short:         "AnyVNC - remote desktop server and viewer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = Version
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.SetOut(c.app.stdout())
	root.SetErr(c.app.stderr())
	root.PersistentFlags().String("config", c.app.ConfigPath, "Path to the configuration file")

	root.AddCommand(
		c.newServeCommand(),
		c.newSnapshotCommand(),
		c.newPluginsCommand(),
		newVersionCommand(),
	)
	return root
}

func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "anyvnc %s\n", Version)
			return err
		},
	}
}
