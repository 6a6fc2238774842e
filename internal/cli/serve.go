// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/config"
	"github.com/tenthirtyam/anyvnc/plugin"
	"github.com/tenthirtyam/anyvnc/plugins/dummy"
	"github.com/tenthirtyam/anyvnc/server"
)

type serveOptions struct {
	port     int
	password string
	dummy    bool

	portSet     bool
	passwordSet bool
}

// apply overrides cfg with the flags given on the command line.
func (o serveOptions) apply(cfg *config.Config) {
	if o.portSet {
		cfg.Server.Port = o.port
	}
	if o.passwordSet {
		cfg.Server.Password = o.password
	}
	if o.dummy {
		cfg.Plugins.Framebuffer = dummy.FramebufferUID.String()
		cfg.Plugins.Keyboard = dummy.KeyboardUID.String()
		cfg.Plugins.PointingDevice = dummy.PointingDeviceUID.String()
		cfg.Plugins.Clipboard = dummy.ClipboardUID.String()
	}
}

func (c *Console) newServeCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the desktop to VNC viewers",
		Long: `Serve assembles a framebuffer, input devices and the RFB backend from the
available plugins and serves them until interrupted.

The server is assembled again when a plugin module is added or replaced and
when the configuration file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.portSet = cmd.Flags().Changed("port")
			opts.passwordSet = cmd.Flags().Changed("password")
			return c.serve(cmd.Context(), configFlag(cmd), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.port, "port", "p", server.DefaultPort, "TCP port to listen on")
	cmd.Flags().StringVar(&opts.password, "password", "", "VNC password; empty disables authentication")
	cmd.Flags().BoolVar(&opts.dummy, "dummy", false, "Prefer the dummy devices over the desktop ones")
	return cmd
}

func (c *Console) serve(ctx context.Context, path string, opts serveOptions) error {
	cfg, err := c.app.loadConfig(path)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(c.app.stderr())

	if err := c.app.useBackend(cfg); err != nil {
		return err
	}
	runner := server.NewRunner(c.app.Loader, cfg.ServerConfig(logger))
	if err := runner.Start(); err != nil {
		return err
	}
	logger.Info("server started", vnc.Field{Key: "port", Value: cfg.Server.Port})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloads := make(chan *config.Config, 1)
	pluginChanges := make(chan struct{}, 1)

	var closers []interface{ Close() error }
	if cfg.Plugins.Watch {
		dir := cfg.PluginDir()
		if w, err := plugin.Watch(dir, plugin.DefaultDebounce, logger, func() { notify(pluginChanges) }); err != nil {
			logger.Warn("plugin directory is not watched", vnc.Field{Key: "dir", Value: dir}, vnc.Field{Key: "error", Value: err})
		} else {
			closers = append(closers, w)
		}
	}
	if path == "" {
		path = c.app.ConfigPath
	}
	if path != "" {
		w, err := config.Watch(path, config.DefaultDebounce, logger, func(next *config.Config, err error) {
			if err == nil {
				replace(reloads, next)
			}
		})
		if err != nil {
			logger.Warn("configuration is not watched", vnc.Field{Key: "path", Value: path}, vnc.Field{Key: "error", Value: err})
		} else {
			closers = append(closers, w)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		for _, cl := range closers {
			if err := cl.Close(); err != nil {
				logger.Warn("failed to close watcher", vnc.Field{Key: "error", Value: err})
			}
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				logger.Info("shutting down server")
				runner.Stop()
				return runner.Wait(context.Background())
			case <-pluginChanges:
				logger.Info("plugin modules changed")
				runner.Restart()
			case next := <-reloads:
				logger.Info("configuration changed")
				if err := c.reconfigure(runner, next, opts, logger); err != nil {
					return err
				}
			}
		}
	})
	return g.Wait()
}

// reconfigure stops the runner, applies next and starts it again. An
// invalid configuration leaves the previous one running.
func (c *Console) reconfigure(runner *server.Runner, next *config.Config, opts serveOptions, logger vnc.Logger) error {
	opts.apply(next)
	if err := next.Validate(); err != nil {
		logger.Warn("ignoring invalid configuration", vnc.Field{Key: "error", Value: err})
		return nil
	}
	runner.Stop()
	if err := runner.Wait(context.Background()); err != nil {
		return err
	}
	if err := c.app.useBackend(next); err != nil {
		logger.Warn("failed to register backend", vnc.Field{Key: "error", Value: err})
	}
	if err := runner.SetConfig(next.ServerConfig(logger)); err != nil {
		logger.Warn("failed to apply configuration", vnc.Field{Key: "error", Value: err})
	}
	return runner.Start()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// replace leaves v as the only pending value of ch.
func replace[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
