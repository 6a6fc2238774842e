// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package cli

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
	"github.com/tenthirtyam/anyvnc/connection"
)

const defaultSnapshotTimeout = 30 * time.Second

type snapshotOptions struct {
	output   string
	width    int
	height   int
	password string
	timeout  time.Duration

	passwordSet bool
}

func (c *Console) newSnapshotCommand() *cobra.Command {
	var opts snapshotOptions
	cmd := &cobra.Command{
		Use:   "snapshot HOST[:PORT]",
		Short: "Save a PNG of a remote desktop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.passwordSet = cmd.Flags().Changed("password")
			return c.snapshot(cmd.Context(), configFlag(cmd), args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "snapshot.png", "PNG file to write; - writes to stdout")
	cmd.Flags().IntVar(&opts.width, "width", 0, "Scale to this width")
	cmd.Flags().IntVar(&opts.height, "height", 0, "Scale to this height")
	cmd.Flags().StringVar(&opts.password, "password", "", "VNC password")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaultSnapshotTimeout, "Give up after this long")
	return cmd
}

func (c *Console) snapshot(ctx context.Context, path, host string, opts snapshotOptions) error {
	if opts.width < 0 || opts.height < 0 {
		return vnc.NewVNCError("snapshot", vnc.ErrValidation, "width and height must not be negative", nil)
	}
	cfg, err := c.app.loadConfig(path)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(c.app.stderr())

	ccfg := cfg.ConnectionConfig(host, logger)
	ccfg.Quality = connection.QualityScreenshot
	if opts.passwordSet {
		ccfg.Password = opts.password
	}
	if c.app.EngineFactory != nil {
		ccfg.EngineFactory = c.app.EngineFactory
	}
	complete := make(chan struct{}, 1)
	ccfg.Observer.FramebufferUpdateComplete = func() { notify(complete) }
	ccfg.Observer.StateChanged = func(s connection.State) {
		logger.Debug("connection state", vnc.Field{Key: "state", Value: s.String()})
	}

	conn := connection.New(ccfg)
	conn.Start()
	img, err := capture(ctx, conn, host, opts, complete)
	if cerr := conn.Close(); cerr != nil {
		logger.Warn("failed to close connection", vnc.Field{Key: "error", Value: cerr})
	}
	if err != nil {
		return err
	}
	return c.writePNG(opts.output, img)
}

// capture waits for the first complete framebuffer of conn.
func capture(ctx context.Context, conn *connection.Connection, host string, opts snapshotOptions, complete <-chan struct{}) (*image.RGBA, error) {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	select {
	case <-complete:
	case <-ctx.Done():
		return nil, vnc.WrapError("snapshot", vnc.ErrTimeout,
			fmt.Sprintf("no framebuffer from %s (last state %s)", host, conn.State()), ctx.Err())
	}

	img := conn.Image()
	if size, ok := scaledSize(conn.FramebufferSize(), opts.width, opts.height); ok {
		conn.SetScaledSize(size)
		if scaled := conn.ScaledImage(); scaled != nil {
			img = scaled
		}
	}
	if img == nil {
		return nil, vnc.NewVNCError("snapshot", vnc.ErrState, "connection has no framebuffer", nil)
	}
	return img, nil
}

// scaledSize returns the target size for the requested width and height. A
// zero dimension follows the aspect ratio of fb.
func scaledSize(fb capability.Size, width, height int) (capability.Size, bool) {
	if !fb.IsValid() {
		return capability.Size{}, false
	}
	switch {
	case width == 0 && height == 0:
		return capability.Size{}, false
	case width == 0:
		width = max(1, fb.Width*height/fb.Height)
	case height == 0:
		height = max(1, fb.Height*width/fb.Width)
	}
	size := capability.Size{Width: width, Height: height}
	return size, size != fb
}

func (c *Console) writePNG(output string, img image.Image) error {
	var w io.Writer
	if output == "-" {
		w = c.app.stdout()
	} else {
		f, err := os.Create(output)
		if err != nil {
			return vnc.WrapError("snapshot", vnc.ErrConfiguration, "failed to create "+output, err)
		}
		defer f.Close()
		w = f
	}
	if err := png.Encode(w, img); err != nil {
		return vnc.WrapError("snapshot", vnc.ErrValidation, "failed to encode PNG", err)
	}
	if output != "-" {
		fmt.Fprintf(c.app.stderr(), "wrote %s (%dx%d)\n", output, img.Bounds().Dx(), img.Bounds().Dy())
	}
	return nil
}
