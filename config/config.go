// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package config loads the AnyVNC YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/backend"
	"github.com/tenthirtyam/anyvnc/connection"
	"github.com/tenthirtyam/anyvnc/server"
)

// FileName is the configuration file looked up next to the executable.
const FileName = "anyvnc.yaml"

// Duration is a time.Duration written as a Go duration string ("100ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// WebSocket configures the listener for browser viewers.
type WebSocket struct {
	Enabled        bool     `yaml:"enabled"`
	Address        string   `yaml:"address"`
	Path           string   `yaml:"path"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Server configures the VNC server.
type Server struct {
	Port        int       `yaml:"port"`
	ListenHost  string    `yaml:"listen_host,omitempty"`
	Password    string    `yaml:"password"`
	DesktopName string    `yaml:"desktop_name"`
	IdleTimeout Duration  `yaml:"idle_timeout"`
	BusyTimeout Duration  `yaml:"busy_timeout"`
	WebSocket   WebSocket `yaml:"websocket"`
}

// Plugins configures plugin discovery and selection. Empty UIDs let the
// loader choose.
type Plugins struct {
	Dir            string `yaml:"dir"`
	Watch          bool   `yaml:"watch"`
	Framebuffer    string `yaml:"framebuffer"`
	Keyboard       string `yaml:"keyboard"`
	PointingDevice string `yaml:"pointing_device"`
	Clipboard      string `yaml:"clipboard"`
	Backend        string `yaml:"backend"`
	UserInterface  string `yaml:"user_interface"`
}

// Viewer configures outgoing connections.
type Viewer struct {
	Port           int      `yaml:"port"`
	Password       string   `yaml:"password,omitempty"`
	Quality        string   `yaml:"quality"`
	UpdateInterval Duration `yaml:"update_interval"`
	RetryInterval  Duration `yaml:"retry_interval"`
}

// Log selects the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the whole configuration file.
type Config struct {
	Server  Server  `yaml:"server"`
	Plugins Plugins `yaml:"plugins"`
	Viewer  Viewer  `yaml:"viewer"`
	Log     Log     `yaml:"log"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:        server.DefaultPort,
			DesktopName: vnc.DefaultDesktopName,
			IdleTimeout: Duration(server.IdleTimeout),
			BusyTimeout: Duration(server.NonIdleTimeout),
			WebSocket: WebSocket{
				Address: ":5800",
				Path:    "/websockify",
			},
		},
		Plugins: Plugins{
			Dir:   "plugins",
			Watch: true,
		},
		Viewer: Viewer{
			Port:          connection.DefaultPort,
			Quality:       connection.QualityDefault.String(),
			RetryInterval: Duration(connection.ConnectionRetryInterval),
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, vnc.WrapError("config.Load", vnc.ErrConfiguration, "failed to read "+path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, vnc.WrapError("config.Load", vnc.ErrConfiguration, "invalid configuration in "+path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write encodes cfg as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Validate checks ranges, plugin UIDs and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if err := checkPort("server.port", c.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if err := checkPort("viewer.port", c.Viewer.Port); err != nil {
		errs = append(errs, err)
	}
	if c.Server.IdleTimeout < 0 || c.Server.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("server timeouts must not be negative"))
	}
	if c.Viewer.UpdateInterval < 0 || c.Viewer.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("viewer intervals must not be negative"))
	}
	for _, slot := range []struct{ name, value string }{
		{"plugins.framebuffer", c.Plugins.Framebuffer},
		{"plugins.keyboard", c.Plugins.Keyboard},
		{"plugins.pointing_device", c.Plugins.PointingDevice},
		{"plugins.clipboard", c.Plugins.Clipboard},
		{"plugins.backend", c.Plugins.Backend},
		{"plugins.user_interface", c.Plugins.UserInterface},
	} {
		if _, err := parseUID(slot.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", slot.name, err))
		}
	}
	if _, err := connection.ParseQuality(c.Viewer.Quality); err != nil {
		errs = append(errs, fmt.Errorf("viewer.quality: %w", err))
	}
	if _, err := vnc.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return vnc.NewVNCError("config.Validate", vnc.ErrValidation, "invalid configuration", errors.Join(errs...))
	}
	return nil
}

func checkPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: port %d out of range 1-65535", name, port)
	}
	return nil
}

func parseUID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// PluginDir resolves Plugins.Dir; relative paths are taken from the
// directory of the running executable.
func (c *Config) PluginDir() string {
	dir := c.Plugins.Dir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return dir
	}
	return filepath.Join(filepath.Dir(exe), dir)
}

// UserInterfaceUID returns the configured UserInterface plugin, or uuid.Nil.
func (c *Config) UserInterfaceUID() uuid.UUID {
	uid, _ := parseUID(c.Plugins.UserInterface)
	return uid
}

// ServerConfig converts the server section for server.New and server.NewRunner.
func (c *Config) ServerConfig(logger vnc.Logger) server.Config {
	uid := func(s string) uuid.UUID {
		u, _ := parseUID(s)
		return u
	}
	return server.Config{
		Port:        c.Server.Port,
		Password:    c.Server.Password,
		DesktopName: c.Server.DesktopName,
		UIDs: server.UIDs{
			Framebuffer:    uid(c.Plugins.Framebuffer),
			Keyboard:       uid(c.Plugins.Keyboard),
			PointingDevice: uid(c.Plugins.PointingDevice),
			Clipboard:      uid(c.Plugins.Clipboard),
			Backend:        uid(c.Plugins.Backend),
		},
		IdleTimeout:    time.Duration(c.Server.IdleTimeout),
		NonIdleTimeout: time.Duration(c.Server.BusyTimeout),
		Logger:         logger,
	}
}

// BackendOptions converts the listener settings for the RFB backend.
func (c *Config) BackendOptions() backend.Options {
	opts := backend.Options{ListenHost: c.Server.ListenHost}
	if c.Server.WebSocket.Enabled {
		opts.WebSocketAddress = c.Server.WebSocket.Address
		opts.WebSocketPath = c.Server.WebSocket.Path
		opts.AllowedOrigins = c.Server.WebSocket.AllowedOrigins
	}
	return opts
}

// ConnectionConfig converts the viewer section for connection.New.
func (c *Config) ConnectionConfig(host string, logger vnc.Logger) connection.Config {
	quality, _ := connection.ParseQuality(c.Viewer.Quality)
	return connection.Config{
		Host:           host,
		Port:           c.Viewer.Port,
		Password:       c.Viewer.Password,
		Quality:        quality,
		UpdateInterval: time.Duration(c.Viewer.UpdateInterval),
		RetryInterval:  time.Duration(c.Viewer.RetryInterval),
		Logger:         logger,
	}
}

// NewLogger builds the logger selected by the log section, writing to w.
func (l Log) NewLogger(w io.Writer) vnc.Logger {
	level, err := vnc.ParseLevel(l.Level)
	if err != nil {
		level = vnc.LevelInfo
	}
	if l.Format == "json" {
		handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: vnc.SlogLevel(level)})
		return vnc.NewSlogLogger(slog.New(handler))
	}
	return &vnc.StandardLogger{Logger: log.New(w, "anyvnc: ", log.LstdFlags), Level: level}
}
