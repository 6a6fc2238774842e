// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/connection"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5900 || cfg.Server.DesktopName != "AnyVNC" {
		t.Errorf("server = %+v, want port 5900 and desktop AnyVNC", cfg.Server)
	}
	if time.Duration(cfg.Server.IdleTimeout) != 100*time.Millisecond {
		t.Errorf("idle_timeout = %v, want 100ms", time.Duration(cfg.Server.IdleTimeout))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 5901
  password: secret
  busy_timeout: 2ms
  websocket:
    enabled: true
plugins:
  framebuffer: 379e2a94-767f-4785-b6bc-63064a43b8b0
viewer:
  quality: thumbnail
  update_interval: 250ms
log:
  format: json
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	srv := cfg.ServerConfig(nil)
	if srv.Port != 5901 || srv.Password != "secret" || srv.NonIdleTimeout != 2*time.Millisecond {
		t.Errorf("ServerConfig() = %+v", srv)
	}
	if srv.IdleTimeout != 100*time.Millisecond {
		t.Errorf("IdleTimeout = %v, want the default 100ms", srv.IdleTimeout)
	}
	if srv.UIDs.Framebuffer.String() != "379e2a94-767f-4785-b6bc-63064a43b8b0" {
		t.Errorf("UIDs.Framebuffer = %v", srv.UIDs.Framebuffer)
	}

	opts := cfg.BackendOptions()
	if opts.WebSocketAddress != ":5800" || opts.WebSocketPath != "/websockify" {
		t.Errorf("BackendOptions() = %+v", opts)
	}

	conn := cfg.ConnectionConfig("desk", nil)
	if conn.Quality != connection.QualityThumbnail || conn.UpdateInterval != 250*time.Millisecond || conn.Port != 5900 {
		t.Errorf("ConnectionConfig() = %+v", conn)
	}
	if _, ok := cfg.Log.NewLogger(&bytes.Buffer{}).(*vnc.SlogLogger); !ok {
		t.Error("json format did not select the slog logger")
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"port range", "server:\n  port: 70000\n", "server.port"},
		{"viewer port", "viewer:\n  port: 0\n", "viewer.port"},
		{"uid", "plugins:\n  keyboard: not-a-uuid\n", "plugins.keyboard"},
		{"quality", "viewer:\n  quality: blurry\n", "viewer.quality"},
		{"level", "log:\n  level: loud\n", "log.level"},
		{"format", "log:\n  format: xml\n", "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !vnc.IsVNCError(err, vnc.ErrValidation) {
				t.Fatalf("Parse() error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not name %s", err, tt.want)
			}
		})
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("server:\n  idle_timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("Parse() error = %v, want an invalid duration error", err)
	}
}

func TestConfig_WriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), "idle_timeout: 100ms") {
		t.Errorf("Write() output lacks a duration string:\n%s", buf.String())
	}
	cfg, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse(Write()) error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("round trip changed the configuration: %+v", cfg)
	}
}

func TestLoad_ReadError(t *testing.T) {
	_, err := Load(t.TempDir())
	if !vnc.IsVNCError(err, vnc.ErrConfiguration) {
		t.Fatalf("Load(dir) error = %v, want ErrConfiguration", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("server:\n  port: 5901\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, 20*time.Millisecond, nil, func(cfg *Config, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("server:\n  port: 5902\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 5902 {
			t.Errorf("reloaded port = %d, want 5902", cfg.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reload")
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
