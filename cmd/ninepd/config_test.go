package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ninepd.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr == "" {
		t.Error("default listen_addr empty")
	}
	if cfg.Msize != proto.DefaultMsize {
		t.Errorf("default msize = %d, want %d", cfg.Msize, proto.DefaultMsize)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != defaultConfig().ListenAddr {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "127.0.0.1:5640"
metrics_addr: "127.0.0.1:9090"
msize: 16384
fid_capacity: 256
debug: true
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:5640" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.MetricsAddr != "127.0.0.1:9090" {
		t.Errorf("metrics_addr = %q", cfg.MetricsAddr)
	}
	if cfg.Msize != 16384 {
		t.Errorf("msize = %d", cfg.Msize)
	}
	if cfg.FidCapacity != 256 {
		t.Errorf("fid_capacity = %d", cfg.FidCapacity)
	}
	if !cfg.Debug {
		t.Error("debug not set")
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty listen", `listen_addr: ""`},
		{"tiny msize", "msize: 8"},
		{"huge msize", "msize: 99999999"},
		{"negative fids", "fid_capacity: -1"},
		{"bad yaml", ":\n  - ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tc.content)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}
