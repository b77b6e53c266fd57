package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
)

// Config holds the daemon configuration.
type Config struct {
	// ListenAddr is the TCP address serving 9P.
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr serves Prometheus metrics over HTTP. Empty disables
	// the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// Msize is the largest message size the server will negotiate.
	Msize uint32 `yaml:"msize"`

	// FidCapacity bounds live fids per session.
	FidCapacity int `yaml:"fid_capacity"`

	// Debug switches the logger to development output.
	Debug bool `yaml:"debug"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr: "0.0.0.0:564",
		Msize:      proto.DefaultMsize,
	}
}

// loadConfig reads the YAML config at path, overlaying defaults. A
// missing file (or empty path) yields the defaults with no error.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Msize != 0 && c.Msize <= proto.IOHeaderSize {
		return fmt.Errorf("msize %d leaves no room for payloads", c.Msize)
	}
	if c.Msize > proto.MaxMsize {
		return fmt.Errorf("msize %d exceeds maximum %d", c.Msize, proto.MaxMsize)
	}
	if c.FidCapacity < 0 {
		return fmt.Errorf("fid_capacity must not be negative")
	}
	return nil
}
