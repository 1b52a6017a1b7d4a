// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted by Load.
const EnvVar = "PEERLINK_CONFIG"

// Config is the master configuration for peerlink binaries.
type Config struct {
	// DefaultMode is the messaging mode used when storage holds no
	// preference yet. One of "udp", "progressive", "websocket", "push".
	DefaultMode string `yaml:"default_mode"`

	// Endpoints configures the per-tier connection targets. An empty
	// URL leaves that tier unconfigured; the progressive chain skips
	// unconfigured tiers silently.
	Endpoints Endpoints `yaml:"endpoints"`

	// ICE lists STUN/TURN servers for WebRTC candidate gathering.
	ICE ICE `yaml:"ice"`

	// Storage selects where handshake snapshots and the mode
	// preference persist.
	Storage Storage `yaml:"storage"`
}

// Endpoints holds the connection targets for each transport tier.
type Endpoints struct {
	// WebSocketURL is the ws:// or wss:// endpoint for websocket mode
	// and the final progressive tier.
	WebSocketURL string `yaml:"websocket_url"`

	// WebTransportURL is the https:// endpoint for udp mode and the
	// middle progressive tier.
	WebTransportURL string `yaml:"webtransport_url"`

	// PushBaseURL is the base URL of the push relay (see
	// cmd/peerlink-relay for the served contract).
	PushBaseURL string `yaml:"push_base_url"`

	// PushToken is sent as a bearer token on push relay requests.
	PushToken string `yaml:"push_token"`
}

// ICE holds WebRTC ICE server configuration.
type ICE struct {
	Servers []ICEServer `yaml:"servers"`
}

// ICEServer is one STUN or TURN entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// Storage selects a persistence backend.
type Storage struct {
	// Backend is "memory", "file", or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the directory (file backend) or database file (sqlite
	// backend). Ignored for memory.
	Path string `yaml:"path"`
}

// Default returns a configuration for local experiments: progressive
// mode, no endpoints, memory storage.
func Default() *Config {
	return &Config{
		DefaultMode: "progressive",
		Storage:     Storage{Backend: "memory"},
	}
}

// Load reads the file named by the PEERLINK_CONFIG environment
// variable.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("config: %s is not set", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads and validates a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

var validModes = map[string]bool{
	"udp":         true,
	"progressive": true,
	"websocket":   true,
	"push":        true,
}

var validBackends = map[string]bool{
	"memory": true,
	"file":   true,
	"sqlite": true,
}

// Validate checks mode and backend names and backend/path coherence.
func (c *Config) Validate() error {
	if !validModes[c.DefaultMode] {
		return fmt.Errorf("unknown default_mode %q", c.DefaultMode)
	}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.Path == "" {
		return fmt.Errorf("storage backend %q requires a path", c.Storage.Backend)
	}
	return nil
}
