/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kentakayama/uptane-secondary/internal/agent"
	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"github.com/pelletier/go-toml"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// update agent backends
const (
	PacmanNone   = "none"
	PacmanOSTree = "ostree"
)

type Network struct {
	Port    int    `toml:"port"`
	Bind    string `toml:"bind"`
	Timeout string `toml:"timeout"`
}

type Uptane struct {
	ECUSerial     string `toml:"ecu_serial"`
	ECUHardwareID string `toml:"ecu_hardware_id"`
	KeyType       string `toml:"key_type"`
}

type Storage struct {
	Path      string `toml:"path"`
	SQLDBPath string `toml:"sqldb_path"`
}

type Pacman struct {
	Type           string `toml:"type"`
	OS             string `toml:"os"`
	Sysroot        string `toml:"sysroot"`
	OSTreeServer   string `toml:"ostree_server"`
	TargetName     string `toml:"target_name"`
	TargetFilepath string `toml:"target_filepath"`
}

type Import struct {
	BasePath string `toml:"base_path"`
}

type Logging struct {
	// LogLevel runs from 0 (trace) to 5 (fatal).
	LogLevel int `toml:"loglevel"`
}

// Config captures the tunables required to start the secondary.
type Config struct {
	Network Network `toml:"network"`
	Uptane  Uptane  `toml:"uptane"`
	Storage Storage `toml:"storage"`
	Pacman  Pacman  `toml:"pacman"`
	Import  Import  `toml:"import"`
	Logging Logging `toml:"logger"`

	Logger logging.Logger `toml:"-"`
}

// defaults are applied to keys absent from the file
var defaults = []struct {
	key   string
	apply func(*Config)
}{
	{"network.port", func(c *Config) { c.Network.Port = 9030 }},
	{"network.bind", func(c *Config) { c.Network.Bind = "0.0.0.0" }},
	{"network.timeout", func(c *Config) { c.Network.Timeout = "10s" }},
	{"uptane.key_type", func(c *Config) { c.Uptane.KeyType = uptane.KeyTypeED25519.String() }},
	{"storage.path", func(c *Config) { c.Storage.Path = "/var/sota" }},
	{"storage.sqldb_path", func(c *Config) { c.Storage.SQLDBPath = "sql.db" }},
	{"pacman.type", func(c *Config) { c.Pacman.Type = PacmanNone }},
	{"pacman.target_name", func(c *Config) { c.Pacman.TargetName = agent.DefaultTargetName }},
	{"logger.loglevel", func(c *Config) { c.Logging.LogLevel = 2 }},
}

func (c *Config) applyDefaults(has func(key string) bool) {
	for _, d := range defaults {
		if !has(d.key) {
			d.apply(c)
		}
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults(func(string) bool { return false })
	return c
}

// Load reads a TOML file. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes TOML, fills in defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c := &Config{}
	if err := tree.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.applyDefaults(tree.Has)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return fmt.Errorf("%w: network.port %d", ErrInvalidConfig, c.Network.Port)
	}
	if _, err := c.Timeout(); err != nil {
		return fmt.Errorf("%w: network.timeout: %v", ErrInvalidConfig, err)
	}
	if _, err := c.KeyType(); err != nil {
		return fmt.Errorf("%w: uptane.key_type: %v", ErrInvalidConfig, err)
	}
	switch c.Pacman.Type {
	case PacmanNone, PacmanOSTree:
	default:
		return fmt.Errorf("%w: pacman.type %q", ErrInvalidConfig, c.Pacman.Type)
	}
	if c.Logging.LogLevel < 0 || c.Logging.LogLevel > 5 {
		return fmt.Errorf("%w: logger.loglevel %d", ErrInvalidConfig, c.Logging.LogLevel)
	}
	return nil
}

// ListenAddr is the address the RPC server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Network.Bind, c.Network.Port)
}

func (c *Config) Timeout() (time.Duration, error) {
	return time.ParseDuration(c.Network.Timeout)
}

// KeyType accepts ED25519 and ECDSA_P256, the key types that can be
// generated.
func (c *Config) KeyType() (uptane.KeyType, error) {
	kt, err := uptane.ParseKeyType(c.Uptane.KeyType)
	if err != nil {
		return kt, err
	}
	if kt != uptane.KeyTypeED25519 && kt != uptane.KeyTypeECDSAP256 {
		return uptane.KeyTypeUnknown, fmt.Errorf("%w: %s cannot be generated", uptane.ErrUnknownKeyType, kt)
	}
	return kt, nil
}

// SQLDBPath resolves a relative database path under storage.path.
func (c *Config) SQLDBPath() string {
	return c.resolve(c.Storage.SQLDBPath)
}

// TargetFilepath defaults to firmware.bin under storage.path.
func (c *Config) TargetFilepath() string {
	if c.Pacman.TargetFilepath == "" {
		return filepath.Join(c.Storage.Path, "firmware.bin")
	}
	return c.resolve(c.Pacman.TargetFilepath)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(c.Storage.Path, p)
}
