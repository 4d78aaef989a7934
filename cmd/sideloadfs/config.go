// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Every field has a matching
// flag; flags given on the command line override the file.
type Config struct {
	// Mountpoint is the directory the filesystem is mounted on.
	Mountpoint string `yaml:"mountpoint"`

	// PackageName is the name of the virtual package file. Empty
	// uses the built-in default.
	PackageName string `yaml:"package_name"`

	// ExitName is the name of the virtual exit file. Empty uses the
	// built-in default.
	ExitName string `yaml:"exit_name"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Provider selects and configures the block source.
	Provider ProviderConfig `yaml:"provider"`
}

// ProviderConfig names a block source.
type ProviderConfig struct {
	// Type is "file" or "stream".
	Type string `yaml:"type"`

	// Path is the local package file for the file provider.
	Path string `yaml:"path"`

	// BlockSize is the transfer block size for the file provider.
	// The stream provider learns its block size from the host.
	BlockSize uint32 `yaml:"block_size"`

	// Address is a TCP host:port for the stream provider.
	Address string `yaml:"address"`

	// StreamFD is an inherited socket descriptor for the stream
	// provider. Negative means unset.
	StreamFD int `yaml:"stream_fd"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Provider: ProviderConfig{
			BlockSize: 65536,
			StreamFD:  -1,
		},
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return config, nil
}
