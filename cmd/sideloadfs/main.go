// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sideloadfs mounts a read-only filesystem exposing one package file
// whose bytes are fetched on demand from a producer, so a package
// larger than memory can be verified and installed straight from the
// mount. Every block is pinned by a fingerprint on first read;
// a producer that later returns different bytes turns reads into I/O
// errors instead of changed content.
//
// The package bytes come from either a local file (--package) or a
// remote host over a byte stream (--connect for a TCP address,
// --stream-fd for an inherited socket). A stat of the exit file
// inside the mount shuts the daemon down.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sideloadfs/lib/provider"
	"github.com/bureau-foundation/sideloadfs/lib/sideload"
	"github.com/bureau-foundation/sideloadfs/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
		logLevel    string

		mountpoint  string
		packageName string
		exitName    string

		packagePath string
		blockSize   uint32
		connectAddr string
		streamFD    int
	)

	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.StringVar(&configPath, "config", "", "YAML config file (flags override it)")
	pflag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pflag.StringVar(&mountpoint, "mountpoint", "", "directory to mount the filesystem on (required)")
	pflag.StringVar(&packageName, "package-name", "", "name of the virtual package file")
	pflag.StringVar(&exitName, "exit-name", "", "name of the virtual exit file")
	pflag.StringVar(&packagePath, "package", "", "serve blocks from this local package file")
	pflag.Uint32Var(&blockSize, "block-size", 65536, "transfer block size for --package")
	pflag.StringVar(&connectAddr, "connect", "", "serve blocks from a host at this TCP address")
	pflag.IntVar(&streamFD, "stream-fd", -1, "serve blocks from an inherited stream socket")
	pflag.Parse()

	if showVersion {
		fmt.Printf("sideloadfs %s\n", version.Info())
		return nil
	}

	config := defaultConfig()
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		config = loaded
	}
	flags := pflag.CommandLine
	if flags.Changed("mountpoint") {
		config.Mountpoint = mountpoint
	}
	if flags.Changed("package-name") {
		config.PackageName = packageName
	}
	if flags.Changed("exit-name") {
		config.ExitName = exitName
	}
	if flags.Changed("log-level") {
		config.LogLevel = logLevel
	}
	if flags.Changed("package") {
		config.Provider = ProviderConfig{Type: "file", Path: packagePath, BlockSize: config.Provider.BlockSize}
	}
	if flags.Changed("block-size") {
		config.Provider.BlockSize = blockSize
	}
	if flags.Changed("connect") {
		config.Provider = ProviderConfig{Type: "stream", Address: connectAddr}
	}
	if flags.Changed("stream-fd") {
		config.Provider = ProviderConfig{Type: "stream", StreamFD: streamFD}
	}

	if config.Mountpoint == "" {
		return fmt.Errorf("--mountpoint is required")
	}

	level, err := parseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	prov, err := buildProvider(config.Provider)
	if err != nil {
		return err
	}

	session, err := sideload.New(sideload.Options{
		Mountpoint:  config.Mountpoint,
		Provider:    prov,
		PackageName: config.PackageName,
		ExitName:    config.ExitName,
		Logger:      logger,
	})
	if err != nil {
		prov.Close()
		return err
	}

	return session.Run()
}

// buildProvider constructs the block source named by the config.
func buildProvider(config ProviderConfig) (provider.Provider, error) {
	switch config.Type {
	case "file":
		if config.Path == "" {
			return nil, fmt.Errorf("file provider requires a package path")
		}
		return provider.NewFile(config.Path, config.BlockSize)
	case "stream":
		switch {
		case config.Address != "":
			conn, err := net.Dial("tcp", config.Address)
			if err != nil {
				return nil, fmt.Errorf("connecting to host %s: %w", config.Address, err)
			}
			return provider.NewStream(conn)
		case config.StreamFD >= 0:
			return provider.NewStream(os.NewFile(uintptr(config.StreamFD), "stream"))
		default:
			return nil, fmt.Errorf("stream provider requires an address or an inherited fd")
		}
	case "":
		return nil, fmt.Errorf("no block source configured: use --package, --connect or --stream-fd")
	default:
		return nil, fmt.Errorf("unknown provider type %q", config.Type)
	}
}

func parseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
