// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

// kernel-listener runs the bootstrap handshake and control channel for a
// remotely launched kernel: it allocates the kernel's messaging ports,
// pushes the encrypted connection descriptor to the controller, and then
// relays the controller's signal and shutdown requests to the kernel
// process.
//
// Usage:
//
//	kernel-listener listen [flags]
//	kernel-listener version
//
// "listen" blocks until the controller requests shutdown. A resource
// manager (or comm.Start in process mode) runs it alongside the kernel
// it supervises.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/gateway-experiments/gateway-provisioners/lib/process"
)

const launcherVersion = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevelFromEnvironment(),
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "listen":
		err = listenCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("kernel-listener %s\n", launcherVersion)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		process.Fatal(err)
	}
}

// logLevelFromEnvironment maps LOG_LEVEL to a slog level. Accepts level
// names and, for compatibility with launch scripts in the field, the
// numeric levels of the original launcher (10 debug, 20 info, 30 warn,
// 40+ error). Unset or unparseable means info.
func logLevelFromEnvironment() slog.Level {
	value := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	switch strings.ToLower(value) {
	case "":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if numeric, err := strconv.Atoi(value); err == nil {
		switch {
		case numeric <= 10:
			return slog.LevelDebug
		case numeric <= 20:
			return slog.LevelInfo
		case numeric <= 30:
			return slog.LevelWarn
		default:
			return slog.LevelError
		}
	}
	return slog.LevelInfo
}

func printUsage() {
	fmt.Print(`kernel-listener - Bootstrap handshake and control channel for remote kernels

USAGE
    kernel-listener <command> [flags]

COMMANDS
    listen        Allocate ports, push connection info, serve control requests
    version       Show version

EXAMPLES
    # Push the descriptor to the controller and serve control requests
    kernel-listener listen --connection-file=/tmp/kernel.json \
        --response-address=gateway.example.com:8877 \
        --public-key="$KERNEL_PUBLIC_KEY" \
        --kernel-id=4f0dd8b2 --parent-pid=$$

    # Restrict all allocated ports to a firewall-friendly range
    kernel-listener listen --lower-port=47000 --upper-port=47999 ...

ENVIRONMENT
    MAX_PORT_RANGE_RETRIES  Bind retries per port before giving up (default 5)
    LOG_LEVEL               debug|info|warn|error, or numeric (10, 20, 30, 40)
`)
}
