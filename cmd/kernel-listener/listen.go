// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/gateway-experiments/gateway-provisioners/comm"
	"github.com/gateway-experiments/gateway-provisioners/lib/portalloc"
)

// listenCmd parses the listen flags, merges them with the optional config
// file and environment tuning, and runs the handshake plus control loop
// on the calling goroutine. It blocks until the controller requests
// shutdown.
func listenCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	connectionFile := flags.String("connection-file", "", "path the augmented connection descriptor is written to")
	responseAddress := flags.String("response-address", "", "controller callback address (host:port); malformed selects pull mode")
	publicKey := flags.String("public-key", "", "controller public key (base64 DER RSA or age1... recipient)")
	kernelID := flags.String("kernel-id", "", "controller's correlation id for this launch")
	parentPID := flags.Int("parent-pid", 0, "pid of the supervised kernel process")
	lowerPort := flags.Int("lower-port", 0, "inclusive lower bound of the restricted port range (0 = unrestricted)")
	upperPort := flags.Int("upper-port", 0, "inclusive upper bound of the restricted port range (0 = unrestricted)")
	maxPortRetries := flags.Int("max-port-retries", 0, "bind retries per port (default from MAX_PORT_RANGE_RETRIES)")
	clusterProfile := flags.String("cluster-profile", "", "workload profile; \"spark\" enables the interrupt accommodation")
	configPath := flags.String("config", "", "optional YAML config file with defaults for the flags above")

	if err := flags.Parse(args); err != nil {
		return err
	}

	config := defaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		config = config.merged(loaded)
	}
	config.applyEnvironment(os.Environ())

	// Flags win over the config file, which wins over the environment.
	if flags.Changed("lower-port") || flags.Changed("upper-port") {
		config.PortRange.Lower = *lowerPort
		config.PortRange.Upper = *upperPort
	}
	if flags.Changed("max-port-retries") {
		config.MaxPortRetries = *maxPortRetries
	}
	if flags.Changed("cluster-profile") {
		config.ClusterProfile = *clusterProfile
	}

	params := comm.Params{
		ConnectionFile:  *connectionFile,
		ResponseAddress: *responseAddress,
		PublicKey:       *publicKey,
		KernelID:        *kernelID,
		SupervisedPID:   *parentPID,
		PortRange:       portalloc.Range(config.PortRange),
		MaxPortRetries:  config.MaxPortRetries,
		Profile:         comm.Profile(config.ClusterProfile),
		Mode:            comm.ModeGoroutine,
		AcceptTimeout:   config.acceptTimeout(),
		Logger:          logger,
	}
	return comm.Run(context.Background(), params)
}

// environmentInt reads an integer from a KEY=value environment slice.
// Returns (0, false) when the key is absent or not numeric.
func environmentInt(environ []string, key string) (int, bool) {
	prefix := key + "="
	for _, entry := range environ {
		if len(entry) > len(prefix) && entry[:len(prefix)] == prefix {
			value, err := strconv.Atoi(entry[len(prefix):])
			if err != nil {
				return 0, false
			}
			return value, true
		}
	}
	return 0, false
}
