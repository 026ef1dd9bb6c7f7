// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gateway-experiments/gateway-provisioners/comm"
	"github.com/gateway-experiments/gateway-provisioners/lib/portalloc"
)

// listenerConfig holds the tunables a deployment sets once and most
// launches inherit. Flags override the config file, which overrides the
// environment. There is no automatic file discovery — the file is used
// only when --config names it.
type listenerConfig struct {
	// PortRange restricts every allocated port. Both bounds zero means
	// unrestricted.
	PortRange struct {
		Lower int `yaml:"lower"`
		Upper int `yaml:"upper"`
	} `yaml:"port_range"`

	// MaxPortRetries bounds bind retries per port.
	MaxPortRetries int `yaml:"max_port_retries"`

	// ClusterProfile tags the workload ("spark" enables the interrupt
	// accommodation).
	ClusterProfile string `yaml:"cluster_profile"`

	// AcceptTimeout is the control listener's accept deadline, as a
	// Go duration string ("5s"). Empty means the built-in default.
	AcceptTimeout string `yaml:"accept_timeout"`
}

func defaultConfig() listenerConfig {
	return listenerConfig{
		MaxPortRetries: portalloc.DefaultMaxRetries,
		ClusterProfile: string(comm.ProfileNone),
	}
}

// loadConfig reads and validates a YAML config file.
func loadConfig(path string) (listenerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return listenerConfig{}, fmt.Errorf("reading config file: %w", err)
	}
	var config listenerConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return listenerConfig{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if config.AcceptTimeout != "" {
		if _, err := time.ParseDuration(config.AcceptTimeout); err != nil {
			return listenerConfig{}, fmt.Errorf("invalid accept_timeout in %s: %w", path, err)
		}
	}
	return config, nil
}

// merged returns the receiver with every field the loaded file set
// overriding the receiver's value.
func (c listenerConfig) merged(loaded listenerConfig) listenerConfig {
	result := c
	if loaded.PortRange.Lower != 0 || loaded.PortRange.Upper != 0 {
		result.PortRange = loaded.PortRange
	}
	if loaded.MaxPortRetries != 0 {
		result.MaxPortRetries = loaded.MaxPortRetries
	}
	if loaded.ClusterProfile != "" {
		result.ClusterProfile = loaded.ClusterProfile
	}
	if loaded.AcceptTimeout != "" {
		result.AcceptTimeout = loaded.AcceptTimeout
	}
	return result
}

// applyEnvironment folds in the environment-level tuning the launch
// scripts have always honored. Only fields still at their defaults are
// touched, keeping the flag > file > environment precedence.
func (c *listenerConfig) applyEnvironment(environ []string) {
	if c.MaxPortRetries == portalloc.DefaultMaxRetries {
		if retries, ok := environmentInt(environ, "MAX_PORT_RANGE_RETRIES"); ok && retries > 0 {
			c.MaxPortRetries = retries
		}
	}
}

// acceptTimeout returns the parsed accept deadline, or zero to select
// the listener's default.
func (c listenerConfig) acceptTimeout() time.Duration {
	if c.AcceptTimeout == "" {
		return 0
	}
	// Validated at load time.
	timeout, _ := time.ParseDuration(c.AcceptTimeout)
	return timeout
}
