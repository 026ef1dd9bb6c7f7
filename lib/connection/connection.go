// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

// Package connection builds, persists, and reads the kernel connection
// descriptor: the role-to-port mapping, messaging HMAC key, and identity
// fields the downstream messaging client needs to reach the kernel. The
// JSON field names are fixed by that client and must not change.
//
// The descriptor is built once per launch, augmented with the fields this
// launcher owns (pid, pgid, comm_port, kernel_id), written to the
// caller's connection file, and pushed to the controller. It is never
// reused.
package connection

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// PortCount is the number of messaging ports a kernel needs: shell,
// iopub, stdin, heartbeat, and control, in that order.
const PortCount = 5

// Info is the kernel connection descriptor.
type Info struct {
	ShellPort   int `json:"shell_port"`
	IOPubPort   int `json:"iopub_port"`
	StdinPort   int `json:"stdin_port"`
	HBPort      int `json:"hb_port"`
	ControlPort int `json:"control_port"`

	// IP is the bind address the kernel listens on. Always 0.0.0.0 for
	// remote launches — the controller connects from off-host.
	IP string `json:"ip"`

	// Key is the shared symmetric key for messaging-protocol signing.
	Key string `json:"key"`

	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name,omitempty"`

	// Fields below are appended by the launcher after the base
	// descriptor is built. The controller uses them for lifecycle
	// management rather than messaging.

	// PID and PGID identify the supervised kernel process.
	PID  int `json:"pid,omitempty"`
	PGID int `json:"pgid,omitempty"`

	// CommPort is the control listener's port, separate from the five
	// messaging ports.
	CommPort int `json:"comm_port,omitempty"`

	// KernelID is the controller's opaque correlation string for this
	// launch.
	KernelID string `json:"kernel_id,omitempty"`
}

// New builds a base descriptor from exactly PortCount allocated ports (in
// shell, iopub, stdin, heartbeat, control order) and a messaging key.
func New(ports []int, key string) (*Info, error) {
	if len(ports) != PortCount {
		return nil, fmt.Errorf("descriptor needs %d ports, got %d", PortCount, len(ports))
	}
	return &Info{
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		HBPort:          ports[3],
		ControlPort:     ports[4],
		IP:              "0.0.0.0",
		Key:             key,
		Transport:       "tcp",
		SignatureScheme: "hmac-sha256",
	}, nil
}

// NewKey generates a fresh messaging signing key. A UUID provides the 122
// bits of randomness the messaging protocol's HMAC scheme expects.
func NewKey() string {
	return uuid.NewString()
}

// Augment records the launcher-owned fields on the descriptor. Called
// once, after the control listener is bound and before the descriptor is
// written or pushed.
func (i *Info) Augment(pid, pgid, commPort int, kernelID string) {
	i.PID = pid
	i.PGID = pgid
	i.CommPort = commPort
	i.KernelID = kernelID
}

// Write persists the descriptor to path as JSON, atomically (temp file in
// the same directory, fsync, rename) so a collaborator reading the file
// from shared storage never sees a partial write. Mode 0600: the file
// contains the messaging key.
func (i *Info) Write(path string) error {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling connection info: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary connection file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary connection file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary connection file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary connection file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming connection file into place: %w", err)
	}
	return nil
}

// Read loads a descriptor from path. Unknown fields written by other
// collaborators are ignored, not rejected — the file format is an open
// JSON object that this subsystem only augments.
func Read(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading connection file: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing connection file %s: %w", path, err)
	}
	return &info, nil
}
