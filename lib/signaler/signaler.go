// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaler delivers OS signals to the supervised kernel process.
// Signal delivery is a side effect outside this process boundary, so it
// sits behind the narrow [Signaler] interface and tests substitute a
// fake instead of signaling real processes.
package signaler

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Signaler delivers a numeric signal to a process. Signum 0 is the
// conventional existence probe: no signal is sent, but delivery fails if
// the process is gone.
type Signaler interface {
	Signal(pid int, signum int) error
}

// DeliveryError reports a failed signal delivery, typically because the
// supervised process no longer exists. Callers log it and continue — the
// controller may retry or follow up with a shutdown request.
type DeliveryError struct {
	PID    int
	Signum int
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering signal %d to pid %d: %v", e.Signum, e.PID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// OS is the production Signaler: kill(2).
type OS struct{}

func (OS) Signal(pid int, signum int) error {
	if err := unix.Kill(pid, unix.Signal(signum)); err != nil {
		return &DeliveryError{PID: pid, Signum: signum, Err: err}
	}
	return nil
}

// ProcessGroup returns the process group id of pid, for recording in the
// connection descriptor so the controller can address the whole tree.
func ProcessGroup(pid int) (int, error) {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0, fmt.Errorf("looking up process group of pid %d: %w", pid, err)
	}
	return pgid, nil
}
