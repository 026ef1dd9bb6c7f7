// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package signaler

import (
	"errors"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestOS_SignalZeroSelf(t *testing.T) {
	// Signal 0 probes existence without delivering anything; the test
	// process certainly exists.
	if err := (OS{}).Signal(os.Getpid(), 0); err != nil {
		t.Errorf("Signal(self, 0) error: %v", err)
	}
}

func TestOS_SignalMissingProcess(t *testing.T) {
	// Probe for an unused pid. Linux pids are bounded well below this.
	const missingPID = 1 << 22
	err := (OS{}).Signal(missingPID, 0)
	if err == nil {
		t.Fatalf("Signal(%d, 0) succeeded against a missing process", missingPID)
	}

	var delivery *DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("error = %v, want *DeliveryError", err)
	}
	if delivery.PID != missingPID {
		t.Errorf("DeliveryError.PID = %d, want %d", delivery.PID, missingPID)
	}
	if !errors.Is(err, unix.ESRCH) {
		t.Errorf("error does not unwrap to ESRCH: %v", err)
	}
}

func TestProcessGroup_Self(t *testing.T) {
	pgid, err := ProcessGroup(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessGroup(self) error: %v", err)
	}
	if pgid <= 0 {
		t.Errorf("ProcessGroup(self) = %d, want a positive pgid", pgid)
	}
}
