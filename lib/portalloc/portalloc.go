// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

// Package portalloc selects free TCP ports, optionally constrained to an
// inclusive port range handed down by the resource manager that launched
// the kernel. Candidate ports are probed by actually binding a listening
// socket: a successful bind is the only authoritative answer to "is this
// port free". Probe sockets for a multi-port selection are all held open
// until the full set is chosen, so one call can never hand out the same
// just-freed port twice. The caller re-binds the returned ports itself —
// there is a narrow window in which another process can win the re-bind
// race, accepted by design of the launch protocol.
package portalloc

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/jpillora/backoff"
)

// DefaultMaxRetries is the bind retry bound used when the caller does not
// override it (the MAX_PORT_RANGE_RETRIES environment default).
const DefaultMaxRetries = 5

// Range is an inclusive TCP port range. The zero value (both bounds zero)
// means unrestricted: candidates are bound to port 0 and the operating
// system picks any free ephemeral port.
type Range struct {
	Lower int
	Upper int
}

// Unrestricted reports whether the range places no constraint on port
// selection.
func (r Range) Unrestricted() bool {
	return r.Lower == 0 && r.Upper == 0
}

// Size returns the number of ports in the range. Zero for an
// unrestricted range.
func (r Range) Size() int {
	if r.Unrestricted() {
		return 0
	}
	return r.Upper - r.Lower + 1
}

// Validate checks the range invariants: bounds within the TCP port space
// and lower <= upper when restricted.
func (r Range) Validate() error {
	if r.Unrestricted() {
		return nil
	}
	if r.Lower < 1 || r.Upper > 65535 {
		return fmt.Errorf("port range %s outside 1..65535", r)
	}
	if r.Lower > r.Upper {
		return fmt.Errorf("port range lower bound %d exceeds upper bound %d", r.Lower, r.Upper)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.Lower, r.Upper)
}

// RangeExhaustedError is returned when no free port could be bound within
// the range after the configured number of retries. Fatal to the launch:
// the kernel cannot report coordinates it does not have.
type RangeExhaustedError struct {
	// Range is the port range that was exhausted.
	Range Range

	// Attempts is the total number of bind attempts made (the retry
	// bound plus the initial attempt).
	Attempts int
}

func (e *RangeExhaustedError) Error() string {
	return fmt.Sprintf("failed to locate a free port within range %s after %d attempts", e.Range, e.Attempts)
}

// Allocator selects free ports within a Range. The zero value is not
// usable; construct with New.
type Allocator struct {
	portRange  Range
	maxRetries int
	logger     *slog.Logger
}

// New creates an Allocator for the given range. maxRetries bounds how many
// additional bind attempts follow a failed one before the allocator gives
// up (so an allocation makes at most maxRetries+1 attempts). A
// non-positive maxRetries falls back to DefaultMaxRetries.
func New(portRange Range, maxRetries int, logger *slog.Logger) (*Allocator, error) {
	if err := portRange.Validate(); err != nil {
		return nil, err
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Allocator{
		portRange:  portRange,
		maxRetries: maxRetries,
		logger:     logger,
	}, nil
}

// SelectPorts returns count distinct free ports within the allocator's
// range. Every probe socket stays open until all count ports are chosen,
// then all are closed. The ports are free at return time but not
// reserved — the caller is expected to bind them promptly.
func (a *Allocator) SelectPorts(count int) ([]int, error) {
	listeners := make([]*net.TCPListener, 0, count)
	defer func() {
		for _, listener := range listeners {
			listener.Close()
		}
	}()

	ports := make([]int, 0, count)
	for len(ports) < count {
		listener, err := a.Listen()
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, listener)
		ports = append(ports, listener.Addr().(*net.TCPAddr).Port)
	}
	return ports, nil
}

// SelectPort returns a single free port within the allocator's range.
func (a *Allocator) SelectPort() (int, error) {
	ports, err := a.SelectPorts(1)
	if err != nil {
		return 0, err
	}
	return ports[0], nil
}

// Listen binds and returns a listening socket on a free port within the
// allocator's range. Unlike SelectPorts, the socket is handed to the
// caller still bound — this is how the control listener acquires its port
// without a re-bind race. Bind attempts are paced with a short jittered
// backoff so a busy restricted range is not hammered.
func (a *Allocator) Listen() (*net.TCPListener, error) {
	retry := &backoff.Backoff{
		Min:    10 * time.Millisecond,
		Max:    250 * time.Millisecond,
		Jitter: true,
	}

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retry.Duration())
		}
		candidate := a.candidatePort()
		listener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4zero, Port: candidate})
		if err != nil {
			a.logger.Debug("candidate port bind failed",
				"port", candidate,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		return listener, nil
	}
	return nil, &RangeExhaustedError{Range: a.portRange, Attempts: a.maxRetries + 1}
}

// candidatePort picks a pseudo-random port inside the range, or 0
// (OS-assigned) when the range is unrestricted.
func (a *Allocator) candidatePort() int {
	if a.portRange.Unrestricted() {
		return 0
	}
	if a.portRange.Lower == a.portRange.Upper {
		return a.portRange.Lower
	}
	return a.portRange.Lower + rand.IntN(a.portRange.Size())
}
