// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package portalloc

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRangeValidate(t *testing.T) {
	tests := []struct {
		name      string
		portRange Range
		wantError bool
	}{
		{"unrestricted", Range{}, false},
		{"valid", Range{Lower: 40000, Upper: 41000}, false},
		{"single port", Range{Lower: 40000, Upper: 40000}, false},
		{"inverted", Range{Lower: 41000, Upper: 40000}, true},
		{"below port space", Range{Lower: 0, Upper: 41000}, true},
		{"above port space", Range{Lower: 40000, Upper: 70000}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.portRange.Validate()
			if (err != nil) != test.wantError {
				t.Errorf("Validate(%v) error = %v, wantError %v", test.portRange, err, test.wantError)
			}
		})
	}
}

func TestSelectPorts_Unrestricted(t *testing.T) {
	allocator, err := New(Range{}, 0, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ports, err := allocator.SelectPorts(5)
	if err != nil {
		t.Fatalf("SelectPorts(5) error: %v", err)
	}
	if len(ports) != 5 {
		t.Fatalf("SelectPorts(5) returned %d ports", len(ports))
	}

	seen := make(map[int]bool)
	for _, port := range ports {
		if port <= 0 || port > 65535 {
			t.Errorf("port %d outside port space", port)
		}
		if seen[port] {
			t.Errorf("port %d returned twice", port)
		}
		seen[port] = true
	}
}

func TestSelectPorts_Restricted(t *testing.T) {
	// A wide high range keeps collision-driven retries unlikely while
	// still exercising the range constraint.
	portRange := Range{Lower: 47000, Upper: 47999}
	allocator, err := New(portRange, 20, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ports, err := allocator.SelectPorts(5)
	if err != nil {
		t.Fatalf("SelectPorts(5) error: %v", err)
	}

	seen := make(map[int]bool)
	for _, port := range ports {
		if port < portRange.Lower || port > portRange.Upper {
			t.Errorf("port %d outside range %s", port, portRange)
		}
		if seen[port] {
			t.Errorf("port %d returned twice", port)
		}
		seen[port] = true
	}
}

func TestSelectPorts_PortsFreeOnReturn(t *testing.T) {
	allocator, err := New(Range{}, 0, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ports, err := allocator.SelectPorts(3)
	if err != nil {
		t.Fatalf("SelectPorts(3) error: %v", err)
	}

	// The probe sockets are closed before return, so every port must be
	// re-bindable by the caller.
	for _, port := range ports {
		listener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4zero, Port: port})
		if err != nil {
			t.Errorf("re-binding returned port %d: %v", port, err)
			continue
		}
		listener.Close()
	}
}

func TestSelectPort_Exhausted(t *testing.T) {
	// Occupy a port, then restrict the allocator to exactly that port.
	occupied, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("binding sacrificial port: %v", err)
	}
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	const maxRetries = 3
	allocator, err := New(Range{Lower: port, Upper: port}, maxRetries, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = allocator.SelectPort()
	if err == nil {
		t.Fatal("SelectPort() succeeded on an exhausted range")
	}

	var exhausted *RangeExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("SelectPort() error = %v, want *RangeExhaustedError", err)
	}
	if exhausted.Attempts != maxRetries+1 {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, maxRetries+1)
	}
	if exhausted.Range != (Range{Lower: port, Upper: port}) {
		t.Errorf("Range = %v, want %d..%d", exhausted.Range, port, port)
	}
}

func TestListen_KeepsSocketBound(t *testing.T) {
	allocator, err := New(Range{}, 0, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	listener, err := allocator.Listen()
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port

	// The port is still held: a second bind must fail.
	if second, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4zero, Port: port}); err == nil {
		second.Close()
		t.Errorf("port %d was re-bindable while Listen() socket still open", port)
	}
}
