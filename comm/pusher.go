// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-experiments/gateway-provisioners/lib/connection"
	"github.com/gateway-experiments/gateway-provisioners/lib/envelope"
	"github.com/gateway-experiments/gateway-provisioners/lib/fingerprint"
)

// Dialer opens the outbound handshake connection. Injected so tests can
// spy on connection attempts without a live controller.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer is the production Dialer.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to the given address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}

// HandshakeError reports an I/O failure while pushing the encrypted
// descriptor to the controller. Fatal to the launch: the handshake is
// one-shot and never retried internally.
type HandshakeError struct {
	Address string
	Err     error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("pushing connection info to %s: %v", e.Address, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Pusher transmits the encrypted connection descriptor to the
// controller's response address.
type Pusher struct {
	// PublicKey is the controller's asymmetric public key (base64 DER
	// RSA or an age1... recipient); it selects the envelope version.
	PublicKey string

	// Dialer opens the outbound connection. Nil means a plain
	// TCPDialer with a 10-second connect timeout.
	Dialer Dialer

	Logger *slog.Logger
}

// Push serializes info, encrypts it for the controller, and writes the
// payload over a single short-lived TCP connection to address. The
// connection is closed after the single write; no acknowledgement is
// read.
//
// An address that is not host:port with a numeric port downgrades to
// pull mode: the condition is logged and Push returns nil without any
// connection attempt. The controller is then expected to discover the
// kernel through the connection file instead. Any failure after address
// parsing is returned as a *HandshakeError.
func (p *Pusher) Push(ctx context.Context, info *connection.Info, address string) error {
	parts := strings.Split(address, ":")
	if len(parts) != 2 {
		p.Logger.Error("invalid format for response address, assuming pull mode",
			"address", address)
		return nil
	}
	host := parts[0]
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		p.Logger.Error("invalid port in response address, assuming pull mode",
			"address", address)
		return nil
	}

	plaintext, err := json.Marshal(info)
	if err != nil {
		return &HandshakeError{Address: address, Err: fmt.Errorf("marshaling connection info: %w", err)}
	}
	payload, err := envelope.Encrypt(plaintext, p.PublicKey)
	if err != nil {
		return &HandshakeError{Address: address, Err: err}
	}

	dialer := p.Dialer
	if dialer == nil {
		dialer = &TCPDialer{Timeout: 10 * time.Second}
	}

	target := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, target)
	if err != nil {
		return &HandshakeError{Address: address, Err: err}
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return &HandshakeError{Address: address, Err: fmt.Errorf("writing payload: %w", err)}
	}

	p.Logger.Info("pushed connection info to controller",
		"address", target,
		"kernel_id", info.KernelID,
		"key_fingerprint", fingerprint.PublicKey(p.PublicKey))
	return nil
}
