// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package comm

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/gateway-experiments/gateway-provisioners/lib/connection"
	"github.com/gateway-experiments/gateway-provisioners/lib/envelope"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRSAKeys generates a controller keypair in base64 DER form.
func testRSAKeys(t *testing.T) (publicKey, privateKey string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	privateDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling private key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(publicDER), base64.StdEncoding.EncodeToString(privateDER)
}

func testInfo(t *testing.T) *connection.Info {
	t.Helper()
	info, err := connection.New([]int{9001, 9002, 9003, 9004, 9005}, "messaging-key")
	if err != nil {
		t.Fatalf("building descriptor: %v", err)
	}
	info.Augment(4242, 4242, 9099, "kernel-abc")
	return info
}

// spyDialer records connection attempts. Each dial hands the pusher one
// end of an in-memory pipe and streams whatever is written into payloads.
type spyDialer struct {
	mu       sync.Mutex
	attempts []string
	payloads chan []byte
	dialErr  error
}

func newSpyDialer() *spyDialer {
	return &spyDialer{payloads: make(chan []byte, 1)}
}

func (d *spyDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, address)
	d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	server, client := net.Pipe()
	go func() {
		data, _ := io.ReadAll(server)
		server.Close()
		d.payloads <- data
	}()
	return client, nil
}

func (d *spyDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func TestPush_MalformedAddressIsPullMode(t *testing.T) {
	publicKey, _ := testRSAKeys(t)
	addresses := []string{
		"",
		"no-colon-at-all",
		"host:not-a-port",
		"too:many:parts",
	}
	for _, address := range addresses {
		t.Run(fmt.Sprintf("address=%q", address), func(t *testing.T) {
			dialer := newSpyDialer()
			pusher := &Pusher{PublicKey: publicKey, Dialer: dialer, Logger: testLogger()}

			// Pull mode: no error raised, and no connection attempted.
			if err := pusher.Push(context.Background(), testInfo(t), address); err != nil {
				t.Errorf("Push(%q) error = %v, want nil (pull mode)", address, err)
			}
			if dialer.attemptCount() != 0 {
				t.Errorf("Push(%q) attempted %d connections, want 0", address, dialer.attemptCount())
			}
		})
	}
}

func TestPush_TransmitsDecryptableDescriptor(t *testing.T) {
	publicKey, privateKey := testRSAKeys(t)
	dialer := newSpyDialer()
	pusher := &Pusher{PublicKey: publicKey, Dialer: dialer, Logger: testLogger()}
	info := testInfo(t)

	if err := pusher.Push(context.Background(), info, "controller.example.com:8877"); err != nil {
		t.Fatalf("Push() error: %v", err)
	}
	if dialer.attemptCount() != 1 {
		t.Fatalf("Push() attempted %d connections, want 1", dialer.attemptCount())
	}
	if got := dialer.attempts[0]; got != "controller.example.com:8877" {
		t.Errorf("dialed %q, want controller.example.com:8877", got)
	}

	payload := <-dialer.payloads
	plaintext, err := envelope.Decrypt(payload, privateKey)
	if err != nil {
		t.Fatalf("controller-side decrypt: %v", err)
	}
	expected, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshaling expected descriptor: %v", err)
	}
	if !bytes.Equal(plaintext, expected) {
		t.Errorf("decrypted descriptor = %s, want %s", plaintext, expected)
	}
}

func TestPush_DialFailureIsHandshakeError(t *testing.T) {
	publicKey, _ := testRSAKeys(t)
	dialer := newSpyDialer()
	dialer.dialErr = errors.New("connection refused")
	pusher := &Pusher{PublicKey: publicKey, Dialer: dialer, Logger: testLogger()}

	err := pusher.Push(context.Background(), testInfo(t), "127.0.0.1:8877")
	if err == nil {
		t.Fatal("Push() succeeded despite dial failure")
	}
	var handshake *HandshakeError
	if !errors.As(err, &handshake) {
		t.Fatalf("Push() error = %v, want *HandshakeError", err)
	}
	if handshake.Address != "127.0.0.1:8877" {
		t.Errorf("HandshakeError.Address = %q, want 127.0.0.1:8877", handshake.Address)
	}
}

func TestPush_BadPublicKeyIsHandshakeError(t *testing.T) {
	dialer := newSpyDialer()
	pusher := &Pusher{PublicKey: "not-a-key", Dialer: dialer, Logger: testLogger()}

	err := pusher.Push(context.Background(), testInfo(t), "127.0.0.1:8877")
	var handshake *HandshakeError
	if !errors.As(err, &handshake) {
		t.Fatalf("Push() error = %v, want *HandshakeError", err)
	}
	// Encryption failed before any connection attempt.
	if dialer.attemptCount() != 0 {
		t.Errorf("Push() attempted %d connections before encryption, want 0", dialer.attemptCount())
	}
}
