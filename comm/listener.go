// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package comm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gateway-experiments/gateway-provisioners/lib/signaler"
)

// DefaultAcceptTimeout bounds each accept wait. A timeout is not an
// error — it just lets the loop come back around — but it also bounds
// how long a true network failure can masquerade as idleness.
const DefaultAcceptTimeout = 5 * time.Second

// interruptSignum is the numeric interrupt signal (SIGINT).
const interruptSignum = 2

// secondarySignal is delivered in addition to an interrupt under a
// cluster-aware profile. Distributed-processing workloads install a
// SIGUSR2 handler precisely because SIGINT does not reach their
// child-process tree.
var secondarySignal = int(unix.SIGUSR2)

// Profile classifies the supervised workload for signal handling.
type Profile string

const (
	// ProfileNone is the default workload profile.
	ProfileNone Profile = "none"

	// ProfileSpark marks a Spark workload, which needs the secondary
	// signal on interrupt.
	ProfileSpark Profile = "spark"
)

// ClusterAware reports whether an interrupt must be accompanied by the
// secondary signal.
func (p Profile) ClusterAware() bool {
	return p == ProfileSpark
}

// Request is one controller control message. Pointer fields distinguish
// an absent field from a zero value: a request with neither field is a
// liveness poll.
type Request struct {
	// Signum is the numeric signal to deliver to the supervised
	// process. Zero is the conventional existence probe.
	Signum *int `json:"signum,omitempty"`

	// Shutdown true asks the listener to stop accepting and release
	// its socket, ending the kernel's control channel.
	Shutdown *bool `json:"shutdown,omitempty"`
}

// poll reports whether the request carries no action at all.
func (r *Request) poll() bool {
	return r.Signum == nil && r.Shutdown == nil
}

// RequestError reports a failure scoped to a single control connection —
// undecodable JSON or a read failure while draining. The listener logs
// it and keeps accepting; it never terminates the loop.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("reading control request: %v", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// ListenerConfig configures a control Listener.
type ListenerConfig struct {
	// SupervisedPID is the process that receives relayed signals.
	// Read-only after construction — the only state shared with the
	// caller.
	SupervisedPID int

	// Profile selects the workload's signal accommodations.
	Profile Profile

	// Signaler delivers signals. Nil means the real kill(2)
	// implementation.
	Signaler signaler.Signaler

	// AcceptTimeout overrides DefaultAcceptTimeout; tests shorten it.
	AcceptTimeout time.Duration

	Logger *slog.Logger
}

// Listener is the kernel's control channel: it owns its bound socket for
// its whole lifetime, accepts one controller connection at a time, and
// relays signal and shutdown requests to the supervised process.
type Listener struct {
	socket        *net.TCPListener
	port          int
	supervisedPID int
	profile       Profile
	signaler      signaler.Signaler
	acceptTimeout time.Duration
	logger        *slog.Logger
}

// NewListener wraps an already-bound socket (from portalloc, so the port
// restriction applied) as a control listener. The listener takes
// ownership of the socket and closes it when the loop terminates.
func NewListener(socket *net.TCPListener, config ListenerConfig) *Listener {
	sig := config.Signaler
	if sig == nil {
		sig = signaler.OS{}
	}
	acceptTimeout := config.AcceptTimeout
	if acceptTimeout <= 0 {
		acceptTimeout = DefaultAcceptTimeout
	}
	return &Listener{
		socket:        socket,
		port:          socket.Addr().(*net.TCPAddr).Port,
		supervisedPID: config.SupervisedPID,
		profile:       config.Profile,
		signaler:      sig,
		acceptTimeout: acceptTimeout,
		logger:        config.Logger,
	}
}

// Port returns the bound control port, for embedding in the connection
// descriptor as comm_port.
func (l *Listener) Port() int {
	return l.port
}

// Serve runs the accept loop until the controller requests shutdown,
// then releases the socket and returns nil. Per-connection failures
// (malformed requests, failed signal deliveries) are logged and the loop
// continues; the only error return is the socket itself failing out from
// under the loop.
func (l *Listener) Serve() error {
	defer l.socket.Close()
	l.logger.Info("control listener started", "port", l.port, "pid", l.supervisedPID)

	for {
		request, err := l.nextRequest()
		if err != nil {
			var requestError *RequestError
			if errors.As(err, &requestError) {
				l.logger.Error("malformed control request", "error", err)
				continue
			}
			return fmt.Errorf("control listener accept: %w", err)
		}
		if request == nil {
			// Accept deadline elapsed, or the peer connected and sent
			// nothing. Neither is an event.
			continue
		}
		if l.process(request) {
			l.logger.Info("shutdown requested, control listener exiting", "port", l.port)
			return nil
		}
	}
}

// nextRequest waits for one controller connection (bounded by the accept
// timeout) and reads its request. Returns (nil, nil) when the wait timed
// out or the connection carried no data. The connection is closed before
// returning, on every path.
func (l *Listener) nextRequest() (*Request, error) {
	if err := l.socket.SetDeadline(time.Now().Add(l.acceptTimeout)); err != nil {
		return nil, err
	}
	conn, err := l.socket.Accept()
	if err != nil {
		var netError net.Error
		if errors.As(err, &netError) && netError.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	defer conn.Close()

	// The request is framed by the peer half-closing its write side:
	// drain until EOF. The read deadline stops a stalled peer from
	// wedging the loop.
	conn.SetReadDeadline(time.Now().Add(l.acceptTimeout))
	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}

	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, &RequestError{Err: err}
	}
	return &request, nil
}

// process applies one request and reports whether it asked for shutdown.
func (l *Listener) process(request *Request) (shutdown bool) {
	suppressLog := request.poll()

	if request.Signum != nil {
		signum := *request.Signum
		if signum == 0 {
			// Liveness probe via signal 0, sent every few seconds by
			// the controller's poller. Delivered (it validates the
			// pid) but kept out of the logs.
			suppressLog = true
		}
		l.deliver(signum)
		if signum == interruptSignum && l.profile.ClusterAware() {
			l.deliver(secondarySignal)
		}
	}

	if request.Shutdown != nil && *request.Shutdown {
		shutdown = true
	}

	if !suppressLog {
		l.logger.Info("control request processed",
			"signum", signumForLog(request.Signum),
			"shutdown", shutdown)
	}
	return shutdown
}

// deliver sends one signal to the supervised process. Delivery failure
// (typically ESRCH — the process is already gone) is reported and the
// listener keeps running: the controller may still want to shut the
// listener down cleanly.
func (l *Listener) deliver(signum int) {
	if err := l.signaler.Signal(l.supervisedPID, signum); err != nil {
		l.logger.Error("signal delivery failed",
			"pid", l.supervisedPID,
			"signum", signum,
			"error", err)
	}
}

// Close releases the listening socket. Serve's accept will fail with
// net.ErrClosed and return; normal termination goes through a shutdown
// request instead.
func (l *Listener) Close() error {
	return l.socket.Close()
}

func signumForLog(signum *int) int {
	if signum == nil {
		return -1
	}
	return *signum
}
