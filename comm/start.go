// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package comm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/gateway-experiments/gateway-provisioners/lib/connection"
	"github.com/gateway-experiments/gateway-provisioners/lib/portalloc"
	"github.com/gateway-experiments/gateway-provisioners/lib/signaler"
)

// Mode selects the concurrent unit the control listener runs in.
type Mode string

const (
	// ModeGoroutine runs the listener in the caller's process. Cheap,
	// but fate-shares with the supervised workload's address space.
	ModeGoroutine Mode = "goroutine"

	// ModeProcess re-executes the launcher binary so the listener has
	// its own memory space, isolated from the workload's crashes and
	// resource exhaustion.
	ModeProcess Mode = "process"
)

// Params carries everything the handshake and control listener need.
// All fields come from the external launching caller; none are read from
// ambient process state.
type Params struct {
	// ConnectionFile is where the augmented descriptor is persisted
	// for collaborators that read connection parameters from shared
	// storage.
	ConnectionFile string

	// ResponseAddress is the controller's callback address
	// ("host:port"). A malformed value selects pull mode.
	ResponseAddress string

	// PublicKey is the controller's asymmetric public key.
	PublicKey string

	// KernelID is the controller's correlation string for this launch.
	KernelID string

	// SupervisedPID is the kernel process that receives relayed
	// signals.
	SupervisedPID int

	// PortRange optionally restricts every allocated port, messaging
	// and control alike.
	PortRange portalloc.Range

	// MaxPortRetries bounds bind retries per port. Zero means
	// portalloc.DefaultMaxRetries.
	MaxPortRetries int

	// Profile selects workload signal accommodations.
	Profile Profile

	// Mode selects the background unit kind. Required.
	Mode Mode

	// ListenerBinary is the binary re-executed in ModeProcess. Empty
	// means the current executable.
	ListenerBinary string

	// AcceptTimeout overrides the listener's accept deadline; tests
	// shorten it.
	AcceptTimeout time.Duration

	// Signaler and Dialer are injection points for tests. Nil selects
	// the production implementations.
	Signaler signaler.Signaler
	Dialer   Dialer

	Logger *slog.Logger
}

func (p *Params) validate() error {
	if p.ConnectionFile == "" {
		return fmt.Errorf("connection file path is required")
	}
	if p.PublicKey == "" {
		return fmt.Errorf("controller public key is required")
	}
	if p.SupervisedPID <= 0 {
		return fmt.Errorf("supervised pid %d is not a valid process id", p.SupervisedPID)
	}
	if p.Mode != ModeGoroutine && p.Mode != ModeProcess {
		return fmt.Errorf("unknown listener mode %q", p.Mode)
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Start performs the bootstrap handshake and launches the control
// listener in the background unit selected by params.Mode, returning as
// soon as the listener is running. In ModeGoroutine the handshake runs
// on the caller's goroutine, so allocation and push failures surface
// here; in ModeProcess they surface in the child's log and exit status.
func Start(ctx context.Context, params Params) error {
	if err := params.validate(); err != nil {
		return err
	}
	switch params.Mode {
	case ModeProcess:
		return startProcess(ctx, params)
	default:
		listener, err := bootstrap(ctx, params)
		if err != nil {
			return err
		}
		go func() {
			if err := listener.Serve(); err != nil {
				params.Logger.Error("control listener terminated", "error", err)
			}
		}()
		return nil
	}
}

// Run performs the handshake and serves the control loop on the calling
// goroutine, blocking until the controller requests shutdown. This is
// the body of the isolated-process mode: the re-executed child calls Run
// directly.
func Run(ctx context.Context, params Params) error {
	if params.Mode == "" {
		params.Mode = ModeGoroutine
	}
	if err := params.validate(); err != nil {
		return err
	}
	listener, err := bootstrap(ctx, params)
	if err != nil {
		return err
	}
	return listener.Serve()
}

// bootstrap is the synchronous handshake: allocate ports, bind the
// control socket, build and persist the descriptor, push it to the
// controller. Returns the ready-to-serve listener.
func bootstrap(ctx context.Context, params Params) (*Listener, error) {
	allocator, err := portalloc.New(params.PortRange, params.MaxPortRetries, params.Logger)
	if err != nil {
		return nil, err
	}

	ports, err := allocator.SelectPorts(connection.PortCount)
	if err != nil {
		return nil, err
	}
	info, err := connection.New(ports, connection.NewKey())
	if err != nil {
		return nil, err
	}

	// The control socket stays bound from here on — its port is part
	// of the descriptor, so it cannot be released and re-probed.
	commSocket, err := allocator.Listen()
	if err != nil {
		return nil, err
	}
	commPort := commSocket.Addr().(*net.TCPAddr).Port
	params.Logger.Info("control socket bound", "port", commPort)

	pgid, err := signaler.ProcessGroup(params.SupervisedPID)
	if err != nil {
		// The pid itself was validated; a missing pgid degrades the
		// descriptor, not the launch.
		params.Logger.Warn("process group lookup failed", "pid", params.SupervisedPID, "error", err)
		pgid = 0
	}
	info.Augment(params.SupervisedPID, pgid, commPort, params.KernelID)

	if err := info.Write(params.ConnectionFile); err != nil {
		commSocket.Close()
		return nil, err
	}

	pusher := &Pusher{
		PublicKey: params.PublicKey,
		Dialer:    params.Dialer,
		Logger:    params.Logger,
	}
	if err := pusher.Push(ctx, info, params.ResponseAddress); err != nil {
		commSocket.Close()
		return nil, err
	}

	return NewListener(commSocket, ListenerConfig{
		SupervisedPID: params.SupervisedPID,
		Profile:       params.Profile,
		Signaler:      params.Signaler,
		AcceptTimeout: params.AcceptTimeout,
		Logger:        params.Logger,
	}), nil
}

// startProcess launches the isolated-process listener: the launcher
// binary's own "listen" subcommand, re-executed with this handshake's
// parameters. The child performs the full bootstrap itself, so the
// handshake happens inside the isolated memory space too.
func startProcess(ctx context.Context, params Params) error {
	binary := params.ListenerBinary
	if binary == "" {
		executable, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving launcher binary for process mode: %w", err)
		}
		binary = executable
	}

	cmd := exec.CommandContext(ctx, binary, listenArgs(params)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting listener process: %w", err)
	}
	params.Logger.Info("control listener process started", "pid", cmd.Process.Pid, "binary", binary)

	// Reap the child so a crashed listener does not linger as a
	// zombie. Its exit is otherwise the controller's business.
	go func() {
		if err := cmd.Wait(); err != nil {
			params.Logger.Error("control listener process exited", "error", err)
		}
	}()
	return nil
}

// listenArgs reconstructs the "listen" subcommand arguments for a
// re-executed listener process. Must stay in sync with the flag set in
// cmd/kernel-listener.
func listenArgs(params Params) []string {
	args := []string{
		"listen",
		"--connection-file", params.ConnectionFile,
		"--response-address", params.ResponseAddress,
		"--public-key", params.PublicKey,
		"--kernel-id", params.KernelID,
		"--parent-pid", strconv.Itoa(params.SupervisedPID),
	}
	if !params.PortRange.Unrestricted() {
		args = append(args,
			"--lower-port", strconv.Itoa(params.PortRange.Lower),
			"--upper-port", strconv.Itoa(params.PortRange.Upper))
	}
	if params.MaxPortRetries > 0 {
		args = append(args, "--max-port-retries", strconv.Itoa(params.MaxPortRetries))
	}
	if params.Profile != "" && params.Profile != ProfileNone {
		args = append(args, "--cluster-profile", string(params.Profile))
	}
	return args
}
