// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

// Package comm implements the kernel-side bootstrap handshake and the
// out-of-band control channel between a remotely launched kernel and the
// controller that launched it.
//
// The handshake is one-shot and synchronous: allocate the kernel's
// messaging ports (lib/portalloc), build the connection descriptor
// (lib/connection), bind the control listener socket so its port can be
// embedded in the descriptor, write the descriptor to the connection
// file, and push the hybrid-encrypted descriptor (lib/envelope) to the
// controller's response address over a single TCP connection. [Pusher]
// performs the push. A response address that does not parse as host:port
// downgrades the launch to pull mode — the push is skipped, the
// connection file on shared storage becomes the controller's discovery
// channel, and the control listener still runs.
//
// [Listener] is the control channel. It owns the bound socket for its
// whole lifetime and accepts one controller connection at a time, with a
// bounded accept deadline so a dead controller is distinguishable from
// an idle one. Each connection carries a single JSON [Request], framed
// by the peer half-closing its write side. A signum request relays the
// signal to the supervised process through the lib/signaler capability;
// under a cluster-aware profile an interrupt additionally delivers
// SIGUSR2, because SIGINT alone does not propagate into that workload's
// child-process tree. A shutdown request is the only way the loop
// terminates: malformed requests and failed signal deliveries are
// reported and the loop keeps accepting. The listener writes nothing
// back — the control protocol is fire-and-forget.
//
// [Start] launches the whole sequence in a background unit selected by
// [Mode]: a goroutine sharing the caller's memory, or a re-executed
// child process when the listener must survive the supervised workload
// trashing the shared address space. Both expose the same contract; the
// choice is a caller-supplied flag, never inferred.
package comm
