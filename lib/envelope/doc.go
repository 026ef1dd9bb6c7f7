// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope hybrid-encrypts a kernel's connection information for
// transmission to the controller that launched it. The controller's
// public key is the only pre-shared trust anchor — there is no
// certificate infrastructure — so the construction is a fresh one-time
// symmetric key per handshake, wrapped with that public key.
//
// The wire payload is a base64-encoded JSON [Envelope] with a version
// field so controllers can evolve decoding without breaking launchers
// already deployed:
//
//   - [VersionRSA] — AES-128-ECB over the PKCS#7-padded payload, key
//     wrapped with RSA PKCS#1 v1.5. Byte-compatible with the original
//     controller fleet; the weak mode is tolerated because the key is
//     single-use and the payload is a one-shot descriptor.
//   - [VersionAge] — filippo.io/age X25519 recipient encryption
//     (authenticated), for controllers that publish an age1... key.
//
// The version is chosen from the key material the caller supplies:
// age recipients never parse as base64 DER, so the dispatch is
// unambiguous. [Decrypt] is the controller-side inverse, exported for
// controller implementations and round-trip tests; the launcher itself
// only encrypts.
package envelope
