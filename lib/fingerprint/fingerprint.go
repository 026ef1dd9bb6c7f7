// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint produces short, loggable digests of key material.
// Log lines need to correlate handshakes against a particular controller
// key without ever reproducing the key bytes themselves.
package fingerprint

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// publicKeyDomainKey is the BLAKE3 keyed-hashing domain for public key
// fingerprints. Fixed constant; the ASCII encoding keeps it inspectable
// in hex dumps without weakening the keyed mode.
var publicKeyDomainKey = [32]byte{
	'p', 'r', 'o', 'v', 'i', 's', 'i', 'o', 'n', 'e', 'r', '.',
	'p', 'u', 'b', 'l', 'i', 'c', 'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// PublicKey returns a 16-hex-character fingerprint of the given key
// material. Stable across runs, safe to log.
func PublicKey(material string) string {
	hasher, err := blake3.NewKeyed(publicKeyDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a non-32-byte key; the domain key is
		// a fixed 32-byte constant.
		panic(err)
	}
	hasher.Write([]byte(material))
	return hex.EncodeToString(hasher.Sum(nil)[:8])
}
