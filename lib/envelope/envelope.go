// Copyright 2026 The Gateway Provisioners Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// Envelope versions. The version tells the controller which decryption
// procedure recovers the connection information, so the wire format can
// evolve without breaking launchers already in the field.
const (
	// VersionRSA is the original envelope: a fresh 128-bit AES key
	// encrypts the payload (ECB, PKCS#7 padding) and is itself wrapped
	// with the controller's RSA public key using PKCS#1 v1.5.
	VersionRSA = 1

	// VersionAge wraps the payload with an age X25519 recipient. The
	// key field is empty — age's own header carries the wrapped file
	// key, so a separate field would duplicate it.
	VersionAge = 2
)

const aesKeySize = 16

// Envelope is the hybrid-encryption wire structure. The JSON document is
// base64-encoded as a whole before transmission.
type Envelope struct {
	// Version selects the decryption procedure (VersionRSA or
	// VersionAge).
	Version int `json:"version"`

	// Key is the base64 of the asymmetrically wrapped one-time
	// symmetric key. Empty for VersionAge.
	Key string `json:"key"`

	// ConnInfo is the base64 of the symmetrically encrypted payload
	// (for VersionRSA) or of the age ciphertext (for VersionAge).
	ConnInfo string `json:"conn_info"`
}

// Encrypt seals plaintext for the controller identified by publicKey and
// returns the base64 wire payload. The key material decides the envelope
// version: an age recipient ("age1...") produces VersionAge, anything
// else is treated as a base64 DER RSA public key and produces VersionRSA.
// Each call generates fresh symmetric key material; envelopes are never
// reused.
func Encrypt(plaintext []byte, publicKey string) ([]byte, error) {
	var sealed Envelope
	var err error
	if strings.HasPrefix(publicKey, "age1") {
		sealed, err = sealAge(plaintext, publicKey)
	} else {
		sealed, err = sealRSA(plaintext, publicKey)
	}
	if err != nil {
		return nil, err
	}

	document, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	payload := make([]byte, base64.StdEncoding.EncodedLen(len(document)))
	base64.StdEncoding.Encode(payload, document)
	return payload, nil
}

// Decrypt opens a wire payload produced by Encrypt. This is the
// controller's side of the protocol; the launcher never decrypts. It is
// exported for controller implementations and for round-trip tests.
// privateKey is a base64 DER RSA private key for VersionRSA envelopes or
// an AGE-SECRET-KEY-1... identity for VersionAge.
func Decrypt(payload []byte, privateKey string) ([]byte, error) {
	document, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 payload: %w", err)
	}

	var sealed Envelope
	if err := json.Unmarshal(document, &sealed); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	switch sealed.Version {
	case VersionRSA:
		return openRSA(sealed, privateKey)
	case VersionAge:
		return openAge(sealed, privateKey)
	default:
		return nil, fmt.Errorf("unsupported envelope version %d", sealed.Version)
	}
}

// sealRSA implements the version-1 construction. ECB is deliberate: the
// AES key is single-use and the payload is a one-shot descriptor, and
// the deployed controller fleet decrypts exactly this construction.
func sealRSA(plaintext []byte, publicKey string) (Envelope, error) {
	rsaKey, err := parseRSAPublicKey(publicKey)
	if err != nil {
		return Envelope{}, err
	}

	aesKey := make([]byte, aesKeySize)
	if _, err := io.ReadFull(rand.Reader, aesKey); err != nil {
		return Envelope{}, fmt.Errorf("generating symmetric key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return Envelope{}, fmt.Errorf("initializing cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	for offset := 0; offset < len(padded); offset += block.BlockSize() {
		block.Encrypt(ciphertext[offset:], padded[offset:])
	}

	wrappedKey, err := rsa.EncryptPKCS1v15(rand.Reader, rsaKey, aesKey)
	if err != nil {
		return Envelope{}, fmt.Errorf("wrapping symmetric key: %w", err)
	}

	return Envelope{
		Version:  VersionRSA,
		Key:      base64.StdEncoding.EncodeToString(wrappedKey),
		ConnInfo: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func openRSA(sealed Envelope, privateKey string) ([]byte, error) {
	rsaKey, err := parseRSAPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(sealed.Key)
	if err != nil {
		return nil, fmt.Errorf("decoding wrapped key: %w", err)
	}
	aesKey, err := rsa.DecryptPKCS1v15(nil, rsaKey, wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("unwrapping symmetric key: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed.ConnInfo)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))
	}

	padded := make([]byte, len(ciphertext))
	for offset := 0; offset < len(ciphertext); offset += block.BlockSize() {
		block.Decrypt(padded[offset:], ciphertext[offset:])
	}
	return pkcs7Unpad(padded, block.BlockSize())
}

func sealAge(plaintext []byte, publicKey string) (Envelope, error) {
	recipient, err := age.ParseX25519Recipient(publicKey)
	if err != nil {
		return Envelope{}, fmt.Errorf("parsing age recipient: %w", err)
	}

	var ciphertextBuffer bytes.Buffer
	writer, err := age.Encrypt(&ciphertextBuffer, recipient)
	if err != nil {
		return Envelope{}, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return Envelope{}, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Envelope{}, fmt.Errorf("finalizing age encryption: %w", err)
	}

	return Envelope{
		Version:  VersionAge,
		ConnInfo: base64.StdEncoding.EncodeToString(ciphertextBuffer.Bytes()),
	}, nil
}

func openAge(sealed Envelope, privateKey string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed.ConnInfo)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// parseRSAPublicKey accepts base64 DER in either SubjectPublicKeyInfo or
// PKCS#1 form — controllers in the field export both.
func parseRSAPublicKey(publicKey string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, want RSA", parsed)
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing RSA public key: %w", err)
	}
	return rsaKey, nil
}

func parseRSAPrivateKey(privateKey string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, want RSA", parsed)
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing RSA private key: %w", err)
	}
	return rsaKey, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for index := len(data); index < len(padded); index++ {
		padded[index] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("padded data length %d is not a positive multiple of %d", len(data), blockSize)
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
