// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for team credentials at rest.
// The entity store keeps access and refresh tokens sealed to an app
// keypair; the keypair's private half is itself wrapped with a
// passphrase-derived (scrypt) recipient, so nothing in the database is
// readable without the store password.
//
// Ciphertext is base64-encoded for storage in SQLite text columns.
// Private keys and decrypted plaintext travel in *secret.Buffer values
// (mmap-backed, locked against swap, zeroed on close).
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/wireapp/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key lives in a
// secret.Buffer; the public key is a plain string, safe to store.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format.
	// Never logged, never stored unwrapped.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding public key in age1... format.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair with the private
// key in protected memory. The caller must Close the returned Keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key into mmap-backed memory immediately. The
	// heap string returned by identity.String() will be GC'd; the
	// mmap buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt encrypts plaintext to the given age public key. Returns the
// ciphertext as a base64 string suitable for a SQLite text column.
func Encrypt(plaintext []byte, recipientKey string) (string, error) {
	recipient, err := age.ParseX25519Recipient(recipientKey)
	if err != nil {
		return "", fmt.Errorf("parsing recipient key: %w", err)
	}
	return encryptTo(plaintext, recipient)
}

// Decrypt decrypts a base64-encoded ciphertext with the given private
// key. The private key is borrowed, not closed. The caller must Close
// the returned buffer.
func Decrypt(ciphertext string, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return decryptWith(ciphertext, identity)
}

// WrapPrivateKey seals a keypair's private key under a passphrase
// using age's scrypt recipient. The wrapped form is what the store
// persists; unwrapping it at open time is the only use of the store
// password.
func WrapPrivateKey(keypair *Keypair, password *secret.Buffer) (string, error) {
	recipient, err := age.NewScryptRecipient(password.String())
	if err != nil {
		return "", fmt.Errorf("creating scrypt recipient: %w", err)
	}
	return encryptTo(keypair.PrivateKey.Bytes(), recipient)
}

// UnwrapPrivateKey opens a wrapped private key with the passphrase.
// A wrong passphrase fails here, before any team data is touched.
func UnwrapPrivateKey(wrapped string, password *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.NewScryptIdentity(password.String())
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	return decryptWith(wrapped, identity)
}

// ParsePublicKey validates an age public key string read from storage.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

func encryptTo(plaintext []byte, recipient age.Recipient) (string, error) {
	var ciphertextBuffer bytes.Buffer
	writer, err := age.Encrypt(&ciphertextBuffer, recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertextBuffer.Bytes()), nil
}

func decryptWith(ciphertext string, identity age.Identity) (*secret.Buffer, error) {
	rawCiphertext, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(rawCiphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("decrypted plaintext is empty")
	}

	// NewFromBytes moves the plaintext into protected memory and
	// zeros the heap copy.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}
