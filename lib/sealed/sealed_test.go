// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"testing"

	"github.com/bureau-foundation/wireapp/lib/secret"
)

func testPassword(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestSealRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Fatalf("generated public key should parse: %v", err)
	}

	ciphertext, err := Encrypt([]byte("refresh-token-value"), keypair.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	plaintext, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	defer plaintext.Close()

	if plaintext.String() != "refresh-token-value" {
		t.Errorf("unexpected plaintext: %q", plaintext.String())
	}
}

func TestPrivateKeyWrapping(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()
	originalKey := keypair.PrivateKey.String()

	wrapped, err := WrapPrivateKey(keypair, testPassword(t, "correct horse"))
	if err != nil {
		t.Fatalf("WrapPrivateKey failed: %v", err)
	}

	t.Run("correct password", func(t *testing.T) {
		unwrapped, err := UnwrapPrivateKey(wrapped, testPassword(t, "correct horse"))
		if err != nil {
			t.Fatalf("UnwrapPrivateKey failed: %v", err)
		}
		defer unwrapped.Close()
		if unwrapped.String() != originalKey {
			t.Error("unwrapped key does not match original")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := UnwrapPrivateKey(wrapped, testPassword(t, "wrong")); err == nil {
			t.Fatal("expected error for wrong password")
		}
	})
}

func TestDecryptRejectsGarbage(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	if _, err := Decrypt("not-base64!!!", keypair.PrivateKey); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := Decrypt("AAAA", keypair.PrivateKey); err == nil {
		t.Fatal("expected error for non-age ciphertext")
	}
}
