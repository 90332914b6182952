// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	plaintext := []byte("a small file body")

	encrypted, err := Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(encrypted.ContentKey) != 32 {
		t.Errorf("content key length %d, want 32", len(encrypted.ContentKey))
	}
	if len(encrypted.ContentHash) != 32 {
		t.Errorf("content hash length %d, want 32", len(encrypted.ContentHash))
	}
	if encrypted.Encoding != "" {
		t.Errorf("small payload should not be compressed, got %q", encrypted.Encoding)
	}

	decrypted, err := Decrypt(encrypted.Ciphertext, encrypted.ContentKey, encrypted.ContentHash, encrypted.Encoding)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("round-trip mismatch: %q", decrypted)
	}
}

func TestCiphertextSizeForTenBytes(t *testing.T) {
	// 10 plaintext bytes pad to one 16-byte block, prefixed by the
	// 16-byte IV: exactly 32 ciphertext bytes.
	encrypted, err := Encrypt(make([]byte, 10))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(encrypted.Ciphertext) != 32 {
		t.Errorf("ciphertext length %d, want 32", len(encrypted.Ciphertext))
	}
}

func TestExactBlockGetsFullPaddingBlock(t *testing.T) {
	encrypted, err := Encrypt(make([]byte, 16))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	// IV + data block + full padding block.
	if len(encrypted.Ciphertext) != 48 {
		t.Errorf("ciphertext length %d, want 48", len(encrypted.Ciphertext))
	}
}

func TestCompressibleLargePayload(t *testing.T) {
	// Highly repetitive content well above the threshold compresses.
	plaintext := bytes.Repeat([]byte("the same line over and over\n"), 1024)

	encrypted, err := Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if encrypted.Encoding != EncodingZstd {
		t.Fatalf("expected zstd encoding, got %q", encrypted.Encoding)
	}
	if len(encrypted.Ciphertext) >= len(plaintext) {
		t.Errorf("compression did not shrink payload: %d >= %d",
			len(encrypted.Ciphertext), len(plaintext))
	}

	decrypted, err := Decrypt(encrypted.Ciphertext, encrypted.ContentKey, encrypted.ContentHash, encrypted.Encoding)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("compressed round-trip mismatch")
	}
}

func TestIncompressiblePayloadStaysRaw(t *testing.T) {
	plaintext := make([]byte, 64*1024)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand failed: %v", err)
	}

	encrypted, err := Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if encrypted.Encoding != "" {
		t.Errorf("random payload should not be compressed, got %q", encrypted.Encoding)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	encrypted, err := Encrypt([]byte("original content"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		tampered := append([]byte(nil), encrypted.Ciphertext...)
		tampered[len(tampered)-1] ^= 0x01
		if _, err := Decrypt(tampered, encrypted.ContentKey, encrypted.ContentHash, ""); err == nil {
			t.Fatal("expected error for tampered ciphertext")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		wrongKey := make([]byte, 32)
		if _, err := Decrypt(encrypted.Ciphertext, wrongKey, encrypted.ContentHash, ""); err == nil {
			t.Fatal("expected error for wrong key")
		}
	})

	t.Run("wrong hash", func(t *testing.T) {
		wrongHash := make([]byte, 32)
		if _, err := Decrypt(encrypted.Ciphertext, encrypted.ContentKey, wrongHash, ""); err == nil {
			t.Fatal("expected error for hash mismatch")
		}
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		if _, err := Decrypt(encrypted.Ciphertext[:16], encrypted.ContentKey, encrypted.ContentHash, ""); err == nil {
			t.Fatal("expected error for truncated ciphertext")
		}
	})
}
