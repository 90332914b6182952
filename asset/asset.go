// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset implements the content encryption layer for file
// transfers. Asset bytes are encrypted with a single-use AES-256 key
// before upload, independently of the group encryption that protects
// the message announcing them — the backend stores ciphertext it can
// never read, and only group members receive the content key.
//
// Layout: the 16-byte IV is prefixed to the AES-256-CBC ciphertext,
// with PKCS#7 padding. Plaintexts above 4 KiB are zstd-compressed
// before encryption; the descriptor's encoding field tells the
// receiver to reverse it. Integrity is a BLAKE3 hash of the original
// plaintext, checked after decrypt (and decompress) on download.
package asset

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// EncodingZstd in a descriptor means the plaintext was zstd-compressed
// before encryption.
const EncodingZstd = "zstd"

// compressionThreshold is the plaintext size above which compression
// is attempted. Small payloads gain nothing and would break the
// predictable ciphertext size for tiny assets.
const compressionThreshold = 4096

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	// EncodeAll/DecodeAll on shared instances are safe for concurrent
	// use.
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("asset: creating zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("asset: creating zstd decoder: %v", err))
	}
}

// Encrypted is the result of encrypting asset bytes for upload.
type Encrypted struct {
	// Ciphertext is IV || AES-256-CBC(pkcs7(payload)).
	Ciphertext []byte

	// ContentKey is the fresh 32-byte AES key. It travels to group
	// members inside the encrypted Asset message, never to the
	// backend.
	ContentKey []byte

	// ContentHash is the BLAKE3 hash of the original plaintext.
	ContentHash []byte

	// Encoding is "" or EncodingZstd.
	Encoding string
}

// Encrypt prepares plaintext for upload: optional compression, fresh
// content key, CBC encryption with a random prefixed IV.
func Encrypt(plaintext []byte) (Encrypted, error) {
	digest := blake3.Sum256(plaintext)

	payload := plaintext
	encoding := ""
	if len(plaintext) > compressionThreshold {
		compressed := zstdEncoder.EncodeAll(plaintext, nil)
		// Incompressible data (already-compressed media) stays as is.
		if len(compressed) < len(plaintext) {
			payload = compressed
			encoding = EncodingZstd
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return Encrypted{}, fmt.Errorf("asset: generating content key: %w", err)
	}
	ciphertext, err := encryptCBC(key, payload)
	if err != nil {
		return Encrypted{}, err
	}

	return Encrypted{
		Ciphertext:  ciphertext,
		ContentKey:  key,
		ContentHash: digest[:],
		Encoding:    encoding,
	}, nil
}

// Decrypt reverses Encrypt: CBC decrypt, unpad, decompress if the
// descriptor says so, and verify the plaintext hash. A hash mismatch
// means corruption or tampering and fails hard.
func Decrypt(ciphertext, key, expectedHash []byte, encoding string) ([]byte, error) {
	payload, err := decryptCBC(key, ciphertext)
	if err != nil {
		return nil, err
	}

	plaintext := payload
	switch encoding {
	case "":
	case EncodingZstd:
		plaintext, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("asset: decompressing: %w", err)
		}
	default:
		return nil, fmt.Errorf("asset: unknown encoding %q", encoding)
	}

	digest := blake3.Sum256(plaintext)
	if subtle.ConstantTimeCompare(digest[:], expectedHash) != 1 {
		return nil, fmt.Errorf("asset: content hash mismatch")
	}
	return plaintext, nil
}

func encryptCBC(key, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("asset: creating cipher: %w", err)
	}

	padded := pkcs7Pad(payload, aes.BlockSize)
	ciphertext := make([]byte, aes.BlockSize+len(padded))
	iv := ciphertext[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("asset: generating IV: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext[aes.BlockSize:], padded)
	return ciphertext, nil
}

func decryptCBC(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("asset: creating cipher: %w", err)
	}
	if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("asset: ciphertext length %d is not valid", len(ciphertext))
	}

	iv, body := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	padded := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, body)
	return pkcs7Unpad(padded, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("asset: padded data length %d is not valid", len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("asset: invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("asset: invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}
