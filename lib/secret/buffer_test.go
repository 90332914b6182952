// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBufferLifecycle(t *testing.T) {
	t.Run("round-trip", func(t *testing.T) {
		buffer, err := NewFromString("wire-access-token")
		if err != nil {
			t.Fatalf("NewFromString failed: %v", err)
		}
		defer buffer.Close()

		if buffer.String() != "wire-access-token" {
			t.Errorf("unexpected contents: %s", buffer.String())
		}
		if buffer.Len() != len("wire-access-token") {
			t.Errorf("unexpected length: %d", buffer.Len())
		}
	})

	t.Run("source zeroed", func(t *testing.T) {
		source := []byte("refresh-token")
		buffer, err := NewFromBytes(source)
		if err != nil {
			t.Fatalf("NewFromBytes failed: %v", err)
		}
		defer buffer.Close()

		for _, b := range source {
			if b != 0 {
				t.Fatal("NewFromBytes must zero the caller's slice")
			}
		}
		if string(buffer.Bytes()) != "refresh-token" {
			t.Error("buffer should hold the original data")
		}
	})

	t.Run("close idempotent, read panics", func(t *testing.T) {
		buffer, err := NewFromString("x")
		if err != nil {
			t.Fatalf("NewFromString failed: %v", err)
		}
		if err := buffer.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := buffer.Close(); err != nil {
			t.Fatalf("second Close failed: %v", err)
		}

		defer func() {
			if recover() == nil {
				t.Error("reading a closed buffer should panic")
			}
		}()
		_ = buffer.Bytes()
	})

	t.Run("empty rejected", func(t *testing.T) {
		if _, err := NewFromString(""); err == nil {
			t.Fatal("expected error for empty string")
		}
		if _, err := NewFromBytes(nil); err == nil {
			t.Fatal("expected error for empty slice")
		}
	})
}

func TestReadFromPath(t *testing.T) {
	t.Run("trims whitespace", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "password")
		if err := os.WriteFile(path, []byte("  hunter2\n"), 0o600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}

		buffer, err := ReadFromPath(path)
		if err != nil {
			t.Fatalf("ReadFromPath failed: %v", err)
		}
		defer buffer.Close()
		if buffer.String() != "hunter2" {
			t.Errorf("unexpected contents: %q", buffer.String())
		}
	})

	t.Run("empty file rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty")
		if err := os.WriteFile(path, []byte("\n\n"), 0o600); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		if _, err := ReadFromPath(path); err == nil {
			t.Fatal("expected error for empty secret")
		}
	})
}
