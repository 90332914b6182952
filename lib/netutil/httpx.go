// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O utilities shared by the backend
// client.
//
// ReadResponse bounds body reads at MaxResponseSize to prevent
// unbounded memory allocation from a misbehaving server. It is for API
// responses, not for streaming downloads.
package netutil

import (
	"io"
)

// MaxResponseSize is the bound on API response body reads: 256 MB.
// This exists solely to prevent a pathological response from
// exhausting system memory; legitimate responses are orders of
// magnitude smaller.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads an API response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
