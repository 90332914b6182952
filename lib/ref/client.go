// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// ClientID identifies one cryptographic client device registered with
// the backend. The backend assigns it at client registration; the SDK
// presents it when opening the event stream and when sending encrypted
// payloads.
//
// ClientID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type ClientID struct {
	id string
}

// ParseClientID validates and wraps a raw client ID string.
func ParseClientID(raw string) (ClientID, error) {
	if raw == "" {
		return ClientID{}, fmt.Errorf("empty client ID")
	}
	return ClientID{id: raw}, nil
}

// String returns the raw client ID.
func (c ClientID) String() string { return c.id }

// IsZero reports whether the ClientID is the zero value.
func (c ClientID) IsZero() bool { return c.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (c ClientID) MarshalText() ([]byte, error) {
	return []byte(c.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value (unset client).
func (c *ClientID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*c = ClientID{}
		return nil
	}
	parsed, err := ParseClientID(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
