// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// TeamID identifies an organizational tenant (a Wire team) that has
// invited the app. It is the unit of cryptographic identity
// provisioning: one crypto session and one event stream exist per team.
//
// TeamID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type TeamID struct {
	id string
}

// ParseTeamID validates and wraps a raw team ID string (UUID form on
// the wire, treated as opaque here).
func ParseTeamID(raw string) (TeamID, error) {
	if raw == "" {
		return TeamID{}, fmt.Errorf("empty team ID")
	}
	return TeamID{id: raw}, nil
}

// String returns the raw team ID.
func (t TeamID) String() string { return t.id }

// IsZero reports whether the TeamID is the zero value.
func (t TeamID) IsZero() bool { return t.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (t TeamID) MarshalText() ([]byte, error) {
	return []byte(t.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value (unset team).
func (t *TeamID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*t = TeamID{}
		return nil
	}
	parsed, err := ParseTeamID(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
