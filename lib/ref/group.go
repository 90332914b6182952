// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// GroupID is the opaque handle of an MLS group backing one
// conversation. The backend assigns it when the conversation is
// created; the SDK never inspects its structure, only passes it to the
// crypto layer and uses it as a map key.
//
// GroupID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type GroupID struct {
	id string
}

// ParseGroupID validates and wraps a raw group handle. The handle is
// opaque (base64 on the wire) — the only structural requirement is
// that it is non-empty.
func ParseGroupID(raw string) (GroupID, error) {
	if raw == "" {
		return GroupID{}, fmt.Errorf("empty group ID")
	}
	return GroupID{id: raw}, nil
}

// String returns the raw group handle.
func (g GroupID) String() string { return g.id }

// IsZero reports whether the GroupID is the zero value.
func (g GroupID) IsZero() bool { return g.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (g GroupID) MarshalText() ([]byte, error) {
	return []byte(g.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value (unset group).
func (g *GroupID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*g = GroupID{}
		return nil
	}
	parsed, err := ParseGroupID(string(data))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
