// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// QualifiedID is a federated Wire identifier: a local ID (UUID form)
// plus the domain of the backend that owns it. Users and conversations
// are both addressed this way. Equality requires both fields — two IDs
// with the same local part on different domains are different entities.
//
// The textual form is "<id>@<domain>", e.g.
// "3f7d2a90-5f4f-4b1c-a2c1-9d7e1b6e2f55@wire.example.com".
type QualifiedID struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
}

// NewQualifiedID validates and constructs a QualifiedID. Both the local
// ID and the domain must be non-empty; federated identifiers without a
// domain are malformed and rejected here rather than failing later at
// the API boundary.
func NewQualifiedID(id, domain string) (QualifiedID, error) {
	if id == "" {
		return QualifiedID{}, fmt.Errorf("qualified ID has empty local part")
	}
	if domain == "" {
		return QualifiedID{}, fmt.Errorf("qualified ID %q has empty domain", id)
	}
	if strings.ContainsRune(id, '@') {
		return QualifiedID{}, fmt.Errorf("qualified ID local part contains '@': %q", id)
	}
	return QualifiedID{ID: id, Domain: domain}, nil
}

// ParseQualifiedID parses the "<id>@<domain>" textual form.
func ParseQualifiedID(raw string) (QualifiedID, error) {
	at := strings.LastIndexByte(raw, '@')
	if at < 0 {
		return QualifiedID{}, fmt.Errorf("qualified ID missing '@domain' suffix: %q", raw)
	}
	return NewQualifiedID(raw[:at], raw[at+1:])
}

// String returns the "<id>@<domain>" textual form.
func (q QualifiedID) String() string {
	if q.IsZero() {
		return ""
	}
	return q.ID + "@" + q.Domain
}

// IsZero reports whether the QualifiedID is the zero value.
//
// QualifiedID deliberately has no TextMarshaler: on the wire it is
// always the two-field object form {"id": ..., "domain": ...}, never a
// combined string. The "<id>@<domain>" form from String is for logs
// and error text only.
func (q QualifiedID) IsZero() bool { return q.ID == "" && q.Domain == "" }
