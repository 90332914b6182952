// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for the Wire backend:
// qualified (federated) user and conversation identifiers, team IDs,
// client IDs, and opaque MLS group handles.
//
// All types are immutable value types parsed at the boundary where raw
// strings enter the program (API responses, stored rows, config). Code
// past the boundary works with the validated type and never re-checks
// the format. The zero value of every type is invalid; use IsZero.
package ref
