// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		err := E(EntityNotFound, "conversation %s unknown", "abc")
		if !Is(err, EntityNotFound) {
			t.Error("Is should match the error's own kind")
		}
		if Is(err, Forbidden) {
			t.Error("Is must not match a different kind")
		}
		if KindOf(err) != EntityNotFound {
			t.Errorf("unexpected kind: %v", KindOf(err))
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		inner := E(Unauthorized, "token expired")
		outer := fmt.Errorf("opening stream: %w", inner)
		if !Is(outer, Unauthorized) {
			t.Error("Is should see through fmt.Errorf wrapping")
		}
	})

	t.Run("non-taxonomy error", func(t *testing.T) {
		if KindOf(errors.New("plain")) != Unknown {
			t.Error("plain errors should report Unknown")
		}
		if Is(nil, Unknown) {
			t.Error("nil should never match")
		}
	})
}

func TestLabel(t *testing.T) {
	err := &Error{
		Kind:       ClientError,
		Message:    "The referenced MLS epoch is too old",
		Label:      "mls-stale-message",
		StatusCode: 409,
	}
	wrapped := fmt.Errorf("sending message: %w", err)
	if LabelOf(wrapped) != "mls-stale-message" {
		t.Errorf("unexpected label: %q", LabelOf(wrapped))
	}
	if LabelOf(errors.New("plain")) != "" {
		t.Error("plain errors have no label")
	}
}

func TestErrorText(t *testing.T) {
	err := Wrap(DatabaseError, errors.New("disk I/O error"), "persisting conversation")
	want := "database-error: persisting conversation: disk I/O error"
	if err.Error() != want {
		t.Errorf("unexpected error text: %s", err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose the cause")
	}
}
