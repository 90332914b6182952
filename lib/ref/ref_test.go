// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestQualifiedID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		id, err := NewQualifiedID("3f7d2a90-5f4f-4b1c-a2c1-9d7e1b6e2f55", "wire.example.com")
		if err != nil {
			t.Fatalf("NewQualifiedID failed: %v", err)
		}
		if id.String() != "3f7d2a90-5f4f-4b1c-a2c1-9d7e1b6e2f55@wire.example.com" {
			t.Errorf("unexpected string form: %s", id)
		}
	})

	t.Run("empty domain rejected", func(t *testing.T) {
		if _, err := NewQualifiedID("abc", ""); err == nil {
			t.Fatal("expected error for empty domain")
		}
	})

	t.Run("empty local part rejected", func(t *testing.T) {
		if _, err := NewQualifiedID("", "wire.example.com"); err == nil {
			t.Fatal("expected error for empty local part")
		}
	})

	t.Run("equality requires both fields", func(t *testing.T) {
		a := QualifiedID{ID: "x", Domain: "a.example"}
		b := QualifiedID{ID: "x", Domain: "b.example"}
		if a == b {
			t.Error("IDs on different domains must not be equal")
		}
	})

	t.Run("parse round-trip", func(t *testing.T) {
		id, err := ParseQualifiedID("abc@wire.example.com")
		if err != nil {
			t.Fatalf("ParseQualifiedID failed: %v", err)
		}
		if id.ID != "abc" || id.Domain != "wire.example.com" {
			t.Errorf("unexpected parse result: %+v", id)
		}
	})

	t.Run("parse rejects missing domain", func(t *testing.T) {
		if _, err := ParseQualifiedID("abc"); err == nil {
			t.Fatal("expected error for identifier without domain")
		}
	})

	t.Run("json object form", func(t *testing.T) {
		id := QualifiedID{ID: "abc", Domain: "wire.example.com"}
		data, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		expected := `{"id":"abc","domain":"wire.example.com"}`
		if string(data) != expected {
			t.Errorf("unexpected JSON: %s", data)
		}

		var decoded QualifiedID
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if decoded != id {
			t.Errorf("round-trip mismatch: %+v", decoded)
		}
	})
}

func TestOpaqueIDs(t *testing.T) {
	t.Run("group", func(t *testing.T) {
		if _, err := ParseGroupID(""); err == nil {
			t.Fatal("expected error for empty group ID")
		}
		group, err := ParseGroupID("AAEC/w==")
		if err != nil {
			t.Fatalf("ParseGroupID failed: %v", err)
		}
		if group.String() != "AAEC/w==" {
			t.Errorf("unexpected group ID: %s", group)
		}
		if group.IsZero() {
			t.Error("parsed group ID should not be zero")
		}
		if !(GroupID{}).IsZero() {
			t.Error("zero group ID should report IsZero")
		}
	})

	t.Run("team and client", func(t *testing.T) {
		if _, err := ParseTeamID(""); err == nil {
			t.Fatal("expected error for empty team ID")
		}
		if _, err := ParseClientID(""); err == nil {
			t.Fatal("expected error for empty client ID")
		}
		team, _ := ParseTeamID("team-1")
		client, _ := ParseClientID("c0ffee")
		if team.String() != "team-1" || client.String() != "c0ffee" {
			t.Error("opaque IDs must round-trip unchanged")
		}
	})

	t.Run("text unmarshal validates", func(t *testing.T) {
		var group GroupID
		if err := group.UnmarshalText([]byte("grp")); err != nil {
			t.Fatalf("UnmarshalText failed: %v", err)
		}
		if group.String() != "grp" {
			t.Errorf("unexpected value: %s", group)
		}
		if err := group.UnmarshalText(nil); err != nil {
			t.Fatalf("empty input should produce zero value: %v", err)
		}
		if !group.IsZero() {
			t.Error("empty input should reset to zero value")
		}
	})
}
