// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/wireapp/lib/apperr"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

func testPassword(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	password, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating password: %v", err)
	}
	t.Cleanup(func() { password.Close() })
	return password
}

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "store.db"),
		PoolSize: 1,
		Password: testPassword(t, "store-password"),
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testTeam(t *testing.T, id string) Team {
	t.Helper()
	teamID, err := ref.ParseTeamID(id)
	if err != nil {
		t.Fatalf("ParseTeamID failed: %v", err)
	}
	selfUser, err := ref.NewQualifiedID("self-user-"+id, "wire.example.com")
	if err != nil {
		t.Fatalf("NewQualifiedID failed: %v", err)
	}
	selfClient, err := ref.ParseClientID("client-" + id)
	if err != nil {
		t.Fatalf("ParseClientID failed: %v", err)
	}
	access, err := secret.NewFromString("access-" + id)
	if err != nil {
		t.Fatalf("creating access token: %v", err)
	}
	refresh, err := secret.NewFromString("refresh-" + id)
	if err != nil {
		t.Fatalf("creating refresh token: %v", err)
	}
	team := Team{
		ID:           teamID,
		SelfUser:     selfUser,
		SelfClient:   selfClient,
		AccessToken:  access,
		RefreshToken: refresh,
	}
	t.Cleanup(team.Close)
	return team
}

func TestTeamRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	team := testTeam(t, "team-1")

	if err := s.PutTeam(ctx, team); err != nil {
		t.Fatalf("PutTeam failed: %v", err)
	}

	loaded, err := s.GetTeam(ctx, team.ID)
	if err != nil {
		t.Fatalf("GetTeam failed: %v", err)
	}
	defer loaded.Close()

	if loaded.ID != team.ID || loaded.SelfUser != team.SelfUser || loaded.SelfClient != team.SelfClient {
		t.Errorf("identity fields mismatch: %+v", loaded)
	}
	if loaded.AccessToken.String() != "access-team-1" {
		t.Errorf("access token mismatch: %q", loaded.AccessToken.String())
	}
	if loaded.RefreshToken.String() != "refresh-team-1" {
		t.Errorf("refresh token mismatch: %q", loaded.RefreshToken.String())
	}
}

func TestTeamUpsertReplacesTokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	team := testTeam(t, "team-1")
	if err := s.PutTeam(ctx, team); err != nil {
		t.Fatalf("PutTeam failed: %v", err)
	}

	// Token refresh: same team, new credentials.
	refreshed := team
	access, _ := secret.NewFromString("access-rotated")
	refresh, _ := secret.NewFromString("refresh-rotated")
	defer access.Close()
	defer refresh.Close()
	refreshed.AccessToken = access
	refreshed.RefreshToken = refresh

	if err := s.PutTeam(ctx, refreshed); err != nil {
		t.Fatalf("PutTeam (upsert) failed: %v", err)
	}

	loaded, err := s.GetTeam(ctx, team.ID)
	if err != nil {
		t.Fatalf("GetTeam failed: %v", err)
	}
	defer loaded.Close()
	if loaded.AccessToken.String() != "access-rotated" {
		t.Errorf("upsert did not replace access token: %q", loaded.AccessToken.String())
	}

	teams, err := s.GetAllTeams(ctx)
	if err != nil {
		t.Fatalf("GetAllTeams failed: %v", err)
	}
	defer func() {
		for i := range teams {
			teams[i].Close()
		}
	}()
	if len(teams) != 1 {
		t.Errorf("upsert created a duplicate row: %d teams", len(teams))
	}
}

func TestGetTeamNotFound(t *testing.T) {
	s := openTestStore(t)
	missing, _ := ref.ParseTeamID("no-such-team")
	_, err := s.GetTeam(context.Background(), missing)
	if !apperr.Is(err, apperr.EntityNotFound) {
		t.Fatalf("expected EntityNotFound, got %v", err)
	}
}

func TestTokensSealedOnDisk(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	team := testTeam(t, "team-1")
	if err := s.PutTeam(ctx, team); err != nil {
		t.Fatalf("PutTeam failed: %v", err)
	}

	// The raw row must not contain the token plaintext.
	conn, err := s.pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	defer s.pool.Put(conn)
	stmt, _, err := conn.PrepareTransient(`SELECT access_token_sealed FROM teams WHERE id = 'team-1'`)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	defer stmt.Finalize()
	if hasRow, err := stmt.Step(); err != nil || !hasRow {
		t.Fatalf("step: hasRow=%v err=%v", hasRow, err)
	}
	raw := stmt.ColumnText(0)
	if raw == "" || raw == "access-team-1" {
		t.Errorf("access token stored unsealed: %q", raw)
	}
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, _ := ref.NewQualifiedID("conv-1", "wire.example.com")
	teamID, _ := ref.ParseTeamID("team-1")
	groupID, _ := ref.ParseGroupID("Z3JvdXAtMQ==")
	conversation := Conversation{
		ID:      id,
		Name:    "engineering",
		TeamID:  teamID,
		GroupID: groupID,
		Type:    ConversationGroup,
	}

	if err := s.PutConversation(ctx, conversation); err != nil {
		t.Fatalf("PutConversation failed: %v", err)
	}
	// Redelivered create events are idempotent upserts.
	if err := s.PutConversation(ctx, conversation); err != nil {
		t.Fatalf("repeated PutConversation failed: %v", err)
	}

	loaded, err := s.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if loaded != conversation {
		t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", loaded, conversation)
	}

	t.Run("same local id different domain is distinct", func(t *testing.T) {
		other := conversation
		other.ID = ref.QualifiedID{ID: "conv-1", Domain: "other.example.com"}
		other.Name = "federated twin"
		if err := s.PutConversation(ctx, other); err != nil {
			t.Fatalf("PutConversation failed: %v", err)
		}
		all, err := s.GetAllConversations(ctx)
		if err != nil {
			t.Fatalf("GetAllConversations failed: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 conversations, got %d", len(all))
		}
	})

	t.Run("non-team conversation has zero team id", func(t *testing.T) {
		personal := Conversation{
			ID:   ref.QualifiedID{ID: "dm-1", Domain: "wire.example.com"},
			Type: ConversationOneToOne,
		}
		if err := s.PutConversation(ctx, personal); err != nil {
			t.Fatalf("PutConversation failed: %v", err)
		}
		loaded, err := s.GetConversation(ctx, personal.ID)
		if err != nil {
			t.Fatalf("GetConversation failed: %v", err)
		}
		if !loaded.TeamID.IsZero() {
			t.Errorf("expected zero team ID, got %s", loaded.TeamID)
		}
		if !loaded.GroupID.IsZero() {
			t.Errorf("expected zero group ID, got %s", loaded.GroupID)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.DeleteConversation(ctx, id); err != nil {
			t.Fatalf("DeleteConversation failed: %v", err)
		}
		if _, err := s.GetConversation(ctx, id); !apperr.Is(err, apperr.EntityNotFound) {
			t.Fatalf("expected EntityNotFound after delete, got %v", err)
		}
		// Deleting again is a no-op.
		if err := s.DeleteConversation(ctx, id); err != nil {
			t.Fatalf("second DeleteConversation failed: %v", err)
		}
	})
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.GetMetadata(ctx, "missing"); !apperr.Is(err, apperr.EntityNotFound) {
		t.Fatalf("expected EntityNotFound, got %v", err)
	}
	if err := s.SetMetadata(ctx, "last_event_id", "abc"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	if err := s.SetMetadata(ctx, "last_event_id", "def"); err != nil {
		t.Fatalf("SetMetadata (overwrite) failed: %v", err)
	}
	value, err := s.GetMetadata(ctx, "last_event_id")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if value != "def" {
		t.Errorf("unexpected value: %q", value)
	}
}

func TestReopenRequiresSamePassword(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")
	logger := slog.New(slog.DiscardHandler)

	first, err := Open(Config{Path: path, PoolSize: 1, Password: testPassword(t, "correct"), Logger: logger})
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	team := testTeam(t, "team-1")
	if err := first.PutTeam(ctx, team); err != nil {
		t.Fatalf("PutTeam failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	t.Run("wrong password rejected at open", func(t *testing.T) {
		_, err := Open(Config{Path: path, PoolSize: 1, Password: testPassword(t, "wrong"), Logger: logger})
		if !apperr.Is(err, apperr.CryptographicSystemError) {
			t.Fatalf("expected CryptographicSystemError, got %v", err)
		}
	})

	t.Run("correct password unseals tokens", func(t *testing.T) {
		reopened, err := Open(Config{Path: path, PoolSize: 1, Password: testPassword(t, "correct"), Logger: logger})
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer reopened.Close()
		loaded, err := reopened.GetTeam(ctx, team.ID)
		if err != nil {
			t.Fatalf("GetTeam failed: %v", err)
		}
		defer loaded.Close()
		if loaded.AccessToken.String() != "access-team-1" {
			t.Errorf("token did not survive reopen: %q", loaded.AccessToken.String())
		}
	})
}
