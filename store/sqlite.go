// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/wireapp/lib/apperr"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/sealed"
	"github.com/bureau-foundation/wireapp/lib/secret"
	"github.com/bureau-foundation/wireapp/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS teams (
	id                  TEXT PRIMARY KEY,
	self_user_id        TEXT NOT NULL,
	self_user_domain    TEXT NOT NULL,
	self_client_id      TEXT NOT NULL,
	access_token_sealed TEXT NOT NULL,
	refresh_token_sealed TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id       TEXT NOT NULL,
	domain   TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	team_id  TEXT,
	group_id TEXT NOT NULL DEFAULT '',
	type     INTEGER NOT NULL,
	PRIMARY KEY (id, domain)
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Metadata keys reserved by the store itself.
const (
	metaPublicKey         = "app_public_key"
	metaWrappedPrivateKey = "app_private_key_wrapped"
)

// Config holds the parameters for opening a SQLite store.
type Config struct {
	// Path is the database file, created if absent. The pool opens
	// multiple connections, so a plain ":memory:" path does not work;
	// tests use a file under t.TempDir().
	Path string

	// Password unwraps (or, on first open, wraps) the app keypair
	// that seals team tokens. Borrowed for the duration of Open.
	Password *secret.Buffer

	// PoolSize passes through to the connection pool.
	PoolSize int

	// Logger receives operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// SQLite is the Repository implementation backed by a SQLite database.
type SQLite struct {
	pool       *sqlitepool.Pool
	logger     *slog.Logger
	publicKey  string
	privateKey *secret.Buffer
}

var _ Repository = (*SQLite)(nil)

// Open opens (creating if necessary) the store and unseals the app
// keypair. A wrong password fails here, before any entity is read.
func Open(cfg Config) (*SQLite, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Password == nil || cfg.Password.Len() == 0 {
		return nil, apperr.E(apperr.MissingParameter, "store password is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.DatabaseError, err, "opening entity store")
	}

	s := &SQLite{pool: pool, logger: logger}
	if err := s.loadKeypair(context.Background(), cfg.Password); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// loadKeypair loads and unwraps the app keypair, generating and
// persisting a fresh one on first open.
func (s *SQLite) loadKeypair(ctx context.Context, password *secret.Buffer) error {
	publicKey, err := s.GetMetadata(ctx, metaPublicKey)
	switch {
	case apperr.Is(err, apperr.EntityNotFound):
		keypair, err := sealed.GenerateKeypair()
		if err != nil {
			return apperr.Wrap(apperr.CryptographicSystemError, err, "generating app keypair")
		}
		wrapped, err := sealed.WrapPrivateKey(keypair, password)
		if err != nil {
			keypair.Close()
			return apperr.Wrap(apperr.CryptographicSystemError, err, "wrapping app private key")
		}
		if err := s.SetMetadata(ctx, metaPublicKey, keypair.PublicKey); err != nil {
			keypair.Close()
			return err
		}
		if err := s.SetMetadata(ctx, metaWrappedPrivateKey, wrapped); err != nil {
			keypair.Close()
			return err
		}
		s.publicKey = keypair.PublicKey
		s.privateKey = keypair.PrivateKey
		s.logger.Info("generated app keypair for token sealing")
		return nil

	case err != nil:
		return err
	}

	if err := sealed.ParsePublicKey(publicKey); err != nil {
		return apperr.Wrap(apperr.CryptographicSystemError, err, "stored app public key is invalid")
	}
	wrapped, err := s.GetMetadata(ctx, metaWrappedPrivateKey)
	if err != nil {
		return err
	}
	privateKey, err := sealed.UnwrapPrivateKey(wrapped, password)
	if err != nil {
		return apperr.Wrap(apperr.CryptographicSystemError, err, "unwrapping app private key (wrong store password?)")
	}
	s.publicKey = publicKey
	s.privateKey = privateKey
	return nil
}

// Close releases the key material and the connection pool.
func (s *SQLite) Close() error {
	if s.privateKey != nil {
		s.privateKey.Close()
		s.privateKey = nil
	}
	return s.pool.Close()
}

func (s *SQLite) PutTeam(ctx context.Context, team Team) error {
	if team.ID.IsZero() {
		return apperr.E(apperr.MissingParameter, "team ID is required")
	}
	if team.SelfUser.IsZero() {
		return apperr.E(apperr.MissingParameter, "team %s has no self user", team.ID)
	}
	if team.AccessToken == nil || team.RefreshToken == nil {
		return apperr.E(apperr.MissingParameter, "team %s has no tokens", team.ID)
	}

	accessSealed, err := sealed.Encrypt(team.AccessToken.Bytes(), s.publicKey)
	if err != nil {
		return apperr.Wrap(apperr.CryptographicSystemError, err, "sealing access token for team %s", team.ID)
	}
	refreshSealed, err := sealed.Encrypt(team.RefreshToken.Bytes(), s.publicKey)
	if err != nil {
		return apperr.Wrap(apperr.CryptographicSystemError, err, "sealing refresh token for team %s", team.ID)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "storing team %s", team.ID)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO teams (id, self_user_id, self_user_domain, self_client_id, access_token_sealed, refresh_token_sealed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			self_user_id = excluded.self_user_id,
			self_user_domain = excluded.self_user_domain,
			self_client_id = excluded.self_client_id,
			access_token_sealed = excluded.access_token_sealed,
			refresh_token_sealed = excluded.refresh_token_sealed`,
		&sqlitex.ExecOptions{
			Args: []any{
				team.ID.String(),
				team.SelfUser.ID,
				team.SelfUser.Domain,
				team.SelfClient.String(),
				accessSealed,
				refreshSealed,
			},
		})
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "storing team %s", team.ID)
	}
	return nil
}

func (s *SQLite) GetTeam(ctx context.Context, id ref.TeamID) (Team, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Team{}, apperr.Wrap(apperr.DatabaseError, err, "loading team %s", id)
	}
	defer s.pool.Put(conn)

	var team Team
	found := false
	err = sqlitex.Execute(conn, `
		SELECT id, self_user_id, self_user_domain, self_client_id, access_token_sealed, refresh_token_sealed
		FROM teams WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				loaded, err := s.scanTeam(stmt)
				if err != nil {
					return err
				}
				team = loaded
				return nil
			},
		})
	if err != nil {
		return Team{}, apperr.Wrap(apperr.DatabaseError, err, "loading team %s", id)
	}
	if !found {
		return Team{}, apperr.E(apperr.EntityNotFound, "team %s not found", id)
	}
	return team, nil
}

func (s *SQLite) GetAllTeams(ctx context.Context) ([]Team, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.DatabaseError, err, "loading teams")
	}
	defer s.pool.Put(conn)

	var teams []Team
	err = sqlitex.Execute(conn, `
		SELECT id, self_user_id, self_user_domain, self_client_id, access_token_sealed, refresh_token_sealed
		FROM teams ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				team, err := s.scanTeam(stmt)
				if err != nil {
					return err
				}
				teams = append(teams, team)
				return nil
			},
		})
	if err != nil {
		for i := range teams {
			teams[i].Close()
		}
		return nil, apperr.Wrap(apperr.DatabaseError, err, "loading teams")
	}
	return teams, nil
}

// scanTeam decodes one teams row, unsealing both tokens.
func (s *SQLite) scanTeam(stmt *sqlite.Stmt) (Team, error) {
	teamID, err := ref.ParseTeamID(stmt.ColumnText(0))
	if err != nil {
		return Team{}, fmt.Errorf("stored team has invalid ID: %w", err)
	}
	selfUser, err := ref.NewQualifiedID(stmt.ColumnText(1), stmt.ColumnText(2))
	if err != nil {
		return Team{}, fmt.Errorf("stored team %s has invalid self user: %w", teamID, err)
	}
	selfClient, err := ref.ParseClientID(stmt.ColumnText(3))
	if err != nil {
		return Team{}, fmt.Errorf("stored team %s has invalid client ID: %w", teamID, err)
	}

	accessToken, err := sealed.Decrypt(stmt.ColumnText(4), s.privateKey)
	if err != nil {
		return Team{}, fmt.Errorf("unsealing access token for team %s: %w", teamID, err)
	}
	refreshToken, err := sealed.Decrypt(stmt.ColumnText(5), s.privateKey)
	if err != nil {
		accessToken.Close()
		return Team{}, fmt.Errorf("unsealing refresh token for team %s: %w", teamID, err)
	}

	return Team{
		ID:           teamID,
		SelfUser:     selfUser,
		SelfClient:   selfClient,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (s *SQLite) PutConversation(ctx context.Context, conversation Conversation) error {
	if conversation.ID.IsZero() {
		return apperr.E(apperr.MissingParameter, "conversation ID is required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "storing conversation %s", conversation.ID)
	}
	defer s.pool.Put(conn)

	var teamID any
	if !conversation.TeamID.IsZero() {
		teamID = conversation.TeamID.String()
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO conversations (id, domain, name, team_id, group_id, type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, domain) DO UPDATE SET
			name = excluded.name,
			team_id = excluded.team_id,
			group_id = excluded.group_id,
			type = excluded.type`,
		&sqlitex.ExecOptions{
			Args: []any{
				conversation.ID.ID,
				conversation.ID.Domain,
				conversation.Name,
				teamID,
				conversation.GroupID.String(),
				int(conversation.Type),
			},
		})
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "storing conversation %s", conversation.ID)
	}
	return nil
}

func (s *SQLite) GetConversation(ctx context.Context, id ref.QualifiedID) (Conversation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Conversation{}, apperr.Wrap(apperr.DatabaseError, err, "loading conversation %s", id)
	}
	defer s.pool.Put(conn)

	var conversation Conversation
	found := false
	err = sqlitex.Execute(conn, `
		SELECT id, domain, name, team_id, group_id, type
		FROM conversations WHERE id = ? AND domain = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.ID, id.Domain},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				loaded, err := scanConversation(stmt)
				if err != nil {
					return err
				}
				conversation = loaded
				return nil
			},
		})
	if err != nil {
		return Conversation{}, apperr.Wrap(apperr.DatabaseError, err, "loading conversation %s", id)
	}
	if !found {
		return Conversation{}, apperr.E(apperr.EntityNotFound, "conversation %s not found", id)
	}
	return conversation, nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, id ref.QualifiedID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "deleting conversation %s", id)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM conversations WHERE id = ? AND domain = ?`,
		&sqlitex.ExecOptions{Args: []any{id.ID, id.Domain}})
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "deleting conversation %s", id)
	}
	return nil
}

func (s *SQLite) GetAllConversations(ctx context.Context) ([]Conversation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.DatabaseError, err, "loading conversations")
	}
	defer s.pool.Put(conn)

	var conversations []Conversation
	err = sqlitex.Execute(conn, `
		SELECT id, domain, name, team_id, group_id, type
		FROM conversations ORDER BY domain, id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				conversation, err := scanConversation(stmt)
				if err != nil {
					return err
				}
				conversations = append(conversations, conversation)
				return nil
			},
		})
	if err != nil {
		return nil, apperr.Wrap(apperr.DatabaseError, err, "loading conversations")
	}
	return conversations, nil
}

func scanConversation(stmt *sqlite.Stmt) (Conversation, error) {
	id, err := ref.NewQualifiedID(stmt.ColumnText(0), stmt.ColumnText(1))
	if err != nil {
		return Conversation{}, fmt.Errorf("stored conversation has invalid ID: %w", err)
	}

	conversation := Conversation{
		ID:   id,
		Name: stmt.ColumnText(2),
		Type: ConversationType(stmt.ColumnInt(5)),
	}
	if stmt.ColumnType(3) != sqlite.TypeNull {
		teamID, err := ref.ParseTeamID(stmt.ColumnText(3))
		if err != nil {
			return Conversation{}, fmt.Errorf("stored conversation %s has invalid team ID: %w", id, err)
		}
		conversation.TeamID = teamID
	}
	if raw := stmt.ColumnText(4); raw != "" {
		groupID, err := ref.ParseGroupID(raw)
		if err != nil {
			return Conversation{}, fmt.Errorf("stored conversation %s has invalid group ID: %w", id, err)
		}
		conversation.GroupID = groupID
	}
	return conversation, nil
}

func (s *SQLite) GetMetadata(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.DatabaseError, err, "loading metadata %q", key)
	}
	defer s.pool.Put(conn)

	var value string
	found := false
	err = sqlitex.Execute(conn, `SELECT value FROM metadata WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				value = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", apperr.Wrap(apperr.DatabaseError, err, "loading metadata %q", key)
	}
	if !found {
		return "", apperr.E(apperr.EntityNotFound, "metadata %q not found", key)
	}
	return value, nil
}

func (s *SQLite) SetMetadata(ctx context.Context, key, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "storing metadata %q", key)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return apperr.Wrap(apperr.DatabaseError, err, "storing metadata %q", key)
	}
	return nil
}
