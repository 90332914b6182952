// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the entity repository: durable records for teams,
// conversations, and app metadata. The SQLite implementation keeps
// team credentials sealed at rest — access and refresh tokens are age-
// encrypted to an app keypair whose private half is wrapped with the
// store password, so the database file alone reveals no credentials.
package store

import (
	"context"

	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

// Team is one workspace the app has been invited into, with the
// credentials and identity the app uses there. Teams are created on
// invite acceptance and never deleted; tokens are replaced by the
// refresh flow.
type Team struct {
	ID ref.TeamID

	// SelfUser is the app's own qualified user identity on this
	// team's backend.
	SelfUser ref.QualifiedID

	// SelfClient is the app's registered device identity.
	SelfClient ref.ClientID

	// AccessToken and RefreshToken are held in protected memory and
	// sealed before they touch disk. The repository returns fresh
	// buffers from GetTeam; the caller owns them.
	AccessToken  *secret.Buffer
	RefreshToken *secret.Buffer
}

// Close releases the team's token buffers. Safe on a zero Team.
func (t *Team) Close() {
	if t.AccessToken != nil {
		t.AccessToken.Close()
	}
	if t.RefreshToken != nil {
		t.RefreshToken.Close()
	}
}

// ConversationType distinguishes the three conversation shapes.
type ConversationType int

const (
	ConversationGroup    ConversationType = 0
	ConversationSelf     ConversationType = 1
	ConversationOneToOne ConversationType = 2
)

func (t ConversationType) String() string {
	switch t {
	case ConversationGroup:
		return "group"
	case ConversationSelf:
		return "self"
	case ConversationOneToOne:
		return "one-to-one"
	default:
		return "invalid"
	}
}

// Conversation is one conversation the app participates in. GroupID is
// assigned when the encrypted group is established and immutable
// afterwards; every non-SELF conversation needs one before messages
// can flow.
type Conversation struct {
	ID   ref.QualifiedID
	Name string

	// TeamID is zero for conversations outside any team.
	TeamID ref.TeamID

	GroupID ref.GroupID
	Type    ConversationType
}

// Repository is the persistence capability the rest of the SDK
// depends on. All writes are idempotent upserts (redelivered events
// must be harmless); reads of absent entities return EntityNotFound.
// Implementations are safe for concurrent use across team goroutines.
type Repository interface {
	// PutTeam inserts or replaces a team record.
	PutTeam(ctx context.Context, team Team) error

	// GetTeam loads one team with its tokens unsealed. The caller
	// owns the returned token buffers.
	GetTeam(ctx context.Context, id ref.TeamID) (Team, error)

	// GetAllTeams loads every stored team.
	GetAllTeams(ctx context.Context) ([]Team, error)

	// PutConversation inserts or replaces a conversation record.
	PutConversation(ctx context.Context, conversation Conversation) error

	// GetConversation loads one conversation by its qualified ID.
	GetConversation(ctx context.Context, id ref.QualifiedID) (Conversation, error)

	// DeleteConversation removes a conversation record. Deleting an
	// unknown conversation is a no-op.
	DeleteConversation(ctx context.Context, id ref.QualifiedID) error

	// GetAllConversations loads every stored conversation.
	GetAllConversations(ctx context.Context) ([]Conversation, error)

	// GetMetadata reads an app metadata value. EntityNotFound if the
	// key is absent.
	GetMetadata(ctx context.Context, key string) (string, error)

	// SetMetadata writes an app metadata value.
	SetMetadata(ctx context.Context, key, value string) error

	// Close releases the underlying storage and key material.
	Close() error
}
