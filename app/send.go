// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/wireapp/asset"
	"github.com/bureau-foundation/wireapp/backend"
	"github.com/bureau-foundation/wireapp/lib/apperr"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/message"
	"github.com/bureau-foundation/wireapp/store"
)

// SendMessage encrypts and sends a message to its conversation. The
// conversation's group must exist locally; otherwise the call fails
// with EntityNotFound. A zero message ID is assigned.
func (a *App) SendMessage(ctx context.Context, msg message.Message) error {
	conversation, err := a.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("app: looking up conversation: %w", err)
	}
	if conversation.GroupID.IsZero() {
		return apperr.E(apperr.EntityNotFound,
			"app: conversation %s has no established group", msg.ConversationID)
	}
	rt, err := a.runtimeFor(conversation.TeamID)
	if err != nil {
		return err
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	plaintext, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("app: encoding message: %w", err)
	}
	ciphertext, err := rt.sessions.Encrypt(ctx, conversation.GroupID, plaintext)
	if err != nil {
		return fmt.Errorf("app: encrypting message: %w", err)
	}
	if _, err := rt.session.SendMLSMessage(ctx, ciphertext); err != nil {
		return err
	}
	return nil
}

// SendText sends a plain text message to a conversation.
func (a *App) SendText(ctx context.Context, conversationID ref.QualifiedID, body string) error {
	return a.SendMessage(ctx, message.Message{
		ConversationID: conversationID,
		Content:        message.Text{Body: body},
	})
}

// SendAsset uploads a file to a conversation: the bytes are encrypted
// with a fresh content key, uploaded, and announced with an Asset
// message carrying the descriptor. Two layers of encryption — the
// group layer wraps a message that references separately encrypted
// asset bytes.
func (a *App) SendAsset(ctx context.Context, conversationID ref.QualifiedID, data []byte, name, mimeType, retention string) error {
	conversation, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("app: looking up conversation: %w", err)
	}
	rt, err := a.runtimeFor(conversation.TeamID)
	if err != nil {
		return err
	}

	encrypted, err := asset.Encrypt(data)
	if err != nil {
		return fmt.Errorf("app: encrypting asset: %w", err)
	}
	upload, err := rt.session.UploadAsset(ctx, bytes.NewReader(encrypted.Ciphertext), retention)
	if err != nil {
		return err
	}

	return a.SendMessage(ctx, message.Message{
		ConversationID: conversationID,
		Content: message.Asset{
			Remote: message.RemoteAsset{
				AssetID:     upload.Key,
				Domain:      upload.Domain,
				Token:       upload.Token,
				ContentKey:  encrypted.ContentKey,
				ContentHash: encrypted.ContentHash,
				Encoding:    encrypted.Encoding,
			},
			MimeType:  mimeType,
			SizeBytes: int64(len(data)),
			Name:      name,
		},
	})
}

// DownloadAsset fetches and decrypts an asset announced in the given
// conversation. The descriptor carries everything needed: location,
// download token, content key, and the hash the plaintext is verified
// against.
func (a *App) DownloadAsset(ctx context.Context, conversationID ref.QualifiedID, remote message.RemoteAsset) ([]byte, error) {
	conversation, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("app: looking up conversation: %w", err)
	}
	rt, err := a.runtimeFor(conversation.TeamID)
	if err != nil {
		return nil, err
	}

	ciphertext, err := rt.session.DownloadAsset(ctx, remote.AssetID, remote.Domain, remote.Token)
	if err != nil {
		return nil, err
	}
	plaintext, err := asset.Decrypt(ciphertext, remote.ContentKey, remote.ContentHash, remote.Encoding)
	if err != nil {
		return nil, fmt.Errorf("app: decrypting asset: %w", err)
	}
	return plaintext, nil
}

// CreateGroupConversation creates a named group conversation with the
// given users: claims their key material, establishes the local group,
// adds them, and records the conversation on the backend. If the
// backend call fails after the local group exists, the group is wiped
// (best effort) so the next attempt starts clean.
func (a *App) CreateGroupConversation(ctx context.Context, teamID ref.TeamID, name string, users []ref.QualifiedID) (store.Conversation, error) {
	return a.createConversation(ctx, teamID, name, users, store.ConversationGroup)
}

// CreateOneToOneConversation creates (or re-creates) the direct
// conversation with one user.
func (a *App) CreateOneToOneConversation(ctx context.Context, teamID ref.TeamID, user ref.QualifiedID) (store.Conversation, error) {
	return a.createConversation(ctx, teamID, "", []ref.QualifiedID{user}, store.ConversationOneToOne)
}

func (a *App) createConversation(ctx context.Context, teamID ref.TeamID, name string, users []ref.QualifiedID, kind store.ConversationType) (store.Conversation, error) {
	rt, err := a.runtimeFor(teamID)
	if err != nil {
		return store.Conversation{}, err
	}

	claimed, err := rt.session.ClaimKeyPackages(ctx, users)
	if err != nil {
		return store.Conversation{}, err
	}
	keyPackages := make([][]byte, len(claimed))
	for i, claim := range claimed {
		keyPackages[i] = claim.KeyPackage
	}

	groupID, err := newGroupID()
	if err != nil {
		return store.Conversation{}, err
	}
	if err := rt.sessions.CreateGroup(ctx, groupID); err != nil {
		return store.Conversation{}, fmt.Errorf("app: creating group: %w", err)
	}

	response, err := a.populateGroup(ctx, rt, groupID, name, users, keyPackages, kind)
	if err != nil {
		a.rollbackGroup(ctx, rt, groupID)
		return store.Conversation{}, err
	}

	conversation := store.Conversation{
		ID:      response.QualifiedID,
		Name:    response.Name,
		TeamID:  rt.teamID,
		GroupID: groupID,
		Type:    kind,
	}
	if err := a.store.PutConversation(ctx, conversation); err != nil {
		return store.Conversation{}, fmt.Errorf("app: persisting conversation: %w", err)
	}
	return conversation, nil
}

// populateGroup performs the steps that follow local group creation:
// member addition, commit submission, and the backend conversation
// record. Failure of any of them triggers the caller's rollback.
func (a *App) populateGroup(ctx context.Context, rt *teamRuntime, groupID ref.GroupID, name string, users []ref.QualifiedID, keyPackages [][]byte, kind store.ConversationType) (backend.ConversationResponse, error) {
	if len(keyPackages) > 0 {
		bundle, err := rt.sessions.AddMembers(ctx, groupID, keyPackages)
		if err != nil {
			return backend.ConversationResponse{}, fmt.Errorf("app: adding members: %w", err)
		}
		encoded, err := bundle.Encode()
		if err != nil {
			return backend.ConversationResponse{}, err
		}
		if err := rt.session.SendCommitBundle(ctx, encoded); err != nil {
			return backend.ConversationResponse{}, err
		}
	}

	response, err := rt.session.CreateConversation(ctx, backend.CreateConversationRequest{
		Name:           name,
		GroupID:        groupID.String(),
		QualifiedUsers: users,
		Team:           rt.teamID.String(),
		Type:           int(kind),
	})
	if err != nil {
		return backend.ConversationResponse{}, err
	}
	return response, nil
}

// JoinConversation joins a conversation the app was never welcomed
// into, via external commit: fetch the public group info, build a
// provisional local group plus join commit, submit the commit, and
// only then merge the provisional state. A rejected commit clears the
// provisional state so the join can be retried against the group's
// current epoch.
func (a *App) JoinConversation(ctx context.Context, conversationID ref.QualifiedID) (store.Conversation, error) {
	conversation, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("app: looking up conversation: %w", err)
	}
	rt, err := a.runtimeFor(conversation.TeamID)
	if err != nil {
		return store.Conversation{}, err
	}

	groupInfo, err := rt.session.GetConversationGroupInfo(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	groupID, bundle, err := rt.sessions.BeginExternalJoin(ctx, groupInfo)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("app: proposing external join: %w", err)
	}
	encoded, err := bundle.Encode()
	if err != nil {
		rt.sessions.AbortExternalJoin(ctx, groupID)
		return store.Conversation{}, err
	}
	if err := rt.session.SendCommitBundle(ctx, encoded); err != nil {
		if abortErr := rt.sessions.AbortExternalJoin(ctx, groupID); abortErr != nil {
			a.logger.Error("clearing rejected external join failed",
				"group", groupID, "error", abortErr)
		}
		return store.Conversation{}, err
	}
	if err := rt.sessions.CompleteExternalJoin(ctx, groupID); err != nil {
		return store.Conversation{}, fmt.Errorf("app: merging external join: %w", err)
	}

	conversation.GroupID = groupID
	if err := a.store.PutConversation(ctx, conversation); err != nil {
		return store.Conversation{}, fmt.Errorf("app: persisting joined conversation: %w", err)
	}
	return conversation, nil
}

// rollbackGroup undoes local group creation after a backend failure.
// The wipe is best effort; if it fails, a tombstone metadata record
// marks the group so an operator can reap it later.
func (a *App) rollbackGroup(ctx context.Context, rt *teamRuntime, groupID ref.GroupID) {
	if err := rt.sessions.WipeGroup(ctx, groupID); err != nil {
		a.logger.Error("rollback wipe failed, recording tombstone",
			"team", rt.teamID, "group", groupID, "error", err)
		key := "tombstone:group:" + groupID.String()
		if err := a.store.SetMetadata(ctx, key, a.clock.Now().UTC().Format(time.RFC3339)); err != nil {
			a.logger.Error("tombstone record failed", "group", groupID, "error", err)
		}
		return
	}
	a.logger.Info("rolled back group after backend failure",
		"team", rt.teamID, "group", groupID)
}

// newGroupID mints a random group handle. The backend treats it as
// opaque; 24 random bytes in base64 mirrors the handles it mints
// itself.
func newGroupID() (ref.GroupID, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return ref.GroupID{}, fmt.Errorf("app: minting group ID: %w", err)
	}
	return ref.ParseGroupID(base64.StdEncoding.EncodeToString(raw))
}
