// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/wireapp/lib/apperr"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

// SessionManager serializes access to one team's CryptoClient. It
// guarantees:
//
//   - initialization happens at most once, even under concurrent
//     callers; a failed initialization is sticky (the stored error is
//     returned on every later call, the password is never retried)
//   - operations on the same group are strictly serialized, while
//     different groups proceed in parallel
//   - replayed ciphertexts decrypt to a nil plaintext instead of an
//     error, so redelivered events are silent no-ops
type SessionManager struct {
	client CryptoClient
	logger *slog.Logger

	initMu   sync.Mutex
	initDone bool
	initErr  error

	groupMu    sync.Mutex
	groupLocks map[string]*sync.Mutex
}

// NewSessionManager wraps a CryptoClient. A nil logger uses
// slog.Default().
func NewSessionManager(client CryptoClient, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		client:     client,
		logger:     logger,
		groupLocks: make(map[string]*sync.Mutex),
	}
}

// EnsureInitialized opens the crypto store if it is not open yet.
// Concurrent callers block until the single initialization attempt
// finishes and all observe its result. A wrong password is fatal: the
// error is remembered and the attempt is never repeated, because
// retrying a wrong password against a real key store risks tripping
// its lockout.
func (m *SessionManager) EnsureInitialized(ctx context.Context, clientID ref.ClientID, password *secret.Buffer) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initErr != nil {
		return m.initErr
	}
	if m.initDone {
		return nil
	}

	if err := m.client.Init(ctx, clientID, password); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			m.initErr = apperr.Wrap(apperr.CryptographicSystemError, err,
				"crypto store rejected credentials for client %s", clientID)
			return m.initErr
		}
		// Transient failures (ctx cancellation, I/O) are not sticky;
		// the next caller may succeed.
		return apperr.Wrap(apperr.CryptographicSystemError, err,
			"initializing crypto client %s", clientID)
	}

	m.initDone = true
	m.logger.Debug("crypto client initialized", "client", clientID)
	return nil
}

// Initialized reports whether a successful initialization happened.
func (m *SessionManager) Initialized() bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initDone
}

// Close releases the underlying client's key material.
func (m *SessionManager) Close() error {
	return m.client.Close()
}

// PublicKey returns the client's public signature key.
func (m *SessionManager) PublicKey(ctx context.Context) ([]byte, error) {
	return m.client.PublicKey(ctx)
}

// GenerateKeyPackages mints fresh key packages for upload.
func (m *SessionManager) GenerateKeyPackages(ctx context.Context, count int) ([][]byte, error) {
	return m.client.GenerateKeyPackages(ctx, count)
}

// CreateGroup initializes a new single-member group.
func (m *SessionManager) CreateGroup(ctx context.Context, groupID ref.GroupID) error {
	lock := m.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()
	return m.client.CreateGroup(ctx, groupID)
}

// GroupExists reports whether local state exists for the group.
func (m *SessionManager) GroupExists(ctx context.Context, groupID ref.GroupID) (bool, error) {
	return m.client.GroupExists(ctx, groupID)
}

// WipeGroup discards local state for the group.
func (m *SessionManager) WipeGroup(ctx context.Context, groupID ref.GroupID) error {
	lock := m.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()
	return m.client.WipeGroup(ctx, groupID)
}

// JoinViaWelcome consumes a welcome message. A welcome for a group the
// client already belongs to returns ErrGroupExists; the caller treats
// that as a redelivery, not a failure.
func (m *SessionManager) JoinViaWelcome(ctx context.Context, welcome []byte) (ref.GroupID, error) {
	groupID, err := m.client.JoinWelcome(ctx, welcome)
	if err != nil {
		return ref.GroupID{}, err
	}
	m.logger.Info("joined group via welcome", "group", groupID)
	return groupID, nil
}

// BeginExternalJoin builds an external-join commit from the public
// group info. The join is not effective until CompleteExternalJoin; if
// the backend rejects the commit, AbortExternalJoin must discard the
// pending state.
func (m *SessionManager) BeginExternalJoin(ctx context.Context, groupInfo []byte) (ref.GroupID, CommitBundle, error) {
	return m.client.ExternalCommitPropose(ctx, groupInfo)
}

// CompleteExternalJoin promotes a pending external join after the
// backend accepted the commit.
func (m *SessionManager) CompleteExternalJoin(ctx context.Context, groupID ref.GroupID) error {
	lock := m.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()
	if err := m.client.ExternalCommitMerge(ctx, groupID); err != nil {
		return err
	}
	m.logger.Info("joined group via external commit", "group", groupID)
	return nil
}

// AbortExternalJoin discards a pending external join after the backend
// rejected the commit.
func (m *SessionManager) AbortExternalJoin(ctx context.Context, groupID ref.GroupID) error {
	lock := m.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()
	return m.client.ExternalCommitClear(ctx, groupID)
}

// AddMembers commits new members into the group.
func (m *SessionManager) AddMembers(ctx context.Context, groupID ref.GroupID, keyPackages [][]byte) (CommitBundle, error) {
	lock := m.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	bundle, err := m.client.AddMembers(ctx, groupID, keyPackages)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return CommitBundle{}, apperr.Wrap(apperr.EntityNotFound, err,
				"adding members to unknown group %s", groupID)
		}
		return CommitBundle{}, err
	}
	return bundle, nil
}

// Encrypt encrypts an application message to the group. Encrypting to
// a group with no local state is an EntityNotFound error.
func (m *SessionManager) Encrypt(ctx context.Context, groupID ref.GroupID, plaintext []byte) ([]byte, error) {
	lock := m.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	ciphertext, err := m.client.Encrypt(ctx, groupID, plaintext)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return nil, apperr.Wrap(apperr.EntityNotFound, err,
				"encrypting to unknown group %s", groupID)
		}
		return nil, err
	}
	return ciphertext, nil
}

// Decrypt decrypts a group message.
//
// The return contract mirrors the three outcomes event routing cares
// about: (plaintext, nil) for an application message; (nil, nil) for
// anything that advanced state but carries no application payload —
// protocol commits, and replays of already-processed ciphertexts;
// (nil, err) for real failures, including ErrWrongEpoch when the
// local group state has diverged.
func (m *SessionManager) Decrypt(ctx context.Context, groupID ref.GroupID, ciphertext []byte) ([]byte, error) {
	lock := m.lockFor(groupID)
	lock.Lock()
	defer lock.Unlock()

	plaintext, err := m.client.Decrypt(ctx, groupID, ciphertext)
	if err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			m.logger.Debug("dropping replayed ciphertext", "group", groupID)
			return nil, nil
		}
		if errors.Is(err, ErrGroupNotFound) {
			return nil, apperr.Wrap(apperr.EntityNotFound, err,
				"decrypting for unknown group %s", groupID)
		}
		if errors.Is(err, ErrWrongEpoch) {
			return nil, apperr.Wrap(apperr.CryptographicSystemError, err,
				"local state for group %s has diverged", groupID)
		}
		return nil, fmt.Errorf("decrypting message for group %s: %w", groupID, err)
	}
	return plaintext, nil
}

func (m *SessionManager) lockFor(groupID ref.GroupID) *sync.Mutex {
	m.groupMu.Lock()
	defer m.groupMu.Unlock()
	key := groupID.String()
	lock, ok := m.groupLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.groupLocks[key] = lock
	}
	return lock
}
