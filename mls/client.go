// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mls manages end-to-end encryption state: one crypto client
// per team, one ratcheting group per conversation. The SessionManager
// wraps a CryptoClient capability with per-group serialization, the
// at-most-once initialization guarantee, and the two-phase external
// join protocol; the capability itself is pluggable (the in-process
// reference implementation lives in this package, a CoreCrypto-backed
// one can be substituted without touching callers).
package mls

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/wireapp/lib/codec"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

// Sentinel errors returned by CryptoClient implementations. The
// SessionManager and the event router branch on these with errors.Is.
var (
	// ErrGroupNotFound means the group has no local state. Encrypting
	// to or decrypting from such a group is impossible.
	ErrGroupNotFound = errors.New("mls: group not found")

	// ErrGroupExists means local state for the group already exists.
	// Returned by CreateGroup and by JoinWelcome for a group the
	// client is already a member of (a backend redelivery).
	ErrGroupExists = errors.New("mls: group already exists")

	// ErrDuplicateMessage means the ciphertext was already decrypted
	// once. Ratchets are forward-only; the plaintext is gone. Callers
	// treat this as a no-op, not a failure.
	ErrDuplicateMessage = errors.New("mls: duplicate message")

	// ErrWrongEpoch means the ciphertext was produced for a different
	// group epoch than the local state holds. The local copy of the
	// group has diverged and must be rejoined.
	ErrWrongEpoch = errors.New("mls: wrong epoch")

	// ErrBadCredentials means the crypto store could not be opened
	// with the given password. Unrecoverable without operator action.
	ErrBadCredentials = errors.New("mls: bad credentials")
)

// CommitBundle is the output of a group-mutating operation: the commit
// message for existing members, an optional welcome for new members,
// and the public group info snapshot the backend serves to future
// external joiners.
type CommitBundle struct {
	Commit    []byte
	Welcome   []byte
	GroupInfo []byte
}

type commitBundleWire struct {
	Commit    []byte `cbor:"commit"`
	Welcome   []byte `cbor:"welcome,omitempty"`
	GroupInfo []byte `cbor:"group_info"`
}

// Encode serializes the bundle for submission to the backend, which
// splits it back apart to fan the commit and welcome out.
func (b CommitBundle) Encode() ([]byte, error) {
	data, err := codec.Marshal(commitBundleWire{
		Commit:    b.Commit,
		Welcome:   b.Welcome,
		GroupInfo: b.GroupInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("mls: encoding commit bundle: %w", err)
	}
	return data, nil
}

// CryptoClient is the low-level capability the SessionManager drives.
// Implementations own the key material; callers never see secrets
// other than through Encrypt/Decrypt. All methods are safe for
// concurrent use.
type CryptoClient interface {
	// Init opens (or creates) the client's key store. Called exactly
	// once before any other method. A wrong password returns
	// ErrBadCredentials.
	Init(ctx context.Context, clientID ref.ClientID, password *secret.Buffer) error

	// Close releases key material. The client is unusable afterwards.
	Close() error

	// PublicKey returns the client's public signature key, uploaded
	// to the backend during client registration.
	PublicKey(ctx context.Context) ([]byte, error)

	// GenerateKeyPackages mints count fresh single-use key packages
	// for the backend's claim pool.
	GenerateKeyPackages(ctx context.Context, count int) ([][]byte, error)

	// CreateGroup initializes local state for a brand-new group with
	// this client as the only member. ErrGroupExists if state is
	// already present.
	CreateGroup(ctx context.Context, groupID ref.GroupID) error

	// GroupExists reports whether local state exists for the group.
	GroupExists(ctx context.Context, groupID ref.GroupID) (bool, error)

	// WipeGroup discards local state for the group. Wiping an
	// unknown group is a no-op.
	WipeGroup(ctx context.Context, groupID ref.GroupID) error

	// JoinWelcome consumes a welcome message and establishes group
	// state, returning the joined group's ID. ErrGroupExists if the
	// client already has state for that group.
	JoinWelcome(ctx context.Context, welcome []byte) (ref.GroupID, error)

	// ExternalCommitPropose builds an external-join commit from a
	// public group info snapshot. The resulting state is PENDING: it
	// must be either merged (after the backend accepted the commit)
	// or cleared (after it rejected it).
	ExternalCommitPropose(ctx context.Context, groupInfo []byte) (ref.GroupID, CommitBundle, error)

	// ExternalCommitMerge promotes a pending external join to real
	// group state.
	ExternalCommitMerge(ctx context.Context, groupID ref.GroupID) error

	// ExternalCommitClear discards a pending external join.
	ExternalCommitClear(ctx context.Context, groupID ref.GroupID) error

	// AddMembers commits new members (by their claimed key packages)
	// into the group, advancing the epoch.
	AddMembers(ctx context.Context, groupID ref.GroupID, keyPackages [][]byte) (CommitBundle, error)

	// Encrypt encrypts an application message to the group.
	Encrypt(ctx context.Context, groupID ref.GroupID, plaintext []byte) ([]byte, error)

	// Decrypt decrypts a group message. Application messages yield
	// plaintext; protocol messages (commits from other members) are
	// applied to local state and yield a nil plaintext with a nil
	// error. Replays return ErrDuplicateMessage, epoch divergence
	// returns ErrWrongEpoch.
	Decrypt(ctx context.Context, groupID ref.GroupID, ciphertext []byte) ([]byte, error)
}
