// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mls

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

func newTestClient(t *testing.T, id string) *ReferenceClient {
	t.Helper()
	client := NewReferenceClient()
	password, err := secret.NewFromString("store-password")
	if err != nil {
		t.Fatalf("creating password: %v", err)
	}
	t.Cleanup(func() { password.Close() })

	clientID, err := ref.ParseClientID(id)
	if err != nil {
		t.Fatalf("ParseClientID failed: %v", err)
	}
	if err := client.Init(context.Background(), clientID, password); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func testGroupID(t *testing.T) ref.GroupID {
	t.Helper()
	groupID, err := ref.ParseGroupID("dGVzdC1ncm91cA==")
	if err != nil {
		t.Fatalf("ParseGroupID failed: %v", err)
	}
	return groupID
}

func TestReferenceClientInit(t *testing.T) {
	t.Run("empty password rejected", func(t *testing.T) {
		client := NewReferenceClient()
		clientID, _ := ref.ParseClientID("c1")
		err := client.Init(context.Background(), clientID, nil)
		if !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("expected ErrBadCredentials, got %v", err)
		}
	})

	t.Run("double init rejected", func(t *testing.T) {
		client := newTestClient(t, "c1")
		password, _ := secret.NewFromString("pw")
		defer password.Close()
		clientID, _ := ref.ParseClientID("c1")
		if err := client.Init(context.Background(), clientID, password); err == nil {
			t.Fatal("expected error for second Init")
		}
	})

	t.Run("public key stable", func(t *testing.T) {
		client := newTestClient(t, "c1")
		first, err := client.PublicKey(context.Background())
		if err != nil {
			t.Fatalf("PublicKey failed: %v", err)
		}
		second, _ := client.PublicKey(context.Background())
		if !bytes.Equal(first, second) {
			t.Error("public key changed between calls")
		}
		if len(first) != 32 {
			t.Errorf("unexpected key length %d", len(first))
		}
	})
}

func TestGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	alice := newTestClient(t, "alice-device")
	bob := newTestClient(t, "bob-device")
	groupID := testGroupID(t)

	if err := alice.CreateGroup(ctx, groupID); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := alice.CreateGroup(ctx, groupID); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("second CreateGroup: expected ErrGroupExists, got %v", err)
	}

	// Bob publishes key packages; Alice claims one and adds him.
	bobPackages, err := bob.GenerateKeyPackages(ctx, 2)
	if err != nil {
		t.Fatalf("GenerateKeyPackages failed: %v", err)
	}
	bundle, err := alice.AddMembers(ctx, groupID, bobPackages[:1])
	if err != nil {
		t.Fatalf("AddMembers failed: %v", err)
	}
	if bundle.Welcome == nil || bundle.Commit == nil || bundle.GroupInfo == nil {
		t.Fatal("commit bundle is missing parts")
	}

	joined, err := bob.JoinWelcome(ctx, bundle.Welcome)
	if err != nil {
		t.Fatalf("JoinWelcome failed: %v", err)
	}
	if joined != groupID {
		t.Fatalf("joined wrong group: %s", joined)
	}
	if _, err := bob.JoinWelcome(ctx, bundle.Welcome); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("redelivered welcome: expected ErrGroupExists, got %v", err)
	}

	t.Run("message round-trip", func(t *testing.T) {
		ciphertext, err := alice.Encrypt(ctx, groupID, []byte("hello bob"))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		plaintext, err := bob.Decrypt(ctx, groupID, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if string(plaintext) != "hello bob" {
			t.Errorf("unexpected plaintext: %q", plaintext)
		}

		if _, err := bob.Decrypt(ctx, groupID, ciphertext); !errors.Is(err, ErrDuplicateMessage) {
			t.Fatalf("replay: expected ErrDuplicateMessage, got %v", err)
		}
	})

	t.Run("external join converges", func(t *testing.T) {
		carol := newTestClient(t, "carol-device")

		carolGroup, carolBundle, err := carol.ExternalCommitPropose(ctx, bundle.GroupInfo)
		if err != nil {
			t.Fatalf("ExternalCommitPropose failed: %v", err)
		}
		if carolGroup != groupID {
			t.Fatalf("external join targeted wrong group: %s", carolGroup)
		}

		// Until the merge, Carol has no usable group state.
		if _, err := carol.Encrypt(ctx, groupID, []byte("too early")); !errors.Is(err, ErrGroupNotFound) {
			t.Fatalf("pre-merge encrypt: expected ErrGroupNotFound, got %v", err)
		}
		if err := carol.ExternalCommitMerge(ctx, groupID); err != nil {
			t.Fatalf("ExternalCommitMerge failed: %v", err)
		}

		// Existing members process Carol's commit and ratchet forward.
		for name, member := range map[string]*ReferenceClient{"alice": alice, "bob": bob} {
			plaintext, err := member.Decrypt(ctx, groupID, carolBundle.Commit)
			if err != nil {
				t.Fatalf("%s processing external commit: %v", name, err)
			}
			if plaintext != nil {
				t.Fatalf("%s: commit produced application plaintext", name)
			}
		}

		ciphertext, err := carol.Encrypt(ctx, groupID, []byte("hi from carol"))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		for name, member := range map[string]*ReferenceClient{"alice": alice, "bob": bob} {
			plaintext, err := member.Decrypt(ctx, groupID, ciphertext)
			if err != nil {
				t.Fatalf("%s decrypting post-join message: %v", name, err)
			}
			if string(plaintext) != "hi from carol" {
				t.Errorf("%s: unexpected plaintext %q", name, plaintext)
			}
		}
	})

	t.Run("stale epoch rejected", func(t *testing.T) {
		// A ciphertext captured before a later commit no longer
		// matches the group epoch.
		stale, err := alice.Encrypt(ctx, groupID, []byte("stale"))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		davePackages, err := newTestClient(t, "dave-device").GenerateKeyPackages(ctx, 1)
		if err != nil {
			t.Fatalf("GenerateKeyPackages failed: %v", err)
		}
		advance, err := alice.AddMembers(ctx, groupID, davePackages)
		if err != nil {
			t.Fatalf("AddMembers failed: %v", err)
		}
		if _, err := bob.Decrypt(ctx, groupID, advance.Commit); err != nil {
			t.Fatalf("processing commit: %v", err)
		}
		if _, err := bob.Decrypt(ctx, groupID, stale); !errors.Is(err, ErrWrongEpoch) {
			t.Fatalf("expected ErrWrongEpoch, got %v", err)
		}
	})
}

func TestWipeGroup(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, "c1")
	groupID := testGroupID(t)

	if err := client.CreateGroup(ctx, groupID); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := client.WipeGroup(ctx, groupID); err != nil {
		t.Fatalf("WipeGroup failed: %v", err)
	}
	exists, err := client.GroupExists(ctx, groupID)
	if err != nil {
		t.Fatalf("GroupExists failed: %v", err)
	}
	if exists {
		t.Error("group still exists after wipe")
	}
	// Wiping again is a no-op.
	if err := client.WipeGroup(ctx, groupID); err != nil {
		t.Fatalf("second WipeGroup failed: %v", err)
	}
}

func TestWelcomeNotForThisClient(t *testing.T) {
	ctx := context.Background()
	alice := newTestClient(t, "alice-device")
	bob := newTestClient(t, "bob-device")
	eve := newTestClient(t, "eve-device")
	groupID := testGroupID(t)

	if err := alice.CreateGroup(ctx, groupID); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	bobPackages, err := bob.GenerateKeyPackages(ctx, 1)
	if err != nil {
		t.Fatalf("GenerateKeyPackages failed: %v", err)
	}
	bundle, err := alice.AddMembers(ctx, groupID, bobPackages)
	if err != nil {
		t.Fatalf("AddMembers failed: %v", err)
	}
	if _, err := eve.JoinWelcome(ctx, bundle.Welcome); err == nil {
		t.Fatal("welcome addressed to bob must not open for eve")
	}
}
