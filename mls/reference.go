// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mls

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/wireapp/lib/codec"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
)

// ReferenceClient is an in-process CryptoClient. It implements the
// full group lifecycle — create, welcome join, two-phase external
// join, member addition, epoch-ratcheted message protection with
// replay detection — with a deliberately simple construction: a
// per-group epoch secret advanced through HKDF, AES-256-GCM message
// keys derived from it, and welcomes sealed to members' X25519 init
// keys. It holds all state in memory.
//
// It is NOT the MLS protocol and offers none of MLS's tree-based
// guarantees. It exists so the rest of the SDK can be developed and
// tested without a CoreCrypto binding, and as the executable
// definition of the CryptoClient contract.
type ReferenceClient struct {
	mu sync.Mutex

	clientID ref.ClientID
	signKey  ed25519.PrivateKey
	initKey  *ecdh.PrivateKey

	groups  map[string]*groupState
	pending map[string]*groupState
}

type groupState struct {
	epoch  uint64
	secret []byte
	seen   map[[32]byte]struct{}
}

// Message content kinds, visible on the wire like MLS content types.
const (
	kindApplication    = 0
	kindCommit         = 1
	kindExternalCommit = 2
)

type keyPackage struct {
	Client  string `cbor:"client"`
	InitKey []byte `cbor:"init_key"`
	Nonce   []byte `cbor:"nonce"`
}

type welcomeRecipient struct {
	Ephemeral []byte `cbor:"ephemeral"`
	Sealed    []byte `cbor:"sealed"`
}

type welcomeMessage struct {
	Group      string             `cbor:"group"`
	Epoch      uint64             `cbor:"epoch"`
	Recipients []welcomeRecipient `cbor:"recipients"`
}

type groupInfoSnapshot struct {
	Group          string `cbor:"group"`
	Epoch          uint64 `cbor:"epoch"`
	ExternalSecret []byte `cbor:"external_secret"`
}

type protectedMessage struct {
	Group string `cbor:"group"`
	Epoch uint64 `cbor:"epoch"`
	Kind  uint8  `cbor:"kind"`
	Nonce []byte `cbor:"nonce"`
	Box   []byte `cbor:"box"`
}

// NewReferenceClient returns an uninitialized client. Init must be
// called before anything else.
func NewReferenceClient() *ReferenceClient {
	return &ReferenceClient{
		groups:  make(map[string]*groupState),
		pending: make(map[string]*groupState),
	}
}

// Init generates the client's long-term keys. The reference client has
// no persistent store; the password is validated for presence only, so
// the manager's bad-credentials path stays exercisable.
func (c *ReferenceClient) Init(ctx context.Context, clientID ref.ClientID, password *secret.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signKey != nil {
		return fmt.Errorf("mls: reference client already initialized")
	}
	if clientID.IsZero() {
		return fmt.Errorf("mls: reference client needs a client ID")
	}
	if password == nil || password.Len() == 0 {
		return fmt.Errorf("empty password: %w", ErrBadCredentials)
	}

	_, signKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("mls: generating signature key: %w", err)
	}
	initKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("mls: generating init key: %w", err)
	}

	c.clientID = clientID
	c.signKey = signKey
	c.initKey = initKey
	return nil
}

// Close discards all group state and key material.
func (c *ReferenceClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, state := range c.groups {
		secret.Zero(state.secret)
	}
	c.groups = make(map[string]*groupState)
	c.pending = make(map[string]*groupState)
	c.signKey = nil
	c.initKey = nil
	return nil
}

func (c *ReferenceClient) PublicKey(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signKey == nil {
		return nil, fmt.Errorf("mls: reference client not initialized")
	}
	publicKey := c.signKey.Public().(ed25519.PublicKey)
	return append([]byte(nil), publicKey...), nil
}

func (c *ReferenceClient) GenerateKeyPackages(ctx context.Context, count int) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initKey == nil {
		return nil, fmt.Errorf("mls: reference client not initialized")
	}

	packages := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("mls: generating key package nonce: %w", err)
		}
		data, err := codec.Marshal(keyPackage{
			Client:  c.clientID.String(),
			InitKey: c.initKey.PublicKey().Bytes(),
			Nonce:   nonce,
		})
		if err != nil {
			return nil, fmt.Errorf("mls: encoding key package: %w", err)
		}
		packages = append(packages, data)
	}
	return packages, nil
}

func (c *ReferenceClient) CreateGroup(ctx context.Context, groupID ref.GroupID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := groupID.String()
	if _, ok := c.groups[key]; ok {
		return fmt.Errorf("creating group %s: %w", groupID, ErrGroupExists)
	}

	epochSecret := make([]byte, 32)
	if _, err := rand.Read(epochSecret); err != nil {
		return fmt.Errorf("mls: generating group secret: %w", err)
	}
	c.groups[key] = &groupState{
		epoch:  0,
		secret: epochSecret,
		seen:   make(map[[32]byte]struct{}),
	}
	return nil
}

func (c *ReferenceClient) GroupExists(ctx context.Context, groupID ref.GroupID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.groups[groupID.String()]
	return ok, nil
}

func (c *ReferenceClient) WipeGroup(ctx context.Context, groupID ref.GroupID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := groupID.String()
	if state, ok := c.groups[key]; ok {
		secret.Zero(state.secret)
		delete(c.groups, key)
	}
	delete(c.pending, key)
	return nil
}

func (c *ReferenceClient) JoinWelcome(ctx context.Context, welcome []byte) (ref.GroupID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initKey == nil {
		return ref.GroupID{}, fmt.Errorf("mls: reference client not initialized")
	}

	var message welcomeMessage
	if err := codec.Unmarshal(welcome, &message); err != nil {
		return ref.GroupID{}, fmt.Errorf("mls: decoding welcome: %w", err)
	}
	groupID, err := ref.ParseGroupID(message.Group)
	if err != nil {
		return ref.GroupID{}, fmt.Errorf("mls: welcome carries invalid group ID: %w", err)
	}
	if _, ok := c.groups[groupID.String()]; ok {
		return ref.GroupID{}, fmt.Errorf("welcome for group %s: %w", groupID, ErrGroupExists)
	}

	var epochSecret []byte
	for _, recipient := range message.Recipients {
		opened, err := c.openToInitKey(recipient.Ephemeral, recipient.Sealed)
		if err == nil {
			epochSecret = opened
			break
		}
	}
	if epochSecret == nil {
		return ref.GroupID{}, fmt.Errorf("mls: welcome is not addressed to this client")
	}

	c.groups[groupID.String()] = &groupState{
		epoch:  message.Epoch,
		secret: epochSecret,
		seen:   make(map[[32]byte]struct{}),
	}
	return groupID, nil
}

func (c *ReferenceClient) ExternalCommitPropose(ctx context.Context, groupInfo []byte) (ref.GroupID, CommitBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var snapshot groupInfoSnapshot
	if err := codec.Unmarshal(groupInfo, &snapshot); err != nil {
		return ref.GroupID{}, CommitBundle{}, fmt.Errorf("mls: decoding group info: %w", err)
	}
	groupID, err := ref.ParseGroupID(snapshot.Group)
	if err != nil {
		return ref.GroupID{}, CommitBundle{}, fmt.Errorf("mls: group info carries invalid group ID: %w", err)
	}
	key := groupID.String()
	if _, ok := c.groups[key]; ok {
		return ref.GroupID{}, CommitBundle{}, fmt.Errorf("external join for group %s: %w", groupID, ErrGroupExists)
	}

	// The joiner derives the next epoch's secret from the published
	// external secret; members processing the commit derive the same
	// value, so everyone converges on epoch+1.
	nextSecret := deriveSecret(snapshot.ExternalSecret, "external-join")
	c.pending[key] = &groupState{
		epoch:  snapshot.Epoch + 1,
		secret: nextSecret,
		seen:   make(map[[32]byte]struct{}),
	}

	commit, err := sealMessage(groupID, snapshot.Epoch, kindExternalCommit,
		deriveSecret(snapshot.ExternalSecret, "external-commit"), nil)
	if err != nil {
		delete(c.pending, key)
		return ref.GroupID{}, CommitBundle{}, err
	}

	newInfo, err := codec.Marshal(groupInfoSnapshot{
		Group:          snapshot.Group,
		Epoch:          snapshot.Epoch + 1,
		ExternalSecret: deriveSecret(nextSecret, "external"),
	})
	if err != nil {
		delete(c.pending, key)
		return ref.GroupID{}, CommitBundle{}, fmt.Errorf("mls: encoding group info: %w", err)
	}

	return groupID, CommitBundle{Commit: commit, GroupInfo: newInfo}, nil
}

func (c *ReferenceClient) ExternalCommitMerge(ctx context.Context, groupID ref.GroupID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := groupID.String()
	state, ok := c.pending[key]
	if !ok {
		return fmt.Errorf("mls: no pending external join for group %s", groupID)
	}
	delete(c.pending, key)
	c.groups[key] = state
	return nil
}

func (c *ReferenceClient) ExternalCommitClear(ctx context.Context, groupID ref.GroupID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := groupID.String()
	if state, ok := c.pending[key]; ok {
		secret.Zero(state.secret)
		delete(c.pending, key)
	}
	return nil
}

func (c *ReferenceClient) AddMembers(ctx context.Context, groupID ref.GroupID, keyPackages [][]byte) (CommitBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := groupID.String()
	state, ok := c.groups[key]
	if !ok {
		return CommitBundle{}, fmt.Errorf("adding members to group %s: %w", groupID, ErrGroupNotFound)
	}

	// The commit is protected under the CURRENT epoch; existing
	// members apply it and ratchet forward. New members get the NEXT
	// epoch's secret directly in the welcome.
	commit, err := sealMessage(groupID, state.epoch, kindCommit,
		deriveSecret(state.secret, "msg"), nil)
	if err != nil {
		return CommitBundle{}, err
	}

	nextSecret := deriveSecret(state.secret, "epoch")
	welcome := welcomeMessage{
		Group: key,
		Epoch: state.epoch + 1,
	}
	for _, packageBytes := range keyPackages {
		var pkg keyPackage
		if err := codec.Unmarshal(packageBytes, &pkg); err != nil {
			return CommitBundle{}, fmt.Errorf("mls: decoding key package: %w", err)
		}
		ephemeral, sealed, err := sealToInitKey(pkg.InitKey, nextSecret)
		if err != nil {
			return CommitBundle{}, err
		}
		welcome.Recipients = append(welcome.Recipients, welcomeRecipient{
			Ephemeral: ephemeral,
			Sealed:    sealed,
		})
	}
	welcomeBytes, err := codec.Marshal(welcome)
	if err != nil {
		return CommitBundle{}, fmt.Errorf("mls: encoding welcome: %w", err)
	}

	infoBytes, err := codec.Marshal(groupInfoSnapshot{
		Group:          key,
		Epoch:          state.epoch + 1,
		ExternalSecret: deriveSecret(nextSecret, "external"),
	})
	if err != nil {
		return CommitBundle{}, fmt.Errorf("mls: encoding group info: %w", err)
	}

	// Advance local state last, after everything serialized cleanly.
	secret.Zero(state.secret)
	state.epoch++
	state.secret = nextSecret
	state.seen = make(map[[32]byte]struct{})

	return CommitBundle{Commit: commit, Welcome: welcomeBytes, GroupInfo: infoBytes}, nil
}

func (c *ReferenceClient) Encrypt(ctx context.Context, groupID ref.GroupID, plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.groups[groupID.String()]
	if !ok {
		return nil, fmt.Errorf("encrypting to group %s: %w", groupID, ErrGroupNotFound)
	}
	return sealMessage(groupID, state.epoch, kindApplication,
		deriveSecret(state.secret, "msg"), plaintext)
}

func (c *ReferenceClient) Decrypt(ctx context.Context, groupID ref.GroupID, ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.groups[groupID.String()]
	if !ok {
		return nil, fmt.Errorf("decrypting for group %s: %w", groupID, ErrGroupNotFound)
	}

	var message protectedMessage
	if err := codec.Unmarshal(ciphertext, &message); err != nil {
		return nil, fmt.Errorf("mls: decoding protected message: %w", err)
	}
	if message.Epoch != state.epoch {
		return nil, fmt.Errorf("message epoch %d, local epoch %d: %w",
			message.Epoch, state.epoch, ErrWrongEpoch)
	}

	digest := blake3.Sum256(ciphertext)
	if _, ok := state.seen[digest]; ok {
		return nil, ErrDuplicateMessage
	}

	var messageKey []byte
	switch message.Kind {
	case kindApplication, kindCommit:
		messageKey = deriveSecret(state.secret, "msg")
	case kindExternalCommit:
		messageKey = deriveSecret(deriveSecret(state.secret, "external"), "external-commit")
	default:
		return nil, fmt.Errorf("mls: unknown message kind %d", message.Kind)
	}

	plaintext, err := openBox(messageKey, message.Nonce, message.Box, groupID)
	if err != nil {
		return nil, fmt.Errorf("mls: opening protected message: %w", err)
	}
	state.seen[digest] = struct{}{}

	switch message.Kind {
	case kindApplication:
		return plaintext, nil
	case kindCommit:
		c.advanceEpoch(state, deriveSecret(state.secret, "epoch"))
		return nil, nil
	case kindExternalCommit:
		next := deriveSecret(deriveSecret(state.secret, "external"), "external-join")
		c.advanceEpoch(state, next)
		return nil, nil
	}
	return nil, nil
}

func (c *ReferenceClient) advanceEpoch(state *groupState, nextSecret []byte) {
	secret.Zero(state.secret)
	state.epoch++
	state.secret = nextSecret
	state.seen = make(map[[32]byte]struct{})
}

// deriveSecret expands a 32-byte secret for the given label.
func deriveSecret(input []byte, label string) []byte {
	out := make([]byte, 32)
	reader := hkdf.New(sha256.New, input, nil, []byte("wireapp-mls "+label))
	if _, err := io.ReadFull(reader, out); err != nil {
		// HKDF over sha256 cannot fail for a 32-byte read.
		panic(fmt.Sprintf("mls: hkdf expand: %v", err))
	}
	return out
}

func sealMessage(groupID ref.GroupID, epoch uint64, kind uint8, key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("mls: generating nonce: %w", err)
	}
	box := aead.Seal(nil, nonce, plaintext, []byte(groupID.String()))
	data, err := codec.Marshal(protectedMessage{
		Group: groupID.String(),
		Epoch: epoch,
		Kind:  kind,
		Nonce: nonce,
		Box:   box,
	})
	if err != nil {
		return nil, fmt.Errorf("mls: encoding protected message: %w", err)
	}
	return data, nil
}

func openBox(key, nonce, box []byte, groupID ref.GroupID) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, box, []byte(groupID.String()))
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mls: creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("mls: creating AEAD: %w", err)
	}
	return aead, nil
}

// sealToInitKey encrypts payload to an X25519 public key with an
// ephemeral key agreement.
func sealToInitKey(initKeyBytes, payload []byte) (ephemeral, sealed []byte, err error) {
	recipientKey, err := ecdh.X25519().NewPublicKey(initKeyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("mls: parsing init key: %w", err)
	}
	ephemeralKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("mls: generating ephemeral key: %w", err)
	}
	shared, err := ephemeralKey.ECDH(recipientKey)
	if err != nil {
		return nil, nil, fmt.Errorf("mls: key agreement: %w", err)
	}

	aead, err := newAEAD(deriveSecret(shared, "welcome"))
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("mls: generating nonce: %w", err)
	}
	sealed = aead.Seal(nonce, nonce, payload, nil)
	return ephemeralKey.PublicKey().Bytes(), sealed, nil
}

// openToInitKey reverses sealToInitKey with the client's init key.
// Caller holds c.mu.
func (c *ReferenceClient) openToInitKey(ephemeralBytes, sealed []byte) ([]byte, error) {
	ephemeralKey, err := ecdh.X25519().NewPublicKey(ephemeralBytes)
	if err != nil {
		return nil, fmt.Errorf("mls: parsing ephemeral key: %w", err)
	}
	shared, err := c.initKey.ECDH(ephemeralKey)
	if err != nil {
		return nil, fmt.Errorf("mls: key agreement: %w", err)
	}

	aead, err := newAEAD(deriveSecret(shared, "welcome"))
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("mls: sealed payload too short")
	}
	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, box, nil)
}
