// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package message defines the WireMessage model — the sum type of
// everything that can travel inside an encrypted conversation payload
// — and the compact binary codec that converts between the model and
// the wire bytes.
//
// A Message is immutable once constructed. Edits, deletions, and
// reactions are separate messages referencing the original message ID;
// nothing is ever mutated in place.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/wireapp/lib/ref"
)

// Message is one logical message in a conversation: the routing header
// plus exactly one Content variant.
type Message struct {
	// ID is the message's UUID, generated by the sender.
	ID uuid.UUID

	// ConversationID is the qualified conversation the message
	// belongs to.
	ConversationID ref.QualifiedID

	// Sender is the qualified user that sent the message. Zero for
	// outbound messages (the backend attributes the sender).
	Sender ref.QualifiedID

	// Timestamp is the send time. Zero for outbound messages.
	Timestamp time.Time

	// Content is the variant payload.
	Content Content
}

// Content is the sealed interface over message variants. The concrete
// types in this package are the complete set; decoding never produces
// anything else (unrecognized wire tags decode to Unknown).
type Content interface {
	// Tag returns the wire tag of the variant.
	Tag() Tag

	sealed()
}

// Tag identifies a content variant on the wire.
type Tag uint8

// Wire tags. Values are part of the serialized format — never
// renumber, only append.
const (
	TagUnknown Tag = iota
	TagText
	TagAsset
	TagComposite
	TagButtonAction
	TagButtonActionConfirmation
	TagKnock
	TagLocation
	TagDeleted
	TagReaction
	TagTextEdited
	TagCompositeEdited
	TagReceipt
	TagInCallEmoji
	TagInCallHandRaise
)

// String returns the tag name used in logs.
func (t Tag) String() string {
	switch t {
	case TagText:
		return "text"
	case TagAsset:
		return "asset"
	case TagComposite:
		return "composite"
	case TagButtonAction:
		return "button-action"
	case TagButtonActionConfirmation:
		return "button-action-confirmation"
	case TagKnock:
		return "knock"
	case TagLocation:
		return "location"
	case TagDeleted:
		return "deleted"
	case TagReaction:
		return "reaction"
	case TagTextEdited:
		return "text-edited"
	case TagCompositeEdited:
		return "composite-edited"
	case TagReceipt:
		return "receipt"
	case TagInCallEmoji:
		return "in-call-emoji"
	case TagInCallHandRaise:
		return "in-call-hand-raise"
	default:
		return "unknown"
	}
}

// Mention marks a span of a text body as referring to a user.
type Mention struct {
	UserID ref.QualifiedID `cbor:"user"`
	Start  int             `cbor:"start"`
	Length int             `cbor:"length"`
}

// Text is a plain text message, optionally with mentions and a quoted
// message.
type Text struct {
	Body     string    `cbor:"body"`
	Mentions []Mention `cbor:"mentions,omitempty"`

	// QuotedMessageID references the message being replied to. The
	// zero UUID means no quote.
	QuotedMessageID uuid.UUID `cbor:"quoted,omitempty"`
}

func (Text) Tag() Tag { return TagText }
func (Text) sealed()  {}

// RemoteAsset describes where an uploaded asset lives and how to
// decrypt it. It travels only inside the group-encrypted payload — the
// content key is never visible to the backend.
type RemoteAsset struct {
	// AssetID and Domain locate the ciphertext on the backend.
	AssetID string `cbor:"asset_id"`
	Domain  string `cbor:"domain"`

	// Token authorizes the download.
	Token string `cbor:"token,omitempty"`

	// ContentKey is the AES-256 key the asset bytes were encrypted
	// with, independent of the group encryption layer.
	ContentKey []byte `cbor:"key"`

	// ContentHash is the BLAKE3 hash of the plaintext, verified after
	// download and decryption.
	ContentHash []byte `cbor:"hash"`

	// Encoding names a pre-encryption transform applied to the
	// plaintext: "" (none) or "zstd".
	Encoding string `cbor:"encoding,omitempty"`
}

// Asset announces an uploaded file.
type Asset struct {
	Remote    RemoteAsset `cbor:"remote"`
	MimeType  string      `cbor:"mime_type"`
	SizeBytes int64       `cbor:"size"`
	Name      string      `cbor:"name,omitempty"`

	// Metadata carries free-form key/value pairs alongside the asset
	// (image dimensions, duration, blurhash).
	Metadata map[string]string `cbor:"metadata,omitempty"`
}

func (Asset) Tag() Tag { return TagAsset }
func (Asset) sealed()  {}

// Button is one actionable button inside a composite message.
type Button struct {
	Text string `cbor:"text"`
	ID   string `cbor:"id"`
}

// CompositeItem is one element of a composite message: either a text
// block or a button, never both.
type CompositeItem struct {
	Text   *Text   `cbor:"text,omitempty"`
	Button *Button `cbor:"button,omitempty"`
}

// Composite is an interactive message mixing text blocks and buttons.
type Composite struct {
	Items []CompositeItem `cbor:"items"`
}

func (Composite) Tag() Tag { return TagComposite }
func (Composite) sealed()  {}

// ButtonAction reports that a user pressed a button on a composite
// message.
type ButtonAction struct {
	ReferenceMessageID uuid.UUID `cbor:"reference"`
	ButtonID           string    `cbor:"button"`
}

func (ButtonAction) Tag() Tag { return TagButtonAction }
func (ButtonAction) sealed()  {}

// ButtonActionConfirmation acknowledges a ButtonAction, marking which
// button is now the confirmed selection.
type ButtonActionConfirmation struct {
	ReferenceMessageID uuid.UUID `cbor:"reference"`
	ButtonID           string    `cbor:"button"`
}

func (ButtonActionConfirmation) Tag() Tag { return TagButtonActionConfirmation }
func (ButtonActionConfirmation) sealed()  {}

// Knock is a ping ("knock") message.
type Knock struct {
	// HotKnock marks an emphasized knock.
	HotKnock bool `cbor:"hot,omitempty"`
}

func (Knock) Tag() Tag { return TagKnock }
func (Knock) sealed()  {}

// Location shares a geographic position.
type Location struct {
	Latitude  float32 `cbor:"lat"`
	Longitude float32 `cbor:"lon"`
	Name      string  `cbor:"name,omitempty"`
	Zoom      int32   `cbor:"zoom,omitempty"`
}

func (Location) Tag() Tag { return TagLocation }
func (Location) sealed()  {}

// Deleted tombstones a previously sent message.
type Deleted struct {
	MessageID uuid.UUID `cbor:"message"`
}

func (Deleted) Tag() Tag { return TagDeleted }
func (Deleted) sealed()  {}

// Reaction adds or replaces the sender's emoji reaction on a message.
// An empty Emoji clears the reaction.
type Reaction struct {
	MessageID uuid.UUID `cbor:"message"`
	Emoji     string    `cbor:"emoji,omitempty"`
}

func (Reaction) Tag() Tag { return TagReaction }
func (Reaction) sealed()  {}

// TextEdited replaces the body of an earlier text message.
type TextEdited struct {
	ReplacingMessageID uuid.UUID `cbor:"replacing"`
	Body               string    `cbor:"body"`
	Mentions           []Mention `cbor:"mentions,omitempty"`
}

func (TextEdited) Tag() Tag { return TagTextEdited }
func (TextEdited) sealed()  {}

// CompositeEdited replaces the items of an earlier composite message.
type CompositeEdited struct {
	ReplacingMessageID uuid.UUID       `cbor:"replacing"`
	Items              []CompositeItem `cbor:"items"`
}

func (CompositeEdited) Tag() Tag { return TagCompositeEdited }
func (CompositeEdited) sealed()  {}

// ReceiptType distinguishes delivery receipts from read receipts.
type ReceiptType uint8

const (
	ReceiptDelivered ReceiptType = 1
	ReceiptRead      ReceiptType = 2
)

// Receipt confirms delivery or reading of one or more messages.
type Receipt struct {
	Type       ReceiptType `cbor:"type"`
	MessageIDs []uuid.UUID `cbor:"messages"`
}

func (Receipt) Tag() Tag { return TagReceipt }
func (Receipt) sealed()  {}

// InCallEmoji carries emoji sent during an active call.
type InCallEmoji struct {
	Emojis []string `cbor:"emojis"`
}

func (InCallEmoji) Tag() Tag { return TagInCallEmoji }
func (InCallEmoji) sealed()  {}

// InCallHandRaise signals raising or lowering a hand during a call.
type InCallHandRaise struct {
	Raised bool `cbor:"raised"`
}

func (InCallHandRaise) Tag() Tag { return TagInCallHandRaise }
func (InCallHandRaise) sealed()  {}

// Unknown preserves a payload whose wire tag this version of the SDK
// does not recognize. It is delivered to the catch-all callback and
// can be re-encoded unchanged.
type Unknown struct {
	WireTag Tag
	Raw     []byte
}

func (u Unknown) Tag() Tag { return u.WireTag }
func (Unknown) sealed()    {}
