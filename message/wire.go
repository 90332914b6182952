// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/wireapp/lib/codec"
	"github.com/bureau-foundation/wireapp/lib/ref"
)

// envelopeVersion is the current wire envelope version. Decoding
// accepts any version up to this; the envelope is append-only.
const envelopeVersion = 1

// envelope is the serialized form of a Message: a fixed header plus
// the variant body as a nested CBOR value. Keeping the body opaque at
// this level lets unknown variants round-trip without loss.
type envelope struct {
	Version        int              `cbor:"v"`
	ID             uuid.UUID        `cbor:"id"`
	ConversationID ref.QualifiedID  `cbor:"conversation"`
	Sender         ref.QualifiedID  `cbor:"sender,omitempty"`
	TimestampMilli int64            `cbor:"ts,omitempty"`
	WireTag        Tag              `cbor:"tag"`
	Body           codec.RawMessage `cbor:"body"`
}

// Encode serializes a Message to its wire form. The output is
// deterministic: encoding the same Message twice yields identical
// bytes, which matters because the ciphertext of the payload is what
// the backend deduplicates on.
func Encode(msg Message) ([]byte, error) {
	if msg.Content == nil {
		return nil, fmt.Errorf("message: cannot encode message with nil content")
	}
	if msg.ID == uuid.Nil {
		return nil, fmt.Errorf("message: cannot encode message with zero ID")
	}

	var body []byte
	var err error
	if unknown, ok := msg.Content.(Unknown); ok {
		// Re-emit the original body bytes untouched so a relayed
		// unrecognized message survives intact.
		body = unknown.Raw
	} else {
		body, err = codec.Marshal(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("message: encoding %s body: %w", msg.Content.Tag(), err)
		}
	}

	env := envelope{
		Version:        envelopeVersion,
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		WireTag:        msg.Content.Tag(),
		Body:           body,
	}
	if !msg.Timestamp.IsZero() {
		env.TimestampMilli = msg.Timestamp.UnixMilli()
	}

	data, err := codec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("message: encoding envelope: %w", err)
	}
	return data, nil
}

// Decode parses wire bytes back into a Message. A recognized tag with
// a malformed body is an error; an unrecognized tag is NOT an error —
// it decodes to an Unknown variant carrying the raw body, so newer
// peers never break older ones.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("message: decoding envelope: %w", err)
	}
	if env.Version > envelopeVersion {
		return Message{}, fmt.Errorf("message: unsupported envelope version %d", env.Version)
	}
	if env.ID == uuid.Nil {
		return Message{}, fmt.Errorf("message: envelope has zero message ID")
	}

	content, err := decodeContent(env.WireTag, env.Body)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:             env.ID,
		ConversationID: env.ConversationID,
		Sender:         env.Sender,
		Content:        content,
	}
	if env.TimestampMilli != 0 {
		msg.Timestamp = time.UnixMilli(env.TimestampMilli).UTC()
	}
	return msg, nil
}

func decodeContent(tag Tag, body codec.RawMessage) (Content, error) {
	var content Content
	switch tag {
	case TagText:
		content = &Text{}
	case TagAsset:
		content = &Asset{}
	case TagComposite:
		content = &Composite{}
	case TagButtonAction:
		content = &ButtonAction{}
	case TagButtonActionConfirmation:
		content = &ButtonActionConfirmation{}
	case TagKnock:
		content = &Knock{}
	case TagLocation:
		content = &Location{}
	case TagDeleted:
		content = &Deleted{}
	case TagReaction:
		content = &Reaction{}
	case TagTextEdited:
		content = &TextEdited{}
	case TagCompositeEdited:
		content = &CompositeEdited{}
	case TagReceipt:
		content = &Receipt{}
	case TagInCallEmoji:
		content = &InCallEmoji{}
	case TagInCallHandRaise:
		content = &InCallHandRaise{}
	default:
		return Unknown{WireTag: tag, Raw: body}, nil
	}

	if err := codec.Unmarshal(body, content); err != nil {
		return nil, fmt.Errorf("message: decoding %s body: %w", tag, err)
	}
	return deref(content), nil
}

// deref converts the pointer used for unmarshaling back to the value
// form the rest of the SDK works with.
func deref(content Content) Content {
	switch c := content.(type) {
	case *Text:
		return *c
	case *Asset:
		return *c
	case *Composite:
		return *c
	case *ButtonAction:
		return *c
	case *ButtonActionConfirmation:
		return *c
	case *Knock:
		return *c
	case *Location:
		return *c
	case *Deleted:
		return *c
	case *Reaction:
		return *c
	case *TextEdited:
		return *c
	case *CompositeEdited:
		return *c
	case *Receipt:
		return *c
	case *InCallEmoji:
		return *c
	case *InCallHandRaise:
		return *c
	default:
		return content
	}
}
