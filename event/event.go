// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event decodes inbound backend event envelopes and routes
// them: decrypting message payloads, maintaining the conversation
// store, and dispatching to the registered handler. Routing is
// strictly sequential per team — the supervisor feeds one envelope at
// a time — because decrypt order within a group is load-bearing.
package event

import (
	"encoding/json"
	"time"

	"github.com/bureau-foundation/wireapp/lib/ref"
)

// Wire event tags. These are a bit-exact contract with the backend;
// never rename.
const (
	TagTeamInvite         = "team.invite"
	TagConversationCreate = "conversation.create"
	TagConversationDelete = "conversation.delete"
	TagMLSMessageAdd      = "conversation.mls-message-add"
	TagMLSWelcome         = "conversation.mls-welcome"
	TagMemberJoin         = "conversation.member-join"
	TagMemberLeave        = "conversation.member-leave"
	TagMemberUpdate       = "conversation.member-update"
	TagTyping             = "conversation.typing"
)

// Envelope is one frame from the event stream: an ordered list of
// events delivered and acknowledged as a unit. Transient envelopes
// (typing indicators and the like) must not cause durable side
// effects.
type Envelope struct {
	ID        string  `json:"id"`
	Transient bool    `json:"transient,omitempty"`
	Events    []Event `json:"payload"`
}

// Event is one logical event inside an envelope. Data is tag-specific
// and decoded lazily by the router.
type Event struct {
	Type         string          `json:"type"`
	Conversation ref.QualifiedID `json:"qualified_conversation,omitempty"`
	From         ref.QualifiedID `json:"qualified_from,omitempty"`
	Team         string          `json:"team,omitempty"`
	Time         time.Time       `json:"time,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// MLSPayload is the data of mls-message-add and mls-welcome events.
// Data is base64 on the wire; encoding/json handles the decode.
type MLSPayload struct {
	Data []byte `json:"data"`
}

// ConversationPayload is the data of conversation.create events.
type ConversationPayload struct {
	QualifiedID ref.QualifiedID `json:"qualified_id"`
	Name        string          `json:"name,omitempty"`
	GroupID     string          `json:"group_id,omitempty"`
	Team        string          `json:"team,omitempty"`
	Type        int             `json:"type"`
}

// MembersPayload is the data of member-join, member-leave, and
// member-update events.
type MembersPayload struct {
	Users []ref.QualifiedID `json:"user_ids"`
}

// TypingPayload is the data of typing events.
type TypingPayload struct {
	Status string `json:"status"`
}

// TeamInvitePayload is the data of team.invite events.
type TeamInvitePayload struct {
	Team string `json:"team"`
}

// Started reports whether the typing payload signals typing in
// progress (as opposed to stopped).
func (p TypingPayload) Started() bool { return p.Status == "started" }
