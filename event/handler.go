// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/message"
	"github.com/bureau-foundation/wireapp/store"
)

// Handler is the callback surface an application implements to receive
// decrypted messages and conversation lifecycle notifications. Embed
// BaseHandler and override only the methods you care about; everything
// else logs and ignores.
//
// Callbacks for one team are invoked sequentially, in stream order,
// from that team's routing goroutine. A slow callback delays that
// team's stream (deliberate backpressure); it never affects other
// teams.
type Handler interface {
	// One method per message variant.
	OnMessage(ctx context.Context, msg message.Message, content message.Text)
	OnAsset(ctx context.Context, msg message.Message, content message.Asset)
	OnComposite(ctx context.Context, msg message.Message, content message.Composite)
	OnButtonAction(ctx context.Context, msg message.Message, content message.ButtonAction)
	OnButtonActionConfirmation(ctx context.Context, msg message.Message, content message.ButtonActionConfirmation)
	OnKnock(ctx context.Context, msg message.Message, content message.Knock)
	OnLocation(ctx context.Context, msg message.Message, content message.Location)
	OnDeletedMessage(ctx context.Context, msg message.Message, content message.Deleted)
	OnReaction(ctx context.Context, msg message.Message, content message.Reaction)
	OnTextEdited(ctx context.Context, msg message.Message, content message.TextEdited)
	OnCompositeEdited(ctx context.Context, msg message.Message, content message.CompositeEdited)
	OnReceiptConfirmation(ctx context.Context, msg message.Message, content message.Receipt)
	OnInCallEmoji(ctx context.Context, msg message.Message, content message.InCallEmoji)
	OnInCallHandRaise(ctx context.Context, msg message.Message, content message.InCallHandRaise)
	OnUnknownMessage(ctx context.Context, msg message.Message, content message.Unknown)

	// Conversation lifecycle.
	OnConversationJoin(ctx context.Context, conversation store.Conversation)
	OnConversationDelete(ctx context.Context, conversationID ref.QualifiedID)
	OnMemberJoin(ctx context.Context, conversationID ref.QualifiedID, users []ref.QualifiedID)
	OnMemberLeave(ctx context.Context, conversationID ref.QualifiedID, users []ref.QualifiedID)
	OnMemberUpdate(ctx context.Context, conversationID ref.QualifiedID, users []ref.QualifiedID)
	OnTyping(ctx context.Context, conversationID ref.QualifiedID, user ref.QualifiedID, started bool)
}

// Onboarder handles team.invite events. The routing core treats team
// onboarding as an external trigger: the implementation registers a
// new team with the backend and persists the resulting Team record,
// after which the lifecycle controller picks it up.
type Onboarder interface {
	OnTeamInvite(ctx context.Context, teamID string)
}

// BaseHandler implements Handler with log-and-ignore defaults. A nil
// Logger uses slog.Default().
type BaseHandler struct {
	Logger *slog.Logger
}

func (h BaseHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h BaseHandler) ignore(msg message.Message) {
	h.logger().Debug("unhandled message",
		"tag", msg.Content.Tag().String(),
		"conversation", msg.ConversationID,
		"message_id", msg.ID,
	)
}

func (h BaseHandler) OnMessage(ctx context.Context, msg message.Message, content message.Text) {
	h.ignore(msg)
}

func (h BaseHandler) OnAsset(ctx context.Context, msg message.Message, content message.Asset) {
	h.ignore(msg)
}

func (h BaseHandler) OnComposite(ctx context.Context, msg message.Message, content message.Composite) {
	h.ignore(msg)
}

func (h BaseHandler) OnButtonAction(ctx context.Context, msg message.Message, content message.ButtonAction) {
	h.ignore(msg)
}

func (h BaseHandler) OnButtonActionConfirmation(ctx context.Context, msg message.Message, content message.ButtonActionConfirmation) {
	h.ignore(msg)
}

func (h BaseHandler) OnKnock(ctx context.Context, msg message.Message, content message.Knock) {
	h.ignore(msg)
}

func (h BaseHandler) OnLocation(ctx context.Context, msg message.Message, content message.Location) {
	h.ignore(msg)
}

func (h BaseHandler) OnDeletedMessage(ctx context.Context, msg message.Message, content message.Deleted) {
	h.ignore(msg)
}

func (h BaseHandler) OnReaction(ctx context.Context, msg message.Message, content message.Reaction) {
	h.ignore(msg)
}

func (h BaseHandler) OnTextEdited(ctx context.Context, msg message.Message, content message.TextEdited) {
	h.ignore(msg)
}

func (h BaseHandler) OnCompositeEdited(ctx context.Context, msg message.Message, content message.CompositeEdited) {
	h.ignore(msg)
}

func (h BaseHandler) OnReceiptConfirmation(ctx context.Context, msg message.Message, content message.Receipt) {
	h.ignore(msg)
}

func (h BaseHandler) OnInCallEmoji(ctx context.Context, msg message.Message, content message.InCallEmoji) {
	h.ignore(msg)
}

func (h BaseHandler) OnInCallHandRaise(ctx context.Context, msg message.Message, content message.InCallHandRaise) {
	h.ignore(msg)
}

func (h BaseHandler) OnUnknownMessage(ctx context.Context, msg message.Message, content message.Unknown) {
	h.logger().Debug("unknown message variant",
		"wire_tag", uint8(content.WireTag),
		"conversation", msg.ConversationID,
	)
}

func (h BaseHandler) OnConversationJoin(ctx context.Context, conversation store.Conversation) {
	h.logger().Debug("joined conversation", "conversation", conversation.ID)
}

func (h BaseHandler) OnConversationDelete(ctx context.Context, conversationID ref.QualifiedID) {
	h.logger().Debug("conversation deleted", "conversation", conversationID)
}

func (h BaseHandler) OnMemberJoin(ctx context.Context, conversationID ref.QualifiedID, users []ref.QualifiedID) {
}

func (h BaseHandler) OnMemberLeave(ctx context.Context, conversationID ref.QualifiedID, users []ref.QualifiedID) {
}

func (h BaseHandler) OnMemberUpdate(ctx context.Context, conversationID ref.QualifiedID, users []ref.QualifiedID) {
}

func (h BaseHandler) OnTyping(ctx context.Context, conversationID ref.QualifiedID, user ref.QualifiedID, started bool) {
}

var _ Handler = BaseHandler{}
