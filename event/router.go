// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/message"
	"github.com/bureau-foundation/wireapp/mls"
	"github.com/bureau-foundation/wireapp/store"
)

// RouterConfig holds the collaborators for one team's Router.
type RouterConfig struct {
	// TeamID is the team this router serves; persisted on
	// conversations it learns about.
	TeamID ref.TeamID

	// Store persists conversation records.
	Store store.Repository

	// Sessions owns the team's encrypted groups.
	Sessions *mls.SessionManager

	// Handler receives decrypted messages and lifecycle callbacks.
	Handler Handler

	// Onboarder receives team.invite events. Optional; without one,
	// invites are logged and dropped.
	Onboarder Onboarder

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Router consumes decoded event envelopes for a single team. Not safe
// for concurrent use — the supervisor calls Route from one goroutine,
// which is what guarantees per-team decrypt ordering.
type Router struct {
	teamID    ref.TeamID
	store     store.Repository
	sessions  *mls.SessionManager
	handler   Handler
	onboarder Onboarder
	logger    *slog.Logger
}

// NewRouter creates a Router for one team.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		teamID:    cfg.TeamID,
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		handler:   cfg.Handler,
		onboarder: cfg.Onboarder,
		logger:    logger.With("team", cfg.TeamID),
	}
}

// Route processes one envelope: every event, in array order. A failing
// event is logged and skipped; it never aborts the rest of the
// envelope. Decrypt ordering within the envelope is preserved by the
// sequential loop.
func (r *Router) Route(ctx context.Context, envelope Envelope) {
	for i, ev := range envelope.Events {
		if err := r.routeEvent(ctx, envelope, ev); err != nil {
			r.logger.Error("event processing failed",
				"envelope", envelope.ID,
				"index", i,
				"tag", ev.Type,
				"conversation", ev.Conversation,
				"error", err,
			)
		}
	}
}

func (r *Router) routeEvent(ctx context.Context, envelope Envelope, ev Event) error {
	switch ev.Type {
	case TagMLSWelcome:
		return r.handleWelcome(ctx, envelope, ev)
	case TagMLSMessageAdd:
		return r.handleMessage(ctx, ev)
	case TagConversationCreate:
		return r.handleConversationCreate(ctx, envelope, ev)
	case TagConversationDelete:
		return r.handleConversationDelete(ctx, envelope, ev)
	case TagMemberJoin:
		return r.handleMembers(ctx, ev, r.handler.OnMemberJoin)
	case TagMemberLeave:
		return r.handleMembers(ctx, ev, r.handler.OnMemberLeave)
	case TagMemberUpdate:
		return r.handleMembers(ctx, ev, r.handler.OnMemberUpdate)
	case TagTyping:
		var payload TypingPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("decoding typing payload: %w", err)
		}
		r.handler.OnTyping(ctx, ev.Conversation, ev.From, payload.Started())
		return nil
	case TagTeamInvite:
		return r.handleTeamInvite(ctx, ev)
	default:
		// Unknown tags are expected as the backend evolves.
		r.logger.Debug("ignoring unrecognized event tag", "tag", ev.Type)
		return nil
	}
}

// handleWelcome establishes group state from a welcome message and
// records the conversation it belongs to.
func (r *Router) handleWelcome(ctx context.Context, envelope Envelope, ev Event) error {
	var payload MLSPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return fmt.Errorf("decoding welcome payload: %w", err)
	}

	groupID, err := r.sessions.JoinViaWelcome(ctx, payload.Data)
	if err != nil {
		if errors.Is(err, mls.ErrGroupExists) {
			// Redelivered welcome; the group is already established.
			r.logger.Debug("skipping welcome for already-joined group",
				"conversation", ev.Conversation)
			return nil
		}
		return fmt.Errorf("joining via welcome: %w", err)
	}

	conversation := store.Conversation{
		ID:      ev.Conversation,
		TeamID:  r.teamID,
		GroupID: groupID,
		Type:    store.ConversationGroup,
	}
	if existing, err := r.store.GetConversation(ctx, ev.Conversation); err == nil {
		// conversation.create arrived first; keep its name and type.
		existing.GroupID = groupID
		conversation = existing
	}
	if !envelope.Transient {
		if err := r.store.PutConversation(ctx, conversation); err != nil {
			return fmt.Errorf("persisting joined conversation: %w", err)
		}
	}

	r.handler.OnConversationJoin(ctx, conversation)
	return nil
}

// handleMessage decrypts an application message and dispatches it to
// the variant-specific callback.
func (r *Router) handleMessage(ctx context.Context, ev Event) error {
	var payload MLSPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return fmt.Errorf("decoding message payload: %w", err)
	}

	conversation, err := r.store.GetConversation(ctx, ev.Conversation)
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}
	if conversation.GroupID.IsZero() {
		return fmt.Errorf("conversation %s has no group", ev.Conversation)
	}

	plaintext, err := r.sessions.Decrypt(ctx, conversation.GroupID, payload.Data)
	if err != nil {
		return err
	}
	if plaintext == nil {
		// Replay or protocol message; nothing to deliver.
		r.logger.Debug("message yielded no application payload",
			"conversation", ev.Conversation)
		return nil
	}

	msg, err := message.Decode(plaintext)
	if err != nil {
		return fmt.Errorf("decoding decrypted message: %w", err)
	}
	msg.Visit(handlerVisitor{ctx: ctx, handler: r.handler})
	return nil
}

// handleConversationCreate persists the conversation record. It does
// NOT join the group — that happens separately via welcome or external
// commit. Redeliveries are harmless upserts.
func (r *Router) handleConversationCreate(ctx context.Context, envelope Envelope, ev Event) error {
	var payload ConversationPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return fmt.Errorf("decoding conversation payload: %w", err)
	}

	conversation := store.Conversation{
		ID:     payload.QualifiedID,
		Name:   payload.Name,
		TeamID: r.teamID,
		Type:   store.ConversationType(payload.Type),
	}
	if conversation.ID.IsZero() {
		conversation.ID = ev.Conversation
	}
	if payload.GroupID != "" {
		groupID, err := ref.ParseGroupID(payload.GroupID)
		if err != nil {
			return fmt.Errorf("conversation payload has invalid group ID: %w", err)
		}
		conversation.GroupID = groupID
	}

	if envelope.Transient {
		r.logger.Warn("dropping transient conversation.create",
			"conversation", conversation.ID)
		return nil
	}
	if conversation.GroupID.IsZero() {
		// The group handle is immutable once assigned. A create
		// redelivered after the welcome carries no group; keep the one
		// the welcome established.
		if existing, err := r.store.GetConversation(ctx, conversation.ID); err == nil {
			conversation.GroupID = existing.GroupID
		}
	}
	if err := r.store.PutConversation(ctx, conversation); err != nil {
		return fmt.Errorf("persisting conversation: %w", err)
	}
	return nil
}

func (r *Router) handleConversationDelete(ctx context.Context, envelope Envelope, ev Event) error {
	if !envelope.Transient {
		if err := r.store.DeleteConversation(ctx, ev.Conversation); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
	}
	r.handler.OnConversationDelete(ctx, ev.Conversation)
	return nil
}

// handleMembers dispatches membership callbacks. Membership events do
// not by themselves change group state; that is driven by commit
// processing.
func (r *Router) handleMembers(ctx context.Context, ev Event, callback func(context.Context, ref.QualifiedID, []ref.QualifiedID)) error {
	var payload MembersPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return fmt.Errorf("decoding members payload: %w", err)
	}
	callback(ctx, ev.Conversation, payload.Users)
	return nil
}

func (r *Router) handleTeamInvite(ctx context.Context, ev Event) error {
	teamID := ev.Team
	if len(ev.Data) > 0 {
		var payload TeamInvitePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return fmt.Errorf("decoding team invite payload: %w", err)
		}
		if payload.Team != "" {
			teamID = payload.Team
		}
	}
	if teamID == "" {
		return fmt.Errorf("team invite carries no team ID")
	}
	if r.onboarder == nil {
		r.logger.Warn("dropping team invite: no onboarder registered", "invited_team", teamID)
		return nil
	}
	r.onboarder.OnTeamInvite(ctx, teamID)
	return nil
}

// handlerVisitor adapts the Handler callback surface to the message
// visitor, carrying the routing context through the dispatch.
type handlerVisitor struct {
	ctx     context.Context
	handler Handler
}

func (v handlerVisitor) VisitText(m message.Message, c message.Text) {
	v.handler.OnMessage(v.ctx, m, c)
}

func (v handlerVisitor) VisitAsset(m message.Message, c message.Asset) {
	v.handler.OnAsset(v.ctx, m, c)
}

func (v handlerVisitor) VisitComposite(m message.Message, c message.Composite) {
	v.handler.OnComposite(v.ctx, m, c)
}

func (v handlerVisitor) VisitButtonAction(m message.Message, c message.ButtonAction) {
	v.handler.OnButtonAction(v.ctx, m, c)
}

func (v handlerVisitor) VisitButtonActionConfirmation(m message.Message, c message.ButtonActionConfirmation) {
	v.handler.OnButtonActionConfirmation(v.ctx, m, c)
}

func (v handlerVisitor) VisitKnock(m message.Message, c message.Knock) {
	v.handler.OnKnock(v.ctx, m, c)
}

func (v handlerVisitor) VisitLocation(m message.Message, c message.Location) {
	v.handler.OnLocation(v.ctx, m, c)
}

func (v handlerVisitor) VisitDeleted(m message.Message, c message.Deleted) {
	v.handler.OnDeletedMessage(v.ctx, m, c)
}

func (v handlerVisitor) VisitReaction(m message.Message, c message.Reaction) {
	v.handler.OnReaction(v.ctx, m, c)
}

func (v handlerVisitor) VisitTextEdited(m message.Message, c message.TextEdited) {
	v.handler.OnTextEdited(v.ctx, m, c)
}

func (v handlerVisitor) VisitCompositeEdited(m message.Message, c message.CompositeEdited) {
	v.handler.OnCompositeEdited(v.ctx, m, c)
}

func (v handlerVisitor) VisitReceipt(m message.Message, c message.Receipt) {
	v.handler.OnReceiptConfirmation(v.ctx, m, c)
}

func (v handlerVisitor) VisitInCallEmoji(m message.Message, c message.InCallEmoji) {
	v.handler.OnInCallEmoji(v.ctx, m, c)
}

func (v handlerVisitor) VisitInCallHandRaise(m message.Message, c message.InCallHandRaise) {
	v.handler.OnInCallHandRaise(v.ctx, m, c)
}

func (v handlerVisitor) VisitUnknown(m message.Message, c message.Unknown) {
	v.handler.OnUnknownMessage(v.ctx, m, c)
}
