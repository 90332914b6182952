// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
	"github.com/bureau-foundation/wireapp/message"
	"github.com/bureau-foundation/wireapp/mls"
	"github.com/bureau-foundation/wireapp/store"
)

// recordingHandler captures callback invocations.
type recordingHandler struct {
	BaseHandler

	texts         []message.Text
	joins         []store.Conversation
	deletes       []ref.QualifiedID
	memberJoins   [][]ref.QualifiedID
	typingUsers   []ref.QualifiedID
	unknownEvents int
}

func (h *recordingHandler) OnMessage(ctx context.Context, msg message.Message, content message.Text) {
	h.texts = append(h.texts, content)
}

func (h *recordingHandler) OnConversationJoin(ctx context.Context, conversation store.Conversation) {
	h.joins = append(h.joins, conversation)
}

func (h *recordingHandler) OnConversationDelete(ctx context.Context, conversationID ref.QualifiedID) {
	h.deletes = append(h.deletes, conversationID)
}

func (h *recordingHandler) OnMemberJoin(ctx context.Context, conversationID ref.QualifiedID, users []ref.QualifiedID) {
	h.memberJoins = append(h.memberJoins, users)
}

func (h *recordingHandler) OnTyping(ctx context.Context, conversationID ref.QualifiedID, user ref.QualifiedID, started bool) {
	if started {
		h.typingUsers = append(h.typingUsers, user)
	}
}

func (h *recordingHandler) OnUnknownMessage(ctx context.Context, msg message.Message, content message.Unknown) {
	h.unknownEvents++
}

// routerFixture wires a router for a receiving client, plus the
// sending side needed to mint welcomes and ciphertexts.
type routerFixture struct {
	router   *Router
	handler  *recordingHandler
	store    store.Repository
	sessions *mls.SessionManager

	sender         *mls.ReferenceClient
	groupID        ref.GroupID
	conversationID ref.QualifiedID
	welcome        []byte
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	password, err := secret.NewFromString("store-password")
	if err != nil {
		t.Fatalf("creating password: %v", err)
	}
	t.Cleanup(func() { password.Close() })

	repository, err := store.Open(store.Config{
		Path:     filepath.Join(t.TempDir(), "store.db"),
		PoolSize: 1,
		Password: password,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { repository.Close() })

	// Receiving side: the client under test, wrapped in a manager.
	receiver := mls.NewReferenceClient()
	receiverID, _ := ref.ParseClientID("receiver-device")
	if err := receiver.Init(ctx, receiverID, password); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	sessions := mls.NewSessionManager(receiver, logger)

	// Sending side: creates the group and mints the welcome.
	sender := mls.NewReferenceClient()
	senderID, _ := ref.ParseClientID("sender-device")
	if err := sender.Init(ctx, senderID, password); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	groupID, _ := ref.ParseGroupID("cm91dGVyLWdyb3Vw")
	if err := sender.CreateGroup(ctx, groupID); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	packages, err := receiver.GenerateKeyPackages(ctx, 1)
	if err != nil {
		t.Fatalf("GenerateKeyPackages failed: %v", err)
	}
	bundle, err := sender.AddMembers(ctx, groupID, packages)
	if err != nil {
		t.Fatalf("AddMembers failed: %v", err)
	}

	handler := &recordingHandler{BaseHandler: BaseHandler{Logger: logger}}
	teamID, _ := ref.ParseTeamID("team-1")
	router := NewRouter(RouterConfig{
		TeamID:   teamID,
		Store:    repository,
		Sessions: sessions,
		Handler:  handler,
		Logger:   logger,
	})

	conversationID, _ := ref.NewQualifiedID("conv-1", "wire.example.com")
	return &routerFixture{
		router:         router,
		handler:        handler,
		store:          repository,
		sessions:       sessions,
		sender:         sender,
		groupID:        groupID,
		conversationID: conversationID,
		welcome:        bundle.Welcome,
	}
}

func (f *routerFixture) welcomeEvent(t *testing.T) Event {
	t.Helper()
	data, err := json.Marshal(MLSPayload{Data: f.welcome})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return Event{Type: TagMLSWelcome, Conversation: f.conversationID, Data: data}
}

func (f *routerFixture) messageEvent(t *testing.T, body string) Event {
	t.Helper()
	encoded, err := message.Encode(message.Message{
		ID:             uuid.New(),
		ConversationID: f.conversationID,
		Content:        message.Text{Body: body},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	ciphertext, err := f.sender.Encrypt(context.Background(), f.groupID, encoded)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	data, err := json.Marshal(MLSPayload{Data: ciphertext})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return Event{Type: TagMLSMessageAdd, Conversation: f.conversationID, Data: data}
}

func TestWelcomeEstablishesConversation(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{f.welcomeEvent(t)}})

	if len(f.handler.joins) != 1 {
		t.Fatalf("OnConversationJoin called %d times, want 1", len(f.handler.joins))
	}
	if f.handler.joins[0].GroupID != f.groupID {
		t.Errorf("joined conversation has wrong group: %s", f.handler.joins[0].GroupID)
	}

	stored, err := f.store.GetConversation(ctx, f.conversationID)
	if err != nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if stored.GroupID != f.groupID {
		t.Errorf("stored conversation has wrong group: %s", stored.GroupID)
	}

	// A redelivered welcome is a silent no-op.
	f.router.Route(ctx, Envelope{ID: "env-2", Events: []Event{f.welcomeEvent(t)}})
	if len(f.handler.joins) != 1 {
		t.Errorf("redelivered welcome triggered another join callback")
	}
}

func TestMessageDeliveryAndReplay(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{f.welcomeEvent(t)}})

	ev := f.messageEvent(t, "hello")
	f.router.Route(ctx, Envelope{ID: "env-2", Events: []Event{ev}})
	if len(f.handler.texts) != 1 || f.handler.texts[0].Body != "hello" {
		t.Fatalf("expected one delivered text, got %+v", f.handler.texts)
	}

	// The backend redelivers the same envelope: replayed ciphertext
	// decrypts to nil and no callback fires.
	f.router.Route(ctx, Envelope{ID: "env-2", Events: []Event{ev}})
	if len(f.handler.texts) != 1 {
		t.Errorf("replayed message was delivered again: %d texts", len(f.handler.texts))
	}
}

func TestEventFailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{f.welcomeEvent(t)}})

	// Event 0 fails (garbage payload for a known tag); events 1 and 2
	// must still be processed in order.
	broken := Event{
		Type:         TagMLSMessageAdd,
		Conversation: f.conversationID,
		Data:         json.RawMessage(`{"data": "!!!not-base64!!!"}`),
	}
	f.router.Route(ctx, Envelope{ID: "env-2", Events: []Event{
		broken,
		f.messageEvent(t, "first"),
		f.messageEvent(t, "second"),
	}})

	if len(f.handler.texts) != 2 {
		t.Fatalf("expected 2 delivered texts after failing event, got %d", len(f.handler.texts))
	}
	if f.handler.texts[0].Body != "first" || f.handler.texts[1].Body != "second" {
		t.Errorf("messages delivered out of order: %+v", f.handler.texts)
	}
}

func TestConversationCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	payload, _ := json.Marshal(ConversationPayload{
		QualifiedID: f.conversationID,
		Name:        "general",
		Type:        int(store.ConversationGroup),
	})
	ev := Event{Type: TagConversationCreate, Conversation: f.conversationID, Data: payload}

	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{ev}})
	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{ev}})

	all, err := f.store.GetAllConversations(ctx)
	if err != nil {
		t.Fatalf("GetAllConversations failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("duplicate create produced %d records", len(all))
	}
	if all[0].Name != "general" {
		t.Errorf("unexpected name: %q", all[0].Name)
	}
	// create does not join: no group, no join callback.
	if len(f.handler.joins) != 0 {
		t.Error("conversation.create must not trigger OnConversationJoin")
	}
}

func TestConversationCreateThenWelcomeKeepsName(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	payload, _ := json.Marshal(ConversationPayload{
		QualifiedID: f.conversationID,
		Name:        "general",
		Type:        int(store.ConversationGroup),
	})
	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{
		{Type: TagConversationCreate, Conversation: f.conversationID, Data: payload},
	}})
	f.router.Route(ctx, Envelope{ID: "env-2", Events: []Event{f.welcomeEvent(t)}})

	stored, err := f.store.GetConversation(ctx, f.conversationID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if stored.Name != "general" {
		t.Errorf("welcome dropped the conversation name: %q", stored.Name)
	}
	if stored.GroupID != f.groupID {
		t.Errorf("welcome did not set the group: %s", stored.GroupID)
	}
}

func TestWelcomeThenCreateKeepsGroup(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{f.welcomeEvent(t)}})

	// The backend redelivers the create after a disconnect; it carries
	// no group handle. The one the welcome established must survive.
	payload, _ := json.Marshal(ConversationPayload{
		QualifiedID: f.conversationID,
		Name:        "general",
		Type:        int(store.ConversationGroup),
	})
	f.router.Route(ctx, Envelope{ID: "env-2", Events: []Event{
		{Type: TagConversationCreate, Conversation: f.conversationID, Data: payload},
	}})

	stored, err := f.store.GetConversation(ctx, f.conversationID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if stored.GroupID != f.groupID {
		t.Fatalf("redelivered create changed the group: %s", stored.GroupID)
	}
	if stored.Name != "general" {
		t.Errorf("create did not record the name: %q", stored.Name)
	}

	// Messages remain deliverable afterwards.
	f.router.Route(ctx, Envelope{ID: "env-3", Events: []Event{f.messageEvent(t, "still here")}})
	if len(f.handler.texts) != 1 || f.handler.texts[0].Body != "still here" {
		t.Errorf("message after redelivered create not delivered: %+v", f.handler.texts)
	}
}

func TestConversationDelete(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)
	f.router.Route(ctx, Envelope{ID: "env-1", Events: []Event{f.welcomeEvent(t)}})

	f.router.Route(ctx, Envelope{ID: "env-2", Events: []Event{
		{Type: TagConversationDelete, Conversation: f.conversationID},
	}})

	if len(f.handler.deletes) != 1 || f.handler.deletes[0] != f.conversationID {
		t.Fatalf("OnConversationDelete not invoked correctly: %+v", f.handler.deletes)
	}
	if _, err := f.store.GetConversation(ctx, f.conversationID); err == nil {
		t.Error("conversation record survived delete event")
	}
}

func TestMembershipAndTyping(t *testing.T) {
	ctx := context.Background()
	f := newRouterFixture(t)

	user, _ := ref.NewQualifiedID("user-1", "wire.example.com")
	members, _ := json.Marshal(MembersPayload{Users: []ref.QualifiedID{user}})
	typing, _ := json.Marshal(TypingPayload{Status: "started"})

	f.router.Route(ctx, Envelope{ID: "env-1", Transient: true, Events: []Event{
		{Type: TagMemberJoin, Conversation: f.conversationID, Data: members},
		{Type: TagTyping, Conversation: f.conversationID, From: user, Data: typing},
	}})

	if len(f.handler.memberJoins) != 1 || f.handler.memberJoins[0][0] != user {
		t.Errorf("OnMemberJoin not invoked correctly: %+v", f.handler.memberJoins)
	}
	if len(f.handler.typingUsers) != 1 || f.handler.typingUsers[0] != user {
		t.Errorf("OnTyping not invoked correctly: %+v", f.handler.typingUsers)
	}

	// Transient envelopes leave no durable trace.
	all, err := f.store.GetAllConversations(ctx)
	if err != nil {
		t.Fatalf("GetAllConversations failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("transient envelope persisted %d conversations", len(all))
	}
}

func TestUnknownTagIgnored(t *testing.T) {
	f := newRouterFixture(t)
	f.router.Route(context.Background(), Envelope{ID: "env-1", Events: []Event{
		{Type: "conversation.shiny-new-feature", Conversation: f.conversationID},
	}})
	// Nothing delivered, nothing crashed.
	if len(f.handler.texts) != 0 || len(f.handler.joins) != 0 {
		t.Error("unknown tag produced callbacks")
	}
}

type recordingOnboarder struct {
	invites []string
}

func (o *recordingOnboarder) OnTeamInvite(ctx context.Context, teamID string) {
	o.invites = append(o.invites, teamID)
}

func TestTeamInviteForwarded(t *testing.T) {
	f := newRouterFixture(t)
	onboarder := &recordingOnboarder{}
	teamID, _ := ref.ParseTeamID("team-1")
	router := NewRouter(RouterConfig{
		TeamID:    teamID,
		Store:     f.store,
		Sessions:  f.sessions,
		Handler:   f.handler,
		Onboarder: onboarder,
		Logger:    slog.New(slog.DiscardHandler),
	})

	payload, _ := json.Marshal(TeamInvitePayload{Team: "team-9"})
	router.Route(context.Background(), Envelope{ID: "env-1", Events: []Event{
		{Type: TagTeamInvite, Data: payload},
	}})

	if len(onboarder.invites) != 1 || onboarder.invites[0] != "team-9" {
		t.Errorf("invite not forwarded: %+v", onboarder.invites)
	}
}
