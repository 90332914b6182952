// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package app is the SDK facade: one App per process owns the store,
// the backend client, and a per-team runtime (crypto session, backend
// session, event supervisor). Applications implement Handler for
// inbound traffic and call the outbound methods; Start/Stop drive the
// connection lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/wireapp/backend"
	"github.com/bureau-foundation/wireapp/event"
	"github.com/bureau-foundation/wireapp/lib/apperr"
	"github.com/bureau-foundation/wireapp/lib/clock"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
	"github.com/bureau-foundation/wireapp/mls"
	"github.com/bureau-foundation/wireapp/store"
	"github.com/bureau-foundation/wireapp/team"
)

// Handler receives decrypted messages and conversation lifecycle
// callbacks. Embed BaseHandler and override what you need.
type Handler = event.Handler

// BaseHandler provides log-and-ignore defaults for every Handler
// callback.
type BaseHandler = event.BaseHandler

// Onboarder receives team invites. The SDK cannot accept an invite by
// itself — credentials for the new team are obtained out of band — so
// the application decides and, once it has tokens, calls RegisterTeam.
type Onboarder = event.Onboarder

// Config assembles an App. Store, Backend, NewCryptoClient,
// CryptoPassword, and Handler are required.
type Config struct {
	// Store persists teams, conversations, and metadata.
	Store store.Repository

	// Backend is the shared HTTP client; per-team sessions are layered
	// on top of it.
	Backend *backend.Client

	// NewCryptoClient returns a fresh crypto client. Called once per
	// team; each team's group state is isolated in its own client.
	NewCryptoClient func() mls.CryptoClient

	// CryptoPassword opens each team's crypto store. The App borrows
	// the buffer; the caller keeps ownership.
	CryptoPassword *secret.Buffer

	// Handler receives inbound traffic for every team.
	Handler Handler

	// Onboarder receives team invites. Optional; without one, invites
	// are logged and dropped.
	Onboarder Onboarder

	// Clock drives reconnect backoff. Nil means the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// App is the SDK entry point. Safe for concurrent use.
type App struct {
	store     store.Repository
	backend   *backend.Client
	newCrypto func() mls.CryptoClient
	password  *secret.Buffer
	handler   Handler
	onboarder Onboarder
	clock     clock.Clock
	logger    *slog.Logger

	// lifecycle guards Start/Stop transitions; see lifecycle.go.
	lifecycle lifecycleState

	// teamsMu guards the runtime map. Runtimes are added by Start and
	// RegisterTeam, removed only by Stop.
	teamsMu sync.RWMutex
	teams   map[string]*teamRuntime
}

// New assembles an App from its collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("app: config requires a store")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("app: config requires a backend client")
	}
	if cfg.NewCryptoClient == nil {
		return nil, fmt.Errorf("app: config requires a crypto client factory")
	}
	if cfg.CryptoPassword == nil {
		return nil, fmt.Errorf("app: config requires the crypto store password")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("app: config requires a handler")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:     cfg.Store,
		backend:   cfg.Backend,
		newCrypto: cfg.NewCryptoClient,
		password:  cfg.CryptoPassword,
		handler:   cfg.Handler,
		onboarder: cfg.Onboarder,
		clock:     clk,
		logger:    logger,
		teams:     make(map[string]*teamRuntime),
	}, nil
}

// teamRuntime is the per-team machinery: authenticated backend
// session, crypto session manager, and the stream supervisor wiring
// them together.
type teamRuntime struct {
	teamID   ref.TeamID
	selfUser ref.QualifiedID

	session    *backend.Session
	sessions   *mls.SessionManager
	supervisor *team.Supervisor
}

func (rt *teamRuntime) close() {
	rt.session.Close()
	rt.sessions.Close()
}

// buildRuntime constructs and initializes the runtime for one stored
// team: crypto session first (a bad password must surface before any
// network traffic), then the authenticated backend session and the
// supervisor. Takes ownership of the team's token buffers.
func (a *App) buildRuntime(ctx context.Context, record store.Team) (*teamRuntime, error) {
	sessions := mls.NewSessionManager(a.newCrypto(), a.logger)
	if err := sessions.EnsureInitialized(ctx, record.SelfClient, a.password); err != nil {
		record.Close()
		sessions.Close()
		return nil, fmt.Errorf("app: initializing crypto for team %s: %w", record.ID, err)
	}

	session := backend.NewSession(a.backend, record.SelfClient, record.AccessToken)
	record.AccessToken = nil
	record.Close()

	return a.assembleRuntime(record, session, sessions), nil
}

// assembleRuntime wires a router and supervisor around an initialized
// pair of sessions.
func (a *App) assembleRuntime(record store.Team, session *backend.Session, sessions *mls.SessionManager) *teamRuntime {
	router := event.NewRouter(event.RouterConfig{
		TeamID:    record.ID,
		Store:     a.store,
		Sessions:  sessions,
		Handler:   a.handler,
		Onboarder: a.onboarder,
		Logger:    a.logger,
	})
	return &teamRuntime{
		teamID:   record.ID,
		selfUser: record.SelfUser,
		session:  session,
		sessions: sessions,
		supervisor: team.NewSupervisor(team.SupervisorConfig{
			TeamID:  record.ID,
			Session: session,
			Router:  router,
			Store:   a.store,
			Logger:  a.logger,
		}),
	}
}

// runtimeFor resolves the runtime serving a team. A zero team ID is
// accepted when exactly one team is connected (the common single-team
// deployment).
func (a *App) runtimeFor(teamID ref.TeamID) (*teamRuntime, error) {
	a.teamsMu.RLock()
	defer a.teamsMu.RUnlock()

	if teamID.IsZero() {
		if len(a.teams) == 1 {
			for _, rt := range a.teams {
				return rt, nil
			}
		}
		return nil, apperr.E(apperr.InvalidParameter,
			"app: %d teams connected, a team ID is required", len(a.teams))
	}
	rt, ok := a.teams[teamID.String()]
	if !ok {
		return nil, apperr.E(apperr.EntityNotFound, "app: team %s is not connected", teamID)
	}
	return rt, nil
}

// GetStoredTeams returns every team record in the store. The caller
// owns the returned token buffers.
func (a *App) GetStoredTeams(ctx context.Context) ([]store.Team, error) {
	return a.store.GetAllTeams(ctx)
}

// GetStoredConversations returns every conversation record in the
// store.
func (a *App) GetStoredConversations(ctx context.Context) ([]store.Conversation, error) {
	return a.store.GetAllConversations(ctx)
}
