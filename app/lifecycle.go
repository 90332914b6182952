// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/wireapp/backend"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
	"github.com/bureau-foundation/wireapp/mls"
	"github.com/bureau-foundation/wireapp/store"
)

// Reconnect policy. A connection that survived healthyConnection
// resets the backoff ladder; anything shorter doubles it up to
// maxBackoff.
const (
	initialBackoff    = time.Second
	maxBackoff        = 30 * time.Second
	healthyConnection = time.Minute
)

// keyPackageBatchSize is the number of key packages uploaded when a
// team is registered. The backend hands one out per claiming client.
const keyPackageBatchSize = 100

// lifecycleState tracks the Stopped/Running transition. Start and Stop
// are mutually exclusive and idempotent.
type lifecycleState struct {
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Start connects every stored team: crypto sessions are initialized
// first (a wrong password fails the whole Start, before any stream is
// opened), then one supervising goroutine per team runs the reconnect
// loop. Idempotent; a second Start while running is a no-op. ctx
// bounds the startup work only — the connection loops run until Stop.
func (a *App) Start(ctx context.Context) error {
	a.lifecycle.mu.Lock()
	defer a.lifecycle.mu.Unlock()
	if a.lifecycle.running {
		return nil
	}

	records, err := a.store.GetAllTeams(ctx)
	if err != nil {
		return fmt.Errorf("app: loading stored teams: %w", err)
	}

	var runtimes []*teamRuntime
	for i, record := range records {
		rt, err := a.buildRuntime(ctx, record)
		if err != nil {
			for _, built := range runtimes {
				built.close()
			}
			for _, rest := range records[i+1:] {
				rest.Close()
			}
			return err
		}
		runtimes = append(runtimes, rt)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.lifecycle.ctx = runCtx
	a.lifecycle.cancel = cancel

	a.teamsMu.Lock()
	for _, rt := range runtimes {
		a.teams[rt.teamID.String()] = rt
	}
	a.teamsMu.Unlock()

	for _, rt := range runtimes {
		a.lifecycle.wg.Add(1)
		go a.superviseTeam(runCtx, rt)
	}
	a.lifecycle.running = true
	a.logger.Info("app started", "teams", len(runtimes))
	return nil
}

// Stop disconnects every team and releases their sessions. Idempotent;
// returns once all supervising goroutines have exited.
func (a *App) Stop() {
	a.lifecycle.mu.Lock()
	defer a.lifecycle.mu.Unlock()
	if !a.lifecycle.running {
		return
	}

	a.lifecycle.cancel()
	a.lifecycle.wg.Wait()

	a.teamsMu.Lock()
	for _, rt := range a.teams {
		rt.close()
	}
	a.teams = make(map[string]*teamRuntime)
	a.teamsMu.Unlock()

	a.lifecycle.running = false
	a.lifecycle.ctx = nil
	a.lifecycle.cancel = nil
	a.logger.Info("app stopped")
}

// IsRunning reports whether Start has completed and Stop has not.
func (a *App) IsRunning() bool {
	a.lifecycle.mu.Lock()
	defer a.lifecycle.mu.Unlock()
	return a.lifecycle.running
}

// superviseTeam runs one team's connection until the app stops:
// stream, and on stream end, bounded exponential backoff before the
// next attempt.
func (a *App) superviseTeam(ctx context.Context, rt *teamRuntime) {
	defer a.lifecycle.wg.Done()
	logger := a.logger.With("team", rt.teamID)

	delay := initialBackoff
	for {
		connectedAt := a.clock.Now()
		err := rt.supervisor.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if a.clock.Now().Sub(connectedAt) >= healthyConnection {
			delay = initialBackoff
		}
		logger.Info("stream ended, scheduling reconnect", "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(delay):
		}
		delay = min(delay*2, maxBackoff)
	}
}

// RegisterTeam provisions the app on a new team: registers a device,
// initializes the team's crypto session under the assigned client ID,
// publishes the signature key and an initial key package batch, and
// persists the team record. If the app is running, the team's stream
// connects immediately. The App borrows the token buffers; the caller
// keeps ownership.
//
// This is the second half of invite acceptance: the Onboarder receives
// the invite, obtains credentials out of band, then calls RegisterTeam.
func (a *App) RegisterTeam(ctx context.Context, teamID ref.TeamID, selfUser ref.QualifiedID, accessToken, refreshToken *secret.Buffer, deviceLabel string) error {
	sessionToken, err := secret.NewFromString(accessToken.String())
	if err != nil {
		return fmt.Errorf("app: copying access token: %w", err)
	}
	session := backend.NewSession(a.backend, ref.ClientID{}, sessionToken)

	clientID, err := session.RegisterClient(ctx, nil, deviceLabel)
	if err != nil {
		session.Close()
		return fmt.Errorf("app: registering client for team %s: %w", teamID, err)
	}
	session.SetClientID(clientID)

	sessions := mls.NewSessionManager(a.newCrypto(), a.logger)
	if err := sessions.EnsureInitialized(ctx, clientID, a.password); err != nil {
		session.Close()
		sessions.Close()
		return fmt.Errorf("app: initializing crypto for team %s: %w", teamID, err)
	}
	if err := a.publishKeyMaterial(ctx, session, sessions); err != nil {
		session.Close()
		sessions.Close()
		return err
	}

	record := store.Team{
		ID:           teamID,
		SelfUser:     selfUser,
		SelfClient:   clientID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if err := a.store.PutTeam(ctx, record); err != nil {
		session.Close()
		sessions.Close()
		return fmt.Errorf("app: persisting team %s: %w", teamID, err)
	}
	a.logger.Info("team registered", "team", teamID, "client", clientID)

	a.connectRegistered(record, session, sessions)
	return nil
}

// publishKeyMaterial uploads the crypto session's public identity: the
// signature key on the client record, plus a batch of claimable key
// packages.
func (a *App) publishKeyMaterial(ctx context.Context, session *backend.Session, sessions *mls.SessionManager) error {
	publicKey, err := sessions.PublicKey(ctx)
	if err != nil {
		return fmt.Errorf("app: reading public key: %w", err)
	}
	if err := session.UpdateClientPublicKey(ctx, publicKey); err != nil {
		return fmt.Errorf("app: publishing public key: %w", err)
	}
	packages, err := sessions.GenerateKeyPackages(ctx, keyPackageBatchSize)
	if err != nil {
		return fmt.Errorf("app: generating key packages: %w", err)
	}
	if err := session.UploadKeyPackages(ctx, packages); err != nil {
		return fmt.Errorf("app: uploading key packages: %w", err)
	}
	return nil
}

// connectRegistered installs the freshly registered team's runtime
// and, if the app is running, starts supervising its stream. When the
// app is stopped the sessions are released; Start will rebuild them
// from the stored record.
func (a *App) connectRegistered(record store.Team, session *backend.Session, sessions *mls.SessionManager) {
	a.lifecycle.mu.Lock()
	defer a.lifecycle.mu.Unlock()
	if !a.lifecycle.running {
		session.Close()
		sessions.Close()
		return
	}

	rt := a.assembleRuntime(record, session, sessions)
	a.teamsMu.Lock()
	a.teams[rt.teamID.String()] = rt
	a.teamsMu.Unlock()

	a.lifecycle.wg.Add(1)
	go a.superviseTeam(a.lifecycle.ctx, rt)
}
