// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package team runs the per-team event loop: one supervisor per team
// owns that team's event stream and feeds every envelope, in order,
// through the team's router. Sequential processing here is what
// guarantees decrypt ordering for the team's groups.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/wireapp/backend"
	"github.com/bureau-foundation/wireapp/event"
	"github.com/bureau-foundation/wireapp/lib/apperr"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/store"
)

// SupervisorConfig holds one team's collaborators.
type SupervisorConfig struct {
	TeamID ref.TeamID

	// Session is the team's authenticated backend session. The
	// supervisor swaps its access token when a stream open fails with
	// Unauthorized.
	Session *backend.Session

	// Router consumes the envelopes the stream delivers.
	Router *event.Router

	// Store persists refreshed credentials before they are used.
	Store store.Repository

	Logger *slog.Logger
}

// Supervisor reads one team's event stream and routes every envelope.
// It runs a single connection: when the stream ends, Run returns and
// the lifecycle controller decides whether and when to reconnect.
type Supervisor struct {
	teamID  ref.TeamID
	session *backend.Session
	router  *event.Router
	store   store.Repository
	logger  *slog.Logger
}

// NewSupervisor creates a Supervisor for one team.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		teamID:  cfg.TeamID,
		session: cfg.Session,
		router:  cfg.Router,
		store:   cfg.Store,
		logger:  logger.With("team", cfg.TeamID),
	}
}

// Run opens the team's event stream and processes envelopes until the
// stream ends or ctx is cancelled. It always returns a non-nil reason;
// ctx cancellation comes back as the ctx error. Run never reconnects
// on its own.
func (s *Supervisor) Run(ctx context.Context) error {
	stream, err := s.openStream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	s.logger.Info("event stream connected")
	for {
		envelope, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("team: event stream ended: %w", err)
		}
		// Synchronous: the next envelope is not read until this one is
		// fully processed.
		s.router.Route(ctx, envelope)
	}
}

// openStream connects the event stream, refreshing the access token
// once if the backend rejects the current one.
func (s *Supervisor) openStream(ctx context.Context) (*backend.Stream, error) {
	stream, err := s.session.OpenStream(ctx)
	if err == nil {
		return stream, nil
	}
	if !apperr.Is(err, apperr.Unauthorized) {
		return nil, fmt.Errorf("team: opening event stream: %w", err)
	}

	s.logger.Info("access token rejected, refreshing")
	if err := s.refreshCredentials(ctx); err != nil {
		return nil, err
	}
	stream, err = s.session.OpenStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("team: opening event stream after token refresh: %w", err)
	}
	return stream, nil
}

// refreshCredentials exchanges the stored refresh token for fresh
// credentials, persists them, and installs the new access token on the
// session. Persist-then-install: a crash between the two leaves valid
// tokens on disk.
func (s *Supervisor) refreshCredentials(ctx context.Context) error {
	team, err := s.store.GetTeam(ctx, s.teamID)
	if err != nil {
		return fmt.Errorf("team: loading credentials for refresh: %w", err)
	}
	defer team.Close()

	if team.RefreshToken == nil {
		return errors.New("team: no refresh token stored")
	}
	access, rotatedRefresh, err := s.session.RefreshAccessToken(ctx, team.RefreshToken)
	if err != nil {
		return fmt.Errorf("team: refreshing access token: %w", err)
	}

	updated := team
	updated.AccessToken = access
	if rotatedRefresh != nil {
		updated.RefreshToken = rotatedRefresh
	}
	if err := s.store.PutTeam(ctx, updated); err != nil {
		access.Close()
		if rotatedRefresh != nil {
			rotatedRefresh.Close()
		}
		return fmt.Errorf("team: persisting refreshed credentials: %w", err)
	}
	if rotatedRefresh != nil {
		rotatedRefresh.Close()
	}

	// The session takes ownership of the access buffer.
	s.session.SetAccessToken(access)
	return nil
}
