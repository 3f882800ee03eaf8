// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Provider identifies an external identity provider a player can link.
type Provider string

// Supported providers. The values double as the identity type IDs reported
// in PlayerInfo.
const (
	ProviderApple           Provider = "apple.com"
	ProviderGooglePlayGames Provider = "google-play-games"
)

// Providers lists every provider the backend knows how to verify.
var Providers = []Provider{ProviderApple, ProviderGooglePlayGames}

// ParseProvider maps a wire value onto a Provider. Matching ignores case.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", oops.Code(CodeProviderUnknown).
		With("provider", s).
		Errorf("unknown identity provider %q", s)
}

// Player is an identity owned by the backend. A player starts anonymous and
// may later gain linked identities.
type Player struct {
	ID           ulid.ULID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSignInAt time.Time
}

// NewPlayer creates a fresh anonymous player.
func NewPlayer() *Player {
	now := time.Now()
	return &Player{
		ID:           ulid.Make(),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSignInAt: now,
	}
}

// RecordSignIn stamps a successful sign-in.
func (p *Player) RecordSignIn() {
	now := time.Now()
	p.LastSignInAt = now
	p.UpdatedAt = now
}

// ExternalIdentity is the normalized result of verifying a platform
// credential. It contains facts only, no decisions.
type ExternalIdentity struct {
	Provider Provider
	Subject  string // provider-scoped stable user identifier
	Email    string // optional, Apple may withhold it
}

// Identity binds an external identity to a player.
type Identity struct {
	ID        ulid.ULID
	PlayerID  ulid.ULID
	Provider  Provider
	Subject   string
	CreatedAt time.Time
}

// NewIdentity creates a validated Identity linking ext to playerID.
func NewIdentity(playerID ulid.ULID, ext *ExternalIdentity) (*Identity, error) {
	if playerID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("IDENTITY_INVALID_PLAYER").Errorf("player ID cannot be zero")
	}
	if ext == nil {
		return nil, oops.Code("IDENTITY_INVALID").Errorf("external identity is required")
	}
	if ext.Provider == "" {
		return nil, oops.Code("IDENTITY_INVALID_PROVIDER").Errorf("provider cannot be empty")
	}
	if ext.Subject == "" {
		return nil, oops.Code("IDENTITY_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	return &Identity{
		ID:        ulid.Make(),
		PlayerID:  playerID,
		Provider:  ext.Provider,
		Subject:   ext.Subject,
		CreatedAt: time.Now(),
	}, nil
}

// PlayerInfo is the public view of a player returned to clients.
type PlayerInfo struct {
	ID         ulid.ULID
	CreatedAt  time.Time
	Identities []*Identity
}

// PlayerRepository manages player persistence.
type PlayerRepository interface {
	// Create stores a new player.
	Create(ctx context.Context, player *Player) error

	// GetByID retrieves a player by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Player, error)

	// Update updates an existing player.
	Update(ctx context.Context, player *Player) error

	// Delete removes a player and, through cascading, its identities and sessions.
	Delete(ctx context.Context, id ulid.ULID) error
}

// IdentityRepository manages linked identity persistence.
type IdentityRepository interface {
	// Create stores a new identity. Returns ErrAlreadyLinked if the
	// (provider, subject) pair is already bound.
	Create(ctx context.Context, identity *Identity) error

	// GetBySubject retrieves the identity for a provider subject.
	GetBySubject(ctx context.Context, provider Provider, subject string) (*Identity, error)

	// ListByPlayer retrieves all identities linked to a player, oldest first.
	ListByPlayer(ctx context.Context, playerID ulid.ULID) ([]*Identity, error)
}
