// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pickiss/playerid/internal/auth"
)

// Compile-time interface check.
var _ auth.IdentityRepository = (*IdentityRepository)(nil)

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	pool Pool
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(pool Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Create stores a new identity. A (provider, subject) pair that is already
// bound yields auth.ErrAlreadyLinked.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO player_identities (id, player_id, provider, subject, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		identity.ID.String(),
		identity.PlayerID.String(),
		string(identity.Provider),
		identity.Subject,
		identity.CreatedAt,
	)
	if isUniqueViolation(err) {
		return oops.With("provider", string(identity.Provider)).
			With("player_id", identity.PlayerID.String()).
			Wrap(auth.ErrAlreadyLinked)
	}
	if err != nil {
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("player_id", identity.PlayerID.String()).
			Wrap(err)
	}
	return nil
}

// GetBySubject retrieves the identity bound to a provider subject.
func (r *IdentityRepository) GetBySubject(ctx context.Context, provider auth.Provider, subject string) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, player_id, provider, subject, created_at
		FROM player_identities
		WHERE provider = $1 AND subject = $2
	`, string(provider), subject)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("provider", string(provider)).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by subject").
			With("provider", string(provider)).
			Wrap(err)
	}
	return identity, nil
}

// ListByPlayer retrieves all identities linked to a player, oldest first.
func (r *IdentityRepository) ListByPlayer(ctx context.Context, playerID ulid.ULID) ([]*auth.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, player_id, provider, subject, created_at
		FROM player_identities
		WHERE player_id = $1
		ORDER BY created_at ASC
	`, playerID.String())
	if err != nil {
		return nil, oops.Code("IDENTITY_LIST_FAILED").
			With("operation", "list identities by player").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	defer rows.Close()

	identities := make([]*auth.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, oops.Code("IDENTITY_SCAN_FAILED").
				With("operation", "scan identity row").
				Wrap(err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("IDENTITY_ROWS_ERROR").
			With("operation", "iterate identity rows").
			Wrap(err)
	}
	return identities, nil
}

func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		idStr, playerIDStr, provider, subject string
		createdAt                             time.Time
	)
	if err := row.Scan(&idStr, &playerIDStr, &provider, &subject, &createdAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("IDENTITY_INVALID_ID").With("id", idStr).Wrap(err)
	}
	playerID, err := ulid.Parse(playerIDStr)
	if err != nil {
		return nil, oops.Code("IDENTITY_INVALID_PLAYER_ID").With("player_id", playerIDStr).Wrap(err)
	}

	return &auth.Identity{
		ID:        id,
		PlayerID:  playerID,
		Provider:  auth.Provider(provider),
		Subject:   subject,
		CreatedAt: createdAt,
	}, nil
}
