// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pickiss/playerid/internal/auth"
)

// Compile-time interface check.
var _ auth.PlayerRepository = (*PlayerRepository)(nil)

// PlayerRepository implements auth.PlayerRepository using PostgreSQL.
type PlayerRepository struct {
	pool Pool
}

// NewPlayerRepository creates a new PlayerRepository.
func NewPlayerRepository(pool Pool) *PlayerRepository {
	return &PlayerRepository{pool: pool}
}

// Create stores a new player.
func (r *PlayerRepository) Create(ctx context.Context, player *auth.Player) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO players (id, created_at, updated_at, last_sign_in_at)
		VALUES ($1, $2, $3, $4)
	`,
		player.ID.String(),
		player.CreatedAt,
		player.UpdatedAt,
		player.LastSignInAt,
	)
	if err != nil {
		return oops.Code("PLAYER_CREATE_FAILED").
			With("operation", "insert player").
			With("player_id", player.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a player by ID.
func (r *PlayerRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Player, error) {
	var (
		idStr  string
		player auth.Player
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, created_at, updated_at, last_sign_in_at
		FROM players
		WHERE id = $1
	`, id.String()).Scan(&idStr, &player.CreatedAt, &player.UpdatedAt, &player.LastSignInAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("player_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PLAYER_GET_FAILED").
			With("operation", "get player by id").
			With("player_id", id.String()).
			Wrap(err)
	}

	player.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("PLAYER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	return &player, nil
}

// Update updates an existing player's timestamps.
func (r *PlayerRepository) Update(ctx context.Context, player *auth.Player) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE players SET updated_at = $2, last_sign_in_at = $3
		WHERE id = $1
	`, player.ID.String(), player.UpdatedAt, player.LastSignInAt)
	if err != nil {
		return oops.Code("PLAYER_UPDATE_FAILED").
			With("operation", "update player").
			With("player_id", player.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("player_id", player.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a player. Identities and sessions go with it via ON DELETE CASCADE.
func (r *PlayerRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM players WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("PLAYER_DELETE_FAILED").
			With("operation", "delete player").
			With("player_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("player_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}
