// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package httpapi

import (
	"time"

	"github.com/pickiss/playerid/internal/auth"
)

// SignInRequest is the body of POST /v1/players/anonymous. An empty body is
// a fresh anonymous sign-in.
type SignInRequest struct {
	SessionToken string `json:"session_token,omitempty"`
}

// CredentialRequest is the body of the provider sign-in and link routes.
type CredentialRequest struct {
	Credential string `json:"credential"`
}

// SignInResponse is returned by every sign-in route.
type SignInResponse struct {
	PlayerID     string    `json:"player_id"`
	SessionToken string    `json:"session_token"`
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Created      bool      `json:"created"`
}

// IdentityResponse describes one linked identity.
type IdentityResponse struct {
	TypeID   string    `json:"type_id"`
	UserID   string    `json:"user_id"`
	LinkedAt time.Time `json:"linked_at"`
}

// PlayerInfoResponse is returned by GET /v1/players/me and the link route.
type PlayerInfoResponse struct {
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	Identities []IdentityResponse `json:"identities"`
}

// ErrorResponse is the envelope for every non-2xx response.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func newSignInResponse(r *auth.SignInResult) SignInResponse {
	return SignInResponse{
		PlayerID:     r.Player.ID.String(),
		SessionToken: r.SessionToken,
		AccessToken:  r.AccessToken,
		ExpiresAt:    r.AccessTokenExpiresAt.UTC(),
		Created:      r.Created,
	}
}

func newPlayerInfoResponse(info *auth.PlayerInfo) PlayerInfoResponse {
	ids := make([]IdentityResponse, 0, len(info.Identities))
	for _, id := range info.Identities {
		ids = append(ids, IdentityResponse{
			TypeID:   string(id.Provider),
			UserID:   id.Subject,
			LinkedAt: id.CreatedAt.UTC(),
		})
	}
	return PlayerInfoResponse{
		ID:         info.ID.String(),
		CreatedAt:  info.CreatedAt.UTC(),
		Identities: ids,
	}
}
