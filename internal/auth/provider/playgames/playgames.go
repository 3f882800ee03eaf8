// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package playgames verifies Google Play Games server auth codes.
//
// A server auth code is single use: it is exchanged for an OAuth token, which
// then reads the signed-in player from the Games API.
package playgames

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/pickiss/playerid/internal/auth"
	"github.com/pickiss/playerid/internal/auth/provider"
)

// Google endpoints used for the exchange and the player lookup.
const (
	DefaultTokenURL   = "https://oauth2.googleapis.com/token"
	DefaultAPIBaseURL = "https://games.googleapis.com"
	playersMePath     = "/games/v1/players/me"
	gamesLiteScope    = "https://www.googleapis.com/auth/games_lite"
)

// Config configures the Play Games verifier.
type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL defaults to DefaultTokenURL.
	TokenURL string
	// APIBaseURL defaults to DefaultAPIBaseURL.
	APIBaseURL string
	// HTTPClient is used for both the exchange and the API call.
	HTTPClient *http.Client
}

// Compile-time interface check.
var _ provider.Verifier = (*Verifier)(nil)

// Verifier exchanges Play Games server auth codes.
type Verifier struct {
	oauth      *oauth2.Config
	apiBaseURL string
	client     *http.Client
}

// New creates a Verifier.
func New(cfg Config) (*Verifier, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, oops.Code("PLAY_GAMES_CONFIG_INVALID").Errorf("client id and client secret are required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	return &Verifier{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{gamesLiteScope},
		},
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:     cfg.HTTPClient,
	}, nil
}

// Provider returns auth.ProviderGooglePlayGames.
func (v *Verifier) Provider() auth.Provider {
	return auth.ProviderGooglePlayGames
}

type playerResponse struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
}

// Verify exchanges the server auth code and resolves the Play Games player ID.
func (v *Verifier) Verify(ctx context.Context, credential string) (*auth.ExternalIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)

	token, err := v.oauth.Exchange(ctx, credential)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return nil, oops.Code(auth.CodeCredentialInvalid).
				With("provider", string(auth.ProviderGooglePlayGames)).
				With("oauth_error", retrieveErr.ErrorCode).
				Wrap(err)
		}
		return nil, oops.Code(auth.CodeProviderUnavailable).
			With("provider", string(auth.ProviderGooglePlayGames)).
			With("operation", "exchange server auth code").
			Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiBaseURL+playersMePath, http.NoBody)
	if err != nil {
		return nil, oops.Code(auth.CodeProviderUnavailable).
			With("operation", "build players/me request").
			Wrap(err)
	}

	resp, err := v.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, oops.Code(auth.CodeProviderUnavailable).
			With("provider", string(auth.ProviderGooglePlayGames)).
			With("operation", "get players/me").
			Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, oops.Code(auth.CodeProviderUnavailable).
			With("operation", "read players/me").
			Wrap(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, oops.Code(auth.CodeCredentialInvalid).
			With("provider", string(auth.ProviderGooglePlayGames)).
			With("status", resp.StatusCode).
			Errorf("games api rejected the token")
	case resp.StatusCode != http.StatusOK:
		return nil, oops.Code(auth.CodeProviderUnavailable).
			With("provider", string(auth.ProviderGooglePlayGames)).
			With("status", resp.StatusCode).
			Errorf("games api returned %s", http.StatusText(resp.StatusCode))
	}

	var player playerResponse
	if err := json.Unmarshal(body, &player); err != nil {
		return nil, oops.Code(auth.CodeProviderUnavailable).
			With("operation", "decode players/me").
			Wrap(err)
	}
	if player.PlayerID == "" {
		return nil, oops.Code(auth.CodeCredentialInvalid).
			With("provider", string(auth.ProviderGooglePlayGames)).
			Errorf("games api returned no player id for %q", player.DisplayName)
	}

	return &auth.ExternalIdentity{
		Provider: auth.ProviderGooglePlayGames,
		Subject:  player.PlayerID,
	}, nil
}
