// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package playgames_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickiss/playerid/internal/auth"
	"github.com/pickiss/playerid/internal/auth/provider/playgames"
	"github.com/pickiss/playerid/pkg/errutil"
)

type fakeGoogle struct {
	playersStatus int
	playerID      string
}

func (f *fakeGoogle) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("code") {
		case "good-code":
			assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
			assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-123",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		}
	})
	mux.HandleFunc("/games/v1/players/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.playersStatus != 0 {
			w.WriteHeader(f.playersStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"playerId":    f.playerID,
			"displayName": "Neo",
		})
	})
	return mux
}

func newVerifier(t *testing.T, google *fakeGoogle) *playgames.Verifier {
	t.Helper()
	srv := httptest.NewServer(google.handler(t))
	t.Cleanup(srv.Close)

	v, err := playgames.New(playgames.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL + "/token",
		APIBaseURL:   srv.URL + "/",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return v
}

func TestNew_RequiresClientCredentials(t *testing.T) {
	_, err := playgames.New(playgames.Config{ClientID: "id"})
	errutil.AssertErrorCode(t, err, "PLAY_GAMES_CONFIG_INVALID")
}

func TestVerifier_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges the code and resolves the player", func(t *testing.T) {
		v := newVerifier(t, &fakeGoogle{playerID: "g-0123456789"})
		assert.Equal(t, auth.ProviderGooglePlayGames, v.Provider())

		ext, err := v.Verify(ctx, "good-code")
		require.NoError(t, err)
		assert.Equal(t, auth.ProviderGooglePlayGames, ext.Provider)
		assert.Equal(t, "g-0123456789", ext.Subject)
	})

	t.Run("rejected code", func(t *testing.T) {
		v := newVerifier(t, &fakeGoogle{playerID: "g"})
		_, err := v.Verify(ctx, "used-code")
		errutil.AssertErrorCode(t, err, auth.CodeCredentialInvalid)
		errutil.AssertErrorContext(t, err, "oauth_error", "invalid_grant")
	})

	t.Run("token endpoint outage", func(t *testing.T) {
		v := newVerifier(t, &fakeGoogle{playerID: "g"})
		_, err := v.Verify(ctx, "boom")
		errutil.AssertErrorCode(t, err, auth.CodeProviderUnavailable)
	})

	t.Run("games api forbids the token", func(t *testing.T) {
		v := newVerifier(t, &fakeGoogle{playersStatus: http.StatusForbidden})
		_, err := v.Verify(ctx, "good-code")
		errutil.AssertErrorCode(t, err, auth.CodeCredentialInvalid)
	})

	t.Run("games api outage", func(t *testing.T) {
		v := newVerifier(t, &fakeGoogle{playersStatus: http.StatusServiceUnavailable})
		_, err := v.Verify(ctx, "good-code")
		errutil.AssertErrorCode(t, err, auth.CodeProviderUnavailable)
		errutil.AssertErrorContext(t, err, "status", http.StatusServiceUnavailable)
	})

	t.Run("missing player id", func(t *testing.T) {
		v := newVerifier(t, &fakeGoogle{})
		_, err := v.Verify(ctx, "good-code")
		errutil.AssertErrorCode(t, err, auth.CodeCredentialInvalid)
	})
}
