// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Access token configuration.
const (
	DefaultAccessTokenTTL = time.Hour
	MinSigningKeyBytes    = 32
)

// AccessClaims are the claims carried by a playerid access token.
// Subject is the player ID; SessionID ties the token to a resumable session
// so sign-out invalidates outstanding access tokens.
type AccessClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// PlayerID parses the subject claim.
func (c *AccessClaims) PlayerID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeAccessTokenInvalid).With("sub", c.Subject).Wrap(err)
	}
	return id, nil
}

// Session parses the session claim.
func (c *AccessClaims) Session() (ulid.ULID, error) {
	id, err := ulid.Parse(c.SessionID)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeAccessTokenInvalid).With("sid", c.SessionID).Wrap(err)
	}
	return id, nil
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl selects DefaultAccessTokenTTL.
func NewTokenIssuer(key []byte, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if len(key) < MinSigningKeyBytes {
		return nil, oops.Code("TOKEN_KEY_TOO_SHORT").
			With("min_bytes", MinSigningKeyBytes).
			Errorf("signing key must be at least %d bytes", MinSigningKeyBytes)
	}
	if issuer == "" {
		return nil, oops.Code("TOKEN_ISSUER_REQUIRED").Errorf("issuer cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &TokenIssuer{
		key:      key,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue signs an access token for the given player session.
func (t *TokenIssuer) Issue(playerID, sessionID ulid.ULID) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	claims := AccessClaims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   playerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ulid.Make().String(),
		},
	}
	if t.audience != "" {
		claims.Audience = jwt.ClaimStrings{t.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature, issuer, audience and expiry and returns the claims.
func (t *TokenIssuer) Parse(token string) (*AccessClaims, error) {
	if token == "" {
		return nil, oops.Code(CodeAccessTokenInvalid).Errorf("access token cannot be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	}, opts...)
	if err != nil {
		return nil, oops.Code(CodeAccessTokenInvalid).Wrap(err)
	}
	return claims, nil
}
