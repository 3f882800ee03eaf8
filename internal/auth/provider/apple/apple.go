// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package apple verifies Sign in with Apple identity tokens.
package apple

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/pickiss/playerid/internal/auth"
	"github.com/pickiss/playerid/internal/auth/provider"
)

// Apple's public OIDC endpoints.
const (
	DefaultIssuer  = "https://appleid.apple.com"
	DefaultKeysURL = "https://appleid.apple.com/auth/keys"
)

// Config configures the Apple verifier.
type Config struct {
	// Issuer is the expected iss claim. Defaults to DefaultIssuer.
	Issuer string
	// KeysURL serves Apple's JWKS. Defaults to DefaultKeysURL.
	KeysURL string
	// BundleIDs are glob patterns matched against the token audience,
	// e.g. "com.pickiss.*". At least one is required.
	BundleIDs []string
	// HTTPClient fetches signing keys. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Now overrides the clock for expiry checks.
	Now func() time.Time
}

// Compile-time interface check.
var _ provider.Verifier = (*Verifier)(nil)

// Verifier validates Apple identity tokens against Apple's signing keys.
type Verifier struct {
	verifier  *oidc.IDTokenVerifier
	audiences []glob.Glob
	keys      *keyFetchTransport
}

// keyFetchTransport counts JWKS fetches and remembers whether the latest
// one failed. The oidc verifier flattens key set errors into text, so an
// Apple outage is told apart from a bad token here.
type keyFetchTransport struct {
	base    http.RoundTripper
	fetches atomic.Int64
	failed  atomic.Bool
}

func (t *keyFetchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	t.failed.Store(err != nil || resp.StatusCode != http.StatusOK)
	t.fetches.Add(1)
	return resp, err
}

// New creates a Verifier. Signing keys are fetched lazily on first use and
// cached by the key set.
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	if len(cfg.BundleIDs) == 0 {
		return nil, oops.Code("APPLE_CONFIG_INVALID").Errorf("at least one bundle id is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.KeysURL == "" {
		cfg.KeysURL = DefaultKeysURL
	}

	audiences := make([]glob.Glob, 0, len(cfg.BundleIDs))
	for _, pattern := range cfg.BundleIDs {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.Code("APPLE_CONFIG_INVALID").
				With("bundle_id", pattern).
				Wrap(err)
		}
		audiences = append(audiences, g)
	}

	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		*hc = *cfg.HTTPClient
	}
	keys := &keyFetchTransport{base: hc.Transport}
	if keys.base == nil {
		keys.base = http.DefaultTransport
	}
	hc.Transport = keys
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, hc), cfg.KeysURL)

	return &Verifier{
		verifier: oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
			// Audience is checked against the bundle id patterns instead.
			SkipClientIDCheck:    true,
			SupportedSigningAlgs: []string{oidc.RS256},
			Now:                  cfg.Now,
		}),
		audiences: audiences,
		keys:      keys,
	}, nil
}

// Provider returns auth.ProviderApple.
func (v *Verifier) Provider() auth.Provider {
	return auth.ProviderApple
}

// Verify validates an Apple identity token. When Apple's signing keys
// cannot be fetched the error carries auth.CodeProviderUnavailable.
func (v *Verifier) Verify(ctx context.Context, credential string) (*auth.ExternalIdentity, error) {
	fetches := v.keys.fetches.Load()
	token, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		if v.keys.fetches.Load() != fetches && v.keys.failed.Load() {
			return nil, oops.Code(auth.CodeProviderUnavailable).
				With("provider", string(auth.ProviderApple)).
				With("operation", "fetch signing keys").
				Wrap(err)
		}
		return nil, oops.Code(auth.CodeCredentialInvalid).
			With("provider", string(auth.ProviderApple)).
			Wrap(err)
	}

	if !v.audienceAllowed(token.Audience) {
		return nil, oops.Code(auth.CodeCredentialInvalid).
			With("provider", string(auth.ProviderApple)).
			With("audience", token.Audience).
			Errorf("token audience is not an allowed bundle id")
	}
	if token.Subject == "" {
		return nil, oops.Code(auth.CodeCredentialInvalid).
			With("provider", string(auth.ProviderApple)).
			Errorf("token has no subject")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, oops.Code(auth.CodeCredentialInvalid).
			With("provider", string(auth.ProviderApple)).
			Wrap(err)
	}

	return &auth.ExternalIdentity{
		Provider: auth.ProviderApple,
		Subject:  token.Subject,
		Email:    claims.Email,
	}, nil
}

func (v *Verifier) audienceAllowed(audience []string) bool {
	for _, aud := range audience {
		for _, g := range v.audiences {
			if g.Match(aud) {
				return true
			}
		}
	}
	return false
}
