// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package provider holds the platform credential verifiers and the registry
// the auth service resolves them from. Verifiers return identity facts only;
// player creation and linking stay in the auth service.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/pickiss/playerid/internal/auth"
)

// Verifier checks a platform credential and returns the identity it proves.
type Verifier interface {
	// Provider returns the identity provider this verifier serves.
	Provider() auth.Provider

	// Verify validates credential. Rejected credentials carry
	// auth.CodeCredentialInvalid; upstream outages carry
	// auth.CodeProviderUnavailable.
	Verify(ctx context.Context, credential string) (*auth.ExternalIdentity, error)
}

// Compile-time interface check.
var _ auth.VerifierSet = (*Registry)(nil)

// Registry holds the configured verifiers keyed by provider.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[auth.Provider]Verifier
}

// NewRegistry registers the given verifiers. Providers must be unique.
func NewRegistry(verifiers ...Verifier) (*Registry, error) {
	r := &Registry{verifiers: make(map[auth.Provider]Verifier, len(verifiers))}
	for _, v := range verifiers {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a verifier. Registering a provider twice is an error.
func (r *Registry) Register(v Verifier) error {
	if v == nil {
		return oops.Code("PROVIDER_VERIFIER_NIL").Errorf("verifier cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := v.Provider()
	if _, ok := r.verifiers[p]; ok {
		return oops.Code("PROVIDER_DUPLICATE").
			With("provider", string(p)).
			Errorf("verifier for %s already registered", p)
	}
	r.verifiers[p] = v
	return nil
}

// Verifier returns the verifier for p.
func (r *Registry) Verifier(p auth.Provider) (auth.CredentialVerifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.verifiers[p]
	if !ok {
		return nil, oops.Code(auth.CodeProviderUnknown).
			With("provider", string(p)).
			Errorf("provider %s is not configured", p)
	}
	return v, nil
}

// Providers returns the registered providers in sorted order.
func (r *Registry) Providers() []auth.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]auth.Provider, 0, len(r.verifiers))
	for p := range r.verifiers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
