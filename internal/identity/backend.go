// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package identity orchestrates a device's player identity: anonymous
// sign-in, linking platform accounts, and switching to an already linked
// account after the caller confirms.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider names an external identity provider.
type Provider string

// Supported providers.
const (
	ProviderApple           Provider = "apple.com"
	ProviderGooglePlayGames Provider = "google-play-games"
)

// Backend error codes the manager reacts to.
const (
	CodeAccountAlreadyLinked = "ACCOUNT_ALREADY_LINKED"
	CodeInvalidSessionToken  = "SESSION_TOKEN_INVALID"
	CodeSessionExpired       = "SESSION_EXPIRED"
)

// InvalidSessionTokenMessage is the backend message for a stale cached
// session token.
const InvalidSessionTokenMessage = "session token is not valid"

// ExternalIdentity is one linked platform account.
type ExternalIdentity struct {
	TypeID string
	UserID string
}

// PlayerInfo describes the signed-in player.
type PlayerInfo struct {
	ID         string
	CreatedAt  time.Time
	Identities []ExternalIdentity
}

// Backend is the identity service client the manager drives.
type Backend interface {
	SignInAnonymously(ctx context.Context) error
	SignInWithProvider(ctx context.Context, provider Provider, credential string) error
	LinkWithProvider(ctx context.Context, provider Provider, credential string) error
	GetPlayerInfo(ctx context.Context) (*PlayerInfo, error)
	ClearSessionToken() error
	SignOut(ctx context.Context) error
	PlayerID() string
}

// LinkWithApple links an Apple identity token to the current player.
func LinkWithApple(ctx context.Context, b Backend, idToken string) error {
	return b.LinkWithProvider(ctx, ProviderApple, idToken)
}

// LinkWithGooglePlayGames links a Play Games server auth code to the
// current player.
func LinkWithGooglePlayGames(ctx context.Context, b Backend, authCode string) error {
	return b.LinkWithProvider(ctx, ProviderGooglePlayGames, authCode)
}

// SignInWithApple signs in as the player linked to an Apple identity token.
func SignInWithApple(ctx context.Context, b Backend, idToken string) error {
	return b.SignInWithProvider(ctx, ProviderApple, idToken)
}

// SignInWithGooglePlayGames signs in as the player linked to a Play Games
// server auth code.
func SignInWithGooglePlayGames(ctx context.Context, b Backend, authCode string) error {
	return b.SignInWithProvider(ctx, ProviderGooglePlayGames, authCode)
}

// EventKind enumerates backend session events.
type EventKind int

// Backend session events.
const (
	EventSignedIn EventKind = iota + 1
	EventSignInFailed
	EventSignedOut
	EventExpired
)

func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignInFailed:
		return "sign_in_failed"
	case EventSignedOut:
		return "signed_out"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is emitted by an EventSource.
type Event struct {
	Kind     EventKind
	PlayerID string
	Err      error
}

// EventSource is implemented by backends that publish session events.
type EventSource interface {
	Subscribe(fn func(Event))
}

// AuthenticationError is a provider-specific failure reported by the
// backend, such as an already linked account or a stale session token.
type AuthenticationError struct {
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

// RequestFailedError is a generic request failure: transport errors,
// server faults and unreadable responses.
type RequestFailedError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestFailedError) Error() string {
	return e.Message
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// IsAccountAlreadyLinked reports whether err says the credential belongs to
// another player.
func IsAccountAlreadyLinked(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr) && authErr.Code == CodeAccountAlreadyLinked
}

// IsInvalidSessionToken reports whether err says the cached session token
// was rejected.
func IsInvalidSessionToken(err error) bool {
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return false
	}
	return authErr.Code == CodeInvalidSessionToken ||
		strings.Contains(authErr.Message, InvalidSessionTokenMessage)
}

// ErrorMessage returns the message to surface to the player for err.
func ErrorMessage(err error) string {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	var reqErr *RequestFailedError
	if errors.As(err, &reqErr) {
		return reqErr.Message
	}
	return err.Error()
}

// CredentialSource acquires a platform credential: an Apple identity token
// or a Play Games server auth code.
type CredentialSource interface {
	Provider() Provider
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialSource with a fixed answer.
type StaticCredential struct {
	For   Provider
	Value string
	Err   error
}

// Provider implements CredentialSource.
func (s StaticCredential) Provider() Provider { return s.For }

// Credential implements CredentialSource.
func (s StaticCredential) Credential(context.Context) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Value, nil
}
