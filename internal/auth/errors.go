// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyLinked is returned by identity repositories when the
// (provider, subject) pair is already bound to a player.
var ErrAlreadyLinked = errors.New("identity already linked")

// Error codes surfaced to clients. They are stable wire values.
// CodeProviderAlreadyLinked rejects linking a second account of a provider
// the player already has an identity for.
const (
	CodeSessionTokenInvalid   = "SESSION_TOKEN_INVALID"
	CodeSessionExpired        = "SESSION_EXPIRED"
	CodeAccountAlreadyLinked  = "ACCOUNT_ALREADY_LINKED"
	CodeProviderAlreadyLinked = "PROVIDER_ALREADY_LINKED"
	CodeProviderUnknown       = "PROVIDER_UNKNOWN"
	CodeCredentialInvalid     = "CREDENTIAL_INVALID"
	CodeAccessTokenInvalid    = "ACCESS_TOKEN_INVALID"
	CodePlayerNotFound        = "PLAYER_NOT_FOUND"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
)

// SessionTokenInvalidMessage is the message attached to CodeSessionTokenInvalid.
// Clients match on it to decide whether to drop their cached token.
const SessionTokenInvalidMessage = "session token is not valid"
