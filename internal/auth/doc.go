// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package auth provides the player identity primitives behind the playerid
// backend.
//
// # Domain Types
//
// Domain types should be created using their respective constructors:
//   - NewPlayer - creates an anonymous Player
//   - NewIdentity - binds a verified external credential to a Player
//   - NewSession - creates a resumable Session with a hashed token
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service coordinates anonymous sign-in, session resume, provider sign-in and
// provider linking. Credential verification is delegated to CredentialVerifier
// implementations (see package provider); they return identity facts only and
// never create players or sessions.
package auth
