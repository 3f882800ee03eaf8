// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package prefs

import "context"

// TokenStore persists the backend session token in the store.
type TokenStore struct {
	Store *Store
}

// SessionToken returns the cached token, or "" when none is cached.
func (t TokenStore) SessionToken() (string, error) {
	token, _, err := t.Store.GetString(context.Background(), KeySessionToken)
	return token, err
}

// SetSessionToken caches token.
func (t TokenStore) SetSessionToken(token string) error {
	return t.Store.SetString(context.Background(), KeySessionToken, token)
}

// ClearSessionToken drops the cached token.
func (t TokenStore) ClearSessionToken() error {
	return t.Store.Delete(context.Background(), KeySessionToken)
}

// LoginMarker records that this device has signed in at least once.
type LoginMarker struct {
	Store *Store
}

// MarkLoginExists sets user_login_exists to 1.
func (m LoginMarker) MarkLoginExists() error {
	return m.Store.SetInt(context.Background(), KeyLoginExists, 1)
}

// LoginExists reports whether MarkLoginExists has run on this device.
func (m LoginMarker) LoginExists() (bool, error) {
	n, ok, err := m.Store.GetInt(context.Background(), KeyLoginExists)
	return ok && n == 1, err
}
