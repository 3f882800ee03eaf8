// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package mocks provides testify mocks for the auth repository and verifier
// interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/pickiss/playerid/internal/auth"
)

// TestingT is the subset of testing.TB the constructors need.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(t TestingT, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockPlayerRepository mocks auth.PlayerRepository.
type MockPlayerRepository struct {
	mock.Mock
}

var _ auth.PlayerRepository = (*MockPlayerRepository)(nil)

// NewMockPlayerRepository creates a mock that asserts its expectations on cleanup.
func NewMockPlayerRepository(t TestingT) *MockPlayerRepository {
	m := &MockPlayerRepository{}
	register(t, &m.Mock)
	return m
}

func (m *MockPlayerRepository) Create(ctx context.Context, player *auth.Player) error {
	return m.Called(ctx, player).Error(0)
}

func (m *MockPlayerRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Player, error) {
	ret := m.Called(ctx, id)
	p, _ := ret.Get(0).(*auth.Player)
	return p, ret.Error(1)
}

func (m *MockPlayerRepository) Update(ctx context.Context, player *auth.Player) error {
	return m.Called(ctx, player).Error(0)
}

func (m *MockPlayerRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

// MockIdentityRepository mocks auth.IdentityRepository.
type MockIdentityRepository struct {
	mock.Mock
}

var _ auth.IdentityRepository = (*MockIdentityRepository)(nil)

// NewMockIdentityRepository creates a mock that asserts its expectations on cleanup.
func NewMockIdentityRepository(t TestingT) *MockIdentityRepository {
	m := &MockIdentityRepository{}
	register(t, &m.Mock)
	return m
}

func (m *MockIdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *MockIdentityRepository) GetBySubject(ctx context.Context, provider auth.Provider, subject string) (*auth.Identity, error) {
	ret := m.Called(ctx, provider, subject)
	id, _ := ret.Get(0).(*auth.Identity)
	return id, ret.Error(1)
}

func (m *MockIdentityRepository) ListByPlayer(ctx context.Context, playerID ulid.ULID) ([]*auth.Identity, error) {
	ret := m.Called(ctx, playerID)
	ids, _ := ret.Get(0).([]*auth.Identity)
	return ids, ret.Error(1)
}

// MockSessionRepository mocks auth.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

var _ auth.SessionRepository = (*MockSessionRepository)(nil)

// NewMockSessionRepository creates a mock that asserts its expectations on cleanup.
func NewMockSessionRepository(t TestingT) *MockSessionRepository {
	m := &MockSessionRepository{}
	register(t, &m.Mock)
	return m
}

func (m *MockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	ret := m.Called(ctx, id)
	s, _ := ret.Get(0).(*auth.Session)
	return s, ret.Error(1)
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	ret := m.Called(ctx, tokenHash)
	s, _ := ret.Get(0).(*auth.Session)
	return s, ret.Error(1)
}

func (m *MockSessionRepository) Touch(ctx context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error {
	return m.Called(ctx, id, lastSeen, expiresAt).Error(0)
}

func (m *MockSessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessionRepository) DeleteByPlayer(ctx context.Context, playerID ulid.ULID) error {
	return m.Called(ctx, playerID).Error(0)
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ret := m.Called(ctx)
	n, _ := ret.Get(0).(int64)
	return n, ret.Error(1)
}

// MockCredentialVerifier mocks auth.CredentialVerifier.
type MockCredentialVerifier struct {
	mock.Mock
}

var _ auth.CredentialVerifier = (*MockCredentialVerifier)(nil)

// NewMockCredentialVerifier creates a mock that asserts its expectations on cleanup.
func NewMockCredentialVerifier(t TestingT) *MockCredentialVerifier {
	m := &MockCredentialVerifier{}
	register(t, &m.Mock)
	return m
}

func (m *MockCredentialVerifier) Provider() auth.Provider {
	ret := m.Called()
	p, _ := ret.Get(0).(auth.Provider)
	return p
}

func (m *MockCredentialVerifier) Verify(ctx context.Context, credential string) (*auth.ExternalIdentity, error) {
	ret := m.Called(ctx, credential)
	ext, _ := ret.Get(0).(*auth.ExternalIdentity)
	return ext, ret.Error(1)
}

// MockVerifierSet mocks auth.VerifierSet.
type MockVerifierSet struct {
	mock.Mock
}

var _ auth.VerifierSet = (*MockVerifierSet)(nil)

// NewMockVerifierSet creates a mock that asserts its expectations on cleanup.
func NewMockVerifierSet(t TestingT) *MockVerifierSet {
	m := &MockVerifierSet{}
	register(t, &m.Mock)
	return m
}

func (m *MockVerifierSet) Verifier(p auth.Provider) (auth.CredentialVerifier, error) {
	ret := m.Called(p)
	v, _ := ret.Get(0).(auth.CredentialVerifier)
	return v, ret.Error(1)
}

// MockRecorder mocks auth.Recorder.
type MockRecorder struct {
	mock.Mock
}

var _ auth.Recorder = (*MockRecorder)(nil)

// NewMockRecorder creates a mock that asserts its expectations on cleanup.
func NewMockRecorder(t TestingT) *MockRecorder {
	m := &MockRecorder{}
	register(t, &m.Mock)
	return m
}

func (m *MockRecorder) RecordSignIn(method, outcome string) {
	m.Called(method, outcome)
}

func (m *MockRecorder) RecordLink(provider, outcome string) {
	m.Called(provider, outcome)
}
