// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pickiss/playerid/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type MockBackend struct {
	mock.Mock
}

func newMockBackend(t *testing.T) *MockBackend {
	m := &MockBackend{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	m.On("PlayerID").Return("player-1").Maybe()
	return m
}

func (m *MockBackend) SignInAnonymously(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBackend) SignInWithProvider(ctx context.Context, p Provider, credential string) error {
	return m.Called(ctx, p, credential).Error(0)
}

func (m *MockBackend) LinkWithProvider(ctx context.Context, p Provider, credential string) error {
	return m.Called(ctx, p, credential).Error(0)
}

func (m *MockBackend) GetPlayerInfo(ctx context.Context) (*PlayerInfo, error) {
	ret := m.Called(ctx)
	info, _ := ret.Get(0).(*PlayerInfo)
	return info, ret.Error(1)
}

func (m *MockBackend) ClearSessionToken() error {
	return m.Called().Error(0)
}

func (m *MockBackend) SignOut(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBackend) PlayerID() string {
	return m.Called().String(0)
}

// eventBackend adds EventSource and session token reporting to the mock.
type eventBackend struct {
	*MockBackend
	subscribers []func(Event)
	hasToken    bool
}

func (b *eventBackend) Subscribe(fn func(Event)) {
	b.subscribers = append(b.subscribers, fn)
}

func (b *eventBackend) SessionTokenExists() bool { return b.hasToken }

type recordedCallbacks struct {
	mu       sync.Mutex
	errors   []string
	refresh  int
	confirms []SwitchAction
}

func (r *recordedCallbacks) callbacks() Callbacks {
	return Callbacks{
		OnError: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, msg)
		},
		OnRefresh: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.refresh++
		},
		OnConfirm: func(a SwitchAction) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.confirms = append(r.confirms, a)
		},
	}
}

type fakeMarker struct {
	marked int
	exists bool
	err    error
}

func (f *fakeMarker) MarkLoginExists() error {
	f.marked++
	return f.err
}

func (f *fakeMarker) LoginExists() (bool, error) { return f.exists, nil }

type fakeRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (f *fakeRecorder) RecordOperation(op, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, op+":"+outcome)
}

type countingSource struct {
	provider Provider
	values   []string
	calls    int
}

func (c *countingSource) Provider() Provider { return c.provider }

func (c *countingSource) Credential(context.Context) (string, error) {
	v := c.values[c.calls%len(c.values)]
	c.calls++
	return v, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, b Backend, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	m, err := New(b, opts...)
	require.NoError(t, err)
	return m
}

func initManager(t *testing.T, m *Manager, cb Callbacks) {
	t.Helper()
	out, err := m.Init(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, out)
}

var linkedInfo = &PlayerInfo{
	ID: "player-1",
	Identities: []ExternalIdentity{
		{TypeID: "apple.com", UserID: "a-1"},
		{TypeID: "google-play-games", UserID: "g-1"},
	},
}

func invalidToken() error {
	return &AuthenticationError{Code: CodeInvalidSessionToken, Message: InvalidSessionTokenMessage}
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil)
	errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_DEPENDENCY")

	_, err = New(&MockBackend{}, WithLogger(nil))
	errutil.AssertErrorCode(t, err, "IDENTITY_INVALID_DEPENDENCY")
}

func TestSignInAnonymously_Success(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(linkedInfo, nil).Once()

	marker := &fakeMarker{}
	rec := &recordedCallbacks{}
	m := newManager(t, b, WithLoginMarker(marker))
	initManager(t, m, rec.callbacks())

	st := m.State()
	assert.True(t, st.HasIdentity)
	assert.True(t, st.AuthAttempted)
	assert.Equal(t, "apple.com google-play-games", st.ExternalIDs)
	assert.Equal(t, 1, marker.marked)
	assert.Empty(t, rec.errors)
	assert.Equal(t, "player-1", m.PlayerID())
}

func TestSignInAnonymously_PlayerInfoFailureKeepsIdentity(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).
		Return(nil, &RequestFailedError{Status: 503, Message: "unavailable"}).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	initManager(t, m, rec.callbacks())

	st := m.State()
	assert.True(t, st.HasIdentity)
	assert.True(t, st.AuthAttempted)
	assert.Empty(t, st.ExternalIDs)
	assert.Empty(t, rec.errors)
}

func TestSignInAnonymously_RetriesInvalidTokenOnce(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(invalidToken())
	b.On("ClearSessionToken").Return(nil).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	out, err := m.Init(context.Background(), rec.callbacks())

	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	b.AssertNumberOfCalls(t, "SignInAnonymously", 2)
	b.AssertNumberOfCalls(t, "ClearSessionToken", 1)

	st := m.State()
	assert.False(t, st.HasIdentity)
	assert.True(t, st.AuthAttempted)
	assert.Equal(t, []string{InvalidSessionTokenMessage}, rec.errors)
}

func TestSignInAnonymously_RetryByMessage(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).
		Return(&AuthenticationError{Code: "OTHER", Message: "the session token is not valid anymore"}).Once()
	b.On("ClearSessionToken").Return(nil).Once()
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	initManager(t, m, rec.callbacks())

	st := m.State()
	assert.True(t, st.HasIdentity)
	assert.True(t, st.AuthAttempted)
	assert.Empty(t, st.ExternalIDs)
	assert.Empty(t, rec.errors)
}

func TestSignInAnonymously_Failures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClear bool
		wantOnErr string
	}{
		{
			name:      "provider error passes message through",
			err:       &AuthenticationError{Code: "CREDENTIAL_INVALID", Message: "Player is banned: cheating"},
			wantOnErr: "Player is banned: cheating",
		},
		{
			name:      "request failure clears session",
			err:       &RequestFailedError{Status: 500, Message: "internal error"},
			wantClear: true,
			wantOnErr: "internal error",
		},
		{
			name:      "unknown error is a request failure",
			err:       errors.New("dial tcp: connection refused"),
			wantClear: true,
			wantOnErr: "dial tcp: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBackend(t)
			b.On("SignInAnonymously", mock.Anything).Return(tt.err).Once()
			if tt.wantClear {
				b.On("ClearSessionToken").Return(nil).Once()
			}

			rec := &recordedCallbacks{}
			marker := &fakeMarker{}
			m := newManager(t, b, WithLoginMarker(marker))
			out, err := m.Init(context.Background(), rec.callbacks())

			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, OutcomeFailed, out)
			b.AssertNumberOfCalls(t, "SignInAnonymously", 1)
			if !tt.wantClear {
				b.AssertNotCalled(t, "ClearSessionToken")
			}

			st := m.State()
			assert.False(t, st.HasIdentity)
			assert.True(t, st.AuthAttempted)
			assert.Equal(t, []string{tt.wantOnErr}, rec.errors)
			assert.Zero(t, marker.marked)
		})
	}
}

func TestLink_Success(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "apple-token").Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{
		ID:         "player-1",
		Identities: []ExternalIdentity{{TypeID: "apple.com", UserID: "a-1"}},
	}, nil).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	initManager(t, m, rec.callbacks())

	out, err := m.Link(context.Background(), ProviderApple, "apple-token")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, 1, rec.refresh)
	assert.Equal(t, "apple.com", m.State().ExternalIDs)
	assert.Empty(t, rec.errors)
}

func TestLink_AlreadyLinkedRequestsConfirmation(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	b.On("LinkWithProvider", mock.Anything, ProviderGooglePlayGames, "code-1").
		Return(&AuthenticationError{Code: CodeAccountAlreadyLinked, Message: "account already linked"}).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	initManager(t, m, rec.callbacks())
	before := m.State()

	out, err := m.Link(context.Background(), ProviderGooglePlayGames, "code-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmRequired, out)

	require.Len(t, rec.confirms, 1)
	assert.Equal(t, ProviderGooglePlayGames, rec.confirms[0].Provider)
	assert.NotNil(t, rec.confirms[0].Run)
	after := m.State()
	assert.Equal(t, before.HasIdentity, after.HasIdentity)
	assert.Equal(t, before.AuthAttempted, after.AuthAttempted)
	assert.Equal(t, before.ExternalIDs, after.ExternalIDs)
	assert.Equal(t, "code-1", after.GooglePlayGamesToken)
	assert.Empty(t, rec.errors)
	assert.Zero(t, rec.refresh)
	b.AssertNotCalled(t, "SignOut", mock.Anything)
}

func TestLink_FailureLeavesFlags(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	linkErr := &AuthenticationError{Code: "CREDENTIAL_INVALID", Message: "credential is not valid"}
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "bad").Return(linkErr).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	initManager(t, m, rec.callbacks())
	before := m.State()

	out, err := m.Link(context.Background(), ProviderApple, "bad")
	assert.ErrorIs(t, err, linkErr)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, []string{"credential is not valid"}, rec.errors)
	after := m.State()
	assert.Equal(t, before.HasIdentity, after.HasIdentity)
	assert.Equal(t, before.AuthAttempted, after.AuthAttempted)
	assert.Equal(t, before.ExternalIDs, after.ExternalIDs)
}

func TestLink_RefreshFailureReportsError(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "tok").Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).
		Return(nil, &RequestFailedError{Status: 502, Message: "bad gateway"}).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	initManager(t, m, rec.callbacks())

	out, err := m.Link(context.Background(), ProviderApple, "tok")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, []string{"bad gateway"}, rec.errors)
	assert.Zero(t, rec.refresh)
}

func TestLinkFromSource_CredentialFailures(t *testing.T) {
	tests := []struct {
		name string
		link func(*Manager, context.Context) (Outcome, error)
		src  CredentialSource
		want string
	}{
		{
			name: "apple",
			link: (*Manager).LinkApple,
			src:  StaticCredential{For: ProviderApple, Err: errors.New("user canceled")},
			want: "Sign-in with Apple error. Message: user canceled",
		},
		{
			name: "google play games",
			link: (*Manager).LinkGooglePlayGames,
			src:  StaticCredential{For: ProviderGooglePlayGames, Err: errors.New("not authenticated")},
			want: "Failed GooglePlay Login",
		},
		{
			name: "empty google play games code",
			link: (*Manager).LinkGooglePlayGames,
			src:  StaticCredential{For: ProviderGooglePlayGames},
			want: "Failed GooglePlay Login",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBackend(t)
			rec := &recordedCallbacks{}
			m := newManager(t, b, WithCredentialSource(tt.src))
			m.callbacks = rec.callbacks()

			out, err := tt.link(m, context.Background())
			require.Error(t, err)
			assert.Equal(t, OutcomeFailed, out)
			assert.Equal(t, []string{tt.want}, rec.errors)
			b.AssertNotCalled(t, "LinkWithProvider", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLinkApple_NoSource(t *testing.T) {
	b := newMockBackend(t)
	m := newManager(t, b)

	_, err := m.LinkApple(context.Background())
	errutil.AssertErrorCode(t, err, "IDENTITY_NO_CREDENTIAL_SOURCE")
}

func TestSwitchAccount_AppleReusesToken(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "apple-token").
		Return(&AuthenticationError{Code: CodeAccountAlreadyLinked, Message: "already linked"}).Once()
	b.On("SignOut", mock.Anything).Return(nil).Once()
	b.On("ClearSessionToken").Return(nil).Once()
	b.On("SignInWithProvider", mock.Anything, ProviderApple, "apple-token").Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{
		ID:         "player-2",
		Identities: []ExternalIdentity{{TypeID: "apple.com", UserID: "a-9"}},
	}, nil).Once()

	src := &countingSource{provider: ProviderApple, values: []string{"apple-token"}}
	rec := &recordedCallbacks{}
	m := newManager(t, b, WithCredentialSource(src))
	initManager(t, m, rec.callbacks())

	out, err := m.LinkApple(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmRequired, out)
	require.Len(t, rec.confirms, 1)

	out, err = rec.confirms[0].Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, rec.refresh)

	st := m.State()
	assert.True(t, st.HasIdentity)
	assert.True(t, st.AuthAttempted)
	assert.Equal(t, "apple.com", st.ExternalIDs)
	assert.Equal(t, "apple-token", st.AppleToken)
}

func TestLink_ExplicitAppleCredentialSwitchReusesToken(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "apple-token").
		Return(&AuthenticationError{Code: CodeAccountAlreadyLinked, Message: "already linked"}).Once()
	b.On("SignOut", mock.Anything).Return(nil).Once()
	b.On("ClearSessionToken").Return(nil).Once()
	b.On("SignInWithProvider", mock.Anything, ProviderApple, "apple-token").Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{
		ID:         "player-2",
		Identities: []ExternalIdentity{{TypeID: "apple.com", UserID: "a-9"}},
	}, nil).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	initManager(t, m, rec.callbacks())

	out, err := m.Link(context.Background(), ProviderApple, "apple-token")
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmRequired, out)
	assert.Equal(t, "apple-token", m.State().AppleToken)
	require.Len(t, rec.confirms, 1)

	out, err = rec.confirms[0].Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Empty(t, rec.errors)
	assert.Equal(t, 1, rec.refresh)

	st := m.State()
	assert.True(t, st.HasIdentity)
	assert.Equal(t, "apple.com", st.ExternalIDs)
}

func TestSwitchAccount_GooglePlayGamesRequestsFreshCode(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignOut", mock.Anything).Return(nil).Once()
	b.On("ClearSessionToken").Return(nil).Once()
	b.On("SignInWithProvider", mock.Anything, ProviderGooglePlayGames, "code-2").Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(linkedInfo, nil).Once()

	src := &countingSource{provider: ProviderGooglePlayGames, values: []string{"code-1", "code-2"}}
	src.calls = 1
	m := newManager(t, b, WithCredentialSource(src))
	m.state.GooglePlayGamesToken = "code-1"

	out, err := m.SwitchAccount(context.Background(), ProviderGooglePlayGames)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, out)
	assert.Equal(t, "code-2", m.State().GooglePlayGamesToken)
	assert.Equal(t, "apple.com google-play-games", m.State().ExternalIDs)
}

func TestSwitchAccount_SignInFailure(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignOut", mock.Anything).Return(nil).Once()
	b.On("ClearSessionToken").Return(nil).Once()
	signInErr := &AuthenticationError{Code: "CREDENTIAL_INVALID", Message: "credential is not valid"}
	b.On("SignInWithProvider", mock.Anything, ProviderApple, "apple-token").Return(signInErr).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b)
	m.callbacks = rec.callbacks()
	m.state = State{HasIdentity: true, AuthAttempted: true, AppleToken: "apple-token"}

	out, err := m.SwitchAccount(context.Background(), ProviderApple)
	assert.ErrorIs(t, err, signInErr)
	assert.Equal(t, OutcomeFailed, out)

	st := m.State()
	assert.False(t, st.HasIdentity)
	assert.True(t, st.AuthAttempted)
	assert.Equal(t, []string{"credential is not valid"}, rec.errors)
}

func TestSwitchAccount_CredentialFailure(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignOut", mock.Anything).Return(nil).Once()
	b.On("ClearSessionToken").Return(nil).Once()

	rec := &recordedCallbacks{}
	m := newManager(t, b, WithCredentialSource(StaticCredential{
		For: ProviderGooglePlayGames,
		Err: errors.New("sign-in required"),
	}))
	m.callbacks = rec.callbacks()
	m.state = State{HasIdentity: true, AuthAttempted: true}

	out, err := m.SwitchAccount(context.Background(), ProviderGooglePlayGames)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.False(t, m.State().HasIdentity)
	assert.True(t, m.State().AuthAttempted)
	assert.Equal(t, []string{"Failed GooglePlay Login"}, rec.errors)
}

func TestConfirmCallback_CanRunSwitchSynchronously(t *testing.T) {
	b := newMockBackend(t)
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "tok").
		Return(&AuthenticationError{Code: CodeAccountAlreadyLinked, Message: "already linked"}).Once()
	b.On("SignOut", mock.Anything).Return(nil).Once()
	b.On("ClearSessionToken").Return(nil).Once()
	b.On("SignInWithProvider", mock.Anything, ProviderApple, "tok").Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-2"}, nil).Once()

	src := StaticCredential{For: ProviderApple, Value: "tok"}
	m := newManager(t, b, WithCredentialSource(src))

	var switched Outcome
	m.callbacks = Callbacks{
		OnConfirm: func(a SwitchAction) {
			out, err := a.Run(context.Background())
			assert.NoError(t, err)
			switched = out
		},
	}

	out, err := m.LinkApple(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmRequired, out)
	assert.Equal(t, OutcomeSuccess, switched)
	assert.True(t, m.State().HasIdentity)
}

func TestNilCallbacksAreNoOps(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(&AuthenticationError{Code: "X", Message: "nope"}).Once()
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "tok").
		Return(&AuthenticationError{Code: CodeAccountAlreadyLinked, Message: "already linked"}).Once()

	m := newManager(t, b)
	out, err := m.Init(context.Background(), Callbacks{})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)

	out, err = m.Link(context.Background(), ProviderApple, "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmRequired, out)
}

func TestInit_SubscribesToEvents(t *testing.T) {
	mb := newMockBackend(t)
	mb.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	mb.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	b := &eventBackend{MockBackend: mb}

	m := newManager(t, b, WithLoginMarker(&fakeMarker{exists: true}))
	initManager(t, m, Callbacks{})
	require.Len(t, b.subscribers, 1)

	for _, kind := range []EventKind{EventSignedIn, EventSignInFailed, EventSignedOut, EventExpired} {
		b.subscribers[0](Event{Kind: kind, PlayerID: "player-1", Err: errors.New("x")})
	}

	mb.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	mb.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	initManager(t, m, Callbacks{})
	assert.Len(t, b.subscribers, 1)
}

func TestRecorder_RecordsOutcomes(t *testing.T) {
	b := newMockBackend(t)
	b.On("SignInAnonymously", mock.Anything).Return(nil).Once()
	b.On("GetPlayerInfo", mock.Anything).Return(&PlayerInfo{ID: "player-1"}, nil).Once()
	b.On("LinkWithProvider", mock.Anything, ProviderApple, "tok").
		Return(&AuthenticationError{Code: CodeAccountAlreadyLinked, Message: "already linked"}).Once()

	rec := &fakeRecorder{}
	m := newManager(t, b, WithRecorder(rec))
	initManager(t, m, Callbacks{})
	_, err := m.Link(context.Background(), ProviderApple, "tok")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"sign_in_anonymously:success",
		"link:confirm_required",
	}, rec.seen)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "confirm_required", OutcomeConfirmRequired.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
	assert.Equal(t, "expired", EventExpired.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
