// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pickiss/playerid/internal/identity"

// Messages reported through OnError when a platform credential cannot be
// acquired.
const (
	appleErrorPrefix       = "Sign-in with Apple error. Message: "
	googlePlayGamesFailure = "Failed GooglePlay Login"
)

// Outcome is the result of a manager operation.
type Outcome int

// Operation outcomes.
const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeConfirmRequired
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConfirmRequired:
		return "confirm_required"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SwitchAction signs out of the current player and into the one already
// linked to Provider. It is handed to OnConfirm; the caller runs it only
// after the player agrees.
type SwitchAction struct {
	Provider Provider
	Run      func(ctx context.Context) (Outcome, error)
}

// Callbacks connect the manager to the caller's UI. Nil callbacks are no-ops.
type Callbacks struct {
	OnError   func(message string)
	OnRefresh func()
	OnConfirm func(action SwitchAction)
}

// State is a snapshot of the manager's identity flags.
type State struct {
	// HasIdentity is true once the backend issued a player identity.
	HasIdentity bool
	// AuthAttempted is true once any sign-in attempt completed, successful
	// or not.
	AuthAttempted bool
	// ExternalIDs lists the linked provider type IDs, space separated.
	ExternalIDs          string
	AppleToken           string
	GooglePlayGamesToken string
}

// LoginMarker remembers that the device signed in at least once.
type LoginMarker interface {
	MarkLoginExists() error
}

// Recorder receives operation outcomes for metrics.
type Recorder interface {
	RecordOperation(operation, outcome string)
}

type loginChecker interface {
	LoginExists() (bool, error)
}

type sessionTokenReporter interface {
	SessionTokenExists() bool
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}

// Manager holds one device identity session. Operations are serialized;
// callbacks run after the manager's lock is released, so a callback may
// start another operation.
type Manager struct {
	mu         sync.Mutex
	backend    Backend
	sources    map[Provider]CredentialSource
	marker     LoginMarker
	logger     *slog.Logger
	tracer     trace.Tracer
	recorder   Recorder
	callbacks  Callbacks
	state      State
	subscribed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracer sets the tracer. Defaults to the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithCredentialSource registers how to acquire credentials for a provider.
func WithCredentialSource(src CredentialSource) Option {
	return func(m *Manager) { m.sources[src.Provider()] = src }
}

// WithLoginMarker persists the first successful sign-in.
func WithLoginMarker(lm LoginMarker) Option {
	return func(m *Manager) { m.marker = lm }
}

// WithRecorder sets the operation metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// New creates a Manager around backend.
func New(backend Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, oops.Code("IDENTITY_INVALID_DEPENDENCY").Errorf("backend is required")
	}
	m := &Manager{
		backend:  backend,
		sources:  make(map[Provider]CredentialSource),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		return nil, oops.Code("IDENTITY_INVALID_DEPENDENCY").Errorf("logger cannot be nil")
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	return m, nil
}

// Init stores the callbacks, subscribes to backend events and signs in
// anonymously.
func (m *Manager) Init(ctx context.Context, cb Callbacks) (Outcome, error) {
	m.mu.Lock()
	m.callbacks = cb
	if src, ok := m.backend.(EventSource); ok && !m.subscribed {
		src.Subscribe(m.logEvent)
		m.subscribed = true
	}
	m.warnIfSessionLost(ctx)
	m.mu.Unlock()

	return m.SignInAnonymously(ctx)
}

// warnIfSessionLost logs when this device signed in before but no longer
// holds a session token.
func (m *Manager) warnIfSessionLost(ctx context.Context) {
	checker, ok := m.marker.(loginChecker)
	if !ok {
		return
	}
	reporter, ok := m.backend.(sessionTokenReporter)
	if !ok {
		return
	}
	existed, err := checker.LoginExists()
	if err != nil {
		m.logger.WarnContext(ctx, "read login marker failed", "error", err)
		return
	}
	if existed && !reporter.SessionTokenExists() {
		m.logger.InfoContext(ctx, "device signed in before but has no cached session token")
	}
}

func (m *Manager) logEvent(e Event) {
	switch e.Kind {
	case EventSignedIn:
		m.logger.Info("backend signed in", "player_id", e.PlayerID)
	case EventSignInFailed:
		m.logger.Error("backend sign in failed", "error", e.Err)
	case EventSignedOut:
		m.logger.Info("backend signed out")
	case EventExpired:
		m.logger.Warn("backend session could not be refreshed and expired")
	}
}

// SignInAnonymously signs in with the cached session, or as a new anonymous
// player. A rejected cached session token is cleared and the sign-in
// retried once.
func (m *Manager) SignInAnonymously(ctx context.Context) (Outcome, error) {
	return m.run(ctx, "sign_in_anonymously", "", func(ctx context.Context) (Outcome, func(), error) {
		err := m.backend.SignInAnonymously(ctx)
		if err != nil && IsInvalidSessionToken(err) {
			m.logger.InfoContext(ctx, "cached session token rejected, retrying without it")
			m.clearSessionToken(ctx)
			err = m.backend.SignInAnonymously(ctx)
		}
		if err != nil {
			return m.signInFailed(ctx, err)
		}

		if m.marker != nil {
			if err := m.marker.MarkLoginExists(); err != nil {
				m.logger.WarnContext(ctx, "persist login marker failed", "error", err)
			}
		}
		m.state.HasIdentity = true
		m.state.AuthAttempted = true
		if err := m.refreshPlayerInfo(ctx); err != nil {
			m.logger.WarnContext(ctx, "fetch player info failed", "error", err)
		}
		m.logger.InfoContext(ctx, "signed in anonymously", "player_id", m.backend.PlayerID())
		return OutcomeSuccess, nil, nil
	})
}

// LinkApple acquires an Apple identity token and links it.
func (m *Manager) LinkApple(ctx context.Context) (Outcome, error) {
	return m.linkFromSource(ctx, ProviderApple)
}

// LinkGooglePlayGames acquires a Play Games server auth code and links it.
func (m *Manager) LinkGooglePlayGames(ctx context.Context) (Outcome, error) {
	return m.linkFromSource(ctx, ProviderGooglePlayGames)
}

func (m *Manager) linkFromSource(ctx context.Context, p Provider) (Outcome, error) {
	return m.run(ctx, "link", p, func(ctx context.Context) (Outcome, func(), error) {
		credential, err := m.acquire(ctx, p)
		if err != nil {
			return OutcomeFailed, m.notifyError(credentialFailureMessage(p, err)), err
		}
		return m.link(ctx, p, credential)
	})
}

// Link links credential for provider to the current player. When the
// credential already belongs to another player, OnConfirm receives the
// switch action and the identity flags are left alone. The credential is
// kept as the platform token for a later switch.
func (m *Manager) Link(ctx context.Context, p Provider, credential string) (Outcome, error) {
	return m.run(ctx, "link", p, func(ctx context.Context) (Outcome, func(), error) {
		m.rememberToken(p, credential)
		return m.link(ctx, p, credential)
	})
}

func (m *Manager) link(ctx context.Context, p Provider, credential string) (Outcome, func(), error) {
	if err := m.backend.LinkWithProvider(ctx, p, credential); err != nil {
		if IsAccountAlreadyLinked(err) {
			m.logger.InfoContext(ctx, "account already linked with another player", "provider", string(p))
			action := SwitchAction{
				Provider: p,
				Run: func(ctx context.Context) (Outcome, error) {
					return m.SwitchAccount(ctx, p)
				},
			}
			cb := m.callbacks.OnConfirm
			return OutcomeConfirmRequired, func() {
				if cb != nil {
					cb(action)
				}
			}, nil
		}
		m.logger.WarnContext(ctx, "link failed", "provider", string(p), "error", err)
		return OutcomeFailed, m.notifyError(ErrorMessage(err)), err
	}

	if err := m.refreshPlayerInfo(ctx); err != nil {
		return OutcomeFailed, m.notifyError(ErrorMessage(err)), err
	}
	m.logger.InfoContext(ctx, "account linked", "provider", string(p))
	return OutcomeSuccess, m.notifyRefresh(), nil
}

// SwitchAccount signs out and signs in as the player already linked to p.
// Google Play Games auth codes are single use, so a fresh one is requested;
// Apple reuses the identity token from the link attempt.
func (m *Manager) SwitchAccount(ctx context.Context, p Provider) (Outcome, error) {
	return m.run(ctx, "switch_account", p, func(ctx context.Context) (Outcome, func(), error) {
		if err := m.backend.SignOut(ctx); err != nil {
			m.logger.WarnContext(ctx, "sign out before switch failed", "error", err)
		}
		m.clearSessionToken(ctx)

		credential := ""
		if p == ProviderApple {
			credential = m.state.AppleToken
		}
		if credential == "" {
			var err error
			credential, err = m.acquire(ctx, p)
			if err != nil {
				m.state.HasIdentity = false
				m.state.AuthAttempted = true
				return OutcomeFailed, m.notifyError(credentialFailureMessage(p, err)), err
			}
		}

		if err := m.backend.SignInWithProvider(ctx, p, credential); err != nil {
			return m.signInFailed(ctx, err)
		}
		m.state.HasIdentity = true
		m.state.AuthAttempted = true
		m.logger.InfoContext(ctx, "switched account", "provider", string(p), "player_id", m.backend.PlayerID())

		if err := m.refreshPlayerInfo(ctx); err != nil {
			return OutcomeFailed, m.notifyError(ErrorMessage(err)), err
		}
		return OutcomeSuccess, m.notifyRefresh(), nil
	})
}

// State returns a snapshot of the identity flags.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PlayerID returns the backend's current player ID.
func (m *Manager) PlayerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.PlayerID()
}

// run serializes op, traces it, records its outcome and fires the
// callback notification once the lock is released.
func (m *Manager) run(ctx context.Context, name string, p Provider, op func(context.Context) (Outcome, func(), error)) (Outcome, error) {
	attrs := []attribute.KeyValue{}
	if p != "" {
		attrs = append(attrs, attribute.String("provider", string(p)))
	}
	ctx, span := m.tracer.Start(ctx, "identity."+name, trace.WithAttributes(attrs...))

	m.mu.Lock()
	outcome, notify, err := op(ctx)
	m.mu.Unlock()

	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorMessage(err))
	}
	span.End()
	m.recorder.RecordOperation(name, outcome.String())

	if notify != nil {
		notify()
	}
	return outcome, err
}

// signInFailed applies the failed sign-in rule: the attempt is complete,
// no identity is held, and the player sees the backend's message. Generic
// request failures also drop the cached session token.
func (m *Manager) signInFailed(ctx context.Context, err error) (Outcome, func(), error) {
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		m.clearSessionToken(ctx)
	}
	m.state.HasIdentity = false
	m.state.AuthAttempted = true
	m.logger.WarnContext(ctx, "sign in failed", "error", err)
	return OutcomeFailed, m.notifyError(ErrorMessage(err)), err
}

func (m *Manager) refreshPlayerInfo(ctx context.Context) error {
	info, err := m.backend.GetPlayerInfo(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(info.Identities))
	for _, id := range info.Identities {
		ids = append(ids, id.TypeID)
	}
	m.state.ExternalIDs = strings.Join(ids, " ")
	return nil
}

func (m *Manager) acquire(ctx context.Context, p Provider) (string, error) {
	src, ok := m.sources[p]
	if !ok {
		return "", oops.Code("IDENTITY_NO_CREDENTIAL_SOURCE").With("provider", string(p)).
			Errorf("no credential source for %s", p)
	}
	credential, err := src.Credential(ctx)
	if err != nil {
		return "", err
	}
	if credential == "" {
		return "", oops.Code("IDENTITY_EMPTY_CREDENTIAL").With("provider", string(p)).
			Errorf("%s returned an empty credential", p)
	}
	m.rememberToken(p, credential)
	return credential, nil
}

func (m *Manager) rememberToken(p Provider, credential string) {
	switch p {
	case ProviderApple:
		m.state.AppleToken = credential
	case ProviderGooglePlayGames:
		m.state.GooglePlayGamesToken = credential
	}
}

func (m *Manager) clearSessionToken(ctx context.Context) {
	if err := m.backend.ClearSessionToken(); err != nil {
		m.logger.WarnContext(ctx, "clear session token failed", "error", err)
	}
}

func (m *Manager) notifyError(msg string) func() {
	cb := m.callbacks.OnError
	return func() {
		if cb != nil {
			cb(msg)
		}
	}
}

func (m *Manager) notifyRefresh() func() {
	cb := m.callbacks.OnRefresh
	return func() {
		if cb != nil {
			cb()
		}
	}
}

func credentialFailureMessage(p Provider, err error) string {
	if p == ProviderGooglePlayGames {
		return googlePlayGamesFailure
	}
	return appleErrorPrefix + err.Error()
}
