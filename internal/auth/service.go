// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pickiss/playerid/pkg/errutil"
)

const tracerName = "github.com/pickiss/playerid/internal/auth"

// Sign-in methods reported to the Recorder.
const (
	MethodAnonymous = "anonymous"
	MethodResume    = "resume"
)

// CredentialVerifier verifies a platform credential and returns the identity
// facts it proves.
type CredentialVerifier interface {
	Provider() Provider
	Verify(ctx context.Context, credential string) (*ExternalIdentity, error)
}

// VerifierSet resolves the verifier for a provider.
type VerifierSet interface {
	Verifier(p Provider) (CredentialVerifier, error)
}

// Recorder receives sign-in and link outcomes for metrics.
type Recorder interface {
	RecordSignIn(method, outcome string)
	RecordLink(provider, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSignIn(string, string) {}
func (nopRecorder) RecordLink(string, string)   {}

// SignInRequest carries optional client context for a sign-in.
type SignInRequest struct {
	// SessionToken resumes an existing session when set.
	SessionToken string
	UserAgent    string
}

// SignInResult is returned by every successful sign-in.
type SignInResult struct {
	Player               *Player
	Session              *Session
	SessionToken         string
	AccessToken          string
	AccessTokenExpiresAt time.Time
	// Created is true when the sign-in created a new player.
	Created bool
}

// Principal is the authenticated caller behind an access token.
type Principal struct {
	PlayerID  ulid.ULID
	SessionID ulid.ULID
}

// Service provides player identity operations.
type Service struct {
	players    PlayerRepository
	identities IdentityRepository
	sessions   SessionRepository
	verifiers  VerifierSet
	tokens     *TokenIssuer
	logger     *slog.Logger
	tracer     trace.Tracer
	recorder   Recorder
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// NewService creates a new Service. All repositories, the verifier set and
// the token issuer are required.
func NewService(
	players PlayerRepository,
	identities IdentityRepository,
	sessions SessionRepository,
	verifiers VerifierSet,
	tokens *TokenIssuer,
	opts ...ServiceOption,
) (*Service, error) {
	if players == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("players repository is required")
	}
	if identities == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("identities repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("sessions repository is required")
	}
	if verifiers == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("verifier set is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token issuer is required")
	}

	s := &Service{
		players:    players,
		identities: identities,
		sessions:   sessions,
		verifiers:  verifiers,
		tokens:     tokens,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger cannot be nil")
	}
	return s, nil
}

// SignInAnonymously resumes the session behind req.SessionToken, or creates a
// new anonymous player when no token is given.
//
// An unknown or expired token fails with CodeSessionTokenInvalid; the client
// is expected to drop it and sign in again without one.
func (s *Service) SignInAnonymously(ctx context.Context, req SignInRequest) (result *SignInResult, err error) {
	method := MethodAnonymous
	if req.SessionToken != "" {
		method = MethodResume
	}

	ctx, span := s.tracer.Start(ctx, "auth.SignInAnonymously",
		trace.WithAttributes(attribute.String("method", method)))
	defer func() { s.finish(ctx, span, "sign in", err) }()
	defer func() { s.recorder.RecordSignIn(method, outcomeOf(err)) }()

	if req.SessionToken != "" {
		return s.resume(ctx, req)
	}

	player := NewPlayer()
	if err := s.players.Create(ctx, player); err != nil {
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "create anonymous player").
			Wrap(err)
	}

	result, err = s.startSession(ctx, player, req.UserAgent)
	if err != nil {
		return nil, err
	}
	result.Created = true

	s.logger.InfoContext(ctx, "anonymous player created", "player_id", player.ID.String())
	return result, nil
}

func (s *Service) resume(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	session, err := s.sessions.GetByTokenHash(ctx, HashSessionToken(req.SessionToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeSessionTokenInvalid).Errorf(SessionTokenInvalidMessage)
		}
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpired() {
		_ = s.sessions.Delete(ctx, session.ID) //nolint:errcheck // Best effort, the purge job catches leftovers
		return nil, oops.Code(CodeSessionTokenInvalid).
			With("session_id", session.ID.String()).
			Errorf(SessionTokenInvalidMessage)
	}

	player, err := s.players.GetByID(ctx, session.PlayerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeSessionTokenInvalid).
				With("session_id", session.ID.String()).
				Errorf(SessionTokenInvalidMessage)
		}
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "get player").
			Wrap(err)
	}

	now := time.Now()
	session.LastSeenAt = now
	session.ExpiresAt = now.Add(SessionTokenExpiry)
	if err := s.sessions.Touch(ctx, session.ID, session.LastSeenAt, session.ExpiresAt); err != nil {
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "touch session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	player.RecordSignIn()
	_ = s.players.Update(ctx, player) //nolint:errcheck // Best effort, sign-in succeeds regardless

	access, expiresAt, err := s.tokens.Issue(player.ID, session.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").With("operation", "issue access token").Wrap(err)
	}

	return &SignInResult{
		Player:               player,
		Session:              session,
		SessionToken:         req.SessionToken,
		AccessToken:          access,
		AccessTokenExpiresAt: expiresAt,
	}, nil
}

// SignInWithProvider signs in as the player linked to the verified credential.
// If no player is linked yet, a new player is created and linked.
func (s *Service) SignInWithProvider(ctx context.Context, provider Provider, credential string, req SignInRequest) (result *SignInResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.SignInWithProvider",
		trace.WithAttributes(attribute.String("provider", string(provider))))
	defer func() { s.finish(ctx, span, "provider sign in", err) }()
	defer func() { s.recorder.RecordSignIn(string(provider), outcomeOf(err)) }()

	ext, err := s.verify(ctx, provider, credential)
	if err != nil {
		return nil, err
	}

	var player *Player
	created := false

	identity, err := s.identities.GetBySubject(ctx, ext.Provider, ext.Subject)
	switch {
	case err == nil:
		player, err = s.players.GetByID(ctx, identity.PlayerID)
		if err != nil {
			return nil, oops.Code("AUTH_SIGN_IN_FAILED").
				With("operation", "get linked player").
				With("player_id", identity.PlayerID.String()).
				Wrap(err)
		}
		player.RecordSignIn()
		_ = s.players.Update(ctx, player) //nolint:errcheck // Best effort, sign-in succeeds regardless
	case errors.Is(err, ErrNotFound):
		player, err = s.createLinkedPlayer(ctx, ext)
		if err != nil {
			return nil, err
		}
		created = true
	default:
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "get identity by subject").
			With("provider", string(provider)).
			Wrap(err)
	}

	result, err = s.startSession(ctx, player, req.UserAgent)
	if err != nil {
		return nil, err
	}
	result.Created = created

	s.logger.InfoContext(ctx, "player signed in with provider",
		"player_id", player.ID.String(),
		"provider", string(provider),
		"created", created,
	)
	return result, nil
}

func (s *Service) createLinkedPlayer(ctx context.Context, ext *ExternalIdentity) (*Player, error) {
	player := NewPlayer()
	if err := s.players.Create(ctx, player); err != nil {
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "create player").
			Wrap(err)
	}

	identity, err := NewIdentity(player.ID, ext)
	if err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		// Lost a concurrent sign-in race for this subject.
		if errors.Is(err, ErrAlreadyLinked) {
			_ = s.players.Delete(ctx, player.ID) //nolint:errcheck // Orphan cleanup is best effort
			existing, getErr := s.identities.GetBySubject(ctx, ext.Provider, ext.Subject)
			if getErr != nil {
				return nil, oops.Code("AUTH_SIGN_IN_FAILED").
					With("operation", "get identity after conflict").
					Wrap(getErr)
			}
			winner, getErr := s.players.GetByID(ctx, existing.PlayerID)
			if getErr != nil {
				return nil, oops.Code("AUTH_SIGN_IN_FAILED").
					With("operation", "get player after conflict").
					Wrap(getErr)
			}
			return winner, nil
		}
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "create identity").
			Wrap(err)
	}
	return player, nil
}

// LinkWithProvider links the verified credential to playerID and returns the
// updated player info. Linking a credential that is already linked to the
// same player is a no-op.
func (s *Service) LinkWithProvider(ctx context.Context, playerID ulid.ULID, provider Provider, credential string) (info *PlayerInfo, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.LinkWithProvider",
		trace.WithAttributes(
			attribute.String("provider", string(provider)),
			attribute.String("player_id", playerID.String()),
		))
	defer func() { s.finish(ctx, span, "link", err) }()
	defer func() { s.recorder.RecordLink(string(provider), outcomeOf(err)) }()

	ext, err := s.verify(ctx, provider, credential)
	if err != nil {
		return nil, err
	}

	existing, err := s.identities.GetBySubject(ctx, ext.Provider, ext.Subject)
	switch {
	case err == nil:
		if existing.PlayerID == playerID {
			return s.GetPlayerInfo(ctx, playerID)
		}
		return nil, oops.Code(CodeAccountAlreadyLinked).
			With("provider", string(provider)).
			With("player_id", playerID.String()).
			Errorf("this account is already linked with another player")
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_LINK_FAILED").
			With("operation", "get identity by subject").
			Wrap(err)
	}

	linked, err := s.identities.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, oops.Code("AUTH_LINK_FAILED").
			With("operation", "list player identities").
			Wrap(err)
	}
	for _, id := range linked {
		if id.Provider == ext.Provider {
			return nil, oops.Code(CodeProviderAlreadyLinked).
				With("provider", string(provider)).
				Errorf("player already has a linked %s account", provider)
		}
	}

	identity, err := NewIdentity(playerID, ext)
	if err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrAlreadyLinked) {
			return nil, oops.Code(CodeAccountAlreadyLinked).
				With("provider", string(provider)).
				Errorf("this account is already linked with another player")
		}
		return nil, oops.Code("AUTH_LINK_FAILED").
			With("operation", "create identity").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "identity linked",
		"player_id", playerID.String(),
		"provider", string(provider),
	)
	return s.GetPlayerInfo(ctx, playerID)
}

// GetPlayerInfo returns the player and its linked identities.
func (s *Service) GetPlayerInfo(ctx context.Context, playerID ulid.ULID) (*PlayerInfo, error) {
	player, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodePlayerNotFound).
				With("player_id", playerID.String()).
				Wrap(err)
		}
		return nil, oops.Code("AUTH_PLAYER_INFO_FAILED").
			With("operation", "get player").
			Wrap(err)
	}

	identities, err := s.identities.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, oops.Code("AUTH_PLAYER_INFO_FAILED").
			With("operation", "list identities").
			Wrap(err)
	}

	return &PlayerInfo{
		ID:         player.ID,
		CreatedAt:  player.CreatedAt,
		Identities: identities,
	}, nil
}

// SignOut deletes a session. Signing out of an already deleted session succeeds.
func (s *Service) SignOut(ctx context.Context, sessionID ulid.ULID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_SIGN_OUT_FAILED").
			With("operation", "delete session").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	s.logger.DebugContext(ctx, "session signed out", "session_id", sessionID.String())
	return nil
}

// Authenticate validates an access token and the session it belongs to.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeSessionExpired).Errorf("access token has expired")
		}
		return nil, err
	}

	playerID, err := claims.PlayerID()
	if err != nil {
		return nil, err
	}
	sessionID, err := claims.Session()
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeAccessTokenInvalid).
				With("session_id", sessionID.String()).
				Errorf("session has been signed out")
		}
		return nil, oops.Code("AUTH_AUTHENTICATE_FAILED").
			With("operation", "get session").
			Wrap(err)
	}
	if session.IsExpired() {
		return nil, oops.Code(CodeSessionExpired).Errorf("session has expired")
	}
	if session.PlayerID != playerID {
		return nil, oops.Code(CodeAccessTokenInvalid).Errorf("access token does not match session")
	}

	return &Principal{PlayerID: playerID, SessionID: sessionID}, nil
}

// PurgeExpiredSessions deletes expired sessions and returns how many were removed.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("AUTH_PURGE_FAILED").Wrap(err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions purged", "count", n)
	}
	return n, nil
}

func (s *Service) verify(ctx context.Context, provider Provider, credential string) (*ExternalIdentity, error) {
	if credential == "" {
		return nil, oops.Code(CodeCredentialInvalid).
			With("provider", string(provider)).
			Errorf("credential cannot be empty")
	}

	verifier, err := s.verifiers.Verifier(provider)
	if err != nil {
		return nil, err
	}

	ext, err := verifier.Verify(ctx, credential)
	if err != nil {
		return nil, oops.Code(CodeCredentialInvalid).
			With("provider", string(provider)).
			Wrap(err)
	}
	return ext, nil
}

func (s *Service) startSession(ctx context.Context, player *Player, userAgent string) (*SignInResult, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(player.ID, tokenHash, userAgent, time.Now().Add(SessionTokenExpiry))
	if err != nil {
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	access, expiresAt, err := s.tokens.Issue(player.ID, session.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SIGN_IN_FAILED").
			With("operation", "issue access token").
			Wrap(err)
	}

	return &SignInResult{
		Player:               player,
		Session:              session,
		SessionToken:         token,
		AccessToken:          access,
		AccessTokenExpiresAt: expiresAt,
	}, nil
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errutil.Code(err))
		if isClientError(err) {
			s.logger.DebugContext(ctx, op+" rejected", "code", errutil.Code(err), "error", err)
		} else {
			errutil.LogErrorContext(ctx, s.logger, op+" failed", err)
		}
	}
	span.End()
}

func isClientError(err error) bool {
	switch errutil.Code(err) {
	case CodeSessionTokenInvalid, CodeSessionExpired, CodeAccountAlreadyLinked,
		CodeProviderAlreadyLinked, CodeProviderUnknown, CodeCredentialInvalid,
		CodeAccessTokenInvalid, CodePlayerNotFound:
		return true
	}
	return false
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "error"
}
