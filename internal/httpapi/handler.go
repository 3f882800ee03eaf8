// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package httpapi exposes the player identity service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pickiss/playerid/internal/auth"
)

const maxBodyBytes = 64 << 10

// Service is the subset of *auth.Service the API drives.
type Service interface {
	SignInAnonymously(ctx context.Context, req auth.SignInRequest) (*auth.SignInResult, error)
	SignInWithProvider(ctx context.Context, provider auth.Provider, credential string, req auth.SignInRequest) (*auth.SignInResult, error)
	LinkWithProvider(ctx context.Context, playerID ulid.ULID, provider auth.Provider, credential string) (*auth.PlayerInfo, error)
	GetPlayerInfo(ctx context.Context, playerID ulid.ULID) (*auth.PlayerInfo, error)
	SignOut(ctx context.Context, sessionID ulid.ULID) error
	Authenticate(ctx context.Context, accessToken string) (*auth.Principal, error)
}

// Recorder receives per-request metrics.
type Recorder interface {
	RecordHTTPRequest(route string, status int, elapsed time.Duration)
}

// Handler serves the /v1/players API.
type Handler struct {
	svc        Service
	logger     *slog.Logger
	recorder   Recorder
	minVersion *semver.Version
	rawMinVer  string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithRecorder sets the request metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithMinClientVersion rejects clients reporting an older X-Client-Version.
// An empty version disables the check.
func WithMinClientVersion(v string) Option {
	return func(h *Handler) { h.rawMinVer = v }
}

// NewHandler creates the API handler.
func NewHandler(svc Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("HTTPAPI_INVALID_DEPENDENCY").Errorf("service is required")
	}
	h := &Handler{
		svc:      svc,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		return nil, oops.Code("HTTPAPI_INVALID_DEPENDENCY").Errorf("logger cannot be nil")
	}
	if h.recorder == nil {
		h.recorder = nopRecorder{}
	}
	if h.rawMinVer != "" {
		v, err := semver.NewVersion(h.rawMinVer)
		if err != nil {
			return nil, oops.Code("HTTPAPI_CONFIG_INVALID").With("min_client_version", h.rawMinVer).Wrap(err)
		}
		h.minVersion = v
	}
	return h, nil
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, r, CodeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	}))
	r.MethodNotAllowedHandler = requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, r, CodeMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path)
	}))
	r.Use(requestIDMiddleware, h.metricsMiddleware)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	players := r.PathPrefix("/v1/players").Subrouter()
	players.Use(h.clientVersionMiddleware)
	players.HandleFunc("/anonymous", h.signInAnonymously).Methods(http.MethodPost)
	players.HandleFunc("/providers/{provider}/sign-in", h.signInWithProvider).Methods(http.MethodPost)

	authed := players.NewRoute().Subrouter()
	authed.Use(h.bearerMiddleware)
	authed.HandleFunc("/providers/{provider}/link", h.link).Methods(http.MethodPost)
	authed.HandleFunc("/me", h.me).Methods(http.MethodGet)
	authed.HandleFunc("/sign-out", h.signOut).Methods(http.MethodPost)

	return r
}

func (h *Handler) loggerFor(r *http.Request) *slog.Logger {
	if id := RequestID(r.Context()); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) signInAnonymously(w http.ResponseWriter, r *http.Request) {
	var body SignInRequest
	if err := decodeBody(w, r, &body, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.SignInAnonymously(r.Context(), auth.SignInRequest{
		SessionToken: body.SessionToken,
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSignInResponse(result))
}

func (h *Handler) signInWithProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := auth.ParseProvider(mux.Vars(r)["provider"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body CredentialRequest
	if err := decodeBody(w, r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.SignInWithProvider(r.Context(), provider, body.Credential, auth.SignInRequest{
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSignInResponse(result))
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	provider, err := auth.ParseProvider(mux.Vars(r)["provider"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body CredentialRequest
	if err := decodeBody(w, r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	info, err := h.svc.LinkWithProvider(r.Context(), principal.PlayerID, provider, body.Credential)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayerInfoResponse(info))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	info, err := h.svc.GetPlayerInfo(r.Context(), principal.PlayerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlayerInfoResponse(info))
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	if err := h.svc.SignOut(r.Context(), principal.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads a JSON body into dst. With optional set, an empty body
// leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return oops.Code(auth.CodeInvalidRequest).Errorf("invalid request body: %v", err)
	}
	return nil
}
