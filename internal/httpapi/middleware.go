// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pickiss/playerid/internal/auth"
)

// Headers read or written by the API.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderClientVersion = "X-Client-Version"
)

const maxRequestIDLen = 128

type ctxKey int

const (
	requestIDKey ctxKey = iota
	principalKey
)

// RequestID returns the request ID stored by the request ID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// PrincipalFrom returns the caller authenticated by the bearer middleware.
func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*auth.Principal)
	return p, ok
}

// requestIDMiddleware propagates a caller-supplied X-Request-ID or mints one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// metricsMiddleware records each routed request under its path template.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m := httpsnoop.CaptureMetrics(next, w, r)
		h.recorder.RecordHTTPRequest(route, m.Code, m.Duration)
		h.loggerFor(r).DebugContext(r.Context(), "request served",
			"method", r.Method,
			"route", route,
			"status", m.Code,
			"duration", m.Duration,
		)
	})
}

// clientVersionMiddleware rejects clients older than the configured minimum
// with 426. Requests without a version header pass.
func (h *Handler) clientVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderClientVersion)
		if h.minVersion == nil || raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			writeErrorCode(w, r, auth.CodeInvalidRequest, "malformed "+HeaderClientVersion+" header")
			return
		}
		if v.LessThan(h.minVersion) {
			writeErrorCode(w, r, CodeClientUpgradeRequired,
				"client version "+v.String()+" is below the minimum "+h.minVersion.String())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerMiddleware authenticates the access token and stores the principal.
func (h *Handler) bearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeErrorCode(w, r, CodeUnauthenticated, "missing bearer token")
			return
		}
		principal, err := h.svc.Authenticate(r.Context(), token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type nopRecorder struct{}

func (nopRecorder) RecordHTTPRequest(string, int, time.Duration) {}
