// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T, readiness ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", readiness, nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, server.Stop(ctx))
		for range errCh {
		}
	})
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_ServesMetrics(t *testing.T) {
	server := startServer(t, nil)
	server.Metrics().RecordSignIn("anonymous", "success")
	server.Metrics().RecordLink("apple.com", "ACCOUNT_ALREADY_LINKED")
	server.Metrics().RecordHTTPRequest("/v1/players/me", http.StatusOK, 3*time.Millisecond)

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `playerid_sign_ins_total{method="anonymous",outcome="success"} 1`)
	assert.Contains(t, body, `playerid_links_total{outcome="ACCOUNT_ALREADY_LINKED",provider="apple.com"} 1`)
	assert.Contains(t, body, `playerid_http_requests_total{route="/v1/players/me",status="200"} 1`)
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name      string
		readiness ReadinessChecker
		path      string
		status    int
		body      string
	}{
		{"liveness", nil, "/healthz/liveness", http.StatusOK, "ok\n"},
		{"ready with nil checker", nil, "/healthz/readiness", http.StatusOK, "ok\n"},
		{"ready", func(context.Context) error { return nil }, "/healthz/readiness", http.StatusOK, "ok\n"},
		{"not ready", func(context.Context) error { return errors.New("db down") }, "/healthz/readiness", http.StatusServiceUnavailable, "not ready\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("127.0.0.1:0", tt.readiness, nil)
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)
	_, err := server.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)
	require.NoError(t, server.Stop(context.Background()))
	assert.Empty(t, server.Addr())
}

func TestServer_ListenFailure(t *testing.T) {
	first := startServer(t, nil)
	second := NewServer(first.Addr(), nil, nil)
	_, err := second.Start()
	require.Error(t, err)
	// A failed start leaves the server startable again.
	require.NoError(t, second.Stop(context.Background()))
}

func TestMetrics_Recorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSignIn("resume", "SESSION_TOKEN_INVALID")
	m.RecordSignIn("resume", "SESSION_TOKEN_INVALID")
	m.RecordOperation("link", "confirm_required")

	assert.InDelta(t, 2, testutil.ToFloat64(m.SignInsTotal.WithLabelValues("resume", "SESSION_TOKEN_INVALID")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ClientOperationsTotal.WithLabelValues("link", "confirm_required")), 0)
}
