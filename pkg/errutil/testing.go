// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package errutil

import (
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TB is what the assertions need from a test. *testing.T and GinkgoT()
// both satisfy it.
type TB interface {
	require.TestingT
	Helper()
}

// AssertErrorCode asserts that err is an oops error carrying code.
func AssertErrorCode(t TB, err error, code string) {
	t.Helper()
	require.Error(t, err, "expected error with code %s", code)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err is an oops error whose context has
// key set to value.
func AssertErrorContext(t TB, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}
