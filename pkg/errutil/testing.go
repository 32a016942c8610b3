// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error with the given code.
// The code may sit anywhere in a chain of wrapped or joined errors.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Contains(t, Codes(err), code, "error %v does not carry code %s", err, code)
}

// AssertErrorContext asserts that err is an oops error with the given context key/value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	assert.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}

// Codes collects the oops codes found in err, descending into joined errors.
func Codes(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, Codes(e)...)
		}
		return out
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	if code, _ := any(oopsErr.Code()).(string); code != "" {
		return []string{code}
	}
	return nil
}
