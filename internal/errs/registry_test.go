// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package errs_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/pkg/errutil"
)

type notFoundPayload struct {
	Name string `json:"name"`
}

var kindNotFound = errs.Kind{
	Code:        "THING_NOT_FOUND",
	Description: "the requested thing does not exist",
	Payload:     notFoundPayload{},
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.Register(kindNotFound))

	k, ok := r.Lookup("THING_NOT_FOUND")
	require.True(t, ok)
	assert.Equal(t, "the requested thing does not exist", k.Description)
}

func TestRegistry_IdempotentRegistration(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.Register(kindNotFound))
	require.NoError(t, r.Register(kindNotFound))
	assert.Len(t, r.Kinds(), 1)
}

func TestRegistry_ConflictingRegistration(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.Register(kindNotFound))

	err := r.Register(errs.Kind{Code: "THING_NOT_FOUND", Description: "something else"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, errs.CodeKindConflict)

	k, _ := r.Lookup("THING_NOT_FOUND")
	assert.Equal(t, kindNotFound.Description, k.Description, "original registration must survive")
}

func TestRegistry_RejectsMalformedCodes(t *testing.T) {
	r := errs.NewRegistry()
	for _, code := range []string{"", "lower_case", "1LEADING_DIGIT", "HAS-DASH"} {
		err := r.Register(errs.Kind{Code: code, Description: "x"})
		require.Error(t, err, "code %q", code)
		errutil.AssertErrorCode(t, err, errs.CodeKindInvalid)
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := errs.NewRegistry()
	k, ok := r.Lookup("NEVER_REGISTERED")
	assert.False(t, ok)
	assert.Equal(t, "NEVER_REGISTERED", k.Code)
	assert.Equal(t, "unknown error kind", k.Description)
}

func TestRegistry_Describe(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.Register(kindNotFound))

	err := kindNotFound.Builder().With("name", "widget").Errorf("widget not found")
	wrapped := oops.With("operation", "fetch").Wrap(err)

	k, ok := r.Describe(wrapped)
	require.True(t, ok)
	assert.Equal(t, "THING_NOT_FOUND", k.Code)

	k, ok = r.Describe(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, errs.CodeUnknown, k.Code)
}

func TestKind_Is(t *testing.T) {
	err := kindNotFound.Errorf("missing %s", "widget")
	assert.True(t, kindNotFound.Is(err))
	assert.False(t, kindNotFound.Is(errors.New("missing widget")))
	assert.False(t, kindNotFound.Is(nil))
}

func TestRegistry_ValidatePayload(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.Register(kindNotFound))

	assert.NoError(t, r.ValidatePayload("THING_NOT_FOUND", map[string]any{"name": "widget"}))
	assert.Error(t, r.ValidatePayload("THING_NOT_FOUND", map[string]any{"name": 42}))
	assert.Error(t, r.ValidatePayload("NOT_REGISTERED", nil))
}

func TestRegistry_ValidatePayload_NoPrototype(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.Register(errs.Kind{Code: "FREEFORM", Description: "anything goes"}))
	assert.NoError(t, r.ValidatePayload("FREEFORM", map[string]any{"anything": []int{1, 2}}))
}

func TestRegistry_Schema(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.Register(kindNotFound))

	data, err := r.Schema("THING_NOT_FOUND")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name"`)

	data, err = r.Schema("MISSING")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRegistry_KindsSorted(t *testing.T) {
	r := errs.NewRegistry()
	require.NoError(t, r.RegisterAll(
		errs.Kind{Code: "B_KIND", Description: "b"},
		errs.Kind{Code: "A_KIND", Description: "a"},
	))

	kinds := r.Kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, "A_KIND", kinds[0].Code)
	assert.Equal(t, "B_KIND", kinds[1].Code)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "", errs.CodeOf(nil))
	assert.Equal(t, "", errs.CodeOf(errors.New("plain")))
	assert.Equal(t, "X_CODE", errs.CodeOf(oops.Code("X_CODE").Errorf("boom")))
}
