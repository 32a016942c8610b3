// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/leafkit/leaf/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	// Should not fail
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("user_id", "123").Errorf("test error")
	// Should not fail
	errutil.AssertErrorContext(t, err, "user_id", "123")
}

func TestAssertErrorCode_JoinedErrors(t *testing.T) {
	err := errors.Join(
		oops.Code("FIRST").Errorf("first"),
		oops.Code("SECOND").Errorf("second"),
	)
	errutil.AssertErrorCode(t, err, "SECOND")
}

func TestCodes(t *testing.T) {
	assert.Nil(t, errutil.Codes(nil))
	assert.Nil(t, errutil.Codes(errors.New("plain")))
	assert.Equal(t, []string{"A", "B"}, errutil.Codes(errors.Join(
		oops.Code("A").Errorf("a"),
		errors.New("no code"),
		oops.Code("B").Errorf("b"),
	)))
}
