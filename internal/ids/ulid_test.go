// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package ids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafkit/leaf/internal/ids"
)

func TestNew_Monotonic(t *testing.T) {
	prev := ids.New()
	for range 100 {
		next := ids.New()
		assert.Equal(t, 1, next.Compare(prev), "ids must increase")
		prev = next
	}
}

func TestParse(t *testing.T) {
	id := ids.New()
	parsed, err := ids.Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ids.Parse("not-a-ulid")
	assert.Error(t, err)
}
