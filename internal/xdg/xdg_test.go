// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirs_FromEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	t.Setenv("XDG_STATE_HOME", "/custom/state")

	assert.Equal(t, "/custom/config/leaf", ConfigDir())
	assert.Equal(t, "/custom/data/leaf", DataDir())
	assert.Equal(t, "/custom/state/leaf", StateDir())
	assert.Equal(t, "/custom/config/leaf/leaf.yaml", ConfigFile())
	assert.Equal(t, "/custom/data/leaf/plugins", PluginsDir())
	assert.Equal(t, "/custom/state/leaf/leaf.log", LogFile())
}

func TestDirs_FallBackToHome(t *testing.T) {
	t.Setenv("HOME", "/home/leaf")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "relative/ignored")
	t.Setenv("XDG_STATE_HOME", "")

	assert.Equal(t, "/home/leaf/.config/leaf", ConfigDir())
	assert.Equal(t, "/home/leaf/.local/share/leaf", DataDir())
	assert.Equal(t, "/home/leaf/.local/state/leaf", StateDir())
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Error(t, EnsureDir(filepath.Join(file, "sub")))
}
