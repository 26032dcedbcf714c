package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/config"
)

func TestInitCmdWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")

	orig := configPath
	configPath = path
	defer func() { configPath = orig }()

	require.NoError(t, initCmd.RunE(initCmd, nil))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Builder.MaxConcurrent, cfg.Builder.MaxConcurrent)
}

func TestInitCmdRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	require.NoError(t, config.Save(config.DefaultConfig(), path))

	orig := configPath
	configPath = path
	defer func() { configPath = orig }()

	err := initCmd.RunE(initCmd, nil)
	require.Error(t, err)
}
