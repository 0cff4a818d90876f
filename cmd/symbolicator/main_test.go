package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/crashsymbol/symbolicator/internal/svcconfig"
)

func contextWithConfigFlag(t *testing.T, configPath string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("config", configPath, "")
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestLoadConfigFallsBackToDefaultWhenFlagOmitted(t *testing.T) {
	cfg, err := loadConfig(contextWithConfigFlag(t, ""))
	require.NoError(t, err)
	assert.Equal(t, svcconfig.Default().Listen, cfg.Listen)
}

func TestLoadConfigReadsFileWhenFlagSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbolicator.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen = \"127.0.0.1:9999\"\n"), 0o644))

	cfg, err := loadConfig(contextWithConfigFlag(t, path))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
}

func TestOpenTiersCreatesAllFourCacheDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := svcconfig.Default()
	cfg.Cache.Objects.Dir = filepath.Join(dir, "objects")
	cfg.Cache.ObjectMeta.Dir = filepath.Join(dir, "object_meta")
	cfg.Cache.Symcaches.Dir = filepath.Join(dir, "symcaches")
	cfg.Cache.Cficaches.Dir = filepath.Join(dir, "cficaches")

	tt, err := openTiers(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, tt.all(), 4)

	for _, d := range []string{cfg.Cache.Objects.Dir, cfg.Cache.ObjectMeta.Dir, cfg.Cache.Symcaches.Dir, cfg.Cache.Cficaches.Dir} {
		assert.DirExists(t, d)
	}
}

func TestCleanupCommandSucceedsOnEmptyCacheDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := svcconfig.Default()
	cfg.Cache.Objects.Dir = filepath.Join(dir, "objects")
	cfg.Cache.ObjectMeta.Dir = filepath.Join(dir, "object_meta")
	cfg.Cache.Symcaches.Dir = filepath.Join(dir, "symcaches")
	cfg.Cache.Cficaches.Dir = filepath.Join(dir, "cficaches")

	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "symbolicator.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	err = cleanupCommand(contextWithConfigFlag(t, path))
	assert.NoError(t, err)
}

func TestCleanupCommandReturnsConfigErrorExitCodeForMissingFile(t *testing.T) {
	err := cleanupCommand(contextWithConfigFlag(t, filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	exitErr, ok := err.(cli.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, exitConfigError, exitErr.ExitCode())
}
