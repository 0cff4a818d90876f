package svcconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashsymbol/symbolicator/internal/objectid"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

func TestDefaultHasSaneFallbacks(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 128, cfg.Pool.IOConcurrency)
	assert.Equal(t, int64(90), cfg.Registry.RetentionS)
	assert.Empty(t, cfg.Sources)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbolicator.toml")
	doc := `
listen = "0.0.0.0:4000"

[pool]
io_concurrency = 64

[[sources]]
id = "local"
kind = "filesystem"
layout = "native"
path = "/srv/symbols"
file_types = ["pdb", "pe"]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4000", cfg.Listen)
	assert.Equal(t, 64, cfg.Pool.IOConcurrency)
	assert.Equal(t, int64(90), cfg.Registry.RetentionS, "unset fields keep Default()'s value")

	sources, err := cfg.SourceConfigs()
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, sourceconfig.KindFilesystem, sources[0].Kind)
	assert.True(t, sources[0].Files.Filters.FileTypes.Allows(objectid.FileTypePDB))
	assert.False(t, sources[0].Files.Filters.FileTypes.Allows(objectid.FileTypeElfDbg))
}

func TestLoadMissingFileReturnsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestSourceConfigsRejectsUnknownFileType(t *testing.T) {
	cfg := Default()
	cfg.Sources = []Source{{ID: "bad", Kind: "filesystem", FileTypes: []string{"not_a_real_type"}}}

	_, err := cfg.SourceConfigs()
	assert.Error(t, err)
}

func TestTierToCacheConfigConvertsSecondsToDurations(t *testing.T) {
	tier := Tier{MaxTotalBytes: 100, MaxItemBytes: 10, PositiveTTLS: 60, NegativeTTLS: 5, MaxItemAgeS: 3600}
	cc := tier.ToCacheConfig()
	assert.Equal(t, int64(100), cc.MaxTotalBytes)
	assert.Equal(t, int64(10), cc.MaxItemBytes)
	assert.Equal(t, int64(60), int64(cc.PositiveTTL.Seconds()))
	assert.Equal(t, int64(5), int64(cc.NegativeTTL.Seconds()))
	assert.Equal(t, int64(3600), int64(cc.MaxItemAge.Seconds()))
}
