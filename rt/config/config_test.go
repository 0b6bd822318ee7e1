package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
occlusion: false
shadowDetail: 2
deferred: false
reflectionDetail: 3
farClip: 512
rebuildBudget: 500us
`))
	require.NoError(t, err)

	assert.False(t, cfg.Occlusion)
	assert.Equal(t, ShadowsSunSpot, cfg.ShadowDetail)
	assert.False(t, cfg.Deferred)
	assert.Equal(t, 3, cfg.ReflectionDetail)
	assert.Equal(t, float32(512), cfg.FarClip)
	assert.Equal(t, 500*time.Microsecond, cfg.RebuildBudget)
	// Untouched keys keep defaults
	assert.Equal(t, Default().OcclusionRetestFrames, cfg.OcclusionRetestFrames)
}

func TestValidateClamps(t *testing.T) {
	cfg := Default()
	cfg.ShadowDetail = 7
	cfg.SunCascades = 9
	cfg.SpotShadows = -1
	cfg.OcclusionRetestFrames = 0
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ShadowsSunSpot, cfg.ShadowDetail)
	assert.Equal(t, MaxSunCascades, cfg.SunCascades)
	assert.Equal(t, 0, cfg.SpotShadows)
	assert.Equal(t, 1, cfg.OcclusionRetestFrames)
}

func TestValidateRejects(t *testing.T) {
	_, err := Parse([]byte("farClip: -1\n"))
	assert.True(t, errors.Is(err, ErrInvalid))

	_, err = Parse([]byte("lodDistances: [10, 5]\n"))
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestShadowMapCount(t *testing.T) {
	cfg := Default()
	cfg.ShadowDetail = ShadowsOff
	sun, spot := cfg.ShadowMapCount()
	assert.Equal(t, 0, sun+spot)

	cfg.ShadowDetail = ShadowsSun
	sun, spot = cfg.ShadowMapCount()
	assert.Equal(t, 4, sun)
	assert.Equal(t, 0, spot)

	cfg.ShadowDetail = ShadowsSunSpot
	sun, spot = cfg.ShadowMapCount()
	assert.Equal(t, 4, sun)
	assert.Equal(t, 2, spot)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("farClip: 64\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, float32(64), cfg.FarClip)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
