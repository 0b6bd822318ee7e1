// Package config holds the options the pipeline consumes at frame start.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid value")

// Shadow detail levels.
const (
	ShadowsOff     = 0
	ShadowsSun     = 1
	ShadowsSunSpot = 2
)

const (
	MaxSunCascades = 4
	MaxSpotShadows = 2
)

type Config struct {
	// Recognized frame options.
	Occlusion        bool    `yaml:"occlusion"`
	ShadowDetail     int     `yaml:"shadowDetail"`
	Deferred         bool    `yaml:"deferred"`
	ReflectionDetail int     `yaml:"reflectionDetail"`
	FarClip          float32 `yaml:"farClip"`

	// Occlusion tunables.
	OcclusionRetestFrames int `yaml:"occlusionRetestFrames"`

	// LOD hysteresis as a fraction of the distance at the last switch.
	LODHysteresis float32   `yaml:"lodHysteresis"`
	LODDistances  []float32 `yaml:"lodDistances"`

	// Background rebuild time box.
	RebuildBudget      time.Duration `yaml:"rebuildBudget"`
	RebuildMaxPerFrame int           `yaml:"rebuildMaxPerFrame"`

	// Octree maintenance.
	BalanceInterval   int     `yaml:"balanceInterval"`
	OctreeMaxElements int     `yaml:"octreeMaxElements"`
	OctreeMinSize     float32 `yaml:"octreeMinSize"`

	// Render targets.
	SunCascades      int    `yaml:"sunCascades"`
	SpotShadows      int    `yaml:"spotShadows"`
	ShadowResolution uint32 `yaml:"shadowResolution"`
	GlowMips         int    `yaml:"glowMips"`
	MaxSamples       uint32 `yaml:"maxSamples"`
	MinTargetSize    uint32 `yaml:"minTargetSize"`

	// Post and lighting.
	SSAO      bool `yaml:"ssao"`
	FXAA      bool `yaml:"fxaa"`
	DOF       bool `yaml:"dof"`
	MaxLights int  `yaml:"maxLights"`

	// Debug turns invariant violations into panics.
	Debug bool `yaml:"debug"`
}

func Default() Config {
	return Config{
		Occlusion:             true,
		ShadowDetail:          ShadowsSun,
		Deferred:              true,
		ReflectionDetail:      1,
		FarClip:               256,
		OcclusionRetestFrames: 4,
		LODHysteresis:         0.1,
		LODDistances:          []float32{32, 64, 128},
		RebuildBudget:         2 * time.Millisecond,
		RebuildMaxPerFrame:    64,
		BalanceInterval:       1,
		OctreeMaxElements:     16,
		OctreeMinSize:         4,
		SunCascades:           MaxSunCascades,
		SpotShadows:           MaxSpotShadows,
		ShadowResolution:      2048,
		GlowMips:              4,
		MaxSamples:            4,
		MinTargetSize:         64,
		SSAO:                  true,
		FXAA:                  true,
		DOF:                   false,
		MaxLights:             8,
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values that cannot be clamped and clamps the rest.
func (c *Config) Validate() error {
	if c.FarClip <= 0 {
		return fmt.Errorf("%w: farClip must be positive, got %v", ErrInvalid, c.FarClip)
	}
	if c.RebuildBudget < 0 {
		return fmt.Errorf("%w: rebuildBudget must not be negative", ErrInvalid)
	}
	for i := 1; i < len(c.LODDistances); i++ {
		if c.LODDistances[i] <= c.LODDistances[i-1] {
			return fmt.Errorf("%w: lodDistances must be increasing", ErrInvalid)
		}
	}
	c.ShadowDetail = clampInt(c.ShadowDetail, ShadowsOff, ShadowsSunSpot)
	c.ReflectionDetail = clampInt(c.ReflectionDetail, 0, 3)
	c.SunCascades = clampInt(c.SunCascades, 0, MaxSunCascades)
	c.SpotShadows = clampInt(c.SpotShadows, 0, MaxSpotShadows)
	c.OcclusionRetestFrames = max(c.OcclusionRetestFrames, 1)
	c.RebuildMaxPerFrame = max(c.RebuildMaxPerFrame, 1)
	c.BalanceInterval = max(c.BalanceInterval, 1)
	c.OctreeMaxElements = max(c.OctreeMaxElements, 1)
	c.GlowMips = clampInt(c.GlowMips, 0, 8)
	c.MaxLights = max(c.MaxLights, 0)
	if c.LODHysteresis < 0 {
		c.LODHysteresis = 0
	}
	if c.OctreeMinSize <= 0 {
		c.OctreeMinSize = 1
	}
	if c.MaxSamples == 0 {
		c.MaxSamples = 1
	}
	if c.MinTargetSize == 0 {
		c.MinTargetSize = 1
	}
	return nil
}

// ShadowMapCount returns the number of shadow maps the detail level needs.
func (c *Config) ShadowMapCount() (sun, spot int) {
	switch c.ShadowDetail {
	case ShadowsSun:
		return c.SunCascades, 0
	case ShadowsSunSpot:
		return c.SunCascades, c.SpotShadows
	}
	return 0, 0
}

// ReflectionScale maps reflectionDetail to a fraction of the screen size.
func (c *Config) ReflectionScale() float32 {
	switch c.ReflectionDetail {
	case 0:
		return 0
	case 1:
		return 0.25
	case 2:
		return 0.5
	}
	return 1
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
