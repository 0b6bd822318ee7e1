package lighting

import (
	"errors"
	"fmt"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/frame"
	"github.com/gekko3d/drawpipe/rt/gpu"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrNoGBuffer = errors.New("lighting: no g-buffer")

type Settings struct {
	MaxLights    int
	SSAO         bool
	Atmospherics bool
	// FogDensity and FogColor drive the atmospherics pass.
	FogDensity float32
	FogColor   mgl32.Vec3
	Ambient    mgl32.Vec3
}

type Stats struct {
	Lights  int
	Culled  int
	Passes  int
	Skipped int
}

// Composer runs the deferred lighting passes of one frame.
type Composer struct {
	dev      gpu.Device
	log      core.Logger
	settings Settings
	stats    Stats
}

func NewComposer(dev gpu.Device, settings Settings, log core.Logger) *Composer {
	return &Composer{dev: dev, settings: settings, log: core.OrNop(log)}
}

func (c *Composer) SetSettings(s Settings) { c.settings = s }

func (c *Composer) Stats() Stats { return c.stats }

// Input is what the composite reads besides the G-buffer.
type Input struct {
	Camera  *core.Camera
	Lights  []Light
	Cascade []ShadowView // rendered sun cascades, may be empty
	Spots   []ShadowView
}

// Compose accumulates lighting into res.Light and resolves it into
// res.Screen. Each pass that fails is skipped; Compose returns the first
// error for logging only.
func (c *Composer) Compose(res *frame.Resources, in Input) error {
	c.stats = Stats{}
	if !res.Deferred() {
		return ErrNoGBuffer
	}
	lights := CullLights(in.Camera, in.Lights, c.settings.MaxLights)
	c.stats.Lights = len(lights)
	c.stats.Culled = len(in.Lights) - len(lights)

	gbuf := append(res.GBuffer.Targets(), res.Depth)
	var first error
	run := func(desc gpu.FullscreenDesc) {
		if err := c.dev.Fullscreen(desc); err != nil {
			c.stats.Skipped++
			if first == nil {
				first = fmt.Errorf("lighting: %s: %w", desc.Name, err)
			}
			return
		}
		c.stats.Passes++
	}

	amb := c.settings.Ambient
	run(gpu.FullscreenDesc{Name: "ambient", Inputs: gbuf, Output: res.Light, Params: []float32{amb[0], amb[1], amb[2], 1}})
	if c.settings.SSAO {
		run(gpu.FullscreenDesc{Name: "ssao", Inputs: []gpu.Target{res.GBuffer.Normal, res.Depth}, Output: res.Light})
	}

	spot := 0
	for i := range lights {
		l := &lights[i]
		if l.Kind == KindAmbient {
			continue
		}
		inputs := gbuf
		params := l.Params()
		switch {
		case l.Kind == KindSun && l.Shadows && len(in.Cascade) > 0 && res.SunShadow != nil:
			inputs = append(append([]gpu.Target(nil), gbuf...), res.SunShadow)
			for _, cv := range in.Cascade {
				params = append(params, cv.ViewProj[:]...)
				params = append(params, cv.Far)
			}
		case l.Kind == KindSpot && l.Shadows && spot < len(in.Spots) && spot < len(res.SpotShadow):
			inputs = append(append([]gpu.Target(nil), gbuf...), res.SpotShadow[spot])
			params = append(params, in.Spots[spot].ViewProj[:]...)
			spot++
		}
		run(gpu.FullscreenDesc{Name: "light." + l.Kind.String(), Inputs: inputs, Output: res.Light, Params: params})
	}

	if c.settings.Atmospherics {
		fc := c.settings.FogColor
		run(gpu.FullscreenDesc{
			Name:   "atmospherics",
			Inputs: []gpu.Target{res.Depth},
			Output: res.Light,
			Params: []float32{fc[0], fc[1], fc[2], c.settings.FogDensity, in.Camera.Near, in.Camera.Far},
		})
	}
	run(gpu.FullscreenDesc{Name: "composite", Inputs: []gpu.Target{res.Light, res.GBuffer.Emissive}, Output: res.Screen})
	return first
}
