// Package frame owns the render targets of one pipeline and shrinks them
// until they fit on the device.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu"

	"golang.org/x/time/rate"
)

// ErrMinimumSize is reported when the screen targets do not fit even at the
// minimum size with one sample.
var ErrMinimumSize = errors.New("frame: targets do not fit at minimum size")

const minShadowResolution = 256

// Settings are the target options taken from the frame configuration.
type Settings struct {
	Deferred         bool
	SunCascades      int
	SpotShadows      int
	ShadowResolution int
	ReflectionScale  float32
	GlowMips         int
	MinTargetSize    int
	MaxSamples       int
}

// Sizes reports the effective sizes after fallback.
type Sizes struct {
	Width, Height int
	Samples       int
	Shadow        int
	Reflection    [2]int
	Downgrades    int
}

// GBuffer holds the deferred attachments.
type GBuffer struct {
	Albedo   gpu.Target
	Normal   gpu.Target
	Emissive gpu.Target
}

func (g *GBuffer) Targets() []gpu.Target {
	if g.Albedo == nil {
		return nil
	}
	return []gpu.Target{g.Albedo, g.Normal, g.Emissive}
}

// set is a group of targets created and released together. Targets that
// share a depth attachment live in the same set.
type set struct {
	name    string
	targets []gpu.Target
}

// Resources is the FrameResource manager.
type Resources struct {
	dev      gpu.Device
	log      core.Logger
	warn     rate.Sometimes
	settings Settings

	Screen  gpu.Target
	Depth   gpu.Target
	GBuffer GBuffer
	Light   gpu.Target
	Post    gpu.Target

	SunShadow  gpu.Target // array target, one layer per cascade
	SpotShadow []gpu.Target

	Reflection      gpu.Target
	Refraction      gpu.Target
	ReflectionDepth gpu.Target

	Glow gpu.Target

	// sets in creation order; released back to front.
	sets  []set
	sizes Sizes
	err   error
}

func New(dev gpu.Device, settings Settings, log core.Logger) *Resources {
	return &Resources{
		dev:      dev,
		log:      core.OrNop(log),
		warn:     rate.Sometimes{First: 4, Interval: 5 * time.Second},
		settings: settings,
	}
}

// SetSettings takes effect on the next Allocate.
func (r *Resources) SetSettings(s Settings) { r.settings = s }

func (r *Resources) Settings() Settings { return r.settings }

// Sizes returns the effective sizes of the current allocation.
func (r *Resources) Sizes() Sizes { return r.sizes }

// Err returns why the last Allocate failed, if it did.
func (r *Resources) Err() error { return r.err }

// Allocated reports whether screen targets exist.
func (r *Resources) Allocated() bool { return r.Screen != nil }

// Deferred reports whether the G-buffer was allocated.
func (r *Resources) Deferred() bool { return r.GBuffer.Albedo != nil && r.Light != nil }

func (r *Resources) HasShadows() bool { return r.SunShadow != nil || len(r.SpotShadow) > 0 }

func (r *Resources) HasReflection() bool { return r.Reflection != nil }

func (r *Resources) HasGlow() bool { return r.Glow != nil }

// Allocate (re)creates every target for a width x height screen. When the
// screen targets do not fit, samples are halved down to one and then the
// resolution is halved down to the minimum target size. Optional targets
// (shadows, reflection, glow) that do not fit are left out for the frame.
// It returns false only when nothing fits.
func (r *Resources) Allocate(width, height, samples int) bool {
	r.ReleaseAll()
	r.err = nil
	s := r.settings
	minSize := max(s.MinTargetSize, 1)
	if s.MaxSamples > 0 {
		samples = min(samples, s.MaxSamples)
	}
	if caps := r.dev.Caps(); caps.MaxSamples > 0 {
		samples = min(samples, caps.MaxSamples)
	}
	samples = max(samples, 1)

	w, h := width, height
	downgrades := 0
	for {
		err := r.allocScreen(w, h, samples)
		if err == nil {
			break
		}
		r.releaseSets()
		switch {
		case samples > 1:
			r.log.Warnf("frame: %dx%d x%d does not fit (%v), halving samples", w, h, samples, err)
			samples /= 2
		case w/2 >= minSize && h/2 >= minSize:
			r.log.Warnf("frame: %dx%d does not fit (%v), halving resolution", w, h, err)
			w, h = w/2, h/2
		default:
			r.err = fmt.Errorf("%w: %dx%d: %w", ErrMinimumSize, w, h, err)
			r.log.Errorf("frame: %v", r.err)
			r.sizes = Sizes{}
			return false
		}
		downgrades++
	}
	r.sizes = Sizes{Width: w, Height: h, Samples: samples, Downgrades: downgrades}

	r.allocShadows()
	r.allocReflection(w, h)
	r.allocGlow(w, h)
	return true
}

// allocScreen creates the screen set: color, the shared depth and, when
// deferred, the G-buffer plus light accumulation. The set is registered only
// when every target fits.
func (r *Resources) allocScreen(w, h, samples int) error {
	var created []gpu.Target
	fail := func(err error) error {
		for _, t := range created {
			r.dev.ReleaseTarget(t)
		}
		r.Screen, r.Depth, r.Light, r.Post = nil, nil, nil, nil
		r.GBuffer = GBuffer{}
		return err
	}
	mk := func(name string, f gpu.Format, n int) (gpu.Target, error) {
		t, err := r.dev.CreateTarget(gpu.TargetDesc{Name: name, Width: w, Height: h, Samples: n, Format: f, Mips: 1, Layers: 1})
		if err != nil {
			return nil, err
		}
		created = append(created, t)
		return t, nil
	}

	var err error
	if r.Screen, err = mk("screen", gpu.FormatRGBA8, samples); err != nil {
		return fail(err)
	}
	if r.Depth, err = mk("depth", gpu.FormatDepth32F, samples); err != nil {
		return fail(err)
	}
	if r.settings.Deferred && r.dev.Caps().Deferred {
		if r.GBuffer.Albedo, err = mk("gbuffer.albedo", gpu.FormatRGBA8, samples); err != nil {
			return fail(err)
		}
		if r.GBuffer.Normal, err = mk("gbuffer.normal", gpu.FormatRGBA16F, samples); err != nil {
			return fail(err)
		}
		if r.GBuffer.Emissive, err = mk("gbuffer.emissive", gpu.FormatRGBA8, samples); err != nil {
			return fail(err)
		}
		if r.Light, err = mk("light", gpu.FormatRGBA16F, 1); err != nil {
			return fail(err)
		}
	}
	r.sets = append(r.sets, set{name: "screen", targets: created})

	// The post target only feeds DOF and FXAA; without it the chain is skipped.
	post, err := r.dev.CreateTarget(gpu.TargetDesc{Name: "post", Width: w, Height: h, Samples: 1, Format: gpu.FormatRGBA8, Mips: 1, Layers: 1})
	if err != nil {
		r.warnf("frame: post target dropped: %v", err)
		return nil
	}
	r.Post = post
	r.sets = append(r.sets, set{name: "post", targets: []gpu.Target{post}})
	return nil
}

func (r *Resources) allocShadows() {
	s := r.settings
	if s.SunCascades <= 0 && s.SpotShadows <= 0 {
		return
	}
	for res := s.ShadowResolution; res >= minShadowResolution; res /= 2 {
		var created []gpu.Target
		var sun gpu.Target
		var spots []gpu.Target
		var err error
		if s.SunCascades > 0 {
			sun, err = r.dev.CreateTarget(gpu.TargetDesc{Name: "shadow.sun", Width: res, Height: res, Samples: 1, Format: gpu.FormatDepth32F, Mips: 1, Layers: s.SunCascades})
			if err == nil {
				created = append(created, sun)
			}
		}
		for i := 0; err == nil && i < s.SpotShadows; i++ {
			var t gpu.Target
			t, err = r.dev.CreateTarget(gpu.TargetDesc{Name: fmt.Sprintf("shadow.spot%d", i), Width: res, Height: res, Samples: 1, Format: gpu.FormatDepth32F, Mips: 1, Layers: 1})
			if err == nil {
				created = append(created, t)
				spots = append(spots, t)
			}
		}
		if err == nil {
			r.SunShadow, r.SpotShadow = sun, spots
			r.sets = append(r.sets, set{name: "shadow", targets: created})
			r.sizes.Shadow = res
			return
		}
		for _, t := range created {
			r.dev.ReleaseTarget(t)
		}
		r.sizes.Downgrades++
		r.warnf("frame: %dpx shadow maps do not fit: %v", res, err)
	}
	r.warnf("frame: shadows disabled")
}

// allocReflection creates the water targets. Reflection and its depth are
// one set; refraction reuses that depth.
func (r *Resources) allocReflection(w, h int) {
	scale := r.settings.ReflectionScale
	if scale <= 0 {
		return
	}
	rw, rh := max(int(float32(w)*scale), 1), max(int(float32(h)*scale), 1)
	var created []gpu.Target
	names := []struct {
		name string
		f    gpu.Format
		dst  *gpu.Target
	}{
		{"reflection", gpu.FormatRGBA8, &r.Reflection},
		{"refraction", gpu.FormatRGBA8, &r.Refraction},
		{"reflection.depth", gpu.FormatDepth32F, &r.ReflectionDepth},
	}
	for _, n := range names {
		t, err := r.dev.CreateTarget(gpu.TargetDesc{Name: n.name, Width: rw, Height: rh, Samples: 1, Format: n.f, Mips: 1, Layers: 1})
		if err != nil {
			for _, c := range created {
				r.dev.ReleaseTarget(c)
			}
			r.Reflection, r.Refraction, r.ReflectionDepth = nil, nil, nil
			r.sizes.Downgrades++
			r.warnf("frame: reflection dropped: %v", err)
			return
		}
		*n.dst = t
		created = append(created, t)
	}
	r.sets = append(r.sets, set{name: "reflection", targets: created})
	r.sizes.Reflection = [2]int{rw, rh}
}

func (r *Resources) allocGlow(w, h int) {
	mips := r.settings.GlowMips
	if mips <= 0 {
		return
	}
	t, err := r.dev.CreateTarget(gpu.TargetDesc{Name: "glow", Width: max(w/2, 1), Height: max(h/2, 1), Samples: 1, Format: gpu.FormatRGBA8, Mips: mips, Layers: 1})
	if err != nil {
		r.sizes.Downgrades++
		r.warnf("frame: glow dropped: %v", err)
		return
	}
	r.Glow = t
	r.sets = append(r.sets, set{name: "glow", targets: []gpu.Target{t}})
}

func (r *Resources) warnf(format string, args ...any) {
	r.warn.Do(func() { r.log.Warnf(format, args...) })
}

// Release frees every target in reverse dependency order. Targets of one
// set are released together.
func (r *Resources) Release() {
	r.releaseSets()
}

// ReleaseAll frees everything and forgets the effective sizes. Used on
// resize and on device loss.
func (r *Resources) ReleaseAll() {
	r.releaseSets()
	r.sizes = Sizes{}
}

func (r *Resources) releaseSets() {
	for i := len(r.sets) - 1; i >= 0; i-- {
		for _, t := range r.sets[i].targets {
			r.dev.ReleaseTarget(t)
		}
	}
	clear(r.sets)
	r.sets = r.sets[:0]
	r.Screen, r.Depth, r.Light, r.Post, r.Glow = nil, nil, nil, nil, nil
	r.GBuffer = GBuffer{}
	r.SunShadow, r.SpotShadow = nil, nil
	r.Reflection, r.Refraction, r.ReflectionDepth = nil, nil, nil
}

// SetNames lists the live sets in release order, for diagnostics.
func (r *Resources) SetNames() []string {
	out := make([]string, 0, len(r.sets))
	for i := len(r.sets) - 1; i >= 0; i-- {
		out = append(out, r.sets[i].name)
	}
	return out
}
