// Package render dispatches the filled draw pools into device passes.
package render

import (
	"time"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/frame"
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/lighting"
	"github.com/gekko3d/drawpipe/rt/pool"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"
)

// Occluder issues the occlusion pass when the draw order crosses
// pool.OcclusionBoundary.
type Occluder interface {
	DoOcclusion(cam *core.Camera, depth gpu.Target, candidates []scene.GroupID, frame uint64)
}

// OccluderFunc adapts a function to Occluder.
type OccluderFunc func(cam *core.Camera, depth gpu.Target, candidates []scene.GroupID, frame uint64)

func (f OccluderFunc) DoOcclusion(cam *core.Camera, depth gpu.Target, candidates []scene.GroupID, frame uint64) {
	f(cam, depth, candidates, frame)
}

type Mode int

const (
	Forward Mode = iota
	Deferred
)

func (m Mode) String() string {
	if m == Deferred {
		return "deferred"
	}
	return "forward"
}

// Frame is everything the dispatcher needs about the current frame.
type Frame struct {
	Number     uint64
	Camera     *core.Camera
	Candidates []scene.GroupID
	// Groups and Drawables are the visible set; shadow cascades cull them
	// again against each cascade.
	Groups    []scene.GroupID
	Drawables []scene.DrawableID

	Lights      []lighting.Light
	SunDir      mgl32.Vec3
	WaterHeight float32
}

type Options struct {
	Deferred     bool
	Occlusion    bool
	ShadowDetail int
	Reflection   bool
	FXAA         bool
	DOF          bool
	Log          core.Logger
}

type Stats struct {
	Mode        Mode
	Passes      int
	Pools       int
	Faces       int
	Fullscreen  int
	Shadows     int
	Reflection  bool
	Occlusion   bool
	Downgrades  int
	FailedPass  int
	LightPasses int
}

// Dispatcher is the RenderGeom stage.
type Dispatcher struct {
	dev   gpu.Device
	store *scene.Store
	reg   *pool.Registry
	res   *frame.Resources
	occl  Occluder
	light *lighting.Composer

	opts  Options
	log   core.Logger
	warn  rate.Sometimes
	stats Stats

	cleared map[gpu.Target]bool
	casters map[*scene.Face]struct{}
}

func NewDispatcher(dev gpu.Device, store *scene.Store, reg *pool.Registry, res *frame.Resources, occl Occluder, light *lighting.Composer, opts Options) *Dispatcher {
	return &Dispatcher{
		dev:     dev,
		store:   store,
		reg:     reg,
		res:     res,
		occl:    occl,
		light:   light,
		opts:    opts,
		log:     core.OrNop(opts.Log),
		warn:    rate.Sometimes{First: 3, Interval: time.Second},
		cleared: make(map[gpu.Target]bool),
		casters: make(map[*scene.Face]struct{}),
	}
}

func (d *Dispatcher) SetOptions(o Options) {
	o.Log = d.opts.Log
	d.opts = o
}

func (d *Dispatcher) Stats() Stats { return d.stats }

// ModeFor picks deferred only when it is configured and the G-buffer and
// lighting composer exist.
func (d *Dispatcher) ModeFor() Mode {
	if d.opts.Deferred && d.res.Deferred() && d.light != nil {
		return Deferred
	}
	return Forward
}

// Render draws one frame. It never fails: a pass that cannot begin is
// skipped and a missing target turns its feature off for the frame.
func (d *Dispatcher) Render(f *Frame) Stats {
	d.stats = Stats{Mode: d.ModeFor()}
	clear(d.cleared)
	if !d.res.Allocated() {
		d.stats.Downgrades++
		d.warnf("render: no frame targets, frame %d skipped", f.Number)
		return d.stats
	}
	if d.opts.Deferred && d.stats.Mode == Forward {
		d.stats.Downgrades++
	}

	d.reg.Iterate(func(t pool.Type, pools []pool.DrawPool) bool {
		ctx := &pool.PassContext{Dev: d.dev, ViewProj: f.Camera.ViewProj()}
		for _, p := range pools {
			p.PreRender(ctx)
		}
		return true
	})

	cascades, spots := d.renderShadows(f)
	d.renderReflection(f)

	occluded := false
	occlude := func() {
		if occluded {
			return
		}
		occluded = true
		if d.opts.Occlusion && d.occl != nil {
			d.occl.DoOcclusion(f.Camera, d.res.Depth, f.Candidates, f.Number)
			d.stats.Occlusion = true
		}
	}

	if d.stats.Mode == Deferred {
		gbuf := d.res.GBuffer.Targets()
		d.drawTypes(f, func(t pool.Type) bool { return t.Deferred() }, pool.ModeGBuffer, gbuf, occlude)
		occlude()
		if err := d.light.Compose(d.res, lighting.Input{Camera: f.Camera, Lights: f.Lights, Cascade: cascades, Spots: spots}); err != nil {
			d.warnf("render: %v", err)
		}
		ls := d.light.Stats()
		d.stats.LightPasses = ls.Passes
		d.stats.Fullscreen += ls.Passes
		d.cleared[d.res.Screen] = true
		d.drawTypes(f, func(t pool.Type) bool { return !t.Deferred() && t != pool.Glow && t != pool.HUD }, pool.ModeForward, []gpu.Target{d.res.Screen}, nil)
	} else {
		d.drawTypes(f, func(t pool.Type) bool { return t != pool.Glow && t != pool.HUD }, pool.ModeForward, []gpu.Target{d.res.Screen}, occlude)
		occlude()
	}

	d.postChain(f)
	d.drawTypes(f, func(t pool.Type) bool { return t == pool.HUD }, pool.ModeForward, []gpu.Target{d.res.Screen}, nil)
	return d.stats
}

// drawTypes renders the selected pool types, in the global order, into
// color with the shared depth. boundary runs once before the first type at
// or past the occlusion boundary.
func (d *Dispatcher) drawTypes(f *Frame, want func(pool.Type) bool, mode pool.Mode, color []gpu.Target, boundary func()) {
	d.reg.Iterate(func(t pool.Type, pools []pool.DrawPool) bool {
		if !want(t) {
			return true
		}
		if boundary != nil && t >= pool.OcclusionBoundary {
			boundary()
		}
		ctx := &pool.PassContext{
			Dev:      d.dev,
			Mode:     mode,
			Color:    color,
			Depth:    d.res.Depth,
			ViewProj: f.Camera.ViewProj(),
		}
		d.drawPools(pools, ctx)
		return true
	})
}

// drawPools runs every pass of one pool type: the first pool with work
// begins and ends the pass and every pool renders into it.
func (d *Dispatcher) drawPools(pools []pool.DrawPool, ctx *pool.PassContext) {
	var active []pool.DrawPool
	for _, p := range pools {
		if len(p.Pending()) > 0 {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return
	}
	key := ctx.Depth
	if len(ctx.Color) > 0 {
		key = ctx.Color[0]
	}
	lead := active[0]
	for pass := 0; pass < lead.NumPasses(); pass++ {
		ctx.Load = d.loadFor(key)
		if err := lead.BeginPass(pass, ctx); err != nil {
			d.stats.FailedPass++
			d.warnf("render: %s pass %d: %v", lead.Type(), pass, err)
			continue
		}
		for _, p := range active {
			p.Render(pass, ctx)
			if pass == 0 {
				d.stats.Faces += len(p.Pending())
			}
		}
		lead.EndPass(pass, ctx)
		d.stats.Passes++
	}
	d.stats.Pools += len(active)
}

func (d *Dispatcher) loadFor(t gpu.Target) gpu.LoadOp {
	if t == nil || d.cleared[t] {
		return gpu.LoadKeep
	}
	d.cleared[t] = true
	return gpu.LoadClear
}

func (d *Dispatcher) warnf(format string, args ...any) {
	d.warn.Do(func() { d.log.Warnf(format, args...) })
}
