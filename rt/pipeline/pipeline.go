// Package pipeline wires the render stages into one explicit context.
// Every pipeline owns its own state, so several can run side by side (a
// main view and a thumbnail snapshot, say) without sharing anything.
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gekko3d/drawpipe/rt/config"
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/frame"
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/lighting"
	"github.com/gekko3d/drawpipe/rt/occlusion"
	"github.com/gekko3d/drawpipe/rt/partition"
	"github.com/gekko3d/drawpipe/rt/pool"
	"github.com/gekko3d/drawpipe/rt/profiler"
	"github.com/gekko3d/drawpipe/rt/render"
	"github.com/gekko3d/drawpipe/rt/scene"
	"github.com/gekko3d/drawpipe/rt/statesort"
	"github.com/gekko3d/drawpipe/rt/stream"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var ErrNoDevice = errors.New("pipeline: no device")

// Stage names used for profiling, in execution order.
const (
	StagePrelude   = "prelude"
	StageCull      = "cull"
	StageStateSort = "statesort"
	StageRender    = "render"
	StagePost      = "post"
)

// MeshObject is implemented by scene objects whose geometry is streamed.
// Their drawables build only once the mesh is resident.
type MeshObject interface {
	MeshKey() uint64
}

type Options struct {
	Log         core.Logger
	WorldBounds core.AABB
	// Builder overrides geometry building. The default waits for streamed
	// meshes of MeshObject drawables and builds everything else at once.
	Builder statesort.Builder
}

type Stats struct {
	Frame      uint64
	Cull       partition.CullStats
	Groups     int
	Drawables  int
	Candidates int
	Teleported bool
	Occlusion  occlusion.Stats
	Sort       statesort.Stats
	Render     render.Stats
	Lighting   lighting.Stats
	Stream     stream.Stats
	Swept      int
	Elapsed    time.Duration
}

type Pipeline struct {
	ID uuid.UUID

	cfg     config.Config
	next    atomic.Pointer[config.Config]
	dev     gpu.Device
	log     core.Logger
	warn    rate.Sometimes
	bounds  core.AABB
	partOpt partition.Options

	store   *scene.Store
	regions []*partition.Region
	occl    *occlusion.Engine
	reg     *pool.Registry
	sorter  *statesort.Sorter
	res     *frame.Resources
	light   *lighting.Composer
	disp    *render.Dispatcher
	streams *stream.Manager
	prof    *profiler.Profiler

	cull     partition.CullResult
	frame    uint64
	teleport atomic.Bool
	cam      *core.Camera
	cur      Stats

	lights      []lighting.Light
	sunDir      mgl32.Vec3
	waterHeight float32

	width, height, samples int
	realloc                bool

	// drawables whose build waits on a streamed mesh, by mesh key
	waiting map[uint64][]scene.DrawableID

	stats Stats
}

// New builds a pipeline for dev. cfg is validated and clamped.
func New(dev gpu.Device, cfg config.Config, opts Options) (*Pipeline, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p := &Pipeline{
		ID:      uuid.New(),
		cfg:     cfg,
		dev:     dev,
		log:     core.OrNop(opts.Log),
		warn:    rate.Sometimes{First: 3, Interval: 5 * time.Second},
		bounds:  opts.WorldBounds,
		store:   scene.NewStore(),
		streams: stream.NewManager(opts.Log),
		prof:    profiler.New(),
		sunDir:  mgl32.Vec3{-0.3, -0.2, -1},
		waiting: make(map[uint64][]scene.DrawableID),
	}
	if p.bounds.IsEmpty() {
		p.bounds = core.AABBFromCenter(mgl32.Vec3{}, mgl32.Vec3{4096, 4096, 4096})
	}
	p.partOpt = partitionOptions(cfg)

	caps := dev.Caps()
	p.occl = occlusion.New(p.store, dev, caps.OcclusionQuery, cfg.OcclusionRetestFrames, p.log)
	p.reg = pool.NewRegistry(cfg.Debug, p.log)

	builder := opts.Builder
	if builder == nil {
		builder = statesort.BuilderFunc(p.buildStreamed)
	}
	p.sorter = statesort.NewSorter(p.store, p.reg, p.occl, builder, statesort.Options{
		LOD:                lodPolicy(cfg),
		RebuildBudget:      cfg.RebuildBudget,
		RebuildMaxPerFrame: cfg.RebuildMaxPerFrame,
		Strict:             cfg.Debug,
		Log:                p.log,
	})
	p.res = frame.New(dev, frameSettings(cfg), p.log)
	p.light = lighting.NewComposer(dev, lightingSettings(cfg), p.log)
	p.disp = render.NewDispatcher(dev, p.store, p.reg, p.res, p.occl, p.light, p.renderOptions(cfg))

	p.AddRegion(p.bounds)
	return p, nil
}

func (p *Pipeline) Store() *scene.Store             { return p.store }
func (p *Pipeline) Registry() *pool.Registry        { return p.reg }
func (p *Pipeline) Resources() *frame.Resources     { return p.res }
func (p *Pipeline) Streams() *stream.Manager        { return p.streams }
func (p *Pipeline) Profiler() *profiler.Profiler    { return p.prof }
func (p *Pipeline) Occlusion() *occlusion.Engine    { return p.occl }
func (p *Pipeline) Sorter() *statesort.Sorter       { return p.sorter }
func (p *Pipeline) Regions() []*partition.Region    { return p.regions }
func (p *Pipeline) Config() config.Config           { return p.cfg }
func (p *Pipeline) Frame() uint64                   { return p.frame }
func (p *Pipeline) Stats() Stats                    { return p.stats }
func (p *Pipeline) LastCull() *partition.CullResult { return &p.cull }

// AddRegion adds a region with its own partitions.
func (p *Pipeline) AddRegion(bounds core.AABB) *partition.Region {
	r := partition.NewRegion(p.store, len(p.regions), bounds, p.partOpt)
	p.regions = append(p.regions, r)
	return r
}

// SetConfig replaces the configuration from the start of the next frame.
// Safe to call from any goroutine.
func (p *Pipeline) SetConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.next.Store(&cfg)
	return nil
}

// Resize requests new frame targets before the next frame.
func (p *Pipeline) Resize(width, height, samples int) {
	p.width, p.height, p.samples = width, height, samples
	p.realloc = true
}

// SetLights replaces the light list used by lighting and shadows.
func (p *Pipeline) SetLights(lights []lighting.Light, sunDir mgl32.Vec3) {
	p.lights = append(p.lights[:0], lights...)
	if sunDir.Len() > 0 {
		p.sunDir = sunDir
	}
}

func (p *Pipeline) SetWaterHeight(z float32) { p.waterHeight = z }

// RequestTeleport discards occlusion state and this frame's partial cull.
// Safe to call from any goroutine, including during a frame.
func (p *Pipeline) RequestTeleport() { p.teleport.Store(true) }

// AddObject creates a drawable for obj and inserts it into the region
// holding its center.
func (p *Pipeline) AddObject(obj scene.SceneObject, faces ...*scene.Face) (scene.DrawableID, error) {
	if obj == nil {
		return scene.DrawableID{}, errors.New("pipeline: nil scene object")
	}
	id := p.store.AddDrawable(scene.NewDrawable(obj, faces...))
	d := p.store.Drawable(id)
	if mo, ok := obj.(MeshObject); ok {
		p.streams.Request(p.streams.Mesh(mo.MeshKey()))
		p.wait(id, mo.MeshKey())
	}
	if !p.regionFor(d.Center()).Insert(id) {
		p.store.DestroyDrawable(id)
		return scene.DrawableID{}, fmt.Errorf("pipeline: insert %s drawable failed", d.Type)
	}
	return id, nil
}

// RemoveObject removes and destroys a drawable. Removing twice is a no-op.
func (p *Pipeline) RemoveObject(id scene.DrawableID) {
	for _, r := range p.regions {
		if r.Remove(id) {
			break
		}
	}
	p.store.DestroyDrawable(id)
}

// MoveObject refreshes the bounds of id from its scene object. The octree
// update is deferred to the next balance.
func (p *Pipeline) MoveObject(id scene.DrawableID) {
	d := p.store.Drawable(id)
	if d == nil || !d.UpdateBounds() {
		return
	}
	g := p.store.Group(d.Group)
	to := p.regionFor(d.Center())
	if g != nil && g.Region == to.ID {
		to.Move(id)
		return
	}
	for _, r := range p.regions {
		if r.Remove(id) {
			break
		}
	}
	to.Insert(id)
}

func (p *Pipeline) regionFor(pt mgl32.Vec3) *partition.Region {
	for _, r := range p.regions {
		if r.Bounds.ContainsPoint(pt) {
			return r
		}
	}
	return p.regions[0]
}

func (p *Pipeline) buildStreamed(d *scene.Drawable) bool {
	mo, ok := d.Object.(MeshObject)
	if !ok {
		return true
	}
	mesh := p.streams.Mesh(mo.MeshKey())
	if mesh.Ready() {
		return true
	}
	p.streams.Request(mesh)
	return false
}

// wait records id as blocked on its mesh.
func (p *Pipeline) wait(id scene.DrawableID, key uint64) {
	p.waiting[key] = append(p.waiting[key], id)
}

// wakeStreamed marks the groups of drawables whose mesh arrived for rebuild
// and asks again for meshes whose fetch failed.
func (p *Pipeline) wakeStreamed() {
	for key, ids := range p.waiting {
		if mesh := p.streams.Mesh(key); !mesh.Ready() {
			p.streams.Request(mesh)
			continue
		}
		for _, id := range ids {
			d := p.store.Drawable(id)
			if d == nil {
				continue
			}
			if g := p.store.Group(d.Group); g != nil {
				g.MarkDirty()
			}
		}
		delete(p.waiting, key)
	}
}
