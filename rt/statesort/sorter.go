// Package statesort turns a frame's cull result into per-pool draw lists.
package statesort

import (
	"slices"
	"time"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/partition"
	"github.com/gekko3d/drawpipe/rt/pool"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
)

// OcclusionChecker is consulted again right before a group is drawn.
type OcclusionChecker interface {
	IsOccluded(gid scene.GroupID) bool
}

// Builder builds the GPU geometry of a drawable. It reports false when the
// drawable cannot be built yet.
type Builder interface {
	Build(d *scene.Drawable) bool
}

type BuilderFunc func(d *scene.Drawable) bool

func (f BuilderFunc) Build(d *scene.Drawable) bool { return f(d) }

type Stats struct {
	Groups     int
	Drawables  int
	Faces      int
	NotReady   int
	Unbuilt    int
	Occluded   int
	Stale      int
	Alpha      int
	LODChanges int
	Rebuild    RunStats
}

// AlphaEntry is one blended group (or drawable) in back-to-front order.
type AlphaEntry struct {
	Group    scene.GroupID
	Drawable scene.DrawableID
	Distance float32
	faces    []*scene.Face
}

// FaceInfo is a copy of a highlighted face for the debug overlay.
type FaceInfo struct {
	Drawable scene.DrawableID
	Center   mgl32.Vec3
	Distance float32
	Pool     pool.Type
}

type Sorter struct {
	store   *scene.Store
	reg     *pool.Registry
	occl    OcclusionChecker
	builder Builder
	sched   *IncrementalRebuildScheduler
	log     core.Logger
	strict  bool

	lod LODPolicy

	visible     []scene.GroupID
	drawables   []scene.DrawableID
	alpha       []AlphaEntry
	highlighted []FaceInfo
	stats       Stats
}

type Options struct {
	LOD                LODPolicy
	RebuildBudget      time.Duration
	RebuildMaxPerFrame int
	Strict             bool
	Log                core.Logger
}

func NewSorter(store *scene.Store, reg *pool.Registry, occl OcclusionChecker, builder Builder, opts Options) *Sorter {
	s := &Sorter{
		store:   store,
		reg:     reg,
		occl:    occl,
		builder: builder,
		log:     core.OrNop(opts.Log),
		strict:  opts.Strict,
		lod:     opts.LOD,
	}
	if s.builder == nil {
		s.builder = BuilderFunc(func(*scene.Drawable) bool { return true })
	}
	s.sched = NewScheduler(store, s.rebuildGroup, opts.RebuildBudget, opts.RebuildMaxPerFrame)
	return s
}

func (s *Sorter) Scheduler() *IncrementalRebuildScheduler { return s.sched }

func (s *Sorter) SetLOD(p LODPolicy) { s.lod = p }

func (s *Sorter) Stats() Stats { return s.stats }

// Visible returns the groups drawn this frame after the occlusion re-check.
func (s *Sorter) Visible() []scene.GroupID { return s.visible }

// VisibleDrawables returns the render-by-drawable entries drawn this frame.
func (s *Sorter) VisibleDrawables() []scene.DrawableID { return s.drawables }

// AlphaOrder returns this frame's blended entries, farthest first.
func (s *Sorter) AlphaOrder() []AlphaEntry { return s.alpha }

// Highlighted returns copies of highlighted faces drawn this frame.
func (s *Sorter) Highlighted() []FaceInfo { return s.highlighted }

// Process fills the pools for this frame from res.
func (s *Sorter) Process(cam *core.Camera, res *partition.CullResult) {
	frame := res.Frame
	s.stats = Stats{}
	s.reg.ResetPending()
	s.visible = s.visible[:0]
	s.drawables = s.drawables[:0]
	clear(s.alpha)
	s.alpha = s.alpha[:0]
	s.highlighted = s.highlighted[:0]

	for _, gid := range res.Groups {
		g := s.store.Group(gid)
		if g == nil {
			s.stats.Stale++
			continue
		}
		if s.occl != nil && s.occl.IsOccluded(gid) {
			s.stats.Occluded++
			continue
		}
		g.Distance = g.ObjectBounds.Center().Sub(cam.Position).Len()
		g.LastVisibleFrame = frame
		s.scheduleIfDirty(gid, g)
		s.visible = append(s.visible, gid)
	}
	for _, id := range res.Drawables {
		d := s.store.Drawable(id)
		if d == nil {
			s.stats.Stale++
			continue
		}
		g := s.store.Group(d.Group)
		if g == nil {
			s.stats.Stale++
			continue
		}
		d.Distance = d.Center().Sub(cam.Position).Len()
		g.LastVisibleFrame = frame
		s.scheduleIfDirty(d.Group, g)
		s.drawables = append(s.drawables, id)
	}

	s.stats.Rebuild = s.sched.Run()

	for _, gid := range s.visible {
		s.sortGroup(cam, gid, frame)
	}
	for _, id := range s.drawables {
		s.sortDrawable(cam, id)
	}
	s.pushAlpha()
}

func (s *Sorter) scheduleIfDirty(gid scene.GroupID, g *scene.SpatialGroup) {
	if !g.GeometryDirty || s.sched.Queued(gid) {
		return
	}
	priority := false
	var urgency float32 = 1 / (1 + g.Distance)
	for _, id := range g.Members {
		d := s.store.Drawable(id)
		if d == nil {
			continue
		}
		if !d.State.Has(scene.Built) || d.Type == scene.RenderHUD {
			priority = true
		}
		d.State |= scene.InRebuildQueue
		urgency += d.Urgency
	}
	s.sched.Enqueue(gid, urgency, priority)
}

// rebuildGroup builds the geometry of every member of gid.
func (s *Sorter) rebuildGroup(gid scene.GroupID) bool {
	g := s.store.Group(gid)
	if g == nil {
		return false
	}
	for _, id := range g.Members {
		d := s.store.Drawable(id)
		if d == nil {
			continue
		}
		d.State &^= scene.InRebuildQueue
		if s.builder.Build(d) {
			d.State |= scene.Built
		}
	}
	g.GeometryDirty = false
	g.DrawMap.Invalidate()
	return true
}

func (s *Sorter) sortGroup(cam *core.Camera, gid scene.GroupID, frame uint64) {
	g := s.store.Group(gid)
	if g == nil {
		s.stats.Stale++
		return
	}
	if err := g.DrawMap.Reset(frame); err != nil {
		core.Invariant(s.strict, s.log, "group %v: %v", gid, err)
		return
	}
	s.stats.Groups++

	var blended []*scene.Face
	for _, id := range g.Members {
		d := s.store.Drawable(id)
		if d == nil {
			s.stats.Stale++
			continue
		}
		if d.State.Has(scene.ForceInvisible) {
			continue
		}
		if !d.State.Has(scene.Built) {
			s.stats.Unbuilt++
			continue
		}
		d.Distance = d.Center().Sub(cam.Position).Len()
		s.updateLOD(d)
		blended = s.pushFaces(cam, id, d, &g.DrawMap, blended)
	}
	if len(blended) > 0 {
		s.alpha = append(s.alpha, AlphaEntry{Group: gid, Distance: g.Distance, faces: blended})
	}
}

func (s *Sorter) sortDrawable(cam *core.Camera, id scene.DrawableID) {
	d := s.store.Drawable(id)
	if d == nil {
		s.stats.Stale++
		return
	}
	if !d.State.Has(scene.Built) {
		s.stats.Unbuilt++
		return
	}
	s.stats.Drawables++
	s.updateLOD(d)
	blended := s.pushFaces(cam, id, d, nil, nil)
	if len(blended) > 0 {
		s.alpha = append(s.alpha, AlphaEntry{Group: d.Group, Drawable: id, Distance: d.Distance, faces: blended})
	}
}

// pushFaces queues ready opaque faces into their pools and returns the
// blended ones appended to blended.
func (s *Sorter) pushFaces(cam *core.Camera, id scene.DrawableID, d *scene.Drawable, dm *scene.DrawMap, blended []*scene.Face) []*scene.Face {
	center := d.Center()
	for _, f := range d.Faces {
		if !f.Ready() {
			s.stats.NotReady++
			continue
		}
		f.Distance = center.Add(f.Center).Sub(cam.Position).Len()
		typ := pool.Classify(d.Type, f.Material)
		if dm != nil {
			dm.Add(scene.PassKey(typ), scene.DrawInfo{Drawable: id, Face: f, TextureKey: f.TextureKey(), Distance: f.Distance})
		}
		if f.Highlighted {
			s.highlighted = append(s.highlighted, FaceInfo{Drawable: id, Center: center.Add(f.Center), Distance: f.Distance, Pool: typ})
		}
		s.stats.Faces++
		if typ == pool.Alpha {
			blended = append(blended, f)
			continue
		}
		s.reg.GetOrCreate(typ, f.TextureKey()).AddFace(f)
		if pool.WantsGlow(f.Material) {
			s.reg.GetOrCreate(pool.Glow, 0).Queue(f)
		}
	}
	return blended
}

func (s *Sorter) updateLOD(d *scene.Drawable) {
	if len(s.lod.Distances) == 0 {
		return
	}
	if d.LOD >= 0 && !s.lod.NeedsUpdate(d.LODDistance, d.Distance) {
		return
	}
	d.LODDistance = d.Distance
	next := s.lod.Select(d.LOD, d.Distance)
	if next != d.LOD && d.LOD >= 0 {
		s.stats.LODChanges++
	}
	d.LOD = next
}

// pushAlpha sorts blended entries back to front with this frame's
// distances and queues their faces into the alpha pool in that order.
func (s *Sorter) pushAlpha() {
	if len(s.alpha) == 0 {
		return
	}
	slices.SortStableFunc(s.alpha, func(a, b AlphaEntry) int {
		switch {
		case a.Distance > b.Distance:
			return -1
		case a.Distance < b.Distance:
			return 1
		}
		return 0
	})
	p := s.reg.GetOrCreate(pool.Alpha, 0)
	for _, e := range s.alpha {
		slices.SortStableFunc(e.faces, func(a, b *scene.Face) int {
			switch {
			case a.Distance > b.Distance:
				return -1
			case a.Distance < b.Distance:
				return 1
			}
			return 0
		})
		for _, f := range e.faces {
			p.AddFace(f)
		}
	}
	s.stats.Alpha = len(s.alpha)
}
