package partition

import (
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/scene"
)

// CullResult is the transient output of one frame's visibility walk. It is
// reset at the start of every frame and never read across frames.
type CullResult struct {
	Frame uint64

	Groups              []scene.GroupID
	Drawables           []scene.DrawableID
	AlphaGroups         []scene.GroupID
	OcclusionCandidates []scene.GroupID

	// Discarded is set when a teleport dropped the occlusion candidates.
	Discarded bool

	Stats CullStats
}

type CullStats struct {
	Visited int
	Pruned  int
	Skipped int // stale or dead handles
	Empty   int
}

func (r *CullResult) Reset(frame uint64) {
	r.Frame = frame
	r.Groups = r.Groups[:0]
	r.Drawables = r.Drawables[:0]
	r.AlphaGroups = r.AlphaGroups[:0]
	r.OcclusionCandidates = r.OcclusionCandidates[:0]
	r.Discarded = false
	r.Stats = CullStats{}
}

// DiscardOcclusion drops every occlusion candidate gathered so far.
func (r *CullResult) DiscardOcclusion() {
	r.OcclusionCandidates = r.OcclusionCandidates[:0]
	r.Discarded = true
}

func (r *CullResult) Empty() bool {
	return len(r.Groups) == 0 && len(r.Drawables) == 0
}

type CullOptions struct {
	Occlusion bool
	// Cancelled is polled while walking. Once it reports true no further
	// occlusion candidates are pushed and the walk ends early.
	Cancelled func() bool
}

// Cull appends the groups (or drawables, for render-by-drawable partitions)
// of this tree that intersect the camera frustum.
func (p *Partition) Cull(cam *core.Camera, opts CullOptions, out *CullResult) {
	if p.root.IsNil() {
		return
	}
	f := cam.Frustum()
	occl := opts.Occlusion && p.Type.Occludable()
	w := walker{p: p, f: &f, out: out, occl: occl, cancelled: opts.Cancelled}
	w.visit(p.root, false)
	if w.aborted {
		out.DiscardOcclusion()
	}
}

type walker struct {
	p         *Partition
	f         *core.Frustum
	out       *CullResult
	occl      bool
	cancelled func() bool
	aborted   bool
}

func (w *walker) visit(gid scene.GroupID, inside bool) {
	if w.aborted {
		return
	}
	if w.cancelled != nil && w.cancelled() {
		w.aborted = true
		return
	}
	store := w.p.store
	g := store.Group(gid)
	if g == nil {
		w.out.Stats.Skipped++
		return
	}
	w.out.Stats.Visited++
	if g.Bounds.IsEmpty() {
		w.out.Stats.Empty++
		return
	}
	if !inside {
		switch w.f.ClassifyAABB(g.Bounds) {
		case core.Outside:
			w.out.Stats.Pruned++
			return
		case core.Inside:
			inside = true
		}
	}

	// An occluded node hides its whole subtree; only it is re-queried.
	if w.occl && g.Occlusion == scene.Occluded {
		w.out.OcclusionCandidates = append(w.out.OcclusionCandidates, gid)
		return
	}

	if len(g.Members) == 0 {
		w.out.Stats.Empty++
	} else if inside || w.f.AABBInFrustum(g.ObjectBounds) {
		if w.p.Type.RenderByDrawable() {
			w.pushDrawables(g, inside)
		} else {
			w.out.Groups = append(w.out.Groups, gid)
			if g.HasAlpha {
				w.out.AlphaGroups = append(w.out.AlphaGroups, gid)
			}
		}
		if w.occl {
			w.out.OcclusionCandidates = append(w.out.OcclusionCandidates, gid)
		}
	}

	children := g.Children
	for _, c := range children {
		if !c.IsNil() {
			w.visit(c, inside)
		}
	}
}

func (w *walker) pushDrawables(g *scene.SpatialGroup, inside bool) {
	for _, id := range g.Members {
		d := w.p.store.Drawable(id)
		if d == nil {
			w.out.Stats.Skipped++
			continue
		}
		if d.State.Has(scene.ForceInvisible) {
			continue
		}
		if inside || w.f.AABBInFrustum(d.Bounds) {
			w.out.Drawables = append(w.out.Drawables, id)
		}
	}
}
