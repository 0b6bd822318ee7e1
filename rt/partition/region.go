package partition

import (
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/scene"
)

// Region holds one partition per partition type.
type Region struct {
	ID     int
	Bounds core.AABB

	store *scene.Store
	parts [scene.PartitionCount]*Partition
}

func NewRegion(store *scene.Store, id int, bounds core.AABB, opts Options) *Region {
	r := &Region{ID: id, Bounds: bounds, store: store}
	for t := range r.parts {
		r.parts[t] = New(store, scene.PartitionType(t), id, bounds, opts)
	}
	return r
}

func (r *Region) Partition(t scene.PartitionType) *Partition {
	if t < 0 || t >= scene.PartitionCount {
		return nil
	}
	return r.parts[t]
}

// Insert routes the drawable to the partition its type selects.
func (r *Region) Insert(id scene.DrawableID) bool {
	d := r.store.Drawable(id)
	if d == nil {
		return false
	}
	p := r.Partition(d.Partition)
	if p == nil {
		return false
	}
	return p.Insert(id)
}

// Remove is a no-op for drawables not held by this region.
func (r *Region) Remove(id scene.DrawableID) bool {
	d := r.store.Peek(id)
	if d == nil {
		return false
	}
	g := r.store.Group(d.Group)
	if g == nil || g.Region != r.ID {
		return false
	}
	return r.parts[g.Partition].Remove(id)
}

func (r *Region) Move(id scene.DrawableID) {
	d := r.store.Drawable(id)
	if d == nil {
		return
	}
	g := r.store.Group(d.Group)
	if g == nil || g.Region != r.ID {
		return
	}
	r.parts[g.Partition].Move(id)
}

// Balance rebalances every partition that changed.
func (r *Region) Balance() {
	for _, p := range r.parts {
		if p.NeedsBalance() {
			p.Balance()
		}
	}
}

// Cull walks every partition in type order.
func (r *Region) Cull(cam *core.Camera, opts CullOptions, out *CullResult) {
	for _, p := range r.parts {
		p.Cull(cam, opts, out)
		if out.Discarded {
			return
		}
	}
}

func (r *Region) QueryAABB(box core.AABB) []scene.DrawableID {
	var out []scene.DrawableID
	for _, p := range r.parts {
		out = append(out, p.QueryAABB(box)...)
	}
	return out
}

// EachGroup visits every live group in the region.
func (r *Region) EachGroup(fn func(id scene.GroupID, g *scene.SpatialGroup)) {
	for _, p := range r.parts {
		p.Each(fn)
	}
}

func (r *Region) Destroy() {
	for _, p := range r.parts {
		p.Destroy()
	}
}
