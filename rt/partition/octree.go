// Package partition indexes drawables in loose octrees of spatial groups.
package partition

import (
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/scene"
)

type Options struct {
	MaxElements int     // members a leaf holds before Balance splits it
	MinSize     float32 // smallest cell edge a split may produce
	// BalanceEvery forces a Balance after this many insertions.
	BalanceEvery int
}

func DefaultOptions() Options {
	return Options{MaxElements: 16, MinSize: 4, BalanceEvery: 128}
}

// Partition is one octree for a (region, partition type) pair. Insert and
// Remove only touch membership; splitting, collapsing and bounds shrinking
// are deferred to Balance.
type Partition struct {
	Type   scene.PartitionType
	Region int

	store    *scene.Store
	opts     Options
	root     scene.GroupID
	moveList []scene.DrawableID

	needsBalance bool
	inserts      int
	splits       int
	collapses    int
}

func New(store *scene.Store, typ scene.PartitionType, region int, bounds core.AABB, opts Options) *Partition {
	if opts.MaxElements <= 0 {
		opts.MaxElements = DefaultOptions().MaxElements
	}
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultOptions().MinSize
	}
	if opts.BalanceEvery <= 0 {
		opts.BalanceEvery = opts.MaxElements * 8
	}
	p := &Partition{
		Type:   typ,
		Region: region,
		store:  store,
		opts:   opts,
	}
	p.root = store.AddGroup(scene.SpatialGroup{
		Partition:    typ,
		Region:       region,
		Cell:         bounds,
		ObjectBounds: core.EmptyAABB(),
		Bounds:       core.EmptyAABB(),
	})
	store.OnDestroy(p)
	return p
}

func (p *Partition) Root() scene.GroupID { return p.root }

// Insert places a live drawable in the deepest existing node that fits it.
func (p *Partition) Insert(id scene.DrawableID) bool {
	d := p.store.Drawable(id)
	if d == nil {
		return false
	}
	if g := p.store.Group(d.Group); g != nil {
		if g.Partition == p.Type && g.Region == p.Region {
			return false
		}
	}
	target := p.fit(p.root, d)
	if !p.store.AddMember(target, id) {
		return false
	}
	d.Partition = p.Type
	p.growBounds(target, d.Bounds, true)
	p.needsBalance = true

	p.inserts++
	if p.inserts >= p.opts.BalanceEvery {
		p.Balance()
	}
	return true
}

// Remove unlinks a drawable. Removing twice, or removing a drawable that was
// never inserted, is a no-op.
func (p *Partition) Remove(id scene.DrawableID) bool {
	d := p.store.Peek(id)
	if d == nil {
		return false
	}
	g := p.store.Group(d.Group)
	if g == nil || g.Partition != p.Type || g.Region != p.Region {
		return false
	}
	gid := d.Group
	p.dropFromMoveList(id, d)
	if !p.store.RemoveMember(id) {
		return false
	}
	p.markBoundsDirty(gid)
	p.needsBalance = true
	return true
}

// Move queues a drawable whose bounds changed. The tree is updated in Balance.
func (p *Partition) Move(id scene.DrawableID) {
	d := p.store.Drawable(id)
	if d == nil || d.State.Has(scene.OnMoveList) {
		return
	}
	d.State |= scene.OnMoveList
	p.moveList = append(p.moveList, id)
	p.needsBalance = true
}

// ScrubDrawable drops a destroyed drawable from the move list.
func (p *Partition) ScrubDrawable(id scene.DrawableID) {
	for i, m := range p.moveList {
		if m == id {
			p.moveList = append(p.moveList[:i], p.moveList[i+1:]...)
			return
		}
	}
}

func (p *Partition) dropFromMoveList(id scene.DrawableID, d *scene.Drawable) {
	if d.State.Has(scene.OnMoveList) {
		d.State &^= scene.OnMoveList
		p.ScrubDrawable(id)
	}
}

// NeedsBalance reports whether membership changed since the last Balance.
func (p *Partition) NeedsBalance() bool { return p.needsBalance }

// Balance applies queued moves, splits overfull leaves, collapses sparse
// subtrees and recomputes stale bounds.
func (p *Partition) Balance() {
	p.inserts = 0
	p.applyMoves()
	p.balanceNode(p.root)
	p.refreshBounds(p.root)
	p.needsBalance = false
}

func (p *Partition) applyMoves() {
	moves := p.moveList
	p.moveList = p.moveList[:0]
	for _, id := range moves {
		d := p.store.Drawable(id)
		if d == nil {
			continue
		}
		d.State &^= scene.OnMoveList
		d.UpdateBounds()
		old := d.Group
		target := p.fit(p.root, d)
		if target != old {
			p.store.AddMember(target, id)
			p.markBoundsDirty(old)
		} else if g := p.store.Group(old); g != nil {
			g.MarkDirty()
		}
		p.markBoundsDirty(target)
		p.growBounds(target, d.Bounds, false)
	}
}

// balanceNode returns the number of members in the subtree.
func (p *Partition) balanceNode(gid scene.GroupID) int {
	g := p.store.Group(gid)
	if g == nil {
		return 0
	}
	if g.IsLeaf() {
		if len(g.Members) > p.opts.MaxElements && g.Cell.Size().X()*0.5 >= p.opts.MinSize {
			p.split(gid)
			g = p.store.Group(gid)
		} else {
			return len(g.Members)
		}
	}

	total := len(g.Members)
	for _, c := range g.Children {
		if !c.IsNil() {
			total += p.balanceNode(c)
		}
	}
	if total <= p.opts.MaxElements/2 {
		p.collapse(gid)
	}
	return total
}

// split creates eight children and pushes down every member that fits one.
func (p *Partition) split(gid scene.GroupID) {
	g := p.store.Group(gid)
	cell, depth := g.Cell, g.Depth
	var children [8]scene.GroupID
	for i := range children {
		children[i] = p.store.AddGroup(scene.SpatialGroup{
			Partition:    p.Type,
			Region:       p.Region,
			Cell:         childCell(cell, i),
			ObjectBounds: core.EmptyAABB(),
			Bounds:       core.EmptyAABB(),
			Depth:        depth + 1,
			Parent:       gid,
			BoundsDirty:  true,
		})
	}
	// AddGroup may grow the arena, so reacquire.
	g = p.store.Group(gid)
	g.Children = children
	members := append([]scene.DrawableID(nil), g.Members...)
	for _, id := range members {
		d := p.store.Drawable(id)
		if d == nil {
			continue
		}
		if i, ok := fitsChild(cell, d.Bounds); ok {
			p.store.AddMember(children[i], id)
		}
	}
	p.markBoundsDirty(gid)
	p.splits++
}

// collapse pulls every descendant member into gid and frees the children.
func (p *Partition) collapse(gid scene.GroupID) {
	g := p.store.Group(gid)
	if g == nil {
		return
	}
	children := g.Children
	g.Children = [8]scene.GroupID{}
	for _, c := range children {
		if c.IsNil() {
			continue
		}
		p.collectInto(gid, c)
	}
	p.markBoundsDirty(gid)
	p.collapses++
}

func (p *Partition) collectInto(dst, src scene.GroupID) {
	g := p.store.Group(src)
	if g == nil {
		return
	}
	for _, c := range g.Children {
		if !c.IsNil() {
			p.collectInto(dst, c)
		}
	}
	g = p.store.Group(src)
	members := append([]scene.DrawableID(nil), g.Members...)
	for _, id := range members {
		if p.store.Peek(id) != nil {
			p.store.AddMember(dst, id)
		}
	}
	p.store.DestroyGroup(src)
}

// refreshBounds recomputes dirty bounds bottom-up.
func (p *Partition) refreshBounds(gid scene.GroupID) core.AABB {
	g := p.store.Group(gid)
	if g == nil {
		return core.EmptyAABB()
	}
	if !g.BoundsDirty {
		return g.Bounds
	}
	obj := core.EmptyAABB()
	hasAlpha := false
	for _, id := range g.Members {
		d := p.store.Drawable(id)
		if d == nil {
			continue
		}
		obj = obj.Union(d.Bounds)
		hasAlpha = hasAlpha || d.HasAlpha()
	}
	bounds := obj
	for _, c := range g.Children {
		if !c.IsNil() {
			bounds = bounds.Union(p.refreshBounds(c))
		}
	}
	g = p.store.Group(gid)
	g.ObjectBounds = obj
	g.Bounds = bounds
	g.HasAlpha = hasAlpha
	g.BoundsDirty = false
	return bounds
}

func (p *Partition) markBoundsDirty(gid scene.GroupID) {
	for !gid.IsNil() {
		g := p.store.Group(gid)
		if g == nil {
			return
		}
		g.BoundsDirty = true
		gid = g.Parent
	}
}

// growBounds widens bounds up the parent chain so a fresh insert is never
// culled before the next Balance.
func (p *Partition) growBounds(gid scene.GroupID, b core.AABB, object bool) {
	first := true
	for !gid.IsNil() {
		g := p.store.Group(gid)
		if g == nil {
			return
		}
		if first && object {
			g.ObjectBounds = g.ObjectBounds.Union(b)
		}
		g.Bounds = g.Bounds.Union(b)
		g.BoundsDirty = true
		first = false
		gid = g.Parent
	}
}

// fit descends from gid to the deepest existing node that can hold d.
func (p *Partition) fit(gid scene.GroupID, d *scene.Drawable) scene.GroupID {
	for {
		g := p.store.Group(gid)
		if g == nil || g.IsLeaf() {
			return gid
		}
		i, ok := fitsChild(g.Cell, d.Bounds)
		if !ok || g.Children[i].IsNil() || p.store.IsGroupDead(g.Children[i]) {
			return gid
		}
		gid = g.Children[i]
	}
}

// fitsChild picks the octant holding the box center and reports whether the
// box fits that octant's loose bounds (twice the cell size).
func fitsChild(cell, b core.AABB) (int, bool) {
	center := cell.Center()
	bc := b.Center()
	if !cell.ContainsPoint(bc) {
		return 0, false
	}
	childHalf := cell.HalfExtents().Mul(0.5)
	half := b.HalfExtents()
	if half.X() > childHalf.X() || half.Y() > childHalf.Y() || half.Z() > childHalf.Z() {
		return 0, false
	}
	i := 0
	if bc.X() >= center.X() {
		i |= 1
	}
	if bc.Y() >= center.Y() {
		i |= 2
	}
	if bc.Z() >= center.Z() {
		i |= 4
	}
	return i, true
}

func childCell(cell core.AABB, i int) core.AABB {
	c := cell.Center()
	out := core.AABB{Min: cell.Min, Max: c}
	if i&1 != 0 {
		out.Min[0], out.Max[0] = c.X(), cell.Max.X()
	}
	if i&2 != 0 {
		out.Min[1], out.Max[1] = c.Y(), cell.Max.Y()
	}
	if i&4 != 0 {
		out.Min[2], out.Max[2] = c.Z(), cell.Max.Z()
	}
	return out
}

// QueryAABB returns live drawables whose bounds intersect box.
func (p *Partition) QueryAABB(box core.AABB) []scene.DrawableID {
	var out []scene.DrawableID
	p.query(p.root, box, &out)
	return out
}

func (p *Partition) query(gid scene.GroupID, box core.AABB, out *[]scene.DrawableID) {
	g := p.store.Group(gid)
	if g == nil || g.Bounds.IsEmpty() || !g.Bounds.Intersects(box) {
		return
	}
	for _, id := range g.Members {
		if d := p.store.Drawable(id); d != nil && d.Bounds.Intersects(box) {
			*out = append(*out, id)
		}
	}
	for _, c := range g.Children {
		if !c.IsNil() {
			p.query(c, box, out)
		}
	}
}

// Each visits every live group in the tree, parents first.
func (p *Partition) Each(fn func(id scene.GroupID, g *scene.SpatialGroup)) {
	p.each(p.root, fn)
}

func (p *Partition) each(gid scene.GroupID, fn func(scene.GroupID, *scene.SpatialGroup)) {
	g := p.store.Group(gid)
	if g == nil {
		return
	}
	fn(gid, g)
	for _, c := range g.Children {
		if !c.IsNil() {
			p.each(c, fn)
		}
	}
}

// Stats reports tree shape counters.
type Stats struct {
	Groups    int
	Members   int
	MaxDepth  int
	Splits    int
	Collapses int
}

func (p *Partition) Stats() Stats {
	s := Stats{Splits: p.splits, Collapses: p.collapses}
	p.Each(func(_ scene.GroupID, g *scene.SpatialGroup) {
		s.Groups++
		s.Members += len(g.Members)
		s.MaxDepth = max(s.MaxDepth, g.Depth)
	})
	return s
}

// Destroy frees every group of the tree. Members keep stale group handles.
func (p *Partition) Destroy() {
	var ids []scene.GroupID
	p.Each(func(id scene.GroupID, g *scene.SpatialGroup) {
		ids = append(ids, id)
		for _, m := range g.Members {
			if d := p.store.Peek(m); d != nil {
				d.Group = scene.GroupID{}
			}
		}
	})
	for _, id := range ids {
		p.store.DestroyGroup(id)
	}
	p.root = scene.GroupID{}
	p.moveList = nil
}
