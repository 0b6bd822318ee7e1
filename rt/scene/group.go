package scene

import (
	"errors"
	"slices"

	"github.com/gekko3d/drawpipe/rt/core"
)

type GroupID Handle

func (id GroupID) IsNil() bool { return Handle(id).IsNil() }

// ErrDrawMapBusy is returned when a draw map is rebuilt while it is being walked.
var ErrDrawMapBusy = errors.New("scene: draw map rebuilt during iteration")

// PassKey identifies a render pass within a group's draw map.
type PassKey uint16

// DrawInfo is one draw-call descriptor produced by state sort.
type DrawInfo struct {
	Drawable   DrawableID
	Face       *Face
	TextureKey uint64
	Distance   float32
}

// DrawMap maps passes to ordered draw lists. It is valid only for the frame
// it was built in.
type DrawMap struct {
	passes    []PassKey
	lists     map[PassKey][]DrawInfo
	frame     uint64
	valid     bool
	iterating int
}

// Reset clears the map for a rebuild at frame.
func (m *DrawMap) Reset(frame uint64) error {
	if m.iterating > 0 {
		return ErrDrawMapBusy
	}
	for k, l := range m.lists {
		m.lists[k] = l[:0]
	}
	m.passes = m.passes[:0]
	m.frame = frame
	m.valid = true
	return nil
}

func (m *DrawMap) Add(pass PassKey, info DrawInfo) {
	if m.lists == nil {
		m.lists = make(map[PassKey][]DrawInfo)
	}
	l := m.lists[pass]
	if len(l) == 0 {
		if i, found := slices.BinarySearch(m.passes, pass); !found {
			m.passes = slices.Insert(m.passes, i, pass)
		}
	}
	m.lists[pass] = append(l, info)
}

// Invalidate marks the map stale after a geometry change.
func (m *DrawMap) Invalidate() { m.valid = false }

// ValidFor reports whether the map was built in frame and not invalidated since.
func (m *DrawMap) ValidFor(frame uint64) bool {
	return m.valid && m.frame == frame
}

// Passes returns the non-empty passes in ascending order.
func (m *DrawMap) Passes() []PassKey { return m.passes }

func (m *DrawMap) Get(pass PassKey) []DrawInfo { return m.lists[pass] }

// Len counts draw infos across all passes.
func (m *DrawMap) Len() int {
	n := 0
	for _, p := range m.passes {
		n += len(m.lists[p])
	}
	return n
}

// Each walks pass lists in order. Reset fails while Each is running.
func (m *DrawMap) Each(fn func(pass PassKey, info *DrawInfo) bool) {
	m.iterating++
	defer func() { m.iterating-- }()
	for _, p := range m.passes {
		l := m.lists[p]
		for i := range l {
			if !fn(p, &l[i]) {
				return
			}
		}
	}
}

// SpatialGroup is an octree node aggregating nearby drawables.
type SpatialGroup struct {
	Partition PartitionType
	Region    int

	// Cell is the octant this node covers. ObjectBounds wraps the node's own
	// members, Bounds wraps members and descendants.
	Cell         core.AABB
	ObjectBounds core.AABB
	Bounds       core.AABB
	Depth        int

	Parent   GroupID
	Children [8]GroupID
	Members  []DrawableID

	Distance float32
	HasAlpha bool

	Occlusion       OcclusionState
	QueryID         uint32
	QueryFrame      uint64
	LastTestedFrame uint64
	ActiveOccluder  bool

	DrawMap       DrawMap
	GeometryDirty bool
	BoundsDirty   bool

	LastVisibleFrame uint64
}

// IsLeaf reports whether the group has no children.
func (g *SpatialGroup) IsLeaf() bool {
	for _, c := range g.Children {
		if !c.IsNil() {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the group holds no drawables.
func (g *SpatialGroup) IsEmpty() bool { return len(g.Members) == 0 }

// MarkDirty flags the group for a geometry rebuild and drops its draw map.
func (g *SpatialGroup) MarkDirty() {
	g.GeometryDirty = true
	g.BoundsDirty = true
	g.DrawMap.Invalidate()
}

func (g *SpatialGroup) removeMember(id DrawableID) bool {
	for i, m := range g.Members {
		if m == id {
			last := len(g.Members) - 1
			g.Members[i] = g.Members[last]
			g.Members = g.Members[:last]
			return true
		}
	}
	return false
}
