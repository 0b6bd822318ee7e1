package partition

import (
	"testing"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type box struct {
	bounds core.AABB
	typ    scene.RenderType
	dead   bool
}

func (b *box) WorldBoundingBox() core.AABB  { return b.bounds }
func (b *box) RenderType() scene.RenderType { return b.typ }
func (b *box) IsDead() bool                 { return b.dead }

func cube(x, y, z float32) *box {
	return &box{bounds: core.AABBFromCenter(mgl32.Vec3{x, y, z}, mgl32.Vec3{0.5, 0.5, 0.5})}
}

func worldBounds() core.AABB {
	return core.NewAABB(mgl32.Vec3{-256, -256, -256}, mgl32.Vec3{256, 256, 256})
}

func lookDownNegZ() *core.Camera {
	return core.NewPerspectiveCamera(
		mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0},
		mgl32.DegToRad(60), 1, 0.1, 100)
}

func add(t *testing.T, store *scene.Store, obj *box) scene.DrawableID {
	t.Helper()
	face := &scene.Face{Material: scene.OpaqueMaterial()}
	return store.AddDrawable(scene.NewDrawable(obj, face))
}

func TestCullEmptyScene(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), DefaultOptions())
	p.Balance()

	var res CullResult
	res.Reset(1)
	p.Cull(lookDownNegZ(), CullOptions{Occlusion: true}, &res)

	assert.True(t, res.Empty())
	assert.Empty(t, res.OcclusionCandidates)
}

func TestCullFrustumSoundness(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), Options{MaxElements: 2, MinSize: 1})
	for i := 0; i < 20; i++ {
		require.True(t, p.Insert(add(t, store, cube(float32(i%4), 0, -10-float32(i)))))
		require.True(t, p.Insert(add(t, store, cube(float32(i%4), 0, 10+float32(i)))))
		require.True(t, p.Insert(add(t, store, cube(200, float32(i), -20))))
	}
	p.Balance()
	require.Greater(t, p.Stats().Groups, 1)

	cam := lookDownNegZ()
	var res CullResult
	res.Reset(1)
	p.Cull(cam, CullOptions{}, &res)
	require.NotEmpty(t, res.Groups)

	visible := map[scene.GroupID]bool{}
	for _, g := range res.Groups {
		visible[g] = true
	}
	f := cam.Frustum()
	p.Each(func(id scene.GroupID, g *scene.SpatialGroup) {
		if len(g.Members) == 0 {
			assert.False(t, visible[id], "empty group culled as visible")
			return
		}
		if f.ClassifyAABB(g.ObjectBounds) == core.Outside {
			assert.False(t, visible[id], "group outside frustum is visible")
		}
	})

	seen := 0
	for _, gid := range res.Groups {
		for _, m := range store.Group(gid).Members {
			if store.Drawable(m).Bounds.Center().Z() < 0 {
				seen++
			}
		}
	}
	assert.GreaterOrEqual(t, seen, 20)
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), DefaultOptions())
	id := add(t, store, cube(0, 0, -5))
	require.True(t, p.Insert(id))
	assert.False(t, p.Insert(id), "second insert is ignored")

	assert.True(t, p.Remove(id))
	assert.False(t, p.Remove(id))
	assert.Empty(t, store.Group(p.Root()).Members)

	store.DestroyDrawable(id)
	assert.False(t, p.Remove(id))
	p.Balance()
	assert.Equal(t, 0, p.Stats().Members)
}

func TestRemoveAfterObjectDied(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), DefaultOptions())
	obj := cube(0, 0, -5)
	id := add(t, store, obj)
	require.True(t, p.Insert(id))

	obj.dead = true
	assert.True(t, p.Remove(id), "a dead object can still be unlinked")
	assert.False(t, p.Remove(id))
}

func TestBalanceSplitsAndCollapses(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), Options{MaxElements: 4, MinSize: 1})
	var ids []scene.DrawableID
	for i := 0; i < 32; i++ {
		id := add(t, store, cube(float32(i*8-128), float32(i%3), float32(-i*4)))
		require.True(t, p.Insert(id))
		ids = append(ids, id)
	}
	p.Balance()
	grown := p.Stats()
	assert.Greater(t, grown.Groups, 1)
	assert.Equal(t, 32, grown.Members)
	assert.Greater(t, grown.Splits, 0)

	for _, id := range ids[2:] {
		require.True(t, p.Remove(id))
	}
	p.Balance()
	shrunk := p.Stats()
	assert.Equal(t, 2, shrunk.Members)
	assert.Equal(t, 1, shrunk.Groups)
	assert.Greater(t, shrunk.Collapses, 0)
	assert.False(t, p.NeedsBalance())
}

func TestMoveIsAppliedOnBalance(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), DefaultOptions())
	obj := cube(0, 0, -5)
	id := add(t, store, obj)
	require.True(t, p.Insert(id))
	p.Balance()

	obj.bounds = core.AABBFromCenter(mgl32.Vec3{100, 0, 0}, mgl32.Vec3{1, 1, 1})
	p.Move(id)
	p.Move(id)
	assert.True(t, store.Drawable(id).State.Has(scene.OnMoveList))

	p.Balance()
	assert.False(t, store.Drawable(id).State.Has(scene.OnMoveList))
	hits := p.QueryAABB(core.AABBFromCenter(mgl32.Vec3{100, 0, 0}, mgl32.Vec3{2, 2, 2}))
	assert.Equal(t, []scene.DrawableID{id}, hits)
	assert.Empty(t, p.QueryAABB(core.AABBFromCenter(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{1, 1, 1})))
}

func TestDestroyScrubsMoveList(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), DefaultOptions())
	id := add(t, store, cube(0, 0, -5))
	require.True(t, p.Insert(id))
	p.Move(id)
	store.DestroyDrawable(id)

	assert.Empty(t, p.moveList)
	assert.NotPanics(t, p.Balance)
}

func TestCullOccludedGroupIsCandidateOnly(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), DefaultOptions())
	require.True(t, p.Insert(add(t, store, cube(0, 0, -5))))
	p.Balance()
	store.Group(p.Root()).Occlusion = scene.Occluded

	var res CullResult
	res.Reset(1)
	p.Cull(lookDownNegZ(), CullOptions{Occlusion: true}, &res)
	assert.Empty(t, res.Groups)
	assert.Equal(t, []scene.GroupID{p.Root()}, res.OcclusionCandidates)

	res.Reset(2)
	p.Cull(lookDownNegZ(), CullOptions{Occlusion: false}, &res)
	assert.Equal(t, []scene.GroupID{p.Root()}, res.Groups)
	assert.Empty(t, res.OcclusionCandidates)
}

func TestCullUntestedGroupIsVisibleAndCandidate(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), DefaultOptions())
	alpha := cube(0, 0, -5)
	id := store.AddDrawable(scene.NewDrawable(alpha, &scene.Face{Material: scene.Material{BaseColor: [4]float32{1, 1, 1, 0.5}}}))
	require.True(t, p.Insert(id))
	p.Balance()

	var res CullResult
	res.Reset(1)
	p.Cull(lookDownNegZ(), CullOptions{Occlusion: true}, &res)
	assert.Equal(t, []scene.GroupID{p.Root()}, res.Groups)
	assert.Equal(t, []scene.GroupID{p.Root()}, res.AlphaGroups)
	assert.Equal(t, []scene.GroupID{p.Root()}, res.OcclusionCandidates)
}

func TestCullByDrawable(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionAvatar, 0, worldBounds(), DefaultOptions())
	front := cube(0, 0, -5)
	front.typ = scene.RenderAvatar
	behind := cube(0, 0, 5)
	behind.typ = scene.RenderAvatar
	hidden := cube(1, 0, -5)
	hidden.typ = scene.RenderAvatar
	gone := cube(-1, 0, -5)
	gone.typ = scene.RenderAvatar

	ids := []scene.DrawableID{add(t, store, front), add(t, store, behind), add(t, store, hidden), add(t, store, gone)}
	for _, id := range ids {
		require.True(t, p.Insert(id))
	}
	store.Drawable(ids[2]).State |= scene.ForceInvisible
	p.Balance()
	gone.dead = true

	var res CullResult
	res.Reset(1)
	p.Cull(lookDownNegZ(), CullOptions{Occlusion: true}, &res)
	assert.Equal(t, []scene.DrawableID{ids[0]}, res.Drawables)
	assert.Empty(t, res.Groups)
	assert.Empty(t, res.OcclusionCandidates, "avatars are never occlusion tested")
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestCullBridgeGroupsAreOcclusionTested(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionBridge, 0, worldBounds(), DefaultOptions())
	id := add(t, store, cube(0, 0, -5))
	require.True(t, p.Insert(id))
	p.Balance()

	var res CullResult
	res.Reset(1)
	p.Cull(lookDownNegZ(), CullOptions{Occlusion: true}, &res)
	assert.Equal(t, []scene.DrawableID{id}, res.Drawables)
	assert.Equal(t, []scene.GroupID{p.Root()}, res.OcclusionCandidates)

	store.Group(p.Root()).Occlusion = scene.Occluded
	res.Reset(2)
	p.Cull(lookDownNegZ(), CullOptions{Occlusion: true}, &res)
	assert.Empty(t, res.Drawables)
	assert.Equal(t, []scene.GroupID{p.Root()}, res.OcclusionCandidates)
}

func TestCullSkipsDestroyedGroups(t *testing.T) {
	store := scene.NewStore()
	p := New(store, scene.PartitionVolume, 0, worldBounds(), Options{MaxElements: 1, MinSize: 1})
	for i := 0; i < 8; i++ {
		require.True(t, p.Insert(add(t, store, cube(float32(i*10), 0, -20))))
	}
	p.Balance()

	// Simulate a group dying between balance and cull.
	var victim scene.GroupID
	p.Each(func(id scene.GroupID, g *scene.SpatialGroup) {
		if id != p.Root() && victim.IsNil() {
			victim = id
		}
	})
	require.False(t, victim.IsNil())
	store.DestroyGroup(victim)

	var res CullResult
	res.Reset(1)
	assert.NotPanics(t, func() { p.Cull(lookDownNegZ(), CullOptions{}, &res) })
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestTeleportMidCullDiscardsCandidates(t *testing.T) {
	store := scene.NewStore()
	r := NewRegion(store, 7, worldBounds(), Options{MaxElements: 2, MinSize: 1})
	for i := 0; i < 16; i++ {
		require.True(t, r.Insert(add(t, store, cube(float32(i), 0, -10-float32(i)))))
	}
	r.Balance()

	calls := 0
	teleport := func() bool {
		calls++
		return calls > 3
	}
	var res CullResult
	res.Reset(1)
	r.Cull(lookDownNegZ(), CullOptions{Occlusion: true, Cancelled: teleport}, &res)
	assert.True(t, res.Discarded)
	assert.Empty(t, res.OcclusionCandidates)

	res.Reset(2)
	assert.NotPanics(t, func() { r.Cull(lookDownNegZ(), CullOptions{Occlusion: true}, &res) })
	assert.False(t, res.Discarded)
	assert.NotEmpty(t, res.Groups)
	assert.NotEmpty(t, res.OcclusionCandidates)
}

func TestRegionRoutesByPartitionType(t *testing.T) {
	store := scene.NewStore()
	r := NewRegion(store, 1, worldBounds(), DefaultOptions())
	tree := cube(0, 0, -5)
	tree.typ = scene.RenderTree
	id := add(t, store, tree)
	require.True(t, r.Insert(id))

	g := store.Group(store.Drawable(id).Group)
	require.NotNil(t, g)
	assert.Equal(t, scene.PartitionTree, g.Partition)
	assert.Equal(t, 1, g.Region)

	other := NewRegion(store, 2, worldBounds(), DefaultOptions())
	assert.False(t, other.Remove(id), "not held by region 2")
	assert.True(t, r.Remove(id))
	assert.Len(t, r.QueryAABB(worldBounds()), 0)
}
