package scene

import (
	"testing"

	"github.com/gekko3d/drawpipe/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObject struct {
	box  core.AABB
	typ  RenderType
	dead bool
}

func (o *testObject) WorldBoundingBox() core.AABB { return o.box }
func (o *testObject) RenderType() RenderType      { return o.typ }
func (o *testObject) IsDead() bool                { return o.dead }

type countingPool struct{ removed int }

func (p *countingPool) RemoveFace(f *Face) { p.removed++ }

type recordingScrubber struct{ ids []DrawableID }

func (r *recordingScrubber) ScrubDrawable(id DrawableID) { r.ids = append(r.ids, id) }

func unitObject() *testObject {
	return &testObject{box: core.NewAABB(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 1, 1})}
}

func TestArenaGenerations(t *testing.T) {
	var a Arena[int]
	h1 := a.Alloc(1)
	require.NotNil(t, a.Get(h1))
	assert.True(t, a.Free(h1))
	assert.Nil(t, a.Get(h1))
	assert.False(t, a.Free(h1), "double free must be a no-op")

	h2 := a.Alloc(2)
	assert.Equal(t, h1.Index, h2.Index, "slot is reused")
	assert.NotEqual(t, h1.Gen, h2.Gen)
	assert.Nil(t, a.Get(h1), "old handle stays stale after reuse")
	assert.Equal(t, 2, *a.Get(h2))
	assert.Nil(t, a.Get(Handle{}))
	assert.Equal(t, 1, a.Len())
}

func TestDestroyDrawableScrubs(t *testing.T) {
	s := NewStore()
	scrub := &recordingScrubber{}
	s.OnDestroy(scrub)

	pool := &countingPool{}
	face := &Face{Material: OpaqueMaterial(), Pool: pool}
	id := s.AddDrawable(NewDrawable(unitObject(), face))
	assert.Equal(t, id, face.Drawable)

	gid := s.AddGroup(SpatialGroup{})
	require.True(t, s.AddMember(gid, id))
	assert.Len(t, s.Group(gid).Members, 1)

	assert.True(t, s.DestroyDrawable(id))
	assert.True(t, s.IsDead(id))
	assert.Empty(t, s.Group(gid).Members)
	assert.True(t, s.Group(gid).GeometryDirty)
	assert.Equal(t, 1, pool.removed)
	assert.Nil(t, face.Pool)
	assert.Equal(t, []DrawableID{id}, scrub.ids)

	// Second removal is a no-op
	assert.False(t, s.DestroyDrawable(id))
	assert.Len(t, scrub.ids, 1)
}

func TestDeadSceneObjectIsDead(t *testing.T) {
	s := NewStore()
	obj := unitObject()
	id := s.AddDrawable(NewDrawable(obj))
	assert.False(t, s.IsDead(id))
	obj.dead = true
	assert.True(t, s.IsDead(id))
}

func TestAddMemberMovesBetweenGroups(t *testing.T) {
	s := NewStore()
	id := s.AddDrawable(NewDrawable(unitObject()))
	g1 := s.AddGroup(SpatialGroup{})
	g2 := s.AddGroup(SpatialGroup{})

	s.AddMember(g1, id)
	s.AddMember(g2, id)
	assert.Empty(t, s.Group(g1).Members)
	assert.Equal(t, []DrawableID{id}, s.Group(g2).Members)

	assert.True(t, s.RemoveMember(id))
	assert.Empty(t, s.Group(g2).Members)
	assert.False(t, s.RemoveMember(id))
}

func TestDrawMapValidity(t *testing.T) {
	var m DrawMap
	require.NoError(t, m.Reset(3))
	m.Add(5, DrawInfo{Distance: 1})
	m.Add(2, DrawInfo{Distance: 2})
	m.Add(5, DrawInfo{Distance: 3})

	assert.Equal(t, []PassKey{2, 5}, m.Passes())
	assert.Equal(t, 3, m.Len())
	assert.True(t, m.ValidFor(3))
	assert.False(t, m.ValidFor(4), "a draw map is only valid for its own frame")

	m.Invalidate()
	assert.False(t, m.ValidFor(3))
}

func TestDrawMapResetDuringIteration(t *testing.T) {
	var m DrawMap
	require.NoError(t, m.Reset(1))
	m.Add(1, DrawInfo{})

	var err error
	m.Each(func(pass PassKey, info *DrawInfo) bool {
		err = m.Reset(2)
		return true
	})
	assert.ErrorIs(t, err, ErrDrawMapBusy)
	assert.NoError(t, m.Reset(2))
}

func TestMaterialTranslucent(t *testing.T) {
	m := OpaqueMaterial()
	assert.False(t, m.Translucent())
	m.BaseColor[3] = 0.5
	assert.True(t, m.Translucent())
	m = OpaqueMaterial()
	m.TextureHasAlpha = true
	assert.True(t, m.Translucent())
}

func TestPartitionRules(t *testing.T) {
	assert.True(t, PartitionBridge.RenderByDrawable())
	assert.False(t, PartitionVolume.RenderByDrawable())
	assert.True(t, PartitionTerrain.PerTexture())
	assert.False(t, PartitionHUD.Occludable())
	assert.Equal(t, PartitionWater, PartitionFor(RenderWater))
}
