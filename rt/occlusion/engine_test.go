package occlusion

import (
	"testing"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu/gputest"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func camera() *core.Camera {
	return core.NewPerspectiveCamera(
		mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0},
		mgl32.DegToRad(60), 1, 0.1, 100)
}

func group(store *scene.Store, region int, center mgl32.Vec3) scene.GroupID {
	b := core.AABBFromCenter(center, mgl32.Vec3{1, 1, 1})
	return store.AddGroup(scene.SpatialGroup{Region: region, Bounds: b, ObjectBounds: b})
}

// behindWall reports proxies further than z=-15 as hidden.
func behindWall(proxy []byte) bool {
	p, err := DecodeProxy(proxy)
	if err != nil {
		return true
	}
	return p.Max.Z() > -15
}

func TestOccludedAfterTwoFrames(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	dev.QueryLatency = 1
	dev.Visible = behindWall
	e := New(store, dev, true, 4, nil)

	wall := group(store, 0, mgl32.Vec3{0, 0, -10})
	hidden := group(store, 0, mgl32.Vec3{0, 0, -20})
	candidates := []scene.GroupID{wall, hidden}

	// Frame 1: untested -> pending, still drawn.
	e.BeginFrame()
	e.Poll(1)
	e.DoOcclusion(camera(), nil, candidates, 1)
	assert.Equal(t, 2, e.Stats().Issued)
	assert.Equal(t, scene.QueryPending, store.Group(hidden).Occlusion)
	assert.False(t, e.IsOccluded(hidden))
	dev.EndFrame()

	// Frame 2: the query resolves.
	e.BeginFrame()
	e.Poll(2)
	assert.Equal(t, scene.Occluded, store.Group(hidden).Occlusion)
	assert.Equal(t, scene.Visible, store.Group(wall).Occlusion)
	assert.True(t, e.IsOccluded(hidden))
	assert.False(t, e.IsOccluded(wall))
	assert.Equal(t, 0, dev.PendingQueries())
}

func TestNotReadyCountsAsVisible(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	dev.QueryLatency = 3
	dev.Visible = func([]byte) bool { return false }
	e := New(store, dev, true, 4, nil)
	g := group(store, 0, mgl32.Vec3{0, 0, -20})

	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 1)
	dev.EndFrame()
	e.BeginFrame()
	e.Poll(2)
	assert.Equal(t, 1, e.Stats().NotReady)
	assert.False(t, e.IsOccluded(g))

	// A pending query is never re-issued.
	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 2)
	assert.Equal(t, 0, e.Stats().Issued)

	dev.EndFrame()
	dev.EndFrame()
	e.Poll(4)
	assert.True(t, e.IsOccluded(g))
}

func TestOccludedGroupsRetestOnCadence(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	dev.Visible = func([]byte) bool { return false }
	e := New(store, dev, true, 4, nil)
	g := group(store, 0, mgl32.Vec3{0, 0, -20})

	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 1)
	e.Poll(2)
	require.Equal(t, scene.Occluded, store.Group(g).Occlusion)

	for frame := uint64(3); frame < 6; frame++ {
		e.BeginFrame()
		e.DoOcclusion(camera(), nil, []scene.GroupID{g}, frame)
		assert.Equal(t, 0, e.Stats().Issued, "frame %d", frame)
		assert.True(t, e.IsOccluded(g))
	}
	e.BeginFrame()
	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 6)
	assert.Equal(t, 1, e.Stats().Issued)
	assert.False(t, e.IsOccluded(g), "a re-test in flight draws the group")
}

func TestChildrenOfOccludedParentAreNotQueried(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	e := New(store, dev, true, 4, nil)
	parent := group(store, 0, mgl32.Vec3{0, 0, -20})
	child := group(store, 0, mgl32.Vec3{0, 0, -20})
	store.Group(child).Parent = parent
	store.Group(parent).Occlusion = scene.Occluded
	store.Group(parent).LastTestedFrame = 1

	e.DoOcclusion(camera(), nil, []scene.GroupID{parent, child}, 2)
	assert.Equal(t, 0, e.Stats().Issued)
	assert.Equal(t, 1, e.Stats().Inherited)
	assert.True(t, store.Group(parent).ActiveOccluder)
	assert.False(t, store.Group(child).ActiveOccluder)
}

func TestCameraInsideBoxIsVisibleWithoutQuery(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	e := New(store, dev, true, 4, nil)
	g := group(store, 0, mgl32.Vec3{0, 0, 0})

	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 1)
	assert.Equal(t, 0, e.Stats().Issued)
	assert.Equal(t, 1, e.Stats().CameraInside)
	assert.Equal(t, scene.Visible, store.Group(g).Occlusion)
}

func TestMissingQuerySupportDegradesForSession(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	dev.CapsValue.OcclusionQuery = false
	e := New(store, dev, true, 4, nil)
	g := group(store, 0, mgl32.Vec3{0, 0, -20})
	store.Group(g).Occlusion = scene.Occluded

	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 1)
	assert.False(t, e.Enabled())
	assert.False(t, e.IsOccluded(g))

	dev.CapsValue.OcclusionQuery = true
	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 2)
	assert.Empty(t, dev.Names(gputest.OpQuery), "degrade is permanent")

	off := New(store, nil, true, 4, nil)
	assert.False(t, off.Enabled())
}

func TestDiscardRegion(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	dev.QueryLatency = 5
	e := New(store, dev, true, 4, nil)
	a := group(store, 1, mgl32.Vec3{0, 0, -20})
	b := group(store, 2, mgl32.Vec3{0, 0, -30})
	occluded := group(store, 1, mgl32.Vec3{5, 0, -20})
	store.Group(occluded).Occlusion = scene.Occluded
	store.Group(occluded).LastTestedFrame = 1

	e.DoOcclusion(camera(), nil, []scene.GroupID{a, b, occluded}, 1)
	require.Equal(t, 2, e.PendingCount())
	e.tested[occluded] = 1

	e.Discard(1)
	assert.Equal(t, 1, e.PendingCount())
	assert.Equal(t, scene.Untested, store.Group(a).Occlusion)
	assert.Equal(t, scene.Untested, store.Group(occluded).Occlusion)
	assert.Equal(t, scene.QueryPending, store.Group(b).Occlusion)
	assert.Equal(t, 1, dev.PendingQueries())

	e.Discard(-1)
	assert.Equal(t, 0, e.PendingCount())
	assert.Equal(t, scene.Untested, store.Group(b).Occlusion)
}

func TestPollDropsDeadGroups(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	e := New(store, dev, true, 4, nil)
	g := group(store, 0, mgl32.Vec3{0, 0, -20})

	e.DoOcclusion(camera(), nil, []scene.GroupID{g}, 1)
	store.DestroyGroup(g)
	assert.NotPanics(t, func() { e.Poll(2) })
	assert.Equal(t, 1, e.Stats().Stale)
	assert.Equal(t, 0, e.PendingCount())
	assert.Equal(t, 0, dev.PendingQueries())
}

func TestBeginFrameForgetsFreedGroups(t *testing.T) {
	store := scene.NewStore()
	dev := gputest.New()
	e := New(store, dev, true, 4, nil)
	a := group(store, 0, mgl32.Vec3{0, 0, -20})
	b := group(store, 0, mgl32.Vec3{0, 0, -30})

	e.DoOcclusion(camera(), nil, []scene.GroupID{a, b}, 1)
	dev.EndFrame()
	e.BeginFrame()
	e.Poll(2)
	require.Equal(t, 0, e.PendingCount())
	require.Equal(t, 2, e.TrackedCount())

	store.DestroyGroup(a)
	e.BeginFrame()
	assert.Equal(t, 1, e.TrackedCount())
}

func TestProxyEncoding(t *testing.T) {
	id := scene.GroupID{Index: 7, Gen: 3}
	p := ProxyFor(id, core.NewAABB(mgl32.Vec3{-1, -2, -3}, mgl32.Vec3{4, 5, 6}))
	buf := p.AppendBytes(nil)
	buf = p.AppendBytes(buf)
	require.Len(t, buf, 2*ProxySize)

	got, err := DecodeProxy(buf[ProxySize:])
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodeProxy(buf[:10])
	assert.Error(t, err)
}
