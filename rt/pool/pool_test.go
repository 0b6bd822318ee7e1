package pool

import (
	"testing"

	"github.com/gekko3d/drawpipe/rt/gpu/gputest"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tex struct {
	key   uint64
	ready bool
}

func (t *tex) Ready() bool { return t.ready }
func (t *tex) Key() uint64 { return t.key }

func TestClassifyMaterialOrder(t *testing.T) {
	tests := []struct {
		name string
		m    scene.Material
		want Type
	}{
		{"plain", scene.OpaqueMaterial(), Simple},
		{"translucent color", scene.Material{BaseColor: [4]float32{1, 1, 1, 0.5}}, Alpha},
		{"alpha texture beats material", scene.Material{BaseColor: [4]float32{1, 1, 1, 1}, TextureHasAlpha: true, HasMaterial: true, Bump: true}, Alpha},
		{"bump", scene.Material{BaseColor: [4]float32{1, 1, 1, 1}, Bump: true}, Bump},
		{"shiny", scene.Material{BaseColor: [4]float32{1, 1, 1, 1}, Shiny: true}, Bump},
		{"bump with normal map material", scene.Material{BaseColor: [4]float32{1, 1, 1, 1}, Bump: true, NormalMap: true, HasMaterial: true}, Materials},
		{"material", scene.Material{BaseColor: [4]float32{1, 1, 1, 1}, HasMaterial: true}, Materials},
		{"fullbright", scene.Material{BaseColor: [4]float32{1, 1, 1, 1}, FullBright: true}, FullBright},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMaterial(tt.m))
			assert.Equal(t, tt.want, Classify(scene.RenderSimple, tt.m))
		})
	}
}

func TestClassifyByRenderType(t *testing.T) {
	opaque := scene.OpaqueMaterial()
	seeThrough := scene.Material{BaseColor: [4]float32{1, 1, 1, 0.2}}

	assert.Equal(t, Sky, Classify(scene.RenderSky, seeThrough))
	assert.Equal(t, Water, Classify(scene.RenderWater, seeThrough))
	assert.Equal(t, HUD, Classify(scene.RenderHUD, seeThrough))
	assert.Equal(t, Terrain, Classify(scene.RenderTerrain, opaque))
	assert.Equal(t, Tree, Classify(scene.RenderTree, opaque))
	assert.Equal(t, Alpha, Classify(scene.RenderTree, seeThrough))
	assert.Equal(t, Avatar, Classify(scene.RenderAvatar, opaque))
	assert.Equal(t, Alpha, Classify(scene.RenderAvatar, seeThrough))
	assert.True(t, WantsGlow(scene.Material{BaseColor: [4]float32{1, 1, 1, 1}, Glow: 0.5}))
	assert.False(t, WantsGlow(scene.Material{BaseColor: [4]float32{1, 1, 1, 0.5}, Glow: 0.5}))
}

func TestTypeOrderIsFixed(t *testing.T) {
	order := Order()
	require.Len(t, order, int(NumTypes))
	assert.Equal(t, Sky, order[0])
	assert.Equal(t, HUD, order[len(order)-1])
	assert.Less(t, Simple, Alpha)
	assert.Less(t, Alpha, Glow)
	assert.Less(t, OcclusionBoundary, Alpha)
	for _, typ := range order {
		if typ.Opaque() {
			assert.Less(t, typ, Water, "%s draws before water", typ)
		}
	}
	assert.Less(t, Water, Alpha)
}

func TestGetOrCreateIsSingleton(t *testing.T) {
	r := NewRegistry(true, nil)
	a := r.GetOrCreate(Simple, 0)
	b := r.GetOrCreate(Simple, 42)
	assert.Same(t, a, b, "simple pools ignore the texture key")

	t1 := r.GetOrCreate(Terrain, 1)
	t2 := r.GetOrCreate(Terrain, 2)
	assert.NotSame(t, t1, t2)
	assert.Same(t, t1, r.GetOrCreate(Terrain, 1))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []DrawPool{t1, t2}, r.Pools(Terrain))
}

func TestDuplicateRegistration(t *testing.T) {
	strict := NewRegistry(true, nil)
	p := strict.GetOrCreate(Bump, 0)
	assert.False(t, strict.Register(p), "same instance is a no-op")
	assert.Panics(t, func() { strict.Register(NewFacePool(Key{Type: Bump})) })

	lenient := NewRegistry(false, nil)
	orig := lenient.GetOrCreate(Bump, 0)
	assert.NotPanics(t, func() { lenient.Register(NewFacePool(Key{Type: Bump})) })
	assert.Same(t, orig, lenient.Get(Bump, 0))
}

func TestIterateInFixedOrder(t *testing.T) {
	r := NewRegistry(true, nil)
	for _, typ := range []Type{HUD, Alpha, Simple, Sky, Grass, Water} {
		r.GetOrCreate(typ, 0)
	}
	var seen []Type
	r.Iterate(func(typ Type, pools []DrawPool) bool {
		seen = append(seen, typ)
		return true
	})
	assert.Equal(t, []Type{Sky, Simple, Grass, Water, Alpha, HUD}, seen)
}

func TestSweepRemovesEmptyPoolsOutsideIteration(t *testing.T) {
	r := NewRegistry(true, nil)
	busy := r.GetOrCreate(Simple, 0)
	r.GetOrCreate(Alpha, 0)
	f := &scene.Face{}
	busy.AddFace(f)

	assert.Panics(t, func() {
		r.Iterate(func(Type, []DrawPool) bool {
			r.Sweep()
			return true
		})
	})

	assert.Equal(t, 1, r.Sweep())
	assert.Nil(t, r.Get(Alpha, 0))
	assert.Same(t, busy, r.Get(Simple, 0))

	f.Detach()
	busy.ResetPending()
	assert.True(t, busy.Empty())
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Pools(Simple))
}

func TestFacePoolMembership(t *testing.T) {
	simple := NewFacePool(Key{Type: Simple})
	bump := NewFacePool(Key{Type: Bump})
	f := &scene.Face{IndexCount: 6}

	simple.AddFace(f)
	assert.Equal(t, scene.PoolRef(simple), f.Pool)
	bump.AddFace(f)
	assert.Equal(t, scene.PoolRef(bump), f.Pool)
	assert.Equal(t, 0, simple.Assigned())
	assert.Empty(t, simple.Pending())
	assert.Equal(t, 1, bump.Assigned())

	glow := NewFacePool(Key{Type: Glow})
	glow.Queue(f)
	assert.Equal(t, scene.PoolRef(bump), f.Pool, "queueing does not reassign")
	assert.Len(t, glow.Pending(), 1)
}

func TestRenderSkipsFacesNotReady(t *testing.T) {
	dev := gputest.New()
	p := NewFacePool(Key{Type: Tree, Texture: 9})
	p.AddFace(&scene.Face{IndexCount: 3, Texture: &tex{key: 9, ready: true}})
	p.AddFace(&scene.Face{IndexCount: 3, Texture: &tex{key: 9, ready: false}})

	ctx := &PassContext{Dev: dev}
	p.PreRender(ctx)
	require.NoError(t, p.BeginPass(0, ctx))
	p.Render(0, ctx)
	p.EndPass(0, ctx)

	assert.Equal(t, 1, p.Drawn())
	require.Len(t, dev.Draws(), 1)
	assert.Equal(t, uint64(9), dev.Draws()[0].TextureKey)
	assert.Equal(t, "begin:tree draw:tree end:", dev.Trace())
}

func TestPassNames(t *testing.T) {
	p := NewFacePool(Key{Type: Bump})
	assert.Equal(t, "bump/1", p.passName(1, ModeForward))
	assert.Equal(t, "gbuffer:bump/0", p.passName(0, ModeGBuffer))
	assert.Equal(t, "shadow:simple", NewFacePool(Key{Type: Simple}).passName(0, ModeShadow))
}
