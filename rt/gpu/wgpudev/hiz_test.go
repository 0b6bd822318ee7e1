package wgpudev

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gekko3d/drawpipe/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(w, h int, depth float32) *DepthPyramid {
	p := NewDepthPyramid(w, h)
	for i := range p.Depth {
		p.Depth[i] = depth
	}
	return p
}

func box(min, max mgl32.Vec3) core.AABB { return core.AABB{Min: min, Max: max} }

func TestNewDepthPyramidStartsFar(t *testing.T) {
	p := NewDepthPyramid(0, 3)
	assert.Equal(t, 1, p.W)
	assert.Equal(t, 3, p.H)
	for _, d := range p.Depth {
		assert.Equal(t, farDepth, d)
	}
	assert.False(t, p.Occluded(mgl32.Ident4(), box(mgl32.Vec3{-0.5, -0.5, 0.5}, mgl32.Vec3{0.5, 0.5, 0.6})))
}

func TestUnpackSkipsRowPadding(t *testing.T) {
	data := make([]byte, 32)
	put := func(off int, f float32) { binary.LittleEndian.PutUint32(data[off:], math.Float32bits(f)) }
	put(0, 0.1)
	put(4, 0.2)
	put(8, 9) // padding
	put(16, 0.3)
	put(20, 0.4)

	p := NewDepthPyramid(2, 2)
	p.Unpack(data, 16)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, p.Depth)
}

func TestUnpackShortDataKeepsFar(t *testing.T) {
	p := NewDepthPyramid(2, 2)
	p.Unpack(make([]byte, 8), 16)
	assert.Equal(t, []float32{0, 0, farDepth, farDepth}, p.Depth)
}

func TestOccludedBehindNearerDepth(t *testing.T) {
	b := box(mgl32.Vec3{-0.5, -0.5, 0.5}, mgl32.Vec3{0.5, 0.5, 0.6})

	assert.True(t, filled(4, 4, 0.3).Occluded(mgl32.Ident4(), b))
	assert.False(t, filled(4, 4, 0.9).Occluded(mgl32.Ident4(), b))
	// Equal depth is not strictly behind.
	assert.False(t, filled(4, 4, 0.5).Occluded(mgl32.Ident4(), b))
}

func TestOccludedNeedsEveryCoveredTexel(t *testing.T) {
	p := filled(4, 4, 0.3)
	p.Depth[1*4+0] = farDepth
	b := box(mgl32.Vec3{-0.9, -0.9, 0.5}, mgl32.Vec3{0.9, 0.9, 0.6})
	assert.False(t, p.Occluded(mgl32.Ident4(), b))
}

func TestOccludedRowsFollowScreenY(t *testing.T) {
	p := NewDepthPyramid(4, 4)
	for x := 0; x < 4; x++ {
		p.Depth[x] = 0.1
	}
	top := box(mgl32.Vec3{-0.5, 0.6, 0.5}, mgl32.Vec3{0.5, 0.9, 0.6})
	bottom := box(mgl32.Vec3{-0.5, -0.9, 0.5}, mgl32.Vec3{0.5, -0.6, 0.6})

	assert.True(t, p.Occluded(mgl32.Ident4(), top))
	assert.False(t, p.Occluded(mgl32.Ident4(), bottom))
}

func TestOccludedNeverHidesNearOrOffscreenBoxes(t *testing.T) {
	p := filled(4, 4, 0)

	crossing := box(mgl32.Vec3{-0.5, -0.5, -0.5}, mgl32.Vec3{0.5, 0.5, 0.6})
	assert.False(t, p.Occluded(mgl32.Ident4(), crossing))

	offscreen := box(mgl32.Vec3{2, 2, 0.5}, mgl32.Vec3{3, 3, 0.6})
	assert.False(t, p.Occluded(mgl32.Ident4(), offscreen))

	proj := mgl32.Perspective(mgl32.DegToRad(60), 1, 1, 100)
	behind := box(mgl32.Vec3{-1, -1, 5}, mgl32.Vec3{1, 1, 6})
	assert.False(t, p.Occluded(DepthFix.Mul4(proj), behind))

	var nilPyramid *DepthPyramid
	assert.False(t, nilPyramid.Occluded(mgl32.Ident4(), crossing))
}

func TestOccludedWithPerspective(t *testing.T) {
	vp := DepthFix.Mul4(mgl32.Perspective(mgl32.DegToRad(60), 1, 1, 100))
	far := box(mgl32.Vec3{-1, -1, -51}, mgl32.Vec3{1, 1, -50})

	wall := filled(8, 8, 0.5)
	assert.True(t, wall.Occluded(vp, far), "wall near the camera hides a distant box")
	assert.False(t, filled(8, 8, farDepth).Occluded(vp, far))
}

func TestDepthFixMapsNearAndFar(t *testing.T) {
	vp := DepthFix.Mul4(mgl32.Perspective(mgl32.DegToRad(60), 1, 1, 100))

	near := vp.Mul4x1(mgl32.Vec4{0, 0, -1, 1})
	far := vp.Mul4x1(mgl32.Vec4{0, 0, -100, 1})
	assert.InDelta(t, 0, near.Z()/near.W(), 1e-5)
	assert.InDelta(t, 1, far.Z()/far.W(), 1e-5)
}

func TestReadbackLevel(t *testing.T) {
	mips := mipCount(960, 540)
	require.Equal(t, 10, mips)

	level, w, h := readbackLevel(960, 540, mips)
	assert.Equal(t, 4, level)
	assert.Equal(t, uint32(60), w)
	assert.Equal(t, uint32(33), h)

	level, w, h = readbackLevel(32, 16, mipCount(32, 16))
	assert.Equal(t, 0, level)
	assert.Equal(t, uint32(32), w)
	assert.Equal(t, uint32(16), h)
}

func TestMipCountAndRowAlignment(t *testing.T) {
	assert.Equal(t, 1, mipCount(1, 1))
	assert.Equal(t, 3, mipCount(4, 1))
	assert.Equal(t, uint32(256), alignedRow(1))
	assert.Equal(t, uint32(256), alignedRow(64))
	assert.Equal(t, uint32(512), alignedRow(65))
}

func TestFullscreenEntry(t *testing.T) {
	cases := map[string]struct {
		entry string
		blend blendMode
	}{
		"ambient":      {"fs_ambient", blendNone},
		"ssao":         {"fs_ssao", blendMultiply},
		"light.sun":    {"fs_light", blendAdd},
		"light.point":  {"fs_light", blendAdd},
		"atmospherics": {"fs_fog", blendAlpha},
		"composite":    {"fs_composite", blendNone},
		"glow.blur":    {"fs_blur", blendNone},
		"glow.combine": {"fs_add", blendNone},
		"fxaa":         {"fs_fxaa", blendNone},
		"dof":          {"fs_copy", blendNone},
		"copy":         {"fs_copy", blendNone},
		"light.":       {"fs_copy", blendNone},
	}
	for name, want := range cases {
		entry, blend := fullscreenEntry(name)
		assert.Equal(t, want.entry, entry, name)
		assert.Equal(t, want.blend, blend, name)
	}
}
