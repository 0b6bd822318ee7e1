package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func testCamera() *Camera {
	// Camera at origin looking down -Z, 90 deg FOV, near 1, far 100
	return NewPerspectiveCamera(
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0, 0, -1},
		mgl32.Vec3{0, 1, 0},
		mgl32.DegToRad(90), 1.0, 1.0, 100.0,
	)
}

func TestFrustumCulling(t *testing.T) {
	f := testCamera().Frustum()

	tests := []struct {
		name     string
		aabbMin  mgl32.Vec3
		aabbMax  mgl32.Vec3
		expected Containment
	}{
		{"Inside (center)", mgl32.Vec3{-1, -1, -10}, mgl32.Vec3{1, 1, -5}, Inside},
		{"Outside (Left)", mgl32.Vec3{-20, -1, -10}, mgl32.Vec3{-15, 1, -5}, Outside},
		{"Outside (Right)", mgl32.Vec3{15, -1, -10}, mgl32.Vec3{20, 1, -5}, Outside},
		{"Outside (Behind/Near)", mgl32.Vec3{-1, -1, 2}, mgl32.Vec3{1, 1, 5}, Outside},
		{"Outside (Far)", mgl32.Vec3{-1, -1, -200}, mgl32.Vec3{1, 1, -150}, Outside},
		{"Intersecting (Left Plane)", mgl32.Vec3{-15, -1, -10}, mgl32.Vec3{-5, 1, -5}, Intersects},
		{"Encompassing (Huge box)", mgl32.Vec3{-1000, -1000, -1000}, mgl32.Vec3{1000, 1000, 1000}, Intersects},
	}

	for _, tc := range tests {
		got := f.ClassifyAABB(NewAABB(tc.aabbMin, tc.aabbMax))
		if got != tc.expected {
			t.Errorf("Test %s failed: expected %v, got %v", tc.name, tc.expected, got)
			for i, p := range f.Planes {
				center := tc.aabbMin.Add(tc.aabbMax).Mul(0.5)
				t.Logf("  P%d: %v, Dist(Center)=%f", i, p, p.Dot(center.Vec4(1.0)))
			}
		}
	}
}

func TestFrustumOrtho(t *testing.T) {
	proj := mgl32.Ortho(-10, 10, -10, 10, 0, 20)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := ExtractFrustum(proj.Mul4(view))

	if !f.AABBInFrustum(NewAABB(mgl32.Vec3{-1, -1, -6}, mgl32.Vec3{1, 1, -4})) {
		t.Error("Ortho: AABB should be inside")
	}
	// Far=20 => Z=-20
	if f.AABBInFrustum(NewAABB(mgl32.Vec3{-1, -1, -26}, mgl32.Vec3{1, 1, -24})) {
		t.Error("Ortho: AABB at -25 should be outside")
	}
}

func TestSphereInFrustum(t *testing.T) {
	f := testCamera().Frustum()
	assert.True(t, f.SphereInFrustum(mgl32.Vec3{0, 0, -10}, 1))
	assert.False(t, f.SphereInFrustum(mgl32.Vec3{0, 0, 10}, 1))
	// Just behind the near plane but overlapping it
	assert.True(t, f.SphereInFrustum(mgl32.Vec3{0, 0, 0}, 2))
}

func TestWithFarClip(t *testing.T) {
	cam := testCamera()
	near := cam.WithFarClip(20)

	box := NewAABB(mgl32.Vec3{-1, -1, -60}, mgl32.Vec3{1, 1, -50})
	f := cam.Frustum()
	nf := near.Frustum()
	assert.True(t, f.AABBInFrustum(box))
	assert.False(t, nf.AABBInFrustum(box))
	assert.Equal(t, float32(100), cam.Far, "original camera must not change")
}

func TestAABBHelpers(t *testing.T) {
	a := NewAABB(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 2, 2})
	b := NewAABB(mgl32.Vec3{1, 1, 1}, mgl32.Vec3{4, 4, 4})

	u := a.Union(b)
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, u.Min)
	assert.Equal(t, mgl32.Vec3{4, 4, 4}, u.Max)
	assert.True(t, a.Intersects(b))
	assert.True(t, u.ContainsAABB(a))
	assert.False(t, a.ContainsAABB(b))

	assert.Equal(t, float32(0), a.DistanceTo(mgl32.Vec3{1, 1, 1}))
	assert.InDelta(t, 3.0, a.DistanceTo(mgl32.Vec3{5, 1, 1}), 1e-5)

	empty := EmptyAABB()
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, a, empty.Union(a))
	assert.Equal(t, float32(0), empty.Radius())
}

func TestAABBTransform(t *testing.T) {
	a := NewAABB(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	moved := a.Transform(mgl32.Translate3D(10, 0, 0))
	assert.InDelta(t, 9.0, moved.Min.X(), 1e-5)
	assert.InDelta(t, 11.0, moved.Max.X(), 1e-5)
}
