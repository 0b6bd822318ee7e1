package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Frustum holds 6 planes in Ax+By+Cz+D=0 form with normals pointing inside,
// ordered Left, Right, Bottom, Top, Near, Far.
type Frustum struct {
	Planes [6]mgl32.Vec4
}

const (
	PlaneLeft = iota
	PlaneRight
	PlaneBottom
	PlaneTop
	PlaneNear
	PlaneFar
)

// Containment is the result of a frustum test.
type Containment int

const (
	Outside Containment = iota
	Intersects
	Inside
)

// ExtractFrustum extracts the 6 planes of the frustum from the view-projection matrix.
func ExtractFrustum(vp mgl32.Mat4) Frustum {
	var f Frustum

	// Left: Row 3 + Row 0
	f.Planes[PlaneLeft] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(0, 0),
		vp.At(3, 1) + vp.At(0, 1),
		vp.At(3, 2) + vp.At(0, 2),
		vp.At(3, 3) + vp.At(0, 3),
	}
	// Right: Row 3 - Row 0
	f.Planes[PlaneRight] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(0, 0),
		vp.At(3, 1) - vp.At(0, 1),
		vp.At(3, 2) - vp.At(0, 2),
		vp.At(3, 3) - vp.At(0, 3),
	}
	// Bottom: Row 3 + Row 1
	f.Planes[PlaneBottom] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(1, 0),
		vp.At(3, 1) + vp.At(1, 1),
		vp.At(3, 2) + vp.At(1, 2),
		vp.At(3, 3) + vp.At(1, 3),
	}
	// Top: Row 3 - Row 1
	f.Planes[PlaneTop] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(1, 0),
		vp.At(3, 1) - vp.At(1, 1),
		vp.At(3, 2) - vp.At(1, 2),
		vp.At(3, 3) - vp.At(1, 3),
	}
	// Near: Row 3 + Row 2 (OpenGL-style -1..1)
	f.Planes[PlaneNear] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(2, 0),
		vp.At(3, 1) + vp.At(2, 1),
		vp.At(3, 2) + vp.At(2, 2),
		vp.At(3, 3) + vp.At(2, 3),
	}
	// Far: Row 3 - Row 2
	f.Planes[PlaneFar] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(2, 0),
		vp.At(3, 1) - vp.At(2, 1),
		vp.At(3, 2) - vp.At(2, 2),
		vp.At(3, 3) - vp.At(2, 3),
	}

	for i := range f.Planes {
		p := f.Planes[i]
		length := float32(math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])))
		if length > 0 {
			f.Planes[i] = p.Mul(1.0 / length)
		}
	}
	return f
}

// ClassifyAABB tests b against every plane using the positive and negative
// vertices of the box.
func (f *Frustum) ClassifyAABB(b AABB) Containment {
	result := Inside
	for i := range f.Planes {
		plane := f.Planes[i]
		var pv, nv mgl32.Vec3
		for a := 0; a < 3; a++ {
			if plane[a] > 0 {
				pv[a], nv[a] = b.Max[a], b.Min[a]
			} else {
				pv[a], nv[a] = b.Min[a], b.Max[a]
			}
		}
		if plane[0]*pv[0]+plane[1]*pv[1]+plane[2]*pv[2]+plane[3] < 0 {
			return Outside
		}
		if plane[0]*nv[0]+plane[1]*nv[1]+plane[2]*nv[2]+plane[3] < 0 {
			result = Intersects
		}
	}
	return result
}

// AABBInFrustum reports whether any part of b may be visible.
func (f *Frustum) AABBInFrustum(b AABB) bool {
	return f.ClassifyAABB(b) != Outside
}

// SphereInFrustum reports whether a sphere may be visible.
func (f *Frustum) SphereInFrustum(center mgl32.Vec3, radius float32) bool {
	for i := range f.Planes {
		p := f.Planes[i]
		if p[0]*center[0]+p[1]*center[1]+p[2]*center[2]+p[3] < -radius {
			return false
		}
	}
	return true
}
