package core

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyAABB returns an inverted box that any Extend call will overwrite.
func EmptyAABB() AABB {
	inf := math32.Inf(1)
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

func NewAABB(min, max mgl32.Vec3) AABB {
	return AABB{Min: min, Max: max}
}

// AABBFromCenter builds a box from its center and half extents.
func AABBFromCenter(center, half mgl32.Vec3) AABB {
	return AABB{Min: center.Sub(half), Max: center.Add(half)}
}

func (b AABB) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// HalfExtents returns half the box size along each axis.
func (b AABB) HalfExtents() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

func (b AABB) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Radius is the radius of the bounding sphere around the box.
func (b AABB) Radius() float32 {
	if b.IsEmpty() {
		return 0
	}
	return b.HalfExtents().Len()
}

func (b AABB) Union(o AABB) AABB {
	if b.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return b
	}
	return AABB{
		Min: mgl32.Vec3{min(b.Min.X(), o.Min.X()), min(b.Min.Y(), o.Min.Y()), min(b.Min.Z(), o.Min.Z())},
		Max: mgl32.Vec3{max(b.Max.X(), o.Max.X()), max(b.Max.Y(), o.Max.Y()), max(b.Max.Z(), o.Max.Z())},
	}
}

// Extend grows the box to include p.
func (b AABB) Extend(p mgl32.Vec3) AABB {
	return AABB{
		Min: mgl32.Vec3{min(b.Min.X(), p.X()), min(b.Min.Y(), p.Y()), min(b.Min.Z(), p.Z())},
		Max: mgl32.Vec3{max(b.Max.X(), p.X()), max(b.Max.Y(), p.Y()), max(b.Max.Z(), p.Z())},
	}
}

// Grow returns the box padded by d on every side.
func (b AABB) Grow(d float32) AABB {
	pad := mgl32.Vec3{d, d, d}
	return AABB{Min: b.Min.Sub(pad), Max: b.Max.Add(pad)}
}

func (b AABB) ContainsPoint(p mgl32.Vec3) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y() &&
		p.Z() >= b.Min.Z() && p.Z() <= b.Max.Z()
}

// ContainsAABB reports whether o lies entirely inside b.
func (b AABB) ContainsAABB(o AABB) bool {
	return o.Min.X() >= b.Min.X() && o.Max.X() <= b.Max.X() &&
		o.Min.Y() >= b.Min.Y() && o.Max.Y() <= b.Max.Y() &&
		o.Min.Z() >= b.Min.Z() && o.Max.Z() <= b.Max.Z()
}

func (b AABB) Intersects(o AABB) bool {
	return b.Min.X() <= o.Max.X() && b.Max.X() >= o.Min.X() &&
		b.Min.Y() <= o.Max.Y() && b.Max.Y() >= o.Min.Y() &&
		b.Min.Z() <= o.Max.Z() && b.Max.Z() >= o.Min.Z()
}

// DistanceTo returns the distance from p to the closest point of the box,
// zero when p is inside.
func (b AABB) DistanceTo(p mgl32.Vec3) float32 {
	var sq float32
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			d := b.Min[i] - p[i]
			sq += d * d
		} else if p[i] > b.Max[i] {
			d := p[i] - b.Max[i]
			sq += d * d
		}
	}
	return math32.Sqrt(sq)
}

// Corners returns the eight box corners, min corner first.
func (b AABB) Corners() [8]mgl32.Vec3 {
	return [8]mgl32.Vec3{
		{b.Min.X(), b.Min.Y(), b.Min.Z()},
		{b.Max.X(), b.Min.Y(), b.Min.Z()},
		{b.Min.X(), b.Max.Y(), b.Min.Z()},
		{b.Max.X(), b.Max.Y(), b.Min.Z()},
		{b.Min.X(), b.Min.Y(), b.Max.Z()},
		{b.Max.X(), b.Min.Y(), b.Max.Z()},
		{b.Min.X(), b.Max.Y(), b.Max.Z()},
		{b.Max.X(), b.Max.Y(), b.Max.Z()},
	}
}

// Transform returns a conservative world box for b under m.
func (b AABB) Transform(m mgl32.Mat4) AABB {
	out := EmptyAABB()
	for _, c := range b.Corners() {
		out = out.Extend(m.Mul4x1(c.Vec4(1.0)).Vec3())
	}
	return out
}
