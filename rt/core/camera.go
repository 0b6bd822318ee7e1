package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CameraState is a free-flying Z-up camera driven by yaw and pitch.
type CameraState struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	Speed       float32
	Sensitivity float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position:    mgl32.Vec3{0, 2, 20},
		Speed:       10.0,
		Sensitivity: 0.003,
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	// Z-up: Forward in XY plane, Z for pitch
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(-math.Sin(float64(c.Yaw))),
		float32(math.Cos(float64(c.Yaw))),
		0,
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 0, 1})
}

// Camera is the read-only per-frame view handed to the pipeline.
type Camera struct {
	Position mgl32.Vec3
	View     mgl32.Mat4
	Proj     mgl32.Mat4
	FovY     float32 // radians
	Aspect   float32
	Near     float32
	Far      float32

	frustum    Frustum
	hasFrustum bool
}

// NewPerspectiveCamera builds a camera looking from eye at target.
func NewPerspectiveCamera(eye, target, up mgl32.Vec3, fovY, aspect, near, far float32) *Camera {
	c := &Camera{
		Position: eye,
		View:     mgl32.LookAtV(eye, target, up),
		FovY:     fovY,
		Aspect:   aspect,
		Near:     near,
		Far:      far,
	}
	c.Proj = mgl32.Perspective(fovY, aspect, near, far)
	return c
}

// CameraFromState snapshots a fly camera into a frame camera.
func CameraFromState(s *CameraState, fovY, aspect, near, far float32) *Camera {
	eye := s.Position
	return NewPerspectiveCamera(eye, eye.Add(s.GetForward()), mgl32.Vec3{0, 0, 1}, fovY, aspect, near, far)
}

// WithFarClip returns a copy of c whose far plane is far.
func (c *Camera) WithFarClip(far float32) *Camera {
	if far <= c.Near || far == c.Far {
		return c
	}
	out := *c
	out.Far = far
	out.Proj = mgl32.Perspective(c.FovY, c.Aspect, c.Near, far)
	out.hasFrustum = false
	return &out
}

func (c *Camera) ViewProj() mgl32.Mat4 {
	return c.Proj.Mul4(c.View)
}

// Frustum returns the normalized frustum planes, computed once per camera.
func (c *Camera) Frustum() Frustum {
	if !c.hasFrustum {
		c.frustum = ExtractFrustum(c.ViewProj())
		c.hasFrustum = true
	}
	return c.frustum
}

// Forward returns the view direction in world space.
func (c *Camera) Forward() mgl32.Vec3 {
	inv := c.View.Inv()
	return inv.Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3().Normalize()
}

// PixelRadius estimates the projected screen radius in pixels of a sphere at
// the given distance for a viewport of the given height.
func (c *Camera) PixelRadius(radius, distance float32, viewportHeight int) float32 {
	if distance <= c.Near {
		return float32(viewportHeight)
	}
	t := float32(math.Tan(float64(c.FovY) * 0.5))
	return radius / (distance * t) * float32(viewportHeight) * 0.5
}
