package lighting

import (
	"github.com/gekko3d/drawpipe/rt/core"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// splitLambda blends logarithmic and uniform cascade splits.
const splitLambda = 0.75

// ShadowView is one shadow map render: a sun cascade or a spot light.
type ShadowView struct {
	ViewProj mgl32.Mat4
	Frustum  core.Frustum
	// Far is the view distance where a cascade ends; zero for spots.
	Far   float32
	Layer int
}

// CascadeSplits returns the far distance of each of n cascades.
func CascadeSplits(near, far float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		p := float32(i+1) / float32(n)
		log := near * math32.Pow(far/near, p)
		uni := near + (far-near)*p
		out[i] = splitLambda*log + (1-splitLambda)*uni
	}
	return out
}

// SunCascades fits n orthographic shadow views around consecutive slices of
// the camera frustum, looking along sunDir.
func SunCascades(cam *core.Camera, sunDir mgl32.Vec3, n int) []ShadowView {
	if n <= 0 {
		return nil
	}
	dir := sunDir.Normalize()
	up := mgl32.Vec3{0, 0, 1}
	if math32.Abs(dir.Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 1, 0}
	}
	splits := CascadeSplits(cam.Near, cam.Far, n)
	out := make([]ShadowView, n)
	prev := cam.Near
	for i, far := range splits {
		center, radius := sliceSphere(cam, prev, far)
		// Casters up to one radius behind the slice still land in the map.
		eye := center.Sub(dir.Mul(radius * 2))
		view := mgl32.LookAtV(eye, center, up)
		proj := mgl32.Ortho(-radius, radius, -radius, radius, 0, radius*4)
		vp := proj.Mul4(view)
		out[i] = ShadowView{ViewProj: vp, Frustum: core.ExtractFrustum(vp), Far: far, Layer: i}
		prev = far
	}
	return out
}

// SpotView is the perspective shadow view of a spot light.
func SpotView(l *Light, layer int) ShadowView {
	dir := l.Direction.Normalize()
	up := mgl32.Vec3{0, 0, 1}
	if math32.Abs(dir.Dot(up)) > 0.99 {
		up = mgl32.Vec3{0, 1, 0}
	}
	view := mgl32.LookAtV(l.Position, l.Position.Add(dir), up)
	fov := mgl32.DegToRad(max(l.ConeAngle, 1))
	proj := mgl32.Perspective(fov, 1, 0.1, max(l.Range, 0.2))
	vp := proj.Mul4(view)
	return ShadowView{ViewProj: vp, Frustum: core.ExtractFrustum(vp), Layer: layer}
}

// sliceSphere bounds the part of the view frustum between near and far.
func sliceSphere(cam *core.Camera, near, far float32) (mgl32.Vec3, float32) {
	fwd := cam.Forward()
	tanY := math32.Tan(cam.FovY * 0.5)
	tanX := tanY * cam.Aspect
	mid := (near + far) * 0.5
	center := cam.Position.Add(fwd.Mul(mid))
	fx, fy := far*tanX, far*tanY
	radius := math32.Sqrt(fx*fx + fy*fy + (far-mid)*(far-mid))
	return center, radius
}
