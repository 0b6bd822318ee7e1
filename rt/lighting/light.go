// Package lighting composites the G-buffer into the lit screen image.
package lighting

import (
	"slices"

	"github.com/gekko3d/drawpipe/rt/core"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

type Kind uint32

const (
	KindPoint Kind = iota
	KindSun
	KindSpot
	KindAmbient
)

func (k Kind) String() string {
	switch k {
	case KindSun:
		return "sun"
	case KindSpot:
		return "spot"
	case KindAmbient:
		return "ambient"
	}
	return "point"
}

type Light struct {
	Kind      Kind
	Position  mgl32.Vec3
	Direction mgl32.Vec3 // sun and spot; points from the light
	Color     mgl32.Vec3
	Intensity float32
	Range     float32 // point and spot
	ConeAngle float32 // full cone in degrees, spot only
	Shadows   bool

	distance float32
}

// Params packs the light the way the lighting pass reads it:
// position, direction, color+intensity, range/cos(half cone)/kind/pad.
func (l *Light) Params() []float32 {
	cosCone := math32.Cos(mgl32.DegToRad(l.ConeAngle) * 0.5)
	return []float32{
		l.Position[0], l.Position[1], l.Position[2], 1,
		l.Direction[0], l.Direction[1], l.Direction[2], 0,
		l.Color[0], l.Color[1], l.Color[2], l.Intensity,
		l.Range, cosCone, float32(l.Kind), 0,
	}
}

// Global lights (sun, ambient) are never culled.
func (l *Light) Global() bool { return l.Kind == KindSun || l.Kind == KindAmbient }

// CullLights returns the lights that can touch the view: global lights
// first, then local lights whose range sphere intersects the frustum,
// nearest first, capped at maxLocal.
func CullLights(cam *core.Camera, lights []Light, maxLocal int) []Light {
	fr := cam.Frustum()
	var global, local []Light
	for _, l := range lights {
		if l.Global() {
			global = append(global, l)
			continue
		}
		if l.Intensity <= 0 || l.Range <= 0 {
			continue
		}
		if !fr.SphereInFrustum(l.Position, l.Range) {
			continue
		}
		l.distance = l.Position.Sub(cam.Position).Len()
		local = append(local, l)
	}
	slices.SortStableFunc(local, func(a, b Light) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})
	if len(local) > maxLocal {
		local = local[:max(maxLocal, 0)]
	}
	return append(global, local...)
}
