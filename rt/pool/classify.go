package pool

import "github.com/gekko3d/drawpipe/rt/scene"

// ClassifyMaterial picks the pool for a generic surface. Translucency is
// checked first since any sub-opaque surface must blend.
func ClassifyMaterial(m scene.Material) Type {
	switch {
	case m.Translucent():
		return Alpha
	case (m.Bump || m.Shiny) && !m.NormalMap:
		return Bump
	case m.HasMaterial:
		return Materials
	case m.FullBright:
		return FullBright
	}
	return Simple
}

// Classify picks the pool for a face of a drawable with render type rt.
func Classify(rt scene.RenderType, m scene.Material) Type {
	switch rt {
	case scene.RenderSky:
		return Sky
	case scene.RenderWater:
		return Water
	case scene.RenderHUD:
		return HUD
	case scene.RenderGlow:
		return Glow
	}
	if m.Translucent() {
		return Alpha
	}
	switch rt {
	case scene.RenderGround:
		return Ground
	case scene.RenderTerrain:
		return Terrain
	case scene.RenderTree:
		return Tree
	case scene.RenderGrass:
		return Grass
	case scene.RenderAvatar:
		return Avatar
	case scene.RenderAlpha:
		return Alpha
	case scene.RenderBump:
		return Bump
	case scene.RenderMaterials:
		return Materials
	case scene.RenderFullBright:
		return FullBright
	}
	return ClassifyMaterial(m)
}

// WantsGlow reports whether an opaque face also contributes to the glow pass.
func WantsGlow(m scene.Material) bool {
	return m.Glow > 0 && !m.Translucent()
}
