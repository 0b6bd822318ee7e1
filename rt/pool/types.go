// Package pool groups faces by shading family so draws can be batched.
package pool

// Type is a pool family. The declaration order is the global draw order.
type Type int

const (
	Sky Type = iota
	Ground
	Terrain
	Simple
	Materials
	Bump
	Tree
	Grass
	FullBright
	Avatar
	Water // follows every type that writes depth
	Alpha
	Glow
	HUD
	NumTypes
)

// OcclusionBoundary is the first type drawn after the occlusion pass has
// tested against the depth of everything before it.
const OcclusionBoundary = Grass

var typeNames = [...]string{
	Sky:        "sky",
	Ground:     "ground",
	Terrain:    "terrain",
	Simple:     "simple",
	Materials:  "materials",
	Bump:       "bump",
	Tree:       "tree",
	Grass:      "grass",
	FullBright: "fullbright",
	Avatar:     "avatar",
	Water:      "water",
	Alpha:      "alpha",
	Glow:       "glow",
	HUD:        "hud",
}

func (t Type) String() string {
	if t >= 0 && t < NumTypes {
		return typeNames[t]
	}
	return "unknown"
}

// Order returns every type in draw order.
func Order() []Type {
	out := make([]Type, NumTypes)
	for i := range out {
		out[i] = Type(i)
	}
	return out
}

// PerTexture pools are keyed by texture identity as well as type.
func (t Type) PerTexture() bool {
	return t == Terrain || t == Tree
}

// Opaque types write depth and cast shadows.
func (t Type) Opaque() bool {
	switch t {
	case Terrain, Simple, Materials, Bump, Tree, Grass, FullBright, Avatar, Ground:
		return true
	}
	return false
}

// Deferred types render into the G-buffer when the deferred path is active.
// The rest draw forward after lighting.
func (t Type) Deferred() bool {
	switch t {
	case Terrain, Simple, Materials, Bump, Tree, Grass, FullBright, Avatar:
		return true
	}
	return false
}

// Passes is the number of render passes a type needs.
func (t Type) Passes() int {
	switch t {
	case Bump, Avatar:
		return 2
	}
	return 1
}

// Key identifies one pool instance.
type Key struct {
	Type    Type
	Texture uint64
}

// KeyFor drops the texture for types that are not per-texture.
func KeyFor(t Type, texture uint64) Key {
	if !t.PerTexture() {
		texture = 0
	}
	return Key{Type: t, Texture: texture}
}
