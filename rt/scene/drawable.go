package scene

import (
	"github.com/gekko3d/drawpipe/rt/core"

	"github.com/go-gl/mathgl/mgl32"
)

type DrawableID Handle

func (id DrawableID) IsNil() bool { return Handle(id).IsNil() }

// SceneObject is the external object model a Drawable is bound to.
type SceneObject interface {
	WorldBoundingBox() core.AABB
	RenderType() RenderType
	IsDead() bool
}

// TextureRef is a streamed GPU resource. Ready is polled, never waited on.
type TextureRef interface {
	Ready() bool
	Key() uint64
}

// PoolRef is the non-owning link from a Face to the pool collecting it.
type PoolRef interface {
	RemoveFace(f *Face)
}

// Material describes the surface a face is shaded with.
type Material struct {
	BaseColor       [4]float32 // RGBA, alpha < 1 means blending
	TextureHasAlpha bool
	Bump            bool
	Shiny           bool
	NormalMap       bool
	// HasMaterial is set when the face carries a full material descriptor.
	HasMaterial bool
	FullBright  bool
	Glow        float32
}

// Translucent reports whether the surface needs alpha blending.
func (m Material) Translucent() bool {
	return m.BaseColor[3] < 1 || m.TextureHasAlpha
}

func OpaqueMaterial() Material {
	return Material{BaseColor: [4]float32{1, 1, 1, 1}}
}

// Face is one material surface of a Drawable.
type Face struct {
	Drawable DrawableID

	VertexOffset uint32
	VertexCount  uint32
	IndexOffset  uint32
	IndexCount   uint32

	Material Material
	Texture  TextureRef
	Center   mgl32.Vec3 // object space until the drawable is placed

	// Updated per frame.
	Pool        PoolRef
	Distance    float32
	Highlighted bool
}

// Ready reports whether every streamed resource of the face is resident.
func (f *Face) Ready() bool {
	return f.Texture == nil || f.Texture.Ready()
}

// TextureKey returns the texture identity used by per-texture pools.
func (f *Face) TextureKey() uint64 {
	if f.Texture == nil {
		return 0
	}
	return f.Texture.Key()
}

// Detach unlinks the face from its pool.
func (f *Face) Detach() {
	if f.Pool != nil {
		f.Pool.RemoveFace(f)
		f.Pool = nil
	}
}

// Drawable is a renderable instance of one scene object.
type Drawable struct {
	Object    SceneObject
	Type      RenderType
	Partition PartitionType
	Bounds    core.AABB
	Radius    float32
	Faces     []*Face
	State     StateFlags
	Group     GroupID

	Distance    float32
	LOD         int
	LODDistance float32 // distance at the last LOD switch
	Urgency     float32
}

func NewDrawable(obj SceneObject, faces ...*Face) Drawable {
	d := Drawable{
		Object: obj,
		Faces:  faces,
		LOD:    -1,
	}
	if obj != nil {
		d.Type = obj.RenderType()
		d.Partition = PartitionFor(d.Type)
		d.Bounds = obj.WorldBoundingBox()
		d.Radius = d.Bounds.Radius()
	}
	return d
}

// UpdateBounds pulls the world box from the scene object and reports whether
// it changed.
func (d *Drawable) UpdateBounds() bool {
	if d.Object == nil {
		return false
	}
	b := d.Object.WorldBoundingBox()
	if b == d.Bounds {
		return false
	}
	d.Bounds = b
	d.Radius = b.Radius()
	return true
}

// Center returns the bounds center.
func (d *Drawable) Center() mgl32.Vec3 {
	return d.Bounds.Center()
}

// HasAlpha reports whether any face needs blending.
func (d *Drawable) HasAlpha() bool {
	for _, f := range d.Faces {
		if f.Material.Translucent() {
			return true
		}
	}
	return false
}
