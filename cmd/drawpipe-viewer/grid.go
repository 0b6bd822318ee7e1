package main

import (
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu/wgpudev"
	"github.com/gekko3d/drawpipe/rt/pipeline"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
)

const cubeVertices = 24

type cube struct {
	bounds core.AABB
	typ    scene.RenderType
}

func (c *cube) WorldBoundingBox() core.AABB  { return c.bounds }
func (c *cube) RenderType() scene.RenderType { return c.typ }
func (c *cube) IsDead() bool                 { return false }

// streamedCube only draws once its mesh has been fetched.
type streamedCube struct {
	cube
	key uint64
}

func (c *streamedCube) MeshKey() uint64 { return c.key }

type grid struct {
	cubes []scene.SceneObject
}

// buildGrid lays side*side cubes on the ground plane with a wall of
// taller blocks across the middle so occlusion has something to do.
func buildGrid(side int, spacing float32) *grid {
	g := &grid{}
	half := float32(side) * spacing / 2
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			center := mgl32.Vec3{float32(x)*spacing - half, float32(y)*spacing - half, 0.5}
			extent := mgl32.Vec3{0.5, 0.5, 0.5}
			if y == side/2 {
				extent = mgl32.Vec3{spacing / 2, 0.5, 4}
				center[2] = 4
			}
			c := cube{bounds: core.AABBFromCenter(center, extent)}
			switch {
			case (x+y)%7 == 0:
				c.typ = scene.RenderGlow
			case (x+y)%5 == 0:
				c.typ = scene.RenderAlpha
			}
			if (x*side+y)%4 == 3 {
				g.cubes = append(g.cubes, &streamedCube{cube: c, key: uint64(x*side + y)})
			} else {
				g.cubes = append(g.cubes, &c)
			}
		}
	}
	return g
}

// mesh returns world-space vertices for every cube and the index list
// they share through the base vertex.
func (g *grid) mesh() ([]wgpudev.Vertex, []uint32) {
	vertices := make([]wgpudev.Vertex, 0, len(g.cubes)*cubeVertices)
	for _, obj := range g.cubes {
		vertices = appendCube(vertices, obj.WorldBoundingBox())
	}
	var indices []uint32
	for f := uint32(0); f < 6; f++ {
		b := f * 4
		indices = append(indices, b, b+1, b+2, b, b+2, b+3)
	}
	return vertices, indices
}

func (g *grid) populate(p *pipeline.Pipeline) error {
	for i, obj := range g.cubes {
		b := obj.WorldBoundingBox()
		mat := scene.OpaqueMaterial()
		switch obj.RenderType() {
		case scene.RenderAlpha:
			mat.BaseColor[3] = 0.5
		case scene.RenderGlow:
			mat.Glow = 1
		}
		f := &scene.Face{
			VertexOffset: uint32(i * cubeVertices),
			VertexCount:  cubeVertices,
			IndexCount:   36,
			Material:     mat,
			Center:       b.Center(),
		}
		if _, err := p.AddObject(obj, f); err != nil {
			return err
		}
	}
	return nil
}

var cubeFaces = [6]struct {
	normal mgl32.Vec3
	// corner selectors, counter-clockwise seen from outside
	corners [4][3]int
}{
	{mgl32.Vec3{1, 0, 0}, [4][3]int{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{mgl32.Vec3{-1, 0, 0}, [4][3]int{{0, 1, 0}, {0, 0, 0}, {0, 0, 1}, {0, 1, 1}}},
	{mgl32.Vec3{0, 1, 0}, [4][3]int{{1, 1, 0}, {0, 1, 0}, {0, 1, 1}, {1, 1, 1}}},
	{mgl32.Vec3{0, -1, 0}, [4][3]int{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}},
	{mgl32.Vec3{0, 0, 1}, [4][3]int{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}}},
	{mgl32.Vec3{0, 0, -1}, [4][3]int{{0, 1, 0}, {1, 1, 0}, {1, 0, 0}, {0, 0, 0}}},
}

var cornerUV = [4][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

func appendCube(out []wgpudev.Vertex, b core.AABB) []wgpudev.Vertex {
	pick := func(sel [3]int) [3]float32 {
		var p [3]float32
		for i := range p {
			p[i] = b.Min[i]
			if sel[i] == 1 {
				p[i] = b.Max[i]
			}
		}
		return p
	}
	for _, face := range cubeFaces {
		for i, sel := range face.corners {
			out = append(out, wgpudev.Vertex{
				Position: pick(sel),
				Normal:   face.normal,
				UV:       cornerUV[i],
			})
		}
	}
	return out
}
