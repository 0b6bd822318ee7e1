package main

import (
	"testing"

	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridMesh(t *testing.T) {
	g := buildGrid(4, 3)
	require.Len(t, g.cubes, 16)

	vertices, indices := g.mesh()
	assert.Len(t, vertices, 16*cubeVertices)
	require.Len(t, indices, 36)
	for _, i := range indices {
		assert.Less(t, i, uint32(cubeVertices))
	}

	b := g.cubes[0].WorldBoundingBox()
	for _, v := range vertices[:cubeVertices] {
		for axis := 0; axis < 3; axis++ {
			assert.GreaterOrEqual(t, v.Position[axis], b.Min[axis])
			assert.LessOrEqual(t, v.Position[axis], b.Max[axis])
		}
	}
}

func TestGridStreamsSomeCubes(t *testing.T) {
	g := buildGrid(4, 3)
	streamed := 0
	for _, obj := range g.cubes {
		if _, ok := obj.(*streamedCube); ok {
			streamed++
		}
	}
	assert.Equal(t, 4, streamed)
}

func TestGridWallIsTall(t *testing.T) {
	g := buildGrid(4, 3)
	wall := g.cubes[2*4].WorldBoundingBox()
	assert.Equal(t, float32(8), wall.Max[2])
	assert.Equal(t, scene.RenderSimple, g.cubes[1].RenderType())
}
