package wgpudev

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/drawpipe/rt/core"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// farDepth is the depth assumed where no readback has landed yet, so boxes
// test visible until real data arrives.
const farDepth float32 = 1

// readbackWidth is the widest Hi-Z level copied back to the CPU.
const readbackWidth = 64

// DepthFix maps OpenGL clip depth (-w..w), as built by mgl32.Perspective,
// onto the 0..w range WebGPU rasterizes.
var DepthFix = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// DepthPyramid is one CPU-side Hi-Z level. Each texel holds the farthest
// depth of the screen region it covers.
type DepthPyramid struct {
	W, H  int
	Depth []float32
}

// NewDepthPyramid returns a w x h level filled with far depth.
func NewDepthPyramid(w, h int) *DepthPyramid {
	p := &DepthPyramid{W: max(w, 1), H: max(h, 1)}
	p.Depth = make([]float32, p.W*p.H)
	for i := range p.Depth {
		p.Depth[i] = farDepth
	}
	return p
}

// Unpack reads rows of little-endian float32 written with bytesPerRow
// padding, the layout of a texture-to-buffer copy.
func (p *DepthPyramid) Unpack(data []byte, bytesPerRow int) {
	for y := 0; y < p.H; y++ {
		row := y * bytesPerRow
		for x := 0; x < p.W; x++ {
			off := row + x*4
			if off+4 > len(data) {
				return
			}
			p.Depth[y*p.W+x] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		}
	}
}

// Occluded reports whether box lies behind the pyramid everywhere it
// covers. viewProj must produce 0..1 depth (see DepthFix). Boxes crossing
// the near plane are never occluded.
func (p *DepthPyramid) Occluded(viewProj mgl32.Mat4, box core.AABB) bool {
	if p == nil || len(p.Depth) == 0 {
		return false
	}
	minX, minY := math32.Inf(1), math32.Inf(1)
	maxX, maxY := math32.Inf(-1), math32.Inf(-1)
	nearest := math32.Inf(1)
	for _, c := range box.Corners() {
		clip := viewProj.Mul4x1(c.Vec4(1))
		if clip.W() <= 0 {
			return false
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		minX = math32.Min(minX, ndc.X())
		maxX = math32.Max(maxX, ndc.X())
		minY = math32.Min(minY, ndc.Y())
		maxY = math32.Max(maxY, ndc.Y())
		nearest = math32.Min(nearest, ndc.Z())
	}
	if nearest < 0 {
		return false
	}
	if maxX < -1 || minX > 1 || maxY < -1 || minY > 1 {
		// Off screen boxes are the frustum's business, not ours.
		return false
	}

	x0, x1 := p.texel(minX, p.W), p.texel(maxX, p.W)
	// NDC y points up, texel rows go down.
	y0, y1 := p.texel(-maxY, p.H), p.texel(-minY, p.H)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if p.Depth[y*p.W+x] >= nearest {
				return false
			}
		}
	}
	return true
}

func (p *DepthPyramid) texel(ndc float32, n int) int {
	t := int(math32.Floor((ndc*0.5 + 0.5) * float32(n)))
	return min(max(t, 0), n-1)
}

// readbackLevel picks the first mip no wider than readbackWidth.
func readbackLevel(w, h uint32, mips int) (level int, lw, lh uint32) {
	lw, lh = w, h
	for level < mips-1 && lw > readbackWidth {
		level++
		lw = max(lw>>1, 1)
		lh = max(lh>>1, 1)
	}
	return level, lw, lh
}

// mipCount returns the number of levels down to 1x1.
func mipCount(w, h uint32) int {
	n := 0
	for dim := max(w, h); dim > 0; dim >>= 1 {
		n++
	}
	return n
}

func alignedRow(w uint32) uint32 {
	return (w*4 + 255) &^ 255
}
