// Package gpu is the narrow device surface the render pipeline drives.
// Backends live in subpackages: wgpudev for WebGPU, gputest for tests.
package gpu

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrOutOfMemory is returned when a target does not fit in device memory.
	ErrOutOfMemory = errors.New("gpu: out of memory")
	// ErrUnsupported is returned for a feature the device lacks.
	ErrUnsupported = errors.New("gpu: unsupported")
)

// Caps is queried once per device. A missing capability permanently
// downgrades the matching feature.
type Caps struct {
	OcclusionQuery bool
	Deferred       bool
	MaxSamples     int
	MaxTextureSize int
}

type Format int

const (
	FormatRGBA8 Format = iota
	FormatRGBA16F
	FormatR32F
	FormatDepth32F
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "rgba8"
	case FormatRGBA16F:
		return "rgba16f"
	case FormatR32F:
		return "r32f"
	case FormatDepth32F:
		return "depth32f"
	}
	return "unknown"
}

// BytesPerPixel is used to estimate target memory.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA16F:
		return 8
	}
	return 4
}

type TargetDesc struct {
	Name    string
	Width   int
	Height  int
	Samples int
	Format  Format
	Mips    int
	// Layers > 1 creates an array target (shadow cascades).
	Layers int
}

func (d TargetDesc) String() string {
	return fmt.Sprintf("%s %dx%d x%d %s", d.Name, d.Width, d.Height, d.Samples, d.Format)
}

// SizeBytes estimates device memory use including samples, layers and mips.
func (d TargetDesc) SizeBytes() int64 {
	samples := max(d.Samples, 1)
	layers := max(d.Layers, 1)
	base := int64(d.Width) * int64(d.Height) * int64(d.Format.BytesPerPixel()) * int64(samples) * int64(layers)
	total := base
	for i := 1; i < d.Mips; i++ {
		base /= 4
		total += base
	}
	return total
}

// Target is a device render target.
type Target interface {
	Desc() TargetDesc
}

type LoadOp int

const (
	LoadClear LoadOp = iota
	LoadKeep
)

// PassDesc describes one render pass. Depth may be shared between passes.
type PassDesc struct {
	Name       string
	Color      []Target
	Depth      Target
	Load       LoadOp
	ClearColor [4]float32
	DepthWrite bool
	Blend      bool
	Layer      int
	ViewProj   mgl32.Mat4
}

// DrawCall is one indexed draw from a shared vertex buffer.
type DrawCall struct {
	Pool        string
	TextureKey  uint64
	IndexOffset uint32
	IndexCount  uint32
	BaseVertex  uint32
	Model       mgl32.Mat4
}

// FullscreenDesc describes a screen-space pass such as lighting or FXAA.
type FullscreenDesc struct {
	Name   string
	Inputs []Target
	Output Target
	Params []float32
}

// QueryID identifies an occlusion query. Zero is never valid.
type QueryID uint32

// QueryResult is the readback of one occlusion query.
type QueryResult struct {
	Ready   bool
	Samples uint32
}

// Occluder is the hidden-surface query surface.
type Occluder interface {
	// BeginOcclusion starts a query batch against the depth accumulated in
	// depth so far.
	BeginOcclusion(viewProj mgl32.Mat4, depth Target) error
	// IssueQuery tests one encoded box proxy.
	IssueQuery(proxy []byte) (QueryID, error)
	EndOcclusion()
	// QueryResult never blocks: an unfinished query reports Ready false.
	QueryResult(id QueryID) QueryResult
	ReleaseQuery(id QueryID)
}

// Device is the full surface used by the pipeline.
type Device interface {
	Occluder

	Caps() Caps
	CreateTarget(desc TargetDesc) (Target, error)
	ReleaseTarget(t Target)

	BeginPass(desc PassDesc) error
	Draw(call DrawCall)
	EndPass()
	Fullscreen(desc FullscreenDesc) error

	// EndFrame submits recorded work and advances asynchronous readbacks.
	EndFrame()
}
