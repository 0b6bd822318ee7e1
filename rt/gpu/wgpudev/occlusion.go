package wgpudev

import (
	"fmt"
	"sync"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/gpu/wgpudev/shaders"
	"github.com/gekko3d/drawpipe/rt/occlusion"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

type readbackState int

const (
	readbackIdle readbackState = iota
	readbackCopy
	readbackMapping
	readbackMapped
)

// hizState owns the GPU depth pyramid and the buffer its coarse level is
// read back through.
type hizState struct {
	dev *wgpu.Device

	fromBGL  *wgpu.BindGroupLayout
	downBGL  *wgpu.BindGroupLayout
	fromPipe *wgpu.ComputePipeline
	downPipe *wgpu.ComputePipeline

	tex    *wgpu.Texture
	views  []*wgpu.TextureView
	downBG []*wgpu.BindGroup
	w, h   uint32

	src   *Target
	srcBG *wgpu.BindGroup

	level    int
	lw, lh   uint32
	readback *wgpu.Buffer

	mu      sync.Mutex
	state   readbackState
	built   bool // pyramid rebuilt this frame
	builtVP mgl32.Mat4
	copyVP  mgl32.Mat4

	latest   *DepthPyramid
	latestVP mgl32.Mat4
}

func newHiZ(dev *wgpu.Device) (*hizState, error) {
	h := &hizState{dev: dev}
	var err error
	h.fromBGL, err = dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Hi-Z From Depth BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeDepth,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			hizStorageEntry(),
		},
	})
	if err != nil {
		return nil, err
	}
	h.downBGL, err = dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Hi-Z Downsample BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			hizStorageEntry(),
		},
	})
	if err != nil {
		return nil, err
	}
	if h.fromPipe, err = h.pipeline("Hi-Z From Depth", shaders.HiZWGSL, "from_depth", h.fromBGL); err != nil {
		return nil, err
	}
	if h.downPipe, err = h.pipeline("Hi-Z Downsample", shaders.HiZDownsampleWGSL, "downsample", h.downBGL); err != nil {
		return nil, err
	}
	return h, nil
}

func hizStorageEntry() wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    1,
		Visibility: wgpu.ShaderStageCompute,
		StorageTexture: wgpu.StorageTextureBindingLayout{
			Access:        wgpu.StorageTextureAccessWriteOnly,
			Format:        wgpu.TextureFormatR32Float,
			ViewDimension: wgpu.TextureViewDimension2D,
		},
	}
}

func (h *hizState) pipeline(label, code, entry string, bgl *wgpu.BindGroupLayout) (*wgpu.ComputePipeline, error) {
	mod, err := h.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + " CS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: %s shader: %w", label, err)
	}
	defer mod.Release()
	layout, err := h.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}
	defer layout.Release()
	return h.dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod,
			EntryPoint: entry,
		},
	})
}

// resize rebuilds the pyramid at half the depth resolution.
func (h *hizState) resize(w, h0 uint32) error {
	w, h0 = max(w/2, 1), max(h0/2, 1)
	if h.tex != nil && h.w == w && h.h == h0 {
		return nil
	}
	h.releaseTextures()
	mips := mipCount(w, h0)
	var err error
	h.tex, err = h.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Hi-Z Texture",
		Size:          wgpu.Extent3D{Width: w, Height: h0, DepthOrArrayLayers: 1},
		MipLevelCount: uint32(mips),
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR32Float,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return err
	}
	h.w, h.h = w, h0
	for i := 0; i < mips; i++ {
		v, err := h.tex.CreateView(&wgpu.TextureViewDescriptor{
			Label:           fmt.Sprintf("Hi-Z Mip %d", i),
			Format:          wgpu.TextureFormatR32Float,
			Dimension:       wgpu.TextureViewDimension2D,
			BaseMipLevel:    uint32(i),
			MipLevelCount:   1,
			BaseArrayLayer:  0,
			ArrayLayerCount: 1,
		})
		if err != nil {
			return err
		}
		h.views = append(h.views, v)
	}
	for i := 0; i < mips-1; i++ {
		bg, err := h.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("Hi-Z Pass %d", i+1),
			Layout: h.downBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: h.views[i]},
				{Binding: 1, TextureView: h.views[i+1]},
			},
		})
		if err != nil {
			return err
		}
		h.downBG = append(h.downBG, bg)
	}

	level, lw, lh := readbackLevel(w, h0, mips)
	h.level, h.lw, h.lh = level, lw, lh
	h.readback, err = h.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Hi-Z Readback",
		Size:  uint64(alignedRow(lw) * lh),
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.state = readbackIdle
	h.mu.Unlock()
	return nil
}

// build dispatches the pyramid from depth.
func (h *hizState) build(enc *wgpu.CommandEncoder, depth *Target, viewProj mgl32.Mat4) error {
	if err := h.resize(uint32(depth.desc.Width), uint32(depth.desc.Height)); err != nil {
		return fmt.Errorf("wgpudev: hi-z: %w", err)
	}
	if h.src != depth || h.srcBG == nil {
		if h.srcBG != nil {
			h.srcBG.Release()
		}
		bg, err := h.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "Hi-Z Pass 0",
			Layout: h.fromBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: depth.view(0)},
				{Binding: 1, TextureView: h.views[0]},
			},
		})
		if err != nil {
			h.src, h.srcBG = nil, nil
			return fmt.Errorf("wgpudev: hi-z bind group: %w", err)
		}
		h.src, h.srcBG = depth, bg
	}

	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(h.fromPipe)
	pass.SetBindGroup(0, h.srcBG, nil)
	pass.DispatchWorkgroups((h.w+7)/8, (h.h+7)/8, 1)

	pass.SetPipeline(h.downPipe)
	w, hh := h.w, h.h
	for _, bg := range h.downBG {
		w, hh = max(w>>1, 1), max(hh>>1, 1)
		pass.SetBindGroup(0, bg, nil)
		pass.DispatchWorkgroups((w+7)/8, (hh+7)/8, 1)
	}
	if err := pass.End(); err != nil {
		return fmt.Errorf("wgpudev: hi-z pass: %w", err)
	}
	pass.Release()
	h.built = true
	h.builtVP = viewProj
	return nil
}

// copyForReadback copies the coarse level when the readback buffer is idle.
func (h *hizState) copyForReadback(enc *wgpu.CommandEncoder) {
	if !h.built || h.readback == nil {
		return
	}
	h.built = false
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != readbackIdle {
		return
	}
	h.state = readbackCopy
	h.copyVP = h.builtVP
	enc.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  h.tex,
			MipLevel: uint32(h.level),
			Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
		},
		&wgpu.ImageCopyBuffer{
			Buffer: h.readback,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  alignedRow(h.lw),
				RowsPerImage: h.lh,
			},
		},
		&wgpu.Extent3D{Width: h.lw, Height: h.lh, DepthOrArrayLayers: 1},
	)
}

// advance moves the readback one step after a submit: a finished copy
// starts mapping, a finished mapping becomes the latest pyramid.
func (h *hizState) advance(log core.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case readbackCopy:
		h.state = readbackMapping
		buf := h.readback
		buf.MapAsync(wgpu.MapModeRead, 0, buf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.readback != buf {
				return
			}
			if status == wgpu.BufferMapAsyncStatusSuccess {
				h.state = readbackMapped
			} else {
				log.Debugf("wgpudev: hi-z map failed: %v", status)
				h.state = readbackIdle
			}
		})
	case readbackMapped:
		size := h.readback.GetSize()
		data := h.readback.GetMappedRange(0, uint(size))
		p := NewDepthPyramid(int(h.lw), int(h.lh))
		p.Unpack(data, int(alignedRow(h.lw)))
		h.readback.Unmap()
		h.latest = p
		h.latestVP = h.copyVP
		h.state = readbackIdle
	}
}

func (h *hizState) occluded(box core.AABB) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest.Occluded(h.latestVP, box)
}

func (h *hizState) forget(t *Target) {
	if h == nil || h.src != t {
		return
	}
	if h.srcBG != nil {
		h.srcBG.Release()
	}
	h.src, h.srcBG = nil, nil
}

func (h *hizState) releaseTextures() {
	h.forget(h.src)
	for _, bg := range h.downBG {
		bg.Release()
	}
	h.downBG = nil
	for _, v := range h.views {
		v.Release()
	}
	h.views = nil
	if h.tex != nil {
		h.tex.Release()
		h.tex = nil
	}
	h.mu.Lock()
	if h.readback != nil {
		if h.state == readbackMapped {
			h.readback.Unmap()
		}
		h.readback.Release()
		h.readback = nil
	}
	h.latest = nil
	h.mu.Unlock()
}

func (h *hizState) release() {
	h.releaseTextures()
	for _, p := range []*wgpu.ComputePipeline{h.fromPipe, h.downPipe} {
		if p != nil {
			p.Release()
		}
	}
}

type query struct {
	box   core.AABB
	ready bool
	hit   bool
}

// BeginOcclusion builds the depth pyramid from depth. Multisampled or
// layered depth cannot be read by the pyramid shader.
func (d *Device) BeginOcclusion(viewProj mgl32.Mat4, depth gpu.Target) error {
	t, ok := depth.(*Target)
	if !ok || t == nil || !t.isDepth() {
		return fmt.Errorf("wgpudev: occlusion needs a depth target")
	}
	if t.desc.Samples > 1 || t.desc.Layers > 1 {
		return fmt.Errorf("%w: occlusion on %s", gpu.ErrUnsupported, t.desc)
	}
	if d.pass != nil {
		d.EndPass()
	}
	if err := d.ensureEncoder(); err != nil {
		return err
	}
	if err := d.hiz.build(d.encoder, t, viewProj); err != nil {
		return err
	}
	d.inOcclusion = true
	return nil
}

// IssueQuery records a box proxy. It is tested against the newest pyramid
// that has reached the CPU once the frame ends.
func (d *Device) IssueQuery(proxy []byte) (gpu.QueryID, error) {
	if !d.inOcclusion {
		return 0, fmt.Errorf("wgpudev: query outside an occlusion batch")
	}
	p, err := occlusion.DecodeProxy(proxy)
	if err != nil {
		return 0, err
	}
	d.nextQuery++
	if d.nextQuery == 0 {
		d.nextQuery++
	}
	id := gpu.QueryID(d.nextQuery)
	d.queries[id] = &query{box: core.AABB{Min: p.Min, Max: p.Max}}
	d.unresolved = append(d.unresolved, id)
	return id, nil
}

func (d *Device) EndOcclusion() { d.inOcclusion = false }

func (d *Device) QueryResult(id gpu.QueryID) gpu.QueryResult {
	q, ok := d.queries[id]
	if !ok || !q.ready {
		return gpu.QueryResult{}
	}
	if q.hit {
		return gpu.QueryResult{Ready: true, Samples: 1}
	}
	return gpu.QueryResult{Ready: true}
}

func (d *Device) ReleaseQuery(id gpu.QueryID) { delete(d.queries, id) }

// resolveQueries answers every query issued since the last frame end.
func (d *Device) resolveQueries() {
	for _, id := range d.unresolved {
		q, ok := d.queries[id]
		if !ok {
			continue
		}
		q.ready = true
		q.hit = !d.hiz.occluded(q.box)
	}
	d.unresolved = d.unresolved[:0]
}
