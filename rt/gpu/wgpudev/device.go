// Package wgpudev implements gpu.Device on WebGPU. Hidden-surface queries
// are answered on the CPU from a Hi-Z depth pyramid read back from the GPU,
// so results arrive a frame or more after they are issued.
package wgpudev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/gpu/wgpudev/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"
)

const (
	// drawStride is one mvp plus one model matrix.
	drawStride = 128
	// paramStride is the uniform slot of one fullscreen pass.
	paramStride = 256
	maxParams   = paramStride / 4
)

var errNoPass = errors.New("wgpudev: no open pass")

// Vertex is the layout of the shared vertex buffer.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
}

const vertexStride = 32

type Options struct {
	Log            core.Logger
	MaxDraws       int // per frame
	MaxFullscreen  int // per frame
	MaxTextureSize int
}

func (o *Options) defaults() {
	if o.MaxDraws <= 0 {
		o.MaxDraws = 65536
	}
	if o.MaxFullscreen < 2 {
		o.MaxFullscreen = 256
	}
	if o.MaxTextureSize <= 0 {
		o.MaxTextureSize = 8192
	}
}

type Device struct {
	dev   *wgpu.Device
	queue *wgpu.Queue
	opts  Options
	log   core.Logger
	warn  rate.Sometimes

	encoder *wgpu.CommandEncoder
	pass    *wgpu.RenderPassEncoder
	passKey pipeKey
	passVP  mgl32.Mat4

	geomModule *wgpu.ShaderModule
	fsModule   *wgpu.ShaderModule
	geomBGL    *wgpu.BindGroupLayout
	fsBGL      *wgpu.BindGroupLayout
	geomLayout *wgpu.PipelineLayout
	fsLayout   *wgpu.PipelineLayout
	pipelines  map[pipeKey]*wgpu.RenderPipeline
	fsPipes    map[fsKey]*wgpu.RenderPipeline
	sampler    *wgpu.Sampler
	dummy      *wgpu.Texture
	dummyView  *wgpu.TextureView
	scratch    map[gpu.TargetDesc]*Target

	vertices *wgpu.Buffer
	indices  *wgpu.Buffer
	draws    *wgpu.Buffer
	drawBG   *wgpu.BindGroup
	drawData []byte
	params   *wgpu.Buffer
	paramBuf []byte
	nParams  int
	dropped  int

	// bind groups referenced by this frame's commands
	frameGroups []*wgpu.BindGroup

	depthCleared map[layerKey]bool
	hiz          *hizState

	inOcclusion bool
	nextQuery   uint32
	queries     map[gpu.QueryID]*query
	unresolved  []gpu.QueryID

	surface       *wgpu.Surface
	surfaceFormat wgpu.TextureFormat
	screen        *Target
}

type layerKey struct {
	t     *Target
	layer int
}

// New builds a device on an initialized WebGPU device.
func New(dev *wgpu.Device, opts Options) (*Device, error) {
	opts.defaults()
	d := &Device{
		dev:          dev,
		queue:        dev.GetQueue(),
		opts:         opts,
		log:          core.OrNop(opts.Log),
		warn:         rate.Sometimes{First: 3, Interval: 5 * time.Second},
		pipelines:    make(map[pipeKey]*wgpu.RenderPipeline),
		fsPipes:      make(map[fsKey]*wgpu.RenderPipeline),
		scratch:      make(map[gpu.TargetDesc]*Target),
		depthCleared: make(map[layerKey]bool),
		queries:      make(map[gpu.QueryID]*query),
	}
	if err := d.init(); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	var err error
	d.geomModule, err = d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Geometry VS/FS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.GeometryWGSL},
	})
	if err != nil {
		return fmt.Errorf("wgpudev: geometry shader: %w", err)
	}
	d.fsModule, err = d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Fullscreen VS/FS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.FullscreenWGSL},
	})
	if err != nil {
		return fmt.Errorf("wgpudev: fullscreen shader: %w", err)
	}

	d.geomBGL, err = d.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Draws BGL",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStageVertex,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
		}},
	})
	if err != nil {
		return err
	}
	fsEntries := make([]wgpu.BindGroupLayoutEntry, 0, 6)
	for i := 0; i < 4; i++ {
		fsEntries = append(fsEntries, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageFragment,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeFloat,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		})
	}
	fsEntries = append(fsEntries,
		wgpu.BindGroupLayoutEntry{
			Binding:    4,
			Visibility: wgpu.ShaderStageFragment,
			Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
		},
		wgpu.BindGroupLayoutEntry{
			Binding:    5,
			Visibility: wgpu.ShaderStageFragment,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform, MinBindingSize: paramStride},
		},
	)
	d.fsBGL, err = d.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{Label: "Fullscreen BGL", Entries: fsEntries})
	if err != nil {
		return err
	}
	if d.geomLayout, err = d.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{BindGroupLayouts: []*wgpu.BindGroupLayout{d.geomBGL}}); err != nil {
		return err
	}
	if d.fsLayout, err = d.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{BindGroupLayouts: []*wgpu.BindGroupLayout{d.fsBGL}}); err != nil {
		return err
	}

	d.sampler, err = d.dev.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}

	d.dummy, err = d.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Dummy",
		Size:          wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return err
	}
	d.queue.WriteTexture(d.dummy.AsImageCopy(), []byte{0, 0, 0, 0}, &wgpu.TextureDataLayout{
		BytesPerRow:  4,
		RowsPerImage: 1,
	}, &wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1})
	if d.dummyView, err = d.dummy.CreateView(nil); err != nil {
		return err
	}

	d.draws, err = d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Draws",
		Size:  uint64(d.opts.MaxDraws * drawStride),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	d.drawBG, err = d.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "Draws BG",
		Layout:  d.geomBGL,
		Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: d.draws, Size: d.draws.GetSize()}},
	})
	if err != nil {
		return err
	}
	d.params, err = d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Fullscreen Params",
		Size:  uint64(d.opts.MaxFullscreen * paramStride),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	d.paramBuf = make([]byte, d.opts.MaxFullscreen*paramStride)

	d.hiz, err = newHiZ(d.dev)
	return err
}

func (d *Device) Caps() gpu.Caps {
	return gpu.Caps{
		OcclusionQuery: true,
		Deferred:       true,
		MaxSamples:     4,
		MaxTextureSize: d.opts.MaxTextureSize,
	}
}

// UploadGeometry replaces the shared vertex and index buffers draws index
// into.
func (d *Device) UploadGeometry(vertices []Vertex, indices []uint32) error {
	vb := make([]byte, 0, len(vertices)*vertexStride)
	for _, v := range vertices {
		for _, f := range v.Position {
			vb = binary.LittleEndian.AppendUint32(vb, math.Float32bits(f))
		}
		for _, f := range v.Normal {
			vb = binary.LittleEndian.AppendUint32(vb, math.Float32bits(f))
		}
		for _, f := range v.UV {
			vb = binary.LittleEndian.AppendUint32(vb, math.Float32bits(f))
		}
	}
	ib := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		ib = binary.LittleEndian.AppendUint32(ib, i)
	}
	if err := d.ensureBuffer("Vertices", &d.vertices, vb, wgpu.BufferUsageVertex); err != nil {
		return err
	}
	return d.ensureBuffer("Indices", &d.indices, ib, wgpu.BufferUsageIndex)
}

// ensureBuffer grows buf when data does not fit and uploads data.
func (d *Device) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage) error {
	size := uint64(len(data))
	if size%4 != 0 {
		size += 4 - size%4
	}
	size = max(size, 4)
	if *buf == nil || (*buf).GetSize() < size {
		if *buf != nil {
			(*buf).Release()
		}
		b, err := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Label: name,
			Size:  size,
			Usage: usage | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			*buf = nil
			return fmt.Errorf("wgpudev: %s buffer: %w", name, err)
		}
		*buf = b
	}
	if len(data) > 0 {
		padded := data
		if len(padded)%4 != 0 {
			padded = append(append([]byte(nil), data...), make([]byte, 4-len(data)%4)...)
		}
		d.queue.WriteBuffer(*buf, 0, padded)
	}
	return nil
}

// SetSurface makes EndFrame copy the "screen" target to surface and present.
func (d *Device) SetSurface(surface *wgpu.Surface, format wgpu.TextureFormat) {
	d.surface = surface
	d.surfaceFormat = format
}

func (d *Device) ensureEncoder() error {
	if d.encoder != nil {
		return nil
	}
	enc, err := d.dev.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("wgpudev: command encoder: %w", err)
	}
	d.encoder = enc
	return nil
}

// EndFrame submits recorded work, presents and advances the Hi-Z readback.
func (d *Device) EndFrame() {
	if d.pass != nil {
		d.EndPass()
	}
	if err := d.ensureEncoder(); err != nil {
		d.warnf("%v", err)
		return
	}
	d.hiz.copyForReadback(d.encoder)
	done := d.present()

	if len(d.drawData) > 0 {
		d.queue.WriteBuffer(d.draws, 0, d.drawData)
	}
	if d.nParams > 0 {
		d.queue.WriteBuffer(d.params, 0, d.paramBuf[:d.nParams*paramStride])
	}
	cmd, err := d.encoder.Finish(nil)
	d.encoder.Release()
	d.encoder = nil
	if err != nil {
		d.warnf("wgpudev: encoder finish: %v", err)
	} else {
		d.queue.Submit(cmd)
		cmd.Release()
		if done != nil {
			d.surface.Present()
		}
	}
	if done != nil {
		done()
	}

	if d.dropped > 0 {
		d.warnf("wgpudev: %d draws over the per-frame limit were dropped", d.dropped)
	}
	for _, bg := range d.frameGroups {
		bg.Release()
	}
	d.frameGroups = d.frameGroups[:0]
	d.drawData = d.drawData[:0]
	d.nParams = 0
	d.dropped = 0
	clear(d.depthCleared)

	d.dev.Poll(false, nil)
	d.hiz.advance(d.log)
	d.resolveQueries()
}

// present records the copy of the screen target into the surface texture.
// The returned func releases the surface texture after Present; nil means
// there is nothing to present.
func (d *Device) present() func() {
	if d.surface == nil || d.screen == nil || d.screen.desc.Samples > 1 {
		return nil
	}
	tex, err := d.surface.GetCurrentTexture()
	if err != nil {
		d.warnf("wgpudev: surface texture: %v", err)
		return nil
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		d.warnf("wgpudev: surface view: %v", err)
		return nil
	}
	done := func() {
		view.Release()
		tex.Release()
	}
	k := fsKey{entry: "fs_copy", format: d.surfaceFormat, samples: 1}
	if err := d.drawFullscreen("present", []gpu.Target{d.screen}, nil, view, k); err != nil {
		d.warnf("wgpudev: present: %v", err)
	}
	return done
}

// Release frees every device object. Targets handed out must be released
// first.
func (d *Device) Release() {
	for _, p := range d.pipelines {
		p.Release()
	}
	for _, p := range d.fsPipes {
		p.Release()
	}
	for _, t := range d.scratch {
		t.release()
	}
	for _, b := range []*wgpu.Buffer{d.vertices, d.indices, d.draws, d.params} {
		if b != nil {
			b.Release()
		}
	}
	if d.hiz != nil {
		d.hiz.release()
	}
	if d.dummyView != nil {
		d.dummyView.Release()
	}
	if d.dummy != nil {
		d.dummy.Release()
	}
}

func (d *Device) warnf(format string, args ...any) {
	d.warn.Do(func() { d.log.Warnf(format, args...) })
}

func putFloat(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func appendMat4(b []byte, m mgl32.Mat4) []byte {
	for _, f := range m {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

var _ gpu.Device = (*Device)(nil)
