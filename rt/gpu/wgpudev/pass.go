package wgpudev

import (
	"fmt"

	"github.com/gekko3d/drawpipe/rt/gpu"

	"github.com/cogentcore/webgpu/wgpu"
)

type pipeKey struct {
	colors     [3]wgpu.TextureFormat
	n          int
	depth      bool
	samples    uint32
	blend      bool
	depthWrite bool
}

var alphaBlend = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorSrcAlpha,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
	},
	Alpha: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
	},
}

func (d *Device) geometryPipeline(k pipeKey) (*wgpu.RenderPipeline, error) {
	if p, ok := d.pipelines[k]; ok {
		return p, nil
	}
	desc := &wgpu.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("Geometry %d colors", k.n),
		Layout: d.geomLayout,
		Vertex: wgpu.VertexState{
			Module:     d.geomModule,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: vertexStride,
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
					{Format: wgpu.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
				},
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		Multisample: wgpu.MultisampleState{
			Count: k.samples,
			Mask:  0xFFFFFFFF,
		},
	}
	if k.depth {
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled: k.depthWrite,
			DepthCompare:      wgpu.CompareFunctionLessEqual,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}

	var entry string
	switch k.n {
	case 0:
	case 1:
		entry = "fs_forward"
	case 3:
		entry = "fs_gbuffer"
	default:
		return nil, fmt.Errorf("%w: %d color attachments", gpu.ErrUnsupported, k.n)
	}
	if entry != "" {
		targets := make([]wgpu.ColorTargetState, k.n)
		for i := range targets {
			targets[i] = wgpu.ColorTargetState{Format: k.colors[i], WriteMask: wgpu.ColorWriteMaskAll}
			if k.blend {
				b := alphaBlend
				targets[i].Blend = &b
			}
		}
		desc.Fragment = &wgpu.FragmentState{Module: d.geomModule, EntryPoint: entry, Targets: targets}
	}

	p, err := d.dev.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("wgpudev: geometry pipeline: %w", err)
	}
	d.pipelines[k] = p
	return p, nil
}

// BeginPass opens a render pass. Depth is cleared the first time a layer
// is used in a frame even when the pass asks to keep it.
func (d *Device) BeginPass(desc gpu.PassDesc) error {
	if d.pass != nil {
		d.EndPass()
	}
	if len(desc.Color) > len(pipeKey{}.colors) {
		return fmt.Errorf("%w: %d color attachments", gpu.ErrUnsupported, len(desc.Color))
	}
	if err := d.ensureEncoder(); err != nil {
		return err
	}

	k := pipeKey{n: len(desc.Color), blend: desc.Blend, depthWrite: desc.DepthWrite, samples: 1}
	rp := &wgpu.RenderPassDescriptor{Label: desc.Name}
	for i, c := range desc.Color {
		t, ok := c.(*Target)
		if !ok || t == nil || t.isDepth() {
			return fmt.Errorf("wgpudev: pass %s: bad color attachment %d", desc.Name, i)
		}
		view := t.view(min(desc.Layer, len(t.layers)-1))
		att := wgpu.RenderPassColorAttachment{View: view, LoadOp: wgpu.LoadOpLoad, StoreOp: wgpu.StoreOpStore}
		if desc.Load == gpu.LoadClear {
			cc := desc.ClearColor
			att.LoadOp = wgpu.LoadOpClear
			att.ClearValue = wgpu.Color{R: float64(cc[0]), G: float64(cc[1]), B: float64(cc[2]), A: float64(cc[3])}
		}
		rp.ColorAttachments = append(rp.ColorAttachments, att)
		k.colors[i] = t.format
		k.samples = uint32(max(t.desc.Samples, 1))
	}
	if desc.Depth != nil {
		t, ok := desc.Depth.(*Target)
		if !ok || t == nil || !t.isDepth() {
			return fmt.Errorf("wgpudev: pass %s: bad depth attachment", desc.Name)
		}
		view := t.view(desc.Layer)
		if view == nil {
			return fmt.Errorf("wgpudev: pass %s: depth layer %d out of range", desc.Name, desc.Layer)
		}
		lk := layerKey{t, desc.Layer}
		load := wgpu.LoadOpLoad
		if desc.Load == gpu.LoadClear || !d.depthCleared[lk] {
			load = wgpu.LoadOpClear
		}
		d.depthCleared[lk] = true
		rp.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            view,
			DepthLoadOp:     load,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1,
		}
		k.depth = true
		k.samples = uint32(max(t.desc.Samples, 1))
	}
	if k.n == 0 && !k.depth {
		return fmt.Errorf("wgpudev: pass %s has no attachments", desc.Name)
	}

	pipe, err := d.geometryPipeline(k)
	if err != nil {
		return err
	}
	d.pass = d.encoder.BeginRenderPass(rp)
	d.pass.SetPipeline(pipe)
	d.pass.SetBindGroup(0, d.drawBG, nil)
	if d.vertices != nil && d.indices != nil {
		d.pass.SetVertexBuffer(0, d.vertices, 0, d.vertices.GetSize())
		d.pass.SetIndexBuffer(d.indices, wgpu.IndexFormatUint32, 0, d.indices.GetSize())
	}
	d.passKey = k
	d.passVP = desc.ViewProj
	return nil
}

// Draw records one indexed draw into the open pass. The pool name and
// texture key select nothing yet: every pool shares one material.
func (d *Device) Draw(call gpu.DrawCall) {
	if d.pass == nil {
		d.warnf("%v", errNoPass)
		return
	}
	if d.vertices == nil || d.indices == nil || call.IndexCount == 0 {
		return
	}
	n := len(d.drawData) / drawStride
	if n >= d.opts.MaxDraws {
		d.dropped++
		return
	}
	mvp := DepthFix.Mul4(d.passVP).Mul4(call.Model)
	d.drawData = appendMat4(d.drawData, mvp)
	d.drawData = appendMat4(d.drawData, call.Model)
	d.pass.DrawIndexed(call.IndexCount, 1, call.IndexOffset, int32(call.BaseVertex), uint32(n))
}

func (d *Device) EndPass() {
	if d.pass == nil {
		return
	}
	if err := d.pass.End(); err != nil {
		d.warnf("wgpudev: pass end: %v", err)
	}
	d.pass.Release()
	d.pass = nil
}

type fsKey struct {
	entry   string
	format  wgpu.TextureFormat
	samples uint32
	blend   blendMode
}

type blendMode int

const (
	blendNone blendMode = iota
	blendAlpha
	blendAdd
	blendMultiply
)

func (b blendMode) state() *wgpu.BlendState {
	comp := func(src, dst wgpu.BlendFactor) wgpu.BlendComponent {
		return wgpu.BlendComponent{Operation: wgpu.BlendOperationAdd, SrcFactor: src, DstFactor: dst}
	}
	switch b {
	case blendAlpha:
		s := alphaBlend
		return &s
	case blendAdd:
		return &wgpu.BlendState{
			Color: comp(wgpu.BlendFactorOne, wgpu.BlendFactorOne),
			Alpha: comp(wgpu.BlendFactorOne, wgpu.BlendFactorOne),
		}
	case blendMultiply:
		return &wgpu.BlendState{
			Color: comp(wgpu.BlendFactorDst, wgpu.BlendFactorZero),
			Alpha: comp(wgpu.BlendFactorZero, wgpu.BlendFactorOne),
		}
	}
	return nil
}

// fullscreenEntry maps a pass name onto a fragment entry point and blend.
// Unknown names, including dof, fall back to a plain copy.
func fullscreenEntry(name string) (string, blendMode) {
	switch {
	case name == "ambient":
		return "fs_ambient", blendNone
	case name == "ssao":
		return "fs_ssao", blendMultiply
	case len(name) > 6 && name[:6] == "light.":
		return "fs_light", blendAdd
	case name == "atmospherics":
		return "fs_fog", blendAlpha
	case name == "composite":
		return "fs_composite", blendNone
	case name == "glow.blur":
		return "fs_blur", blendNone
	case name == "glow.combine":
		return "fs_add", blendNone
	case name == "fxaa":
		return "fs_fxaa", blendNone
	}
	return "fs_copy", blendNone
}

func (d *Device) fullscreenPipeline(k fsKey) (*wgpu.RenderPipeline, error) {
	if p, ok := d.fsPipes[k]; ok {
		return p, nil
	}
	p, err := d.dev.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Fullscreen " + k.entry,
		Layout: d.fsLayout,
		Vertex: wgpu.VertexState{
			Module:     d.fsModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     d.fsModule,
			EntryPoint: k.entry,
			Targets: []wgpu.ColorTargetState{{
				Format:    k.format,
				WriteMask: wgpu.ColorWriteMaskAll,
				Blend:     k.blend.state(),
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: k.samples,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudev: fullscreen pipeline %s: %w", k.entry, err)
	}
	d.fsPipes[k] = p
	return p, nil
}

// Fullscreen draws a screen-space triangle into desc.Output. Inputs that
// cannot be sampled (depth, multisampled, R32F and array targets) read as
// zero; an input that is also the output is copied aside first.
func (d *Device) Fullscreen(desc gpu.FullscreenDesc) error {
	if d.pass != nil {
		d.EndPass()
	}
	out, ok := desc.Output.(*Target)
	if !ok || out == nil || out.isDepth() {
		return fmt.Errorf("wgpudev: fullscreen %s: bad output", desc.Name)
	}
	if len(desc.Inputs) > 4 {
		return fmt.Errorf("%w: fullscreen %s with %d inputs", gpu.ErrUnsupported, desc.Name, len(desc.Inputs))
	}
	if len(desc.Params) > maxParams {
		return fmt.Errorf("%w: fullscreen %s with %d params", gpu.ErrUnsupported, desc.Name, len(desc.Params))
	}
	// The last slot is kept for the present copy.
	if d.nParams >= d.opts.MaxFullscreen-1 {
		return fmt.Errorf("wgpudev: fullscreen %s: over %d passes this frame", desc.Name, d.opts.MaxFullscreen-1)
	}
	if err := d.ensureEncoder(); err != nil {
		return err
	}
	entry, blend := fullscreenEntry(desc.Name)
	k := fsKey{entry: entry, format: out.format, samples: uint32(max(out.desc.Samples, 1)), blend: blend}
	return d.drawFullscreen(desc.Name, desc.Inputs, desc.Params, out.view(0), k)
}

func (d *Device) drawFullscreen(name string, inputs []gpu.Target, params []float32, view *wgpu.TextureView, k fsKey) error {
	pipe, err := d.fullscreenPipeline(k)
	if err != nil {
		return err
	}

	views := [4]*wgpu.TextureView{d.dummyView, d.dummyView, d.dummyView, d.dummyView}
	for i, in := range inputs {
		t, ok := in.(*Target)
		if !ok || t == nil || t.sample == nil {
			continue
		}
		if t.view(0) == view {
			s, err := d.scratchFor(t)
			if err != nil {
				return err
			}
			d.encoder.CopyTextureToTexture(
				&wgpu.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
				&wgpu.ImageCopyTexture{Texture: s.tex, MipLevel: 0},
				&wgpu.Extent3D{Width: uint32(t.desc.Width), Height: uint32(t.desc.Height), DepthOrArrayLayers: 1},
			)
			t = s
		}
		views[i] = t.sample
	}

	slot := d.nParams
	d.nParams++
	off := slot * paramStride
	buf := d.paramBuf[off : off+paramStride]
	clear(buf)
	for i, f := range params {
		putFloat(buf[i*4:], f)
	}

	entries := make([]wgpu.BindGroupEntry, 0, 6)
	for i, v := range views {
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(i), TextureView: v})
	}
	entries = append(entries,
		wgpu.BindGroupEntry{Binding: 4, Sampler: d.sampler},
		wgpu.BindGroupEntry{Binding: 5, Buffer: d.params, Offset: uint64(off), Size: paramStride},
	)
	bg, err := d.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{Label: name, Layout: d.fsBGL, Entries: entries})
	if err != nil {
		return fmt.Errorf("wgpudev: fullscreen %s bind group: %w", name, err)
	}
	d.frameGroups = append(d.frameGroups, bg)

	pass := d.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: name,
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    view,
			LoadOp:  wgpu.LoadOpLoad,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	pass.SetPipeline(pipe)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	err = pass.End()
	pass.Release()
	if err != nil {
		return fmt.Errorf("wgpudev: fullscreen %s: %w", name, err)
	}
	return nil
}
