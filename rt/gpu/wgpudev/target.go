package wgpudev

import (
	"fmt"

	"github.com/gekko3d/drawpipe/rt/gpu"

	"github.com/cogentcore/webgpu/wgpu"
)

// Target is a texture with one attachment view per layer and, for plain
// single-sampled color, a view the fullscreen passes can sample.
type Target struct {
	desc   gpu.TargetDesc
	tex    *wgpu.Texture
	format wgpu.TextureFormat
	layers []*wgpu.TextureView
	sample *wgpu.TextureView
}

func (t *Target) Desc() gpu.TargetDesc { return t.desc }

func (t *Target) isDepth() bool { return t.desc.Format == gpu.FormatDepth32F }

func (t *Target) view(layer int) *wgpu.TextureView {
	if layer < 0 || layer >= len(t.layers) {
		return nil
	}
	return t.layers[layer]
}

func (t *Target) release() {
	if t.sample != nil {
		t.sample.Release()
	}
	for _, v := range t.layers {
		v.Release()
	}
	t.layers = nil
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func textureFormat(f gpu.Format) (wgpu.TextureFormat, error) {
	switch f {
	case gpu.FormatRGBA8:
		return wgpu.TextureFormatRGBA8Unorm, nil
	case gpu.FormatRGBA16F:
		return wgpu.TextureFormatRGBA16Float, nil
	case gpu.FormatR32F:
		return wgpu.TextureFormatR32Float, nil
	case gpu.FormatDepth32F:
		return wgpu.TextureFormatDepth32Float, nil
	}
	return wgpu.TextureFormatUndefined, fmt.Errorf("%w: format %s", gpu.ErrUnsupported, f)
}

// CreateTarget allocates a render target. Sample counts other than 1 and 4
// are rejected with gpu.ErrUnsupported.
func (d *Device) CreateTarget(desc gpu.TargetDesc) (gpu.Target, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("wgpudev: target %s: empty size", desc.Name)
	}
	if desc.Width > d.opts.MaxTextureSize || desc.Height > d.opts.MaxTextureSize {
		return nil, fmt.Errorf("%w: target %s", gpu.ErrOutOfMemory, desc)
	}
	samples := max(desc.Samples, 1)
	if samples != 1 && samples != 4 {
		return nil, fmt.Errorf("%w: %d samples", gpu.ErrUnsupported, samples)
	}
	format, err := textureFormat(desc.Format)
	if err != nil {
		return nil, err
	}
	layers := max(desc.Layers, 1)
	mips := max(desc.Mips, 1)
	if samples > 1 {
		mips = 1
	}

	usage := wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst
	sampleable := samples == 1 && layers == 1 && (desc.Format == gpu.FormatRGBA8 || desc.Format == gpu.FormatRGBA16F)
	if desc.Format == gpu.FormatDepth32F && samples == 1 {
		// Hi-Z reads depth with textureLoad.
		usage |= wgpu.TextureUsageTextureBinding
	}
	if sampleable {
		usage |= wgpu.TextureUsageTextureBinding
	}

	tex, err := d.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Name,
		Size:          wgpu.Extent3D{Width: uint32(desc.Width), Height: uint32(desc.Height), DepthOrArrayLayers: uint32(layers)},
		MipLevelCount: uint32(mips),
		SampleCount:   uint32(samples),
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: target %s: %v", gpu.ErrOutOfMemory, desc, err)
	}
	t := &Target{desc: desc, tex: tex, format: format}
	aspect := wgpu.TextureAspectAll
	if t.isDepth() {
		aspect = wgpu.TextureAspectDepthOnly
	}
	for i := 0; i < layers; i++ {
		v, err := tex.CreateView(&wgpu.TextureViewDescriptor{
			Label:           fmt.Sprintf("%s layer %d", desc.Name, i),
			Format:          format,
			Dimension:       wgpu.TextureViewDimension2D,
			BaseMipLevel:    0,
			MipLevelCount:   1,
			BaseArrayLayer:  uint32(i),
			ArrayLayerCount: 1,
			Aspect:          aspect,
		})
		if err != nil {
			t.release()
			return nil, fmt.Errorf("wgpudev: target %s view: %w", desc.Name, err)
		}
		t.layers = append(t.layers, v)
	}
	if sampleable {
		if t.sample, err = tex.CreateView(nil); err != nil {
			t.release()
			return nil, fmt.Errorf("wgpudev: target %s view: %w", desc.Name, err)
		}
	}
	if desc.Name == "screen" {
		d.screen = t
	}
	return t, nil
}

func (d *Device) ReleaseTarget(t gpu.Target) {
	wt, ok := t.(*Target)
	if !ok || wt == nil {
		return
	}
	if d.screen == wt {
		d.screen = nil
	}
	d.hiz.forget(wt)
	for k, s := range d.scratch {
		if k.Name == "scratch."+wt.desc.Name {
			s.release()
			delete(d.scratch, k)
		}
	}
	wt.release()
}

// scratchFor returns a sampleable copy target matching t.
func (d *Device) scratchFor(t *Target) (*Target, error) {
	desc := t.desc
	desc.Name = "scratch." + desc.Name
	desc.Mips = 1
	if s, ok := d.scratch[desc]; ok {
		return s, nil
	}
	st, err := d.CreateTarget(desc)
	if err != nil {
		return nil, err
	}
	s := st.(*Target)
	d.scratch[desc] = s
	return s, nil
}
