package render

import (
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/pool"

	"github.com/go-gl/mathgl/mgl32"
)

// waterVisible reports whether any water face was queued this frame.
func (d *Dispatcher) waterVisible() bool {
	for _, p := range d.reg.Pools(pool.Water) {
		if len(p.Pending()) > 0 {
			return true
		}
	}
	return false
}

// ReflectView mirrors view about the horizontal plane z = height.
func ReflectView(view mgl32.Mat4, height float32) mgl32.Mat4 {
	mirror := mgl32.Ident4()
	mirror.Set(2, 2, -1)
	mirror.Set(2, 3, 2*height)
	return view.Mul4(mirror)
}

// renderReflection draws sky and opaque pools from below the water plane
// into the reflection target, and the plain view into refraction. Both
// share the reflection depth.
func (d *Dispatcher) renderReflection(f *Frame) {
	if !d.opts.Reflection || !d.waterVisible() {
		return
	}
	if !d.res.HasReflection() {
		d.stats.Downgrades++
		return
	}
	cam := f.Camera
	mirrored := cam.Proj.Mul4(ReflectView(cam.View, f.WaterHeight))
	want := func(t pool.Type) bool { return t == pool.Sky || (t.Opaque() && t != pool.Avatar) }

	for _, pass := range []struct {
		color    gpu.Target
		viewProj mgl32.Mat4
	}{
		{d.res.Reflection, mirrored},
		{d.res.Refraction, cam.ViewProj()},
	} {
		ctx := &pool.PassContext{
			Dev:      d.dev,
			Mode:     pool.ModeReflection,
			Color:    []gpu.Target{pass.color},
			Depth:    d.res.ReflectionDepth,
			ViewProj: pass.viewProj,
		}
		d.reg.Iterate(func(t pool.Type, pools []pool.DrawPool) bool {
			if want(t) {
				d.drawPools(pools, ctx)
			}
			return true
		})
	}
	d.stats.Reflection = true
}

// postChain runs glow, depth of field and FXAA over the screen image,
// ping-ponging through the post target.
func (d *Dispatcher) postChain(f *Frame) {
	d.renderGlow(f)

	cur := d.res.Screen
	other := func() gpu.Target {
		if cur == d.res.Screen {
			return d.res.Post
		}
		return d.res.Screen
	}
	if (d.opts.DOF || d.opts.FXAA) && d.res.Post == nil {
		d.stats.Downgrades++
		return
	}
	if d.opts.DOF {
		out := other()
		if d.fullscreen(gpu.FullscreenDesc{Name: "dof", Inputs: []gpu.Target{cur, d.res.Depth}, Output: out, Params: []float32{f.Camera.Near, f.Camera.Far}}) {
			cur = out
		}
	}
	if d.opts.FXAA {
		out := other()
		w, h := d.res.Sizes().Width, d.res.Sizes().Height
		if d.fullscreen(gpu.FullscreenDesc{Name: "fxaa", Inputs: []gpu.Target{cur}, Output: out, Params: []float32{1 / float32(max(w, 1)), 1 / float32(max(h, 1))}}) {
			cur = out
		}
	}
	if cur != d.res.Screen {
		d.fullscreen(gpu.FullscreenDesc{Name: "copy", Inputs: []gpu.Target{cur}, Output: d.res.Screen})
	}
}

// renderGlow draws the glow pool into the glow target and adds the blurred
// result onto the screen.
func (d *Dispatcher) renderGlow(f *Frame) {
	pools := d.reg.Pools(pool.Glow)
	busy := false
	for _, p := range pools {
		busy = busy || len(p.Pending()) > 0
	}
	if !busy {
		return
	}
	if !d.res.HasGlow() {
		d.stats.Downgrades++
		return
	}
	ctx := &pool.PassContext{
		Dev:      d.dev,
		Mode:     pool.ModeForward,
		Color:    []gpu.Target{d.res.Glow},
		Depth:    d.res.Depth,
		ViewProj: f.Camera.ViewProj(),
	}
	d.drawPools(pools, ctx)
	mips := float32(d.res.Glow.Desc().Mips)
	if d.fullscreen(gpu.FullscreenDesc{Name: "glow.blur", Inputs: []gpu.Target{d.res.Glow}, Output: d.res.Glow, Params: []float32{mips}}) {
		d.fullscreen(gpu.FullscreenDesc{Name: "glow.combine", Inputs: []gpu.Target{d.res.Screen, d.res.Glow}, Output: d.res.Screen})
	}
}

func (d *Dispatcher) fullscreen(desc gpu.FullscreenDesc) bool {
	if err := d.dev.Fullscreen(desc); err != nil {
		d.stats.FailedPass++
		d.warnf("render: %s: %v", desc.Name, err)
		return false
	}
	d.stats.Fullscreen++
	return true
}
