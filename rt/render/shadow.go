package render

import (
	"github.com/gekko3d/drawpipe/rt/config"
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/lighting"
	"github.com/gekko3d/drawpipe/rt/pool"
	"github.com/gekko3d/drawpipe/rt/scene"
)

// renderShadows draws opaque pools into the sun cascades and, at the
// highest detail, the spot maps. Each view only draws the visible groups
// that fall inside it.
func (d *Dispatcher) renderShadows(f *Frame) (cascades, spots []lighting.ShadowView) {
	if d.opts.ShadowDetail <= config.ShadowsOff {
		return nil, nil
	}
	if !d.res.HasShadows() {
		d.stats.Downgrades++
		return nil, nil
	}
	if sun := d.res.SunShadow; sun != nil {
		cascades = lighting.SunCascades(f.Camera, f.SunDir, sun.Desc().Layers)
		for _, v := range cascades {
			d.shadowView(f, v, sun)
		}
	}
	if d.opts.ShadowDetail >= config.ShadowsSunSpot {
		for i := range f.Lights {
			l := &f.Lights[i]
			if l.Kind != lighting.KindSpot || !l.Shadows || len(spots) >= len(d.res.SpotShadow) {
				continue
			}
			v := lighting.SpotView(l, 0)
			d.shadowView(f, v, d.res.SpotShadow[len(spots)])
			spots = append(spots, v)
		}
	}
	return cascades, spots
}

func (d *Dispatcher) shadowView(f *Frame, v lighting.ShadowView, depth gpu.Target) {
	clear(d.casters)
	for _, gid := range f.Groups {
		g := d.store.Group(gid)
		if g == nil || !v.Frustum.AABBInFrustum(g.ObjectBounds) {
			continue
		}
		g.DrawMap.Each(func(_ scene.PassKey, info *scene.DrawInfo) bool {
			d.casters[info.Face] = struct{}{}
			return true
		})
	}
	for _, id := range f.Drawables {
		dr := d.store.Drawable(id)
		if dr == nil || !v.Frustum.AABBInFrustum(dr.Bounds) {
			continue
		}
		for _, face := range dr.Faces {
			d.casters[face] = struct{}{}
		}
	}
	if len(d.casters) == 0 {
		return
	}
	d.stats.Shadows++

	ctx := &pool.PassContext{
		Dev:      d.dev,
		Mode:     pool.ModeShadow,
		Depth:    depth,
		Layer:    v.Layer,
		ViewProj: v.ViewProj,
		Load:     gpu.LoadClear,
		Filter: func(face *scene.Face) bool {
			_, ok := d.casters[face]
			return ok
		},
	}
	d.reg.Iterate(func(t pool.Type, pools []pool.DrawPool) bool {
		if !t.Opaque() {
			return true
		}
		if d.drawShadowPools(pools, ctx) {
			// Later types add to the same layer.
			ctx.Load = gpu.LoadKeep
		}
		return true
	})
}

// drawShadowPools draws the first pass of every pool with work. Shadow maps
// need depth only, so extra passes are skipped.
func (d *Dispatcher) drawShadowPools(pools []pool.DrawPool, ctx *pool.PassContext) bool {
	var lead pool.DrawPool
	for _, p := range pools {
		if len(p.Pending()) > 0 {
			lead = p
			break
		}
	}
	if lead == nil {
		return false
	}
	if err := lead.BeginPass(0, ctx); err != nil {
		d.stats.FailedPass++
		d.warnf("render: shadow %s: %v", lead.Type(), err)
		return false
	}
	for _, p := range pools {
		if len(p.Pending()) > 0 {
			p.Render(0, ctx)
		}
	}
	lead.EndPass(0, ctx)
	d.stats.Passes++
	return true
}
