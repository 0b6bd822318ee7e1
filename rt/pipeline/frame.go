package pipeline

import (
	"github.com/gekko3d/drawpipe/rt/config"
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/frame"
	"github.com/gekko3d/drawpipe/rt/lighting"
	"github.com/gekko3d/drawpipe/rt/overlay"
	"github.com/gekko3d/drawpipe/rt/partition"
	"github.com/gekko3d/drawpipe/rt/render"
	"github.com/gekko3d/drawpipe/rt/statesort"

	"github.com/go-gl/mathgl/mgl32"
)

// RenderFrame runs one frame: prelude, cull, occlusion bookkeeping, state
// sort, render, post. It never fails; problems show up as downgrades in the
// returned stats.
func (p *Pipeline) RenderFrame(cam *core.Camera) Stats {
	p.BeginFrame()
	p.Cull(cam)
	p.Occlude()
	p.StateSort()
	p.Render()
	return p.EndFrame()
}

// BeginFrame applies pending configuration, reallocates targets, drains
// stream notifications and collects occlusion results. The steps from
// BeginFrame to EndFrame must run in order on one goroutine.
func (p *Pipeline) BeginFrame() {
	p.prof.Reset()
	p.prof.Begin("frame")
	p.frame++
	p.cur = Stats{Frame: p.frame}
	p.cam = nil
	p.prof.Scope(StagePrelude, p.prelude)
}

// Cull walks every region's partitions against cam.
func (p *Pipeline) Cull(cam *core.Camera) {
	p.cam = cam.WithFarClip(p.cfg.FarClip)
	p.prof.Scope(StageCull, p.cullRegions)
}

// Occlude drops occlusion state when a teleport was requested or cut the
// cull short. Such a frame renders nothing.
func (p *Pipeline) Occlude() {
	if p.teleport.Swap(false) || p.cull.Discarded {
		p.occl.Discard(-1)
		p.cull.Reset(p.frame)
		p.cull.Discarded = true
		p.cur.Teleported = true
		p.log.Debugf("pipeline %s: teleport, frame %d culled nothing", p.ID, p.frame)
	}
}

func (p *Pipeline) StateSort() {
	if p.cam == nil {
		return
	}
	p.prof.Scope(StageStateSort, func() { p.sorter.Process(p.cam, &p.cull) })
}

func (p *Pipeline) Render() {
	if p.cam == nil {
		return
	}
	p.prof.Scope(StageRender, func() {
		p.cur.Render = p.disp.Render(&render.Frame{
			Number:      p.frame,
			Camera:      p.cam,
			Candidates:  p.cull.OcclusionCandidates,
			Groups:      p.sorter.Visible(),
			Drawables:   p.sorter.VisibleDrawables(),
			Lights:      p.lights,
			SunDir:      p.sunDir,
			WaterHeight: p.waterHeight,
		})
	})
}

// EndFrame sweeps released pools, submits device work and returns the
// frame's stats.
func (p *Pipeline) EndFrame() Stats {
	st := &p.cur
	p.prof.Scope(StagePost, func() {
		st.Swept = p.reg.Sweep()
		p.dev.EndFrame()
	})

	st.Cull = p.cull.Stats
	st.Groups = len(p.cull.Groups)
	st.Drawables = len(p.cull.Drawables)
	st.Candidates = len(p.cull.OcclusionCandidates)
	st.Occlusion = p.occl.Stats()
	st.Sort = p.sorter.Stats()
	st.Lighting = p.light.Stats()
	st.Stream = p.streams.Stats()
	st.Elapsed = p.prof.End("frame")

	p.prof.SetCount("groups", st.Groups)
	p.prof.SetCount("drawables", st.Drawables)
	p.prof.SetCount("faces", st.Render.Faces)
	p.prof.SetCount("passes", st.Render.Passes)
	p.prof.SetCount("occluded", st.Sort.Occluded)
	p.prof.SetCount("rebuilds", st.Sort.Rebuild.Priority+st.Sort.Rebuild.Background)
	p.prof.SetCount("downgrades", st.Render.Downgrades+p.res.Sizes().Downgrades)

	p.stats = *st
	return p.stats
}

func (p *Pipeline) prelude() {
	if next := p.next.Swap(nil); next != nil {
		p.applyConfig(*next)
	}
	if p.realloc {
		p.realloc = false
		if !p.res.Allocate(p.width, p.height, p.samples) {
			p.warnf("pipeline: cannot allocate %dx%d targets: %v", p.width, p.height, p.res.Err())
		}
	}

	if p.streams.Poll(0) > 0 {
		p.wakeStreamed()
	}
	p.occl.BeginFrame()
	p.occl.Poll(p.frame)

	if p.frame%uint64(p.cfg.BalanceInterval) == 0 {
		for _, r := range p.regions {
			r.Balance()
		}
	}
}

func (p *Pipeline) cullRegions() {
	p.cull.Reset(p.frame)
	opts := partition.CullOptions{
		Occlusion: p.cfg.Occlusion && p.occl.Enabled(),
		Cancelled: p.teleport.Load,
	}
	for _, r := range p.regions {
		r.Cull(p.cam, opts, &p.cull)
		if p.cull.Discarded {
			break
		}
	}
}

func (p *Pipeline) applyConfig(cfg config.Config) {
	old := p.cfg
	p.cfg = cfg
	p.occl.SetRetestFrames(cfg.OcclusionRetestFrames)
	p.sorter.SetLOD(lodPolicy(cfg))
	p.light.SetSettings(lightingSettings(cfg))
	p.disp.SetOptions(p.renderOptions(cfg))
	if fs := frameSettings(cfg); !sameSettings(fs, p.res.Settings()) {
		p.res.SetSettings(fs)
		if p.res.Allocated() || p.width > 0 {
			p.realloc = true
		}
	}
	if old.Occlusion && !cfg.Occlusion {
		p.occl.Discard(-1)
	}
}

func (p *Pipeline) warnf(format string, args ...any) {
	p.warn.Do(func() { p.log.Warnf(format, args...) })
}

// Snapshot copies the debug view of the last frame.
func (p *Pipeline) Snapshot() overlay.Snapshot {
	s := overlay.Snapshot{
		Frame: p.frame,
		Mode:  p.stats.Render.Mode.String(),
	}
	for _, sm := range p.prof.Samples() {
		s.Timings = append(s.Timings, overlay.Timing{Name: sm.Name, Duration: sm.Avg})
	}
	for _, k := range p.prof.Counts() {
		s.Counters = append(s.Counters, overlay.Counter{Name: k, Value: p.prof.Count(k)})
	}
	s.Highlighted = append([]statesort.FaceInfo(nil), p.sorter.Highlighted()...)
	return s
}

func frameSettings(cfg config.Config) frame.Settings {
	sun, spot := cfg.ShadowMapCount()
	return frame.Settings{
		Deferred:         cfg.Deferred,
		SunCascades:      sun,
		SpotShadows:      spot,
		ShadowResolution: int(cfg.ShadowResolution),
		ReflectionScale:  cfg.ReflectionScale(),
		GlowMips:         cfg.GlowMips,
		MinTargetSize:    int(cfg.MinTargetSize),
		MaxSamples:       int(cfg.MaxSamples),
	}
}

func sameSettings(a, b frame.Settings) bool { return a == b }

func lightingSettings(cfg config.Config) lighting.Settings {
	return lighting.Settings{
		MaxLights:    cfg.MaxLights,
		SSAO:         cfg.SSAO,
		Atmospherics: true,
		FogDensity:   1 / cfg.FarClip,
		FogColor:     mgl32.Vec3{0.6, 0.7, 0.8},
		Ambient:      mgl32.Vec3{0.2, 0.2, 0.25},
	}
}

func lodPolicy(cfg config.Config) statesort.LODPolicy {
	return statesort.LODPolicy{Distances: cfg.LODDistances, Hysteresis: cfg.LODHysteresis}
}

func partitionOptions(cfg config.Config) partition.Options {
	return partition.Options{
		MaxElements:  cfg.OctreeMaxElements,
		MinSize:      cfg.OctreeMinSize,
		BalanceEvery: cfg.OctreeMaxElements * 8,
	}
}

func (p *Pipeline) renderOptions(cfg config.Config) render.Options {
	return render.Options{
		Deferred:     cfg.Deferred,
		Occlusion:    cfg.Occlusion,
		ShadowDetail: cfg.ShadowDetail,
		Reflection:   cfg.ReflectionDetail > 0,
		FXAA:         cfg.FXAA,
		DOF:          cfg.DOF,
		Log:          p.log,
	}
}
