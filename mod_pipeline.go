package drawpipe

import (
	"fmt"

	"github.com/gekko3d/drawpipe/rt/config"
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/pipeline"

	"github.com/go-gl/mathgl/mgl32"
)

// View is the camera the pipeline renders from, plus the output size.
type View struct {
	Camera *core.CameraState
	FovY   float32 // radians
	Near   float32

	width, height, samples int
	resized                bool
}

// SetSize changes the output size from the next frame.
func (v *View) SetSize(width, height, samples int) {
	if width == v.width && height == v.height && samples == v.samples {
		return
	}
	v.width, v.height, v.samples = width, height, samples
	v.resized = true
}

func (v *View) Size() (width, height int) { return v.width, v.height }

func (v *View) camera(far float32) *core.Camera {
	aspect := float32(1)
	if v.height > 0 {
		aspect = float32(v.width) / float32(v.height)
	}
	return core.CameraFromState(v.Camera, v.FovY, aspect, v.Near, far)
}

// FrameStats holds the stats of the last rendered frame.
type FrameStats struct {
	Last   pipeline.Stats
	Frames uint64
}

// PipelineModule creates a render pipeline on Device and drives one
// pipeline step per frame stage.
type PipelineModule struct {
	Device  gpu.Device
	Config  *config.Config
	Options pipeline.Options

	Width, Height, Samples int
	FovY                   float32
}

func (mod PipelineModule) Install(app *App, cmd *Commands) {
	cfg := config.Default()
	if mod.Config != nil {
		cfg = *mod.Config
	}
	opts := mod.Options
	if opts.Log == nil {
		opts.Log = app.Logger()
	}
	p, err := pipeline.New(mod.Device, cfg, opts)
	if err != nil {
		panic(fmt.Sprintf("pipeline module: %v", err))
	}

	view := &View{Camera: core.NewCameraState(), FovY: mod.FovY, Near: 0.1}
	if view.FovY <= 0 {
		view.FovY = mgl32.DegToRad(60)
	}
	view.SetSize(mod.Width, mod.Height, max(mod.Samples, 1))

	cmd.AddResources(p, view, &FrameStats{})
	cmd.UseSystem(System(pipelinePreludeSystem).InStage(Prelude))
	cmd.UseSystem(System(pipelineCullSystem).InStage(Cull))
	cmd.UseSystem(System(pipelineOccludeSystem).InStage(Occlude))
	cmd.UseSystem(System(pipelineStateSortSystem).InStage(StateSort))
	cmd.UseSystem(System(pipelineRenderSystem).InStage(Render))
	cmd.UseSystem(System(pipelinePostSystem).InStage(PostRender))

	opts.Log.Infof("pipeline %s: %dx%d, deferred=%v occlusion=%v", p.ID, mod.Width, mod.Height, cfg.Deferred, cfg.Occlusion)
}

func pipelinePreludeSystem(p *pipeline.Pipeline, v *View) {
	if v.resized {
		v.resized = false
		p.Resize(v.width, v.height, v.samples)
	}
	p.BeginFrame()
}

func pipelineCullSystem(p *pipeline.Pipeline, v *View) {
	p.Cull(v.camera(p.Config().FarClip))
}

func pipelineOccludeSystem(p *pipeline.Pipeline)   { p.Occlude() }
func pipelineStateSortSystem(p *pipeline.Pipeline) { p.StateSort() }
func pipelineRenderSystem(p *pipeline.Pipeline)    { p.Render() }

func pipelinePostSystem(p *pipeline.Pipeline, s *FrameStats) {
	s.Last = p.EndFrame()
	s.Frames++
}
