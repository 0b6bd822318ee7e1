package drawpipe

import (
	"context"
	"testing"
	"time"

	"github.com/gekko3d/drawpipe/rt/config"
	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/gpu/gputest"
	"github.com/gekko3d/drawpipe/rt/pipeline"
	"github.com/gekko3d/drawpipe/rt/scene"
	"github.com/gekko3d/drawpipe/rt/stream"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type box struct {
	bounds core.AABB
	mesh   uint64
}

func (b *box) WorldBoundingBox() core.AABB  { return b.bounds }
func (b *box) RenderType() scene.RenderType { return scene.RenderSimple }
func (b *box) IsDead() bool                 { return false }

type meshBox struct{ box }

func (b *meshBox) MeshKey() uint64 { return b.mesh }

func forwardConfig() *config.Config {
	cfg := config.Default()
	cfg.Deferred = false
	cfg.ShadowDetail = config.ShadowsOff
	cfg.ReflectionDetail = 0
	cfg.FXAA = false
	cfg.SSAO = false
	cfg.MaxSamples = 1
	cfg.MinTargetSize = 16
	return &cfg
}

func pipelineApp(t *testing.T, dev *gputest.Device, modules ...Module) *App {
	t.Helper()
	mods := append([]Module{PipelineModule{Device: dev, Config: forwardConfig(), Width: 128, Height: 128}}, modules...)
	app := NewAppBuilder().UseModule(mods...).Build()
	v := Resource[View](app)
	require.NotNil(t, v)
	v.Camera.Position = mgl32.Vec3{0, 0, 2}
	return app
}

func face() *scene.Face {
	return &scene.Face{Material: scene.OpaqueMaterial(), IndexCount: 36}
}

func TestPipelineModuleRendersAFrame(t *testing.T) {
	dev := gputest.New()
	app := pipelineApp(t, dev)
	p := Resource[pipeline.Pipeline](app)
	require.NotNil(t, p)

	_, err := p.AddObject(&box{bounds: core.AABBFromCenter(mgl32.Vec3{0, -5, 2}, mgl32.Vec3{0.5, 0.5, 0.5})}, face())
	require.NoError(t, err)

	app.RunFrames(2)
	stats := Resource[FrameStats](app)
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Equal(t, uint64(2), stats.Last.Frame)
	assert.Equal(t, 1, stats.Last.Groups)
	assert.Equal(t, 1, stats.Last.Drawables)
	assert.NotEmpty(t, dev.Draws())

	w, h := Resource[View](app).Size()
	assert.Equal(t, 128, w)
	assert.Equal(t, 128, h)
	assert.True(t, p.Resources().Allocated())
}

func TestPipelineModuleFollowsCamera(t *testing.T) {
	dev := gputest.New()
	app := pipelineApp(t, dev)
	p := Resource[pipeline.Pipeline](app)
	_, err := p.AddObject(&box{bounds: core.AABBFromCenter(mgl32.Vec3{0, -5, 2}, mgl32.Vec3{0.5, 0.5, 0.5})}, face())
	require.NoError(t, err)

	// Turn around: the cube ends up behind the camera.
	Resource[View](app).Camera.Yaw = mgl32.DegToRad(180)
	app.RunFrames(1)
	assert.Zero(t, Resource[FrameStats](app).Last.Groups)
}

func TestPipelineModuleRejectsMissingDevice(t *testing.T) {
	assert.Panics(t, func() {
		NewAppBuilder().UseModule(PipelineModule{}).Build()
	})
}

func TestStreamingModuleLoadsMeshes(t *testing.T) {
	fetched := make(chan uint64, 4)
	fetch := func(ctx context.Context, n stream.Notice) error {
		fetched <- n.Key
		return nil
	}
	dev := gputest.New()
	app := pipelineApp(t, dev, StreamingModule{Fetch: fetch, Workers: 1})
	s := Resource[Streaming](app)
	require.NotNil(t, s)
	defer s.Close()

	p := Resource[pipeline.Pipeline](app)
	obj := &meshBox{box{bounds: core.AABBFromCenter(mgl32.Vec3{0, -5, 2}, mgl32.Vec3{0.5, 0.5, 0.5}), mesh: 42}}
	id, err := p.AddObject(obj, face())
	require.NoError(t, err)

	app.RunFrames(1)
	assert.False(t, p.Store().Drawable(id).State.Has(scene.Built), "mesh not resident yet")

	select {
	case key := <-fetched:
		assert.Equal(t, uint64(42), key)
	case <-time.After(5 * time.Second):
		t.Fatal("mesh was never fetched")
	}
	require.Eventually(t, func() bool { return p.Streams().Pending() > 0 }, 5*time.Second, time.Millisecond)

	app.RunFrames(1)
	assert.True(t, p.Streams().Mesh(42).Ready())
	assert.True(t, p.Store().Drawable(id).State.Has(scene.Built))
	assert.Zero(t, s.Backlog())
}

func TestStreamingModuleAfterClose(t *testing.T) {
	fetch := func(context.Context, stream.Notice) error { return nil }
	app := pipelineApp(t, gputest.New(), StreamingModule{Fetch: fetch, Workers: 1})
	s := Resource[Streaming](app)
	require.NotNil(t, s)
	s.Close()

	p := Resource[pipeline.Pipeline](app)
	obj := &meshBox{box{bounds: core.AABBFromCenter(mgl32.Vec3{0, -5, 2}, mgl32.Vec3{0.5, 0.5, 0.5}), mesh: 7}}
	_, err := p.AddObject(obj, face())
	require.NoError(t, err)

	assert.NotPanics(t, func() { app.RunFrames(2) })
	assert.Equal(t, 1, s.Backlog())
	assert.NotPanics(t, s.Close)
}

func TestStreamingModuleNeedsPipeline(t *testing.T) {
	assert.PanicsWithValue(t, "streaming module: install PipelineModule first", func() {
		NewAppBuilder().UseModule(StreamingModule{}).Build()
	})
}
