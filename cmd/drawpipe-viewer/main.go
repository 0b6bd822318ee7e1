package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/gekko3d/drawpipe"
	"github.com/gekko3d/drawpipe/rt/config"
	"github.com/gekko3d/drawpipe/rt/gpu/wgpudev"
	"github.com/gekko3d/drawpipe/rt/lighting"
	"github.com/gekko3d/drawpipe/rt/overlay"
	"github.com/gekko3d/drawpipe/rt/pipeline"
	"github.com/gekko3d/drawpipe/rt/stream"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging and strict invariants")
	cfgPath := flag.String("config", "", "YAML render config")
	side := flag.Int("grid", 16, "Cubes per grid side")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	cfg.Debug = cfg.Debug || *debug

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "drawpipe viewer", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	gfx, err := newGraphics(window)
	if err != nil {
		panic(err)
	}
	defer gfx.release()

	log := drawpipe.NewDefaultLogger("viewer", cfg.Debug)
	defer log.Sync()

	dev, err := wgpudev.New(gfx.device, wgpudev.Options{Log: log})
	if err != nil {
		panic(err)
	}
	defer dev.Release()
	dev.SetSurface(gfx.surface, gfx.config.Format)

	cubes := buildGrid(*side, 3)
	vertices, indices := cubes.mesh()
	if err := dev.UploadGeometry(vertices, indices); err != nil {
		panic(err)
	}

	width, height := window.GetFramebufferSize()
	app := drawpipe.NewAppBuilder().
		UseModule(
			loggerModule{log},
			drawpipe.TimeModule{MaxDt: 100 * time.Millisecond},
			drawpipe.PipelineModule{Device: dev, Config: &cfg, Width: width, Height: height, Samples: 1},
			drawpipe.StreamingModule{Fetch: slowFetch, Workers: 2, PerSecond: 20, Burst: 4},
			viewerModule{window: window, gfx: gfx, cubes: cubes},
		).
		Build()
	defer drawpipe.Resource[drawpipe.Streaming](app).Close()

	app.Run()
}

// slowFetch pretends to download a mesh.
func slowFetch(ctx context.Context, n stream.Notice) error {
	select {
	case <-time.After(time.Duration(50+rand.IntN(200)) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loggerModule struct{ log *drawpipe.DefaultLogger }

func (m loggerModule) Install(app *drawpipe.App, cmd *drawpipe.Commands) {
	cmd.AddResources(m.log)
}

type graphics struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	surface  *wgpu.Surface
	config   *wgpu.SurfaceConfiguration
}

func newGraphics(window *glfw.Window) (*graphics, error) {
	g := &graphics{instance: wgpu.CreateInstance(nil)}
	g.surface = g.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))

	var err error
	g.adapter, err = g.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: g.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, err
	}
	g.device, err = g.adapter.RequestDevice(nil)
	if err != nil {
		return nil, err
	}

	width, height := window.GetFramebufferSize()
	caps := g.surface.GetCapabilities(g.adapter)
	g.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	g.surface.Configure(g.adapter, g.device, g.config)
	return g, nil
}

func (g *graphics) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	g.config.Width = uint32(width)
	g.config.Height = uint32(height)
	g.surface.Configure(g.adapter, g.device, g.config)
}

func (g *graphics) release() {
	g.surface.Release()
	g.device.Release()
	g.adapter.Release()
	g.instance.Release()
}

// input collects glfw events between frames.
type input struct {
	window   *glfw.Window
	captured bool
	lastX    float64
	lastY    float64
	dx, dy   float32

	teleport bool
	dump     bool
	stats    bool
}

type viewerModule struct {
	window *glfw.Window
	gfx    *graphics
	cubes  *grid
}

func (m viewerModule) Install(app *drawpipe.App, cmd *drawpipe.Commands) {
	in := &input{window: m.window}
	m.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyTab:
			in.captured = !in.captured
			if in.captured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
				in.lastX, in.lastY = w.GetCursorPos()
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyT:
			in.teleport = true
		case glfw.KeyF2:
			in.dump = true
		case glfw.KeyF3:
			in.stats = !in.stats
		}
	})
	m.window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		if in.captured {
			in.dx += float32(x - in.lastX)
			in.dy += float32(y - in.lastY)
		}
		in.lastX, in.lastY = x, y
	})
	view := drawpipe.Resource[drawpipe.View](app)
	m.window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		m.gfx.resize(width, height)
		view.SetSize(width, height, 1)
	})

	p := drawpipe.Resource[pipeline.Pipeline](app)
	if err := m.cubes.populate(p); err != nil {
		panic(err)
	}
	sun := mgl32.Vec3{-0.3, -0.2, -1}.Normalize()
	p.SetLights([]lighting.Light{
		{Kind: lighting.KindSun, Direction: sun, Color: mgl32.Vec3{1, 0.95, 0.9}, Intensity: 1, Shadows: true},
		{Kind: lighting.KindPoint, Position: mgl32.Vec3{0, 0, 6}, Color: mgl32.Vec3{1, 0.5, 0.2}, Intensity: 4, Range: 20},
	}, sun)
	view.Camera.Position = mgl32.Vec3{0, 40, 8}

	cmd.AddResources(in, &statsTimer{})
	cmd.UseSystem(drawpipe.System(windowSystem).InStage(drawpipe.Prelude))
	cmd.UseSystem(drawpipe.System(cameraSystem).InStage(drawpipe.Update))
	cmd.UseSystem(drawpipe.System(debugSystem).InStage(drawpipe.PostRender))
}

func windowSystem(in *input, cmd *drawpipe.Commands) {
	glfw.PollEvents()
	if in.window.ShouldClose() {
		cmd.Quit()
	}
}

func cameraSystem(in *input, view *drawpipe.View, t *drawpipe.Time, p *pipeline.Pipeline) {
	cam := view.Camera
	cam.Yaw += in.dx * cam.Sensitivity
	cam.Pitch = mgl32.Clamp(cam.Pitch-in.dy*cam.Sensitivity, -1.5, 1.5)
	in.dx, in.dy = 0, 0

	step := cam.Speed * t.Seconds()
	w := in.window
	if w.GetKey(glfw.KeyW) == glfw.Press {
		cam.Position = cam.Position.Add(cam.GetForward().Mul(step))
	}
	if w.GetKey(glfw.KeyS) == glfw.Press {
		cam.Position = cam.Position.Sub(cam.GetForward().Mul(step))
	}
	if w.GetKey(glfw.KeyD) == glfw.Press {
		cam.Position = cam.Position.Add(cam.GetRight().Mul(step))
	}
	if w.GetKey(glfw.KeyA) == glfw.Press {
		cam.Position = cam.Position.Sub(cam.GetRight().Mul(step))
	}

	if in.teleport {
		in.teleport = false
		cam.Position = mgl32.Vec3{rand.Float32()*80 - 40, rand.Float32()*80 - 40, 8}
		p.RequestTeleport()
	}
}

type statsTimer struct {
	last time.Time
}

func debugSystem(in *input, p *pipeline.Pipeline, view *drawpipe.View, s *drawpipe.FrameStats, timer *statsTimer, log *drawpipe.DefaultLogger) {
	if in.stats && time.Since(timer.last) > time.Second {
		timer.last = time.Now()
		snap := p.Snapshot()
		for _, line := range snap.Lines() {
			log.Infof("%s", line)
		}
	}
	if !in.dump {
		return
	}
	in.dump = false
	w, h := view.Size()
	snap := p.Snapshot()
	aspect := float32(w) / float32(max(h, 1))
	vp := mgl32.Perspective(view.FovY, aspect, view.Near, p.Config().FarClip).Mul4(view.Camera.GetViewMatrix())
	img := overlay.Render(&snap, vp, w, h)

	name := fmt.Sprintf("drawpipe-frame-%d.png", s.Last.Frame)
	f, err := os.Create(name)
	if err != nil {
		log.Errorf("overlay dump: %v", err)
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		log.Errorf("overlay dump: %v", err)
		return
	}
	log.Infof("wrote %s", name)
}
