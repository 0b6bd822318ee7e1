package drawpipe

import (
	"context"

	"github.com/gekko3d/drawpipe/rt/pipeline"
	"github.com/gekko3d/drawpipe/rt/stream"

	"golang.org/x/time/rate"
)

// Streaming forwards the pipeline's mesh and texture requests to loader
// goroutines.
type Streaming struct {
	manager *stream.Manager
	loader  *stream.Loader
	cancel  context.CancelFunc
	backlog []stream.Notice
	closed  bool
}

// Backlog returns how many requests wait for room in the loader queue.
func (s *Streaming) Backlog() int { return len(s.backlog) }

// Close stops the loader workers. Requests made afterwards stay in the
// backlog.
func (s *Streaming) Close() {
	s.closed = true
	s.cancel()
	s.loader.Close()
}

// StreamingModule must be installed after PipelineModule.
type StreamingModule struct {
	Fetch   stream.FetchFunc
	Workers int
	// PerSecond caps fetch starts; zero means unlimited.
	PerSecond float64
	Burst     int
}

func (mod StreamingModule) Install(app *App, cmd *Commands) {
	p := Resource[pipeline.Pipeline](app)
	if p == nil {
		panic("streaming module: install PipelineModule first")
	}
	if mod.Fetch == nil {
		panic("streaming module: no fetch function")
	}
	var limiter *rate.Limiter
	if mod.PerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(mod.PerSecond), max(mod.Burst, 1))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Streaming{
		manager: p.Streams(),
		cancel:  cancel,
	}
	s.loader = stream.NewLoader(ctx, s.manager, mod.Fetch, mod.Workers, limiter)

	cmd.AddResources(s)
	cmd.UseSystem(System(streamingSystem).InStage(PostRender))
}

func streamingSystem(s *Streaming) {
	s.backlog = append(s.backlog, s.manager.TakeRequests()...)
	if s.closed {
		return
	}
	n := 0
	for _, req := range s.backlog {
		if !s.loader.Submit(req) {
			break
		}
		n++
	}
	s.backlog = s.backlog[n:]
}
