package pool

import (
	"fmt"

	"github.com/gekko3d/drawpipe/rt/gpu"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
)

// Mode is the kind of pass a pool is rendered into.
type Mode int

const (
	ModeForward Mode = iota
	ModeGBuffer
	ModeShadow
	ModeReflection
)

func (m Mode) String() string {
	switch m {
	case ModeGBuffer:
		return "gbuffer"
	case ModeShadow:
		return "shadow"
	case ModeReflection:
		return "reflection"
	}
	return "forward"
}

// PassContext carries the targets of the pass being dispatched.
type PassContext struct {
	Dev      gpu.Device
	Mode     Mode
	Color    []gpu.Target
	Depth    gpu.Target
	Load     gpu.LoadOp
	Layer    int
	ViewProj mgl32.Mat4
	// Filter, when set, drops faces from the pass (shadow cascades).
	Filter func(f *scene.Face) bool
}

// DrawPool collects faces of one family for a frame and draws them.
type DrawPool interface {
	scene.PoolRef

	Type() Type
	TextureKey() uint64
	NumPasses() int

	PreRender(ctx *PassContext)
	BeginPass(pass int, ctx *PassContext) error
	Render(pass int, ctx *PassContext)
	EndPass(pass int, ctx *PassContext)

	// AddFace assigns the face to this pool and queues it for this frame.
	AddFace(f *scene.Face)
	// Queue adds the face to this frame's draws without assigning it.
	Queue(f *scene.Face)
	Empty() bool
	Pending() []*scene.Face
	ResetPending()
}

// FacePool is the DrawPool used for every family. Families differ only in
// their pass setup.
type FacePool struct {
	typ     Type
	texture uint64

	faces   map[*scene.Face]struct{}
	pending []*scene.Face
	drawn   int
}

func NewFacePool(key Key) *FacePool {
	return &FacePool{
		typ:     key.Type,
		texture: key.Texture,
		faces:   make(map[*scene.Face]struct{}),
	}
}

func (p *FacePool) Type() Type         { return p.typ }
func (p *FacePool) TextureKey() uint64 { return p.texture }
func (p *FacePool) NumPasses() int     { return p.typ.Passes() }
func (p *FacePool) Key() Key           { return Key{Type: p.typ, Texture: p.texture} }

// Drawn counts faces drawn since the last ResetPending.
func (p *FacePool) Drawn() int { return p.drawn }

func (p *FacePool) PreRender(ctx *PassContext) {
	p.drawn = 0
}

func (p *FacePool) passName(pass int, mode Mode) string {
	name := p.typ.String()
	if p.typ.Passes() > 1 {
		name = fmt.Sprintf("%s/%d", name, pass)
	}
	if mode != ModeForward {
		name = mode.String() + ":" + name
	}
	return name
}

func (p *FacePool) BeginPass(pass int, ctx *PassContext) error {
	desc := gpu.PassDesc{
		Name:       p.passName(pass, ctx.Mode),
		Color:      ctx.Color,
		Depth:      ctx.Depth,
		Load:       ctx.Load,
		Layer:      ctx.Layer,
		ViewProj:   ctx.ViewProj,
		DepthWrite: p.typ.Opaque() || p.typ == Sky,
		Blend:      p.typ == Alpha || p.typ == Glow || p.typ == Water || p.typ == HUD,
	}
	if ctx.Mode == ModeShadow {
		desc.Color = nil
		desc.DepthWrite = true
		desc.Blend = false
	}
	return ctx.Dev.BeginPass(desc)
}

func (p *FacePool) Render(pass int, ctx *PassContext) {
	name := p.typ.String()
	for _, f := range p.pending {
		if !f.Ready() || (ctx.Filter != nil && !ctx.Filter(f)) {
			continue
		}
		ctx.Dev.Draw(gpu.DrawCall{
			Pool:        name,
			TextureKey:  f.TextureKey(),
			IndexOffset: f.IndexOffset,
			IndexCount:  f.IndexCount,
			BaseVertex:  f.VertexOffset,
			Model:       mgl32.Ident4(),
		})
		p.drawn++
	}
}

func (p *FacePool) EndPass(pass int, ctx *PassContext) {
	ctx.Dev.EndPass()
}

func (p *FacePool) AddFace(f *scene.Face) {
	if f.Pool != nil && f.Pool != scene.PoolRef(p) {
		f.Pool.RemoveFace(f)
	}
	f.Pool = p
	p.faces[f] = struct{}{}
	p.pending = append(p.pending, f)
}

func (p *FacePool) Queue(f *scene.Face) {
	p.pending = append(p.pending, f)
}

// RemoveFace unassigns the face and drops it from this frame's queue.
func (p *FacePool) RemoveFace(f *scene.Face) {
	delete(p.faces, f)
	if f.Pool == scene.PoolRef(p) {
		f.Pool = nil
	}
	for i := 0; i < len(p.pending); {
		if p.pending[i] == f {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			continue
		}
		i++
	}
}

func (p *FacePool) Empty() bool { return len(p.faces) == 0 && len(p.pending) == 0 }

func (p *FacePool) Pending() []*scene.Face { return p.pending }

// Assigned counts faces whose pool is this one.
func (p *FacePool) Assigned() int { return len(p.faces) }

func (p *FacePool) ResetPending() {
	clear(p.pending)
	p.pending = p.pending[:0]
}

var _ DrawPool = (*FacePool)(nil)
