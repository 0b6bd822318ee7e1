// Package overlay renders a read-only debug view of a frame: counters,
// timings and markers for highlighted faces.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/gekko3d/drawpipe/rt/statesort"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type Counter struct {
	Name  string
	Value int
}

type Timing struct {
	Name     string
	Duration time.Duration
}

// Snapshot is a copy of frame state; holding one never blocks the pipeline.
type Snapshot struct {
	Frame       uint64
	Mode        string
	Counters    []Counter
	Timings     []Timing
	Highlighted []statesort.FaceInfo
}

// Lines formats the snapshot one entry per line.
func (s *Snapshot) Lines() []string {
	out := make([]string, 0, 2+len(s.Counters)+len(s.Timings))
	out = append(out, fmt.Sprintf("frame %d (%s)", s.Frame, s.Mode))
	for _, t := range s.Timings {
		out = append(out, fmt.Sprintf("%-12s %6.2f ms", t.Name, float64(t.Duration.Microseconds())/1000))
	}
	for _, c := range s.Counters {
		out = append(out, fmt.Sprintf("%-12s %d", c.Name, c.Value))
	}
	if n := len(s.Highlighted); n > 0 {
		out = append(out, fmt.Sprintf("%-12s %d", "highlighted", n))
	}
	return out
}

var (
	face       = basicfont.Face7x13
	background = color.RGBA{0, 0, 0, 160}
	foreground = color.RGBA{230, 230, 230, 255}
	marker     = color.RGBA{255, 200, 0, 255}
)

const pad = 4

// TextSize returns the pixel size DrawStats needs for lines.
func TextSize(lines []string) image.Point {
	w := 0
	for _, l := range lines {
		w = max(w, font.MeasureString(face, l).Ceil())
	}
	h := len(lines) * face.Metrics().Height.Ceil()
	return image.Pt(w+2*pad, h+2*pad)
}

// DrawStats draws lines over a translucent box with its top-left corner at
// at and returns the box.
func DrawStats(dst draw.Image, at image.Point, lines []string) image.Rectangle {
	box := image.Rectangle{Min: at, Max: at.Add(TextSize(lines))}.Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(background), image.Point{}, draw.Over)

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(foreground), Face: face}
	lh := face.Metrics().Height
	y := fixed.I(at.Y+pad) + face.Metrics().Ascent
	for _, l := range lines {
		d.Dot = fixed.Point26_6{X: fixed.I(at.X + pad), Y: y}
		d.DrawString(l)
		y += lh
	}
	return box
}

// Project maps highlighted face centers to pixel positions of a w x h
// viewport. Faces behind the camera or off screen are dropped.
func Project(faces []statesort.FaceInfo, viewProj mgl32.Mat4, w, h int) []image.Point {
	var out []image.Point
	for _, f := range faces {
		clip := viewProj.Mul4x1(f.Center.Vec4(1))
		if clip.W() <= 0 {
			continue
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		if ndc.X() < -1 || ndc.X() > 1 || ndc.Y() < -1 || ndc.Y() > 1 {
			continue
		}
		x := int((ndc.X()*0.5 + 0.5) * float32(w-1))
		y := int((0.5 - ndc.Y()*0.5) * float32(h-1))
		out = append(out, image.Pt(x, y))
	}
	return out
}

// Render draws the snapshot into a new w x h image: stats in the top-left
// corner and a cross at every highlighted face.
func Render(s *Snapshot, viewProj mgl32.Mat4, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for _, p := range Project(s.Highlighted, viewProj, w, h) {
		for d := -3; d <= 3; d++ {
			img.Set(p.X+d, p.Y, marker)
			img.Set(p.X, p.Y+d, marker)
		}
	}
	DrawStats(img, image.Pt(0, 0), s.Lines())
	return img
}
